// Package view materializes the bounded, filtered trade sequence for
// display and exports it.
package view

import (
	"strings"

	"github.com/polywatch/engine/internal/store"
)

// DefaultLimit bounds the materialized view.
const DefaultLimit = 100

// FilterState is the active predicate configuration. It is a plain value;
// the view is recomputed whole on every change.
type FilterState struct {
	// Side filters by trade side ("buy"/"sell", case-insensitive)
	Side string

	// MinVolume drops trades below this notional
	MinVolume float64

	// WhalesOnly sources the view from the whale buffer instead of the
	// canonical log, so whale history outlives the log's tighter bound
	WhalesOnly bool

	// TokenSide filters by outcome label ("yes"/"no", case-insensitive)
	TokenSide string

	// Market filters by exact market slug
	Market string

	// Search is a case-insensitive substring over title, wallet and slug
	Search string

	// HideNoise hides markets whose outcome is literally up/down
	HideNoise bool

	// TrackedOnly keeps only trades from tracked wallets. With an empty
	// tracked set it yields an empty view: showing an unfiltered feed
	// when the user believes it is scoped would be worse.
	TrackedOnly bool

	// SignalOnly keeps only trades whose detected signals intersect
	// EnabledSignals
	SignalOnly     bool
	EnabledSignals map[string]bool
}

// DetectFunc evaluates a trade's anomaly signals for the signal-only filter.
type DetectFunc func(store.Trade) []store.Signal

// Source supplies the canonical log and whale buffer snapshots.
// Satisfied by store.Log.
type Source interface {
	Snapshot() []store.Trade
	Whales() []store.Trade
}

// Materialize applies the filter predicate set over the selected source
// buffer and returns the bounded ordered sequence to display. Predicates
// short-circuit on first failure; the signal check runs last because it is
// the only one that needs the detector.
func Materialize(src Source, f FilterState, tracked map[string]struct{}, detect DetectFunc, limit int) []store.Trade {
	if limit <= 0 {
		limit = DefaultLimit
	}

	var source []store.Trade
	if f.WhalesOnly {
		source = src.Whales()
	} else {
		source = src.Snapshot()
	}

	out := make([]store.Trade, 0, min(limit, len(source)))
	for _, t := range source {
		if !matches(t, f, tracked, detect) {
			continue
		}
		out = append(out, t)
		if len(out) == limit {
			break
		}
	}
	return out
}

// matches applies the predicate chain to one trade.
func matches(t store.Trade, f FilterState, tracked map[string]struct{}, detect DetectFunc) bool {
	if f.Side != "" && !strings.EqualFold(t.Side, f.Side) {
		return false
	}

	if t.ValueUSD() < f.MinVolume {
		return false
	}

	if f.TokenSide != "" && !strings.EqualFold(t.Outcome, f.TokenSide) {
		return false
	}

	if f.Market != "" && t.Slug != f.Market {
		return false
	}

	if f.HideNoise && isNoiseMarket(t) {
		return false
	}

	if f.Search != "" && !matchesSearch(t, f.Search) {
		return false
	}

	if f.TrackedOnly {
		if len(tracked) == 0 {
			return false
		}
		if _, ok := tracked[strings.ToLower(t.Wallet)]; !ok {
			return false
		}
	}

	if f.SignalOnly {
		if detect == nil {
			return false
		}
		hit := false
		for _, sig := range detect(t) {
			if f.EnabledSignals[sig.Type] {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}

	return true
}

// isNoiseMarket flags price-direction markets whose outcome is literally
// up or down.
func isNoiseMarket(t store.Trade) bool {
	outcome := strings.ToLower(strings.TrimSpace(t.Outcome))
	if outcome == "up" || outcome == "down" {
		return true
	}
	return strings.Contains(strings.ToLower(t.Title), "up or down")
}

// matchesSearch does a case-insensitive substring match over title, wallet
// and slug.
func matchesSearch(t store.Trade, search string) bool {
	needle := strings.ToLower(search)
	return strings.Contains(strings.ToLower(t.Title), needle) ||
		strings.Contains(strings.ToLower(t.Wallet), needle) ||
		strings.Contains(strings.ToLower(t.Slug), needle)
}
