// Package detector maintains rolling per-wallet activity profiles and
// evaluates heuristic anomaly signals against them.
package detector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/polywatch/engine/internal/store"
)

// Tracker retention defaults.
const (
	// DefaultProfileTTL evicts profiles not updated within this window.
	DefaultProfileTTL = 6 * time.Hour
	// DefaultMaxHistory caps the per-wallet trade history.
	DefaultMaxHistory = 200
)

// Profile is the rolling activity profile for a single wallet.
type Profile struct {
	// Wallet is the profile key (lowercased address)
	Wallet string

	// FirstSeen is the unix timestamp of the wallet's first observed trade
	FirstSeen int64

	// Trades is the wallet's trade history, oldest first, bounded
	Trades []store.Trade

	// TradeCount is the total number of recorded trades, unaffected by
	// history trimming
	TradeCount int

	// VolumeUSD is the cumulative notional volume
	VolumeUSD float64

	// AvgTradeUSD is the rolling average trade size
	AvgTradeUSD float64

	// MarketEntries counts recorded entries per market slug
	MarketEntries map[string]int

	// LastUpdate drives TTL eviction
	LastUpdate time.Time
}

// WalletTracker owns the wallet profile map. Profiles are created lazily on
// a wallet's first trade and evicted when untouched past the TTL.
type WalletTracker struct {
	mu         sync.RWMutex
	profiles   map[string]*Profile
	maxHistory int
	ttl        time.Duration
}

// NewWalletTracker creates a tracker with the given bounds. Non-positive
// values fall back to the defaults.
func NewWalletTracker(maxHistory int, ttl time.Duration) *WalletTracker {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	if ttl <= 0 {
		ttl = DefaultProfileTTL
	}
	return &WalletTracker{
		profiles:   make(map[string]*Profile),
		maxHistory: maxHistory,
		ttl:        ttl,
	}
}

// Record updates or creates the profile for the trade's wallet: appends to
// history, accumulates volume, recomputes the average trade size and bumps
// the per-market entry counter.
func (w *WalletTracker) Record(t store.Trade) {
	if t.Wallet == "" {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	p, ok := w.profiles[t.Wallet]
	if !ok {
		p = &Profile{
			Wallet:        t.Wallet,
			FirstSeen:     t.Timestamp,
			MarketEntries: make(map[string]int),
		}
		w.profiles[t.Wallet] = p
	}

	p.Trades = append(p.Trades, t)
	if len(p.Trades) > w.maxHistory {
		p.Trades = p.Trades[len(p.Trades)-w.maxHistory:]
	}

	p.TradeCount++
	p.VolumeUSD += t.ValueUSD()
	p.AvgTradeUSD = p.VolumeUSD / float64(p.TradeCount)
	if t.Slug != "" {
		p.MarketEntries[t.Slug]++
	}
	p.LastUpdate = time.Now()
}

// Profile returns a copy of the wallet's profile, if one exists.
func (w *WalletTracker) Profile(wallet string) (Profile, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	p, ok := w.profiles[wallet]
	if !ok {
		return Profile{}, false
	}

	cp := *p
	cp.Trades = append([]store.Trade{}, p.Trades...)
	cp.MarketEntries = make(map[string]int, len(p.MarketEntries))
	for k, v := range p.MarketEntries {
		cp.MarketEntries[k] = v
	}
	return cp, true
}

// Len returns the number of tracked profiles.
func (w *WalletTracker) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.profiles)
}

// Cleanup evicts profiles not updated within the TTL and returns the
// eviction count. Call periodically to bound memory growth.
func (w *WalletTracker) Cleanup() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := time.Now().Add(-w.ttl)
	evicted := 0
	for wallet, p := range w.profiles {
		if p.LastUpdate.Before(cutoff) {
			delete(w.profiles, wallet)
			evicted++
		}
	}
	return evicted
}

// Run triggers Cleanup on the given interval until the context is done.
func (w *WalletTracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := w.Cleanup(); n > 0 {
				slog.Debug("wallet_profiles_evicted", "count", n)
			}
		}
	}
}
