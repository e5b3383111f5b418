package detector

import (
	"fmt"
	"time"

	"github.com/polywatch/engine/internal/store"
)

// Detection thresholds. Signals are advisory heuristics, not correctness
// guarantees; false positives and negatives are acceptable.
const (
	// FreshWalletMaxAge is the wallet age below which a sizable trade is
	// flagged as a fresh wallet.
	FreshWalletMaxAge = 24 * time.Hour
	// FreshWalletMinUSD is the minimum notional for a fresh-wallet flag.
	FreshWalletMinUSD = 500
	// SizingMultiple flags trades larger than this multiple of the
	// wallet's average trade size.
	SizingMultiple = 3.0
	// RepeatedEntryCount flags a wallet with at least this many prior
	// entries into the same market.
	RepeatedEntryCount = 3
	// ClusterCount and ClusterWindow flag a wallet trading this often in
	// the trailing window, current trade included.
	ClusterCount  = 3
	ClusterWindow = 30 * time.Minute
)

// Detect evaluates a trade against its wallet's current profile and returns
// zero or more anomaly signals. The profile is expected to already include
// the trade (the tracker records before detection runs); the trade's own
// contribution is subtracted where the rule is about prior activity.
//
// A zero-value profile (wallet not yet tracked) yields no signals. Detect
// never panics on partial data.
func Detect(t store.Trade, p Profile, ok bool) []store.Signal {
	if !ok || p.TradeCount == 0 {
		return nil
	}

	var signals []store.Signal
	notional := t.ValueUSD()

	// Fresh wallet: young wallet making a sizable trade.
	age := time.Duration(t.Timestamp-p.FirstSeen) * time.Second
	if age >= 0 && age < FreshWalletMaxAge && notional >= FreshWalletMinUSD {
		signals = append(signals, store.Signal{
			Type:   store.SignalFreshWallet,
			Detail: fmt.Sprintf("wallet age %s", formatAge(age)),
		})
	}

	// Unusual sizing: trade far above the wallet's prior average.
	if p.TradeCount > 1 {
		priorAvg := (p.VolumeUSD - notional) / float64(p.TradeCount-1)
		if priorAvg > 0 && notional > SizingMultiple*priorAvg {
			signals = append(signals, store.Signal{
				Type:   store.SignalUnusualSizing,
				Detail: fmt.Sprintf("%.1fx avg size", notional/priorAvg),
			})
		}
	}

	// Repeated entries: wallet keeps re-entering the same market.
	if t.Slug != "" {
		prior := p.MarketEntries[t.Slug] - 1
		if prior >= RepeatedEntryCount {
			signals = append(signals, store.Signal{
				Type:   store.SignalRepeatedEntries,
				Detail: fmt.Sprintf("%d entries in market", prior+1),
			})
		}
	}

	// Rapid clustering: burst of trades in the trailing window.
	cutoff := t.Timestamp - int64(ClusterWindow/time.Second)
	recent := 0
	for _, prev := range p.Trades {
		if prev.Timestamp >= cutoff && prev.Timestamp <= t.Timestamp {
			recent++
		}
	}
	if recent >= ClusterCount {
		signals = append(signals, store.Signal{
			Type:   store.SignalRapidClustering,
			Detail: fmt.Sprintf("%d trades in %dm", recent, int(ClusterWindow.Minutes())),
		})
	}

	return signals
}

// formatAge renders a wallet age as a compact hours/minutes string.
func formatAge(age time.Duration) string {
	if age < time.Hour {
		return fmt.Sprintf("%dm", int(age.Minutes()))
	}
	return fmt.Sprintf("%dh", int(age.Hours()))
}
