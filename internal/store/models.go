// Package store provides the trade data model and the in-memory trade log.
package store

import (
	"fmt"
	"time"
)

// Whale classification thresholds in USD notional.
const (
	WhaleValueUSD = 1000
	MegaValueUSD  = 10000
)

// Trade sides as delivered by the feed.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Trade represents a single executed trade from the live feed.
// A Trade is immutable once ingested, except that a missing display
// image may be attached later by the metadata enricher.
type Trade struct {
	// TokenID is the outcome token identifier
	TokenID string

	// Outcome is the human-readable outcome label (YES/NO or similar)
	Outcome string

	// Side is BUY or SELL
	Side string

	// Slug is the market slug
	Slug string

	// ConditionID is the market condition identifier
	ConditionID string

	// Size is the raw share quantity as received (string preserves precision)
	Size string

	// Shares is the normalized share quantity
	Shares float64

	// Price is the execution price (0-1 range for prediction markets)
	Price float64

	// TxHash is the on-chain transaction hash
	TxHash string

	// OrderHash is the order hash, may be empty
	OrderHash string

	// Title is the market title
	Title string

	// Wallet is the trade's principal wallet address
	Wallet string

	// Taker is the counterparty address (may be empty)
	Taker string

	// Timestamp is the execution time in unix seconds
	Timestamp int64

	// Image is the resolved market image URL (may be empty until enriched)
	Image string
}

// Identity returns the stable dedup key for the trade: the order hash when
// present, otherwise a composite of tx hash, timestamp and token id.
func (t Trade) Identity() string {
	if t.OrderHash != "" {
		return t.OrderHash
	}
	return fmt.Sprintf("tx:%s:%d:%s", t.TxHash, t.Timestamp, t.TokenID)
}

// ValueUSD is the notional value of the trade (price times normalized shares).
func (t Trade) ValueUSD() float64 {
	return t.Price * t.Shares
}

// IsWhale reports whether the trade's notional crosses the whale threshold.
func (t Trade) IsWhale() bool {
	return t.ValueUSD() >= WhaleValueUSD
}

// IsMega reports whether the trade's notional crosses the mega-whale threshold.
func (t Trade) IsMega() bool {
	return t.ValueUSD() >= MegaValueUSD
}

// Time returns the trade timestamp as a time.Time.
func (t Trade) Time() time.Time {
	return time.Unix(t.Timestamp, 0)
}

// Signal types emitted by the anomaly detector.
const (
	SignalFreshWallet     = "fresh_wallet"
	SignalUnusualSizing   = "unusual_sizing"
	SignalRepeatedEntries = "repeated_entries"
	SignalRapidClustering = "rapid_clustering"
)

// Signal is a heuristic anomaly tag attached to a trade based on its
// wallet's rolling activity profile. Signals are advisory and are computed
// on demand, never persisted.
type Signal struct {
	Type   string
	Detail string
}

// Alert represents a whale notification to be dispatched.
type Alert struct {
	ID       string
	TradeIDs []string
	Wallet   string
	Summary  string
	ValueUSD float64
	Mega     bool
	SentAt   time.Time
	Success  bool
}
