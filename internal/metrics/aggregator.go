// Package metrics recomputes rolling statistics over the canonical trade
// log on a throttle.
package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/polywatch/engine/internal/store"
)

// Recompute throttles. Aggregates may lag the log by up to one interval,
// acceptable for a human-facing dashboard; this avoids an O(n) recompute
// per trade during bursts.
const (
	// StatsInterval throttles AggregateStats recomputation.
	StatsInterval = 500 * time.Millisecond
	// RankInterval throttles the heavier trader/market rankings.
	RankInterval = 1 * time.Second
	// TopN caps the ranking lists.
	TopN = 10
)

// AggregateStats is a point-in-time rollup of the canonical log.
// Always recomputed whole, never incrementally patched.
type AggregateStats struct {
	TotalVolume float64
	BuyVolume   float64
	SellVolume  float64
	TradeCount  int
	AvgTradeUSD float64
	LargestUSD  float64
	WhaleCount  int
}

// TraderRank is one entry of the top-traders ranking.
type TraderRank struct {
	Wallet    string
	VolumeUSD float64
	Trades    int
}

// MarketRank is one entry of the per-market volume ranking.
type MarketRank struct {
	Slug      string
	Title     string
	VolumeUSD float64
	Trades    int
}

// ComputeStats rolls up aggregate statistics from a trade set. Empty input
// yields zero stats, never an error.
func ComputeStats(trades []store.Trade) AggregateStats {
	var stats AggregateStats

	for _, t := range trades {
		v := t.ValueUSD()
		stats.TotalVolume += v
		switch t.Side {
		case store.SideBuy:
			stats.BuyVolume += v
		case store.SideSell:
			stats.SellVolume += v
		}
		if v > stats.LargestUSD {
			stats.LargestUSD = v
		}
		if t.IsWhale() {
			stats.WhaleCount++
		}
	}

	stats.TradeCount = len(trades)
	if stats.TradeCount > 0 {
		stats.AvgTradeUSD = stats.TotalVolume / float64(stats.TradeCount)
	}
	return stats
}

// RankTraders returns the top traders by volume, descending, capped at TopN.
func RankTraders(trades []store.Trade) []TraderRank {
	byWallet := make(map[string]*TraderRank)
	for _, t := range trades {
		if t.Wallet == "" {
			continue
		}
		r, ok := byWallet[t.Wallet]
		if !ok {
			r = &TraderRank{Wallet: t.Wallet}
			byWallet[t.Wallet] = r
		}
		r.VolumeUSD += t.ValueUSD()
		r.Trades++
	}

	ranks := make([]TraderRank, 0, len(byWallet))
	for _, r := range byWallet {
		ranks = append(ranks, *r)
	}
	sort.Slice(ranks, func(i, j int) bool { return ranks[i].VolumeUSD > ranks[j].VolumeUSD })
	if len(ranks) > TopN {
		ranks = ranks[:TopN]
	}
	return ranks
}

// RankMarkets returns per-market volumes by volume descending, capped at TopN.
func RankMarkets(trades []store.Trade) []MarketRank {
	bySlug := make(map[string]*MarketRank)
	for _, t := range trades {
		if t.Slug == "" {
			continue
		}
		r, ok := bySlug[t.Slug]
		if !ok {
			r = &MarketRank{Slug: t.Slug, Title: t.Title}
			bySlug[t.Slug] = r
		}
		r.VolumeUSD += t.ValueUSD()
		r.Trades++
	}

	ranks := make([]MarketRank, 0, len(bySlug))
	for _, r := range bySlug {
		ranks = append(ranks, *r)
	}
	sort.Slice(ranks, func(i, j int) bool { return ranks[i].VolumeUSD > ranks[j].VolumeUSD })
	if len(ranks) > TopN {
		ranks = ranks[:TopN]
	}
	return ranks
}

// Aggregator throttles recomputation of stats and rankings over log
// snapshots and serves the latest results to readers.
type Aggregator struct {
	log *store.Log

	mu         sync.RWMutex
	stats      AggregateStats
	topTraders []TraderRank
	topMarkets []MarketRank
	lastStats  time.Time
	lastRanks  time.Time
}

// NewAggregator creates an aggregator over the given log.
func NewAggregator(log *store.Log) *Aggregator {
	return &Aggregator{log: log}
}

// Recompute refreshes whichever results are past their throttle interval.
func (a *Aggregator) Recompute() {
	now := time.Now()

	a.mu.Lock()
	doStats := now.Sub(a.lastStats) >= StatsInterval
	doRanks := now.Sub(a.lastRanks) >= RankInterval
	a.mu.Unlock()

	if !doStats && !doRanks {
		return
	}

	trades := a.log.Snapshot()

	a.mu.Lock()
	defer a.mu.Unlock()
	if doStats {
		a.stats = ComputeStats(trades)
		a.lastStats = now
	}
	if doRanks {
		a.topTraders = RankTraders(trades)
		a.topMarkets = RankMarkets(trades)
		a.lastRanks = now
	}
}

// Stats returns the latest aggregate statistics.
func (a *Aggregator) Stats() AggregateStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stats
}

// TopTraders returns the latest top-trader ranking.
func (a *Aggregator) TopTraders() []TraderRank {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]TraderRank{}, a.topTraders...)
}

// TopMarkets returns the latest per-market volume ranking.
func (a *Aggregator) TopMarkets() []MarketRank {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]MarketRank{}, a.topMarkets...)
}

// Run recomputes on the stats tick until the context is done.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Recompute()
		}
	}
}
