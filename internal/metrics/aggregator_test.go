package metrics

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polywatch/engine/internal/store"
)

func statTrade(wallet, slug, side string, notional float64) store.Trade {
	return store.Trade{
		OrderHash: fmt.Sprintf("%s-%s-%f", wallet, slug, notional),
		Wallet:    wallet,
		Slug:      slug,
		Side:      side,
		Price:     0.5,
		Shares:    notional * 2,
	}
}

func TestComputeStats(t *testing.T) {
	trades := []store.Trade{
		statTrade("0xa", "m1", store.SideBuy, 100),
		statTrade("0xb", "m1", store.SideSell, 2000),
		statTrade("0xc", "m2", store.SideBuy, 400),
	}

	stats := ComputeStats(trades)

	assert.InDelta(t, 2500, stats.TotalVolume, 1e-6)
	assert.InDelta(t, 500, stats.BuyVolume, 1e-6)
	assert.InDelta(t, 2000, stats.SellVolume, 1e-6)
	assert.Equal(t, 3, stats.TradeCount)
	assert.InDelta(t, 2500.0/3, stats.AvgTradeUSD, 1e-6)
	assert.InDelta(t, 2000, stats.LargestUSD, 1e-6)
	assert.Equal(t, 1, stats.WhaleCount)
}

func TestComputeStatsEmpty(t *testing.T) {
	stats := ComputeStats(nil)
	assert.Zero(t, stats.TotalVolume)
	assert.Zero(t, stats.TradeCount)
	assert.Zero(t, stats.AvgTradeUSD)
}

func TestRankTraders(t *testing.T) {
	var trades []store.Trade
	for i := 0; i < 15; i++ {
		wallet := fmt.Sprintf("0x%02d", i)
		trades = append(trades, statTrade(wallet, "m", store.SideBuy, float64(100*(i+1))))
	}

	ranks := RankTraders(trades)
	require.Len(t, ranks, TopN)

	// Volume descending.
	assert.Equal(t, "0x14", ranks[0].Wallet)
	for i := 1; i < len(ranks); i++ {
		assert.GreaterOrEqual(t, ranks[i-1].VolumeUSD, ranks[i].VolumeUSD)
	}
}

func TestRankMarketsAggregates(t *testing.T) {
	trades := []store.Trade{
		statTrade("0xa", "hot-market", store.SideBuy, 300),
		statTrade("0xb", "hot-market", store.SideSell, 300),
		statTrade("0xc", "cold-market", store.SideBuy, 100),
	}

	ranks := RankMarkets(trades)
	require.Len(t, ranks, 2)
	assert.Equal(t, "hot-market", ranks[0].Slug)
	assert.InDelta(t, 600, ranks[0].VolumeUSD, 1e-6)
	assert.Equal(t, 2, ranks[0].Trades)
}

func TestAggregatorRecompute(t *testing.T) {
	log := store.NewLog(100, 100)
	log.Merge([]store.Trade{statTrade("0xa", "m1", store.SideBuy, 500)})

	agg := NewAggregator(log)
	agg.Recompute()

	stats := agg.Stats()
	assert.Equal(t, 1, stats.TradeCount)
	assert.InDelta(t, 500, stats.TotalVolume, 1e-6)

	// Within the throttle interval, results stay as-is.
	log.Merge([]store.Trade{statTrade("0xb", "m1", store.SideBuy, 700)})
	agg.Recompute()
	assert.Equal(t, 1, agg.Stats().TradeCount)
}
