package view

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polywatch/engine/internal/store"
)

func viewTrade(id, wallet, slug, side string, notional float64) store.Trade {
	return store.Trade{
		OrderHash: "order-" + id,
		Wallet:    wallet,
		Slug:      slug,
		Side:      side,
		Outcome:   "Yes",
		Title:     "Market " + slug,
		Price:     0.5,
		Shares:    notional * 2,
		Timestamp: 1700000000,
	}
}

func TestMaterializeSideAndVolumeFilter(t *testing.T) {
	log := store.NewLog(100, 100)
	small := viewTrade("small", "0xa", "m1", store.SideBuy, 50)
	big := viewTrade("big", "0xb", "m1", store.SideSell, 2000)
	log.Merge([]store.Trade{small, big})

	got := Materialize(log, FilterState{Side: "sell", MinVolume: 1000}, nil, nil, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "order-big", got[0].Identity())
}

func TestMaterializeWhalesOnlyUsesWhaleBuffer(t *testing.T) {
	log := store.NewLog(100, 100)
	small := viewTrade("small", "0xa", "m1", store.SideBuy, 50)
	whale := viewTrade("whale", "0xb", "m1", store.SideSell, 2000)

	// Whale retained in the whale buffer; the canonical log then loses it
	// to truncation churn, but the whale view must still show it.
	log.AddWhale(whale)
	log.Merge([]store.Trade{small})

	got := Materialize(log, FilterState{WhalesOnly: true}, nil, nil, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "order-whale", got[0].Identity())
}

func TestMaterializeWhaleBufferOutlivesLogBound(t *testing.T) {
	log := store.NewLog(2, 100)
	whale := viewTrade("whale", "0xw", "m1", store.SideBuy, 5000)
	log.AddWhale(whale)
	log.Merge([]store.Trade{whale})
	log.Merge([]store.Trade{
		viewTrade("n1", "0xa", "m1", store.SideBuy, 10),
		viewTrade("n2", "0xb", "m1", store.SideBuy, 10),
	})

	// Evicted from the canonical log...
	assert.Empty(t, Materialize(log, FilterState{MinVolume: 1000}, nil, nil, 0))
	// ...but still present in the whale view.
	assert.Len(t, Materialize(log, FilterState{WhalesOnly: true}, nil, nil, 0), 1)
}

func TestMaterializeTokenSideFilter(t *testing.T) {
	log := store.NewLog(100, 100)
	yes := viewTrade("yes", "0xa", "m1", store.SideBuy, 100)
	no := viewTrade("no", "0xb", "m1", store.SideBuy, 100)
	no.Outcome = "No"
	log.Merge([]store.Trade{yes, no})

	got := Materialize(log, FilterState{TokenSide: "no"}, nil, nil, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "order-no", got[0].Identity())
}

func TestMaterializeMarketAndSearchFilters(t *testing.T) {
	log := store.NewLog(100, 100)
	log.Merge([]store.Trade{
		viewTrade("a", "0xalice", "rain-market", store.SideBuy, 100),
		viewTrade("b", "0xbob", "snow-market", store.SideBuy, 100),
	})

	got := Materialize(log, FilterState{Market: "rain-market"}, nil, nil, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "order-a", got[0].Identity())

	got = Materialize(log, FilterState{Search: "BOB"}, nil, nil, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "order-b", got[0].Identity())

	got = Materialize(log, FilterState{Search: "snow"}, nil, nil, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "order-b", got[0].Identity())
}

func TestMaterializeHideNoiseMarkets(t *testing.T) {
	log := store.NewLog(100, 100)
	noise := viewTrade("noise", "0xa", "btc-up-or-down", store.SideBuy, 100)
	noise.Outcome = "Up"
	real := viewTrade("real", "0xb", "election", store.SideBuy, 100)
	log.Merge([]store.Trade{noise, real})

	got := Materialize(log, FilterState{HideNoise: true}, nil, nil, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "order-real", got[0].Identity())
}

func TestMaterializeTrackedOnly(t *testing.T) {
	log := store.NewLog(100, 100)
	log.Merge([]store.Trade{
		viewTrade("a", "0xalice", "m1", store.SideBuy, 100),
		viewTrade("b", "0xbob", "m1", store.SideBuy, 100),
	})

	// Empty tracked set yields an empty view, not an unfiltered feed.
	got := Materialize(log, FilterState{TrackedOnly: true}, nil, nil, 0)
	assert.Empty(t, got)

	tracked := map[string]struct{}{"0xalice": {}}
	got = Materialize(log, FilterState{TrackedOnly: true}, tracked, nil, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "order-a", got[0].Identity())
}

func TestMaterializeSignalOnly(t *testing.T) {
	log := store.NewLog(100, 100)
	flagged := viewTrade("flagged", "0xsus", "m1", store.SideBuy, 100)
	clean := viewTrade("clean", "0xok", "m1", store.SideBuy, 100)
	log.Merge([]store.Trade{flagged, clean})

	detect := func(t store.Trade) []store.Signal {
		if t.Wallet == "0xsus" {
			return []store.Signal{{Type: store.SignalFreshWallet, Detail: "wallet age 1h"}}
		}
		return nil
	}

	f := FilterState{
		SignalOnly:     true,
		EnabledSignals: map[string]bool{store.SignalFreshWallet: true},
	}
	got := Materialize(log, f, nil, detect, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "order-flagged", got[0].Identity())

	// Signal fired but not in the enabled set: filtered out.
	f.EnabledSignals = map[string]bool{store.SignalRapidClustering: true}
	assert.Empty(t, Materialize(log, f, nil, detect, 0))
}

func TestMaterializeLimit(t *testing.T) {
	log := store.NewLog(100, 100)
	var batch []store.Trade
	for i := 0; i < 50; i++ {
		batch = append(batch, viewTrade(string(rune('a'+i)), "0xa", "m1", store.SideBuy, 100))
	}
	log.Merge(batch)

	got := Materialize(log, FilterState{}, nil, nil, 10)
	assert.Len(t, got, 10)
}
