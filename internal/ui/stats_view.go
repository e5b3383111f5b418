package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"github.com/polywatch/engine/internal/metrics"
)

// StatsView displays aggregate statistics and rankings.
type StatsView struct {
	text *tview.TextView
}

// NewStatsView creates the stats panel.
func NewStatsView() *StatsView {
	text := tview.NewTextView().SetDynamicColors(true)
	text.SetTitle(" Stats ").SetBorder(true)
	return &StatsView{text: text}
}

// Widget returns the tview primitive.
func (v *StatsView) Widget() tview.Primitive {
	return v.text
}

// Update redraws the panel from the latest aggregation results.
func (v *StatsView) Update(stats metrics.AggregateStats, traders []metrics.TraderRank, markets []metrics.MarketRank) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Volume  [green]$%.0f[-]  buy $%.0f / sell $%.0f\n",
		stats.TotalVolume, stats.BuyVolume, stats.SellVolume)
	fmt.Fprintf(&sb, "Trades  %d  avg $%.0f  largest [yellow]$%.0f[-]  whales %d\n\n",
		stats.TradeCount, stats.AvgTradeUSD, stats.LargestUSD, stats.WhaleCount)

	sb.WriteString("[::b]Top traders[-:-:-]\n")
	for i, r := range traders {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&sb, "  %-14s $%.0f (%d)\n", truncate(r.Wallet, 12), r.VolumeUSD, r.Trades)
	}

	sb.WriteString("\n[::b]Top markets[-:-:-]\n")
	for i, r := range markets {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&sb, "  %-30s $%.0f\n", truncate(r.Slug, 28), r.VolumeUSD)
	}

	v.text.SetText(sb.String())
}
