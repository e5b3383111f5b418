package ui

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/polywatch/engine/internal/store"
)

var feedHeaders = []string{"Time", "Market", "Token", "Side", "Price", "Shares", "Value", "Wallet"}

// FeedView displays the materialized trade feed.
type FeedView struct {
	table *tview.Table
}

// NewFeedView creates the live feed table.
func NewFeedView() *FeedView {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0)

	table.SetTitle(" Live Trades ").SetBorder(true)

	v := &FeedView{table: table}
	v.setHeader()
	return v
}

// Widget returns the tview primitive.
func (v *FeedView) Widget() tview.Primitive {
	return v.table
}

// Update redraws the table from the materialized view.
func (v *FeedView) Update(trades []store.Trade) {
	v.table.Clear()
	v.setHeader()

	for row, t := range trades {
		cells := []string{
			t.Time().Format("15:04:05"),
			truncate(t.Title, 40),
			t.Outcome,
			t.Side,
			fmt.Sprintf("%.2f", t.Price),
			fmt.Sprintf("%.1f", t.Shares),
			fmt.Sprintf("$%.0f", t.ValueUSD()),
			truncate(t.Wallet, 12),
		}
		for col, text := range cells {
			cell := tview.NewTableCell(text).SetAlign(tview.AlignLeft)
			if t.IsMega() {
				cell.SetTextColor(tview.Styles.TertiaryTextColor)
			} else if t.IsWhale() {
				cell.SetTextColor(tview.Styles.SecondaryTextColor)
			}
			v.table.SetCell(row+1, col, cell)
		}
	}
}

func (v *FeedView) setHeader() {
	for col, header := range feedHeaders {
		cell := tview.NewTableCell(header).
			SetTextColor(tview.Styles.SecondaryTextColor).
			SetAlign(tview.AlignLeft).
			SetSelectable(false)
		v.table.SetCell(0, col, cell)
	}
}

// truncate shortens a string for display.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-1] + "…"
}
