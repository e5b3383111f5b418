package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"github.com/polywatch/engine/internal/store"
)

// AlertsView displays recent whale alerts.
type AlertsView struct {
	text *tview.TextView
}

// NewAlertsView creates the alerts panel.
func NewAlertsView() *AlertsView {
	text := tview.NewTextView().SetDynamicColors(true)
	text.SetTitle(" Whale Alerts ").SetBorder(true)
	return &AlertsView{text: text}
}

// Widget returns the tview primitive.
func (v *AlertsView) Widget() tview.Primitive {
	return v.text
}

// Update redraws the panel from the latest alerts, newest first.
func (v *AlertsView) Update(alerts []store.Alert) {
	var sb strings.Builder

	for _, a := range alerts {
		color := "yellow"
		if a.Mega {
			color = "red"
		}
		fmt.Fprintf(&sb, "[%s]%s[-] %s\n", color, a.SentAt.Format("15:04:05"), a.Summary)
	}

	if sb.Len() == 0 {
		sb.WriteString("[gray]no alerts yet[-]")
	}
	v.text.SetText(sb.String())
}
