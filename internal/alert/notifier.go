// Package alert dispatches whale trade notifications to a webhook.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/polywatch/engine/internal/store"
)

// Dispatch defaults.
const (
	// DefaultBatchWindow collects whale trades before sending one summary.
	DefaultBatchWindow = 30 * time.Second
	// DefaultCooldown suppresses repeat alerts for the same wallet.
	DefaultCooldown = 60 * time.Minute
	// historyLimit bounds the in-memory alert history kept for display.
	historyLimit = 50
)

// Notifier batches whale trades into webhook alerts with a per-wallet
// cooldown. With no webhook configured it still records alert history for
// the dashboard.
type Notifier struct {
	webhookURL  string
	client      *http.Client
	batchWindow time.Duration
	cooldown    time.Duration

	mu        sync.Mutex
	pending   []store.Trade
	lastAlert map[string]time.Time
	history   []store.Alert
}

// New creates a notifier. Zero durations fall back to the defaults.
func New(webhookURL string, batchWindow, cooldown time.Duration) *Notifier {
	if batchWindow <= 0 {
		batchWindow = DefaultBatchWindow
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Notifier{
		webhookURL:  webhookURL,
		client:      &http.Client{Timeout: 10 * time.Second},
		batchWindow: batchWindow,
		cooldown:    cooldown,
		lastAlert:   make(map[string]time.Time),
	}
}

// Raise queues a whale trade for the next alert batch. Trades from a wallet
// alerted within the cooldown are dropped.
func (n *Notifier) Raise(t store.Trade) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if last, ok := n.lastAlert[t.Wallet]; ok && time.Since(last) < n.cooldown {
		return
	}
	n.lastAlert[t.Wallet] = time.Now()
	n.pending = append(n.pending, t)
}

// Run flushes the pending batch on the batch window until the context is
// done, then flushes once more.
func (n *Notifier) Run(ctx context.Context) {
	ticker := time.NewTicker(n.batchWindow)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n.Flush()
			return
		case <-ticker.C:
			n.Flush()
		}
	}
}

// Flush turns the pending batch into alerts and dispatches them.
func (n *Notifier) Flush() {
	n.mu.Lock()
	batch := n.pending
	n.pending = nil
	n.mu.Unlock()

	for _, t := range batch {
		a := store.Alert{
			ID:       uuid.NewString(),
			TradeIDs: []string{t.Identity()},
			Wallet:   t.Wallet,
			ValueUSD: t.ValueUSD(),
			Mega:     t.IsMega(),
			SentAt:   time.Now(),
		}

		label := "whale"
		if a.Mega {
			label = "mega whale"
		}
		a.Summary = fmt.Sprintf("%s: $%.0f %s %s @ %.2f (%s)",
			label, a.ValueUSD, t.Side, t.Outcome, t.Price, t.Title)

		a.Success = n.send(a)

		n.mu.Lock()
		n.history = append([]store.Alert{a}, n.history...)
		if len(n.history) > historyLimit {
			n.history = n.history[:historyLimit]
		}
		n.mu.Unlock()
	}
}

// send posts one alert to the webhook. Returns true on success or when no
// webhook is configured.
func (n *Notifier) send(a store.Alert) bool {
	if n.webhookURL == "" {
		return true
	}

	body, err := json.Marshal(map[string]string{"content": a.Summary})
	if err != nil {
		return false
	}

	resp, err := n.client.Post(n.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		slog.Warn("alert_send_failed", "error", err, "alert_id", a.ID)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		slog.Warn("alert_send_failed", "status", resp.StatusCode, "alert_id", a.ID)
		return false
	}

	slog.Info("alert_sent", "alert_id", a.ID, "wallet", a.Wallet, "value_usd", a.ValueUSD)
	return true
}

// Recent returns the newest alerts, most recent first.
func (n *Notifier) Recent(limit int) []store.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()

	if limit <= 0 || limit > len(n.history) {
		limit = len(n.history)
	}
	return append([]store.Alert{}, n.history[:limit]...)
}
