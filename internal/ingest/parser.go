// Package ingest owns the live feed connection, frame decoding, health
// monitoring and the batching queue in front of the trade log.
package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/polywatch/engine/internal/store"
)

// Frame kinds delivered by the feed.
const (
	FrameAck   = "ack"
	FrameEvent = "event"
)

// wsFrame is the envelope of every server frame.
type wsFrame struct {
	Type           string          `json:"type"`
	SubscriptionID string          `json:"subscription_id,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// rawTrade is the wire shape of a trade event payload. String fields are
// kept as strings to preserve precision; normalization happens in convert.
type rawTrade struct {
	Asset           string `json:"asset"`
	Outcome         string `json:"outcome"`
	Side            string `json:"side"`
	Slug            string `json:"slug"`
	EventSlug       string `json:"eventSlug"`
	ConditionID     string `json:"conditionId"`
	Size            string `json:"size"`
	Price           string `json:"price"`
	TransactionHash string `json:"transactionHash"`
	OrderHash       string `json:"orderHash"`
	Title           string `json:"title"`
	ProxyWallet     string `json:"proxyWallet"`
	Taker           string `json:"takerAddress"`
	Timestamp       string `json:"timestamp"`
	Icon            string `json:"icon"`
}

// UnmarshalJSON tolerates numeric size/price/timestamp fields, which the
// feed emits interchangeably with strings.
func (r *rawTrade) UnmarshalJSON(data []byte) error {
	type alias rawTrade
	aux := struct {
		*alias
		Size      json.RawMessage `json:"size"`
		Price     json.RawMessage `json:"price"`
		Timestamp json.RawMessage `json:"timestamp"`
	}{alias: (*alias)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Size = rawString(aux.Size)
	r.Price = rawString(aux.Price)
	r.Timestamp = rawString(aux.Timestamp)
	return nil
}

// rawString strips quoting from a raw JSON scalar.
func rawString(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	if s == "null" {
		return ""
	}
	return s
}

// ParseFrame decodes a raw server frame. Event frames yield a Trade;
// ack and other informational frames yield a nil trade with the frame kind.
func ParseFrame(data []byte) (*store.Trade, string, error) {
	var frame wsFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, "", fmt.Errorf("unmarshal frame: %w", err)
	}

	if frame.Type != FrameEvent {
		return nil, frame.Type, nil
	}

	var raw rawTrade
	if err := json.Unmarshal(frame.Data, &raw); err != nil {
		return nil, frame.Type, fmt.Errorf("unmarshal trade event: %w", err)
	}

	trade := convertTrade(raw)
	if trade.TokenID == "" && trade.TxHash == "" {
		return nil, frame.Type, fmt.Errorf("trade event missing identity fields")
	}
	return &trade, frame.Type, nil
}

// convertTrade normalizes a wire trade into the store model.
func convertTrade(raw rawTrade) store.Trade {
	return store.Trade{
		TokenID:     raw.Asset,
		Outcome:     raw.Outcome,
		Side:        strings.ToUpper(raw.Side),
		Slug:        coalesce(raw.Slug, raw.EventSlug),
		ConditionID: raw.ConditionID,
		Size:        raw.Size,
		Shares:      normalizeShares(raw.Size),
		Price:       parseFloat(raw.Price),
		TxHash:      raw.TransactionHash,
		OrderHash:   raw.OrderHash,
		Title:       raw.Title,
		Wallet:      strings.ToLower(raw.ProxyWallet),
		Taker:       strings.ToLower(raw.Taker),
		Timestamp:   parseTimestamp(raw.Timestamp),
		Image:       raw.Icon,
	}
}

// normalizeShares converts a raw size into a share count. Sizes above 1e6
// are raw 6-decimal fixed-point quantities and get scaled down.
func normalizeShares(size string) float64 {
	shares := parseFloat(size)
	if shares > 1e6 {
		shares = shares / 1e6
	}
	return shares
}

// parseTimestamp accepts unix seconds or milliseconds.
func parseTimestamp(s string) int64 {
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		if f := parseFloat(s); f > 0 {
			ts = int64(f)
		}
	}
	if ts > 1e12 {
		ts = ts / 1000
	}
	return ts
}

// coalesce returns the first non-empty string.
func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseFloat safely parses a string to float64.
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
