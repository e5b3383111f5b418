package view

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/polywatch/engine/internal/store"
)

// exportHeader is the column layout of an exported view.
var exportHeader = []string{
	"timestamp", "market", "wallet", "side", "token", "price", "shares", "volume",
}

// ExportCSV serializes the materialized view as delimited tabular data for
// offline download.
func ExportCSV(w io.Writer, trades []store.Trade) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(exportHeader); err != nil {
		return err
	}

	for _, t := range trades {
		row := []string{
			t.Time().UTC().Format(time.RFC3339),
			t.Slug,
			t.Wallet,
			t.Side,
			t.Outcome,
			strconv.FormatFloat(t.Price, 'f', 4, 64),
			strconv.FormatFloat(t.Shares, 'f', 2, 64),
			strconv.FormatFloat(t.ValueUSD(), 'f', 2, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
