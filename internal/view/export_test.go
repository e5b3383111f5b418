package view

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polywatch/engine/internal/store"
)

func TestExportCSV(t *testing.T) {
	trades := []store.Trade{
		{
			Slug:      "rain-market",
			Wallet:    "0xalice",
			Side:      store.SideBuy,
			Outcome:   "Yes",
			Price:     0.42,
			Shares:    250.5,
			Timestamp: 1700000000,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, ExportCSV(&buf, trades))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, exportHeader, rows[0])

	row := rows[1]
	assert.Equal(t, "rain-market", row[1])
	assert.Equal(t, "0xalice", row[2])
	assert.Equal(t, "BUY", row[3])
	assert.Equal(t, "Yes", row[4])
	assert.Equal(t, "0.4200", row[5])
	assert.Equal(t, "250.50", row[6])
	assert.Equal(t, "105.21", row[7])
}

func TestExportCSVEmptyView(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportCSV(&buf, nil))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 1, "header only")
}
