package detector

import (
	"testing"
	"time"

	"github.com/polywatch/engine/internal/store"
)

const baseTS = int64(1700000000)

// record feeds a trade through the tracker and runs detection the way the
// ingestion worker does: profile first, then detect.
func record(w *WalletTracker, t store.Trade) []store.Signal {
	w.Record(t)
	p, ok := w.Profile(t.Wallet)
	return Detect(t, p, ok)
}

func hasSignal(signals []store.Signal, signalType string) bool {
	for _, s := range signals {
		if s.Type == signalType {
			return true
		}
	}
	return false
}

// trade builds a test trade with the given notional spread over price 0.5.
func trade(wallet, slug string, ts int64, notional float64) store.Trade {
	return store.Trade{
		Wallet:    wallet,
		Slug:      slug,
		TokenID:   "tok",
		TxHash:    "0x" + wallet,
		OrderHash: "",
		Price:     0.5,
		Shares:    notional * 2,
		Timestamp: ts,
	}
}

func TestDetectNoProfile(t *testing.T) {
	signals := Detect(trade("0xgone", "m", baseTS, 5000), Profile{}, false)
	if signals != nil {
		t.Errorf("expected no signals for absent profile, got %v", signals)
	}
}

func TestFreshWallet(t *testing.T) {
	w := NewWalletTracker(0, 0)

	// First sizable trade from a brand new wallet fires immediately.
	signals := record(w, trade("0xnew", "m1", baseTS, 600))
	if !hasSignal(signals, store.SignalFreshWallet) {
		t.Errorf("expected fresh_wallet on first sizable trade, got %v", signals)
	}

	// Below the notional floor: no signal even for a new wallet.
	signals = record(w, trade("0xsmall", "m1", baseTS, 400))
	if hasSignal(signals, store.SignalFreshWallet) {
		t.Errorf("expected no fresh_wallet below $500, got %v", signals)
	}
}

func TestFreshWalletAgeBoundary(t *testing.T) {
	justUnder := int64((24*time.Hour - time.Minute) / time.Second)
	justOver := int64((24*time.Hour + time.Minute) / time.Second)

	// 23h59m old: fires.
	w := NewWalletTracker(0, 0)
	record(w, trade("0xage", "m1", baseTS, 100))
	signals := record(w, trade("0xage", "m2", baseTS+justUnder, 600))
	if !hasSignal(signals, store.SignalFreshWallet) {
		t.Errorf("expected fresh_wallet at 23h59m, got %v", signals)
	}

	// 24h01m old: does not fire.
	w = NewWalletTracker(0, 0)
	record(w, trade("0xold", "m1", baseTS, 100))
	signals = record(w, trade("0xold", "m2", baseTS+justOver, 600))
	if hasSignal(signals, store.SignalFreshWallet) {
		t.Errorf("expected no fresh_wallet at 24h01m, got %v", signals)
	}
}

func TestUnusualSizing(t *testing.T) {
	w := NewWalletTracker(0, 0)

	record(w, trade("0xsize", "m1", baseTS, 100))

	// Second trade at exactly 3x: not unusual (strictly greater).
	signals := record(w, trade("0xsize", "m2", baseTS+7200, 300))
	if hasSignal(signals, store.SignalUnusualSizing) {
		t.Errorf("expected no unusual_sizing at exactly 3x, got %v", signals)
	}

	w = NewWalletTracker(0, 0)
	record(w, trade("0xbig", "m1", baseTS, 100))

	// Second trade above 3x the first fires.
	signals = record(w, trade("0xbig", "m2", baseTS+7200, 400))
	if !hasSignal(signals, store.SignalUnusualSizing) {
		t.Errorf("expected unusual_sizing on 2nd trade at 4x, got %v", signals)
	}
}

func TestRepeatedEntries(t *testing.T) {
	w := NewWalletTracker(0, 0)
	hour := int64(3600)

	for i := 0; i < 3; i++ {
		signals := record(w, trade("0xrep", "same-market", baseTS+int64(i)*hour, 100))
		if hasSignal(signals, store.SignalRepeatedEntries) {
			t.Errorf("expected no repeated_entries on trade %d, got %v", i+1, signals)
		}
	}

	// 4th entry into the same market fires.
	signals := record(w, trade("0xrep", "same-market", baseTS+3*hour, 100))
	if !hasSignal(signals, store.SignalRepeatedEntries) {
		t.Errorf("expected repeated_entries on 4th trade, got %v", signals)
	}
}

func TestRapidClustering(t *testing.T) {
	w := NewWalletTracker(0, 0)

	signals := record(w, trade("0xfast", "m1", baseTS, 50))
	if hasSignal(signals, store.SignalRapidClustering) {
		t.Errorf("expected no rapid_clustering on 1st trade, got %v", signals)
	}

	signals = record(w, trade("0xfast", "m2", baseTS+60, 50))
	if hasSignal(signals, store.SignalRapidClustering) {
		t.Errorf("expected no rapid_clustering on 2nd trade, got %v", signals)
	}

	// 3rd trade within 30 minutes fires.
	signals = record(w, trade("0xfast", "m3", baseTS+120, 50))
	if !hasSignal(signals, store.SignalRapidClustering) {
		t.Errorf("expected rapid_clustering on 3rd trade, got %v", signals)
	}
}

func TestRapidClusteringOutsideWindow(t *testing.T) {
	w := NewWalletTracker(0, 0)
	hour := int64(3600)

	record(w, trade("0xslow", "m1", baseTS, 50))
	record(w, trade("0xslow", "m2", baseTS+hour, 50))
	signals := record(w, trade("0xslow", "m3", baseTS+2*hour, 50))
	if hasSignal(signals, store.SignalRapidClustering) {
		t.Errorf("expected no rapid_clustering with hourly spacing, got %v", signals)
	}
}

func TestSignalsPersistWithoutDecay(t *testing.T) {
	// Once thresholds are crossed, the same signal keeps firing on every
	// subsequent trade. Sustained-alert behavior, not a bug.
	w := NewWalletTracker(0, 0)
	hour := int64(3600)

	for i := 0; i < 5; i++ {
		record(w, trade("0xsus", "same-market", baseTS+int64(i)*hour, 100))
	}
	signals := record(w, trade("0xsus", "same-market", baseTS+5*hour, 100))
	if !hasSignal(signals, store.SignalRepeatedEntries) {
		t.Errorf("expected repeated_entries to keep firing, got %v", signals)
	}
}
