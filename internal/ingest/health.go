package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Health monitor timings.
const (
	// WatchdogInterval is how often staleness is checked.
	WatchdogInterval = 5 * time.Second
	// StaleIndicator is the silence after which the connection is reported
	// stale, before any forced reconnect.
	StaleIndicator = 5 * time.Second
	// StaleThreshold is the silence after which an open connection is
	// force-closed. Guards against sockets that stay open but stop
	// delivering behind intermediaries.
	StaleThreshold = 15 * time.Second
	// HardReconnectInterval is the unconditional reconnect cadence. Bounds
	// the blast radius of undetected degradation and rotates server-side
	// session state.
	HardReconnectInterval = 5 * time.Minute
)

// HealthMonitor watches a feed session for staleness, forces periodic hard
// reconnects and keeps a rolling throughput meter.
type HealthMonitor struct {
	session *Session

	mu          sync.Mutex
	frames      int64
	windowStart time.Time
}

// NewHealthMonitor creates a monitor for the given session.
func NewHealthMonitor(session *Session) *HealthMonitor {
	return &HealthMonitor{
		session:     session,
		windowStart: time.Now(),
	}
}

// Run blocks until the context is cancelled, ticking the staleness watchdog
// and the hard-reconnect timer.
func (h *HealthMonitor) Run(ctx context.Context) {
	watchdog := time.NewTicker(WatchdogInterval)
	defer watchdog.Stop()

	hard := time.NewTicker(HardReconnectInterval)
	defer hard.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-watchdog.C:
			h.checkStaleness()
		case <-hard.C:
			slog.Info("feed_hard_reconnect")
			h.session.ForceClose(RotateCloseCode, "periodic rotation")
		}
	}
}

// checkStaleness force-closes the socket when an open connection has been
// silent past the threshold.
func (h *HealthMonitor) checkStaleness() {
	if h.session.Status() != StatusOpen {
		return
	}

	last := h.session.LastMessage()
	if last.IsZero() {
		return
	}

	elapsed := time.Since(last)
	if elapsed > StaleThreshold {
		slog.Warn("feed_stale", "elapsed", elapsed)
		h.session.ForceClose(StaleCloseCode, "stale connection")
	}
}

// Stale reports whether the connection is open but delayed, before the
// watchdog forces a reconnect.
func (h *HealthMonitor) Stale() bool {
	if h.session.Status() != StatusOpen {
		return false
	}
	last := h.session.LastMessage()
	if last.IsZero() {
		return false
	}
	return time.Since(last) > StaleIndicator
}

// CountFrame records one received frame in the throughput window.
// Wire this as the session's OnFrame hook.
func (h *HealthMonitor) CountFrame() {
	h.mu.Lock()
	h.frames++
	h.mu.Unlock()
}

// ResetWindow restarts the throughput counting window.
// Wire this as the session's OnReconnect hook.
func (h *HealthMonitor) ResetWindow() {
	h.mu.Lock()
	h.frames = 0
	h.windowStart = time.Now()
	h.mu.Unlock()
}

// EventsPerMinute returns the rolling frame rate since the window start.
func (h *HealthMonitor) EventsPerMinute() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	elapsed := time.Since(h.windowStart).Minutes()
	if elapsed <= 0 {
		return 0
	}
	return float64(h.frames) / elapsed
}
