package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polywatch/engine/internal/store"
)

// staticURLProvider serves a fixed feed URL without an HTTP round trip.
type staticURLProvider string

func (p staticURLProvider) FeedURL(context.Context) (string, error) {
	return string(p), nil
}

func TestHTTPURLProviderCachesForProcessLifetime(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"url": "wss://feed.example/stream"})
	}))
	defer srv.Close()

	p := NewHTTPURLProvider(srv.URL)

	url, err := p.FeedURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wss://feed.example/stream", url)

	_, err = p.FeedURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load(), "cached URL must not be re-fetched")
}

func TestHTTPURLProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewHTTPURLProvider(srv.URL)
	_, err := p.FeedURL(context.Background())
	assert.Error(t, err)

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer empty.Close()

	p = NewHTTPURLProvider(empty.URL)
	_, err = p.FeedURL(context.Background())
	assert.Error(t, err, "response without url is a fetch failure")
}

func TestSessionStatusLifecycle(t *testing.T) {
	tradeChan := make(chan store.Trade, 1)
	s := NewSession(NewHTTPURLProvider("http://127.0.0.1:0"), "polymarket", tradeChan)

	assert.Equal(t, StatusOffline, s.Status())

	// A failed connect attempt is terminal for the attempt and leaves the
	// session offline for a manual retry.
	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusOffline, s.Status())
}

func TestSessionManualRetryDuringScheduledReconnect(t *testing.T) {
	var active, total atomic.Int64
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		active.Add(1)
		defer active.Add(-1)
		defer conn.Close()

		n := total.Add(1)

		// Consume the subscribe frame.
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}

		if n == 1 {
			// Drop the first connection without a close frame so the
			// client schedules its delayed reconnect.
			return
		}

		// Later connections stay up until the client closes them.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	tradeChan := make(chan store.Trade, 16)
	s := NewSession(staticURLProvider(wsURL), "polymarket", tradeChan)

	require.NoError(t, s.Connect(context.Background()))

	// Wait for the dropped socket to be noticed and the reconnect delay to
	// start ticking.
	deadline := time.Now().Add(5 * time.Second)
	for s.Status() != StatusReconnecting {
		if time.Now().After(deadline) {
			t.Fatalf("session never entered reconnecting, status %s", s.Status())
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Manual retry inside the delay window must win and cancel the
	// scheduled attempt.
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, StatusOpen, s.Status())

	// Connecting while already open is a no-op.
	require.NoError(t, s.Connect(context.Background()))

	// Let the scheduled attempt's window elapse; it must not dial again.
	time.Sleep(ReconnectDelay + 500*time.Millisecond)
	assert.Equal(t, StatusOpen, s.Status())
	assert.Equal(t, int64(1), active.Load(), "exactly one live connection per session")
	assert.Equal(t, int64(2), total.Load(), "cancelled reconnect must not dial")

	// Teardown must not hang on an orphaned read loop.
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Equal(t, StatusClosed, s.Status())
}

func TestHealthMonitorThroughputMeter(t *testing.T) {
	tradeChan := make(chan store.Trade, 1)
	s := NewSession(NewHTTPURLProvider("http://127.0.0.1:0"), "polymarket", tradeChan)
	m := NewHealthMonitor(s)

	for i := 0; i < 10; i++ {
		m.CountFrame()
	}
	assert.Greater(t, m.EventsPerMinute(), 0.0)

	// Reconnect resets the counting window.
	m.ResetWindow()
	assert.Equal(t, 0.0, m.EventsPerMinute())
}

func TestHealthMonitorStaleRequiresOpenSession(t *testing.T) {
	tradeChan := make(chan store.Trade, 1)
	s := NewSession(NewHTTPURLProvider("http://127.0.0.1:0"), "polymarket", tradeChan)
	m := NewHealthMonitor(s)

	assert.False(t, m.Stale(), "offline session is reported offline, not stale")
}
