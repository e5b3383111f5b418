package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/polywatch/engine/internal/store"
)

// Connection constants.
const (
	// ConnectTimeout bounds a single connect attempt end to end.
	ConnectTimeout = 10 * time.Second
	// ReconnectDelay is the fixed wait before the single reconnect attempt
	// scheduled after an abnormal close. The endpoint is stable once
	// resolved, so there is no backoff growth.
	ReconnectDelay = 2 * time.Second
	// WriteTimeout bounds control frame writes.
	WriteTimeout = 10 * time.Second

	// StaleCloseCode is the close code the watchdog uses to force a
	// reconnect on a silently dead connection.
	StaleCloseCode = 4008
	// RotateCloseCode is the close code used by the periodic hard reconnect.
	RotateCloseCode = 4009
)

// ErrConnectTimeout is returned when a connect attempt does not complete
// within ConnectTimeout. The caller must retry manually.
var ErrConnectTimeout = errors.New("feed connect timed out")

// Session lifecycle states.
type Status string

const (
	StatusOffline      Status = "offline"
	StatusConnecting   Status = "connecting"
	StatusOpen         Status = "open"
	StatusReconnecting Status = "reconnecting"
	StatusClosed       Status = "closed"
)

// URLProvider issues the transient streaming endpoint URL.
type URLProvider interface {
	FeedURL(ctx context.Context) (string, error)
}

// HTTPURLProvider fetches the feed URL from an HTTP collaborator and caches
// it for the process lifetime, re-fetching only when not yet cached.
type HTTPURLProvider struct {
	endpoint string
	client   *http.Client

	mu     sync.Mutex
	cached string
}

// NewHTTPURLProvider creates a URL provider against the given endpoint.
func NewHTTPURLProvider(endpoint string) *HTTPURLProvider {
	return &HTTPURLProvider{
		endpoint: endpoint,
		client:   &http.Client{Timeout: ConnectTimeout},
	}
}

// FeedURL returns the cached URL or fetches a fresh one.
func (p *HTTPURLProvider) FeedURL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != "" {
		return p.cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("create url request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch feed url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch feed url: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode feed url response: %w", err)
	}
	if body.URL == "" {
		return "", fmt.Errorf("feed url response missing url")
	}

	p.cached = body.URL
	return p.cached, nil
}

// subscribeFrame is the single control frame sent after connect.
type subscribeFrame struct {
	Action   string `json:"action"`
	Platform string `json:"platform"`
	Version  int    `json:"version"`
	Type     string `json:"type"`
	Filters  struct {
		Users []string `json:"users"`
	} `json:"filters"`
}

// Session owns the live socket to the upstream venue: URL acquisition,
// connect/handshake/subscribe, decoding and the single-shot reconnect path.
type Session struct {
	provider  URLProvider
	platform  string
	tradeChan chan<- store.Trade

	conn   *websocket.Conn
	connMu sync.Mutex

	statusMu sync.RWMutex
	status   Status

	lastMsg   time.Time
	lastMsgMu sync.RWMutex

	// OnFrame is invoked for every successfully decoded frame.
	// OnReconnect is invoked when a reconnect attempt begins.
	// Both are optional and must be set before Connect.
	OnFrame     func()
	OnReconnect func()

	// attemptMu serializes connect attempts so a manual retry and the
	// scheduled reconnect can never dial two sockets for one session.
	attemptMu sync.Mutex

	reconnectMu     sync.Mutex
	reconnectCancel chan struct{}

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSession creates a feed session. Trades decoded from the stream are
// dispatched to tradeChan.
func NewSession(provider URLProvider, platform string, tradeChan chan<- store.Trade) *Session {
	return &Session{
		provider:  provider,
		platform:  platform,
		tradeChan: tradeChan,
		status:    StatusOffline,
		stopChan:  make(chan struct{}),
	}
}

// Connect performs one connect attempt: URL fetch, dial, subscribe. On
// success a read loop is started. Failures are terminal for the attempt and
// leave the session offline for a manual retry.
//
// Attempts are serialized; connecting while the session is already open is
// a no-op, and a successful manual connect cancels any pending scheduled
// reconnect.
func (s *Session) Connect(ctx context.Context) error {
	s.attemptMu.Lock()
	defer s.attemptMu.Unlock()

	if s.Status() == StatusOpen {
		slog.Debug("feed_connect_skipped", "reason", "already open")
		return nil
	}
	s.cancelScheduledReconnect()

	s.setStatus(StatusConnecting)

	// The timeout bounds this attempt only; the read loop keeps the
	// caller's context.
	dialCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	url, err := s.provider.FeedURL(dialCtx)
	if err != nil {
		s.setStatus(StatusOffline)
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
		}
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: ConnectTimeout}
	conn, _, err := dialer.DialContext(dialCtx, url, nil)
	if err != nil {
		s.setStatus(StatusOffline)
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
		}
		return fmt.Errorf("dial feed: %w", err)
	}

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	s.connMu.Unlock()

	if err := s.subscribe(); err != nil {
		s.closeConnection()
		s.setStatus(StatusOffline)
		return err
	}

	s.setStatus(StatusOpen)
	s.updateLastMsg()
	slog.Info("feed_connected")

	s.wg.Add(1)
	go s.readLoop(ctx, conn)
	return nil
}

// subscribe sends the trade subscription control frame.
func (s *Session) subscribe() error {
	frame := subscribeFrame{
		Action:   "subscribe",
		Platform: s.platform,
		Version:  1,
		Type:     "orders",
	}
	frame.Filters.Users = []string{"*"}

	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("connection is nil")
	}

	s.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if err := s.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("send subscribe frame: %w", err)
	}

	slog.Info("feed_subscribed", "platform", s.platform, "type", "orders")
	return nil
}

// readLoop reads frames from its connection until error or close, then
// decides whether the failure is retryable. The loop owns exactly one
// connection for its lifetime; a reconnect starts a fresh loop.
func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			s.closeConn(conn)

			select {
			case <-s.stopChan:
				s.setStatus(StatusClosed)
				return
			default:
			}

			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				slog.Info("feed_closed", "reason", "normal close")
				s.setStatus(StatusOffline)
				return
			}

			slog.Warn("feed_read_error", "error", err)
			s.scheduleReconnect(ctx)
			return
		}

		s.handleFrame(message)
	}
}

// handleFrame decodes one frame. Decode failures drop the frame and keep
// the stream alive.
func (s *Session) handleFrame(data []byte) {
	trade, kind, err := ParseFrame(data)
	if err != nil {
		slog.Debug("feed_decode_error", "error", err)
		return
	}

	s.updateLastMsg()
	if s.OnFrame != nil {
		s.OnFrame()
	}

	if trade == nil {
		slog.Debug("feed_frame", "type", kind)
		return
	}

	select {
	case s.tradeChan <- *trade:
	default:
		slog.Warn("trade_channel_full", "dropped_trade", trade.Identity())
	}
}

// scheduleReconnect performs the single fixed-delay reconnect attempt after
// a mid-stream failure. A manual connect during the delay cancels it.
func (s *Session) scheduleReconnect(ctx context.Context) {
	cancel := make(chan struct{})
	s.reconnectMu.Lock()
	s.reconnectCancel = cancel
	s.reconnectMu.Unlock()

	s.setStatus(StatusReconnecting)
	if s.OnReconnect != nil {
		s.OnReconnect()
	}

	select {
	case <-s.stopChan:
		s.setStatus(StatusClosed)
		return
	case <-ctx.Done():
		s.setStatus(StatusOffline)
		return
	case <-cancel:
		return
	case <-time.After(ReconnectDelay):
	}

	if err := s.Connect(ctx); err != nil {
		slog.Error("feed_reconnect_failed", "error", err)
	}
}

// cancelScheduledReconnect aborts a pending scheduled reconnect, if any.
func (s *Session) cancelScheduledReconnect() {
	s.reconnectMu.Lock()
	if s.reconnectCancel != nil {
		close(s.reconnectCancel)
		s.reconnectCancel = nil
	}
	s.reconnectMu.Unlock()
}

// ForceClose closes the socket with the given close code, triggering the
// reconnect path in the read loop. Used by the health monitor.
func (s *Session) ForceClose(code int, reason string) {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()

	if conn == nil {
		return
	}

	slog.Warn("feed_force_close", "code", code, "reason", reason)
	msg := websocket.FormatCloseMessage(code, reason)
	conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	conn.WriteMessage(websocket.CloseMessage, msg)
	conn.Close()
}

// Stop shuts the session down without triggering a reconnect.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.closeConnection()
	s.wg.Wait()
	s.setStatus(StatusClosed)
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// LastMessage returns the time of the last successfully decoded frame.
func (s *Session) LastMessage() time.Time {
	s.lastMsgMu.RLock()
	defer s.lastMsgMu.RUnlock()
	return s.lastMsg
}

func (s *Session) setStatus(st Status) {
	s.statusMu.Lock()
	s.status = st
	s.statusMu.Unlock()
}

func (s *Session) updateLastMsg() {
	s.lastMsgMu.Lock()
	s.lastMsg = time.Now()
	s.lastMsgMu.Unlock()
}

func (s *Session) closeConnection() {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
		slog.Info("feed_disconnected")
	}
}

// closeConn closes the given connection only while it is still the
// session's current one, so a stale read loop cannot tear down a socket
// established after it.
func (s *Session) closeConn(conn *websocket.Conn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if conn == nil {
		return
	}
	conn.Close()
	if s.conn == conn {
		s.conn = nil
		slog.Info("feed_disconnected")
	}
}
