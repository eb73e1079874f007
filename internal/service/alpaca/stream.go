package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"QuantPull/internal/domain/models"
	drepo "QuantPull/internal/domain/repository"
	"QuantPull/pkg/logger"

	"github.com/gorilla/websocket"
)

// ErrAuthFailed marks a fatal stream authentication failure. No reconnection
// is attempted after it.
var ErrAuthFailed = errors.New("alpaca stream: authentication failed")

// ErrReconnectExhausted is emitted when the bounded reconnect budget runs out.
var ErrReconnectExhausted = errors.New("alpaca stream: reconnect attempts exhausted")

// StreamConfig parameterizes the trade stream connection.
type StreamConfig struct {
	APIKey        string
	SecretKey     string
	URL           string
	Symbols       []string
	MaxReconnects int
	BackoffMin    time.Duration
	BackoffMax    time.Duration
	PingInterval  time.Duration
}

// Stream is a TradeStream over the Alpaca crypto websocket feed. On an
// unexpected disconnect the read loop reconnects with exponential backoff up
// to MaxReconnects attempts per outage; authentication failures are fatal.
type Stream struct {
	cfg     StreamConfig
	log     *logger.Logger
	metrics drepo.Metrics

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	stopped   bool
	stopCh    chan struct{} // closed by Close; interrupts backoff waits
	pingStop  chan struct{} // closed when the current connection is torn down

	// writeMu serializes control writes (auth, subscribe, ping, close):
	// gorilla/websocket allows only one concurrent writer.
	writeMu sync.Mutex

	wg sync.WaitGroup // read loop and per-connection ping loops
}

// NewStream creates a trade stream client. It does not dial until Connect.
func NewStream(cfg StreamConfig, log *logger.Logger, metrics drepo.Metrics) *Stream {
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 15 * time.Second
	}
	return &Stream{cfg: cfg, log: log, metrics: metrics}
}

// control frames arrive as arrays of messages; trades share the same shape.
type streamMessage struct {
	T    string  `json:"T"`             // "success", "error", "subscription", "t"
	Msg  string  `json:"msg,omitempty"` // control payload
	Code int     `json:"code,omitempty"`
	S    string  `json:"S,omitempty"`   // symbol
	P    float64 `json:"p,omitempty"`   // price
	Size float64 `json:"s,omitempty"`   // size
	TS   string  `json:"t,omitempty"`   // RFC3339 timestamp
	Tks  string  `json:"tks,omitempty"` // taker side
}

// Connect dials the feed and authenticates. An authentication rejection
// returns ErrAuthFailed and the caller must not retry.
func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = false
	s.stopCh = make(chan struct{})
	s.mu.Unlock()
	return s.dial(ctx)
}

func (s *Stream) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("alpaca stream dial: %w", err)
	}

	// The server greets with a "connected" control frame before auth.
	if _, err := s.awaitControl(conn, "connected"); err != nil {
		_ = conn.Close()
		return fmt.Errorf("alpaca stream handshake: %w", err)
	}

	auth := map[string]string{"action": "auth", "key": s.cfg.APIKey, "secret": s.cfg.SecretKey}
	if err := s.writeJSON(conn, auth); err != nil {
		_ = conn.Close()
		return fmt.Errorf("alpaca stream auth write: %w", err)
	}
	msg, err := s.awaitControl(conn, "authenticated")
	if err != nil {
		_ = conn.Close()
		if msg != nil && msg.T == "error" {
			return fmt.Errorf("%w: %s (code %d)", ErrAuthFailed, msg.Msg, msg.Code)
		}
		return fmt.Errorf("alpaca stream auth: %w", err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("alpaca stream: closed")
	}
	s.conn = conn
	s.connected = true
	pingStop := make(chan struct{})
	s.pingStop = pingStop
	s.mu.Unlock()

	// keepalive lives and dies with this connection
	s.wg.Add(1)
	go s.pingLoop(conn, pingStop)

	s.log.Info("stream connected", logger.String("url", s.cfg.URL))
	return nil
}

func (s *Stream) writeJSON(conn *websocket.Conn, v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// awaitControl reads frames until it sees a success message with the wanted
// payload, an error message, or a non-control frame.
func (s *Stream) awaitControl(conn *websocket.Conn, want string) (*streamMessage, error) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		var msgs []streamMessage
		if err := json.Unmarshal(raw, &msgs); err != nil || len(msgs) == 0 {
			continue
		}
		m := msgs[0]
		switch m.T {
		case "success":
			if m.Msg == want {
				return &m, nil
			}
		case "error":
			return &m, fmt.Errorf("server rejected: %s (code %d)", m.Msg, m.Code)
		default:
			// Data before the expected control frame; keep waiting.
		}
	}
}

// Subscribe subscribes to trade events for the configured symbols.
func (s *Stream) Subscribe(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	connected := s.connected
	s.mu.Unlock()
	if conn == nil || !connected {
		return fmt.Errorf("alpaca stream: not connected")
	}

	sub := map[string]interface{}{"action": "subscribe", "trades": s.cfg.Symbols}
	if err := s.writeJSON(conn, sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.log.Info("stream subscribed", logger.Strings("symbols", s.cfg.Symbols))
	return nil
}

// Read starts the receive loop and returns the trade and error channels.
// Both channels close when the loop exits: on Close, on context
// cancellation, or once the reconnect budget is exhausted.
func (s *Stream) Read(ctx context.Context) (<-chan models.Trade, <-chan error) {
	trades := make(chan models.Trade, 1024)
	errs := make(chan error, 1)

	s.wg.Add(1)
	go s.readLoop(ctx, trades, errs)

	return trades, errs
}

// pingLoop keeps one connection alive. It exits when that connection is torn
// down, so every reconnected session gets its own keepalive.
func (s *Stream) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *Stream) readLoop(ctx context.Context, trades chan<- models.Trade, errs chan<- error) {
	defer s.wg.Done()
	defer close(trades)
	defer close(errs)

	for {
		err := s.consume(ctx, trades)
		if err == nil || ctx.Err() != nil || s.isStopped() {
			return
		}

		s.setDisconnected()
		s.metrics.RecordError("stream_disconnect")
		s.log.Warn("stream disconnected", logger.Error(err))

		if reErr := s.reconnect(ctx); reErr != nil {
			select {
			case errs <- reErr:
			default:
			}
			return
		}
	}
}

// consume reads frames until the connection fails or the stream stops.
// A nil return means a deliberate stop.
func (s *Stream) consume(ctx context.Context, trades chan<- models.Trade) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("alpaca stream: no connection")
	}

	for {
		if ctx.Err() != nil || s.isStopped() {
			return nil
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if s.isStopped() {
				return nil
			}
			return err
		}

		var msgs []streamMessage
		if err := json.Unmarshal(raw, &msgs); err != nil {
			s.metrics.RecordError("stream_malformed")
			continue
		}
		for _, m := range msgs {
			if m.T != "t" {
				continue
			}
			trade, ok := parseTrade(m)
			if !ok {
				s.metrics.RecordError("stream_malformed")
				continue
			}
			select {
			case trades <- trade:
			default:
				s.metrics.RecordError("stream_backpressure_drop")
			}
		}
	}
}

func parseTrade(m streamMessage) (models.Trade, bool) {
	if m.S == "" || m.P <= 0 {
		return models.Trade{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, m.TS)
	if err != nil {
		return models.Trade{}, false
	}
	return models.Trade{
		Symbol:    m.S,
		Timestamp: ts,
		Price:     m.P,
		Size:      m.Size,
		Side:      models.TradeSide(m.Tks),
	}, true
}

// reconnect re-dials with exponential backoff, bounded by MaxReconnects per
// outage. Authentication failures abort immediately.
func (s *Stream) reconnect(ctx context.Context) error {
	s.mu.Lock()
	stop := s.stopCh
	s.mu.Unlock()

	backoff := s.cfg.BackoffMin
	for attempt := 1; attempt <= s.cfg.MaxReconnects; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case <-time.After(backoff):
		}
		if s.isStopped() {
			return nil
		}

		err := s.dial(ctx)
		if err == nil {
			if err := s.Subscribe(ctx); err == nil {
				s.log.Info("stream reconnected", logger.Int("attempt", attempt))
				return nil
			} else {
				s.log.Warn("resubscribe failed", logger.Error(err))
			}
		} else if errors.Is(err, ErrAuthFailed) {
			return err
		} else {
			s.log.Warn("reconnect failed",
				logger.Int("attempt", attempt),
				logger.Duration("backoff", backoff),
				logger.Error(err))
		}

		backoff *= 2
		if backoff > s.cfg.BackoffMax {
			backoff = s.cfg.BackoffMax
		}
	}
	return ErrReconnectExhausted
}

func (s *Stream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Stream) setDisconnected() {
	s.mu.Lock()
	s.connected = false
	if s.pingStop != nil {
		close(s.pingStop)
		s.pingStop = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()
}

// Close unsubscribes, closes the connection, halts reconnection, and waits
// for the read and keepalive loops to exit before returning, so a restart
// never races a draining worker. Safe to call before Connect or repeatedly.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.wg.Wait()
		return nil
	}
	s.stopped = true
	s.connected = false
	if s.stopCh != nil {
		close(s.stopCh)
	}
	if s.pingStop != nil {
		close(s.pingStop)
		s.pingStop = nil
	}
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	var err error
	if conn != nil {
		unsub := map[string]interface{}{"action": "unsubscribe", "trades": s.cfg.Symbols}
		s.writeMu.Lock()
		_ = conn.WriteJSON(unsub)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = conn.Close()
	}

	s.wg.Wait()
	return err
}

// IsConnected reports current connection status.
func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

var _ drepo.TradeStream = (*Stream)(nil)
