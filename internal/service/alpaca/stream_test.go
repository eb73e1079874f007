package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"QuantPull/pkg/logger"

	"github.com/gorilla/websocket"
)

type nopMetrics struct{}

func (nopMetrics) RecordPoll(string)               {}
func (nopMetrics) RecordError(string)              {}
func (nopMetrics) RecordStaleWrite(string)         {}
func (nopMetrics) RecordLastPrice(string, float64) {}
func (nopMetrics) RecordSignal(string, string)     {}
func (nopMetrics) RecordLatency(string, float64)   {}

var upgrader = websocket.Upgrader{}

// fakeFeed drives one websocket session: greet, auth, subscribe, then invoke
// the session func.
func fakeFeed(t *testing.T, authOK bool, session func(conn *websocket.Conn, connNum int64)) (*httptest.Server, *int64) {
	t.Helper()
	var conns int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := atomic.AddInt64(&conns, 1)

		send := func(v interface{}) {
			b, _ := json.Marshal(v)
			_ = conn.WriteMessage(websocket.TextMessage, b)
		}
		send([]map[string]interface{}{{"T": "success", "msg": "connected"}})

		// auth message
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		if !authOK {
			send([]map[string]interface{}{{"T": "error", "code": 402, "msg": "auth failed"}})
			return
		}
		send([]map[string]interface{}{{"T": "success", "msg": "authenticated"}})

		// subscribe message
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}

		if session != nil {
			session(conn, n)
		}
	}))
	return srv, &conns
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestStream(url string) *Stream {
	return NewStream(StreamConfig{
		APIKey:        "key",
		SecretKey:     "secret",
		URL:           url,
		Symbols:       []string{"BTC/USD"},
		MaxReconnects: 3,
		BackoffMin:    10 * time.Millisecond,
		BackoffMax:    50 * time.Millisecond,
		PingInterval:  time.Hour,
	}, logger.Nop(), nopMetrics{})
}

func tradeFrame(symbol string, price float64, ts time.Time) []map[string]interface{} {
	return []map[string]interface{}{{
		"T": "t", "S": symbol, "p": price, "s": 0.5,
		"t": ts.Format(time.RFC3339Nano), "tks": "B",
	}}
}

func TestStreamForwardsTrades(t *testing.T) {
	ts := time.Now().UTC()
	srv, _ := fakeFeed(t, true, func(conn *websocket.Conn, _ int64) {
		b, _ := json.Marshal(tradeFrame("BTC/USD", 64000, ts))
		_ = conn.WriteMessage(websocket.TextMessage, b)
		// malformed frame must be skipped, not fatal
		_ = conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		b2, _ := json.Marshal(tradeFrame("ETH/USD", 3200, ts.Add(time.Second)))
		_ = conn.WriteMessage(websocket.TextMessage, b2)
		time.Sleep(200 * time.Millisecond)
	})
	defer srv.Close()

	s := newTestStream(wsURL(srv))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.Subscribe(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	trades, _ := s.Read(ctx)

	got := 0
	deadline := time.After(2 * time.Second)
	for got < 2 {
		select {
		case tr, ok := <-trades:
			if !ok {
				t.Fatalf("trade channel closed after %d trades", got)
			}
			if tr.Price <= 0 || tr.Symbol == "" {
				t.Fatalf("bad trade %+v", tr)
			}
			got++
		case <-deadline:
			t.Fatalf("timed out after %d trades", got)
		}
	}
	_ = s.Close()
}

func TestStreamAuthFailureIsFatal(t *testing.T) {
	srv, conns := fakeFeed(t, false, nil)
	defer srv.Close()

	s := newTestStream(wsURL(srv))
	err := s.Connect(context.Background())
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
	// The failed connect must not spawn reconnection attempts.
	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt64(conns); n != 1 {
		t.Fatalf("expected exactly 1 connection attempt, got %d", n)
	}
}

func TestStreamReconnectsAfterDrop(t *testing.T) {
	ts := time.Now().UTC()
	srv, conns := fakeFeed(t, true, func(conn *websocket.Conn, n int64) {
		if n == 1 {
			// drop abruptly after one trade
			b, _ := json.Marshal(tradeFrame("BTC/USD", 64000, ts))
			_ = conn.WriteMessage(websocket.TextMessage, b)
			_ = conn.Close()
			return
		}
		b, _ := json.Marshal(tradeFrame("BTC/USD", 64100, ts.Add(time.Second)))
		_ = conn.WriteMessage(websocket.TextMessage, b)
		time.Sleep(500 * time.Millisecond)
	})
	defer srv.Close()

	s := newTestStream(wsURL(srv))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.Subscribe(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	trades, errs := s.Read(ctx)

	var prices []float64
	deadline := time.After(3 * time.Second)
	for len(prices) < 2 {
		select {
		case tr, ok := <-trades:
			if !ok {
				t.Fatalf("trade channel closed early, got %v", prices)
			}
			prices = append(prices, tr.Price)
		case err := <-errs:
			if err != nil {
				t.Fatalf("unexpected stream error: %v", err)
			}
		case <-deadline:
			t.Fatalf("timed out, got %v", prices)
		}
	}

	if atomic.LoadInt64(conns) < 2 {
		t.Fatalf("expected a reconnect, saw %d connections", atomic.LoadInt64(conns))
	}
	_ = s.Close()
}

func TestStreamCloseInterruptsReconnectBackoff(t *testing.T) {
	ts := time.Now().UTC()
	srv, _ := fakeFeed(t, true, func(conn *websocket.Conn, _ int64) {
		b, _ := json.Marshal(tradeFrame("BTC/USD", 64000, ts))
		_ = conn.WriteMessage(websocket.TextMessage, b)
		_ = conn.Close()
	})
	defer srv.Close()

	s := NewStream(StreamConfig{
		APIKey:        "key",
		SecretKey:     "secret",
		URL:           wsURL(srv),
		Symbols:       []string{"BTC/USD"},
		MaxReconnects: 5,
		BackoffMin:    500 * time.Millisecond,
		BackoffMax:    time.Second,
		PingInterval:  time.Hour,
	}, logger.Nop(), nopMetrics{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.Subscribe(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	trades, _ := s.Read(ctx)

	select {
	case <-trades:
	case <-time.After(2 * time.Second):
		t.Fatalf("no trade before drop")
	}

	// Shut the server down so redials fail and the read loop sits in its
	// backoff wait when Close arrives.
	srv.Close()
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	_ = s.Close()
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Fatalf("close took %v, read loop was not released from backoff", elapsed)
	}
	select {
	case _, ok := <-trades:
		if ok {
			t.Fatalf("unexpected trade after close")
		}
	default:
		t.Fatalf("read loop still running after Close returned")
	}
}

func TestStreamKeepaliveSurvivesReconnect(t *testing.T) {
	ts := time.Now().UTC()
	var pings int64
	srv, _ := fakeFeed(t, true, func(conn *websocket.Conn, n int64) {
		if n == 1 {
			_ = conn.Close()
			return
		}
		conn.SetPingHandler(func(string) error {
			atomic.AddInt64(&pings, 1)
			return nil
		})
		b, _ := json.Marshal(tradeFrame("BTC/USD", 64000, ts))
		_ = conn.WriteMessage(websocket.TextMessage, b)
		// pings are delivered while the server is blocked in a read
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	s := NewStream(StreamConfig{
		APIKey:        "key",
		SecretKey:     "secret",
		URL:           wsURL(srv),
		Symbols:       []string{"BTC/USD"},
		MaxReconnects: 5,
		BackoffMin:    10 * time.Millisecond,
		BackoffMax:    50 * time.Millisecond,
		PingInterval:  20 * time.Millisecond,
	}, logger.Nop(), nopMetrics{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.Subscribe(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	trades, _ := s.Read(ctx)

	// The trade only arrives on the second session, so receiving it proves
	// the reconnect happened.
	select {
	case <-trades:
	case <-time.After(2 * time.Second):
		t.Fatalf("no trade after reconnect")
	}

	deadline := time.After(time.Second)
	for atomic.LoadInt64(&pings) == 0 {
		select {
		case <-deadline:
			t.Fatalf("reconnected session received no pings")
		case <-time.After(10 * time.Millisecond):
		}
	}
	_ = s.Close()
}

func TestStreamCloseUnsubscribesFirst(t *testing.T) {
	frames := make(chan string, 4)
	srv, _ := fakeFeed(t, true, func(conn *websocket.Conn, _ int64) {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				close(frames)
				return
			}
			frames <- string(raw)
		}
	})
	defer srv.Close()

	s := newTestStream(wsURL(srv))
	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.Subscribe(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case raw, ok := <-frames:
		if !ok {
			t.Fatalf("connection closed without an unsubscribe")
		}
		if !strings.Contains(raw, `"action":"unsubscribe"`) {
			t.Fatalf("expected unsubscribe frame, got %s", raw)
		}
	case <-time.After(time.Second):
		t.Fatalf("no unsubscribe before close")
	}
}

func TestStreamCloseIdempotent(t *testing.T) {
	s := newTestStream("ws://127.0.0.1:0")
	if err := s.Close(); err != nil {
		t.Fatalf("close before connect: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if s.IsConnected() {
		t.Fatalf("closed stream reports connected")
	}
}
