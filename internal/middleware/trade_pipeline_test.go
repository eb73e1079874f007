package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"QuantPull/internal/domain/models"
)

type countingMetrics struct {
	mu     sync.Mutex
	errors map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{errors: make(map[string]int)}
}

func (m *countingMetrics) RecordPoll(string)            {}
func (m *countingMetrics) RecordStaleWrite(string)      {}
func (m *countingMetrics) RecordLastPrice(string, float64) {}
func (m *countingMetrics) RecordSignal(string, string)  {}
func (m *countingMetrics) RecordLatency(string, float64) {}
func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}

func (m *countingMetrics) count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

type recordingSink struct {
	mu     sync.Mutex
	trades []models.Trade
	err    error
}

func (s *recordingSink) ProcessTrade(_ context.Context, t models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.trades = append(s.trades, t)
	return nil
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trades)
}

func validTrade(symbol string, ts time.Time) models.Trade {
	return models.Trade{Symbol: symbol, Price: 50000, Size: 0.1, Timestamp: ts, Side: models.SideBuy}
}

func TestPipelineForwardsValidTrade(t *testing.T) {
	sink := &recordingSink{}
	m := newCountingMetrics()
	p := NewTradePipeline(sink, m)

	if err := p.ProcessTrade(context.Background(), validTrade("BTC/USD", time.Now())); err != nil {
		t.Fatalf("ProcessTrade: %v", err)
	}
	if sink.len() != 1 {
		t.Fatalf("expected 1 trade, got %d", sink.len())
	}
}

func TestPipelineRejectsMalformed(t *testing.T) {
	sink := &recordingSink{}
	m := newCountingMetrics()
	p := NewTradePipeline(sink, m)

	cases := []models.Trade{
		{Price: 1, Size: 1, Timestamp: time.Now()},                          // no symbol
		{Symbol: "BTC/USD", Price: 1, Size: 1},                              // zero timestamp
		{Symbol: "BTC/USD", Price: -1, Size: 1, Timestamp: time.Now()},      // negative price
		{Symbol: "BTC/USD", Price: 1, Size: -0.5, Timestamp: time.Now()},    // negative size
	}
	for _, c := range cases {
		if err := p.ProcessTrade(context.Background(), c); err == nil {
			t.Fatalf("expected error for %+v", c)
		}
	}
	if sink.len() != 0 {
		t.Fatalf("malformed trades reached sink: %d", sink.len())
	}
	if m.count("pipeline_malformed") != len(cases) {
		t.Fatalf("expected %d malformed counts, got %d", len(cases), m.count("pipeline_malformed"))
	}
}

func TestPipelineThrottlesPerSymbol(t *testing.T) {
	sink := &recordingSink{}
	m := newCountingMetrics()
	p := NewTradePipeline(sink, m, WithMaxRPS(1))

	now := time.Now()
	if err := p.ProcessTrade(context.Background(), validTrade("BTC/USD", now)); err != nil {
		t.Fatalf("first trade: %v", err)
	}
	// second trade for the same symbol within the window is dropped silently
	if err := p.ProcessTrade(context.Background(), validTrade("BTC/USD", now)); err != nil {
		t.Fatalf("throttled trade should not error: %v", err)
	}
	// a different symbol is unaffected
	if err := p.ProcessTrade(context.Background(), validTrade("ETH/USD", now)); err != nil {
		t.Fatalf("other symbol: %v", err)
	}
	if sink.len() != 2 {
		t.Fatalf("expected 2 trades at sink, got %d", sink.len())
	}
	if m.count("pipeline_throttle") != 1 {
		t.Fatalf("expected 1 throttle count, got %d", m.count("pipeline_throttle"))
	}
}

func TestPipelineBuffersOnSinkError(t *testing.T) {
	sink := &recordingSink{err: errors.New("downstream busy")}
	m := newCountingMetrics()
	p := NewTradePipeline(sink, m, WithBufferSize(10))

	if err := p.ProcessTrade(context.Background(), validTrade("BTC/USD", time.Now())); err == nil {
		t.Fatal("expected downstream error")
	}
	if m.count("pipeline_process") != 1 {
		t.Fatalf("expected 1 process error, got %d", m.count("pipeline_process"))
	}

	// once the sink recovers, the flush loop drains the buffer
	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	deadline := time.After(2 * time.Second)
	for sink.len() == 0 {
		select {
		case <-deadline:
			t.Fatal("buffered trade never flushed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPipelineStopIdempotent(t *testing.T) {
	p := NewTradePipeline(&recordingSink{}, newCountingMetrics())
	p.Start(context.Background())
	p.Stop()
	p.Stop()
	p.Start(context.Background())
	p.Stop()
}
