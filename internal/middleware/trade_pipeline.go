package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"QuantPull/internal/domain/models"
	domrepo "QuantPull/internal/domain/repository"
)

// TradeSink is the minimal downstream interface the pipeline needs.
type TradeSink interface {
	ProcessTrade(ctx context.Context, t models.Trade) error
}

// TradePipeline sits between the websocket stream and the cache/observers.
// It validates inbound trades, throttles per symbol, and buffers trades the
// sink temporarily rejects so a slow downstream never stalls the stream
// reader.
type TradePipeline struct {
	sink     TradeSink
	metrics  domrepo.Metrics
	maxRPS   int
	bufCh    chan models.Trade
	stopCh   chan struct{}
	started  bool
	mu       sync.Mutex
	lastSeen map[string]time.Time // per-symbol last accepted time
}

type PipelineOption func(*TradePipeline)

// WithMaxRPS sets the max trades per second per symbol.
func WithMaxRPS(n int) PipelineOption {
	return func(p *TradePipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the retry buffer size.
func WithBufferSize(n int) PipelineOption {
	return func(p *TradePipeline) {
		if n > 0 {
			p.bufCh = make(chan models.Trade, n)
		}
	}
}

// NewTradePipeline creates a pipeline in front of sink.
func NewTradePipeline(sink TradeSink, metrics domrepo.Metrics, opts ...PipelineOption) *TradePipeline {
	p := &TradePipeline{
		sink:     sink,
		metrics:  metrics,
		maxRPS:   50,
		bufCh:    make(chan models.Trade, 1000),
		stopCh:   make(chan struct{}),
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches background flushing of buffered trades.
func (p *TradePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	go p.flushLoop(ctx)
}

func (p *TradePipeline) flushLoop(ctx context.Context) {
	backoff := 50 * time.Millisecond
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case t := <-p.bufCh:
			if err := p.sink.ProcessTrade(ctx, t); err != nil {
				if backoff < 2*time.Second {
					backoff *= 2
				}
				p.metrics.RecordError("pipeline_flush")
				time.Sleep(backoff)
				// requeue if space; drop otherwise
				select {
				case p.bufCh <- t:
				default:
					p.metrics.RecordError("pipeline_buffer_drop")
				}
			} else {
				backoff = 50 * time.Millisecond
			}
		}
	}
}

// Stop stops the background flushing.
func (p *TradePipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stopCh)
	p.mu.Unlock()
}

// ProcessTrade validates, throttles, and forwards a trade to the sink,
// buffering on sink errors. Malformed and throttled trades are dropped and
// counted, never fatal.
func (p *TradePipeline) ProcessTrade(ctx context.Context, t models.Trade) error {
	start := time.Now()
	if err := validateTrade(t); err != nil {
		p.metrics.RecordError("pipeline_malformed")
		return err
	}
	if !p.allow(t.Symbol, start) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	if err := p.sink.ProcessTrade(ctx, t); err != nil {
		p.metrics.RecordError("pipeline_process")
		select {
		case p.bufCh <- t:
		default:
			p.metrics.RecordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

func validateTrade(t models.Trade) error {
	if t.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("timestamp invalid")
	}
	if t.Price <= 0 || t.Size < 0 {
		return fmt.Errorf("invalid price/size")
	}
	return nil
}

func (p *TradePipeline) allow(symbol string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.lastSeen[symbol]
	if last.IsZero() || now.Sub(last) >= time.Second/time.Duration(p.maxRPS) {
		p.lastSeen[symbol] = now
		return true
	}
	return false
}
