package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"QuantPull/internal/domain/models"
	domrepo "QuantPull/internal/domain/repository"
	"QuantPull/internal/middleware"
	"QuantPull/internal/service/marketcache"
	"QuantPull/pkg/logger"
)

// DataObserver is notified after each applied refresh. Callbacks receive
// frozen snapshots and run outside the cache lock; a slow observer delays
// the next notification, not ingestion.
type DataObserver interface {
	OnBars(bars map[string]models.Bar)
	OnOrderBooks(books map[string]models.OrderBookSnapshot)
}

// DataManagerConfig selects which background feeds run and how often.
type DataManagerConfig struct {
	Symbols           []string
	BarInterval       time.Duration
	OrderBookInterval time.Duration
	PollBars          bool
	PollOrderBooks    bool
	StreamTrades      bool
}

// DataManager owns the market-data side of the system: the shared cache,
// the REST pollers, and the optional trade stream. Consumers read through
// it and never touch the provider directly.
type DataManager struct {
	cfg      DataManagerConfig
	provider domrepo.MarketData
	stream   domrepo.TradeStream
	cache    *marketcache.Cache
	pipeline *middleware.TradePipeline
	mirror   domrepo.SnapshotMirror
	log      *logger.Logger
	metrics  domrepo.Metrics

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	pollers   []*Poller
	wg        sync.WaitGroup
	observers []DataObserver
}

// NewDataManager wires the manager. stream and mirror may be nil.
func NewDataManager(
	cfg DataManagerConfig,
	provider domrepo.MarketData,
	stream domrepo.TradeStream,
	cache *marketcache.Cache,
	mirror domrepo.SnapshotMirror,
	log *logger.Logger,
	metrics domrepo.Metrics,
) *DataManager {
	m := &DataManager{
		cfg:      cfg,
		provider: provider,
		stream:   stream,
		cache:    cache,
		mirror:   mirror,
		log:      log,
		metrics:  metrics,
	}
	m.pipeline = middleware.NewTradePipeline(m, metrics)
	return m
}

// AddObserver registers an observer for refresh notifications. Must be
// called before StartPeriodicRefresh.
func (m *DataManager) AddObserver(obs DataObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, obs)
}

// GetLatestBars returns cached bars for the requested symbols. Symbols with
// no cached bar yet are absent from the result.
func (m *DataManager) GetLatestBars(symbols []string) map[string]models.Bar {
	all := m.cache.SnapshotBars()
	out := make(map[string]models.Bar, len(symbols))
	for _, sym := range symbols {
		if b, ok := all[sym]; ok {
			out[sym] = b
		}
	}
	return out
}

// GetLatestOrderBooks returns cached order-book snapshots for the requested
// symbols.
func (m *DataManager) GetLatestOrderBooks(symbols []string) map[string]models.OrderBookSnapshot {
	all := m.cache.SnapshotOrderBooks()
	out := make(map[string]models.OrderBookSnapshot, len(symbols))
	for _, sym := range symbols {
		if ob, ok := all[sym]; ok {
			out[sym] = ob
		}
	}
	return out
}

// BarHistory exposes the cached bar ring for indicator computation.
func (m *DataManager) BarHistory(symbol string, max int) []models.Bar {
	return m.cache.BarHistory(symbol, max)
}

// ProcessTrade applies one validated trade to the cache. It is the sink end
// of the trade pipeline.
func (m *DataManager) ProcessTrade(_ context.Context, t models.Trade) error {
	if !m.cache.PutTrade(t) {
		m.metrics.RecordStaleWrite("trade")
		return nil
	}
	m.metrics.RecordLastPrice(t.Symbol, t.Price)
	return nil
}

// StartPeriodicRefresh launches the configured pollers and, when enabled,
// the trade stream. Calling it while running returns ErrAlreadyRunning.
func (m *DataManager) StartPeriodicRefresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.pollers = nil

	if m.cfg.PollBars {
		p := NewPoller("bars", m.cfg.BarInterval, m.refreshBars, m.log, m.metrics)
		if err := p.Start(runCtx); err != nil {
			cancel()
			return err
		}
		m.pollers = append(m.pollers, p)
	}
	if m.cfg.PollOrderBooks {
		p := NewPoller("orderbooks", m.cfg.OrderBookInterval, m.refreshOrderBooks, m.log, m.metrics)
		if err := p.Start(runCtx); err != nil {
			cancel()
			m.stopPollersLocked()
			return err
		}
		m.pollers = append(m.pollers, p)
	}

	if m.cfg.StreamTrades && m.stream != nil {
		if err := m.startStream(runCtx); err != nil {
			cancel()
			m.stopPollersLocked()
			return err
		}
	}

	m.running = true
	m.log.Info("data manager started",
		logger.Strings("symbols", m.cfg.Symbols),
		logger.Bool("stream", m.cfg.StreamTrades))
	return nil
}

func (m *DataManager) startStream(ctx context.Context) error {
	if err := m.stream.Connect(ctx); err != nil {
		return err
	}
	if err := m.stream.Subscribe(ctx); err != nil {
		_ = m.stream.Close()
		return err
	}

	trades, errs := m.stream.Read(ctx)
	m.pipeline.Start(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case t, ok := <-trades:
				if !ok {
					return
				}
				if err := m.pipeline.ProcessTrade(ctx, t); err != nil {
					m.log.Debug("trade dropped", logger.Error(err))
				}
			case err, ok := <-errs:
				if !ok {
					return
				}
				if err != nil {
					m.log.Error("trade stream error", logger.Error(err))
					m.metrics.RecordError("stream")
				}
			}
		}
	}()
	return nil
}

func (m *DataManager) refreshBars(ctx context.Context) error {
	bars, err := m.provider.LatestBars(ctx, m.cfg.Symbols)
	if err != nil {
		return err
	}

	applied := make(map[string]models.Bar, len(bars))
	for sym, b := range bars {
		if !m.cache.PutBar(b) {
			m.metrics.RecordStaleWrite("bar")
			continue
		}
		m.metrics.RecordLastPrice(sym, b.Close)
		applied[sym] = b
	}
	if len(applied) == 0 {
		return nil
	}

	if m.mirror != nil {
		if err := m.mirror.MirrorBars(ctx, applied); err != nil {
			m.metrics.RecordError("mirror_bars")
		}
	}
	m.notifyBars(m.cache.SnapshotBars())
	return nil
}

func (m *DataManager) refreshOrderBooks(ctx context.Context) error {
	books, err := m.provider.LatestOrderBooks(ctx, m.cfg.Symbols)
	if err != nil {
		return err
	}

	applied := make(map[string]models.OrderBookSnapshot, len(books))
	for sym, ob := range books {
		if !m.cache.PutOrderBook(ob) {
			m.metrics.RecordStaleWrite("orderbook")
			continue
		}
		applied[sym] = ob
	}
	if len(applied) == 0 {
		return nil
	}

	if m.mirror != nil {
		if err := m.mirror.MirrorOrderBooks(ctx, applied); err != nil {
			m.metrics.RecordError("mirror_orderbooks")
		}
	}
	m.notifyOrderBooks(m.cache.SnapshotOrderBooks())
	return nil
}

func (m *DataManager) notifyBars(bars map[string]models.Bar) {
	m.mu.Lock()
	observers := make([]DataObserver, len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()
	for _, obs := range observers {
		obs.OnBars(bars)
	}
}

func (m *DataManager) notifyOrderBooks(books map[string]models.OrderBookSnapshot) {
	m.mu.Lock()
	observers := make([]DataObserver, len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()
	for _, obs := range observers {
		obs.OnOrderBooks(books)
	}
}

func (m *DataManager) stopPollersLocked() {
	for _, p := range m.pollers {
		p.Stop()
	}
	m.pollers = nil
}

// StopPeriodicRefresh stops all pollers, the stream, and the pipeline, and
// waits for every background goroutine to exit before returning.
func (m *DataManager) StopPeriodicRefresh() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()

	m.mu.Lock()
	m.stopPollersLocked()
	m.mu.Unlock()

	if m.cfg.StreamTrades && m.stream != nil {
		if err := m.stream.Close(); err != nil && !errors.Is(err, context.Canceled) {
			m.log.Debug("stream close", logger.Error(err))
		}
	}
	m.wg.Wait()
	m.pipeline.Stop()

	m.log.Info("data manager stopped")
}

// IsRunning reports whether background refresh is active.
func (m *DataManager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
