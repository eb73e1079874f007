package usecase

import (
	"context"
	"sync"
	"time"

	"QuantPull/internal/domain/models"
	domrepo "QuantPull/internal/domain/repository"
	"QuantPull/pkg/logger"
)

// StrategyControllerConfig holds the tick cadence and the symbol universe.
type StrategyControllerConfig struct {
	Symbols      []string
	TickInterval time.Duration
	HistorySize  int // bars handed to the engine per evaluation
}

// StrategyController drives the evaluation loop: every tick it reads the
// cached market data for each symbol, asks the signal engine for a signal,
// runs it through the risk manager, and hands admissible decisions to the
// publisher. Data flows one way; the controller never writes market data.
type StrategyController struct {
	cfg       StrategyControllerConfig
	data      *DataManager
	engine    *SignalEngine
	risk      *RiskManager
	publisher domrepo.DecisionPublisher
	mirror    domrepo.SnapshotMirror
	log       *logger.Logger
	metrics   domrepo.Metrics

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewStrategyController wires the loop. publisher and mirror may be nil.
func NewStrategyController(
	cfg StrategyControllerConfig,
	data *DataManager,
	engine *SignalEngine,
	risk *RiskManager,
	publisher domrepo.DecisionPublisher,
	mirror domrepo.SnapshotMirror,
	log *logger.Logger,
	metrics domrepo.Metrics,
) *StrategyController {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	return &StrategyController{
		cfg:       cfg,
		data:      data,
		engine:    engine,
		risk:      risk,
		publisher: publisher,
		mirror:    mirror,
		log:       log,
		metrics:   metrics,
	}
}

// StartStrategy starts the data manager and the tick loop. A failed data
// manager start leaves nothing running. Returns ErrAlreadyRunning when the
// strategy is already active.
func (s *StrategyController) StartStrategy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	if err := s.data.StartPeriodicRefresh(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(loopCtx)

	s.log.Info("strategy started",
		logger.Strings("symbols", s.cfg.Symbols),
		logger.Duration("tick", s.cfg.TickInterval))
	return nil
}

func (s *StrategyController) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick evaluates every configured symbol once.
func (s *StrategyController) tick(ctx context.Context) {
	start := time.Now()
	books := s.data.GetLatestOrderBooks(s.cfg.Symbols)

	for _, sym := range s.cfg.Symbols {
		bars := s.data.BarHistory(sym, s.cfg.HistorySize)

		var book *models.OrderBookSnapshot
		if ob, ok := books[sym]; ok {
			book = &ob
		}

		sig := s.engine.Evaluate(sym, bars, book, time.Now())
		// Fills are handled by the downstream executor, so every evaluation
		// is offered the full risk budget.
		dec := s.risk.Assess(sig, s.risk.Budget())
		s.emit(ctx, sig, dec)
	}
	s.metrics.RecordLatency("strategy_tick", time.Since(start).Seconds())
}

// emit delivers the signal and any admissible decision to the collaborators.
// Delivery failures are counted and logged, never fatal to the loop.
func (s *StrategyController) emit(ctx context.Context, sig models.Signal, dec models.RiskDecision) {
	if s.mirror != nil && sig.Actionable() {
		if err := s.mirror.MirrorSignal(ctx, sig); err != nil {
			s.metrics.RecordError("mirror_signal")
		}
	}
	if s.publisher == nil {
		return
	}
	if sig.Actionable() {
		if err := s.publisher.PublishSignal(ctx, sig); err != nil {
			s.metrics.RecordError("publish_signal")
			s.log.Warn("signal publish failed",
				logger.String("symbol", sig.Symbol), logger.Error(err))
		}
	}
	if dec.Admissible {
		if err := s.publisher.PublishDecision(ctx, dec); err != nil {
			s.metrics.RecordError("publish_decision")
			s.log.Warn("decision publish failed",
				logger.String("symbol", sig.Symbol), logger.Error(err))
		}
	}
}

// StopStrategy stops the tick loop, then the data manager, and waits for
// both to fully unwind. Safe to call when not running.
func (s *StrategyController) StopStrategy() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.data.StopPeriodicRefresh()

	s.log.Info("strategy stopped")
}

// IsRunning reports whether the tick loop is active.
func (s *StrategyController) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
