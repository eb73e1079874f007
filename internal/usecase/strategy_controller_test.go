package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"QuantPull/internal/domain/models"
	"QuantPull/internal/service/marketcache"
	"QuantPull/pkg/logger"
)

type capturingPublisher struct {
	mu        sync.Mutex
	signals   []models.Signal
	decisions []models.RiskDecision
}

func (p *capturingPublisher) PublishSignal(_ context.Context, s models.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, s)
	p.mu.Unlock()
	return nil
}

func (p *capturingPublisher) PublishDecision(_ context.Context, d models.RiskDecision) error {
	p.mu.Lock()
	p.decisions = append(p.decisions, d)
	p.mu.Unlock()
	return nil
}

func (p *capturingPublisher) Close() error { return nil }

func (p *capturingPublisher) decisionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.decisions)
}

func (p *capturingPublisher) firstDecision() models.RiskDecision {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.decisions[0]
}

// newStrategyFixture builds a full pipeline over a provider that serves an
// SMA uptrend plus heavy bid pressure, so each evaluation yields BUY.
func newStrategyFixture(t *testing.T) (*StrategyController, *fakeProvider, *capturingPublisher, *marketcache.Cache) {
	t.Helper()

	p := &fakeProvider{
		bars:  map[string]models.Bar{},
		books: map[string]models.OrderBookSnapshot{},
	}
	cache := marketcache.New(100)
	dm := NewDataManager(DataManagerConfig{
		Symbols:           []string{"BTC/USD"},
		BarInterval:       10 * time.Millisecond,
		OrderBookInterval: 10 * time.Millisecond,
		PollBars:          true,
		PollOrderBooks:    true,
	}, p, nil, cache, nil, logger.Nop(), newNopMetrics())

	engine := NewSignalEngine(SignalEngineConfig{}, logger.Nop(), newNopMetrics())
	risk := mustRiskManager(t, defaultRiskConfig())
	pub := &capturingPublisher{}

	ctrl := NewStrategyController(StrategyControllerConfig{
		Symbols:      []string{"BTC/USD"},
		TickInterval: 10 * time.Millisecond,
		HistorySize:  100,
	}, dm, engine, risk, pub, nil, logger.Nop(), newNopMetrics())

	return ctrl, p, pub, cache
}

func TestStrategyEndToEndCrossoverProducesAdmissibleBuy(t *testing.T) {
	ctrl, p, pub, cache := newStrategyFixture(t)

	// warm the bar ring with an uptrend: short SMA above long SMA
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 40; i++ {
		px := 100.0
		if i >= 30 {
			px = 100 + float64(i-30)*0.5
		}
		cache.PutBar(models.Bar{
			Symbol: "BTC/USD", Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open: px, High: px, Low: px, Close: px, Volume: 1,
		})
	}
	p.mu.Lock()
	p.books["BTC/USD"] = models.OrderBookSnapshot{
		Symbol: "BTC/USD", Timestamp: time.Now(),
		Bids: []models.PriceLevel{{Price: 104, Size: 9}},
		Asks: []models.PriceLevel{{Price: 105, Size: 1}},
	}
	p.mu.Unlock()

	if err := ctrl.StartStrategy(context.Background()); err != nil {
		t.Fatalf("StartStrategy: %v", err)
	}
	defer ctrl.StopStrategy()

	deadline := time.After(2 * time.Second)
	for pub.decisionCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("no admissible decision produced")
		case <-time.After(10 * time.Millisecond):
		}
	}

	dec := pub.firstDecision()
	if dec.Signal.Action != models.ActionBuy {
		t.Fatalf("expected BUY decision, got %s", dec.Signal.Action)
	}
	if !dec.Admissible || dec.Size <= 0 {
		t.Fatalf("decision not admissible: %+v", dec)
	}
	entry := dec.Signal.Price
	if dec.StopLoss >= entry || dec.TakeProfit <= entry {
		t.Fatalf("stop/target not bracketing entry %g: stop=%g target=%g",
			entry, dec.StopLoss, dec.TakeProfit)
	}
}

func TestStrategyDoubleStartRejected(t *testing.T) {
	ctrl, _, _, _ := newStrategyFixture(t)

	if err := ctrl.StartStrategy(context.Background()); err != nil {
		t.Fatalf("first start: %v", err)
	}
	defer ctrl.StopStrategy()

	if err := ctrl.StartStrategy(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestStrategyStopJoinsEverything(t *testing.T) {
	ctrl, _, _, _ := newStrategyFixture(t)

	if err := ctrl.StartStrategy(context.Background()); err != nil {
		t.Fatalf("StartStrategy: %v", err)
	}
	ctrl.StopStrategy()

	if ctrl.IsRunning() {
		t.Fatal("controller still running after stop")
	}
	if ctrl.data.IsRunning() {
		t.Fatal("data manager still running after stop")
	}

	// restart works cleanly
	if err := ctrl.StartStrategy(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	ctrl.StopStrategy()
}

func TestStrategyHoldProducesNoPublishes(t *testing.T) {
	ctrl, _, pub, _ := newStrategyFixture(t)
	// no bars, no books: every evaluation abstains into HOLD

	if err := ctrl.StartStrategy(context.Background()); err != nil {
		t.Fatalf("StartStrategy: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	ctrl.StopStrategy()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.signals) != 0 || len(pub.decisions) != 0 {
		t.Fatalf("HOLD ticks must not publish: %d signals, %d decisions",
			len(pub.signals), len(pub.decisions))
	}
}
