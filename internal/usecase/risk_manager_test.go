package usecase

import (
	"math"
	"testing"
	"time"

	"QuantPull/internal/domain/models"
	"QuantPull/pkg/logger"
)

func defaultRiskConfig() RiskManagerConfig {
	return RiskManagerConfig{
		RiskTolerance:   0.02,
		TakeProfitRatio: 0.05,
		StopLossRatio:   0.03,
		Equity:          100000,
	}
}

func mustRiskManager(t *testing.T, cfg RiskManagerConfig) *RiskManager {
	t.Helper()
	rm, err := NewRiskManager(cfg, logger.Nop(), newNopMetrics())
	if err != nil {
		t.Fatalf("NewRiskManager: %v", err)
	}
	return rm
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestRiskManagerRejectsBadRatios(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*RiskManagerConfig)
	}{
		{"zero risk tolerance", func(c *RiskManagerConfig) { c.RiskTolerance = 0 }},
		{"negative stop", func(c *RiskManagerConfig) { c.StopLossRatio = -0.01 }},
		{"take profit at one", func(c *RiskManagerConfig) { c.TakeProfitRatio = 1 }},
		{"stop above take profit", func(c *RiskManagerConfig) { c.StopLossRatio = 0.08 }},
		{"stop equals take profit", func(c *RiskManagerConfig) { c.StopLossRatio = 0.05 }},
		{"no equity", func(c *RiskManagerConfig) { c.Equity = 0 }},
	}
	for _, tc := range cases {
		cfg := defaultRiskConfig()
		tc.mutate(&cfg)
		if _, err := NewRiskManager(cfg, logger.Nop(), newNopMetrics()); err == nil {
			t.Fatalf("%s: expected construction error", tc.name)
		}
	}
}

func TestAssessBuySetsStopTargetAndSize(t *testing.T) {
	rm := mustRiskManager(t, defaultRiskConfig())
	sig := models.Signal{
		Symbol: "BTC/USD", Timestamp: time.Now(),
		Action: models.ActionBuy, Confidence: 0.8, Price: 100,
	}

	dec := rm.Assess(sig, rm.Budget())
	if !dec.Admissible {
		t.Fatal("expected admissible decision")
	}
	if !approx(dec.StopLoss, 97) {
		t.Fatalf("stop: want 97, got %g", dec.StopLoss)
	}
	if !approx(dec.TakeProfit, 105) {
		t.Fatalf("target: want 105, got %g", dec.TakeProfit)
	}
	// 0.02 * 100000 / (100 - 97)
	if want := 2000.0 / 3.0; !approx(dec.Size, want) {
		t.Fatalf("size: want %g, got %g", want, dec.Size)
	}
}

func TestAssessSellMirrorsStopAndTarget(t *testing.T) {
	rm := mustRiskManager(t, defaultRiskConfig())
	dec := rm.Assess(models.Signal{
		Symbol: "ETH/USD", Timestamp: time.Now(),
		Action: models.ActionSell, Confidence: 0.5, Price: 200,
	}, rm.Budget())
	if !dec.Admissible {
		t.Fatal("expected admissible decision")
	}
	if !approx(dec.StopLoss, 206) {
		t.Fatalf("stop: want 206, got %g", dec.StopLoss)
	}
	if !approx(dec.TakeProfit, 190) {
		t.Fatalf("target: want 190, got %g", dec.TakeProfit)
	}
}

func TestAssessHoldPassesThrough(t *testing.T) {
	rm := mustRiskManager(t, defaultRiskConfig())
	dec := rm.Assess(models.Signal{Symbol: "BTC/USD", Action: models.ActionHold, Price: 100}, rm.Budget())
	if dec.Admissible || dec.Size != 0 || dec.StopLoss != 0 || dec.TakeProfit != 0 {
		t.Fatalf("HOLD must pass through untouched: %+v", dec)
	}
}

func TestAssessMissingEntryDowngradesToHold(t *testing.T) {
	rm := mustRiskManager(t, defaultRiskConfig())
	dec := rm.Assess(models.Signal{Symbol: "BTC/USD", Action: models.ActionBuy, Price: 0}, rm.Budget())
	if dec.Admissible {
		t.Fatal("no entry price must be inadmissible")
	}
	if dec.Signal.Action != models.ActionHold {
		t.Fatalf("expected downgrade to HOLD, got %s", dec.Signal.Action)
	}
}

func TestAssessExhaustedBudgetDowngradesToHold(t *testing.T) {
	rm := mustRiskManager(t, defaultRiskConfig())
	sig := models.Signal{
		Symbol: "BTC/USD", Timestamp: time.Now(),
		Action: models.ActionBuy, Confidence: 0.9, Price: 100,
	}

	// The position needs riskTolerance * equity of budget; anything less
	// must not produce an admissible decision.
	dec := rm.Assess(sig, rm.Budget()/2)
	if dec.Admissible || dec.Size != 0 {
		t.Fatalf("half budget must be inadmissible: %+v", dec)
	}
	if dec.Signal.Action != models.ActionHold {
		t.Fatalf("expected downgrade to HOLD, got %s", dec.Signal.Action)
	}

	dec = rm.Assess(sig, 0)
	if dec.Admissible {
		t.Fatal("zero budget must be inadmissible")
	}

	// The exact budget still fits.
	dec = rm.Assess(sig, rm.Budget())
	if !dec.Admissible {
		t.Fatalf("full budget must be admissible: %+v", dec)
	}
}

func TestAssessRecordsParams(t *testing.T) {
	cfg := defaultRiskConfig()
	rm := mustRiskManager(t, cfg)
	dec := rm.Assess(models.Signal{Symbol: "BTC/USD", Action: models.ActionBuy, Price: 50}, rm.Budget())
	if dec.Params.RiskTolerance != cfg.RiskTolerance ||
		dec.Params.TakeProfitRatio != cfg.TakeProfitRatio ||
		dec.Params.StopLossRatio != cfg.StopLossRatio {
		t.Fatalf("decision params drifted from config: %+v", dec.Params)
	}
}
