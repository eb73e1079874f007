package usecase

import (
	"fmt"

	"QuantPull/internal/domain/models"
	domrepo "QuantPull/internal/domain/repository"
	"QuantPull/pkg/logger"
)

// RiskManagerConfig holds the immutable risk settings.
type RiskManagerConfig struct {
	RiskTolerance   float64 // fraction of equity at risk per position
	TakeProfitRatio float64 // target offset from entry, fraction
	StopLossRatio   float64 // stop offset from entry, fraction
	Equity          float64 // account equity used for sizing
}

// RiskManager sizes actionable signals and attaches stop and target prices.
// An inadmissible signal is downgraded to HOLD, never rejected with an error.
type RiskManager struct {
	cfg     RiskManagerConfig
	log     *logger.Logger
	metrics domrepo.Metrics
}

// NewRiskManager validates the ratios up front: each must be in (0, 1) and
// the stop must sit inside the take-profit. Bad settings are a configuration
// error, not a runtime condition.
func NewRiskManager(cfg RiskManagerConfig, log *logger.Logger, metrics domrepo.Metrics) (*RiskManager, error) {
	for name, v := range map[string]float64{
		"risk_tolerance":    cfg.RiskTolerance,
		"take_profit_ratio": cfg.TakeProfitRatio,
		"stop_loss_ratio":   cfg.StopLossRatio,
	} {
		if v <= 0 || v >= 1 {
			return nil, fmt.Errorf("%s must be in (0, 1), got %g", name, v)
		}
	}
	if cfg.StopLossRatio >= cfg.TakeProfitRatio {
		return nil, fmt.Errorf("stop_loss_ratio %g must be below take_profit_ratio %g",
			cfg.StopLossRatio, cfg.TakeProfitRatio)
	}
	if cfg.Equity <= 0 {
		return nil, fmt.Errorf("equity must be positive, got %g", cfg.Equity)
	}
	return &RiskManager{cfg: cfg, log: log, metrics: metrics}, nil
}

// Budget returns the full per-position risk budget in account currency,
// riskTolerance * equity. Callers that track open exposure pass what is left
// of it to Assess.
func (r *RiskManager) Budget() float64 {
	return r.cfg.RiskTolerance * r.cfg.Equity
}

// Params returns the settings decisions are computed under.
func (r *RiskManager) Params() models.RiskParams {
	return models.RiskParams{
		RiskTolerance:   r.cfg.RiskTolerance,
		TakeProfitRatio: r.cfg.TakeProfitRatio,
		StopLossRatio:   r.cfg.StopLossRatio,
	}
}

// Assess turns a signal into a risk decision. HOLD signals pass through
// inadmissible with zero size. Actionable signals get side-aware stop and
// target prices and a size capped by the per-position risk budget:
//
//	size = riskTolerance * equity / |entry - stop|
//
// remainingBudget is the caller's unallocated share of Budget(), in account
// currency. A position whose risk amount does not fit in it is inadmissible
// and downgraded to HOLD, as is a non-positive entry price.
func (r *RiskManager) Assess(sig models.Signal, remainingBudget float64) models.RiskDecision {
	dec := models.RiskDecision{
		Signal: sig,
		Params: r.Params(),
	}
	if !sig.Actionable() {
		return dec
	}

	entry := sig.Price
	if entry <= 0 {
		r.metrics.RecordError("risk_bad_entry")
		r.log.Warn("signal without usable entry price downgraded",
			logger.String("symbol", sig.Symbol),
			logger.String("action", string(sig.Action)))
		dec.Signal.Action = models.ActionHold
		return dec
	}

	switch sig.Action {
	case models.ActionBuy:
		dec.StopLoss = entry * (1 - r.cfg.StopLossRatio)
		dec.TakeProfit = entry * (1 + r.cfg.TakeProfitRatio)
	case models.ActionSell:
		dec.StopLoss = entry * (1 + r.cfg.StopLossRatio)
		dec.TakeProfit = entry * (1 - r.cfg.TakeProfitRatio)
	}

	perUnitRisk := entry * r.cfg.StopLossRatio
	required := r.cfg.RiskTolerance * r.cfg.Equity
	size := required / perUnitRisk
	if size <= 0 {
		dec.Signal.Action = models.ActionHold
		return dec
	}
	if required > remainingBudget {
		r.metrics.RecordError("risk_budget_exhausted")
		r.log.Warn("position does not fit remaining risk budget",
			logger.String("symbol", sig.Symbol),
			logger.Float64("required", required),
			logger.Float64("remaining", remainingBudget))
		dec.Signal.Action = models.ActionHold
		return dec
	}

	dec.Size = size
	dec.Admissible = true

	r.log.Debug("risk decision",
		logger.String("symbol", sig.Symbol),
		logger.String("action", string(sig.Action)),
		logger.Float64("size", size),
		logger.Float64("stop", dec.StopLoss),
		logger.Float64("target", dec.TakeProfit))
	return dec
}
