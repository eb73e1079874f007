package usecase

import (
	"time"

	"QuantPull/internal/domain/models"
	domrepo "QuantPull/internal/domain/repository"
	"QuantPull/internal/services/features"
	"QuantPull/pkg/logger"
)

// SignalEngineConfig holds indicator windows, the decision threshold, and
// component weights.
type SignalEngineConfig struct {
	ShortWindow     int
	LongWindow      int
	SignalThreshold float64 // composite magnitude needed for BUY/SELL
	VolCeiling      float64 // realized vol at or above this forces HOLD
	VolReference    float64 // vol above this starts damping confidence
	WeightCrossover float64
	WeightImbalance float64
	WeightVol       float64 // how hard volatility damps confidence, [0,1]
}

func (c *SignalEngineConfig) applyDefaults() {
	if c.ShortWindow <= 0 {
		c.ShortWindow = 10
	}
	if c.LongWindow <= 0 {
		c.LongWindow = 30
	}
	if c.SignalThreshold <= 0 {
		c.SignalThreshold = 0.3
	}
	if c.VolCeiling <= 0 {
		c.VolCeiling = 0.05
	}
	if c.VolReference <= 0 {
		c.VolReference = 0.02
	}
	if c.WeightCrossover <= 0 {
		c.WeightCrossover = 1
	}
	if c.WeightImbalance <= 0 {
		c.WeightImbalance = 1
	}
	if c.WeightVol <= 0 {
		c.WeightVol = 1
	}
}

// SignalEngine turns cached bars and order books into discrete trading
// signals. It holds no market state of its own; every evaluation works on
// the snapshots it is handed.
type SignalEngine struct {
	cfg     SignalEngineConfig
	log     *logger.Logger
	metrics domrepo.Metrics
}

func NewSignalEngine(cfg SignalEngineConfig, log *logger.Logger, metrics domrepo.Metrics) *SignalEngine {
	cfg.applyDefaults()
	return &SignalEngine{cfg: cfg, log: log, metrics: metrics}
}

// Evaluate produces one signal for symbol from the given bar history and
// optional order book. Components without enough data abstain; their weight
// is redistributed over the remaining ones. When everything abstains the
// result is HOLD with confidence 0.
func (e *SignalEngine) Evaluate(symbol string, bars []models.Bar, book *models.OrderBookSnapshot, now time.Time) models.Signal {
	sig := models.Signal{
		Symbol:    symbol,
		Timestamp: now,
		Action:    models.ActionHold,
	}
	if len(bars) > 0 {
		sig.Price = bars[len(bars)-1].Close
	}

	comp := models.SignalComponents{}

	if score, ok := e.crossoverScore(bars); ok {
		comp.Crossover = score
		comp.CrossoverPresent = true
	}
	if book != nil {
		if imb, ok := features.OrderBookImbalance(*book); ok {
			comp.Imbalance = imb
			comp.ImbalancePresent = true
		}
	}

	returns := features.ComputeReturns(bars)
	if len(returns) >= 2 {
		comp.Volatility = features.RealizedVolatility(returns)
		comp.VolPresent = true
	}
	sig.Components = comp

	// volatility ceiling: too turbulent to act at all
	if comp.VolPresent && comp.Volatility >= e.cfg.VolCeiling {
		e.metrics.RecordSignal(symbol, string(models.ActionHold))
		return sig
	}

	composite, any := e.composite(comp)
	if !any {
		e.metrics.RecordSignal(symbol, string(models.ActionHold))
		return sig
	}

	switch {
	case composite > e.cfg.SignalThreshold:
		sig.Action = models.ActionBuy
	case composite < -e.cfg.SignalThreshold:
		sig.Action = models.ActionSell
	}

	conf := features.Clamp(abs(composite), 0, 1)
	if comp.VolPresent {
		conf *= e.volFactor(comp.Volatility)
	}
	sig.Confidence = conf

	e.metrics.RecordSignal(symbol, string(sig.Action))
	e.log.Debug("signal evaluated",
		logger.String("symbol", symbol),
		logger.String("action", string(sig.Action)),
		logger.Float64("composite", composite),
		logger.Float64("confidence", sig.Confidence))
	return sig
}

// crossoverScore compares the short and long SMA. Abstains until the long
// window is full.
func (e *SignalEngine) crossoverScore(bars []models.Bar) (float64, bool) {
	if len(bars) < e.cfg.LongWindow {
		return 0, false
	}
	short, _ := features.SMA(bars, e.cfg.ShortWindow)
	long, _ := features.SMA(bars, e.cfg.LongWindow)
	switch {
	case short > long:
		return 1, true
	case short < long:
		return -1, true
	default:
		return 0, true
	}
}

// composite is the weighted mean of the present directional components, with
// weights renormalized so abstaining components do not dilute the result.
func (e *SignalEngine) composite(c models.SignalComponents) (float64, bool) {
	sum, weight := 0.0, 0.0
	if c.CrossoverPresent {
		sum += e.cfg.WeightCrossover * c.Crossover
		weight += e.cfg.WeightCrossover
	}
	if c.ImbalancePresent {
		sum += e.cfg.WeightImbalance * c.Imbalance
		weight += e.cfg.WeightImbalance
	}
	if weight == 0 {
		return 0, false
	}
	return sum / weight, true
}

// volFactor maps realized vol to a confidence multiplier in [0, 1]: full
// confidence at or below the reference vol, shrinking as vol approaches the
// ceiling. WeightVol controls how much of the shrinkage applies.
func (e *SignalEngine) volFactor(vol float64) float64 {
	if vol <= e.cfg.VolReference {
		return 1
	}
	raw := e.cfg.VolReference / vol
	w := features.Clamp(e.cfg.WeightVol, 0, 1)
	return features.Clamp(1-w*(1-raw), 0, 1)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
