package models

import "time"

// Action is the discrete outcome of a signal evaluation.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// SignalComponents is the per-indicator breakdown behind a composite signal.
// Each score is in [-1, 1]; Present marks whether the indicator had enough
// data to contribute (absent components are excluded from the weighted sum).
type SignalComponents struct {
	Crossover        float64 `json:"crossover"`
	CrossoverPresent bool    `json:"crossover_present"`
	Imbalance        float64 `json:"imbalance"`
	ImbalancePresent bool    `json:"imbalance_present"`
	Volatility       float64 `json:"volatility"`
	VolPresent       bool    `json:"vol_present"`
}

// Signal is one discrete trading signal for one symbol at one instant.
type Signal struct {
	Symbol     string            `json:"symbol"`
	Timestamp  time.Time         `json:"timestamp"`
	Action     Action            `json:"action"`
	Confidence float64           `json:"confidence"` // [0, 1]
	Price      float64           `json:"price"`      // last close at evaluation time
	Components SignalComponents  `json:"components"`
	Context    map[string]string `json:"context,omitempty"`
}

// Actionable reports whether the signal asks for a position change.
func (s *Signal) Actionable() bool {
	return s.Action == ActionBuy || s.Action == ActionSell
}

// RiskParams are the immutable risk settings a RiskDecision was computed under.
type RiskParams struct {
	RiskTolerance   float64 `json:"risk_tolerance"`
	TakeProfitRatio float64 `json:"take_profit_ratio"`
	StopLossRatio   float64 `json:"stop_loss_ratio"`
}

// RiskDecision wraps a Signal with position sizing and admissibility.
// Inadmissible decisions are downgraded to HOLD before emission.
type RiskDecision struct {
	Signal     Signal     `json:"signal"`
	Admissible bool       `json:"admissible"`
	Size       float64    `json:"size"`
	StopLoss   float64    `json:"stop_loss"`
	TakeProfit float64    `json:"take_profit"`
	Params     RiskParams `json:"params"`
}
