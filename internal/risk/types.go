// Package risk owns the per-cycle trading parameters, stake sizing and the exit rules
// applied to open contracts.
package risk

import "time"

// TradingParameters is the parameter set the gate and the monitor read each cycle.
// Percentages are in percent of stake; RiskPercentage is a fraction of balance.
type TradingParameters struct {
	CooldownPeriod    time.Duration `json:"cooldown_period"`
	RiskPercentage    float64       `json:"risk_percentage"`
	StopLossPercent   float64       `json:"stop_loss_percent"`
	TakeProfitPercent float64       `json:"take_profit_percent"`
	SMAThreshold      float64       `json:"sma_threshold"`
	RSIThreshold      float64       `json:"rsi_threshold"`
}

// DefaultParameters returns the normal-volatility parameter set.
func DefaultParameters() TradingParameters {
	return TradingParameters{
		CooldownPeriod:    time.Hour,
		RiskPercentage:    0.02,
		StopLossPercent:   10,
		TakeProfitPercent: 20,
		SMAThreshold:      0.001,
		RSIThreshold:      1,
	}
}

// VolatilityTier is the bucket the composite ATR falls into.
type VolatilityTier string

const (
	TierUnknown VolatilityTier = "unknown"
	TierHigh    VolatilityTier = "high"
	TierNormal  VolatilityTier = "normal"
	TierLow     VolatilityTier = "low"
)

// ExitReason names the protective exit that fired for a contract.
type ExitReason string

const (
	ExitNone       ExitReason = ""
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitEngulfing  ExitReason = "engulfing"
	ExitRSI        ExitReason = "rsi"
)
