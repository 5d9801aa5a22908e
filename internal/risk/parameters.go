package risk

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Composite ATR tier bounds.
const (
	HighVolatilityATR = 0.005
	LowVolatilityATR  = 0.001
)

// Manager holds the configured base parameters and the set currently in force.
type Manager struct {
	mu      sync.RWMutex
	base    TradingParameters
	current TradingParameters
	tier    VolatilityTier
}

// NewManager starts from base; the tier is unknown until the first Adjust with data.
func NewManager(base TradingParameters) *Manager {
	return &Manager{base: base, current: base, tier: TierUnknown}
}

// Params returns a copy of the parameters in force.
func (m *Manager) Params() TradingParameters {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Tier returns the last classified volatility tier.
func (m *Manager) Tier() VolatilityTier {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tier
}

// Adjust retunes the parameters from the composite ATR of the instrument universe.
// A non-positive ATR means no data was available and the current set is kept.
func (m *Manager) Adjust(meanATR float64) TradingParameters {
	m.mu.Lock()
	defer m.mu.Unlock()

	if meanATR <= 0 {
		log.Debug("No volatility data, keeping trading parameters")
		return m.current
	}

	next, tier := TuneForVolatility(m.base, meanATR)
	if tier != m.tier {
		log.WithFields(log.Fields{
			"atr":       meanATR,
			"tier":      tier,
			"cooldown":  next.CooldownPeriod,
			"risk":      next.RiskPercentage,
			"sma_thres": next.SMAThreshold,
			"rsi_thres": next.RSIThreshold,
		}).Info("🔄 Trading parameters adjusted")
	}
	m.current = next
	m.tier = tier
	return next
}

// Risk scaling per tier, relative to the configured base.
const (
	highVolatilityRiskFactor = 0.75
	lowVolatilityRiskFactor  = 1.25
)

// TuneForVolatility scales the configured cooldown and risk for the tier and sets the
// tier's signal thresholds. Normal volatility keeps the configured values.
// Stop-loss and take-profit stay as configured.
func TuneForVolatility(base TradingParameters, atr float64) (TradingParameters, VolatilityTier) {
	p := base
	switch {
	case atr > HighVolatilityATR:
		p.CooldownPeriod = base.CooldownPeriod / 2
		p.SMAThreshold = 0.002
		p.RSIThreshold = 2
		p.RiskPercentage = base.RiskPercentage * highVolatilityRiskFactor
		return p, TierHigh
	case atr < LowVolatilityATR:
		p.CooldownPeriod = base.CooldownPeriod * 2
		p.SMAThreshold = 0.0005
		p.RSIThreshold = 0.5
		p.RiskPercentage = base.RiskPercentage * lowVolatilityRiskFactor
		return p, TierLow
	default:
		p.SMAThreshold = 0.001
		p.RSIThreshold = 1
		return p, TierNormal
	}
}
