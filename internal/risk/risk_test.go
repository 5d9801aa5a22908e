package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLotSize(t *testing.T) {
	tests := []struct {
		name      string
		balance   float64
		risk      float64
		remaining int
		wantStake float64
		wantLots  int
	}{
		{"capped by payout", 1000, 0.02, 5, 10, 1},
		{"within bounds", 300, 0.02, 5, 6, 1},
		{"floored at minimum", 10, 0.02, 5, 0.5, 1},
		{"no capacity", 1000, 0.02, 0, 10, 0},
		{"negative capacity", 1000, 0.02, -2, 10, 0},
		{"rounded to cents", 333.33, 0.02, 1, 6.67, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stake, lots := LotSize(tt.balance, tt.risk, tt.remaining)
			assert.Equal(t, tt.wantStake, stake)
			assert.Equal(t, tt.wantLots, lots)
		})
	}
}

func TestTuneForVolatility(t *testing.T) {
	base := DefaultParameters()
	base.StopLossPercent = 15

	high, tier := TuneForVolatility(base, 0.008)
	assert.Equal(t, TierHigh, tier)
	assert.Equal(t, 30*time.Minute, high.CooldownPeriod)
	assert.InDelta(t, 0.015, high.RiskPercentage, 1e-12)
	assert.Equal(t, 0.002, high.SMAThreshold)
	assert.Equal(t, 2.0, high.RSIThreshold)
	assert.Equal(t, 15.0, high.StopLossPercent, "exits are not volatility tuned")

	low, tier := TuneForVolatility(base, 0.0004)
	assert.Equal(t, TierLow, tier)
	assert.Equal(t, 2*time.Hour, low.CooldownPeriod)
	assert.InDelta(t, 0.025, low.RiskPercentage, 1e-12)

	normal, tier := TuneForVolatility(base, 0.005)
	assert.Equal(t, TierNormal, tier)
	assert.Equal(t, time.Hour, normal.CooldownPeriod)
	assert.Equal(t, 0.02, normal.RiskPercentage)
}

func TestTuneForVolatilityScalesConfiguredValues(t *testing.T) {
	base := DefaultParameters()
	base.CooldownPeriod = 10 * time.Minute
	base.RiskPercentage = 0.04

	normal, _ := TuneForVolatility(base, 0.003)
	assert.Equal(t, 10*time.Minute, normal.CooldownPeriod)
	assert.Equal(t, 0.04, normal.RiskPercentage)

	high, _ := TuneForVolatility(base, 0.02)
	assert.Equal(t, 5*time.Minute, high.CooldownPeriod)
	assert.InDelta(t, 0.03, high.RiskPercentage, 1e-12)

	low, _ := TuneForVolatility(base, 0.0001)
	assert.Equal(t, 20*time.Minute, low.CooldownPeriod)
	assert.InDelta(t, 0.05, low.RiskPercentage, 1e-12)
}

func TestManagerKeepsParametersWithoutData(t *testing.T) {
	m := NewManager(DefaultParameters())
	assert.Equal(t, TierUnknown, m.Tier())

	got := m.Adjust(0)
	assert.Equal(t, DefaultParameters(), got)
	assert.Equal(t, TierUnknown, m.Tier())

	m.Adjust(0.01)
	assert.Equal(t, TierHigh, m.Tier())
	m.Adjust(0)
	assert.Equal(t, 30*time.Minute, m.Params().CooldownPeriod, "no data keeps the last tuned set")
}

func TestCheckExit(t *testing.T) {
	p := DefaultParameters()
	tests := []struct {
		name string
		snap ExitSnapshot
		want ExitReason
	}{
		{"stop loss", ExitSnapshot{Rise: true, ProfitPercentage: -12, RSI: 50}, ExitStopLoss},
		{"stop loss at bound", ExitSnapshot{Rise: false, ProfitPercentage: -10, RSI: 50}, ExitStopLoss},
		{"take profit", ExitSnapshot{Rise: true, ProfitPercentage: 25, RSI: 50}, ExitTakeProfit},
		{"stop loss wins over pattern", ExitSnapshot{Rise: true, ProfitPercentage: -11, Engulfing: -100}, ExitStopLoss},
		{"bearish engulfing on call", ExitSnapshot{Rise: true, Engulfing: -100, RSI: 50}, ExitEngulfing},
		{"bullish engulfing on put", ExitSnapshot{Rise: false, Engulfing: 100, RSI: 50}, ExitEngulfing},
		{"same side engulfing ignored", ExitSnapshot{Rise: true, Engulfing: 100, RSI: 50}, ExitNone},
		{"overbought call", ExitSnapshot{Rise: true, RSI: 71}, ExitRSI},
		{"oversold put", ExitSnapshot{Rise: false, RSI: 29}, ExitRSI},
		{"oversold call holds", ExitSnapshot{Rise: true, RSI: 29}, ExitNone},
		{"quiet", ExitSnapshot{Rise: true, ProfitPercentage: 5, RSI: 55}, ExitNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckExit(tt.snap, p))
		})
	}
}
