package risk

// Momentum exit bounds on RSI.
const (
	OverboughtRSI = 70
	OversoldRSI   = 30
)

// ExitSnapshot is what the monitor knows about a contract when deciding an exit.
type ExitSnapshot struct {
	Rise             bool // CALL contract; false means PUT
	ProfitPercentage float64
	RSI              float64
	Engulfing        int
}

// CheckExit applies the protective exits in precedence order: stop-loss, take-profit,
// opposing engulfing pattern, then RSI momentum.
func CheckExit(s ExitSnapshot, p TradingParameters) ExitReason {
	switch {
	case s.ProfitPercentage <= -p.StopLossPercent:
		return ExitStopLoss
	case s.ProfitPercentage >= p.TakeProfitPercent:
		return ExitTakeProfit
	case s.Rise && s.Engulfing == -100, !s.Rise && s.Engulfing == 100:
		return ExitEngulfing
	case s.Rise && s.RSI > OverboughtRSI, !s.Rise && s.RSI < OversoldRSI:
		return ExitRSI
	}
	return ExitNone
}
