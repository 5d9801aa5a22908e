package risk

import "github.com/shopspring/decimal"

// Stake bounds. The payout cap is expressed as a multiple of the stake.
var (
	MinStake       = decimal.NewFromFloat(0.5)
	MaxPayout      = decimal.NewFromInt(100)
	PayoutMultiple = decimal.NewFromInt(10)
)

// LotSize converts balance and risk into a per-contract stake and a lot count. The stake
// is floored at MinStake and capped so stake × PayoutMultiple stays within MaxPayout. At
// most one lot is bought per signal, fewer when capacity is exhausted.
func LotSize(balance, riskPercentage float64, remaining int) (stake float64, lots int) {
	s := decimal.NewFromFloat(balance).Mul(decimal.NewFromFloat(riskPercentage))
	switch {
	case s.LessThan(MinStake):
		s = MinStake
	case s.Mul(PayoutMultiple).GreaterThan(MaxPayout):
		s = MaxPayout.Div(PayoutMultiple)
	}
	stake, _ = s.Round(2).Float64()

	lots = min(1, remaining)
	if lots < 0 {
		lots = 0
	}
	return stake, lots
}

// RoundMoney rounds an amount to cents.
func RoundMoney(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
