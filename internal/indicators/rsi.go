package indicators

// RSI returns the latest Wilder-smoothed Relative Strength Index, or 50 when history is
// too short.
func RSI(values []float64, period int) float64 {
	s := RSISeries(values, period)
	if len(s) == 0 {
		return 50
	}
	return s[len(s)-1]
}

// RSISeries computes Wilder's RSI aligned with values. Points without enough history read 50.
func RSISeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = 50
	}
	if period <= 0 || len(values) < period+1 {
		return out
	}

	avgGain, avgLoss := 0.0, 0.0
	for i := 1; i <= period; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiFrom(avgGain, avgLoss)

	for i := period + 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiFrom(avgGain, avgLoss)
	}
	return out
}

func rsiFrom(gain, loss float64) float64 {
	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	rs := gain / loss
	return 100 - (100 / (1 + rs))
}

// AwesomeOscillator is SMA(fast) minus SMA(slow) of the bar midpoint.
func AwesomeOscillator(high, low []float64, fast, slow int) []float64 {
	mid := make([]float64, len(high))
	for i := range high {
		mid[i] = (high[i] + low[i]) / 2
	}
	f := SMASeries(mid, fast)
	s := SMASeries(mid, slow)
	out := make([]float64, len(mid))
	for i := range mid {
		out[i] = f[i] - s[i]
	}
	return out
}
