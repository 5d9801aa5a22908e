package indicators

import "math"

// Bollinger returns the upper and lower bands at k population standard deviations around
// the rolling mean.
func Bollinger(values []float64, period int, k float64) (high, low []float64) {
	mean := SMASeries(values, period)
	high = make([]float64, len(values))
	low = make([]float64, len(values))
	for i := range values {
		start := i - period + 1
		if start < 0 {
			start = 0
		}
		variance := 0.0
		for j := start; j <= i; j++ {
			d := values[j] - mean[i]
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(i-start+1))
		high[i] = mean[i] + k*sd
		low[i] = mean[i] - k*sd
	}
	return high, low
}

// ATR is Wilder's Average True Range. Points before the first full window read zero.
func ATR(high, low, close []float64, period int) []float64 {
	n := len(close)
	if n == 0 {
		return nil
	}
	tr := make([]float64, n)
	tr[0] = high[0] - low[0]
	for i := 1; i < n; i++ {
		tr[i] = trueRange(high[i], low[i], close[i-1])
	}
	return wilder(tr, period, 0)
}
