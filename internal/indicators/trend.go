package indicators

import "math"

// MACD returns the MACD line (EMA fast minus EMA slow) and its signal line.
func MACD(values []float64, fast, slow, signal int) (line, sig []float64) {
	f := EMASeries(values, fast)
	s := EMASeries(values, slow)
	line = make([]float64, len(values))
	for i := range values {
		line[i] = f[i] - s[i]
	}
	return line, EMASeries(line, signal)
}

// Ichimoku returns the conversion and base lines: midpoints of the highest high and lowest
// low over the short and medium windows.
func Ichimoku(high, low []float64, convWindow, baseWindow int) (conv, base []float64) {
	return midRange(high, low, convWindow), midRange(high, low, baseWindow)
}

func midRange(high, low []float64, window int) []float64 {
	out := make([]float64, len(high))
	for i := range high {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		hi, lo := math.Inf(-1), math.Inf(1)
		for j := start; j <= i; j++ {
			hi = math.Max(hi, high[j])
			lo = math.Min(lo, low[j])
		}
		out[i] = (hi + lo) / 2
	}
	return out
}

// ADX computes Wilder's Average Directional Index. Points without 2×period bars of history
// read zero.
func ADX(high, low, close []float64, period int) []float64 {
	n := len(close)
	out := make([]float64, n)
	if period <= 0 || n < 2*period+1 {
		return out
	}

	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		tr[i] = trueRange(high[i], low[i], close[i-1])
		up := high[i] - high[i-1]
		down := low[i-1] - low[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	sTR := wilder(tr, period, 1)
	sPlus := wilder(plusDM, period, 1)
	sMinus := wilder(minusDM, period, 1)

	dx := make([]float64, n)
	for i := period; i < n; i++ {
		if sTR[i] == 0 {
			continue
		}
		pdi := 100 * sPlus[i] / sTR[i]
		mdi := 100 * sMinus[i] / sTR[i]
		if pdi+mdi == 0 {
			continue
		}
		dx[i] = 100 * math.Abs(pdi-mdi) / (pdi + mdi)
	}
	return wilder(dx, period, period)
}

func trueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}
