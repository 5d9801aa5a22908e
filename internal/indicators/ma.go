package indicators

// SMA calculates the simple moving average for the last period values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period)
}

// SMASeries returns the rolling mean aligned with values. The first period-1 points
// average whatever history is available.
func SMASeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		n := period
		if i+1 < period {
			n = i + 1
		}
		out[i] = sum / float64(n)
	}
	return out
}

// EMASeries returns the exponential moving average with alpha 2/(span+1), seeded with the
// first value.
func EMASeries(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 || span <= 0 {
		return out
	}
	alpha := 2 / (float64(span) + 1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// wilder smooths values with alpha 1/period, seeding from the mean of the first period
// points. Indexes before the seed are zero.
func wilder(values []float64, period, start int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 || len(values)-start < period {
		return out
	}
	seed := 0.0
	for i := start; i < start+period; i++ {
		seed += values[i]
	}
	idx := start + period - 1
	out[idx] = seed / float64(period)
	for i := idx + 1; i < len(values); i++ {
		out[i] = (out[i-1]*float64(period-1) + values[i]) / float64(period)
	}
	return out
}
