package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-loop/pkg/venue"
)

func trendCandles(n int, step float64) []venue.Candle {
	out := make([]venue.Candle, n)
	price := 100.0
	for i := range out {
		open := price
		price += step
		out[i] = venue.Candle{
			Epoch: int64(i) * 86400,
			Open:  open,
			High:  maxf(open, price) + 0.5,
			Low:   minf(open, price) - 0.5,
			Close: price,
		}
	}
	return out
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func TestSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 4.0, SMA(values, 3))
	assert.Equal(t, 0.0, SMA(values, 6))
	assert.Equal(t, []float64{1, 1.5, 2, 3, 4}, SMASeries(values, 3))
}

func TestRSIBounds(t *testing.T) {
	rising := make([]float64, 30)
	falling := make([]float64, 30)
	for i := range rising {
		rising[i] = float64(i)
		falling[i] = float64(30 - i)
	}
	assert.Equal(t, 100.0, RSI(rising, 14))
	assert.Equal(t, 0.0, RSI(falling, 14))
	assert.Equal(t, 50.0, RSI([]float64{1, 2}, 14))

	series := RSISeries(rising, 14)
	assert.Equal(t, 50.0, series[13])
	for _, v := range series {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 100.0)
	}
}

func TestEngulfing(t *testing.T) {
	open := []float64{10, 8.5, 9, 10.5}
	close := []float64{9, 10.5, 10, 8.5}
	got := Engulfing(open, close)
	assert.Equal(t, []int{0, 100, 0, -100}, got)
}

func TestADXSeparatesTrendFromChop(t *testing.T) {
	trend := Compute(trendCandles(60, 1))
	assert.Greater(t, trend.Last().ADX, 25.0)

	chop := make([]venue.Candle, 60)
	for i := range chop {
		base := 100.0
		if i%2 == 0 {
			chop[i] = venue.Candle{Open: base, High: base + 1, Low: base - 1, Close: base + 0.5}
		} else {
			chop[i] = venue.Candle{Open: base + 0.5, High: base + 1, Low: base - 1, Close: base}
		}
	}
	assert.Less(t, Compute(chop).Last().ADX, 20.0)
}

func TestComputeAlignsSeries(t *testing.T) {
	f := Compute(trendCandles(50, 0.5))
	require.Equal(t, 50, f.Len())
	for _, s := range [][]float64{f.SMA10, f.SMA200, f.RSI, f.MACD, f.MACDSignal, f.BBHigh, f.BBLow,
		f.IchimokuConv, f.IchimokuBase, f.ATR, f.AO, f.ADX} {
		assert.Len(t, s, 50)
	}
	last := f.Last()
	assert.Equal(t, f.Close[49], last.Close)
	assert.Greater(t, last.SMA10, last.SMA25)
	assert.Greater(t, last.MACD, 0.0)
	assert.Greater(t, last.ATR, 0.0)
	assert.Greater(t, last.BBHigh, last.BBLow)
	assert.Equal(t, f.Close[48], f.Prev().Close)
	assert.Len(t, f.Window(5), 5)
	assert.Equal(t, Snapshot{}, f.At(100))
}

func TestComputeEmpty(t *testing.T) {
	f := Compute(nil)
	assert.Equal(t, 0, f.Len())
	assert.Equal(t, Snapshot{}, f.Last())
	assert.Empty(t, f.Window(3))
}
