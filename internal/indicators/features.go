// Package indicators turns candle history into the feature table the strategies, the
// regime classifier and the contract monitor read.
package indicators

import (
	"trading-loop/pkg/venue"
)

// Features holds every indicator series aligned with the candles it was computed from.
type Features struct {
	Epoch        []int64
	Open         []float64
	High         []float64
	Low          []float64
	Close        []float64
	SMA10        []float64
	SMA20        []float64
	SMA25        []float64
	SMA50        []float64
	SMA200       []float64
	RSI          []float64
	MACD         []float64
	MACDSignal   []float64
	BBHigh       []float64
	BBLow        []float64
	IchimokuConv []float64
	IchimokuBase []float64
	ATR          []float64
	AO           []float64
	ADX          []float64
	Engulfing    []int
}

// Snapshot is one row of the feature table.
type Snapshot struct {
	Epoch        int64   `json:"epoch"`
	Close        float64 `json:"close"`
	SMA10        float64 `json:"sma_10"`
	SMA20        float64 `json:"sma_20"`
	SMA25        float64 `json:"sma_25"`
	SMA50        float64 `json:"sma_50"`
	SMA200       float64 `json:"sma_200"`
	RSI          float64 `json:"rsi"`
	MACD         float64 `json:"macd"`
	MACDSignal   float64 `json:"macd_signal"`
	BBHigh       float64 `json:"bb_high"`
	BBLow        float64 `json:"bb_low"`
	IchimokuConv float64 `json:"ichimoku_conv"`
	IchimokuBase float64 `json:"ichimoku_base"`
	ATR          float64 `json:"atr"`
	AO           float64 `json:"awesome_oscillator"`
	ADX          float64 `json:"adx"`
	Engulfing    int     `json:"engulfing"`
}

// Compute builds the feature table. It never fails; short histories yield partially
// warmed-up series.
func Compute(candles []venue.Candle) *Features {
	n := len(candles)
	f := &Features{
		Epoch: make([]int64, n),
		Open:  make([]float64, n),
		High:  make([]float64, n),
		Low:   make([]float64, n),
		Close: make([]float64, n),
	}
	for i, c := range candles {
		f.Epoch[i] = c.Epoch
		f.Open[i] = c.Open
		f.High[i] = c.High
		f.Low[i] = c.Low
		f.Close[i] = c.Close
	}

	f.SMA10 = SMASeries(f.Close, 10)
	f.SMA20 = SMASeries(f.Close, 20)
	f.SMA25 = SMASeries(f.Close, 25)
	f.SMA50 = SMASeries(f.Close, 50)
	f.SMA200 = SMASeries(f.Close, 200)
	f.RSI = RSISeries(f.Close, 14)
	f.MACD, f.MACDSignal = MACD(f.Close, 12, 26, 9)
	f.BBHigh, f.BBLow = Bollinger(f.Close, 20, 2)
	f.IchimokuConv, f.IchimokuBase = Ichimoku(f.High, f.Low, 9, 26)
	f.ATR = ATR(f.High, f.Low, f.Close, 14)
	f.AO = AwesomeOscillator(f.High, f.Low, 5, 34)
	f.ADX = ADX(f.High, f.Low, f.Close, 14)
	f.Engulfing = Engulfing(f.Open, f.Close)
	return f
}

// Len is the number of rows.
func (f *Features) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Close)
}

// At returns row i; negative i counts from the end. Out of range yields a zero Snapshot.
func (f *Features) At(i int) Snapshot {
	n := f.Len()
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return Snapshot{}
	}
	return Snapshot{
		Epoch:        f.Epoch[i],
		Close:        f.Close[i],
		SMA10:        f.SMA10[i],
		SMA20:        f.SMA20[i],
		SMA25:        f.SMA25[i],
		SMA50:        f.SMA50[i],
		SMA200:       f.SMA200[i],
		RSI:          f.RSI[i],
		MACD:         f.MACD[i],
		MACDSignal:   f.MACDSignal[i],
		BBHigh:       f.BBHigh[i],
		BBLow:        f.BBLow[i],
		IchimokuConv: f.IchimokuConv[i],
		IchimokuBase: f.IchimokuBase[i],
		ATR:          f.ATR[i],
		AO:           f.AO[i],
		ADX:          f.ADX[i],
		Engulfing:    f.Engulfing[i],
	}
}

// Last returns the newest row.
func (f *Features) Last() Snapshot { return f.At(-1) }

// Prev returns the row before the newest.
func (f *Features) Prev() Snapshot { return f.At(-2) }

// Window returns the last n rows, oldest first.
func (f *Features) Window(n int) []Snapshot {
	total := f.Len()
	if n > total {
		n = total
	}
	out := make([]Snapshot, 0, n)
	for i := total - n; i < total; i++ {
		out = append(out, f.At(i))
	}
	return out
}
