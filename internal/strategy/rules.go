package strategy

import (
	"context"

	"trading-loop/internal/indicators"
)

// GoldenCross fires when the short SMA crosses above the long SMA on the last bar.
type GoldenCross struct {
	Short int
	Long  int
}

func (g GoldenCross) Evaluate(_ context.Context, _ string, f *indicators.Features, confidence float64) (Result, error) {
	if confidence <= 0 || f.Len() < g.Long || f.Len() < 2 {
		return Result{}, nil
	}
	short := indicators.SMASeries(f.Close, g.Short)
	long := indicators.SMASeries(f.Close, g.Long)
	n := len(short)
	if short[n-2] < long[n-2] && short[n-1] > long[n-1] {
		return Result{Fired: true, Confidence: confidence}, nil
	}
	return Result{}, nil
}

// MACDCrossover fires when the MACD line crosses above its signal line.
type MACDCrossover struct {
	Fast, Slow, Signal int
}

func (m MACDCrossover) Evaluate(_ context.Context, _ string, f *indicators.Features, confidence float64) (Result, error) {
	if confidence <= 0 || f.Len() < 2 {
		return Result{}, nil
	}
	line, sig := indicators.MACD(f.Close, m.Fast, m.Slow, m.Signal)
	n := len(line)
	if line[n-1] > sig[n-1] && line[n-2] <= sig[n-2] {
		return Result{Fired: true, Confidence: confidence}, nil
	}
	return Result{}, nil
}

// AwesomeOscillator fires when the oscillator crosses above zero.
type AwesomeOscillator struct {
	Fast, Slow int
}

func (a AwesomeOscillator) Evaluate(_ context.Context, _ string, f *indicators.Features, confidence float64) (Result, error) {
	if confidence <= 0 || f.Len() < 2 {
		return Result{}, nil
	}
	ao := indicators.AwesomeOscillator(f.High, f.Low, a.Fast, a.Slow)
	n := len(ao)
	if ao[n-1] > 0 && ao[n-2] <= 0 {
		return Result{Fired: true, Confidence: confidence}, nil
	}
	return Result{}, nil
}

// RSIDip fires when RSI sits below the threshold.
type RSIDip struct {
	Period    int
	Threshold float64
}

func (r RSIDip) Evaluate(_ context.Context, _ string, f *indicators.Features, confidence float64) (Result, error) {
	if confidence <= 0 || f.Len() < r.Period+1 {
		return Result{}, nil
	}
	if indicators.RSI(f.Close, r.Period) < r.Threshold {
		return Result{Fired: true, Confidence: confidence}, nil
	}
	return Result{}, nil
}

// BollingerBreakout fires when the close breaks above the upper band.
type BollingerBreakout struct {
	Period int
	StdDev float64
}

func (b BollingerBreakout) Evaluate(_ context.Context, _ string, f *indicators.Features, confidence float64) (Result, error) {
	if confidence <= 0 || f.Len() == 0 {
		return Result{}, nil
	}
	high, _ := indicators.Bollinger(f.Close, b.Period, b.StdDev)
	n := len(high)
	if f.Close[n-1] > high[n-1] {
		return Result{Fired: true, Confidence: confidence}, nil
	}
	return Result{}, nil
}

// MLPrediction fires on any directional call from the predictor; the effective confidence
// is the entry confidence scaled by the model's.
type MLPrediction struct {
	Predictor Predictor
	Window    int
}

func (p MLPrediction) Evaluate(ctx context.Context, instrument string, f *indicators.Features, confidence float64) (Result, error) {
	if confidence <= 0 || p.Predictor == nil {
		return Result{}, nil
	}
	if f.Len() < p.Window {
		return Result{}, nil
	}
	fc, err := p.Predictor.Predict(ctx, instrument, f.Window(p.Window))
	if err != nil {
		return Result{}, err
	}
	if fc.Outlook != OutlookUp && fc.Outlook != OutlookDown {
		return Result{}, nil
	}
	return Result{Fired: true, Confidence: confidence * fc.Confidence, Outlook: fc.Outlook}, nil
}
