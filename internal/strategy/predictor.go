package strategy

import (
	"context"
	"math"

	log "github.com/sirupsen/logrus"

	"trading-loop/internal/indicators"
)

// Forecast is a predictor's directional call.
type Forecast struct {
	Outlook     Outlook `json:"outlook"`
	Confidence  float64 `json:"confidence"`
	Probability float64 `json:"probability"` // probability the next close is higher
}

// Predictor produces a directional forecast from a window of feature rows, oldest first.
type Predictor interface {
	Predict(ctx context.Context, instrument string, window []indicators.Snapshot) (Forecast, error)
}

// Forecast thresholds: above upProbability is a call up, below downProbability a call down.
const (
	upProbability   = 0.6
	downProbability = 0.4
)

func forecastFrom(p float64) Forecast {
	switch {
	case p > upProbability:
		return Forecast{Outlook: OutlookUp, Confidence: p, Probability: p}
	case p < downProbability:
		return Forecast{Outlook: OutlookDown, Confidence: 1 - p, Probability: p}
	default:
		return Forecast{Outlook: OutlookHold, Probability: p}
	}
}

// MomentumPredictor is the in-process predictor: a logistic score over window return,
// RSI displacement and the MACD histogram sign.
type MomentumPredictor struct{}

func (MomentumPredictor) Predict(_ context.Context, _ string, window []indicators.Snapshot) (Forecast, error) {
	if len(window) < 2 || window[0].Close == 0 {
		return Forecast{Outlook: OutlookHold, Probability: 0.5}, nil
	}
	first, last := window[0], window[len(window)-1]
	ret := last.Close/first.Close - 1
	z := 10*ret + 2*(last.RSI-50)/50
	switch {
	case last.MACD > last.MACDSignal:
		z += 0.5
	case last.MACD < last.MACDSignal:
		z -= 0.5
	}
	return forecastFrom(1 / (1 + math.Exp(-z))), nil
}

// FallbackPredictor asks Primary first and falls back to Secondary when it fails.
type FallbackPredictor struct {
	Primary   Predictor
	Secondary Predictor
}

func (f FallbackPredictor) Predict(ctx context.Context, instrument string, window []indicators.Snapshot) (Forecast, error) {
	fc, err := f.Primary.Predict(ctx, instrument, window)
	if err == nil {
		return fc, nil
	}
	log.WithFields(log.Fields{"instrument": instrument}).WithError(err).Warn("⚠️ Remote predictor failed, using local model")
	return f.Secondary.Predict(ctx, instrument, window)
}
