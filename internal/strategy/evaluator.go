package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"trading-loop/internal/indicators"
	"trading-loop/internal/retry"
	"trading-loop/pkg/cache"
	"trading-loop/pkg/venue"
)

// ErrEvaluationTimeout means the batch did not finish inside its deadline. No partial
// results are returned with it.
var ErrEvaluationTimeout = errors.New("batch evaluation timed out")

// Evaluator runs the registry against many instruments concurrently.
type Evaluator struct {
	Client         venue.Client
	Caller         *retry.Caller
	Features       *cache.Sharded[*indicators.Features]
	CandleCount    int
	Granularity    int
	MinCandles     int
	MaxConcurrency int // 0 means one worker per instrument
	Timeout        time.Duration
}

// Batch is the outcome of one evaluation pass.
type Batch struct {
	Signals   []Signal
	Evaluated int     // instruments with enough data
	MeanATR   float64 // mean latest ATR across evaluated instruments
}

type instrumentResult struct {
	signal    *Signal
	atr       float64
	evaluated bool
}

// Evaluate fans out one worker per instrument, bounded by MaxConcurrency, and joins once.
// Signals come back in instrument order.
func (e *Evaluator) Evaluate(ctx context.Context, instruments []string, reg *Registry) (*Batch, error) {
	entries := reg.Entries()
	results := make([]instrumentResult, len(instruments))

	workers := len(instruments)
	if e.MaxConcurrency > 0 && e.MaxConcurrency < workers {
		workers = e.MaxConcurrency
	}

	evalCtx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		evalCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	sem := make(chan struct{}, max(workers, 1))
	var wg sync.WaitGroup
	for i, inst := range instruments {
		wg.Add(1)
		go func(i int, inst string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-evalCtx.Done():
				return
			}
			defer func() { <-sem }()
			results[i] = e.evaluateInstrument(evalCtx, inst, entries)
		}(i, inst)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-evalCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		log.WithField("instruments", len(instruments)).Warn("⚠️ Batch evaluation timed out")
		return nil, ErrEvaluationTimeout
	}
	// A worker may have observed the deadline just before the join completed.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if evalCtx.Err() != nil {
		return nil, ErrEvaluationTimeout
	}

	batch := &Batch{}
	atrSum := 0.0
	for _, r := range results {
		if !r.evaluated {
			continue
		}
		batch.Evaluated++
		atrSum += r.atr
		if r.signal != nil {
			batch.Signals = append(batch.Signals, *r.signal)
		}
	}
	if batch.Evaluated > 0 {
		batch.MeanATR = atrSum / float64(batch.Evaluated)
	}
	return batch, nil
}

func (e *Evaluator) evaluateInstrument(ctx context.Context, instrument string, entries []Entry) (res instrumentResult) {
	logger := log.WithField("instrument", instrument)
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", fmt.Sprint(r)).Error("❌ Instrument evaluation panicked")
			res = instrumentResult{}
		}
	}()

	candles, err := retry.Do(ctx, e.Caller, "ticks_history", func(ctx context.Context) ([]venue.Candle, error) {
		return e.Client.HistoricalCandles(ctx, instrument, e.CandleCount, e.Granularity)
	})
	if err != nil {
		logger.WithError(err).Warn("⚠️ No data: candle fetch failed")
		return res
	}
	if len(candles) < e.MinCandles {
		logger.WithFields(log.Fields{"candles": len(candles), "min": e.MinCandles}).Info("No data: not enough candles")
		return res
	}

	f := indicators.Compute(candles)
	if e.Features != nil {
		e.Features.Set(instrument, f)
	}
	last := f.Last()
	res.evaluated = true
	res.atr = last.ATR

	regime := Classify(last.ADX)
	selected := Select(entries, regime)
	if len(selected) == 0 {
		logger.WithField("regime", regime).Debug("No signal: no strategy for regime")
		return res
	}

	sig := Signal{Instrument: instrument, Regime: regime, Features: f}
	for _, entry := range selected {
		out, err := entry.Rule.Evaluate(ctx, instrument, f, entry.Confidence)
		if err != nil {
			logger.WithField("strategy", entry.ID).WithError(err).Warn("⚠️ Strategy evaluation failed")
			continue
		}
		if !out.Fired {
			continue
		}
		logger.WithFields(log.Fields{"strategy": entry.ID, "confidence": out.Confidence, "regime": regime}).
			Info("🔍 Signal detected")
		sig.Confirmations = append(sig.Confirmations, Confirmation{Entry: entry, Confidence: out.Confidence, Outlook: out.Outlook})
	}
	if len(sig.Confirmations) == 0 {
		return res
	}
	res.signal = &sig
	return res
}
