package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"trading-loop/internal/balance"
	"trading-loop/internal/events"
	"trading-loop/internal/monitor"
	"trading-loop/internal/order"
	"trading-loop/internal/reconciliation"
	"trading-loop/internal/retry"
	"trading-loop/internal/risk"
	"trading-loop/internal/state"
	"trading-loop/internal/strategy"
	"trading-loop/internal/tuner"
	"trading-loop/pkg/venue"
)

var (
	// ErrAlreadyRunning is returned by Start while a loop is active.
	ErrAlreadyRunning = errors.New("bot is already running")
	// ErrNotRunning is returned by Stop when no loop is active.
	ErrNotRunning = errors.New("bot is not running")
	// ErrNoInstruments means the asset filter left nothing to evaluate.
	ErrNoInstruments = errors.New("no tradable instruments")
)

// Config holds the orchestrator's timing and universe settings.
type Config struct {
	Instruments     []string // optional allow-list applied after the asset filter
	ExcludedMarkets []string
	LoopDelay       time.Duration
	TimeoutBackoff  time.Duration
	ErrorBackoff    time.Duration
}

// Deps are the collaborators the cycle drives.
type Deps struct {
	Client     venue.Client
	Caller     *retry.Caller
	Registry   *strategy.Registry
	Evaluator  *strategy.Evaluator
	Gate       *order.Gate
	Monitor    *monitor.ContractMonitor
	Tuner      *tuner.Tuner // optional
	Reconciler *reconciliation.Service
	Balance    *balance.Manager
	Risk       *risk.Manager
	Book       *state.Book
	Bus        *events.Bus
	Metrics    *monitor.CallMetrics // optional
}

// Bot runs one trading cycle at a time until stopped.
type Bot struct {
	Deps
	cfg Config

	mu        sync.Mutex
	state     State
	cancel    context.CancelFunc
	done      chan struct{}
	cycles    uint64
	lastAt    time.Time
	lastErr   string
	lastCycle *CycleReport

	sleep func(ctx context.Context, d time.Duration) error
}

// NewBot wires a bot; it does nothing until Start.
func NewBot(deps Deps, cfg Config) *Bot {
	if cfg.LoopDelay <= 0 {
		cfg.LoopDelay = 60 * time.Second
	}
	if cfg.TimeoutBackoff <= 0 {
		cfg.TimeoutBackoff = 60 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 60 * time.Second
	}
	return &Bot{Deps: deps, cfg: cfg, state: StateStopped, sleep: sleepCtx}
}

// Start launches the loop in the background. The loop outlives ctx's cancellation; use
// Stop to end it.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateStopped {
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.cancel = cancel
	b.done = make(chan struct{})
	b.state = StateRunning
	go b.loop(runCtx, b.done)

	log.WithField("loop_delay", b.cfg.LoopDelay).Info("✅ Trading loop started")
	b.Bus.Publish(events.EventBotState, StateRunning)
	return nil
}

// Stop cancels the loop and waits for the current cycle to reach a suspension point.
// Buys and sells already issued complete first.
func (b *Bot) Stop() error {
	b.mu.Lock()
	if b.state != StateRunning {
		b.mu.Unlock()
		return ErrNotRunning
	}
	b.state = StateStopping
	cancel, done := b.cancel, b.done
	b.mu.Unlock()

	log.Info("🔄 Stopping trading loop")
	cancel()
	<-done

	b.mu.Lock()
	b.state = StateStopped
	b.cancel, b.done = nil, nil
	b.mu.Unlock()

	log.Info("✅ Trading loop stopped")
	b.Bus.Publish(events.EventBotState, StateStopped)
	return nil
}

// EmergencyStop stops the loop if it runs, then sells every position whose resale is
// available. Positions that cannot be sold stay tracked.
func (b *Bot) EmergencyStop(ctx context.Context) (*monitor.Report, error) {
	if err := b.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		return nil, err
	}
	log.WithField("positions", b.Book.Len()).Warn("⚠️ Emergency stop: selling open positions")
	rep := b.Monitor.SellAll(ctx, b.Book)
	log.WithFields(log.Fields{
		"sold":   len(rep.Settlements),
		"held":   rep.Held,
		"failed": rep.Failed,
	}).Warn("⚠️ Emergency stop complete")
	b.Bus.Publish(events.EventBotState, "emergency_stopped")
	return rep, nil
}

// Status returns a snapshot safe to read from any goroutine.
func (b *Bot) Status() Status {
	b.mu.Lock()
	s := Status{
		State:     b.state,
		Cycles:    b.cycles,
		LastError: b.lastErr,
		LastCycle: b.lastCycle,
	}
	if !b.lastAt.IsZero() {
		at := b.lastAt
		s.LastCycleAt = &at
	}
	b.mu.Unlock()

	s.OpenPositions = b.Book.Len()
	bal := b.Balance.Get()
	s.Balance, s.Currency = bal.Amount, bal.Currency
	s.Params = b.Risk.Params()
	s.Tier = b.Risk.Tier()
	return s
}

// Running reports whether the loop is active.
func (b *Bot) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateRunning
}

func (b *Bot) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for ctx.Err() == nil {
		_, err := b.RunCycle(ctx)

		delay := b.cfg.LoopDelay
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, strategy.ErrEvaluationTimeout):
			delay = b.cfg.TimeoutBackoff
		case err != nil:
			delay = b.cfg.ErrorBackoff
		}
		if err := b.sleep(ctx, delay); err != nil {
			return
		}
	}
}

// RunCycle executes one full cycle. A panic anywhere in the cycle comes back as an error.
func (b *Bot) RunCycle(ctx context.Context) (rep *CycleReport, err error) {
	b.mu.Lock()
	b.cycles++
	n := b.cycles
	b.mu.Unlock()

	start := time.Now()
	rep = &CycleReport{Cycle: n, StartedAt: start, Skipped: map[order.SkipReason]int{}}
	logger := log.WithField("cycle", n)
	b.Bus.Publish(events.EventCycleStarted, map[string]any{"cycle": n})

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
		rep.Duration = time.Since(start)
		if b.Metrics != nil {
			b.Metrics.ObserveCycle(rep.Duration, err)
		}

		b.mu.Lock()
		b.lastAt = time.Now()
		b.lastCycle = rep
		b.lastErr = ""
		if err != nil {
			b.lastErr = err.Error()
		}
		b.mu.Unlock()

		switch {
		case err == nil:
			logger.WithFields(log.Fields{
				"signals":  rep.Signals,
				"opened":   rep.Opened,
				"settled":  rep.Settled,
				"duration": rep.Duration.Round(time.Millisecond),
			}).Info("✅ Cycle completed")
			b.Bus.Publish(events.EventCycleCompleted, *rep)
		case errors.Is(err, strategy.ErrEvaluationTimeout):
			logger.WithField("backoff", b.cfg.TimeoutBackoff).Warn("⚠️ Evaluation timed out, backing off")
			b.Bus.Publish(events.EventCycleFailed, map[string]any{"cycle": n, "error": err.Error()})
		case ctx.Err() != nil:
			logger.Info("🔄 Cycle interrupted by stop request")
		default:
			logger.WithError(err).WithField("backoff", b.cfg.ErrorBackoff).Error("❌ Cycle failed")
			b.Bus.Publish(events.EventCycleFailed, map[string]any{"cycle": n, "error": err.Error()})
		}
	}()

	return rep, b.cycle(ctx, rep, logger)
}

func (b *Bot) cycle(ctx context.Context, rep *CycleReport, logger *log.Entry) error {
	if rec, err := b.Reconciler.Sync(ctx, b.Book); err == nil {
		rep.Adopted = len(rec.Adopted)
		if rec.HasDiffs() {
			logger.WithFields(log.Fields{"adopted": rec.Adopted, "missing": rec.Missing}).Info("🔍 Portfolio reconciled")
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	_, _ = b.Balance.Sync(ctx)

	instruments, err := b.instruments(ctx)
	if err != nil {
		return err
	}
	rep.Instruments = len(instruments)

	if b.Tuner != nil {
		if _, err := b.Tuner.Tune(ctx, b.Registry); err != nil {
			logger.WithError(err).Warn("⚠️ Confidence tuning skipped")
		}
	}

	batch, err := b.Evaluator.Evaluate(ctx, instruments, b.Registry)
	if err != nil {
		rep.TimedOut = errors.Is(err, strategy.ErrEvaluationTimeout)
		return err
	}
	rep.Evaluated = batch.Evaluated
	rep.Signals = len(batch.Signals)
	rep.MeanATR = batch.MeanATR
	if b.Metrics != nil {
		b.Metrics.AddSignals(len(batch.Signals))
	}

	prevTier := b.Risk.Tier()
	params := b.Risk.Adjust(batch.MeanATR)
	if tier := b.Risk.Tier(); tier != prevTier {
		b.Bus.Publish(events.EventParamsAdjusted, map[string]any{"tier": tier, "params": params, "atr": batch.MeanATR})
	}

	traded := order.Traded{}
	for _, sig := range batch.Signals {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.Bus.Publish(events.EventSignal, map[string]any{
			"instrument": sig.Instrument,
			"regime":     sig.Regime,
			"strategies": sig.StrategyIDs(),
		})
		out, err := b.Gate.Execute(ctx, sig, b.Balance.Available(), params, b.Book, traded)
		if err != nil {
			logger.WithError(err).WithField("instrument", sig.Instrument).Warn("⚠️ Gate could not price the signal")
		}
		if out == nil {
			continue
		}
		if out.Skip != order.SkipNone {
			rep.Skipped[out.Skip]++
		}
		if len(out.Opened) > 0 {
			rep.Opened += len(out.Opened)
			if b.Metrics != nil {
				b.Metrics.AddOpened(len(out.Opened))
			}
			_, _ = b.Balance.Sync(ctx)
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	mon := b.Monitor.Run(ctx, b.Book, params)
	rep.Settled = len(mon.Settlements)
	rep.Held = mon.Held
	return nil
}

// instruments lists the active symbols that are not suspended and whose market is not
// excluded, narrowed to the configured allow-list when one is set.
func (b *Bot) instruments(ctx context.Context) ([]string, error) {
	symbols, err := retry.Do(ctx, b.Caller, "active_symbols", func(ctx context.Context) ([]venue.Symbol, error) {
		return b.Client.AssetIndex(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("asset index: %w", err)
	}
	out := FilterSymbols(symbols, b.cfg.ExcludedMarkets, b.cfg.Instruments)
	if len(out) == 0 {
		return nil, ErrNoInstruments
	}
	return out, nil
}

// FilterSymbols drops suspended symbols and excluded markets, then keeps only allow-listed
// symbols when allow is non-empty. Order follows the venue's list.
func FilterSymbols(symbols []venue.Symbol, excluded, allow []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if bool(s.IsTradingSuspended) || slices.Contains(excluded, s.Market) {
			continue
		}
		if len(allow) > 0 && !slices.Contains(allow, s.Symbol) {
			continue
		}
		out = append(out, s.Symbol)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
