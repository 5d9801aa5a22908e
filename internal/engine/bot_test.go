package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-loop/internal/balance"
	"trading-loop/internal/events"
	"trading-loop/internal/indicators"
	"trading-loop/internal/monitor"
	"trading-loop/internal/order"
	"trading-loop/internal/reconciliation"
	"trading-loop/internal/retry"
	"trading-loop/internal/risk"
	"trading-loop/internal/state"
	"trading-loop/internal/strategy"
	"trading-loop/internal/tuner"
	"trading-loop/pkg/db"
	"trading-loop/pkg/venue"
	"trading-loop/pkg/venue/paper"
)

type alwaysFires struct{}

func (alwaysFires) Evaluate(_ context.Context, _ string, _ *indicators.Features, confidence float64) (strategy.Result, error) {
	return strategy.Result{Fired: true, Confidence: confidence}, nil
}

type fixture struct {
	venue *paper.Venue
	bot   *Bot
	db    *db.Database
	bus   *events.Bus
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.ApplyMigrations(database))

	v := paper.New(paper.Config{InitialBalance: 1000, Instruments: []string{"R_50", "R_75"}})
	bus := events.NewBus()
	metrics := monitor.NewCallMetrics()
	caller := retry.NewCaller(retry.Policy{MaxRetries: 0}, metrics)

	reg, err := strategy.NewRegistry(strategy.Entry{
		ID: "always", Name: "always", Type: "test", Rule: alwaysFires{},
		Confidence: 1, Active: true, Direction: strategy.DirectionLong,
	})
	require.NoError(t, err)

	bal := balance.NewManager(v, caller)
	mon := monitor.NewContractMonitor(v, caller, database, bus)
	mon.Balance = bal
	mon.Metrics = metrics

	bot := NewBot(Deps{
		Client:   v,
		Caller:   caller,
		Registry: reg,
		Evaluator: &strategy.Evaluator{
			Client: v, Caller: caller, CandleCount: 60, Granularity: 60, MinCandles: 35, Timeout: 10 * time.Second,
		},
		Gate:       order.NewGate(v, caller, database, bus, order.Config{MaxOpenPositions: 5, MaxAskPrice: 10, MinPayout: 1}),
		Monitor:    mon,
		Tuner:      tuner.New(database, bus, tuner.Config{MinTrades: 5, WinRateThreshold: 50}),
		Reconciler: reconciliation.NewService(v, caller, bus),
		Balance:    bal,
		Risk:       risk.NewManager(risk.DefaultParameters()),
		Book:       state.NewBook(database),
		Bus:        bus,
		Metrics:    metrics,
	}, cfg)
	return &fixture{venue: v, bot: bot, db: database, bus: bus}
}

// recordingSleep records requested delays and blocks until the loop is cancelled after
// the first n sleeps.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
	slept  chan struct{}
}

func newRecordingSleep() *recordingSleep { return &recordingSleep{slept: make(chan struct{}, 16)} }

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	r.slept <- struct{}{}
	<-ctx.Done()
	return ctx.Err()
}

func (r *recordingSleep) first() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delays[0]
}

func TestFilterSymbols(t *testing.T) {
	symbols := []venue.Symbol{
		{Symbol: "R_50", Market: "synthetic_index"},
		{Symbol: "frxEURUSD", Market: "forex"},
		{Symbol: "frxGBPUSD", Market: "forex", IsTradingSuspended: true},
		{Symbol: "OTC_DJI", Market: "indices"},
	}
	assert.Equal(t, []string{"frxEURUSD", "OTC_DJI"}, FilterSymbols(symbols, []string{"synthetic_index"}, nil))
	assert.Equal(t, []string{"OTC_DJI"}, FilterSymbols(symbols, []string{"synthetic_index"}, []string{"OTC_DJI", "R_50"}))
	assert.Empty(t, FilterSymbols(nil, nil, nil))
}

func TestRunCycleOpensWithinCapacity(t *testing.T) {
	f := newFixture(t, Config{})
	completed, unsub := f.bus.Subscribe(events.EventCycleCompleted, 1)
	defer unsub()

	rep, err := f.bot.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Instruments)
	assert.Equal(t, 2, rep.Evaluated)
	assert.Equal(t, 2, rep.Signals)
	assert.Equal(t, 2, rep.Opened)
	assert.Equal(t, 2, f.bot.Book.Len()+rep.Settled)
	assert.LessOrEqual(t, f.bot.Book.Len(), 5)

	trades, err := f.db.ListTrades(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, trades, 2)

	select {
	case env := <-completed:
		assert.Equal(t, uint64(1), env.Payload.(CycleReport).Cycle)
	case <-time.After(time.Second):
		t.Fatal("no cycle.completed event")
	}

	status := f.bot.Status()
	assert.Equal(t, StateStopped, status.State)
	assert.Equal(t, uint64(1), status.Cycles)
	require.NotNil(t, status.LastCycle)
	assert.Empty(t, status.LastError)
}

func TestCooldownBlocksSecondCycle(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.bot.RunCycle(context.Background())
	require.NoError(t, err)

	rep, err := f.bot.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Opened)
	assert.Equal(t, 2, rep.Skipped[order.SkipCooldown])
}

func TestRunCycleTimeout(t *testing.T) {
	f := newFixture(t, Config{})
	f.bot.Evaluator.Timeout = time.Nanosecond

	rep, err := f.bot.RunCycle(context.Background())
	assert.ErrorIs(t, err, strategy.ErrEvaluationTimeout)
	assert.True(t, rep.TimedOut)
	assert.Equal(t, 0, f.bot.Book.Len())
}

func TestRunCycleRecoversPanic(t *testing.T) {
	f := newFixture(t, Config{})
	f.bot.Gate = nil

	_, err := f.bot.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle panic")
	assert.Contains(t, f.bot.Status().LastError, "cycle panic")
}

func TestLoopBackoffs(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		want  time.Duration
	}{
		{"success uses loop delay", func(*fixture) {}, 3 * time.Second},
		{"timeout uses timeout backoff", func(f *fixture) { f.bot.Evaluator.Timeout = time.Nanosecond }, 5 * time.Second},
		{"failure uses error backoff", func(f *fixture) { f.venue.FailNext("active_symbols", 1) }, 7 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{LoopDelay: 3 * time.Second, TimeoutBackoff: 5 * time.Second, ErrorBackoff: 7 * time.Second})
			tt.setup(f)
			rs := newRecordingSleep()
			f.bot.sleep = rs.sleep

			require.NoError(t, f.bot.Start(context.Background()))
			assert.ErrorIs(t, f.bot.Start(context.Background()), ErrAlreadyRunning)
			select {
			case <-rs.slept:
			case <-time.After(5 * time.Second):
				t.Fatal("loop never slept")
			}
			assert.Equal(t, tt.want, rs.first())
			assert.True(t, f.bot.Running())

			require.NoError(t, f.bot.Stop())
			assert.Equal(t, StateStopped, f.bot.Status().State)
			assert.ErrorIs(t, f.bot.Stop(), ErrNotRunning)
		})
	}
}

func TestEmergencyStopSellsOpenPositions(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	require.NoError(t, f.bot.Book.Add(ctx, state.OpenPosition{
		ContractID: f.venue.Inject("R_50", venue.ContractCall, 10, 19.5, time.Now().Add(time.Hour)),
		Instrument: "R_50", ContractType: venue.ContractCall, BuyPrice: 10, Payout: 19.5,
	}))
	blocked := f.venue.Inject("R_75", venue.ContractPut, 10, 19.5, time.Now().Add(time.Hour))
	f.venue.DisableResale(blocked)
	require.NoError(t, f.bot.Book.Add(ctx, state.OpenPosition{
		ContractID: blocked, Instrument: "R_75", ContractType: venue.ContractPut, BuyPrice: 10, Payout: 19.5,
	}))

	rep, err := f.bot.EmergencyStop(ctx)
	require.NoError(t, err)
	assert.Len(t, rep.Settlements, 1)
	assert.Equal(t, 1, rep.Held)
	assert.Equal(t, 1, f.bot.Book.Len())
	p, ok := f.bot.Book.Get(blocked)
	require.True(t, ok)
	assert.True(t, p.ResaleUnavailable)
}
