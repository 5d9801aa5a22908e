package report

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-loop/internal/events"
	"trading-loop/pkg/db"
)

func newTestDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.ApplyMigrations(database))
	return database
}

func closeTrade(t *testing.T, d *db.Database, contract int64, ids []string, pnl float64, outcome string, at time.Time) {
	t.Helper()
	ctx := context.Background()
	id, err := d.CreateTrade(ctx, db.Trade{ContractID: contract, Instrument: "R_50", ContractType: "CALL",
		StrategyIDs: ids, Stake: 10, EntryPrice: 10, OpenedAt: at.Add(-time.Minute)})
	require.NoError(t, err)
	require.NoError(t, d.CloseTrade(ctx, id, db.Settlement{PnL: pnl, Status: outcome, Outcome: outcome, ClosedAt: at}))
	require.NoError(t, d.RecordOutcome(ctx, ids, outcome))
}

func TestGenerate(t *testing.T) {
	d := newTestDB(t)
	now := time.Now()
	closeTrade(t, d, 1, []string{"golden", "rsi"}, 9.5, db.OutcomeWin, now.Add(-time.Hour))
	closeTrade(t, d, 2, []string{"golden"}, -10, db.OutcomeLoss, now.Add(-2*time.Hour))
	closeTrade(t, d, 3, []string{"macd"}, 5, db.OutcomeWin, now.Add(-72*time.Hour))

	rep, err := Generate(context.Background(), d, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Trades)
	assert.InDelta(t, -0.5, rep.PnL, 1e-9)
	require.Len(t, rep.Strategies, 3)

	golden := rep.Strategies[0]
	assert.Equal(t, "golden", golden.StrategyID)
	assert.Equal(t, 2, golden.Trades)
	assert.Equal(t, 50.0, golden.WinRate)

	macd := rep.Strategies[1]
	assert.Equal(t, "macd", macd.StrategyID)
	assert.Equal(t, 0, macd.Trades)
	assert.Equal(t, 1, macd.TotalWins)

	var buf bytes.Buffer
	require.NoError(t, rep.Render(&buf))
	assert.Contains(t, buf.String(), "golden")
	assert.Contains(t, buf.String(), "Closed trades: 2")
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	_, err := NewScheduler(newTestDB(t), nil, "not a schedule", 0)
	assert.Error(t, err)
}

func TestSchedulerRunsJob(t *testing.T) {
	d := newTestDB(t)
	closeTrade(t, d, 1, []string{"golden"}, 1, db.OutcomeWin, time.Now())
	bus := events.NewBus()
	ch, unsub := bus.Subscribe(EventReport, 1)
	defer unsub()

	s, err := NewScheduler(d, bus, "* * * * * *", time.Hour)
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	select {
	case env := <-ch:
		rep := env.Payload.(*Report)
		assert.Equal(t, 1, rep.Trades)
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled report never ran")
	}
}
