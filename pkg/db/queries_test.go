package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, ApplyMigrations(database))
	return database
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	database := newTestDB(t)
	require.NoError(t, ApplyMigrations(database))

	exists, err := columnExists(database.DB, "trades", "exit_reason")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestTradeLifecycle(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	id, err := database.CreateTrade(ctx, Trade{
		ContractID:   1001,
		Instrument:   "frxEURUSD",
		ContractType: "CALL",
		StrategyIDs:  []string{"golden_cross_ab12", "rsi_dip_cd34"},
		Stake:        10,
		EntryPrice:   10,
		Payout:       19.5,
	})
	require.NoError(t, err)
	require.Positive(t, id)

	open, err := database.GetTrade(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "open", open.Status)
	assert.Nil(t, open.ClosedAt)
	assert.ElementsMatch(t, []string{"golden_cross_ab12", "rsi_dip_cd34"}, open.StrategyIDs)

	require.NoError(t, database.CloseTrade(ctx, id, Settlement{
		ExitPrice: 19.5, PnL: 9.5, Status: "won", Outcome: OutcomeWin, ExitReason: "expired",
	}))
	closed, err := database.GetTrade(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 9.5, closed.PnL)
	assert.Equal(t, OutcomeWin, closed.Outcome)
	require.NotNil(t, closed.ClosedAt)

	assert.ErrorIs(t, database.CloseTrade(ctx, 9999, Settlement{Status: "lost"}), ErrNotFound)

	_, err = database.GetTrade(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecentOutcomesNewestFirst(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	outcomes := []string{OutcomeLoss, OutcomeLoss, OutcomeWin, OutcomeWin, OutcomeWin}
	for i, o := range outcomes {
		id, err := database.CreateTrade(ctx, Trade{ContractID: int64(i + 1), Instrument: "R", ContractType: "PUT",
			StrategyIDs: []string{"s1"}, EntryPrice: 1, OpenedAt: base})
		require.NoError(t, err)
		require.NoError(t, database.CloseTrade(ctx, id, Settlement{Outcome: o, Status: o,
			ClosedAt: base.Add(time.Duration(i) * time.Hour)}))
	}
	// An open trade never counts.
	_, err := database.CreateTrade(ctx, Trade{ContractID: 99, Instrument: "R", ContractType: "PUT", StrategyIDs: []string{"s1"}})
	require.NoError(t, err)

	got, err := database.RecentOutcomes(ctx, "s1", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{OutcomeWin, OutcomeWin, OutcomeWin}, got)

	none, err := database.RecentOutcomes(ctx, "other", 3)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRecordOutcomeCounters(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, database.RecordOutcome(ctx, []string{"a", "b"}, OutcomeWin))
	require.NoError(t, database.RecordOutcome(ctx, []string{"a"}, OutcomeLoss))
	require.NoError(t, database.RecordOutcome(ctx, []string{"a"}, OutcomeDraw))
	require.Error(t, database.RecordOutcome(ctx, []string{"a"}, "maybe"))

	perf, err := database.Performance(ctx)
	require.NoError(t, err)
	require.Len(t, perf, 2)
	assert.Equal(t, 1, perf["a"].Wins)
	assert.Equal(t, 1, perf["a"].Losses)
	assert.Equal(t, 1, perf["a"].Draws)
	assert.InDelta(t, 33.33, perf["a"].WinRate(), 0.01)
	assert.Equal(t, 100.0, perf["b"].WinRate())
}

func TestReplacePositions(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, database.ReplacePositions(ctx, []Position{
		{ContractID: 1, Instrument: "A", ContractType: "CALL", BuyPrice: 5, StrategyIDs: []string{"x"}, OpenedAt: now},
		{ContractID: 2, Instrument: "B", ContractType: "PUT", BuyPrice: 6, ResaleUnavailable: true, LedgerID: 7, OpenedAt: now},
	}))
	require.NoError(t, database.ReplacePositions(ctx, []Position{
		{ContractID: 2, Instrument: "B", ContractType: "PUT", BuyPrice: 6, ResaleUnavailable: true, LedgerID: 7, Adopted: true, OpenedAt: now},
	}))

	got, err := database.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].ContractID)
	assert.True(t, got[0].ResaleUnavailable)
	assert.True(t, got[0].Adopted)
	assert.Equal(t, int64(7), got[0].LedgerID)
	assert.Empty(t, got[0].StrategyIDs)
}

func TestConfidenceLogAndWindows(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, database.LogConfidenceChange(ctx, ConfidenceChange{
		StrategyID: "s1", OldConfidence: 0.8, NewConfidence: 0, OldActive: true, NewActive: false, WinRate: 0, Reason: "deactivated",
	}))
	log, err := database.ListConfidenceLog(ctx, 10)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.False(t, log[0].NewActive)

	id, err := database.CreateTrade(ctx, Trade{ContractID: 1, Instrument: "A", ContractType: "CALL", StrategyIDs: []string{"s1"}, EntryPrice: 10})
	require.NoError(t, err)
	require.NoError(t, database.CloseTrade(ctx, id, Settlement{PnL: -10, Outcome: OutcomeLoss, Status: "lost"}))

	windows, err := database.StrategyWindows(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, 1, windows[0].Losses)
	assert.Equal(t, -10.0, windows[0].PnL)
}

func TestInsertAndListEvents(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, d.InsertEvents(ctx, []Event{
		{ID: "a", Topic: "trade.opened", Payload: `{"contract_id":1}`, CreatedAt: now.Add(-time.Minute)},
		{ID: "b", Topic: "trade.closed", Payload: `{"contract_id":1}`, CreatedAt: now},
	}))
	require.NoError(t, d.InsertEvents(ctx, []Event{{ID: "a", Topic: "trade.opened", Payload: "{}", CreatedAt: now}}))

	all, err := d.ListEvents(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].ID)

	opened, err := d.ListEvents(ctx, "trade.opened", 10)
	require.NoError(t, err)
	require.Len(t, opened, 1)
	assert.Equal(t, `{"contract_id":1}`, opened[0].Payload)
}
