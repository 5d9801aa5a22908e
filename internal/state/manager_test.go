package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-loop/pkg/db"
	"trading-loop/pkg/venue"
)

func newTestDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.ApplyMigrations(database))
	return database
}

func TestBookPersistsAndRestores(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	opened := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	book := NewBook(database)
	require.NoError(t, book.Add(ctx, OpenPosition{
		ContractID: 2002, Instrument: "frxEURUSD", ContractType: venue.ContractPut, BuyPrice: 10,
		Payout: 19.5, StrategyIDs: []string{"rsi"}, OpenedAt: opened.Add(time.Minute),
	}))
	require.NoError(t, book.Add(ctx, OpenPosition{
		ContractID: 1001, Instrument: "R_50", ContractType: venue.ContractCall, BuyPrice: 5,
		Payout: 9.75, StrategyIDs: []string{"a", "b"}, EntryRSI: 41, EntryEngulfing: 100,
		LedgerID: 7, OpenedAt: opened,
	}))
	assert.Equal(t, 2, book.Len())

	restored := NewBook(database)
	require.NoError(t, restored.Load(ctx))
	got := restored.Positions()
	require.Len(t, got, 2)
	assert.Equal(t, int64(1001), got[0].ContractID, "oldest first")
	assert.Equal(t, []string{"a", "b"}, got[0].StrategyIDs)
	assert.Equal(t, 41.0, got[0].LastRSI, "last indicators start from the entry snapshot")
	assert.Equal(t, int64(7), got[0].LedgerID)
	assert.True(t, got[0].Rise())
	assert.False(t, got[1].Rise())
}

func TestBookReplaceIsAtomic(t *testing.T) {
	ctx := context.Background()
	book := NewBook(newTestDB(t))
	for _, id := range []int64{1, 2, 3} {
		require.NoError(t, book.Add(ctx, OpenPosition{ContractID: id}))
	}

	require.NoError(t, book.Replace(ctx, []OpenPosition{{ContractID: 2, ResaleUnavailable: true}}))
	assert.Equal(t, 1, book.Len())
	p, ok := book.Get(2)
	require.True(t, ok)
	assert.True(t, p.ResaleUnavailable)
	_, ok = book.Get(1)
	assert.False(t, ok)
}

func TestBookReturnsCopies(t *testing.T) {
	book := NewBook(nil)
	require.NoError(t, book.Add(context.Background(), OpenPosition{ContractID: 1, StrategyIDs: []string{"x"}}))
	snap := book.Positions()
	snap[0].StrategyIDs[0] = "mutated"
	p, _ := book.Get(1)
	assert.Equal(t, "x", p.StrategyIDs[0])
}
