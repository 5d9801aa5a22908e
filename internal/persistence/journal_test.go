package persistence

import (
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

func TestJournalFlushesOnSize(t *testing.T) {
	database := newTestDB(t)
	j := NewJournal(database, 2, time.Hour)
	defer j.Close()

	j.Write(events.Envelope{ID: "1", Topic: events.EventTradeOpened, Payload: map[string]int{"contract_id": 7}})
	assert.Equal(t, 1, j.Pending())
	j.Write(events.Envelope{ID: "2", Topic: events.EventTradeClosed, Payload: nil})
	assert.Equal(t, 0, j.Pending())

	rows, err := database.ListEvents(context.Background(), string(events.EventTradeOpened), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.JSONEq(t, `{"contract_id":7}`, rows[0].Payload)

	m := j.GetMetrics()
	assert.Equal(t, uint64(2), m.TotalWrites)
	assert.Equal(t, uint64(1), m.TotalBatches)
	assert.Equal(t, 2, m.LastBatchSize)
}

func TestJournalAttachPersistsBusEvents(t *testing.T) {
	database := newTestDB(t)
	bus := events.NewBus()
	j := NewJournal(database, 100, 10*time.Millisecond)
	j.Attach(bus, 16)

	bus.Publish(events.EventCycleStarted, map[string]int{"cycle": 1})
	bus.Publish(events.EventCycleCompleted, map[string]int{"cycle": 1})

	require.Eventually(t, func() bool {
		rows, err := database.ListEvents(context.Background(), "", 10)
		return err == nil && len(rows) == 2
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, j.Close())
}

func TestJournalCloseFlushesRemainder(t *testing.T) {
	database := newTestDB(t)
	j := NewJournal(database, 100, time.Hour)
	j.Write(events.Envelope{ID: "x", Topic: events.EventBotState, Payload: "running", At: time.Now()})
	require.NoError(t, j.Close())

	rows, err := database.ListEvents(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, `"running"`, rows[0].Payload)
}
