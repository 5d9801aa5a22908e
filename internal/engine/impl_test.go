package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-loop/internal/strategy"
	"trading-loop/internal/tuner"
)

func TestImplOperatorActivationRestoresConfidence(t *testing.T) {
	f := newFixture(t, Config{})
	impl := NewImpl(f.bot, f.db, f.bot.Tuner, SystemStatus{Venue: "paper", DryRun: true})
	ctx := context.Background()

	_, err := f.bot.Registry.SetState("always", 0, false)
	require.NoError(t, err)

	info, err := impl.SetStrategyActive(ctx, "always", true)
	require.NoError(t, err)
	assert.True(t, info.IsActive)
	assert.Equal(t, tuner.RecoveryConfidence, info.Confidence)

	rows, err := impl.ConfidenceLog(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, tuner.ReasonOperatorSet, rows[0].Reason)
	assert.Equal(t, 0.0, rows[0].OldConfidence)

	_, err = impl.SetStrategyActive(ctx, "nope", true)
	assert.ErrorIs(t, err, strategy.ErrUnknownStrategy)
}

func TestImplReadsAfterCycle(t *testing.T) {
	f := newFixture(t, Config{})
	impl := NewImpl(f.bot, f.db, f.bot.Tuner, SystemStatus{Venue: "paper", DryRun: true, Version: "test"})
	ctx := context.Background()

	_, err := f.bot.RunCycle(ctx)
	require.NoError(t, err)

	positions, err := impl.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	for _, p := range positions {
		assert.Equal(t, "open", p.Status)
		assert.Equal(t, []string{"always"}, p.StrategyIDs)
	}

	trades, err := impl.ListTrades(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, trades, 2)

	infos, err := impl.ListStrategies(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "always", infos[0].ID)

	sys := impl.GetSystemStatus(ctx)
	assert.Equal(t, 1, sys.Strategies)
	assert.False(t, sys.StartedAt.IsZero())

	snap := impl.Metrics()
	assert.Equal(t, uint64(1), snap.Cycles)

	rep, err := impl.Report(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Trades, "nothing has closed yet")
}
