package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-loop/internal/indicators"
)

type stubRule struct {
	result Result
	err    error
}

func (s stubRule) Evaluate(context.Context, string, *indicators.Features, float64) (Result, error) {
	return s.result, s.err
}

func entry(id string, conf float64, active bool, affinity ...Regime) Entry {
	return Entry{ID: id, Rule: stubRule{}, Confidence: conf, Active: active, Affinity: affinity, Direction: DirectionLong}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		adx  float64
		want Regime
	}{
		{40, RegimeTrending},
		{25.01, RegimeTrending},
		{25, RegimeVolatile},
		{20, RegimeVolatile},
		{19.99, RegimeRanging},
		{0, RegimeRanging},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.adx), "adx=%v", c.adx)
	}
}

func TestSelect(t *testing.T) {
	ml := entry("ml", 0.7, true)
	golden := entry("golden", 1.0, true, RegimeTrending)
	macd := entry("macd", 0.9, true, RegimeTrending)
	rsi := entry("rsi", 0.8, true, RegimeRanging)
	bb := entry("bb", 0.85, true, RegimeRanging, RegimeVolatile)

	t.Run("primary set keeps order and adds agnostic", func(t *testing.T) {
		got := Select([]Entry{golden, rsi, macd, bb, ml}, RegimeTrending)
		assert.Equal(t, []string{"golden", "macd", "ml"}, ids(got))
	})

	t.Run("inactive and zero confidence are not primary", func(t *testing.T) {
		off := entry("off", 0.9, false, RegimeRanging)
		zero := entry("zero", 0, true, RegimeRanging)
		got := Select([]Entry{off, zero, bb}, RegimeRanging)
		assert.Equal(t, []string{"bb"}, ids(got))
	})

	t.Run("fallback takes highest confidence active match", func(t *testing.T) {
		a := entry("a", 0, true, RegimeVolatile)
		b := entry("b", 0, true, RegimeVolatile)
		b.Confidence = 0
		off := entry("off", 0.9, false, RegimeVolatile)
		got := Select([]Entry{a, b, off}, RegimeVolatile)
		assert.Equal(t, []string{"a"}, ids(got))
	})

	t.Run("agnostic entries never serve as fallback", func(t *testing.T) {
		zeroML := entry("ml", 0, true)
		got := Select([]Entry{zeroML, entry("g", 0.9, false, RegimeTrending)}, RegimeTrending)
		assert.Empty(t, got)
	})

	t.Run("no match means no signal", func(t *testing.T) {
		assert.Empty(t, Select([]Entry{golden}, RegimeRanging))
	})
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(entry("a", 0.5, true, RegimeTrending), entry("b", 1.4, true))
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())

	b, ok := reg.Get("b")
	require.True(t, ok)
	assert.Equal(t, 1.0, b.Confidence, "confidence is clamped on add")

	require.Error(t, reg.Add(entry("a", 0.1, true)))
	require.Error(t, reg.Add(Entry{ID: "norule"}))

	prev, err := reg.SetState("a", -3, false)
	require.NoError(t, err)
	assert.Equal(t, 0.5, prev.Confidence)
	a, _ := reg.Get("a")
	assert.Equal(t, 0.0, a.Confidence)
	assert.False(t, a.Active)

	_, err = reg.SetState("missing", 1, true)
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	snapshot := reg.Entries()
	snapshot[0].Confidence = 0.99
	a, _ = reg.Get("a")
	assert.Equal(t, 0.0, a.Confidence, "snapshots are copies")
}

func TestSignalStrategyIDsSorted(t *testing.T) {
	s := Signal{Confirmations: []Confirmation{{Entry: Entry{ID: "z"}}, {Entry: Entry{ID: "a"}}}}
	assert.Equal(t, []string{"a", "z"}, s.StrategyIDs())
}
