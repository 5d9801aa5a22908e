package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-loop/pkg/venue"
)

type recordingObserver struct {
	mu     sync.Mutex
	ops    []string
	errors int
}

func (r *recordingObserver) ObserveCall(op string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
	if err != nil {
		r.errors++
	}
}

func newTestCaller(p Policy, obs Observer) (*Caller, *[]time.Duration) {
	var delays []time.Duration
	c := NewCaller(p, obs)
	c.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return c, &delays
}

func TestDoRetriesWithExponentialBackoff(t *testing.T) {
	obs := &recordingObserver{}
	c, delays := newTestCaller(Policy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond}, obs)

	calls := 0
	got, err := Do(context.Background(), c, "balance", func(context.Context) (float64, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transport reset")
		}
		return 1000, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1000.0, got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *delays)
	assert.Equal(t, 3, len(obs.ops))
	assert.Equal(t, 2, obs.errors)
}

func TestDoReturnsCallErrorAfterExhaustion(t *testing.T) {
	c, delays := newTestCaller(Policy{MaxRetries: 2, BaseDelay: time.Second}, nil)
	cause := &venue.APIError{Code: "RateLimit", Message: "slow down"}

	_, err := Do(context.Background(), c, "proposal", func(context.Context) (int, error) {
		return 0, cause
	})

	var callErr *CallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, "proposal", callErr.Op)
	assert.Equal(t, 3, callErr.Attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *delays)

	var apiErr *venue.APIError
	assert.True(t, errors.As(err, &apiErr), "cause stays reachable")
}

func TestDoDoesNotRetryDomainRejections(t *testing.T) {
	c, delays := newTestCaller(Policy{MaxRetries: 5, BaseDelay: time.Second}, nil)
	calls := 0
	_, err := Do(context.Background(), c, "sell", func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, &venue.APIError{Code: "NoResale", Message: "Resale of this contract is not offered."}
	})
	assert.Equal(t, 1, calls)
	assert.Empty(t, *delays)
	assert.True(t, errors.Is(err, venue.ErrResaleNotOffered))
}

func TestDoRecoversPanics(t *testing.T) {
	c, _ := newTestCaller(Policy{MaxRetries: 1, BaseDelay: time.Millisecond}, nil)
	_, err := Do(context.Background(), c, "portfolio", func(context.Context) ([]int, error) {
		panic("unexpected shape")
	})
	var callErr *CallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, 2, callErr.Attempts)
	assert.Contains(t, callErr.Error(), "unexpected shape")
}

func TestDoAppliesPerCallTimeout(t *testing.T) {
	c := NewCaller(Policy{MaxRetries: 0, Timeout: 20 * time.Millisecond}, nil)
	_, err := Do(context.Background(), c, "ticks_history", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestDoStopsOnCancellation(t *testing.T) {
	c, _ := newTestCaller(Policy{MaxRetries: 10, BaseDelay: time.Second}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, c, "buy", func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("boom")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
