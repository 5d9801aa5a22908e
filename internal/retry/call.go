// Package retry wraps outbound venue calls with bounded retries, exponential backoff and a
// hard per-attempt timeout.
package retry

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"trading-loop/pkg/venue"
)

// Policy bounds one wrapped call.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Timeout    time.Duration
}

// DefaultPolicy mirrors the loop's configuration defaults.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: time.Second, Timeout: 10 * time.Second}
}

// Observer receives one sample per attempt.
type Observer interface {
	ObserveCall(op string, latency time.Duration, err error)
}

// CallError is the terminal outcome of a call that did not succeed.
type CallError struct {
	Op       string
	Attempts int
	Cause    error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Cause)
}

func (e *CallError) Unwrap() error { return e.Cause }

// Caller applies one policy to many calls.
type Caller struct {
	Policy   Policy
	Observer Observer
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewCaller builds a Caller; obs may be nil.
func NewCaller(p Policy, obs Observer) *Caller {
	return &Caller{Policy: p, Observer: obs}
}

// Do runs op until it succeeds, the retry budget is spent, the error is a domain rejection,
// or ctx is cancelled. Waits baseDelay × 2^attempt between attempts. Any non-nil error
// returned is a *CallError.
func Do[T any](ctx context.Context, c *Caller, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	p := c.Policy
	sleep := c.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var last error
	attempts := 0
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if last == nil {
				last = err
			}
			break
		}
		attempts++
		res, err := runOnce(ctx, c, op, fn)
		if err == nil {
			return res, nil
		}
		last = err
		if venue.IsDomainRejection(err) || ctx.Err() != nil {
			break
		}
		if attempt == p.MaxRetries {
			break
		}
		delay := p.BaseDelay * time.Duration(1<<attempt)
		log.WithFields(log.Fields{"op": op, "attempt": attempt + 1, "delay": delay}).
			WithError(err).Debug("venue call failed, retrying")
		if err := sleep(ctx, delay); err != nil {
			break
		}
	}
	return zero, &CallError{Op: op, Attempts: attempts, Cause: last}
}

// runOnce runs fn once under the per-call timeout, turning a panic into an error.
func runOnce[T any](ctx context.Context, c *Caller, op string, fn func(ctx context.Context) (T, error)) (res T, err error) {
	callCtx := ctx
	if c.Policy.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.Policy.Timeout)
		defer cancel()
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", op, r)
		}
		if c.Observer != nil {
			c.Observer.ObserveCall(op, time.Since(start), err)
		}
	}()
	return fn(callCtx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
