// Package retry implements the resilient executor: a generic
// retry-with-exponential-backoff wrapper around any fallible,
// context-aware operation.
//
// The wrapper is reused for navigation, per-record save calls, and any other
// operation known to fail transiently. It never wraps the operation's error:
// after the final attempt the last error is propagated unchanged so callers
// can still match on the root cause.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy configures one executor: how many attempts and the base delay.
//
// The delay before attempt n+1 is BaseDelay * 2^(n-1): pure exponential
// backoff with no jitter.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// sleep is a test seam. When nil, a context-aware timer sleep is used.
	sleep func(ctx context.Context, d time.Duration) error
}

// Do runs op up to MaxAttempts times, sleeping the backoff schedule between
// failures. The error returned is the last operation error, unchanged.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	schedule := p.newSchedule()
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		if err := sleep(ctx, schedule.NextBackOff()); err != nil {
			// Cancelled mid-wait: stop retrying but still surface the
			// operation's own failure as the cause.
			break
		}
	}
	return zero, lastErr
}

// newSchedule builds the deterministic exponential schedule. The backoff
// library is used as the interval calculator only; the attempt loop above
// owns termination so the last error can pass through untouched.
func (p Policy) newSchedule() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Hour
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
