package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestBackoffSchedule verifies the documented schedule: with baseDelay=100
// and maxAttempts=3 a persistently failing operation waits 100 then 200 time
// units and the 3rd failure surfaces the original error, not a wrapped one.
func TestBackoffSchedule(t *testing.T) {
	t.Parallel()

	var waits []time.Duration
	p := Policy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		sleep: func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		},
	}

	rootCause := errors.New("store unavailable")
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return rootCause
	})

	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if err != rootCause {
		t.Fatalf("expected the original error unchanged, got %v", err)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(waits) != len(want) {
		t.Fatalf("expected %d waits, got %v", len(want), waits)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Fatalf("wait %d: expected %v, got %v", i, want[i], waits[i])
		}
	}
}

// TestSuccessShortCircuits verifies no extra attempts or sleeps happen once
// the operation succeeds.
func TestSuccessShortCircuits(t *testing.T) {
	t.Parallel()

	slept := 0
	p := Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		sleep: func(context.Context, time.Duration) error {
			slept++
			return nil
		},
	}

	calls := 0
	v, err := DoValue(context.Background(), p, func(context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 7, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 7 || calls != 2 || slept != 1 {
		t.Fatalf("expected (7, 2 calls, 1 sleep), got (%d, %d, %d)", v, calls, slept)
	}
}

// TestCancelDuringWait verifies cancellation stops further attempts while
// still reporting the operation's own failure as the cause.
func TestCancelDuringWait(t *testing.T) {
	t.Parallel()

	rootCause := errors.New("nav failed")
	p := Policy{
		MaxAttempts: 4,
		BaseDelay:   time.Millisecond,
		sleep: func(context.Context, time.Duration) error {
			return context.Canceled
		},
	}

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return rootCause
	})
	if calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls)
	}
	if err != rootCause {
		t.Fatalf("expected root cause, got %v", err)
	}
}

// TestZeroAttemptsRunsOnce guards the degenerate configuration.
func TestZeroAttemptsRunsOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Policy{}.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Fatalf("expected one successful call, got calls=%d err=%v", calls, err)
	}
}
