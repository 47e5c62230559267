package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func TestPolicyDelayCapsAtMax(t *testing.T) {
	policy := Policy{Initial: time.Second, Multiplier: 2, Max: 10 * time.Second}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: time.Second},
		{attempt: 1, want: 2 * time.Second},
		{attempt: 3, want: 8 * time.Second},
		{attempt: 4, want: 10 * time.Second},
		{attempt: 20, want: 10 * time.Second},
	}
	for _, tc := range cases {
		if got := policy.Delay(tc.attempt); got != tc.want {
			t.Fatalf("attempt %d: expected %s, got %s", tc.attempt, tc.want, got)
		}
	}
}

func TestDoRetriesRetryableErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Initial: time.Millisecond, MaxAttempts: 3},
		func(err error) bool { return errors.Is(err, errTransient) },
		func(context.Context, int) error {
			calls++
			if calls < 3 {
				return errTransient
			}
			return nil
		})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := Do(context.Background(), Policy{Initial: time.Millisecond, MaxAttempts: 5},
		func(err error) bool { return errors.Is(err, errTransient) },
		func(context.Context, int) error {
			calls++
			return permanent
		})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestPollTimesOut(t *testing.T) {
	policy := Policy{Initial: 5 * time.Millisecond, Max: 10 * time.Millisecond, MaxWait: 40 * time.Millisecond}
	start := time.Now()
	err := Poll(context.Background(), policy, func(context.Context) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, ErrMaxWait) {
		t.Fatalf("expected ErrMaxWait, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("poll overran its max wait: %s", elapsed)
	}
}

func TestPollHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Poll(ctx, Policy{Initial: time.Second}, func(context.Context) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
