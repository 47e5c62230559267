package retry

import (
	"context"
	"errors"
	"time"
)

// ErrMaxWait is returned by Poll when the policy's MaxWait elapses first.
var ErrMaxWait = errors.New("retry: maximum wait elapsed")

// Policy describes an exponential backoff schedule.
type Policy struct {
	Initial     time.Duration
	Multiplier  float64
	Max         time.Duration
	MaxWait     time.Duration
	MaxAttempts int
}

func (p Policy) withDefaults() Policy {
	if p.Initial <= 0 {
		p.Initial = time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.Max <= 0 {
		p.Max = 10 * time.Second
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	return p
}

// Delay returns the wait before attempt n (0-based) is retried.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	delay := float64(p.Initial)
	for i := 0; i < attempt; i++ {
		delay *= p.Multiplier
		if delay >= float64(p.Max) {
			return p.Max
		}
	}
	return time.Duration(delay)
}

// Do calls fn until it succeeds, returns a non-retryable error, or MaxAttempts is reached.
// MaxAttempts <= 0 means a single attempt.
func Do(ctx context.Context, policy Policy, retryable func(error) bool, fn func(ctx context.Context, attempt int) error) error {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if retryable == nil || !retryable(lastErr) || attempt == attempts-1 {
			break
		}
		if err := Sleep(ctx, policy.Delay(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

// Poll calls check until it reports done, fails, or the policy's MaxWait elapses.
func Poll(ctx context.Context, policy Policy, check func(ctx context.Context) (bool, error)) error {
	policy = policy.withDefaults()

	var deadline time.Time
	if policy.MaxWait > 0 {
		deadline = time.Now().Add(policy.MaxWait)
	}

	for attempt := 0; ; attempt++ {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		delay := policy.Delay(attempt)
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return ErrMaxWait
			}
			if delay > remaining {
				delay = remaining
			}
		}
		if err := Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
