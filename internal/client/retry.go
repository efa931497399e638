package client

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy retries a single operation with exponential backoff.
// Attempt n+1 waits InitialDelay * BackoffFactor^(n-1), capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration

	// Retryable decides whether an error is retried. Defaults to IsTransient.
	Retryable func(error) bool
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each wait, if set.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultCreatePolicy is the policy applied to page creation:
// 3 attempts, 1s initial delay, factor 4, 10s cap.
func DefaultCreatePolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		InitialDelay:  time.Second,
		BackoffFactor: 4,
		MaxDelay:      10 * time.Second,
		Retryable:     IsTransient,
	}
}

// Delay returns the wait before retry number n (1-based)
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		return 0
	}
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}

	d := float64(p.InitialDelay)
	for i := 1; i < n; i++ {
		d *= factor
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Do calls fn until it succeeds, returns a non-retryable error, or the attempts run out
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := p.Delay(attempt - 1)

			// Respect Retry-After, but never beyond the cap
			if httpErr, ok := GetHTTPError(lastErr); ok && httpErr.RetryAfter > delay {
				delay = httpErr.RetryAfter
				if p.MaxDelay > 0 && delay > p.MaxDelay {
					delay = p.MaxDelay
				}
			}

			if p.OnRetry != nil {
				p.OnRetry(attempt, delay, lastErr)
			}
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}
	}

	return fmt.Errorf("max attempts (%d) exceeded: %w", attempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
