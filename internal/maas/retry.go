package maas

import (
	"context"
	"math"
	"time"
)

type retryPolicy struct {
	maxAttempts int
	initial     time.Duration
	max         time.Duration
	factor      float64
}

// backoff returns the wait before the given attempt (attempt >= 1 is the
// first retry).
func (p retryPolicy) backoff(attempt int) time.Duration {
	d := float64(p.initial) * math.Pow(p.factor, float64(attempt-1))
	if d > float64(p.max) {
		d = float64(p.max)
	}
	return time.Duration(d)
}

// withRetry calls fn until it succeeds, fails with an error retryable rejects,
// or maxAttempts calls have been made. The last error is returned unchanged.
// onRetry runs before every wait.
func withRetry[T any](
	ctx context.Context,
	p retryPolicy,
	retryable func(error) bool,
	onRetry func(attempt int, err error),
	fn func(ctx context.Context) (T, error),
) (T, error) {
	var zero T
	maxAttempts := max(p.maxAttempts, 1)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if onRetry != nil {
				onRetry(attempt, lastErr)
			}
			timer := time.NewTimer(p.backoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !retryable(err) {
			return zero, err
		}
		lastErr = err
	}
	return zero, lastErr
}
