package backoff

import (
	"context"
	"errors"
	"fmt"
)

// ErrMaxAttemptsExhausted is returned when every attempt failed.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

// Retry calls fn up to maxAttempts times, sleeping per policy between failures.
// fn receives the 1-indexed attempt number. On exhaustion the returned error
// wraps both ErrMaxAttemptsExhausted and the last failure.
func Retry[T any](ctx context.Context, policy Policy, maxAttempts int, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		value, err := fn(attempt)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if attempt < maxAttempts {
			if err := Sleep(ctx, policy.Compute(attempt)); err != nil {
				return zero, err
			}
		}
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", ErrMaxAttemptsExhausted, maxAttempts, lastErr)
}
