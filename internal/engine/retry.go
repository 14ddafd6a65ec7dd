package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// maxMaybeRetries bounds retries of errors classified RetryClassMaybe,
// whatever the policy allows.
const maxMaybeRetries = 2

// RetryPolicy defines retry behavior for a specific operation type.
type RetryPolicy struct {
	MaxRetries   int           // Maximum number of retry attempts (0 = no retries)
	InitialDelay time.Duration // Initial delay before first retry
	MaxDelay     time.Duration // Maximum delay cap
	Multiplier   float64       // Exponential backoff multiplier (e.g., 2.0)
	Jitter       bool          // Adds up to 20% random delay
}

// DefaultProviderRetryPolicy retries transport failures of a single provider call.
func DefaultProviderRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Delay returns the wait before retry number attempt+1. A Retry-After hint
// carried by err wins over the backoff, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int, err error) time.Duration {
	if hint := ExtractRetryAfter(err); hint > 0 {
		return min(hint, p.MaxDelay)
	}
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	delay = math.Min(delay, float64(p.MaxDelay))
	if p.Jitter {
		delay += rand.Float64() * 0.2 * delay
	}
	return time.Duration(delay)
}

// RetryableFunc is a function that can be retried.
type RetryableFunc[T any] func(ctx context.Context) (T, error)

// RetryWithPolicy calls fn until it succeeds, classify rejects the error, or
// the policy is exhausted. onRetry, when set, runs before each wait.
func RetryWithPolicy[T any](
	ctx context.Context,
	policy RetryPolicy,
	fn RetryableFunc[T],
	classify func(error) RetryClass,
	onRetry func(attempt int, delay time.Duration, err error),
) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		switch class := classify(err); {
		case class == RetryClassNonRetryable:
			return zero, err
		case attempt >= policy.MaxRetries:
			return zero, NewRetryExhaustedError(err, attempt, policy.MaxRetries, false)
		case class == RetryClassMaybe && attempt >= maxMaybeRetries:
			return zero, NewRetryExhaustedError(err, attempt, maxMaybeRetries, true)
		}

		delay := policy.Delay(attempt, err)
		if onRetry != nil {
			onRetry(attempt+1, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		case <-timer.C:
		}
	}
}
