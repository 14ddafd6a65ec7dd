package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, p.Delay(0, errors.New("boom")))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2, errors.New("boom")))
	assert.Equal(t, time.Second, p.Delay(10, errors.New("boom")))

	hinted := &EngineError{Err: errors.New("slow down"), RetryAfter: "30"}
	assert.Equal(t, time.Second, p.Delay(0, hinted), "Retry-After is capped at MaxDelay")
}

func TestRetryWithPolicy(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	t.Run("succeeds after retries", func(t *testing.T) {
		calls, retries := 0, 0
		got, err := RetryWithPolicy(context.Background(), policy, func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("connection reset")
			}
			return "ok", nil
		}, func(error) RetryClass { return RetryClassRetryable }, func(int, time.Duration, error) { retries++ })
		require.NoError(t, err)
		assert.Equal(t, "ok", got)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 2, retries)
	})

	t.Run("non retryable returns at once", func(t *testing.T) {
		calls := 0
		sentinel := errors.New("unauthorized")
		_, err := RetryWithPolicy(context.Background(), policy, func(context.Context) (int, error) {
			calls++
			return 0, sentinel
		}, func(error) RetryClass { return RetryClassNonRetryable }, nil)
		require.ErrorIs(t, err, sentinel)
		assert.Equal(t, 1, calls)
	})

	t.Run("maybe is bounded", func(t *testing.T) {
		calls := 0
		_, err := RetryWithPolicy(context.Background(), RetryPolicy{MaxRetries: 10, Multiplier: 1}, func(context.Context) (int, error) {
			calls++
			return 0, errors.New("odd failure")
		}, func(error) RetryClass { return RetryClassMaybe }, nil)
		require.Error(t, err)
		assert.Equal(t, maxMaybeRetries+1, calls)
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := RetryPolicy{MaxRetries: 1, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}
		_, err := RetryWithPolicy(ctx, slow, func(context.Context) (int, error) {
			return 0, errors.New("timeout")
		}, func(error) RetryClass { return RetryClassRetryable }, func(int, time.Duration, error) { cancel() })
		require.ErrorIs(t, err, context.Canceled)
	})
}
