package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoff(t *testing.T) {
	t.Run("does not retry on success", func(t *testing.T) {
		policy := NewExponentialBackoff(100*time.Millisecond, time.Second, 2.0, 3)

		retry, _ := policy.ShouldRetry(1, nil)

		assert.False(t, retry)
	})

	t.Run("stops after max attempts", func(t *testing.T) {
		policy := NewExponentialBackoff(100*time.Millisecond, time.Second, 2.0, 3)
		err := errors.New("fail")

		retry, _ := policy.ShouldRetry(3, err)
		assert.True(t, retry)

		retry, _ = policy.ShouldRetry(4, err)
		assert.False(t, retry)
	})

	t.Run("delay grows and is capped", func(t *testing.T) {
		policy := NewExponentialBackoff(100*time.Millisecond, 300*time.Millisecond, 2.0, 10)
		policy.Jitter = false
		err := errors.New("fail")

		_, first := policy.ShouldRetry(1, err)
		_, second := policy.ShouldRetry(2, err)
		_, fifth := policy.ShouldRetry(5, err)

		assert.Equal(t, 100*time.Millisecond, first)
		assert.Equal(t, 200*time.Millisecond, second)
		assert.Equal(t, 300*time.Millisecond, fifth)
	})

	t.Run("jitter keeps the delay near the base value", func(t *testing.T) {
		policy := NewExponentialBackoff(100*time.Millisecond, time.Second, 2.0, 10)
		err := errors.New("fail")

		for i := 0; i < 20; i++ {
			_, delay := policy.ShouldRetry(1, err)
			assert.GreaterOrEqual(t, delay, 85*time.Millisecond)
			assert.LessOrEqual(t, delay, 115*time.Millisecond)
		}
	})
}

func TestFixedDelay(t *testing.T) {
	t.Run("returns a constant delay until max attempts", func(t *testing.T) {
		policy := NewFixedDelay(50*time.Millisecond, 2)
		err := errors.New("fail")

		retry, delay := policy.ShouldRetry(1, err)
		assert.True(t, retry)
		assert.Equal(t, 50*time.Millisecond, delay)

		retry, _ = policy.ShouldRetry(3, err)
		assert.False(t, retry)
	})
}

func TestRetry(t *testing.T) {
	t.Run("returns nil on first success", func(t *testing.T) {
		calls := 0

		err := Retry(context.Background(), NewFixedDelay(time.Millisecond, 3), func() error {
			calls++
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries until success", func(t *testing.T) {
		calls := 0

		err := Retry(context.Background(), NewFixedDelay(time.Millisecond, 5), func() error {
			calls++
			if calls < 3 {
				return errors.New("not yet")
			}
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("returns the last error when the policy gives up", func(t *testing.T) {
		lastErr := errors.New("always fails")
		calls := 0

		err := Retry(context.Background(), NewFixedDelay(time.Millisecond, 2), func() error {
			calls++
			return lastErr
		})

		assert.ErrorIs(t, err, lastErr)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops when the context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := Retry(ctx, NewFixedDelay(time.Second, 5), func() error {
			return errors.New("fail")
		})

		assert.ErrorIs(t, err, context.Canceled)
	})
}
