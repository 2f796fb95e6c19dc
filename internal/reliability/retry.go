package reliability

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy decides whether and when a failed operation is retried.
type RetryPolicy interface {
	// ShouldRetry reports whether attempt (1-based) should be retried and
	// after what delay.
	ShouldRetry(attempt int, err error) (bool, time.Duration)

	// MaxRetries returns the maximum number of retries.
	MaxRetries() int
}

// ExponentialBackoff grows the delay by a multiplier per attempt, capped at
// MaxInterval, with ±15% jitter.
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxAttempts     int
	Jitter          bool
}

// NewExponentialBackoff creates an exponential backoff policy with jitter.
func NewExponentialBackoff(initial, max time.Duration, multiplier float64, maxRetries int) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialInterval: initial,
		MaxInterval:     max,
		Multiplier:      multiplier,
		MaxAttempts:     maxRetries,
		Jitter:          true,
	}
}

// ShouldRetry implements RetryPolicy.
func (e *ExponentialBackoff) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if err == nil || attempt > e.MaxAttempts {
		return false, 0
	}
	return true, e.delay(attempt)
}

// MaxRetries implements RetryPolicy.
func (e *ExponentialBackoff) MaxRetries() int {
	return e.MaxAttempts
}

func (e *ExponentialBackoff) delay(attempt int) time.Duration {
	d := float64(e.InitialInterval) * math.Pow(e.Multiplier, float64(attempt-1))
	if d > float64(e.MaxInterval) {
		d = float64(e.MaxInterval)
	}
	if e.Jitter {
		d += (rand.Float64() - 0.5) * 0.3 * d
	}
	return time.Duration(d)
}

// FixedDelay retries with a constant delay.
type FixedDelay struct {
	Interval    time.Duration
	MaxAttempts int
}

// NewFixedDelay creates a constant-delay policy.
func NewFixedDelay(interval time.Duration, maxRetries int) *FixedDelay {
	return &FixedDelay{Interval: interval, MaxAttempts: maxRetries}
}

// ShouldRetry implements RetryPolicy.
func (f *FixedDelay) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if err == nil || attempt > f.MaxAttempts {
		return false, 0
	}
	return true, f.Interval
}

// MaxRetries implements RetryPolicy.
func (f *FixedDelay) MaxRetries() int {
	return f.MaxAttempts
}

// Retry runs fn until it succeeds, the policy gives up, or ctx ends. It
// returns the last error observed.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		retry, delay := policy.ShouldRetry(attempt, lastErr)
		if !retry {
			return lastErr
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
