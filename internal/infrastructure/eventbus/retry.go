package eventbus

import (
	"context"
	"time"
)

// Default retry configuration constants.
const (
	defaultMaxRetries     = 3
	defaultInitialBackoff = 100 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
	defaultBackoffFactor  = 2.0
)

// RetryConfig configures retry behavior for event handling.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     defaultMaxRetries,
		InitialBackoff: defaultInitialBackoff,
		MaxBackoff:     defaultMaxBackoff,
		BackoffFactor:  defaultBackoffFactor,
	}
}

// NoRetry returns a configuration that makes a single attempt.
func NoRetry() RetryConfig {
	return RetryConfig{}
}

// retry calls fn until it succeeds, the attempts are exhausted or ctx is done.
// onRetry is invoked before every repeated attempt.
func (c RetryConfig) retry(ctx context.Context, fn func() error, onRetry func(attempt int, backoff time.Duration, err error)) error {
	backoff := c.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			if onRetry != nil {
				onRetry(attempt, backoff, lastErr)
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}

			// Calculate next backoff with exponential growth
			backoff = time.Duration(float64(backoff) * c.BackoffFactor)
			if backoff > c.MaxBackoff {
				backoff = c.MaxBackoff
			}
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}

	return lastErr
}
