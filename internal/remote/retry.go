package remote

import (
	"context"
	"errors"
	"time"
)

// RetryConfig controls retry behavior.
type RetryConfig struct {
	MaxAttempts int           // maximum number of attempts (default: 1, no retry)
	InitialWait time.Duration // wait before first retry
	MaxWait     time.Duration // maximum wait between retries
	Multiplier  float64       // backoff multiplier
}

// DefaultRetryConfig makes a single attempt. Raise MaxAttempts to enable
// exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 1,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     30 * time.Second,
		Multiplier:  2.0,
	}
}

// Retryable returns true if the error should trigger a retry.
// Network failures and server errors are retryable; rejections are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNetworkFailure) || errors.Is(err, ErrServerError)
}

// WithRetry executes fn until it succeeds, fails with a non-retryable
// error, or cfg.MaxAttempts is reached. A *TransportError result records
// the number of attempts made.
func WithRetry[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	wait := cfg.InitialWait

	for attempt := 1; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if !Retryable(err) || attempt >= cfg.MaxAttempts {
			var te *TransportError
			if errors.As(err, &te) {
				te.Attempts = attempt
			}
			return zero, err
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}

		wait = time.Duration(float64(wait) * cfg.Multiplier)
		if cfg.MaxWait > 0 && wait > cfg.MaxWait {
			wait = cfg.MaxWait
		}
	}
}
