package responses

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy configures reconnect behavior with exponential backoff.
type RetryPolicy struct {
	MaxRetries        int     // total retry attempts (not counting initial)
	BaseDelay         float64 // initial delay in seconds
	MaxDelay          float64 // maximum delay between retries
	BackoffMultiplier float64 // exponential backoff factor
	Jitter            bool    // add random jitter to prevent thundering herd
	OnRetry           func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy returns the default reconnect policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        4,
		BaseDelay:         1.0,
		MaxDelay:          60.0,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// Delay calculates the delay for attempt n (0-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := math.Min(p.BaseDelay*math.Pow(p.BackoffMultiplier, float64(attempt)), p.MaxDelay)
	if p.Jitter {
		// +/- 50% jitter
		delay = delay * (0.5 + rand.Float64())
	}
	return time.Duration(delay * float64(time.Second))
}

// IsRetryable reports whether the error is safe to retry. Usage, quota and
// auth failures are terminal; transport-level stream errors and backend
// overload are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var (
		usageLimit  *UsageLimitReachedError
		notIncluded *UsageNotIncludedError
		quota       *QuotaExceededError
		auth        *AuthRefreshPermanentError
		ioErr       *IOError
		overloaded  *ServerOverloadedError
		stream      *StreamError
	)
	switch {
	case errors.As(err, &usageLimit),
		errors.As(err, &notIncluded),
		errors.As(err, &quota),
		errors.As(err, &auth),
		errors.As(err, &ioErr):
		return false
	case errors.As(err, &overloaded), errors.As(err, &stream):
		return true
	}
	// Unknown errors default to retryable.
	return true
}

// Retry executes fn with the configured retry policy. Only retryable errors
// are retried; a RetryAfter hint on the error overrides the computed backoff
// unless it exceeds MaxDelay, in which case the error is surfaced at once.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	result, err := fn(ctx)
	if err == nil {
		return result, nil
	}

	for attempt := 0; attempt < policy.MaxRetries; attempt++ {
		if !IsRetryable(err) {
			return zero, err
		}

		delay := policy.Delay(attempt)
		var streamErr *StreamError
		if errors.As(err, &streamErr) && streamErr.RetryAfter != nil {
			hinted := streamErr.RetryAfter.Delay
			if hinted > time.Duration(policy.MaxDelay*float64(time.Second)) {
				// Hint exceeds the cap; surface immediately.
				return zero, err
			}
			delay = hinted
		}

		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt+1, delay)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}

		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
	}

	return zero, err
}
