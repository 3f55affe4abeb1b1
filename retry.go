package trustplane

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy configures bounded retries with exponential backoff.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	// Default: 3.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry. Default: 100ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between retries. Default: 10s.
	MaxBackoff time.Duration

	// Multiplier grows the backoff after each retry. Default: 2.0.
	Multiplier float64

	// Jitter randomizes each delay by ±Jitter fraction to avoid thundering
	// herds. Default: 0.1.
	Jitter float64
}

// DefaultRetryPolicy returns retry defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.1,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 100 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 10 * time.Second
	}
	if p.Multiplier <= 1 {
		p.Multiplier = 2.0
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = 0.1
	}
	return p
}

// retryDo runs op until it succeeds, attempts are exhausted, or the context
// is canceled. It returns the last error, which is nil on success.
func retryDo(ctx context.Context, policy RetryPolicy, op func() error) error {
	policy = policy.withDefaults()
	backoff := policy.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if attempt == policy.MaxAttempts {
			break
		}

		delay := backoff
		if policy.Jitter > 0 {
			frac := 1 + policy.Jitter*(2*rand.Float64()-1)
			delay = time.Duration(float64(delay) * frac)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		backoff = time.Duration(float64(backoff) * policy.Multiplier)
		if backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}
	return lastErr
}
