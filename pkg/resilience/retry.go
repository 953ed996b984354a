package resilience

import (
	"context"
	"time"
)

// RetryPolicy defines retry behavior for transient failures. When
// Exponential is set the backoff doubles after every failed attempt.
type RetryPolicy struct {
	MaxRetries  int
	Backoff     time.Duration
	Exponential bool
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return RetryPolicy{MaxRetries: maxRetries, Backoff: backoff}
}

// NewExponentialPolicy retries maxRetries times sleeping base, 2*base,
// 4*base... between attempts.
func NewExponentialPolicy(maxRetries int, base time.Duration) RetryPolicy {
	p := NewRetryPolicy(maxRetries, base)
	p.Exponential = true
	return p
}

func (r RetryPolicy) Do(fn func() error) error {
	return r.DoContext(context.Background(), func(context.Context) error { return fn() })
}

func (r RetryPolicy) DoContext(ctx context.Context, fn func(context.Context) error) error {
	var err error
	delay := r.Backoff
	for i := 0; i <= r.MaxRetries; i++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if i == r.MaxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if r.Exponential {
			delay *= 2
		}
	}
	return err
}
