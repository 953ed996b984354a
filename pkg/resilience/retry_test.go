package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	p := NewRetryPolicy(3, time.Millisecond)
	err := p.Do(func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAndReturnsLastError(t *testing.T) {
	calls := 0
	p := NewRetryPolicy(2, time.Millisecond)
	err := p.Do(func() error {
		calls++
		return errors.New("still down")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestExponentialPolicyDoublesDelay(t *testing.T) {
	p := NewExponentialPolicy(3, 10*time.Millisecond)
	calls := 0
	start := time.Now()
	err := p.Do(func() error {
		calls++
		if calls < 4 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	// 10 + 20 + 40 ms between the four attempts.
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

func TestRetryStopsWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewRetryPolicy(5, time.Second)
	err := p.DoContext(ctx, func(context.Context) error {
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
