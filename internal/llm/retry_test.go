package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy(maxRetries int, slept *[]time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		sleep: func(ctx context.Context, d time.Duration) error {
			*slept = append(*slept, d)
			return nil
		},
	}
}

func TestRetryPolicy_SuccessFirstTry(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(3, &slept)

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, slept, "no backoff before the first attempt")
}

func TestRetryPolicy_RetriesTransientThenSucceeds(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(3, &slept)

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return NewProviderError("gemini", ErrorKindOverloaded, 503, errors.New("overloaded"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, slept, 2)
}

func TestRetryPolicy_BackoffDoubles(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(3, &slept)

	failing := NewProviderError("gemini", ErrorKindTransient, 500, errors.New("boom"))
	_ = p.Do(context.Background(), func(ctx context.Context) error {
		return failing
	})

	require.Len(t, slept, 3)
	for i, d := range slept {
		base := p.BaseDelay << i
		assert.GreaterOrEqual(t, d, base, "delay %d below exponential floor", i)
		assert.Less(t, d, base+p.BaseDelay, "delay %d jitter out of range", i)
	}
}

func TestRetryPolicy_NonRetryableReturnsImmediately(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(3, &slept)

	permanent := NewProviderError("gemini", ErrorKindPermanent, 400, errors.New("bad request"))
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return permanent
	})

	assert.Equal(t, permanent, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, slept)
}

func TestRetryPolicy_ConfigErrorNotRetried(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(3, &slept)

	cfgErr := NewProviderError("gemini", ErrorKindConfig, 0, errors.New("dimension mismatch"))
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return cfgErr
	})

	assert.Equal(t, cfgErr, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_ExhaustionReturnsLastError(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(2, &slept)

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return NewProviderError("gemini", ErrorKindRateLimited, 429, fmt.Errorf("attempt %d", calls))
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorContains(t, err, "attempt 3")
}

func TestRetryPolicy_CancelledDuringBackoff(t *testing.T) {
	p := RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		sleep: func(ctx context.Context, d time.Duration) error {
			return context.Canceled
		},
	}

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return NewProviderError("gemini", ErrorKindTransient, 500, errors.New("boom"))
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "cancelled backoff aborts before the next attempt")
}

func TestSleepCtx_ReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sleepCtx(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryPolicy_PlainErrorTreatedAsTransient(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(1, &slept)

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("connection reset")
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
}
