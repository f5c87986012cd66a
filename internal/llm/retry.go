package llm

import (
	"context"
	"math/rand"
	"time"
)

const (
	// DefaultBaseDelay is the backoff unit between attempts.
	DefaultBaseDelay = time.Second
	// EmbedMaxRetries is the retry budget for embedding calls.
	EmbedMaxRetries = 3
	// GenerateMaxRetries is the retry budget for the primary generation provider.
	GenerateMaxRetries = 3
	// FallbackMaxRetries is the retry budget for the fallback generation provider.
	FallbackMaxRetries = 2
)

// RetryPolicy retries an operation with exponential backoff and jitter.
// The delay before retry k (0-indexed) is baseDelay*2^k plus a uniform
// jitter in [0, baseDelay).
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy creates a RetryPolicy with the given budget.
func NewRetryPolicy(maxRetries int, baseDelay time.Duration) RetryPolicy {
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	return RetryPolicy{
		MaxRetries: maxRetries,
		BaseDelay:  baseDelay,
		sleep:      sleepCtx,
	}
}

// Do runs fn, retrying on retryable failures until the budget is exhausted.
// Non-retryable errors are returned immediately. After exhausting retries
// the last error is returned unchanged.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.BaseDelay<<(attempt-1) + time.Duration(rand.Int63n(int64(p.BaseDelay)))
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
