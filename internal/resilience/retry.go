// Package resilience implements the retry policy and circuit breaker
// consumed by the client pipeline.
package resilience

import (
	"context"
	"errors"
	"time"
)

// ErrRetriesExhausted is a sentinel for retry exhaustion. Do does not
// return it: once MaxAttempts is reached Do returns op's last error.
var ErrRetriesExhausted = errors.New("resilience: retries exhausted")

// ErrOperationCanceled is a sentinel for cancellation. Do does not
// return it: when ctx is done Do returns op's last error, or ctx.Err()
// if op has not run yet.
var ErrOperationCanceled = errors.New("resilience: operation canceled")

// RetryPolicy is the configurable retry policy: after failed attempt n
// (1-indexed), Do waits min(MaxDelay, BaseDelay*2^(n-1)) before the next.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// delay returns the backoff delay after failed attempt n (1-indexed),
// i.e. the wait before attempt n+1.
func (p RetryPolicy) delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// RetryableFunc classifies an error as worth retrying. The caller
// supplies this predicate; for the S3 client it is HTTP 5xx/429/408 or
// any transport error.
type RetryableFunc func(err error) bool

// Do runs op, retrying per policy while retryable(err) is true, and
// returns the LAST error on exhaustion, not the first.
// Do respects ctx cancellation between attempts, including during the
// backoff sleep.
func Do(ctx context.Context, policy RetryPolicy, retryable RetryableFunc, op func(ctx context.Context) error) error {
	var lastErr error
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for n := 1; n <= attempts; n++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) || n == attempts {
			return lastErr
		}

		timer := time.NewTimer(policy.delay(n))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		}
	}
	return lastErr
}
