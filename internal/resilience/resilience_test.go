package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestRetryPolicyDelayMonotonic(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 6, BaseDelay: 10 * time.Millisecond, MaxDelay: 200 * time.Millisecond}
	prev := time.Duration(0)
	for n := 1; n <= 6; n++ {
		d := policy.delay(n)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, policy.MaxDelay)
		prev = d
	}
}

func TestDoReturnsLastError(t *testing.T) {
	t.Parallel()
	attempts := 0
	errs := []error{errors.New("e1"), errors.New("e2"), errors.New("e3")}

	err := Do(context.Background(), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		func(error) bool { return true },
		func(context.Context) error {
			e := errs[attempts]
			attempts++
			return e
		})

	require.Error(t, err)
	assert.Equal(t, errs[2], err)
	assert.Equal(t, 3, attempts)
}

func TestDoSucceedsWithoutExhausting(t *testing.T) {
	t.Parallel()
	attempts := 0
	err := Do(context.Background(), RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		func(error) bool { return true },
		func(context.Context) error {
			attempts++
			if attempts == 2 {
				return nil
			}
			return errTransient
		})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestDoNonRetryableStopsImmediately(t *testing.T) {
	t.Parallel()
	attempts := 0
	err := Do(context.Background(), RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		func(error) bool { return false },
		func(context.Context) error {
			attempts++
			return errTransient
		})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoRespectsCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Second},
		func(error) bool { return true },
		func(context.Context) error { return errTransient })
	require.Error(t, err)
}

func TestCircuitBreakerTripsAfterThreshold(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(3, 60*time.Second)

	for i := 0; i < 3; i++ {
		err := cb.Do(func() error { return errTransient })
		require.Error(t, err)
	}
	assert.Equal(t, StateOpen, cb.State())

	// call 4 fails fast without invoking the operation.
	invoked := false
	err := cb.Do(func() error { invoked = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, invoked)
}

func TestCircuitBreakerHalfOpenProbeRecovers(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(2, 10*time.Millisecond)

	cb.Failure()
	cb.Failure()
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(15 * time.Millisecond)

	err := cb.Do(func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.FailureCount())
}

func TestCircuitBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(1, 5*time.Millisecond)

	cb.Failure()
	require.Equal(t, StateOpen, cb.State())
	time.Sleep(10 * time.Millisecond)

	err := cb.Do(func() error { return errTransient })
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreakerManualResetAndOpen(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(1, time.Minute)
	cb.Open()
	assert.Equal(t, StateOpen, cb.State())
	assert.Greater(t, cb.TimeUntilReset(), time.Duration(0))

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, time.Duration(0), cb.TimeUntilReset())
}
