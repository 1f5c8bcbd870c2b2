package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	r := WithFixedDelay("test", 3, time.Millisecond)

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	m := r.GetMetrics()
	assert.Equal(t, int64(1), m.TotalCalls)
	assert.Equal(t, int64(1), m.TotalSuccesses)
	assert.Equal(t, int64(0), m.TotalRetries)
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	r := WithFixedDelay("test", 5, time.Millisecond)

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient failure")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, int64(2), r.GetMetrics().TotalRetries)
}

func TestDoExhaustsAttempts(t *testing.T) {
	r := WithFixedDelay("test", 3, time.Millisecond)

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("persistent failure")
	})

	assert.ErrorIs(t, err, ErrMaxAttemptsExceeded)
	assert.Equal(t, 3, calls)
	assert.Equal(t, int64(1), r.GetMetrics().TotalFailures)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("bad credentials")
	r := New(&Config{
		Name:        "test",
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Policy:      PolicyFixed,
		IsRetryable: func(err error) bool { return !errors.Is(err, fatal) },
	})

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return fatal
	})

	assert.ErrorIs(t, err, ErrNotRetryable)
	assert.Equal(t, 1, calls)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	r := WithFixedDelay("test", 10, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Do(ctx, func(ctx context.Context) error {
			calls++
			return errors.New("transient failure")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls, "cancellation interrupts the backoff wait")
	case <-time.After(time.Second):
		t.Fatal("Do did not observe cancellation")
	}
}

func TestDoDefaultNeverRetriesContextErrors(t *testing.T) {
	r := New(DefaultConfig())

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return context.DeadlineExceeded
	})

	assert.ErrorIs(t, err, ErrNotRetryable)
	assert.Equal(t, 1, calls)
}

func TestNewFillsDefaults(t *testing.T) {
	r := New(&Config{Name: "sparse"})
	assert.Equal(t, 3, r.cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, r.cfg.BaseDelay)
	assert.Equal(t, PolicyExponential, r.cfg.Policy)
	assert.NotNil(t, r.cfg.IsRetryable)

	r = New(nil)
	assert.Equal(t, "default", r.cfg.Name)
}

func TestDelayPolicies(t *testing.T) {
	fixed := New(&Config{BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second, Policy: PolicyFixed, JitterRange: 0})
	assert.Equal(t, 10*time.Millisecond, fixed.delay(1))
	assert.Equal(t, 10*time.Millisecond, fixed.delay(4))

	linear := New(&Config{BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second, Policy: PolicyLinear, JitterRange: 0})
	assert.Equal(t, 10*time.Millisecond, linear.delay(1))
	assert.Equal(t, 30*time.Millisecond, linear.delay(3))

	exp := New(&Config{BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, Policy: PolicyExponential, JitterRange: 0})
	assert.Equal(t, 10*time.Millisecond, exp.delay(1))
	assert.Equal(t, 40*time.Millisecond, exp.delay(3))

	// Capped at MaxDelay.
	assert.Equal(t, time.Second, exp.delay(20))
}
