// Package resilience provides retry with configurable backoff, used by the
// pool around connection creation during seeding and scale-up.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Policy defines the backoff strategy between attempts.
type Policy string

const (
	// PolicyFixed uses a fixed delay between attempts.
	PolicyFixed Policy = "fixed"
	// PolicyLinear grows the delay linearly with the attempt number.
	PolicyLinear Policy = "linear"
	// PolicyExponential multiplies the delay by Multiplier each attempt.
	PolicyExponential Policy = "exponential"
)

// Common retry errors.
var (
	ErrMaxAttemptsExceeded = errors.New("maximum retry attempts exceeded")
	ErrNotRetryable        = errors.New("error is not retryable")
)

// Config configures a Retrier.
type Config struct {
	Name        string        `json:"name" yaml:"name" mapstructure:"name"`
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay" yaml:"base_delay" mapstructure:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay" yaml:"max_delay" mapstructure:"max_delay"`
	Multiplier  float64       `json:"multiplier" yaml:"multiplier" mapstructure:"multiplier"`
	Jitter      bool          `json:"jitter" yaml:"jitter" mapstructure:"jitter"`
	JitterRange float64       `json:"jitter_range" yaml:"jitter_range" mapstructure:"jitter_range"`
	Policy      Policy        `json:"policy" yaml:"policy" mapstructure:"policy"`

	// IsRetryable decides whether an error is worth another attempt.
	// Context cancellation is never retried.
	IsRetryable func(error) bool `json:"-" yaml:"-" mapstructure:"-"`
}

// DefaultConfig returns an exponential-backoff configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:        "default",
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
		JitterRange: 0.1,
		Policy:      PolicyExponential,
	}
}

// Metrics tracks retry statistics.
type Metrics struct {
	Name           string `json:"name"`
	TotalCalls     int64  `json:"total_calls"`
	TotalRetries   int64  `json:"total_retries"`
	TotalSuccesses int64  `json:"total_successes"`
	TotalFailures  int64  `json:"total_failures"`
}

// Retrier executes operations with retry and backoff.
type Retrier struct {
	cfg Config

	totalCalls     int64
	totalRetries   int64
	totalSuccesses int64
	totalFailures  int64
}

// New creates a Retrier, filling in defaults for zero values.
func New(cfg *Config) *Retrier {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.JitterRange < 0 || c.JitterRange > 1 {
		c.JitterRange = 0.1
	}
	if c.Policy == "" {
		c.Policy = PolicyExponential
	}
	if c.IsRetryable == nil {
		c.IsRetryable = func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}
	}
	return &Retrier{cfg: c}
}

// Do executes op until it succeeds, the attempts are exhausted, the error
// is not retryable, or ctx is done.
func (r *Retrier) Do(ctx context.Context, op func(context.Context) error) error {
	atomic.AddInt64(&r.totalCalls, 1)

	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			atomic.AddInt64(&r.totalFailures, 1)
			return ctx.Err()
		default:
		}

		err := op(ctx)
		if err == nil {
			atomic.AddInt64(&r.totalSuccesses, 1)
			return nil
		}
		lastErr = err

		if !r.cfg.IsRetryable(err) {
			atomic.AddInt64(&r.totalFailures, 1)
			return fmt.Errorf("%w: %v", ErrNotRetryable, err)
		}
		if attempt == r.cfg.MaxAttempts {
			break
		}

		atomic.AddInt64(&r.totalRetries, 1)
		delay := r.delay(attempt)
		log.Debug().
			Str("retrier", r.cfg.Name).
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying after failure")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			atomic.AddInt64(&r.totalFailures, 1)
			return ctx.Err()
		}
	}

	atomic.AddInt64(&r.totalFailures, 1)
	return fmt.Errorf("%w after %d attempts: %v", ErrMaxAttemptsExceeded, r.cfg.MaxAttempts, lastErr)
}

func (r *Retrier) delay(attempt int) time.Duration {
	var delay time.Duration
	switch r.cfg.Policy {
	case PolicyFixed:
		delay = r.cfg.BaseDelay
	case PolicyLinear:
		delay = time.Duration(int64(r.cfg.BaseDelay) * int64(attempt))
	default:
		delay = time.Duration(float64(r.cfg.BaseDelay) * math.Pow(r.cfg.Multiplier, float64(attempt-1)))
	}

	if delay > r.cfg.MaxDelay {
		delay = r.cfg.MaxDelay
	}
	if r.cfg.Jitter && r.cfg.JitterRange > 0 {
		jitter := (rand.Float64() - 0.5) * 2 * float64(delay) * r.cfg.JitterRange
		adjusted := float64(delay) + jitter
		if adjusted < 0 {
			adjusted = float64(delay) * 0.1
		}
		delay = time.Duration(adjusted)
	}
	return delay
}

// GetMetrics returns a snapshot of retry statistics.
func (r *Retrier) GetMetrics() Metrics {
	return Metrics{
		Name:           r.cfg.Name,
		TotalCalls:     atomic.LoadInt64(&r.totalCalls),
		TotalRetries:   atomic.LoadInt64(&r.totalRetries),
		TotalSuccesses: atomic.LoadInt64(&r.totalSuccesses),
		TotalFailures:  atomic.LoadInt64(&r.totalFailures),
	}
}

// WithExponentialBackoff creates a Retrier with exponential backoff.
func WithExponentialBackoff(name string, maxAttempts int, baseDelay, maxDelay time.Duration) *Retrier {
	return New(&Config{
		Name:        name,
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		Multiplier:  2.0,
		Jitter:      true,
		JitterRange: 0.1,
		Policy:      PolicyExponential,
	})
}

// WithFixedDelay creates a Retrier with a fixed delay between attempts.
func WithFixedDelay(name string, maxAttempts int, delay time.Duration) *Retrier {
	return New(&Config{
		Name:        name,
		MaxAttempts: maxAttempts,
		BaseDelay:   delay,
		MaxDelay:    delay,
		Policy:      PolicyFixed,
	})
}
