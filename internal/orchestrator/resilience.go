package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cheezy/kanban/internal/metrics"
	"github.com/cheezy/kanban/internal/task"
)

// RetryConfig configures exponential backoff for transient conflicts.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 5ms)
	MaxInterval         time.Duration // Maximum retry interval (default 200ms)
	MaxElapsedTime      time.Duration // Maximum total retry time (default 5s)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
	MaxAttempts         int           // Attempts including the first (default 5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     5 * time.Millisecond,
		MaxInterval:         200 * time.Millisecond,
		MaxElapsedTime:      5 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
		MaxAttempts:         5,
	}
}

// retryOnConflict runs op until it succeeds, fails with anything other than
// task.ErrConflict, or the attempts are exhausted. Exhaustion returns the
// last conflict so callers see a transient error.
func retryOnConflict(ctx context.Context, cfg RetryConfig, op func() error) error {
	operation := func() error {
		// Check context first - fail fast if cancelled
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, task.ErrConflict) {
			metrics.RecordConflict()
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.InitialInterval
	policy.MaxInterval = cfg.MaxInterval
	policy.MaxElapsedTime = cfg.MaxElapsedTime
	policy.Multiplier = cfg.Multiplier
	policy.RandomizationFactor = cfg.RandomizationFactor

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx)
	return backoff.Retry(operation, b)
}
