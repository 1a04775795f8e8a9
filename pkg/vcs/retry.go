package vcs

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig bounds retries of transient failures.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts" json:"max_attempts" mapstructure:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval" json:"initial_interval" mapstructure:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval" json:"max_interval" mapstructure:"max_interval"`
}

// DefaultRetryConfig returns three attempts starting at 250ms and capped at 4s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     4 * time.Second,
	}
}

func (c RetryConfig) backoff(ctx context.Context) backoff.BackOff {
	attempts := c.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	if c.InitialInterval > 0 {
		b.InitialInterval = c.InitialInterval
	}
	if c.MaxInterval > 0 {
		b.MaxInterval = c.MaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// retry runs op until it succeeds, fails with a non-transient error, or the
// attempt budget is spent. The attempt count is recorded on a returned *VcsError.
func retry(ctx context.Context, cfg RetryConfig, op func() error) error {
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, cfg.backoff(ctx))

	var vcsErr *VcsError
	if errors.As(err, &vcsErr) {
		vcsErr.Attempts = attempts
	}
	return err
}
