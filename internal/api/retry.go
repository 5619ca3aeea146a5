package api

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"

	"github.com/courierproto/client-go/internal/apierrors"
)

// RetryConfig configures retry behavior for transient relay failures.
// Only errors matching ErrRelayUnavailable are retried.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts.
	MaxRetries int
	// BaseDelay is the initial delay between retry attempts.
	BaseDelay time.Duration
	// MaxDelay is the maximum delay between retry attempts.
	MaxDelay time.Duration
	// Multiplier is the factor by which the delay increases after each attempt.
	Multiplier float64
	// Jitter is the randomization factor (0.0 to 1.0) applied to each delay.
	Jitter float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.2,
	}
}

// NewBackOff returns a fresh backoff policy for one retried operation.
func (r *RetryConfig) NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.BaseDelay
	b.MaxInterval = r.MaxDelay
	b.Multiplier = r.Multiplier
	b.RandomizationFactor = r.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(r.MaxRetries))
}

// Retryable reports whether err is a transient relay failure.
func Retryable(err error) bool {
	return errors.Is(err, apierrors.ErrRelayUnavailable)
}

// Retry runs op until it succeeds, fails with a non-retryable error, the
// retry budget is exhausted, or ctx is done. Each attempt is logged at
// warning level.
func (r *RetryConfig) Retry(ctx context.Context, log logrus.FieldLogger, name string, op func() error) error {
	b := r.NewBackOff()
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil || !Retryable(err) {
			return err
		}

		next := b.NextBackOff()
		if next == backoff.Stop {
			log.WithFields(logrus.Fields{"op": name, "attempts": attempt}).
				Warn("relay unavailable, giving up")
			return err
		}

		log.WithFields(logrus.Fields{
			"op":      name,
			"attempt": attempt,
			"delay":   next,
			"error":   err,
		}).Warn("relay unavailable, retrying")

		if err := wait(ctx, next); err != nil {
			return err
		}
	}
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
