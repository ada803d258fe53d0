package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cuongdev/billgate/pkg/bank"
	"github.com/cuongdev/billgate/pkg/config"
)

// RetryPolicy retries an operation with exponential backoff. Attempts
// stop early on context cancellation or a non-retryable error.
type RetryPolicy struct {
	InitialInterval    time.Duration
	BackoffCoefficient float64
	MaximumInterval    time.Duration
	MaximumAttempts    int
}

// PolicyFromConfig converts the configured retry options.
func PolicyFromConfig(o config.RetryOptions) RetryPolicy {
	return RetryPolicy{
		InitialInterval:    time.Duration(o.InitialIntervalMs) * time.Millisecond,
		BackoffCoefficient: o.BackoffCoefficient,
		MaximumInterval:    time.Duration(o.MaximumIntervalMs) * time.Millisecond,
		MaximumAttempts:    o.MaximumAttempts,
	}
}

// Do runs fn until it succeeds, the attempt budget is exhausted, the
// context ends, or the error is classified as non-retryable. The last
// error is returned.
func (p RetryPolicy) Do(ctx context.Context, name string, fn func() error) error {
	interval := p.InitialInterval
	var lastErr error

	for attempt := 1; attempt <= p.MaximumAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if bank.IsNonRetryable(lastErr) {
			log.Warn().Str("op", name).Err(lastErr).Msg("Non-retryable failure, giving up")
			return lastErr
		}
		if attempt == p.MaximumAttempts {
			break
		}

		log.Warn().
			Str("op", name).
			Int("attempt", attempt).
			Dur("backoff", interval).
			Err(lastErr).
			Msg("Operation failed, backing off")

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		interval = time.Duration(float64(interval) * p.BackoffCoefficient)
		if interval > p.MaximumInterval {
			interval = p.MaximumInterval
		}
	}

	log.Error().Str("op", name).Int("attempts", p.MaximumAttempts).Err(lastErr).Msg("Retry budget exhausted")
	return lastErr
}
