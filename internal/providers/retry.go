package providers

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RetryPolicy controls retry behavior for transient provider failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is tuned for interactive refreshes: a couple of quick
// retries, never more than a few seconds of waiting.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
	}
}

// WithRetry runs fn up to policy.MaxAttempts times with exponential backoff.
// Only retryable kinds (network, rate limited, unavailable) are retried;
// deterministic failures return immediately.
func WithRetry(ctx context.Context, log zerolog.Logger, policy RetryPolicy, op string, fn func() error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !Retryable(err) || attempt == policy.MaxAttempts {
			return err
		}

		delay := policy.BaseDelay << (attempt - 1)
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}

		log.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Transient provider failure, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
