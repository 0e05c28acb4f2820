package providers

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimiter wraps a token bucket shared by all requests of one provider.
// Blocking in Wait keeps us inside the provider's published request budget
// instead of burning requests into 429 responses.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter allowing rps sustained requests per
// second with the given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until a token is available or the context is done.
func (l *RateLimiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Allow reports whether a request may proceed right now, without blocking.
func (l *RateLimiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}
