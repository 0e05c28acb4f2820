package providers

import (
	"context"
	"sync"
	"time"
)

// DefaultHealthTTL is how long a health check result stays valid.
const DefaultHealthTTL = 60 * time.Second

// HealthChecker caches the result of a provider health check so that batch
// refreshes do not hammer the provider's status endpoint once per symbol.
type HealthChecker struct {
	client Client
	ttl    time.Duration

	mu        sync.Mutex
	checkedAt time.Time
	lastErr   error
}

// NewHealthChecker wraps a client with a cached health check. A ttl of zero
// uses DefaultHealthTTL.
func NewHealthChecker(client Client, ttl time.Duration) *HealthChecker {
	if ttl <= 0 {
		ttl = DefaultHealthTTL
	}
	return &HealthChecker{client: client, ttl: ttl}
}

// Check returns the cached result when fresh, otherwise performs a live
// health check and caches the outcome, success or failure alike.
func (h *HealthChecker) Check(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.checkedAt.IsZero() && time.Since(h.checkedAt) < h.ttl {
		return h.lastErr
	}

	h.lastErr = h.client.HealthCheck(ctx)
	h.checkedAt = time.Now()
	return h.lastErr
}

// Invalidate drops the cached result so the next Check hits the provider.
func (h *HealthChecker) Invalidate() {
	h.mu.Lock()
	h.checkedAt = time.Time{}
	h.mu.Unlock()
}
