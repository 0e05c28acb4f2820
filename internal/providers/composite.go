package providers

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/quantpane/marketsync/internal/domain"
)

// Composite fans a fetch across the registered providers: primary first,
// then fallbacks in registration order. Each provider sits behind its own
// circuit breaker so a dead provider is skipped instead of timed out on
// every symbol. Every method returns the name of the provider that served
// the data so callers can record provenance.
type Composite struct {
	registry *Registry
	policy   RetryPolicy
	log      zerolog.Logger

	mu       sync.Mutex
	policies map[string]RetryPolicy
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewComposite creates a composite client over a registry.
func NewComposite(registry *Registry, log zerolog.Logger) *Composite {
	return &Composite{
		registry: registry,
		policy:   DefaultRetryPolicy(),
		log:      log.With().Str("component", "composite_provider").Logger(),
		policies: make(map[string]RetryPolicy),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// SetRetryPolicy overrides the retry policy for one provider. Providers
// without an override use the default policy.
func (c *Composite) SetRetryPolicy(provider string, policy RetryPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policies[provider] = policy
}

// retryPolicyFor returns the retry policy for a provider.
func (c *Composite) retryPolicyFor(provider string) RetryPolicy {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.policies[provider]; ok {
		return p
	}
	return c.policy
}

// breakerFor returns the circuit breaker for a provider, creating it on
// first use. Five consecutive failures open the breaker for 30 seconds.
func (c *Composite) breakerFor(name string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[name]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Provider circuit breaker state change")
		},
	})
	c.breakers[name] = cb
	return cb
}

// fetch walks the provider order for a capability, retrying transient
// failures per provider, and returns the first success together with the
// serving provider's name.
func fetch[T any](c *Composite, ctx context.Context, cap Capability, op string, call func(Client) (T, error)) (T, string, error) {
	var zero T

	clients := c.registry.ForCapability(cap)
	if len(clients) == 0 {
		return zero, "", Unsupported("registry", op)
	}

	var lastErr error
	for _, client := range clients {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}

		cb := c.breakerFor(client.Name())
		policy := c.retryPolicyFor(client.Name())
		result, err := cb.Execute(func() (interface{}, error) {
			var out T
			execErr := WithRetry(ctx, c.log, policy, op, func() error {
				var callErr error
				out, callErr = call(client)
				return callErr
			})
			return out, execErr
		})
		if err == nil {
			return result.(T), client.Name(), nil
		}

		lastErr = err
		c.log.Warn().
			Err(err).
			Str("provider", client.Name()).
			Str("op", op).
			Msg("Provider failed, trying next in order")
	}

	return zero, "", lastErr
}

func (c *Composite) DailyBars(ctx context.Context, symbol string, from, to time.Time) ([]domain.Bar, string, error) {
	return fetch(c, ctx, CapDailyBars, "daily_bars", func(cl Client) ([]domain.Bar, error) {
		return cl.DailyBars(ctx, symbol, from, to)
	})
}

func (c *Composite) IntradayBars(ctx context.Context, symbol string, interval time.Duration, from, to time.Time) ([]domain.Bar, string, error) {
	return fetch(c, ctx, CapIntradayBars, "intraday_bars", func(cl Client) ([]domain.Bar, error) {
		return cl.IntradayBars(ctx, symbol, interval, from, to)
	})
}

func (c *Composite) Quote(ctx context.Context, symbol string) (*domain.Quote, string, error) {
	return fetch(c, ctx, CapQuote, "quote", func(cl Client) (*domain.Quote, error) {
		return cl.Quote(ctx, symbol)
	})
}

func (c *Composite) Fundamentals(ctx context.Context, symbol string) (*domain.FundamentalsSnapshot, string, error) {
	return fetch(c, ctx, CapFundamentals, "fundamentals", func(cl Client) (*domain.FundamentalsSnapshot, error) {
		return cl.Fundamentals(ctx, symbol)
	})
}

func (c *Composite) Earnings(ctx context.Context, symbol string) ([]domain.EarningsRecord, string, error) {
	return fetch(c, ctx, CapEarnings, "earnings", func(cl Client) ([]domain.EarningsRecord, error) {
		return cl.Earnings(ctx, symbol)
	})
}

func (c *Composite) News(ctx context.Context, symbol string, limit int) ([]domain.NewsArticle, string, error) {
	return fetch(c, ctx, CapNews, "news", func(cl Client) ([]domain.NewsArticle, error) {
		return cl.News(ctx, symbol, limit)
	})
}

func (c *Composite) Peers(ctx context.Context, symbol string) (*domain.IndustryPeers, string, error) {
	return fetch(c, ctx, CapPeers, "industry_peers", func(cl Client) (*domain.IndustryPeers, error) {
		return cl.Peers(ctx, symbol)
	})
}

func (c *Composite) CorporateActions(ctx context.Context, symbol string, from, to time.Time) ([]domain.CorporateAction, string, error) {
	return fetch(c, ctx, CapCorporateActions, "corporate_actions", func(cl Client) ([]domain.CorporateAction, error) {
		return cl.CorporateActions(ctx, symbol, from, to)
	})
}

func (c *Composite) Statements(ctx context.Context, symbol, periodType string) (*domain.StatementBundle, string, error) {
	return fetch(c, ctx, CapStatements, "financial_statements", func(cl Client) (*domain.StatementBundle, error) {
		return cl.Statements(ctx, symbol, periodType)
	})
}

func (c *Composite) SymbolDetails(ctx context.Context, symbol string) (*domain.SymbolDetails, string, error) {
	return fetch(c, ctx, CapSymbolDetails, "symbol_details", func(cl Client) (*domain.SymbolDetails, error) {
		return cl.SymbolDetails(ctx, symbol)
	})
}
