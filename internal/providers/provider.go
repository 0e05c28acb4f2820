// Package providers defines the market data provider abstraction: the client
// interface, capability discovery, the error taxonomy, rate limiting, retry,
// health checking, the provider registry, and the composite fallback client.
package providers

import (
	"context"
	"time"

	"github.com/quantpane/marketsync/internal/domain"
)

// Capability identifies one kind of data a provider can serve.
type Capability string

const (
	CapDailyBars        Capability = "daily_bars"
	CapIntradayBars     Capability = "intraday_bars"
	CapQuote            Capability = "quote"
	CapFundamentals     Capability = "fundamentals"
	CapEarnings         Capability = "earnings"
	CapNews             Capability = "news"
	CapPeers            Capability = "industry_peers"
	CapCorporateActions Capability = "corporate_actions"
	CapStatements       Capability = "financial_statements"
	CapSymbolDetails    Capability = "symbol_details"
)

// Client is the interface every market data provider implements.
// Unsupported operations return an Error with KindUnsupported; callers
// check Capabilities before dispatching.
type Client interface {
	Name() string
	Capabilities() []Capability
	HealthCheck(ctx context.Context) error

	DailyBars(ctx context.Context, symbol string, from, to time.Time) ([]domain.Bar, error)
	IntradayBars(ctx context.Context, symbol string, interval time.Duration, from, to time.Time) ([]domain.Bar, error)
	Quote(ctx context.Context, symbol string) (*domain.Quote, error)
	Fundamentals(ctx context.Context, symbol string) (*domain.FundamentalsSnapshot, error)
	Earnings(ctx context.Context, symbol string) ([]domain.EarningsRecord, error)
	News(ctx context.Context, symbol string, limit int) ([]domain.NewsArticle, error)
	Peers(ctx context.Context, symbol string) (*domain.IndustryPeers, error)
	CorporateActions(ctx context.Context, symbol string, from, to time.Time) ([]domain.CorporateAction, error)
	Statements(ctx context.Context, symbol, periodType string) (*domain.StatementBundle, error)
	SymbolDetails(ctx context.Context, symbol string) (*domain.SymbolDetails, error)
}

// Supports reports whether the client advertises the given capability.
func Supports(c Client, cap Capability) bool {
	for _, got := range c.Capabilities() {
		if got == cap {
			return true
		}
	}
	return false
}

// Unimplemented provides KindUnsupported stubs for every data operation.
// Concrete clients embed it and override only what they support.
type Unimplemented struct {
	Provider string
}

func (u Unimplemented) DailyBars(ctx context.Context, symbol string, from, to time.Time) ([]domain.Bar, error) {
	return nil, Unsupported(u.Provider, "daily_bars")
}

func (u Unimplemented) IntradayBars(ctx context.Context, symbol string, interval time.Duration, from, to time.Time) ([]domain.Bar, error) {
	return nil, Unsupported(u.Provider, "intraday_bars")
}

func (u Unimplemented) Quote(ctx context.Context, symbol string) (*domain.Quote, error) {
	return nil, Unsupported(u.Provider, "quote")
}

func (u Unimplemented) Fundamentals(ctx context.Context, symbol string) (*domain.FundamentalsSnapshot, error) {
	return nil, Unsupported(u.Provider, "fundamentals")
}

func (u Unimplemented) Earnings(ctx context.Context, symbol string) ([]domain.EarningsRecord, error) {
	return nil, Unsupported(u.Provider, "earnings")
}

func (u Unimplemented) News(ctx context.Context, symbol string, limit int) ([]domain.NewsArticle, error) {
	return nil, Unsupported(u.Provider, "news")
}

func (u Unimplemented) Peers(ctx context.Context, symbol string) (*domain.IndustryPeers, error) {
	return nil, Unsupported(u.Provider, "industry_peers")
}

func (u Unimplemented) CorporateActions(ctx context.Context, symbol string, from, to time.Time) ([]domain.CorporateAction, error) {
	return nil, Unsupported(u.Provider, "corporate_actions")
}

func (u Unimplemented) Statements(ctx context.Context, symbol, periodType string) (*domain.StatementBundle, error) {
	return nil, Unsupported(u.Provider, "financial_statements")
}

func (u Unimplemented) SymbolDetails(ctx context.Context, symbol string) (*domain.SymbolDetails, error) {
	return nil, Unsupported(u.Provider, "symbol_details")
}
