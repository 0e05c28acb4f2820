// Package domain provides core domain models and types.
package domain

import (
	"math"
	"strings"
	"time"
)

// NormalizeSymbol canonicalizes a ticker symbol. Symbols are stored
// uppercased with surrounding whitespace removed.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Bar is a normalized OHLCV record over a fixed interval. Timestamps are
// always UTC; daily bars carry midnight-UTC timestamps. AdjClose defaults to
// Close when the provider does not supply an adjusted series.
type Bar struct {
	Symbol   string    `json:"stock_symbol"`
	Ts       time.Time `json:"ts"`
	Interval string    `json:"interval"` // "1d", "15m", "last"
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	AdjClose float64   `json:"adj_close"`
	Volume   int64     `json:"volume"`
	Source   string    `json:"source"`
}

// Date returns the bar's trading date in YYYY-MM-DD form (UTC).
func (b Bar) Date() string {
	return b.Ts.UTC().Format("2006-01-02")
}

// Quote is a point-in-time price observation.
type Quote struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Volume *int64    `json:"volume,omitempty"`
	Ts     time.Time `json:"ts"`
	Source string    `json:"source"`
}

// FundamentalsSnapshot is a typed open-schema fundamentals record: known
// fields as optional pointers plus an opaque Extras map for future fields.
// The whole payload is stored as a JSON column keyed by (symbol, as_of_date).
type FundamentalsSnapshot struct {
	Symbol        string                 `json:"symbol"`
	AsOfDate      string                 `json:"as_of_date"` // YYYY-MM-DD
	Source        string                 `json:"source"`
	Sector        *string                `json:"sector,omitempty"`
	Industry      *string                `json:"industry,omitempty"`
	MarketCap     *float64               `json:"market_cap,omitempty"`
	PERatio       *float64               `json:"pe_ratio,omitempty"`
	ForwardPE     *float64               `json:"forward_pe,omitempty"`
	PriceToBook   *float64               `json:"price_to_book,omitempty"`
	DividendYield *float64               `json:"dividend_yield,omitempty"`
	EPS           *float64               `json:"eps,omitempty"`
	Beta          *float64               `json:"beta,omitempty"`
	ProfitMargin  *float64               `json:"profit_margin,omitempty"`
	RevenueTTM    *float64               `json:"revenue_ttm,omitempty"`
	Extras        map[string]interface{} `json:"extras,omitempty"`
}

// EarningsRecord is one reported or upcoming earnings event.
// EarningsDate is required; everything else is provider-optional.
type EarningsRecord struct {
	Symbol          string     `json:"symbol"`
	EarningsDate    string     `json:"earnings_date"` // YYYY-MM-DD, required
	EarningsAtUTC   *time.Time `json:"earnings_at_utc,omitempty"`
	Session         *string    `json:"session,omitempty"` // "bmo" | "amc"
	FiscalQuarter   *int       `json:"fiscal_quarter,omitempty"`
	FiscalYear      *int       `json:"fiscal_year,omitempty"`
	EPSEstimate     *float64   `json:"eps_estimate,omitempty"`
	EPSActual       *float64   `json:"eps_actual,omitempty"`
	RevenueEstimate *float64   `json:"revenue_estimate,omitempty"`
	RevenueActual   *float64   `json:"revenue_actual,omitempty"`
	SurprisePct     *float64   `json:"surprise_pct,omitempty"`
	Source          string     `json:"source"`
}

// SurpriseEpsilon is the minimum |estimate| below which surprise percent is
// not derived. Dividing by a near-zero estimate produces unstable values.
const SurpriseEpsilon = 0.01

// DeriveSurprisePct computes (actual-estimate)/|estimate|*100, or nil when
// either input is missing or the estimate is too small to divide by.
func DeriveSurprisePct(estimate, actual *float64) *float64 {
	if estimate == nil || actual == nil {
		return nil
	}
	if math.Abs(*estimate) < SurpriseEpsilon {
		return nil
	}
	pct := (*actual - *estimate) / math.Abs(*estimate) * 100
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		return nil
	}
	return &pct
}

// FinancialStatement is one reported statement keyed by
// (symbol, period_type, statement_type, fiscal_period).
type FinancialStatement struct {
	Symbol        string                 `json:"symbol"`
	PeriodType    string                 `json:"period_type"`    // "annual" | "quarterly"
	StatementType string                 `json:"statement_type"` // "income_statement" | "balance_sheet" | "cash_flow"
	FiscalPeriod  string                 `json:"fiscal_period"`  // e.g. "2025-Q4" or "2025"
	Source        string                 `json:"source"`
	Payload       map[string]interface{} `json:"payload"`
}

// Statement type names.
const (
	StatementIncome       = "income_statement"
	StatementBalanceSheet = "balance_sheet"
	StatementCashFlow     = "cash_flow"
)

// StatementBundle is the normalized result of a financial statements fetch.
type StatementBundle struct {
	Periodicity     string               `json:"periodicity"` // "annual" | "quarterly"
	IncomeStatement []FinancialStatement `json:"income_statement"`
	BalanceSheet    []FinancialStatement `json:"balance_sheet"`
	CashFlow        []FinancialStatement `json:"cash_flow"`
}

// All returns every statement in the bundle as a single slice.
func (sb StatementBundle) All() []FinancialStatement {
	out := make([]FinancialStatement, 0, len(sb.IncomeStatement)+len(sb.BalanceSheet)+len(sb.CashFlow))
	out = append(out, sb.IncomeStatement...)
	out = append(out, sb.BalanceSheet...)
	out = append(out, sb.CashFlow...)
	return out
}

// CorporateAction is a dividend or split event.
type CorporateAction struct {
	Symbol     string                 `json:"symbol"`
	ActionDate string                 `json:"action_date"` // YYYY-MM-DD
	ActionType string                 `json:"action_type"` // "dividend" | "split"
	Value      float64                `json:"value"` // cash amount or split ratio
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Source     string                 `json:"source"`
}

// Corporate action types.
const (
	ActionDividend = "dividend"
	ActionSplit    = "split"
)

// NewsArticle is one news item related to a symbol.
type NewsArticle struct {
	Symbol         string    `json:"symbol"`
	PublishedAt    time.Time `json:"published_at"`
	Title          string    `json:"title"`
	Publisher      string    `json:"publisher"`
	URL            string    `json:"url"`
	RelatedSymbols []string  `json:"related_symbols,omitempty"`
	Source         string    `json:"source"`
	Raw            string    `json:"raw,omitempty"`
}

// IndustryPeers is the normalized result of a peer lookup.
type IndustryPeers struct {
	Symbol   string  `json:"symbol"`
	Sector   *string `json:"sector,omitempty"`
	Industry *string `json:"industry,omitempty"`
	Peers    []Peer  `json:"peers"`
	Source   string  `json:"source"`
}

// Peer is one related company.
type Peer struct {
	Symbol string  `json:"symbol"`
	Name   *string `json:"name,omitempty"`
}

// SymbolDetails is static company reference data. It changes rarely and is
// cached with a long TTL.
type SymbolDetails struct {
	Symbol      string  `json:"symbol"`
	Name        string  `json:"name"`
	Exchange    *string `json:"exchange,omitempty"`
	Currency    *string `json:"currency,omitempty"`
	Sector      *string `json:"sector,omitempty"`
	Industry    *string `json:"industry,omitempty"`
	Description *string `json:"description,omitempty"`
	Source      string  `json:"source"`
}

// IndicatorRow is one derived technical-indicator record per (symbol, date).
type IndicatorRow struct {
	Symbol     string   `json:"symbol"`
	Date       string   `json:"date"` // YYYY-MM-DD
	Close      float64  `json:"close"`
	EMA20      *float64 `json:"ema_20,omitempty"`
	EMA50      *float64 `json:"ema_50,omitempty"`
	SMA100     *float64 `json:"sma_100,omitempty"`
	SMA200     *float64 `json:"sma_200,omitempty"`
	RSI14      *float64 `json:"rsi_14,omitempty"`
	MACD       *float64 `json:"macd,omitempty"`
	MACDSignal *float64 `json:"macd_signal,omitempty"`
	MACDHist   *float64 `json:"macd_hist,omitempty"`
	ATR14      *float64 `json:"atr_14,omitempty"`
	TrendUp    bool     `json:"trend_up"`
	AboveSMA   bool     `json:"above_sma_200"`
}

// IngestionState is the per-(symbol, dataset, interval) freshness record.
// It is the single source of truth about what has been fetched when, and is
// mutated only by the refresh manager.
type IngestionState struct {
	Symbol              string     `json:"symbol"`
	Dataset             string     `json:"dataset"`
	Interval            string     `json:"interval"`
	Source              string     `json:"source"`
	HistoricalStartDate *string    `json:"historical_start_date,omitempty"`
	HistoricalEndDate   *string    `json:"historical_end_date,omitempty"`
	CursorDate          *string    `json:"cursor_date,omitempty"`
	CursorTs            *time.Time `json:"cursor_ts,omitempty"`
	LastAttemptAt       time.Time  `json:"last_attempt_at"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	Status              string     `json:"status"`
	ErrorMessage        *string    `json:"error_message,omitempty"`
	RetryCount          int        `json:"retry_count"`
	NextRetryAt         *time.Time `json:"next_retry_at,omitempty"`
}

// RetryBackoff returns the staged back-off delay recorded into NextRetryAt
// after the given failure count: 6h after the first failure, 24h after the
// second, 48h from the third on.
func RetryBackoff(retryCount int) time.Duration {
	switch {
	case retryCount <= 1:
		return 6 * time.Hour
	case retryCount == 2:
		return 24 * time.Hour
	default:
		return 48 * time.Hour
	}
}
