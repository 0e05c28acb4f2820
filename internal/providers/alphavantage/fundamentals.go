package alphavantage

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/quantpane/marketsync/internal/clientdata"
	"github.com/quantpane/marketsync/internal/domain"
	"github.com/quantpane/marketsync/internal/providers"
)

// overviewResponse is the flat string map Alpha Vantage returns for
// company overviews.
type overviewResponse struct {
	Symbol               string `json:"Symbol"`
	Name                 string `json:"Name"`
	Description          string `json:"Description"`
	Exchange             string `json:"Exchange"`
	Currency             string `json:"Currency"`
	Sector               string `json:"Sector"`
	Industry             string `json:"Industry"`
	MarketCapitalization string `json:"MarketCapitalization"`
	PERatio              string `json:"PERatio"`
	ForwardPE            string `json:"ForwardPE"`
	PriceToBookRatio     string `json:"PriceToBookRatio"`
	DividendYield        string `json:"DividendYield"`
	EPS                  string `json:"EPS"`
	Beta                 string `json:"Beta"`
	ProfitMargin         string `json:"ProfitMargin"`
	RevenueTTM           string `json:"RevenueTTM"`
}

// Fundamentals fetches the company overview and normalizes it into a
// snapshot dated today. Responses are cached for a week; stale cache is
// served when the API fails (stale data > no data).
func (c *Client) Fundamentals(ctx context.Context, symbol string) (*domain.FundamentalsSnapshot, error) {
	symbol = domain.NormalizeSymbol(symbol)

	if c.cacheRepo != nil {
		var cached domain.FundamentalsSnapshot
		if found, err := c.cacheRepo.GetIfFresh(clientdata.TableFundamentals, cacheKey(symbol), &cached); err == nil && found {
			c.log.Debug().Str("symbol", symbol).Msg("Fundamentals cache hit")
			return &cached, nil
		}
	}

	params := url.Values{}
	params.Set("function", "OVERVIEW")
	params.Set("symbol", symbol)

	var resp overviewResponse
	if err := c.doRequest(ctx, "fundamentals", params, &resp); err != nil {
		if c.cacheRepo != nil {
			var stale domain.FundamentalsSnapshot
			if found, cacheErr := c.cacheRepo.Get(clientdata.TableFundamentals, cacheKey(symbol), &stale); cacheErr == nil && found {
				c.log.Warn().Err(err).Str("symbol", symbol).Msg("API failed, using stale cached fundamentals")
				return &stale, nil
			}
		}
		return nil, err
	}

	if resp.Symbol == "" {
		return nil, providers.NewError(ProviderName, "fundamentals", providers.KindNotFound,
			fmt.Errorf("no overview data for %s", symbol))
	}

	snapshot := &domain.FundamentalsSnapshot{
		Symbol:        symbol,
		AsOfDate:      time.Now().UTC().Format("2006-01-02"),
		Source:        ProviderName,
		Sector:        optString(resp.Sector),
		Industry:      optString(resp.Industry),
		MarketCap:     parseFloat(resp.MarketCapitalization),
		PERatio:       parseFloat(resp.PERatio),
		ForwardPE:     parseFloat(resp.ForwardPE),
		PriceToBook:   parseFloat(resp.PriceToBookRatio),
		DividendYield: parseFloat(resp.DividendYield),
		EPS:           parseFloat(resp.EPS),
		Beta:          parseFloat(resp.Beta),
		ProfitMargin:  parseFloat(resp.ProfitMargin),
		RevenueTTM:    parseFloat(resp.RevenueTTM),
	}

	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store(clientdata.TableFundamentals, cacheKey(symbol), snapshot, clientdata.TTLFundamentals); err != nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache fundamentals")
		}
	}

	return snapshot, nil
}

// SymbolDetails fetches static company reference data from the overview
// endpoint. Cached for 30 days.
func (c *Client) SymbolDetails(ctx context.Context, symbol string) (*domain.SymbolDetails, error) {
	symbol = domain.NormalizeSymbol(symbol)

	if c.cacheRepo != nil {
		var cached domain.SymbolDetails
		if found, err := c.cacheRepo.GetIfFresh(clientdata.TableSymbolDetails, cacheKey(symbol), &cached); err == nil && found {
			return &cached, nil
		}
	}

	params := url.Values{}
	params.Set("function", "OVERVIEW")
	params.Set("symbol", symbol)

	var resp overviewResponse
	if err := c.doRequest(ctx, "symbol_details", params, &resp); err != nil {
		if c.cacheRepo != nil {
			var stale domain.SymbolDetails
			if found, cacheErr := c.cacheRepo.Get(clientdata.TableSymbolDetails, cacheKey(symbol), &stale); cacheErr == nil && found {
				c.log.Warn().Err(err).Str("symbol", symbol).Msg("API failed, using stale cached symbol details")
				return &stale, nil
			}
		}
		return nil, err
	}

	if resp.Symbol == "" || resp.Name == "" {
		return nil, providers.NewError(ProviderName, "symbol_details", providers.KindNotFound,
			fmt.Errorf("no overview data for %s", symbol))
	}

	details := &domain.SymbolDetails{
		Symbol:      symbol,
		Name:        resp.Name,
		Exchange:    optString(resp.Exchange),
		Currency:    optString(resp.Currency),
		Sector:      optString(resp.Sector),
		Industry:    optString(resp.Industry),
		Description: optString(resp.Description),
		Source:      ProviderName,
	}

	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store(clientdata.TableSymbolDetails, cacheKey(symbol), details, clientdata.TTLSymbolDetails); err != nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache symbol details")
		}
	}

	return details, nil
}

type earningsResponse struct {
	QuarterlyEarnings []struct {
		FiscalDateEnding   string `json:"fiscalDateEnding"`
		ReportedDate       string `json:"reportedDate"`
		ReportedEPS        string `json:"reportedEPS"`
		EstimatedEPS       string `json:"estimatedEPS"`
		SurprisePercentage string `json:"surprisePercentage"`
	} `json:"quarterlyEarnings"`
}

// Earnings fetches quarterly earnings history. Surprise percent is always
// re-derived from estimate and actual rather than trusted from the
// provider, so the near-zero-estimate guard applies uniformly.
func (c *Client) Earnings(ctx context.Context, symbol string) ([]domain.EarningsRecord, error) {
	symbol = domain.NormalizeSymbol(symbol)

	if c.cacheRepo != nil {
		var cached []domain.EarningsRecord
		if found, err := c.cacheRepo.GetIfFresh(clientdata.TableEarnings, cacheKey(symbol), &cached); err == nil && found {
			c.log.Debug().Str("symbol", symbol).Msg("Earnings cache hit")
			return cached, nil
		}
	}

	params := url.Values{}
	params.Set("function", "EARNINGS")
	params.Set("symbol", symbol)

	var resp earningsResponse
	if err := c.doRequest(ctx, "earnings", params, &resp); err != nil {
		if c.cacheRepo != nil {
			var stale []domain.EarningsRecord
			if found, cacheErr := c.cacheRepo.Get(clientdata.TableEarnings, cacheKey(symbol), &stale); cacheErr == nil && found {
				c.log.Warn().Err(err).Str("symbol", symbol).Msg("API failed, using stale cached earnings")
				return stale, nil
			}
		}
		return nil, err
	}

	records := make([]domain.EarningsRecord, 0, len(resp.QuarterlyEarnings))
	for _, q := range resp.QuarterlyEarnings {
		date := q.ReportedDate
		if date == "" {
			date = q.FiscalDateEnding
		}
		if date == "" {
			continue
		}

		rec := domain.EarningsRecord{
			Symbol:       symbol,
			EarningsDate: date,
			EPSEstimate:  parseFloat(q.EstimatedEPS),
			EPSActual:    parseFloat(q.ReportedEPS),
			Source:       ProviderName,
		}
		rec.SurprisePct = domain.DeriveSurprisePct(rec.EPSEstimate, rec.EPSActual)
		if quarter, year, ok := fiscalQuarter(q.FiscalDateEnding); ok {
			rec.FiscalQuarter = &quarter
			rec.FiscalYear = &year
		}

		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].EarningsDate < records[j].EarningsDate })

	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store(clientdata.TableEarnings, cacheKey(symbol), records, clientdata.TTLEarnings); err != nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache earnings")
		}
	}

	return records, nil
}

type statementsResponse struct {
	AnnualReports    []map[string]interface{} `json:"annualReports"`
	QuarterlyReports []map[string]interface{} `json:"quarterlyReports"`
}

// statementFunctions maps statement types to Alpha Vantage function names.
var statementFunctions = map[string]string{
	domain.StatementIncome:       "INCOME_STATEMENT",
	domain.StatementBalanceSheet: "BALANCE_SHEET",
	domain.StatementCashFlow:     "CASH_FLOW",
}

// Statements fetches income statement, balance sheet, and cash flow for
// the requested periodicity ("annual" or "quarterly"). The bundle is
// cached for 45 days to match quarterly filing cadence.
func (c *Client) Statements(ctx context.Context, symbol, periodType string) (*domain.StatementBundle, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if periodType != "annual" && periodType != "quarterly" {
		return nil, providers.NewError(ProviderName, "financial_statements", providers.KindUnsupported,
			fmt.Errorf("unsupported period type %q", periodType))
	}

	key := cacheKey(symbol) + ":" + periodType
	if c.cacheRepo != nil {
		var cached domain.StatementBundle
		if found, err := c.cacheRepo.GetIfFresh(clientdata.TableStatements, key, &cached); err == nil && found {
			c.log.Debug().Str("symbol", symbol).Str("period", periodType).Msg("Statements cache hit")
			return &cached, nil
		}
	}

	bundle := &domain.StatementBundle{Periodicity: periodType}
	for _, stmtType := range []string{domain.StatementIncome, domain.StatementBalanceSheet, domain.StatementCashFlow} {
		params := url.Values{}
		params.Set("function", statementFunctions[stmtType])
		params.Set("symbol", symbol)

		var resp statementsResponse
		if err := c.doRequest(ctx, "financial_statements", params, &resp); err != nil {
			if c.cacheRepo != nil {
				var stale domain.StatementBundle
				if found, cacheErr := c.cacheRepo.Get(clientdata.TableStatements, key, &stale); cacheErr == nil && found {
					c.log.Warn().Err(err).Str("symbol", symbol).Msg("API failed, using stale cached statements")
					return &stale, nil
				}
			}
			return nil, err
		}

		reports := resp.AnnualReports
		if periodType == "quarterly" {
			reports = resp.QuarterlyReports
		}

		statements := make([]domain.FinancialStatement, 0, len(reports))
		for _, report := range reports {
			fiscalEnd, _ := report["fiscalDateEnding"].(string)
			if fiscalEnd == "" {
				continue
			}
			statements = append(statements, domain.FinancialStatement{
				Symbol:        symbol,
				PeriodType:    periodType,
				StatementType: stmtType,
				FiscalPeriod:  fiscalPeriodLabel(fiscalEnd, periodType),
				Source:        ProviderName,
				Payload:       report,
			})
		}

		switch stmtType {
		case domain.StatementIncome:
			bundle.IncomeStatement = statements
		case domain.StatementBalanceSheet:
			bundle.BalanceSheet = statements
		case domain.StatementCashFlow:
			bundle.CashFlow = statements
		}
	}

	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store(clientdata.TableStatements, key, bundle, clientdata.TTLStatements); err != nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache statements")
		}
	}

	return bundle, nil
}

// fiscalQuarter derives (quarter, year) from a fiscal period end date.
func fiscalQuarter(fiscalDateEnding string) (int, int, bool) {
	t, err := time.Parse("2006-01-02", fiscalDateEnding)
	if err != nil {
		return 0, 0, false
	}
	return (int(t.Month())-1)/3 + 1, t.Year(), true
}

// fiscalPeriodLabel renders "2025-Q4" for quarterly periods and "2025"
// for annual ones.
func fiscalPeriodLabel(fiscalDateEnding, periodType string) string {
	quarter, year, ok := fiscalQuarter(fiscalDateEnding)
	if !ok {
		return fiscalDateEnding
	}
	if periodType == "annual" {
		return strconv.Itoa(year)
	}
	return fmt.Sprintf("%d-Q%d", year, quarter)
}

func optString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" || s == "None" || s == "-" {
		return nil
	}
	return &s
}
