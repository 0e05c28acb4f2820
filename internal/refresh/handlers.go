package refresh

import (
	"context"
	"time"

	"github.com/quantpane/marketsync/internal/domain"
	"github.com/quantpane/marketsync/internal/indicators"
)

const dateLayout = "2006-01-02"

// cursorOverlapDays is re-fetched behind the stored cursor so late
// corrections from the provider are picked up.
const cursorOverlapDays = 7

// fetchDailyBars fetches daily bars over the lookback window. An explicit
// lookback requests the full window; the stored cursor only narrows
// default-window refreshes.
func (m *Manager) fetchDailyBars(ctx context.Context, symbol string, lookbackDays int) (handlerResult, error) {
	now := m.now()
	explicit := lookbackDays > 0
	if !explicit {
		lookbackDays = m.cfg.HistoricalLookbackDays
	}
	from := now.AddDate(0, 0, -lookbackDays)
	if !explicit {
		if st, err := m.state.Get(symbol, domain.DataTypePriceHistorical); err == nil && st != nil && st.CursorDate != nil {
			if cursor, perr := time.Parse(dateLayout, *st.CursorDate); perr == nil {
				if overlap := cursor.AddDate(0, 0, -cursorOverlapDays); overlap.After(from) {
					from = overlap
				}
			}
		}
	}

	bars, source, err := m.source.DailyBars(ctx, symbol, from, now)
	hr := handlerResult{source: source}
	if err != nil {
		return hr, err
	}
	hr.fetched = len(bars)
	if len(bars) == 0 {
		return hr, nil
	}

	cleaned, report := m.validator.ValidateBars(symbol, domain.DataTypePriceHistorical, bars)
	m.audit.InsertValidationReportBestEffort(report)
	hr.reportID = &report.ReportID

	saved, err := m.market.UpsertDailyBars(cleaned)
	if err != nil {
		return hr, err
	}
	hr.saved = saved

	if len(cleaned) > 0 {
		first, last := cleaned[0].Date(), cleaned[0].Date()
		for _, b := range cleaned {
			if d := b.Date(); d < first {
				first = d
			} else if d > last {
				last = d
			}
		}
		hr.cursorDate = &last
		hr.histStart, hr.histEnd = first, last
	}
	return hr, nil
}

func (m *Manager) fetchIntradayBars(ctx context.Context, symbol string) (handlerResult, error) {
	now := m.now()
	from := now.AddDate(0, 0, -m.cfg.BackfillLookbackIntraday)

	bars, source, err := m.source.IntradayBars(ctx, symbol, 15*time.Minute, from, now)
	hr := handlerResult{source: source}
	if err != nil {
		return hr, err
	}
	hr.fetched = len(bars)
	if len(bars) == 0 {
		return hr, nil
	}

	cleaned, report := m.validator.ValidateBars(symbol, domain.DataTypePriceIntraday15m, bars)
	m.audit.InsertValidationReportBestEffort(report)
	hr.reportID = &report.ReportID

	saved, err := m.market.UpsertIntradayBars(cleaned)
	if err != nil {
		return hr, err
	}
	hr.saved = saved

	var latest time.Time
	for _, b := range cleaned {
		if b.Ts.After(latest) {
			latest = b.Ts
		}
	}
	if !latest.IsZero() {
		hr.cursorTs = &latest
	}
	return hr, nil
}

func (m *Manager) fetchCurrentPrice(ctx context.Context, symbol string) (handlerResult, error) {
	quote, source, err := m.source.Quote(ctx, symbol)
	hr := handlerResult{source: source}
	if err != nil {
		return hr, err
	}
	if quote == nil {
		return hr, nil
	}
	hr.fetched = 1

	var volume int64
	if quote.Volume != nil {
		volume = *quote.Volume
	}
	bar := domain.Bar{
		Symbol:   quote.Symbol,
		Ts:       quote.Ts,
		Interval: "last",
		Open:     quote.Price,
		High:     quote.Price,
		Low:      quote.Price,
		Close:    quote.Price,
		AdjClose: quote.Price,
		Volume:   volume,
		Source:   quote.Source,
	}

	cleaned, report := m.validator.ValidateBars(symbol, domain.DataTypePriceCurrent, []domain.Bar{bar})
	m.audit.InsertValidationReportBestEffort(report)
	hr.reportID = &report.ReportID

	saved, err := m.market.UpsertIntradayBars(cleaned)
	if err != nil {
		return hr, err
	}
	hr.saved = saved
	ts := quote.Ts.UTC()
	hr.cursorTs = &ts
	return hr, nil
}

// fetchFundamentals serves both the fundamentals and financial_ratios
// data types; ratios ship inside the same provider snapshot and are
// persisted with it. Symbol details are merged into the payload extras
// best-effort on the fundamentals pass.
func (m *Manager) fetchFundamentals(ctx context.Context, symbol string, enrichDetails bool) (handlerResult, error) {
	snapshot, source, err := m.source.Fundamentals(ctx, symbol)
	hr := handlerResult{source: source}
	if err != nil {
		return hr, err
	}
	if snapshot == nil {
		return hr, nil
	}
	hr.fetched = 1

	if enrichDetails {
		if details, _, derr := m.source.SymbolDetails(ctx, symbol); derr == nil && details != nil {
			if snapshot.Extras == nil {
				snapshot.Extras = make(map[string]interface{})
			}
			snapshot.Extras["symbol_details"] = details
		}
	} else {
		hr.message = "ratios persisted within fundamentals snapshot"
	}

	cleaned, report := m.validator.ValidateFundamentals(symbol, snapshot)
	m.audit.InsertValidationReportBestEffort(report)
	hr.reportID = &report.ReportID
	if cleaned == nil {
		return hr, nil
	}

	saved, err := m.market.UpsertFundamentals(cleaned)
	if err != nil {
		return hr, err
	}
	hr.saved = saved
	hr.cursorDate = &cleaned.AsOfDate
	return hr, nil
}

func (m *Manager) fetchEarnings(ctx context.Context, symbol string) (handlerResult, error) {
	records, source, err := m.source.Earnings(ctx, symbol)
	hr := handlerResult{source: source}
	if err != nil {
		return hr, err
	}
	hr.fetched = len(records)
	if len(records) == 0 {
		return hr, nil
	}

	cleaned, report := m.validator.ValidateEarnings(symbol, records)
	m.audit.InsertValidationReportBestEffort(report)
	hr.reportID = &report.ReportID

	saved, err := m.market.UpsertEarnings(cleaned)
	if err != nil {
		return hr, err
	}
	hr.saved = saved

	var latest string
	for _, rec := range cleaned {
		if rec.EarningsDate > latest {
			latest = rec.EarningsDate
		}
	}
	if latest != "" {
		hr.cursorDate = &latest
	}
	return hr, nil
}

func (m *Manager) fetchNews(ctx context.Context, symbol string) (handlerResult, error) {
	articles, source, err := m.source.News(ctx, symbol, m.cfg.NewsLimit)
	hr := handlerResult{source: source}
	if err != nil {
		return hr, err
	}
	hr.fetched = len(articles)
	if len(articles) == 0 {
		return hr, nil
	}

	cleaned, report := m.validator.ValidateNews(symbol, articles)
	m.audit.InsertValidationReportBestEffort(report)
	hr.reportID = &report.ReportID

	// Duplicate URLs are ignored on insert, so saved < fetched on
	// every re-fetch of an overlapping window.
	saved, err := m.market.InsertNews(cleaned)
	if err != nil {
		return hr, err
	}
	hr.saved = saved
	return hr, nil
}

func (m *Manager) fetchPeers(ctx context.Context, symbol string) (handlerResult, error) {
	peers, source, err := m.source.Peers(ctx, symbol)
	hr := handlerResult{source: source}
	if err != nil {
		return hr, err
	}
	if peers == nil {
		return hr, nil
	}
	hr.fetched = len(peers.Peers)
	if hr.fetched == 0 {
		return hr, nil
	}

	cleaned, report := m.validator.ValidatePeers(symbol, peers)
	m.audit.InsertValidationReportBestEffort(report)
	hr.reportID = &report.ReportID

	saved, err := m.market.ReplacePeers(cleaned)
	if err != nil {
		return hr, err
	}
	hr.saved = saved
	return hr, nil
}

func (m *Manager) fetchCorporateActions(ctx context.Context, symbol string) (handlerResult, error) {
	now := m.now()
	from := now.AddDate(-m.cfg.ActionsLookbackYears, 0, 0)

	actions, source, err := m.source.CorporateActions(ctx, symbol, from, now)
	hr := handlerResult{source: source}
	if err != nil {
		return hr, err
	}
	hr.fetched = len(actions)
	if len(actions) == 0 {
		return hr, nil
	}

	cleaned, report := m.validator.ValidateActions(symbol, actions)
	m.audit.InsertValidationReportBestEffort(report)
	hr.reportID = &report.ReportID

	saved, err := m.market.UpsertActions(cleaned)
	if err != nil {
		return hr, err
	}
	hr.saved = saved

	var latest string
	for _, a := range cleaned {
		if a.ActionDate > latest {
			latest = a.ActionDate
		}
	}
	if latest != "" {
		hr.cursorDate = &latest
	}
	return hr, nil
}

func (m *Manager) fetchStatements(ctx context.Context, symbol string, dt domain.DataType) (handlerResult, error) {
	bundle, source, err := m.source.Statements(ctx, symbol, "quarterly")
	hr := handlerResult{source: source}
	if err != nil {
		return hr, err
	}
	if bundle == nil {
		return hr, nil
	}
	hr.fetched = len(statementSlice(bundle, dt))
	if hr.fetched == 0 {
		return hr, nil
	}

	cleaned, report := m.validator.ValidateStatements(symbol, dt, bundle)
	m.audit.InsertValidationReportBestEffort(report)
	hr.reportID = &report.ReportID
	if cleaned == nil {
		return hr, nil
	}

	saved, err := m.market.UpsertStatements(statementSlice(cleaned, dt))
	if err != nil {
		return hr, err
	}
	hr.saved = saved
	return hr, nil
}

func statementSlice(bundle *domain.StatementBundle, dt domain.DataType) []domain.FinancialStatement {
	switch dt {
	case domain.DataTypeIncomeStatement:
		return bundle.IncomeStatement
	case domain.DataTypeBalanceSheet:
		return bundle.BalanceSheet
	case domain.DataTypeCashFlow:
		return bundle.CashFlow
	}
	return nil
}

// indicatorLookbackDays covers the 200-day SMA warmup with margin for
// non-trading days.
const indicatorLookbackDays = 400

// computeIndicators derives indicator rows from the stored cleaned daily
// bars. It never calls a provider.
func (m *Manager) computeIndicators(symbol string) (handlerResult, error) {
	hr := handlerResult{source: "derived"}

	fromDate := m.now().AddDate(0, 0, -indicatorLookbackDays).UTC().Format(dateLayout)
	bars, err := m.market.GetDailyBars(symbol, fromDate, "")
	if err != nil {
		return hr, err
	}
	if len(bars) == 0 {
		return hr, nil
	}

	rows, err := indicators.Compute(symbol, bars)
	if err != nil {
		return hr, err
	}
	hr.fetched = len(rows)

	saved, err := m.market.UpsertIndicators(rows)
	if err != nil {
		return hr, err
	}
	hr.saved = saved
	if len(rows) > 0 {
		last := rows[len(rows)-1].Date
		hr.cursorDate = &last
	}
	return hr, nil
}
