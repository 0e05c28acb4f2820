package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpane/marketsync/internal/domain"
	"github.com/quantpane/marketsync/internal/metrics"
	"github.com/quantpane/marketsync/internal/providers"
	"github.com/quantpane/marketsync/internal/repository"
	"github.com/quantpane/marketsync/internal/validation"
)

// DataSource is the provider surface the manager fetches through. The
// composite provider implements it; tests substitute fakes.
type DataSource interface {
	DailyBars(ctx context.Context, symbol string, from, to time.Time) ([]domain.Bar, string, error)
	IntradayBars(ctx context.Context, symbol string, interval time.Duration, from, to time.Time) ([]domain.Bar, string, error)
	Quote(ctx context.Context, symbol string) (*domain.Quote, string, error)
	Fundamentals(ctx context.Context, symbol string) (*domain.FundamentalsSnapshot, string, error)
	Earnings(ctx context.Context, symbol string) ([]domain.EarningsRecord, string, error)
	News(ctx context.Context, symbol string, limit int) ([]domain.NewsArticle, string, error)
	Peers(ctx context.Context, symbol string) (*domain.IndustryPeers, string, error)
	CorporateActions(ctx context.Context, symbol string, from, to time.Time) ([]domain.CorporateAction, string, error)
	Statements(ctx context.Context, symbol, periodType string) (*domain.StatementBundle, string, error)
	SymbolDetails(ctx context.Context, symbol string) (*domain.SymbolDetails, string, error)
}

// Config tunes the manager's fetch windows.
type Config struct {
	HistoricalLookbackDays   int // first daily fetch window
	BackfillLookbackDaily    int // self-heal window, trading days back
	BackfillLookbackIntraday int
	NewsLimit                int
	ActionsLookbackYears     int
}

func (c *Config) withDefaults() {
	if c.HistoricalLookbackDays <= 0 {
		c.HistoricalLookbackDays = 550
	}
	if c.BackfillLookbackDaily <= 0 {
		c.BackfillLookbackDaily = 10
	}
	if c.BackfillLookbackIntraday <= 0 {
		c.BackfillLookbackIntraday = 3
	}
	if c.NewsLimit <= 0 {
		c.NewsLimit = 50
	}
	if c.ActionsLookbackYears <= 0 {
		c.ActionsLookbackYears = 2
	}
}

// Manager owns the per-data-type refresh pipeline: strategy gate, fetch,
// validation, persistence, ingestion state, and audit. Safe for
// concurrent use; the same (symbol, data type) is serialised internally.
type Manager struct {
	source    DataSource
	validator *validation.Validator
	market    *repository.MarketData
	state     *repository.IngestionState
	audit     *repository.Audit
	strategy  *Strategy
	metrics   *metrics.Metrics
	locks     *keyedMutex
	cfg       Config
	log       zerolog.Logger
	now       func() time.Time
}

// NewManager wires a refresh manager. metrics may be nil.
func NewManager(source DataSource, validator *validation.Validator, market *repository.MarketData,
	state *repository.IngestionState, audit *repository.Audit, strategy *Strategy,
	m *metrics.Metrics, cfg Config, log zerolog.Logger) *Manager {

	cfg.withDefaults()
	return &Manager{
		source:    source,
		validator: validator,
		market:    market,
		state:     state,
		audit:     audit,
		strategy:  strategy,
		metrics:   m,
		locks:     newKeyedMutex(),
		cfg:       cfg,
		log:       log.With().Str("component", "refresh_manager").Logger(),
		now:       time.Now,
	}
}

// DefaultDataTypes is the set refreshed when the caller passes none.
// Indicators are excluded; they are derived automatically after a
// successful historical price refresh.
var DefaultDataTypes = []domain.DataType{
	domain.DataTypePriceHistorical,
	domain.DataTypePriceIntraday15m,
	domain.DataTypeFundamentals,
	domain.DataTypeEarnings,
	domain.DataTypeNews,
	domain.DataTypeIndustryPeers,
	domain.DataTypeCorporateActions,
}

// RefreshOptions tunes one refresh call beyond the strategy defaults.
type RefreshOptions struct {
	Force        bool // bypass the strategy gate and retry back-off
	LookbackDays int  // explicit daily-bar window; 0 means the configured default
}

// RefreshData refreshes the given data types for one symbol and returns
// the per-data-type outcomes. force bypasses both the strategy gate and
// the retry back-off.
func (m *Manager) RefreshData(ctx context.Context, symbol string, dataTypes []domain.DataType, mode domain.RefreshMode, force bool) (*domain.SymbolRefreshResult, error) {
	return m.RefreshWithOptions(ctx, symbol, dataTypes, mode, RefreshOptions{Force: force})
}

// RefreshWithOptions is RefreshData with the full option set.
func (m *Manager) RefreshWithOptions(ctx context.Context, symbol string, dataTypes []domain.DataType, mode domain.RefreshMode, opts RefreshOptions) (*domain.SymbolRefreshResult, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown refresh mode %q", mode)
	}
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("empty symbol")
	}
	if len(dataTypes) == 0 {
		dataTypes = DefaultDataTypes
	}

	result := &domain.SymbolRefreshResult{
		Symbol:    symbol,
		Mode:      mode,
		Results:   make(map[domain.DataType]domain.DataTypeRefreshResult, len(dataTypes)),
		StartedAt: m.now().UTC(),
	}

	explicitIndicators := false
	for _, dt := range dataTypes {
		if dt == domain.DataTypeIndicators {
			explicitIndicators = true
		}
	}

	for _, dt := range dataTypes {
		if !dt.Valid() {
			result.Results[dt] = domain.DataTypeRefreshResult{
				DataType:  dt,
				Status:    domain.StatusFailed,
				Error:     fmt.Sprintf("unknown data type %q", dt),
				ErrorType: "configuration",
				Timestamp: m.now().UTC(),
			}
			continue
		}

		res := m.refreshOne(ctx, symbol, dt, mode, opts)
		result.Results[dt] = res

		if dt == domain.DataTypePriceHistorical && succeeded(res.Status) {
			if !explicitIndicators {
				result.Results[domain.DataTypeIndicators] = m.refreshOne(ctx, symbol, domain.DataTypeIndicators, mode, RefreshOptions{Force: true})
			}
			if mode == domain.ModeScheduled || mode == domain.ModePeriodic {
				m.autoBackfillDaily(ctx, symbol, mode)
			}
		}
		if dt == domain.DataTypePriceIntraday15m && succeeded(res.Status) {
			if mode == domain.ModeScheduled || mode == domain.ModePeriodic {
				m.autoBackfillIntraday(ctx, symbol, mode)
			}
		}
	}

	result.CompletedAt = m.now().UTC()
	result.Tally()
	return result, nil
}

func succeeded(status domain.RefreshStatus) bool {
	return status == domain.StatusSuccess || status == domain.StatusPartial
}

// handlerResult is what a data-type handler reports back.
type handlerResult struct {
	fetched    int
	saved      int
	source     string
	message    string
	reportID   *string
	cursorDate *string
	cursorTs   *time.Time
	histStart  string
	histEnd    string
}

// refreshOne runs the full pipeline for one (symbol, data type) under its
// keyed lock and converts every internal error into a result at the
// boundary.
func (m *Manager) refreshOne(ctx context.Context, symbol string, dt domain.DataType, mode domain.RefreshMode, opts RefreshOptions) domain.DataTypeRefreshResult {
	unlock := m.locks.Lock(symbol + "|" + string(dt))
	defer unlock()

	start := m.now()
	timestamp := start.UTC()

	if !opts.Force {
		if mode == domain.ModeScheduled || mode == domain.ModePeriodic {
			inBackoff, err := m.state.InRetryBackoff(symbol, dt, start)
			if err == nil && inBackoff {
				return m.skip(symbol, dt, timestamp, "in retry back-off")
			}
		}
		lastSuccess, err := m.state.LastSuccess(symbol, dt)
		if err != nil {
			m.log.Warn().Err(err).Str("symbol", symbol).Str("data_type", string(dt)).
				Msg("Failed to read last success, treating as never")
		}
		if !m.strategy.ShouldRefresh(mode, dt, lastSuccess) {
			return m.skip(symbol, dt, timestamp, "not due for refresh")
		}
	}

	hr, err := m.dispatch(ctx, symbol, dt, opts)
	durationMs := m.now().Sub(start).Milliseconds()

	res := domain.DataTypeRefreshResult{
		DataType:     dt,
		RowsFetched:  hr.fetched,
		RowsAffected: hr.saved,
		Source:       hr.source,
		Timestamp:    timestamp,
	}

	switch {
	case err != nil:
		res.Status = domain.StatusFailed
		res.Error = err.Error()
		res.ErrorType = errorType(err)
		res.Message = fmt.Sprintf("refresh failed: %s", res.ErrorType)
		if stateErr := m.state.MarkFailure(symbol, dt, hr.source, err.Error()); stateErr != nil {
			m.log.Error().Err(stateErr).Str("symbol", symbol).Str("data_type", string(dt)).
				Msg("Failed to record failure state")
		}

	case hr.fetched == 0:
		res.Status = domain.StatusFailed
		res.Error = "no data"
		res.ErrorType = "no_data"
		res.Message = "provider returned no data"
		if stateErr := m.state.MarkFailure(symbol, dt, hr.source, "no data"); stateErr != nil {
			m.log.Error().Err(stateErr).Str("symbol", symbol).Str("data_type", string(dt)).
				Msg("Failed to record failure state")
		}

	case hr.saved == 0 && dt.Blocking():
		res.Status = domain.StatusFailed
		res.Error = "validation dropped all rows"
		res.ErrorType = "validation"
		res.Message = fmt.Sprintf("fetched %d rows, none survived validation", hr.fetched)
		if stateErr := m.state.MarkFailure(symbol, dt, hr.source, res.Error); stateErr != nil {
			m.log.Error().Err(stateErr).Str("symbol", symbol).Str("data_type", string(dt)).
				Msg("Failed to record failure state")
		}

	case hr.saved < hr.fetched:
		res.Status = domain.StatusPartial
		res.Message = fmt.Sprintf("persisted %d of %d rows", hr.saved, hr.fetched)
		if stateErr := m.state.MarkPartial(symbol, dt, hr.source, hr.cursorDate, hr.cursorTs); stateErr != nil {
			m.log.Error().Err(stateErr).Str("symbol", symbol).Str("data_type", string(dt)).
				Msg("Failed to record partial state")
		}

	default:
		res.Status = domain.StatusSuccess
		res.Message = hr.message
		if res.Message == "" {
			res.Message = fmt.Sprintf("persisted %d rows", hr.saved)
		}
		if stateErr := m.state.MarkSuccess(symbol, dt, hr.source, hr.cursorDate, hr.cursorTs); stateErr != nil {
			m.log.Error().Err(stateErr).Str("symbol", symbol).Str("data_type", string(dt)).
				Msg("Failed to record success state")
		}
	}

	if succeeded(res.Status) && hr.histStart != "" && hr.histEnd != "" {
		if rangeErr := m.state.SetHistoricalRange(symbol, dt, hr.histStart, hr.histEnd); rangeErr != nil {
			m.log.Warn().Err(rangeErr).Str("symbol", symbol).Msg("Failed to record historical range")
		}
	}

	var errMsg *string
	if res.Error != "" {
		errMsg = &res.Error
	}
	m.audit.InsertFetchAuditBestEffort(domain.DataFetchAuditRecord{
		Symbol:             symbol,
		FetchType:          dt,
		FetchMode:          mode,
		Timestamp:          timestamp,
		Source:             hr.source,
		RowsFetched:        hr.fetched,
		RowsSaved:          hr.saved,
		DurationMs:         durationMs,
		Success:            succeeded(res.Status),
		ErrorMessage:       errMsg,
		ValidationReportID: hr.reportID,
	})

	if m.metrics != nil {
		m.metrics.RefreshTotal.WithLabelValues(string(dt), string(res.Status)).Inc()
		m.metrics.RefreshDuration.WithLabelValues(string(dt)).Observe(float64(durationMs) / 1000)
		if hr.source != "" {
			outcome := "success"
			if res.Status == domain.StatusFailed {
				outcome = "failure"
			}
			m.metrics.ProviderCalls.WithLabelValues(hr.source, outcome).Inc()
		}
	}

	return res
}

func (m *Manager) skip(symbol string, dt domain.DataType, timestamp time.Time, reason string) domain.DataTypeRefreshResult {
	m.log.Debug().Str("symbol", symbol).Str("data_type", string(dt)).Str("reason", reason).
		Msg("Refresh skipped")
	if m.metrics != nil {
		m.metrics.RefreshTotal.WithLabelValues(string(dt), string(domain.StatusSkipped)).Inc()
	}
	return domain.DataTypeRefreshResult{
		DataType:  dt,
		Status:    domain.StatusSkipped,
		Message:   reason,
		Timestamp: timestamp,
	}
}

// dispatch routes a data type to its handler.
func (m *Manager) dispatch(ctx context.Context, symbol string, dt domain.DataType, opts RefreshOptions) (handlerResult, error) {
	switch dt {
	case domain.DataTypePriceHistorical:
		return m.fetchDailyBars(ctx, symbol, opts.LookbackDays)
	case domain.DataTypePriceIntraday15m:
		return m.fetchIntradayBars(ctx, symbol)
	case domain.DataTypePriceCurrent:
		return m.fetchCurrentPrice(ctx, symbol)
	case domain.DataTypeFundamentals:
		return m.fetchFundamentals(ctx, symbol, true)
	case domain.DataTypeFinancialRatios:
		return m.fetchFundamentals(ctx, symbol, false)
	case domain.DataTypeEarnings:
		return m.fetchEarnings(ctx, symbol)
	case domain.DataTypeNews:
		return m.fetchNews(ctx, symbol)
	case domain.DataTypeIndustryPeers:
		return m.fetchPeers(ctx, symbol)
	case domain.DataTypeCorporateActions:
		return m.fetchCorporateActions(ctx, symbol)
	case domain.DataTypeIncomeStatement, domain.DataTypeBalanceSheet, domain.DataTypeCashFlow:
		return m.fetchStatements(ctx, symbol, dt)
	case domain.DataTypeIndicators:
		return m.computeIndicators(symbol)
	}
	return handlerResult{}, fmt.Errorf("no handler for data type %q", dt)
}

// errorType maps an error to the taxonomy name surfaced in results.
func errorType(err error) string {
	var perr *providers.Error
	if errors.As(err, &perr) {
		return string(perr.Kind)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "internal"
}
