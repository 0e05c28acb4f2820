package refresh

import (
	"context"
	"time"

	"github.com/quantpane/marketsync/internal/domain"
	"github.com/quantpane/marketsync/internal/marketcal"
)

// autoBackfillDaily detects trading days missing from storage over the
// recent lookback window and fills them with one covering fetch. Runs
// after a successful scheduled or periodic historical refresh; failures
// are logged, never propagated.
func (m *Manager) autoBackfillDaily(ctx context.Context, symbol string, mode domain.RefreshMode) {
	now := m.now()
	from := now.AddDate(0, 0, -m.cfg.BackfillLookbackDaily)
	to := marketcal.PreviousTradingDay(now)
	if marketcal.IsTradingDay(now) {
		to = now
	}

	expected := marketcal.TradingDays(from, to)
	if len(expected) == 0 {
		return
	}

	present, err := m.market.ListDailyDates(symbol, expected[0], expected[len(expected)-1])
	if err != nil {
		m.log.Warn().Err(err).Str("symbol", symbol).Msg("Backfill gap scan failed")
		return
	}
	missing := missingDates(expected, present)
	if len(missing) == 0 {
		return
	}

	m.log.Info().
		Str("symbol", symbol).
		Int("missing_days", len(missing)).
		Str("first", missing[0]).
		Str("last", missing[len(missing)-1]).
		Msg("Backfilling missing daily bars")

	fetchFrom, _ := time.Parse(dateLayout, missing[0])
	fetchTo, _ := time.Parse(dateLayout, missing[len(missing)-1])
	fetchTo = fetchTo.AddDate(0, 0, 1)

	start := m.now()
	bars, source, err := m.source.DailyBars(ctx, symbol, fetchFrom, fetchTo)
	saved := 0
	var reportID *string
	if err == nil && len(bars) > 0 {
		cleaned, report := m.validator.ValidateBars(symbol, domain.DataTypePriceHistorical, bars)
		m.audit.InsertValidationReportBestEffort(report)
		reportID = &report.ReportID
		saved, err = m.market.UpsertDailyBars(cleaned)
	}
	if err != nil {
		m.log.Warn().Err(err).Str("symbol", symbol).Msg("Daily backfill fetch failed")
	}

	var errMsg *string
	if err != nil {
		msg := err.Error()
		errMsg = &msg
	}
	m.audit.InsertFetchAuditBestEffort(domain.DataFetchAuditRecord{
		Symbol:             symbol,
		FetchType:          domain.DataTypePriceHistorical,
		FetchMode:          mode,
		Timestamp:          start.UTC(),
		Source:             source,
		RowsFetched:        len(bars),
		RowsSaved:          saved,
		DurationMs:         m.now().Sub(start).Milliseconds(),
		Success:            err == nil,
		ErrorMessage:       errMsg,
		ValidationReportID: reportID,
		Metadata:           map[string]interface{}{"backfill": true, "missing_days": len(missing)},
	})

	if err == nil && saved > 0 {
		cursor := missing[len(missing)-1]
		if stateErr := m.state.MarkSuccess(symbol, domain.DataTypePriceHistorical, source, &cursor, nil); stateErr != nil {
			m.log.Warn().Err(stateErr).Str("symbol", symbol).Msg("Failed to advance cursor after backfill")
		}
		if m.metrics != nil {
			m.metrics.BackfillRows.WithLabelValues(string(domain.DataTypePriceHistorical)).Add(float64(saved))
		}
	}
}

// autoBackfillIntraday fills gaps in the 15-minute session grid over the
// recent lookback window.
func (m *Manager) autoBackfillIntraday(ctx context.Context, symbol string, mode domain.RefreshMode) {
	now := m.now()
	from := now.AddDate(0, 0, -m.cfg.BackfillLookbackIntraday)

	expected := marketcal.SessionGridRange(from, now, 15*time.Minute)
	grid := expected[:0]
	for _, ts := range expected {
		if ts.Before(now) {
			grid = append(grid, ts)
		}
	}
	if len(grid) == 0 {
		return
	}

	present, err := m.market.ListIntradayTimestamps(symbol, "15m", grid[0], now)
	if err != nil {
		m.log.Warn().Err(err).Str("symbol", symbol).Msg("Intraday backfill gap scan failed")
		return
	}
	missing := missingTimes(grid, present)
	if len(missing) == 0 {
		return
	}

	m.log.Info().
		Str("symbol", symbol).
		Int("missing_bars", len(missing)).
		Msg("Backfilling missing intraday bars")

	start := m.now()
	fetchFrom := missing[0]
	fetchTo := missing[len(missing)-1].Add(15 * time.Minute)

	bars, source, err := m.source.IntradayBars(ctx, symbol, 15*time.Minute, fetchFrom, fetchTo)
	saved := 0
	var reportID *string
	if err == nil && len(bars) > 0 {
		cleaned, report := m.validator.ValidateBars(symbol, domain.DataTypePriceIntraday15m, bars)
		m.audit.InsertValidationReportBestEffort(report)
		reportID = &report.ReportID
		saved, err = m.market.UpsertIntradayBars(cleaned)
	}
	if err != nil {
		m.log.Warn().Err(err).Str("symbol", symbol).Msg("Intraday backfill fetch failed")
	}

	var errMsg *string
	if err != nil {
		msg := err.Error()
		errMsg = &msg
	}
	m.audit.InsertFetchAuditBestEffort(domain.DataFetchAuditRecord{
		Symbol:             symbol,
		FetchType:          domain.DataTypePriceIntraday15m,
		FetchMode:          mode,
		Timestamp:          start.UTC(),
		Source:             source,
		RowsFetched:        len(bars),
		RowsSaved:          saved,
		DurationMs:         m.now().Sub(start).Milliseconds(),
		Success:            err == nil,
		ErrorMessage:       errMsg,
		ValidationReportID: reportID,
		Metadata:           map[string]interface{}{"backfill": true, "missing_bars": len(missing)},
	})

	if err == nil && saved > 0 && m.metrics != nil {
		m.metrics.BackfillRows.WithLabelValues(string(domain.DataTypePriceIntraday15m)).Add(float64(saved))
	}
}

func missingDates(expected, present []string) []string {
	have := make(map[string]bool, len(present))
	for _, d := range present {
		have[d] = true
	}
	var missing []string
	for _, d := range expected {
		if !have[d] {
			missing = append(missing, d)
		}
	}
	return missing
}

func missingTimes(expected, present []time.Time) []time.Time {
	have := make(map[int64]bool, len(present))
	for _, ts := range present {
		have[ts.Unix()] = true
	}
	var missing []time.Time
	for _, ts := range expected {
		if !have[ts.Unix()] {
			missing = append(missing, ts)
		}
	}
	return missing
}
