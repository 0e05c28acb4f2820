// Package readiness gates signal generation on data quality: a signal
// type declares requirements over stored data, and the checker reports
// whether a symbol currently satisfies them. It never generates signals.
package readiness

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpane/marketsync/internal/domain"
	"github.com/quantpane/marketsync/internal/marketcal"
	"github.com/quantpane/marketsync/internal/repository"
	"github.com/quantpane/marketsync/internal/validation"
)

// Readiness statuses.
const (
	StatusReady    = "ready"
	StatusPartial  = "partial"
	StatusNotReady = "not_ready"
)

// partialThreshold is the satisfied-requirement ratio at which a symbol
// counts as partially ready.
const partialThreshold = 0.7

// SignalSwingTrend is the built-in medium-term trend signal type.
const SignalSwingTrend = "swing_trend"

// swing_trend requirement parameters.
const (
	swingMinBars      = 200
	swingBarWindow    = 300 * 24 * time.Hour
	swingReportMaxAge = 48 * time.Hour
)

// Requirement is one named data-quality precondition.
type Requirement struct {
	Name  string
	Check func(symbol string, now time.Time) (satisfied bool, reason string, err error)
}

// Result is the outcome of a readiness check.
type Result struct {
	Symbol                string   `json:"symbol"`
	SignalType            string   `json:"signal_type"`
	Status                string   `json:"status"`
	Reasons               []string `json:"reasons,omitempty"`
	RequirementsSatisfied []string `json:"requirements_satisfied"`
}

// Checker evaluates signal readiness from the market data and audit
// repositories.
type Checker struct {
	market       *repository.MarketData
	audit        *repository.Audit
	log          zerolog.Logger
	now          func() time.Time
	requirements map[string][]Requirement
}

// New creates a checker with the built-in swing_trend requirement set.
func New(market *repository.MarketData, audit *repository.Audit, log zerolog.Logger) *Checker {
	c := &Checker{
		market:       market,
		audit:        audit,
		log:          log.With().Str("component", "readiness").Logger(),
		now:          time.Now,
		requirements: make(map[string][]Requirement),
	}
	c.Register(SignalSwingTrend, []Requirement{
		{Name: "daily_bar_history", Check: c.checkBarHistory},
		{Name: "recent_validation_pass", Check: c.checkRecentValidation},
		{Name: "fresh_indicators", Check: c.checkFreshIndicators},
	})
	return c
}

// Register installs or replaces the requirement set for a signal type.
func (c *Checker) Register(signalType string, reqs []Requirement) {
	c.requirements[signalType] = reqs
}

// Check evaluates all requirements of a signal type for one symbol.
func (c *Checker) Check(symbol, signalType string) (*Result, error) {
	reqs, ok := c.requirements[signalType]
	if !ok {
		return nil, fmt.Errorf("unknown signal type %q", signalType)
	}
	symbol = domain.NormalizeSymbol(symbol)
	now := c.now()

	result := &Result{
		Symbol:                symbol,
		SignalType:            signalType,
		RequirementsSatisfied: []string{},
	}

	satisfied := 0
	for _, req := range reqs {
		ok, reason, err := req.Check(symbol, now)
		if err != nil {
			return nil, fmt.Errorf("readiness check %s for %s: %w", req.Name, symbol, err)
		}
		if ok {
			satisfied++
			result.RequirementsSatisfied = append(result.RequirementsSatisfied, req.Name)
			continue
		}
		result.Reasons = append(result.Reasons, fmt.Sprintf("%s: %s", req.Name, reason))
	}

	switch {
	case satisfied == len(reqs):
		result.Status = StatusReady
	case float64(satisfied)/float64(len(reqs)) >= partialThreshold:
		result.Status = StatusPartial
	default:
		result.Status = StatusNotReady
	}

	c.log.Debug().
		Str("symbol", symbol).
		Str("signal_type", signalType).
		Str("status", result.Status).
		Strs("reasons", result.Reasons).
		Msg("Readiness evaluated")
	return result, nil
}

// checkBarHistory requires enough daily bars over the recent window to
// warm up the long moving averages.
func (c *Checker) checkBarHistory(symbol string, now time.Time) (bool, string, error) {
	from := now.Add(-swingBarWindow).UTC().Format("2006-01-02")
	dates, err := c.market.ListDailyDates(symbol, from, "")
	if err != nil {
		return false, "", err
	}
	if len(dates) < swingMinBars {
		return false, fmt.Sprintf("%d daily bars in window, need %d", len(dates), swingMinBars), nil
	}
	return true, "", nil
}

// checkRecentValidation requires a recent non-failing validation report
// for the historical price series.
func (c *Checker) checkRecentValidation(symbol string, now time.Time) (bool, string, error) {
	report, err := c.audit.LatestValidationReport(symbol, domain.DataTypePriceHistorical)
	if err != nil {
		return false, "", err
	}
	if report == nil {
		return false, "no validation report on record", nil
	}
	if age := now.Sub(report.Timestamp); age > swingReportMaxAge {
		return false, fmt.Sprintf("latest validation report is %s old", age.Round(time.Hour)), nil
	}
	if report.Status != validation.StatusPass && report.Status != validation.StatusWarning {
		return false, fmt.Sprintf("latest validation report status is %s", report.Status), nil
	}
	return true, "", nil
}

// checkFreshIndicators requires an indicator row for today or the
// previous trading day.
func (c *Checker) checkFreshIndicators(symbol string, now time.Time) (bool, string, error) {
	row, err := c.market.LatestIndicatorRow(symbol)
	if err != nil {
		return false, "", err
	}
	if row == nil {
		return false, "no indicator rows on record", nil
	}
	cutoff := marketcal.PreviousTradingDay(now).Format("2006-01-02")
	if row.Date < cutoff {
		return false, fmt.Sprintf("latest indicator row is for %s, need %s or later", row.Date, cutoff), nil
	}
	return true, "", nil
}
