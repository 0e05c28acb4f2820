package readiness

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpane/marketsync/internal/database"
	"github.com/quantpane/marketsync/internal/domain"
	"github.com/quantpane/marketsync/internal/marketcal"
	"github.com/quantpane/marketsync/internal/repository"
	"github.com/quantpane/marketsync/internal/validation"
)

var testNow = time.Date(2024, 6, 14, 22, 0, 0, 0, time.UTC) // Friday evening

type testEnv struct {
	checker *Checker
	market  *repository.MarketData
	audit   *repository.Audit
}

func newTestDB(t *testing.T, name string) *database.DB {
	t.Helper()

	unique := strings.NewReplacer("/", "_", "#", "_").Replace(t.Name())
	db, err := database.New(database.Config{
		Path:    "file:" + unique + "_" + name + "?mode=memory&cache=shared",
		Profile: database.ProfileStandard,
		Name:    name,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		market: repository.NewMarketData(newTestDB(t, "marketdata"), zerolog.Nop()),
		audit:  repository.NewAudit(newTestDB(t, "audit"), nil, zerolog.Nop()),
	}
	env.checker = New(env.market, env.audit, zerolog.Nop())
	env.checker.now = func() time.Time { return testNow }
	return env
}

func (env *testEnv) seedBars(t *testing.T, symbol string, daysBack int) {
	t.Helper()

	var bars []domain.Bar
	price := 100.0
	for _, d := range marketcal.TradingDays(testNow.AddDate(0, 0, -daysBack), testNow) {
		ts, _ := time.Parse("2006-01-02", d)
		price += 0.25
		bars = append(bars, domain.Bar{
			Symbol: symbol, Ts: ts, Interval: "1d",
			Open: price - 0.1, High: price + 0.3, Low: price - 0.4,
			Close: price, AdjClose: price, Volume: 1_000_000, Source: "test",
		})
	}
	_, err := env.market.UpsertDailyBars(bars)
	require.NoError(t, err)
}

func (env *testEnv) seedReport(t *testing.T, symbol, status string, age time.Duration) {
	t.Helper()

	require.NoError(t, env.audit.InsertValidationReport(&validation.Report{
		ReportID:  "report-" + symbol + "-" + status,
		Symbol:    symbol,
		DataType:  domain.DataTypePriceHistorical,
		Timestamp: testNow.Add(-age),
		Status:    status,
		RowsIn:    250,
		RowsOut:   250,
	}))
}

func (env *testEnv) seedIndicator(t *testing.T, symbol, date string) {
	t.Helper()

	_, err := env.market.UpsertIndicators([]domain.IndicatorRow{{
		Symbol: symbol, Date: date, Close: 123.4,
	}})
	require.NoError(t, err)
}

func TestCheckReady(t *testing.T) {
	env := newTestEnv(t)
	env.seedBars(t, "NVDA", 300)
	env.seedReport(t, "NVDA", validation.StatusPass, time.Hour)
	env.seedIndicator(t, "NVDA", "2024-06-14")

	result, err := env.checker.Check("nvda", SignalSwingTrend)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, result.Status)
	assert.Len(t, result.RequirementsSatisfied, 3)
	assert.Empty(t, result.Reasons)
}

func TestCheckIndicatorRowFromPreviousTradingDayCounts(t *testing.T) {
	env := newTestEnv(t)
	env.seedBars(t, "NVDA", 300)
	env.seedReport(t, "NVDA", validation.StatusWarning, 2*time.Hour)
	env.seedIndicator(t, "NVDA", "2024-06-13") // Thursday before a Friday check

	result, err := env.checker.Check("NVDA", SignalSwingTrend)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, result.Status)
}

func TestCheckNotReadyEmptySymbol(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.checker.Check("EMPTY", SignalSwingTrend)
	require.NoError(t, err)
	assert.Equal(t, StatusNotReady, result.Status)
	assert.Len(t, result.Reasons, 3)
	assert.Empty(t, result.RequirementsSatisfied)
}

func TestCheckInsufficientHistory(t *testing.T) {
	env := newTestEnv(t)
	env.seedBars(t, "NVDA", 60) // well under 200 bars
	env.seedReport(t, "NVDA", validation.StatusPass, time.Hour)
	env.seedIndicator(t, "NVDA", "2024-06-14")

	result, err := env.checker.Check("NVDA", SignalSwingTrend)
	require.NoError(t, err)
	assert.NotEqual(t, StatusReady, result.Status)
	require.NotEmpty(t, result.Reasons)
	assert.Contains(t, result.Reasons[0], "daily bars")
}

func TestCheckStaleReport(t *testing.T) {
	env := newTestEnv(t)
	env.seedBars(t, "NVDA", 300)
	env.seedReport(t, "NVDA", validation.StatusPass, 72*time.Hour)
	env.seedIndicator(t, "NVDA", "2024-06-14")

	result, err := env.checker.Check("NVDA", SignalSwingTrend)
	require.NoError(t, err)
	assert.NotEqual(t, StatusReady, result.Status)
	assert.NotContains(t, result.RequirementsSatisfied, "recent_validation_pass")
}

func TestCheckFailedReportBlocks(t *testing.T) {
	env := newTestEnv(t)
	env.seedBars(t, "NVDA", 300)
	env.seedReport(t, "NVDA", validation.StatusFail, time.Hour)
	env.seedIndicator(t, "NVDA", "2024-06-14")

	result, err := env.checker.Check("NVDA", SignalSwingTrend)
	require.NoError(t, err)
	assert.NotContains(t, result.RequirementsSatisfied, "recent_validation_pass")
}

func TestCheckStaleIndicators(t *testing.T) {
	env := newTestEnv(t)
	env.seedBars(t, "NVDA", 300)
	env.seedReport(t, "NVDA", validation.StatusPass, time.Hour)
	env.seedIndicator(t, "NVDA", "2024-06-10") // several trading days old

	result, err := env.checker.Check("NVDA", SignalSwingTrend)
	require.NoError(t, err)
	assert.NotContains(t, result.RequirementsSatisfied, "fresh_indicators")
}

func TestCheckUnknownSignalType(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.checker.Check("NVDA", "no_such_signal")
	require.Error(t, err)
}

func TestPartialThreshold(t *testing.T) {
	env := newTestEnv(t)

	pass := func(string, time.Time) (bool, string, error) { return true, "", nil }
	fail := func(string, time.Time) (bool, string, error) { return false, "nope", nil }

	reqs := make([]Requirement, 0, 10)
	for i := 0; i < 7; i++ {
		reqs = append(reqs, Requirement{Name: "ok", Check: pass})
	}
	for i := 0; i < 3; i++ {
		reqs = append(reqs, Requirement{Name: "bad", Check: fail})
	}
	env.checker.Register("custom", reqs)

	result, err := env.checker.Check("NVDA", "custom")
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, result.Status)
	assert.Len(t, result.Reasons, 3)
}
