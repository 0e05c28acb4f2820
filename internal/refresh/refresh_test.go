package refresh

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpane/marketsync/internal/database"
	"github.com/quantpane/marketsync/internal/domain"
	"github.com/quantpane/marketsync/internal/marketcal"
	"github.com/quantpane/marketsync/internal/providers"
	"github.com/quantpane/marketsync/internal/repository"
	"github.com/quantpane/marketsync/internal/validation"
)

// fakeSource implements DataSource with settable behaviors. Unset
// capabilities return empty results.
type fakeSource struct {
	mu    sync.Mutex
	calls map[string]int

	daily        func(from, to time.Time) ([]domain.Bar, string, error)
	intraday     func(from, to time.Time) ([]domain.Bar, string, error)
	quote        func() (*domain.Quote, string, error)
	fundamentals func() (*domain.FundamentalsSnapshot, string, error)
	earnings     func() ([]domain.EarningsRecord, string, error)
	news         func() ([]domain.NewsArticle, string, error)
	peers        func() (*domain.IndustryPeers, string, error)
	actions      func() ([]domain.CorporateAction, string, error)
	statements   func() (*domain.StatementBundle, string, error)
	details      func() (*domain.SymbolDetails, string, error)
}

func (f *fakeSource) count(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
}

func (f *fakeSource) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeSource) DailyBars(_ context.Context, _ string, from, to time.Time) ([]domain.Bar, string, error) {
	f.count("daily")
	if f.daily == nil {
		return nil, "test", nil
	}
	return f.daily(from, to)
}

func (f *fakeSource) IntradayBars(_ context.Context, _ string, _ time.Duration, from, to time.Time) ([]domain.Bar, string, error) {
	f.count("intraday")
	if f.intraday == nil {
		return nil, "test", nil
	}
	return f.intraday(from, to)
}

func (f *fakeSource) Quote(context.Context, string) (*domain.Quote, string, error) {
	f.count("quote")
	if f.quote == nil {
		return nil, "test", nil
	}
	return f.quote()
}

func (f *fakeSource) Fundamentals(context.Context, string) (*domain.FundamentalsSnapshot, string, error) {
	f.count("fundamentals")
	if f.fundamentals == nil {
		return nil, "test", nil
	}
	return f.fundamentals()
}

func (f *fakeSource) Earnings(context.Context, string) ([]domain.EarningsRecord, string, error) {
	f.count("earnings")
	if f.earnings == nil {
		return nil, "test", nil
	}
	return f.earnings()
}

func (f *fakeSource) News(context.Context, string, int) ([]domain.NewsArticle, string, error) {
	f.count("news")
	if f.news == nil {
		return nil, "test", nil
	}
	return f.news()
}

func (f *fakeSource) Peers(context.Context, string) (*domain.IndustryPeers, string, error) {
	f.count("peers")
	if f.peers == nil {
		return nil, "test", nil
	}
	return f.peers()
}

func (f *fakeSource) CorporateActions(context.Context, string, time.Time, time.Time) ([]domain.CorporateAction, string, error) {
	f.count("actions")
	if f.actions == nil {
		return nil, "test", nil
	}
	return f.actions()
}

func (f *fakeSource) Statements(context.Context, string, string) (*domain.StatementBundle, string, error) {
	f.count("statements")
	if f.statements == nil {
		return nil, "test", nil
	}
	return f.statements()
}

func (f *fakeSource) SymbolDetails(context.Context, string) (*domain.SymbolDetails, string, error) {
	f.count("details")
	if f.details == nil {
		return nil, "test", nil
	}
	return f.details()
}

type testEnv struct {
	manager *Manager
	source  *fakeSource
	market  *repository.MarketData
	state   *repository.IngestionState
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

	marketDB := newTestDB(t, "marketdata")
	auditDB := newTestDB(t, "audit")

	source := &fakeSource{}
	strategy, err := NewStrategy("17:30")
	require.NoError(t, err)

	env := &testEnv{
		source: source,
		market: repository.NewMarketData(marketDB, zerolog.Nop()),
		state:  repository.NewIngestionState(marketDB, zerolog.Nop()),
		audit:  repository.NewAudit(auditDB, nil, zerolog.Nop()),
	}
	env.manager = NewManager(source, validation.New(zerolog.Nop()), env.market,
		env.state, env.audit, strategy, nil, Config{}, zerolog.Nop())
	return env
}

// tradingBars builds one valid daily bar per NYSE trading day in [from, to].
func tradingBars(symbol string, from, to time.Time) []domain.Bar {
	var bars []domain.Bar
	price := 100.0
	for _, d := range marketcal.TradingDays(from, to) {
		ts, _ := time.Parse("2006-01-02", d)
		price += 0.5
		bars = append(bars, domain.Bar{
			Symbol:   symbol,
			Ts:       ts,
			Interval: "1d",
			Open:     price - 0.3,
			High:     price + 0.6,
			Low:      price - 0.7,
			Close:    price,
			AdjClose: price,
			Volume:   2_000_000,
			Source:   "test",
		})
	}
	return bars
}

func fixedNow(t time.Time) func() time.Time { return func() time.Time { return t } }

var testNow = time.Date(2024, 6, 14, 22, 0, 0, 0, time.UTC) // Friday evening

func TestRefreshHistoricalAndFundamentals(t *testing.T) {
	env := newTestEnv(t)
	env.manager.now = fixedNow(testNow)

	sector := "Technology"
	env.source.daily = func(from, to time.Time) ([]domain.Bar, string, error) {
		return tradingBars("NVDA", testNow.AddDate(0, 0, -90), testNow), "alphavantage", nil
	}
	env.source.fundamentals = func() (*domain.FundamentalsSnapshot, string, error) {
		marketCap := 3.0e12
		return &domain.FundamentalsSnapshot{
			Symbol:    "NVDA",
			AsOfDate:  "2024-06-14",
			Source:    "alphavantage",
			Sector:    &sector,
			MarketCap: &marketCap,
		}, "alphavantage", nil
	}

	result, err := env.manager.RefreshData(context.Background(), "nvda",
		[]domain.DataType{domain.DataTypePriceHistorical, domain.DataTypeFundamentals},
		domain.ModeOnDemand, true)
	require.NoError(t, err)

	assert.Equal(t, "NVDA", result.Symbol)
	assert.Equal(t, domain.StatusSuccess, result.Results[domain.DataTypePriceHistorical].Status)
	assert.Equal(t, domain.StatusSuccess, result.Results[domain.DataTypeFundamentals].Status)
	assert.Equal(t, "alphavantage", result.Results[domain.DataTypePriceHistorical].Source)

	// Historical success derives indicators as an independent sub-result.
	indRes, ok := result.Results[domain.DataTypeIndicators]
	require.True(t, ok)
	assert.Equal(t, domain.StatusSuccess, indRes.Status)
	assert.Equal(t, 3, result.TotalSuccessful)
	assert.Equal(t, 0, result.TotalFailed)

	count, err := env.market.CountDailyBars("NVDA")
	require.NoError(t, err)
	assert.Greater(t, count, 50)

	indCount, err := env.market.CountIndicatorRows("NVDA")
	require.NoError(t, err)
	assert.Equal(t, count, indCount)

	// Ingestion state reset on success.
	st, err := env.state.Get("NVDA", domain.DataTypePriceHistorical)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, repository.StateSuccess, st.Status)
	assert.Equal(t, 0, st.RetryCount)
	assert.NotNil(t, st.LastSuccessAt)
	require.NotNil(t, st.CursorDate)
	assert.Equal(t, "2024-06-14", *st.CursorDate)
	assert.NotNil(t, st.HistoricalStartDate)

	// One audit record per handler invocation.
	audits, err := env.audit.RecentFetchAudits("NVDA", 10)
	require.NoError(t, err)
	assert.Len(t, audits, 3)
}

func TestRefreshNoDataFails(t *testing.T) {
	env := newTestEnv(t)
	env.manager.now = fixedNow(testNow)

	result, err := env.manager.RefreshData(context.Background(), "NVDA",
		[]domain.DataType{domain.DataTypePriceHistorical}, domain.ModeOnDemand, true)
	require.NoError(t, err)

	res := result.Results[domain.DataTypePriceHistorical]
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, "no data", res.Error)

	// No indicator trigger on failure.
	_, ok := result.Results[domain.DataTypeIndicators]
	assert.False(t, ok)

	st, err := env.state.Get("NVDA", domain.DataTypePriceHistorical)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, repository.StateFailed, st.Status)
	assert.Equal(t, 1, st.RetryCount)
	require.NotNil(t, st.NextRetryAt)
}

func TestRefreshProviderErrorTaxonomy(t *testing.T) {
	env := newTestEnv(t)
	env.manager.now = fixedNow(testNow)
	env.source.earnings = func() ([]domain.EarningsRecord, string, error) {
		return nil, "alphavantage", providers.NewError("alphavantage", "earnings",
			providers.KindRateLimited, nil)
	}

	result, err := env.manager.RefreshData(context.Background(), "NVDA",
		[]domain.DataType{domain.DataTypeEarnings}, domain.ModeOnDemand, true)
	require.NoError(t, err)

	res := result.Results[domain.DataTypeEarnings]
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, string(providers.KindRateLimited), res.ErrorType)
}

func TestRefreshEarningsPartialPersistence(t *testing.T) {
	env := newTestEnv(t)
	env.manager.now = fixedNow(testNow)

	est1, act1 := 1.0, 1.1
	env.source.earnings = func() ([]domain.EarningsRecord, string, error) {
		return []domain.EarningsRecord{
			{Symbol: "BAD", EarningsDate: "2024-03-31", EPSEstimate: &est1, EPSActual: &act1, Source: "test"},
			{Symbol: "BAD", EarningsDate: "", Source: "test"}, // dropped by validation
			{Symbol: "BAD", EarningsDate: "2023-12-31", Source: "test"},
		}, "alphavantage", nil
	}

	result, err := env.manager.RefreshData(context.Background(), "BAD",
		[]domain.DataType{domain.DataTypeEarnings}, domain.ModeOnDemand, true)
	require.NoError(t, err)

	res := result.Results[domain.DataTypeEarnings]
	assert.Equal(t, domain.StatusPartial, res.Status)
	assert.Equal(t, 3, res.RowsFetched)
	assert.Equal(t, 2, res.RowsAffected)
	assert.Contains(t, res.Message, "2 of 3")

	// Partial counts as success for retry purposes.
	assert.Equal(t, 1, result.TotalSuccessful)
	st, err := env.state.Get("BAD", domain.DataTypeEarnings)
	require.NoError(t, err)
	assert.Equal(t, repository.StatePartial, st.Status)
	assert.Equal(t, 0, st.RetryCount)
}

func TestRefreshBackoffSkipAndForceBypass(t *testing.T) {
	env := newTestEnv(t)

	env.source.fundamentals = func() (*domain.FundamentalsSnapshot, string, error) {
		return nil, "alphavantage", providers.NewError("alphavantage", "fundamentals",
			providers.KindUnavailable, nil)
	}

	// Two forced failures build the back-off ladder.
	for i := 0; i < 2; i++ {
		_, err := env.manager.RefreshData(context.Background(), "NVDA",
			[]domain.DataType{domain.DataTypeFundamentals}, domain.ModeOnDemand, true)
		require.NoError(t, err)
	}

	st, err := env.state.Get("NVDA", domain.DataTypeFundamentals)
	require.NoError(t, err)
	assert.Equal(t, 2, st.RetryCount)
	require.NotNil(t, st.NextRetryAt)
	assert.InDelta(t, float64(24*time.Hour), float64(time.Until(*st.NextRetryAt)), float64(time.Minute))

	// A periodic attempt inside the back-off window is skipped without a
	// provider call.
	before := env.source.callCount("fundamentals")
	result, err := env.manager.RefreshData(context.Background(), "NVDA",
		[]domain.DataType{domain.DataTypeFundamentals}, domain.ModePeriodic, false)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSkipped, result.Results[domain.DataTypeFundamentals].Status)
	assert.Equal(t, before, env.source.callCount("fundamentals"))

	// force still executes.
	_, err = env.manager.RefreshData(context.Background(), "NVDA",
		[]domain.DataType{domain.DataTypeFundamentals}, domain.ModeOnDemand, true)
	require.NoError(t, err)
	assert.Equal(t, before+1, env.source.callCount("fundamentals"))
}

func TestRefreshPeriodicNotDueSkips(t *testing.T) {
	env := newTestEnv(t)

	env.source.news = func() ([]domain.NewsArticle, string, error) {
		return []domain.NewsArticle{{
			Symbol:      "NVDA",
			PublishedAt: time.Now().UTC().Add(-2 * time.Hour),
			Title:       "chips",
			URL:         "https://example.com/a",
			Source:      "test",
		}}, "alphavantage", nil
	}

	_, err := env.manager.RefreshData(context.Background(), "NVDA",
		[]domain.DataType{domain.DataTypeNews}, domain.ModeOnDemand, true)
	require.NoError(t, err)

	// News succeeded moments ago; periodic cadence for news is hours.
	result, err := env.manager.RefreshData(context.Background(), "NVDA",
		[]domain.DataType{domain.DataTypeNews}, domain.ModePeriodic, false)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSkipped, result.Results[domain.DataTypeNews].Status)
}

func TestRefreshIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.manager.now = fixedNow(testNow)

	env.source.daily = func(from, to time.Time) ([]domain.Bar, string, error) {
		return tradingBars("NVDA", testNow.AddDate(0, 0, -30), testNow), "alphavantage", nil
	}

	types := []domain.DataType{domain.DataTypePriceHistorical}
	_, err := env.manager.RefreshData(context.Background(), "NVDA", types, domain.ModeOnDemand, true)
	require.NoError(t, err)
	first, err := env.market.CountDailyBars("NVDA")
	require.NoError(t, err)

	_, err = env.manager.RefreshData(context.Background(), "NVDA", types, domain.ModeOnDemand, true)
	require.NoError(t, err)
	second, err := env.market.CountDailyBars("NVDA")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestDailyBackfillFillsMissingDay(t *testing.T) {
	env := newTestEnv(t)
	env.manager.now = fixedNow(testNow)

	from := testNow.AddDate(0, 0, -10)
	expected := marketcal.TradingDays(from, testNow)
	require.Greater(t, len(expected), 4)
	missingDay := expected[2]

	// Seed every expected day except one.
	var seed []domain.Bar
	for _, b := range tradingBars("NVDA", from, testNow) {
		if b.Date() != missingDay {
			seed = append(seed, b)
		}
	}
	_, err := env.market.UpsertDailyBars(seed)
	require.NoError(t, err)

	env.source.daily = func(fetchFrom, fetchTo time.Time) ([]domain.Bar, string, error) {
		return tradingBars("NVDA", fetchFrom, fetchTo), "alphavantage", nil
	}

	env.manager.autoBackfillDaily(context.Background(), "NVDA", domain.ModeScheduled)

	dates, err := env.market.ListDailyDates("NVDA", expected[0], expected[len(expected)-1])
	require.NoError(t, err)
	assert.Contains(t, dates, missingDay)
	assert.Len(t, dates, len(expected))

	// The backfill fetch left an audit trail.
	audits, err := env.audit.RecentFetchAudits("NVDA", 10)
	require.NoError(t, err)
	require.NotEmpty(t, audits)
}

func TestDailyBackfillNoGapsNoFetch(t *testing.T) {
	env := newTestEnv(t)
	env.manager.now = fixedNow(testNow)

	from := testNow.AddDate(0, 0, -10)
	_, err := env.market.UpsertDailyBars(tradingBars("NVDA", from, testNow))
	require.NoError(t, err)

	env.manager.autoBackfillDaily(context.Background(), "NVDA", domain.ModeScheduled)
	assert.Equal(t, 0, env.source.callCount("daily"))
}

func TestRunStageBlockingFailure(t *testing.T) {
	env := newTestEnv(t)
	env.manager.now = fixedNow(testNow)

	// Historical returns nothing: blocking failure fails the stage even
	// though news (also in the ingestion stage) succeeds.
	env.source.news = func() ([]domain.NewsArticle, string, error) {
		return []domain.NewsArticle{{
			Symbol:      "NVDA",
			PublishedAt: testNow.Add(-time.Hour),
			Title:       "chips",
			URL:         "https://example.com/a",
			Source:      "test",
		}}, "alphavantage", nil
	}

	err := env.manager.RunStage(context.Background(), "wf-1", "NVDA", domain.StageIngestion, domain.ModeOnDemand, domain.StageOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(domain.DataTypePriceHistorical))
}

func TestRunStageAuxiliaryToleratesPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	env.manager.now = fixedNow(testNow)

	sector := "Technology"
	env.source.fundamentals = func() (*domain.FundamentalsSnapshot, string, error) {
		return &domain.FundamentalsSnapshot{
			Symbol: "NVDA", AsOfDate: "2024-06-14", Source: "test", Sector: &sector,
		}, "test", nil
	}
	// Statements return nothing: failed, but the stage still has a success.
	err := env.manager.RunStage(context.Background(), "wf-1", "NVDA", domain.StageFundamentals, domain.ModeOnDemand, domain.StageOptions{})
	require.NoError(t, err)
}

func TestRunStageUnknownStage(t *testing.T) {
	env := newTestEnv(t)
	err := env.manager.RunStage(context.Background(), "wf-1", "NVDA", "nonsense", domain.ModeOnDemand, domain.StageOptions{})
	require.Error(t, err)
}

func TestStageDataTypesMapping(t *testing.T) {
	ing := domain.StageDataTypes(domain.StageIngestion)
	assert.Contains(t, ing, domain.DataTypePriceHistorical)
	assert.Contains(t, ing, domain.DataTypeNews)
	assert.NotContains(t, ing, domain.DataTypePriceCurrent)

	assert.Equal(t, []domain.DataType{domain.DataTypeIndicators}, domain.StageDataTypes(domain.StageIndicators))
	assert.Contains(t, domain.StageDataTypes(domain.StageFundamentals), domain.DataTypeIncomeStatement)
	assert.Empty(t, domain.StageDataTypes("nope"))
}

func TestRefreshExplicitLookbackWindow(t *testing.T) {
	env := newTestEnv(t)
	env.manager.now = fixedNow(testNow)

	var gotFrom time.Time
	env.source.daily = func(from, to time.Time) ([]domain.Bar, string, error) {
		gotFrom = from
		return tradingBars("NVDA", testNow.AddDate(0, 0, -10), testNow), "test", nil
	}

	// A stored cursor narrows default-window refreshes but must not shrink
	// an explicitly requested window.
	cursor := testNow.AddDate(0, 0, -1).Format("2006-01-02")
	require.NoError(t, env.state.MarkSuccess("NVDA", domain.DataTypePriceHistorical, "test", &cursor, nil))

	_, err := env.manager.RefreshWithOptions(context.Background(), "NVDA",
		[]domain.DataType{domain.DataTypePriceHistorical},
		domain.ModeOnDemand, RefreshOptions{Force: true, LookbackDays: 31})
	require.NoError(t, err)
	assert.Equal(t, testNow.AddDate(0, 0, -31), gotFrom)

	_, err = env.manager.RefreshData(context.Background(), "NVDA",
		[]domain.DataType{domain.DataTypePriceHistorical}, domain.ModeOnDemand, true)
	require.NoError(t, err)
	assert.True(t, gotFrom.After(testNow.AddDate(0, 0, -10)), "default window should start at the cursor overlap")
}

func TestKeyedMutexSerialisesSameKey(t *testing.T) {
	km := newKeyedMutex()

	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("NVDA|price_historical")
			defer unlock()
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxActive)

	// The map drains once all holders release.
	km.mu.Lock()
	assert.Empty(t, km.locks)
	km.mu.Unlock()
}

func TestStrategyScheduledWindow(t *testing.T) {
	s, err := NewStrategy("17:30")
	require.NoError(t, err)

	loc := marketcal.Location()
	inWindow := time.Date(2024, 6, 14, 17, 45, 0, 0, loc)
	outOfWindow := time.Date(2024, 6, 14, 12, 0, 0, 0, loc)

	recent := inWindow.Add(-2 * time.Hour)

	s.now = fixedNow(inWindow)
	assert.True(t, s.ShouldRefresh(domain.ModeScheduled, domain.DataTypePriceHistorical, recent))

	s.now = fixedNow(outOfWindow)
	assert.False(t, s.ShouldRefresh(domain.ModeScheduled, domain.DataTypePriceHistorical, outOfWindow.Add(-2*time.Hour)))

	// Stale data refreshes even outside the window.
	assert.True(t, s.ShouldRefresh(domain.ModeScheduled, domain.DataTypePriceHistorical, outOfWindow.Add(-24*time.Hour)))

	// Never-succeeded keys are always due.
	assert.True(t, s.ShouldRefresh(domain.ModeScheduled, domain.DataTypePriceHistorical, time.Time{}))
}

func TestStrategyPeriodicIntervals(t *testing.T) {
	s, err := NewStrategy("")
	require.NoError(t, err)
	now := time.Date(2024, 6, 14, 15, 0, 0, 0, time.UTC)
	s.now = fixedNow(now)

	assert.True(t, s.ShouldRefresh(domain.ModePeriodic, domain.DataTypePriceCurrent, now.Add(-2*time.Minute)))
	assert.False(t, s.ShouldRefresh(domain.ModePeriodic, domain.DataTypePriceCurrent, now.Add(-30*time.Second)))

	assert.True(t, s.ShouldRefresh(domain.ModePeriodic, domain.DataTypePriceIntraday15m, now.Add(-16*time.Minute)))
	assert.False(t, s.ShouldRefresh(domain.ModePeriodic, domain.DataTypePriceIntraday15m, now.Add(-5*time.Minute)))

	assert.True(t, s.ShouldRefresh(domain.ModePeriodic, domain.DataTypeFundamentals, now.Add(-7*time.Hour)))
	assert.False(t, s.ShouldRefresh(domain.ModePeriodic, domain.DataTypeFundamentals, now.Add(-time.Hour)))
}

func TestStrategyOnDemandAndLive(t *testing.T) {
	s, err := NewStrategy("17:30")
	require.NoError(t, err)
	now := time.Date(2024, 6, 14, 15, 0, 0, 0, time.UTC)
	s.now = fixedNow(now)

	assert.True(t, s.ShouldRefresh(domain.ModeOnDemand, domain.DataTypeNews, now.Add(-time.Second)))
	assert.True(t, s.ShouldRefresh(domain.ModeLive, domain.DataTypePriceCurrent, now.Add(-90*time.Second)))
	assert.False(t, s.ShouldRefresh(domain.ModeLive, domain.DataTypePriceCurrent, now.Add(-10*time.Second)))
}

func TestStrategyRejectsBadScheduleTime(t *testing.T) {
	_, err := NewStrategy("25:00")
	require.Error(t, err)
	_, err = NewStrategy("nope")
	require.Error(t, err)
}
