package validation

import (
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/quantpane/marketsync/internal/domain"
	"github.com/quantpane/marketsync/internal/marketcal"
)

// outlierSigma is the threshold, in standard deviations of the close-to-
// close return distribution, beyond which a daily move is flagged.
const outlierSigma = 4.0

// maxFutureSkew tolerates provider clocks running slightly ahead before a
// timestamp counts as being in the future.
const maxFutureSkew = 5 * time.Minute

// maxSurprisePct bounds a plausible earnings surprise; an actual ten times
// the estimate is a data error, not a result.
const maxSurprisePct = 1000.0

// News title length bounds. Shorter titles are usually tickers or
// truncation artifacts, longer ones are scraped page bodies.
const (
	minNewsTitleLen = 10
	maxNewsTitleLen = 500
)

// Validator runs the per-datatype check catalogue.
type Validator struct {
	log zerolog.Logger
	now func() time.Time
}

// New creates a validator.
func New(log zerolog.Logger) *Validator {
	return &Validator{
		log: log.With().Str("component", "validator").Logger(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// ValidateBars checks OHLCV rows. Critical failures (missing prices,
// non-positive values, inverted ranges, future or duplicate timestamps)
// drop the row; statistical outliers are kept and flagged as warnings.
func (v *Validator) ValidateBars(symbol string, dataType domain.DataType, bars []domain.Bar) ([]domain.Bar, *Report) {
	report := newReport(symbol, dataType, len(bars))
	now := v.now()

	clean := make([]domain.Bar, 0, len(bars))
	seen := make(map[int64]bool, len(bars))

	for i, bar := range bars {
		if !finitePositive(bar.Open) || !finitePositive(bar.High) || !finitePositive(bar.Low) || !finitePositive(bar.Close) {
			report.add("prices_positive", SeverityCritical, i, "non-positive or non-finite price at %s", bar.Ts.Format(time.RFC3339))
			continue
		}
		if bar.High < bar.Low {
			report.add("high_low_order", SeverityCritical, i, "high %.4f below low %.4f at %s", bar.High, bar.Low, bar.Ts.Format(time.RFC3339))
			continue
		}
		if bar.Ts.After(now.Add(maxFutureSkew)) {
			report.add("no_future_rows", SeverityCritical, i, "timestamp %s is in the future", bar.Ts.Format(time.RFC3339))
			continue
		}
		key := bar.Ts.Unix()
		if seen[key] {
			report.add("duplicate_timestamp", SeverityCritical, i, "duplicate timestamp %s", bar.Ts.Format(time.RFC3339))
			continue
		}
		seen[key] = true

		if bar.Open > bar.High || bar.Open < bar.Low {
			report.add("open_in_range", SeverityWarning, i, "open %.4f outside [low, high] at %s", bar.Open, bar.Ts.Format(time.RFC3339))
		}
		if bar.Close > bar.High || bar.Close < bar.Low {
			report.add("close_in_range", SeverityWarning, i, "close %.4f outside [low, high] at %s", bar.Close, bar.Ts.Format(time.RFC3339))
		}
		if bar.Volume < 0 {
			report.add("volume_non_negative", SeverityWarning, i, "negative volume at %s", bar.Ts.Format(time.RFC3339))
			bar.Volume = 0
		}
		if bar.AdjClose <= 0 {
			bar.AdjClose = bar.Close
		}

		clean = append(clean, bar)
	}

	v.flagReturnOutliers(clean, report)
	if dataType == domain.DataTypePriceHistorical {
		v.flagMissingTradingDays(clean, report)
	}

	report.finalize(len(clean))
	v.logReport(report)
	return clean, report
}

// flagMissingTradingDays warns when the cleaned daily series skips NYSE
// trading days between its first and last row. Needs at least two rows to
// define a range.
func (v *Validator) flagMissingTradingDays(bars []domain.Bar, report *Report) {
	if len(bars) < 2 {
		return
	}

	have := make(map[string]bool, len(bars))
	firstDay, lastDay := "", ""
	for _, bar := range bars {
		day := bar.Ts.UTC().Format("2006-01-02")
		have[day] = true
		if firstDay == "" || day < firstDay {
			firstDay = day
		}
		if day > lastDay {
			lastDay = day
		}
	}

	// Bar dates are UTC date strings; anchor the range in exchange time so
	// the calendar enumerates the same dates.
	first, err := time.ParseInLocation("2006-01-02", firstDay, marketcal.Location())
	if err != nil {
		return
	}
	last, err := time.ParseInLocation("2006-01-02", lastDay, marketcal.Location())
	if err != nil {
		return
	}

	var missing int
	var firstGap string
	for _, day := range marketcal.TradingDays(first, last) {
		if !have[day] {
			missing++
			if firstGap == "" {
				firstGap = day
			}
		}
	}
	if missing > 0 {
		report.add("date_continuity", SeverityWarning, -1,
			"%d trading days missing between %s and %s, first gap %s",
			missing, firstDay, lastDay, firstGap)
	}
}

// flagReturnOutliers computes close-to-close returns over the cleaned rows
// and warns on moves beyond outlierSigma standard deviations. Needs enough
// history for the distribution to mean anything.
func (v *Validator) flagReturnOutliers(bars []domain.Bar, report *Report) {
	if len(bars) < 20 {
		return
	}

	returns := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		returns = append(returns, math.Log(bars[i].Close/bars[i-1].Close))
	}

	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 || math.IsNaN(std) {
		return
	}

	for i, ret := range returns {
		if math.Abs(ret-mean) > outlierSigma*std {
			report.add("return_outlier", SeverityWarning, i+1,
				"%.1f%% move at %s exceeds %.0f sigma", (math.Exp(ret)-1)*100,
				bars[i+1].Ts.Format("2006-01-02"), outlierSigma)
		}
	}
}

// ValidateEarnings checks earnings records. A record needs a well-formed
// date; surprise values are re-derived when they disagree with the
// estimate and actual they were computed from.
func (v *Validator) ValidateEarnings(symbol string, records []domain.EarningsRecord) ([]domain.EarningsRecord, *Report) {
	report := newReport(symbol, domain.DataTypeEarnings, len(records))

	clean := make([]domain.EarningsRecord, 0, len(records))
	seen := make(map[string]bool, len(records))

	for i, rec := range records {
		if _, err := time.Parse("2006-01-02", rec.EarningsDate); err != nil {
			report.add("earnings_date_format", SeverityCritical, i, "unparseable earnings date %q", rec.EarningsDate)
			continue
		}
		if seen[rec.EarningsDate] {
			report.add("duplicate_earnings_date", SeverityCritical, i, "duplicate earnings date %s", rec.EarningsDate)
			continue
		}
		seen[rec.EarningsDate] = true

		if rec.FiscalQuarter != nil && (*rec.FiscalQuarter < 1 || *rec.FiscalQuarter > 4) {
			report.add("fiscal_quarter_range", SeverityWarning, i, "fiscal quarter %d out of range at %s", *rec.FiscalQuarter, rec.EarningsDate)
			rec.FiscalQuarter = nil
		}
		if year := v.now().Year(); rec.FiscalYear != nil && (*rec.FiscalYear < year-10 || *rec.FiscalYear > year+2) {
			report.add("fiscal_year_range", SeverityWarning, i, "fiscal year %d out of range at %s", *rec.FiscalYear, rec.EarningsDate)
			rec.FiscalYear = nil
		}

		if !finiteOrNil(rec.EPSEstimate) || !finiteOrNil(rec.EPSActual) {
			report.add("eps_finite", SeverityWarning, i, "non-finite EPS value at %s", rec.EarningsDate)
			rec.EPSEstimate = nil
			rec.EPSActual = nil
			rec.SurprisePct = nil
		}

		derived := domain.DeriveSurprisePct(rec.EPSEstimate, rec.EPSActual)
		if !floatPtrEqual(rec.SurprisePct, derived) {
			report.add("surprise_consistency", SeverityInfo, i, "surprise re-derived from estimate and actual at %s", rec.EarningsDate)
			rec.SurprisePct = derived
		}
		if rec.SurprisePct != nil && math.Abs(*rec.SurprisePct) > maxSurprisePct {
			report.add("surprise_bound", SeverityWarning, i, "surprise %.1f%% beyond plausible bound at %s", *rec.SurprisePct, rec.EarningsDate)
			rec.SurprisePct = nil
		}

		clean = append(clean, rec)
	}

	report.finalize(len(clean))
	v.logReport(report)
	return clean, report
}

// ValidateFundamentals checks a fundamentals snapshot.
func (v *Validator) ValidateFundamentals(symbol string, snapshot *domain.FundamentalsSnapshot) (*domain.FundamentalsSnapshot, *Report) {
	rowsIn := 0
	if snapshot != nil {
		rowsIn = 1
	}
	report := newReport(symbol, domain.DataTypeFundamentals, rowsIn)

	if snapshot == nil {
		report.add("snapshot_present", SeverityCritical, -1, "no fundamentals snapshot returned")
		report.finalize(0)
		v.logReport(report)
		return nil, report
	}

	if _, err := time.Parse("2006-01-02", snapshot.AsOfDate); err != nil {
		report.add("as_of_date_format", SeverityCritical, 0, "unparseable as-of date %q", snapshot.AsOfDate)
		report.finalize(0)
		v.logReport(report)
		return nil, report
	}

	// Identity is checked before cleaning: a snapshot carrying none of
	// sector, industry, or market cap identifies nothing worth storing.
	hasIdentity := (snapshot.Sector != nil && *snapshot.Sector != "") ||
		(snapshot.Industry != nil && *snapshot.Industry != "") ||
		snapshot.MarketCap != nil
	if !hasIdentity {
		report.add("identity_present", SeverityCritical, 0, "snapshot missing sector, industry, and market cap")
		report.finalize(0)
		v.logReport(report)
		return nil, report
	}

	if snapshot.MarketCap != nil && (*snapshot.MarketCap <= 0 || !finitePositive(*snapshot.MarketCap)) {
		report.add("market_cap_positive", SeverityWarning, 0, "non-positive market cap %.2f", *snapshot.MarketCap)
		snapshot.MarketCap = nil
	}
	if snapshot.PERatio != nil && !finiteOrNil(snapshot.PERatio) {
		report.add("pe_finite", SeverityWarning, 0, "non-finite P/E ratio")
		snapshot.PERatio = nil
	}

	report.finalize(1)
	v.logReport(report)
	return snapshot, report
}

// ValidateActions checks corporate actions: parseable dates and positive
// values, duplicates by (date, type) dropped.
func (v *Validator) ValidateActions(symbol string, actions []domain.CorporateAction) ([]domain.CorporateAction, *Report) {
	report := newReport(symbol, domain.DataTypeCorporateActions, len(actions))

	clean := make([]domain.CorporateAction, 0, len(actions))
	seen := make(map[string]bool, len(actions))

	for i, action := range actions {
		if _, err := time.Parse("2006-01-02", action.ActionDate); err != nil {
			report.add("action_date_format", SeverityCritical, i, "unparseable action date %q", action.ActionDate)
			continue
		}
		if action.ActionType != domain.ActionDividend && action.ActionType != domain.ActionSplit {
			report.add("action_type_known", SeverityCritical, i, "unknown action type %q", action.ActionType)
			continue
		}
		if !finitePositive(action.Value) {
			report.add("action_value_positive", SeverityCritical, i, "non-positive %s value at %s", action.ActionType, action.ActionDate)
			continue
		}
		key := action.ActionDate + "|" + action.ActionType
		if seen[key] {
			report.add("duplicate_action", SeverityCritical, i, "duplicate %s on %s", action.ActionType, action.ActionDate)
			continue
		}
		seen[key] = true

		clean = append(clean, action)
	}

	report.finalize(len(clean))
	v.logReport(report)
	return clean, report
}

// ValidateNews checks news articles: a title, a publish time that is not
// in the future, duplicates by URL (or title when the URL is empty) dropped.
func (v *Validator) ValidateNews(symbol string, articles []domain.NewsArticle) ([]domain.NewsArticle, *Report) {
	report := newReport(symbol, domain.DataTypeNews, len(articles))
	now := v.now()

	clean := make([]domain.NewsArticle, 0, len(articles))
	seen := make(map[string]bool, len(articles))

	for i, article := range articles {
		if article.Title == "" {
			report.add("title_present", SeverityCritical, i, "article without title")
			continue
		}
		if article.PublishedAt.IsZero() || article.PublishedAt.After(now.Add(maxFutureSkew)) {
			report.add("published_at_valid", SeverityCritical, i, "missing or future publish time for %q", article.Title)
			continue
		}
		if article.URL != "" && !strings.HasPrefix(article.URL, "http://") && !strings.HasPrefix(article.URL, "https://") {
			report.add("url_scheme", SeverityCritical, i, "non-http(s) URL %q for %q", article.URL, article.Title)
			continue
		}
		key := article.URL
		if key == "" {
			key = article.Title
		}
		if seen[key] {
			report.add("duplicate_article", SeverityCritical, i, "duplicate article %q", article.Title)
			continue
		}
		seen[key] = true

		if n := len([]rune(article.Title)); n < minNewsTitleLen || n > maxNewsTitleLen {
			report.add("title_length", SeverityWarning, i, "title length %d outside [%d, %d]", n, minNewsTitleLen, maxNewsTitleLen)
		}
		if article.Publisher == "" {
			report.add("publisher_present", SeverityWarning, i, "article without publisher")
		}

		clean = append(clean, article)
	}

	report.finalize(len(clean))
	v.logReport(report)
	return clean, report
}

// ValidatePeers checks a peer listing: the subject symbol never lists
// itself, duplicates dropped.
func (v *Validator) ValidatePeers(symbol string, peers *domain.IndustryPeers) (*domain.IndustryPeers, *Report) {
	rowsIn := 0
	if peers != nil {
		rowsIn = len(peers.Peers)
	}
	report := newReport(symbol, domain.DataTypeIndustryPeers, rowsIn)

	if peers == nil {
		report.add("peers_present", SeverityCritical, -1, "no peer listing returned")
		report.finalize(0)
		v.logReport(report)
		return nil, report
	}

	seen := make(map[string]bool, len(peers.Peers))
	clean := make([]domain.Peer, 0, len(peers.Peers))
	for i, peer := range peers.Peers {
		normalized := domain.NormalizeSymbol(peer.Symbol)
		if normalized == "" {
			report.add("peer_symbol_present", SeverityCritical, i, "peer with empty symbol")
			continue
		}
		if normalized == domain.NormalizeSymbol(symbol) {
			report.add("no_self_peer", SeverityWarning, i, "symbol listed as its own peer")
			continue
		}
		if seen[normalized] {
			report.add("duplicate_peer", SeverityCritical, i, "duplicate peer %s", normalized)
			continue
		}
		seen[normalized] = true
		peer.Symbol = normalized
		clean = append(clean, peer)
	}
	peers.Peers = clean

	report.finalize(len(clean))
	v.logReport(report)
	return peers, report
}

// ValidateStatements checks a statement bundle: every statement needs a
// fiscal period and a payload.
func (v *Validator) ValidateStatements(symbol string, dataType domain.DataType, bundle *domain.StatementBundle) (*domain.StatementBundle, *Report) {
	rowsIn := 0
	if bundle != nil {
		rowsIn = len(bundle.All())
	}
	report := newReport(symbol, dataType, rowsIn)

	if bundle == nil {
		report.add("bundle_present", SeverityCritical, -1, "no statement bundle returned")
		report.finalize(0)
		v.logReport(report)
		return nil, report
	}

	filter := func(statements []domain.FinancialStatement, offset int) []domain.FinancialStatement {
		clean := make([]domain.FinancialStatement, 0, len(statements))
		for i, stmt := range statements {
			if stmt.FiscalPeriod == "" {
				report.add("fiscal_period_present", SeverityCritical, offset+i, "statement without fiscal period")
				continue
			}
			if len(stmt.Payload) == 0 {
				report.add("payload_present", SeverityCritical, offset+i, "empty statement payload for %s", stmt.FiscalPeriod)
				continue
			}
			clean = append(clean, stmt)
		}
		return clean
	}

	offset := 0
	bundle.IncomeStatement = filter(bundle.IncomeStatement, offset)
	offset += len(bundle.IncomeStatement)
	bundle.BalanceSheet = filter(bundle.BalanceSheet, offset)
	offset += len(bundle.BalanceSheet)
	bundle.CashFlow = filter(bundle.CashFlow, offset)

	report.finalize(len(bundle.All()))
	v.logReport(report)
	return bundle, report
}

func (v *Validator) logReport(report *Report) {
	if report.Status == StatusPass {
		return
	}
	v.log.Warn().
		Str("symbol", report.Symbol).
		Str("data_type", string(report.DataType)).
		Str("status", report.Status).
		Int("critical", report.CriticalCount()).
		Int("warnings", report.WarningCount()).
		Int("rows_dropped", report.RowsDropped).
		Msg("Validation found issues")
}

func finitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

func finiteOrNil(v *float64) bool {
	if v == nil {
		return true
	}
	return !math.IsNaN(*v) && !math.IsInf(*v, 0)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return math.Abs(*a-*b) < 1e-9
}
