// Package repository persists normalized market data, ingestion state, and
// audit records. All writes are idempotent upserts keyed by natural keys so
// re-running a fetch never duplicates rows.
package repository

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpane/marketsync/internal/database"
	"github.com/quantpane/marketsync/internal/domain"
)

// MarketData is the repository over marketdata.db.
type MarketData struct {
	db  *database.DB
	log zerolog.Logger
}

// NewMarketData creates the market data repository.
func NewMarketData(db *database.DB, log zerolog.Logger) *MarketData {
	return &MarketData{
		db:  db,
		log: log.With().Str("component", "marketdata_repo").Logger(),
	}
}

// UpsertDailyBars writes daily bars keyed by (symbol, date, source).
// Returns the number of rows written.
func (r *MarketData) UpsertDailyBars(bars []domain.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	saved := 0
	err := database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO raw_market_data_daily
				(symbol, date, open, high, low, close, adj_close, volume, source, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol, date, source) DO UPDATE SET
				open = excluded.open,
				high = excluded.high,
				low = excluded.low,
				close = excluded.close,
				adj_close = excluded.adj_close,
				volume = excluded.volume,
				updated_at = excluded.updated_at`)
		if err != nil {
			return fmt.Errorf("prepare daily upsert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().Unix()
		for _, bar := range bars {
			if _, err := stmt.Exec(bar.Symbol, bar.Date(), bar.Open, bar.High, bar.Low,
				bar.Close, bar.AdjClose, bar.Volume, bar.Source, now); err != nil {
				return fmt.Errorf("upsert daily bar %s %s: %w", bar.Symbol, bar.Date(), err)
			}
			saved++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return saved, nil
}

// UpsertIntradayBars writes intraday bars keyed by (symbol, ts, interval, source).
func (r *MarketData) UpsertIntradayBars(bars []domain.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	saved := 0
	err := database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO raw_market_data_intraday
				(symbol, ts, interval, open, high, low, close, volume, source, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol, ts, interval, source) DO UPDATE SET
				open = excluded.open,
				high = excluded.high,
				low = excluded.low,
				close = excluded.close,
				volume = excluded.volume,
				updated_at = excluded.updated_at`)
		if err != nil {
			return fmt.Errorf("prepare intraday upsert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().Unix()
		for _, bar := range bars {
			if _, err := stmt.Exec(bar.Symbol, bar.Ts.UTC().Unix(), bar.Interval, bar.Open,
				bar.High, bar.Low, bar.Close, bar.Volume, bar.Source, now); err != nil {
				return fmt.Errorf("upsert intraday bar %s %s: %w", bar.Symbol, bar.Ts, err)
			}
			saved++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return saved, nil
}

// UpsertFundamentals writes one snapshot keyed by (symbol, as_of_date).
func (r *MarketData) UpsertFundamentals(snapshot *domain.FundamentalsSnapshot) (int, error) {
	if snapshot == nil {
		return 0, nil
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return 0, fmt.Errorf("marshal fundamentals for %s: %w", snapshot.Symbol, err)
	}

	_, err = r.db.Exec(`
		INSERT INTO fundamentals_snapshots (symbol, as_of_date, source, payload, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(symbol, as_of_date) DO UPDATE SET
			source = excluded.source,
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		snapshot.Symbol, snapshot.AsOfDate, snapshot.Source, string(payload), time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("upsert fundamentals for %s: %w", snapshot.Symbol, err)
	}
	return 1, nil
}

// UpsertEarnings writes earnings records keyed by (symbol, earnings_date).
// Updates merge field-wise: a later fetch with missing actuals never blanks
// actuals recorded earlier.
func (r *MarketData) UpsertEarnings(records []domain.EarningsRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	saved := 0
	err := database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO earnings_data
				(symbol, earnings_date, earnings_at_utc, session, fiscal_quarter, fiscal_year,
				 eps_estimate, eps_actual, revenue_estimate, revenue_actual, surprise_pct, source, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol, earnings_date) DO UPDATE SET
				earnings_at_utc = COALESCE(excluded.earnings_at_utc, earnings_at_utc),
				session = COALESCE(excluded.session, session),
				fiscal_quarter = COALESCE(excluded.fiscal_quarter, fiscal_quarter),
				fiscal_year = COALESCE(excluded.fiscal_year, fiscal_year),
				eps_estimate = COALESCE(excluded.eps_estimate, eps_estimate),
				eps_actual = COALESCE(excluded.eps_actual, eps_actual),
				revenue_estimate = COALESCE(excluded.revenue_estimate, revenue_estimate),
				revenue_actual = COALESCE(excluded.revenue_actual, revenue_actual),
				surprise_pct = COALESCE(excluded.surprise_pct, surprise_pct),
				source = excluded.source,
				updated_at = excluded.updated_at`)
		if err != nil {
			return fmt.Errorf("prepare earnings upsert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().Unix()
		for _, rec := range records {
			var atUTC *int64
			if rec.EarningsAtUTC != nil {
				unix := rec.EarningsAtUTC.UTC().Unix()
				atUTC = &unix
			}
			if _, err := stmt.Exec(rec.Symbol, rec.EarningsDate, atUTC, rec.Session,
				rec.FiscalQuarter, rec.FiscalYear, rec.EPSEstimate, rec.EPSActual,
				rec.RevenueEstimate, rec.RevenueActual, rec.SurprisePct, rec.Source, now); err != nil {
				return fmt.Errorf("upsert earnings %s %s: %w", rec.Symbol, rec.EarningsDate, err)
			}
			saved++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return saved, nil
}

// UpsertStatements writes financial statements keyed by
// (symbol, period_type, statement_type, fiscal_period).
func (r *MarketData) UpsertStatements(statements []domain.FinancialStatement) (int, error) {
	if len(statements) == 0 {
		return 0, nil
	}

	saved := 0
	err := database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO financial_statements
				(symbol, period_type, statement_type, fiscal_period, source, payload, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol, period_type, statement_type, fiscal_period) DO UPDATE SET
				source = excluded.source,
				payload = excluded.payload,
				updated_at = excluded.updated_at`)
		if err != nil {
			return fmt.Errorf("prepare statements upsert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().Unix()
		for _, s := range statements {
			payload, err := json.Marshal(s.Payload)
			if err != nil {
				return fmt.Errorf("marshal statement payload %s %s: %w", s.Symbol, s.FiscalPeriod, err)
			}
			if _, err := stmt.Exec(s.Symbol, s.PeriodType, s.StatementType, s.FiscalPeriod,
				s.Source, string(payload), now); err != nil {
				return fmt.Errorf("upsert statement %s %s %s: %w", s.Symbol, s.StatementType, s.FiscalPeriod, err)
			}
			saved++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return saved, nil
}

// UpsertActions writes corporate actions keyed by (symbol, action_date, action_type).
func (r *MarketData) UpsertActions(actions []domain.CorporateAction) (int, error) {
	if len(actions) == 0 {
		return 0, nil
	}

	saved := 0
	err := database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO corporate_actions
				(symbol, action_date, action_type, value, payload, source, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol, action_date, action_type) DO UPDATE SET
				value = excluded.value,
				payload = excluded.payload,
				source = excluded.source,
				updated_at = excluded.updated_at`)
		if err != nil {
			return fmt.Errorf("prepare actions upsert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().Unix()
		for _, action := range actions {
			var payload *string
			if len(action.Payload) > 0 {
				raw, err := json.Marshal(action.Payload)
				if err != nil {
					return fmt.Errorf("marshal action payload %s %s: %w", action.Symbol, action.ActionDate, err)
				}
				s := string(raw)
				payload = &s
			}
			if _, err := stmt.Exec(action.Symbol, action.ActionDate, action.ActionType,
				action.Value, payload, action.Source, now); err != nil {
				return fmt.Errorf("upsert action %s %s %s: %w", action.Symbol, action.ActionType, action.ActionDate, err)
			}
			saved++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return saved, nil
}

// ReplacePeers replaces the peer set for (symbol, source) atomically. A peer
// listing is a snapshot, not an accumulating series, so stale peers must go.
func (r *MarketData) ReplacePeers(peers *domain.IndustryPeers) (int, error) {
	if peers == nil {
		return 0, nil
	}

	saved := 0
	err := database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM industry_peers WHERE symbol = ? AND source = ?`,
			peers.Symbol, peers.Source); err != nil {
			return fmt.Errorf("clear peers for %s: %w", peers.Symbol, err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO industry_peers (symbol, peer_symbol, peer_name, sector, industry, source, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare peers insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().Unix()
		for _, peer := range peers.Peers {
			if _, err := stmt.Exec(peers.Symbol, peer.Symbol, peer.Name,
				peers.Sector, peers.Industry, peers.Source, now); err != nil {
				return fmt.Errorf("insert peer %s -> %s: %w", peers.Symbol, peer.Symbol, err)
			}
			saved++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return saved, nil
}

// InsertNews appends news articles, de-duplicated by (symbol, url_hash).
// Existing articles are left untouched; returns the number actually inserted.
func (r *MarketData) InsertNews(articles []domain.NewsArticle) (int, error) {
	if len(articles) == 0 {
		return 0, nil
	}

	saved := 0
	err := database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR IGNORE INTO news_articles
				(symbol, published_at, title, publisher, url, url_hash, related_symbols, source, raw, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare news insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().Unix()
		for _, article := range articles {
			var related *string
			if len(article.RelatedSymbols) > 0 {
				raw, err := json.Marshal(article.RelatedSymbols)
				if err != nil {
					return fmt.Errorf("marshal related symbols: %w", err)
				}
				s := string(raw)
				related = &s
			}
			result, err := stmt.Exec(article.Symbol, article.PublishedAt.UTC().Unix(),
				article.Title, article.Publisher, article.URL, newsHash(article),
				related, article.Source, nullable(article.Raw), now)
			if err != nil {
				return fmt.Errorf("insert news %q: %w", article.Title, err)
			}
			if n, err := result.RowsAffected(); err == nil {
				saved += int(n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return saved, nil
}

// newsHash identifies an article for de-duplication: the URL when present,
// otherwise title plus publish time.
func newsHash(article domain.NewsArticle) string {
	key := article.URL
	if key == "" {
		key = article.Title + "|" + article.PublishedAt.UTC().Format(time.RFC3339)
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// UpsertIndicators writes derived indicator rows keyed by (symbol, date).
func (r *MarketData) UpsertIndicators(rows []domain.IndicatorRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	saved := 0
	err := database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO indicators_daily
				(symbol, date, close, ema_20, ema_50, sma_100, sma_200, rsi_14,
				 macd, macd_signal, macd_hist, atr_14, trend_up, above_sma_200, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol, date) DO UPDATE SET
				close = excluded.close,
				ema_20 = excluded.ema_20,
				ema_50 = excluded.ema_50,
				sma_100 = excluded.sma_100,
				sma_200 = excluded.sma_200,
				rsi_14 = excluded.rsi_14,
				macd = excluded.macd,
				macd_signal = excluded.macd_signal,
				macd_hist = excluded.macd_hist,
				atr_14 = excluded.atr_14,
				trend_up = excluded.trend_up,
				above_sma_200 = excluded.above_sma_200,
				updated_at = excluded.updated_at`)
		if err != nil {
			return fmt.Errorf("prepare indicators upsert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().Unix()
		for _, row := range rows {
			if _, err := stmt.Exec(row.Symbol, row.Date, row.Close, row.EMA20, row.EMA50,
				row.SMA100, row.SMA200, row.RSI14, row.MACD, row.MACDSignal, row.MACDHist,
				row.ATR14, boolToInt(row.TrendUp), boolToInt(row.AboveSMA), now); err != nil {
				return fmt.Errorf("upsert indicators %s %s: %w", row.Symbol, row.Date, err)
			}
			saved++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return saved, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
