package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/quantpane/marketsync/internal/domain"
)

// AddSymbol registers a symbol in the tracked universe.
func (r *MarketData) AddSymbol(symbol string) error {
	symbol = domain.NormalizeSymbol(symbol)
	_, err := r.db.Exec(`INSERT OR IGNORE INTO symbols (symbol, created_at) VALUES (?, ?)`,
		symbol, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("add symbol %s: %w", symbol, err)
	}
	return nil
}

// ListSymbols returns the tracked universe in alphabetical order.
func (r *MarketData) ListSymbols() ([]string, error) {
	rows, err := r.db.Query(`SELECT symbol FROM symbols ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// AddHolding marks a symbol as a current holding. Holdings are refreshed
// on the live cadence; the rest of the universe is not.
func (r *MarketData) AddHolding(symbol string) error {
	symbol = domain.NormalizeSymbol(symbol)
	if err := r.AddSymbol(symbol); err != nil {
		return err
	}
	_, err := r.db.Exec(`INSERT OR IGNORE INTO holdings (symbol, added_at) VALUES (?, ?)`,
		symbol, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("add holding %s: %w", symbol, err)
	}
	return nil
}

// RemoveHolding removes a symbol from holdings without forgetting it.
func (r *MarketData) RemoveHolding(symbol string) error {
	_, err := r.db.Exec(`DELETE FROM holdings WHERE symbol = ?`, domain.NormalizeSymbol(symbol))
	if err != nil {
		return fmt.Errorf("remove holding %s: %w", symbol, err)
	}
	return nil
}

// ListHoldings returns current holdings in alphabetical order.
func (r *MarketData) ListHoldings() ([]string, error) {
	rows, err := r.db.Query(`SELECT symbol FROM holdings ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// GetDailyBars returns one bar per trading date in [fromDate, toDate]
// ascending. When multiple sources cover a date the most recently updated
// row wins.
func (r *MarketData) GetDailyBars(symbol, fromDate, toDate string) ([]domain.Bar, error) {
	// SQLite resolves bare columns in a MAX() group to the max row.
	rows, err := r.db.Query(`
		SELECT symbol, date, open, high, low, close, adj_close, volume, source, MAX(updated_at)
		FROM raw_market_data_daily
		WHERE symbol = ? AND (? = '' OR date >= ?) AND (? = '' OR date <= ?)
		GROUP BY date
		ORDER BY date`,
		domain.NormalizeSymbol(symbol), fromDate, fromDate, toDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("get daily bars for %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var bar domain.Bar
		var date string
		var updatedAt int64
		if err := rows.Scan(&bar.Symbol, &date, &bar.Open, &bar.High, &bar.Low,
			&bar.Close, &bar.AdjClose, &bar.Volume, &bar.Source, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan daily bar: %w", err)
		}
		ts, err := time.ParseInLocation("2006-01-02", date, time.UTC)
		if err != nil {
			continue
		}
		bar.Ts = ts
		bar.Interval = "1d"
		bars = append(bars, bar)
	}
	return bars, rows.Err()
}

// ListDailyDates returns the distinct stored trading dates for a symbol in
// [fromDate, toDate] ascending. Used for gap detection.
func (r *MarketData) ListDailyDates(symbol, fromDate, toDate string) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT DISTINCT date FROM raw_market_data_daily
		WHERE symbol = ? AND (? = '' OR date >= ?) AND (? = '' OR date <= ?)
		ORDER BY date`,
		domain.NormalizeSymbol(symbol), fromDate, fromDate, toDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("list daily dates for %s: %w", symbol, err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// LatestDailyDate returns the most recent stored trading date for a symbol.
func (r *MarketData) LatestDailyDate(symbol string) (string, bool, error) {
	var date sql.NullString
	err := r.db.QueryRow(`SELECT MAX(date) FROM raw_market_data_daily WHERE symbol = ?`,
		domain.NormalizeSymbol(symbol)).Scan(&date)
	if err != nil {
		return "", false, fmt.Errorf("latest daily date for %s: %w", symbol, err)
	}
	if !date.Valid || date.String == "" {
		return "", false, nil
	}
	return date.String, true, nil
}

// CountDailyBars returns the number of distinct daily dates for a symbol.
func (r *MarketData) CountDailyBars(symbol string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(DISTINCT date) FROM raw_market_data_daily WHERE symbol = ?`,
		domain.NormalizeSymbol(symbol)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count daily bars for %s: %w", symbol, err)
	}
	return n, nil
}

// ListIntradayTimestamps returns the stored intraday timestamps for a
// symbol and interval within [from, to] ascending, as UTC times.
func (r *MarketData) ListIntradayTimestamps(symbol, interval string, from, to time.Time) ([]time.Time, error) {
	rows, err := r.db.Query(`
		SELECT DISTINCT ts FROM raw_market_data_intraday
		WHERE symbol = ? AND interval = ? AND ts >= ? AND ts <= ?
		ORDER BY ts`,
		domain.NormalizeSymbol(symbol), interval, from.UTC().Unix(), to.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("list intraday timestamps for %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var unix int64
		if err := rows.Scan(&unix); err != nil {
			return nil, fmt.Errorf("scan intraday timestamp: %w", err)
		}
		out = append(out, time.Unix(unix, 0).UTC())
	}
	return out, rows.Err()
}

// LatestFundamentalsDate returns the most recent snapshot date for a symbol.
func (r *MarketData) LatestFundamentalsDate(symbol string) (string, bool, error) {
	var date sql.NullString
	err := r.db.QueryRow(`SELECT MAX(as_of_date) FROM fundamentals_snapshots WHERE symbol = ?`,
		domain.NormalizeSymbol(symbol)).Scan(&date)
	if err != nil {
		return "", false, fmt.Errorf("latest fundamentals date for %s: %w", symbol, err)
	}
	if !date.Valid || date.String == "" {
		return "", false, nil
	}
	return date.String, true, nil
}

// CountEarnings returns the number of stored earnings records for a symbol.
func (r *MarketData) CountEarnings(symbol string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM earnings_data WHERE symbol = ?`,
		domain.NormalizeSymbol(symbol)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count earnings for %s: %w", symbol, err)
	}
	return n, nil
}

// LatestIndicatorRow returns the most recent indicator row for a symbol.
func (r *MarketData) LatestIndicatorRow(symbol string) (*domain.IndicatorRow, error) {
	row := r.db.QueryRow(`
		SELECT symbol, date, close, ema_20, ema_50, sma_100, sma_200, rsi_14,
		       macd, macd_signal, macd_hist, atr_14, trend_up, above_sma_200
		FROM indicators_daily
		WHERE symbol = ?
		ORDER BY date DESC
		LIMIT 1`, domain.NormalizeSymbol(symbol))

	var out domain.IndicatorRow
	var trendUp, aboveSMA int
	err := row.Scan(&out.Symbol, &out.Date, &out.Close, &out.EMA20, &out.EMA50,
		&out.SMA100, &out.SMA200, &out.RSI14, &out.MACD, &out.MACDSignal,
		&out.MACDHist, &out.ATR14, &trendUp, &aboveSMA)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest indicator row for %s: %w", symbol, err)
	}
	out.TrendUp = trendUp != 0
	out.AboveSMA = aboveSMA != 0
	return &out, nil
}

// CountIndicatorRows returns the number of indicator rows for a symbol.
func (r *MarketData) CountIndicatorRows(symbol string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM indicators_daily WHERE symbol = ?`,
		domain.NormalizeSymbol(symbol)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count indicator rows for %s: %w", symbol, err)
	}
	return n, nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan string row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
