package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpane/marketsync/internal/database"
	"github.com/quantpane/marketsync/internal/domain"
)

// Ingestion state statuses.
const (
	StateSuccess = "success"
	StateFailed  = "failed"
	StatePartial = "partial"
)

// IngestionState is the repository over the ingestion_state table: the
// single source of truth about per-(symbol, dataset, interval) freshness.
type IngestionState struct {
	db  *database.DB
	log zerolog.Logger
}

// NewIngestionState creates the ingestion state repository.
func NewIngestionState(db *database.DB, log zerolog.Logger) *IngestionState {
	return &IngestionState{
		db:  db,
		log: log.With().Str("component", "ingestion_state_repo").Logger(),
	}
}

// Get returns the state row for one key, or nil when the key has never
// been attempted.
func (r *IngestionState) Get(symbol string, dataType domain.DataType) (*domain.IngestionState, error) {
	dataset, interval := dataType.StateKey()
	row := r.db.QueryRow(`
		SELECT symbol, dataset, interval, source, historical_start_date, historical_end_date,
		       cursor_date, cursor_ts, last_attempt_at, last_success_at, status,
		       error_message, retry_count, next_retry_at
		FROM ingestion_state
		WHERE symbol = ? AND dataset = ? AND interval = ?`,
		domain.NormalizeSymbol(symbol), dataset, interval)

	state, err := scanState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ingestion state %s/%s: %w", symbol, dataType, err)
	}
	return state, nil
}

// MarkSuccess records a successful fetch: retry counters reset, the retry
// schedule clears, and cursors advance to what was fetched.
func (r *IngestionState) MarkSuccess(symbol string, dataType domain.DataType, source string, cursorDate *string, cursorTs *time.Time) error {
	return r.markOutcome(symbol, dataType, source, StateSuccess, cursorDate, cursorTs)
}

// MarkPartial records a fetch that saved fewer rows than it fetched.
// Partial counts as success for retry purposes: counters reset.
func (r *IngestionState) MarkPartial(symbol string, dataType domain.DataType, source string, cursorDate *string, cursorTs *time.Time) error {
	return r.markOutcome(symbol, dataType, source, StatePartial, cursorDate, cursorTs)
}

func (r *IngestionState) markOutcome(symbol string, dataType domain.DataType, source, status string, cursorDate *string, cursorTs *time.Time) error {
	dataset, interval := dataType.StateKey()
	now := time.Now().UTC()

	var cursorUnix *int64
	if cursorTs != nil {
		unix := cursorTs.UTC().Unix()
		cursorUnix = &unix
	}

	_, err := r.db.Exec(`
		INSERT INTO ingestion_state
			(symbol, dataset, interval, source, cursor_date, cursor_ts, last_attempt_at,
			 last_success_at, status, error_message, retry_count, next_retry_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, 0, NULL)
		ON CONFLICT(symbol, dataset, interval) DO UPDATE SET
			source = excluded.source,
			cursor_date = COALESCE(excluded.cursor_date, cursor_date),
			cursor_ts = COALESCE(excluded.cursor_ts, cursor_ts),
			last_attempt_at = excluded.last_attempt_at,
			last_success_at = excluded.last_success_at,
			status = excluded.status,
			error_message = NULL,
			retry_count = 0,
			next_retry_at = NULL`,
		domain.NormalizeSymbol(symbol), dataset, interval, source, cursorDate, cursorUnix,
		now.Unix(), now.Unix(), status)
	if err != nil {
		return fmt.Errorf("mark %s for %s/%s: %w", status, symbol, dataType, err)
	}
	return nil
}

// MarkFailure records a failed fetch: the retry counter increments and the
// next retry is scheduled on the staged back-off (6h, 24h, then 48h).
// last_success_at and cursors are left untouched.
func (r *IngestionState) MarkFailure(symbol string, dataType domain.DataType, source, errMsg string) error {
	dataset, interval := dataType.StateKey()
	now := time.Now().UTC()

	return database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		var retryCount int
		err := tx.QueryRow(`
			SELECT retry_count FROM ingestion_state
			WHERE symbol = ? AND dataset = ? AND interval = ?`,
			domain.NormalizeSymbol(symbol), dataset, interval).Scan(&retryCount)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("read retry count for %s/%s: %w", symbol, dataType, err)
		}

		retryCount++
		nextRetry := now.Add(domain.RetryBackoff(retryCount))

		_, err = tx.Exec(`
			INSERT INTO ingestion_state
				(symbol, dataset, interval, source, last_attempt_at, status,
				 error_message, retry_count, next_retry_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol, dataset, interval) DO UPDATE SET
				source = excluded.source,
				last_attempt_at = excluded.last_attempt_at,
				status = excluded.status,
				error_message = excluded.error_message,
				retry_count = excluded.retry_count,
				next_retry_at = excluded.next_retry_at`,
			domain.NormalizeSymbol(symbol), dataset, interval, source, now.Unix(),
			StateFailed, errMsg, retryCount, nextRetry.Unix())
		if err != nil {
			return fmt.Errorf("mark failure for %s/%s: %w", symbol, dataType, err)
		}
		return nil
	})
}

// SetHistoricalRange extends the recorded span of history held for a
// key. The span only ever widens; a narrow incremental fetch cannot
// shrink it.
func (r *IngestionState) SetHistoricalRange(symbol string, dataType domain.DataType, startDate, endDate string) error {
	dataset, interval := dataType.StateKey()
	_, err := r.db.Exec(`
		UPDATE ingestion_state
		SET historical_start_date = CASE
				WHEN historical_start_date IS NULL OR ? < historical_start_date THEN ?
				ELSE historical_start_date END,
		    historical_end_date = CASE
				WHEN historical_end_date IS NULL OR ? > historical_end_date THEN ?
				ELSE historical_end_date END
		WHERE symbol = ? AND dataset = ? AND interval = ?`,
		startDate, startDate, endDate, endDate,
		domain.NormalizeSymbol(symbol), dataset, interval)
	if err != nil {
		return fmt.Errorf("set historical range for %s/%s: %w", symbol, dataType, err)
	}
	return nil
}

// InRetryBackoff reports whether a key is inside its scheduled back-off
// window. Fresh keys and keys past next_retry_at are not.
func (r *IngestionState) InRetryBackoff(symbol string, dataType domain.DataType, now time.Time) (bool, error) {
	state, err := r.Get(symbol, dataType)
	if err != nil {
		return false, err
	}
	if state == nil || state.NextRetryAt == nil {
		return false, nil
	}
	return now.Before(*state.NextRetryAt), nil
}

// LastSuccess returns when a key last succeeded, or zero when never.
func (r *IngestionState) LastSuccess(symbol string, dataType domain.DataType) (time.Time, error) {
	state, err := r.Get(symbol, dataType)
	if err != nil {
		return time.Time{}, err
	}
	if state == nil || state.LastSuccessAt == nil {
		return time.Time{}, nil
	}
	return *state.LastSuccessAt, nil
}

// scannable covers *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...interface{}) error
}

func scanState(row scannable) (*domain.IngestionState, error) {
	var state domain.IngestionState
	var lastAttempt int64
	var lastSuccess, cursorTs, nextRetry sql.NullInt64

	err := row.Scan(&state.Symbol, &state.Dataset, &state.Interval, &state.Source,
		&state.HistoricalStartDate, &state.HistoricalEndDate, &state.CursorDate,
		&cursorTs, &lastAttempt, &lastSuccess, &state.Status, &state.ErrorMessage,
		&state.RetryCount, &nextRetry)
	if err != nil {
		return nil, err
	}

	state.LastAttemptAt = time.Unix(lastAttempt, 0).UTC()
	if lastSuccess.Valid {
		t := time.Unix(lastSuccess.Int64, 0).UTC()
		state.LastSuccessAt = &t
	}
	if cursorTs.Valid {
		t := time.Unix(cursorTs.Int64, 0).UTC()
		state.CursorTs = &t
	}
	if nextRetry.Valid {
		t := time.Unix(nextRetry.Int64, 0).UTC()
		state.NextRetryAt = &t
	}
	return &state, nil
}
