package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantpane/marketsync/internal/database"
	"github.com/quantpane/marketsync/internal/domain"
	"github.com/quantpane/marketsync/internal/metrics"
	"github.com/quantpane/marketsync/internal/validation"
)

// Audit is the repository over audit.db for the fetch audit trail and
// validation reports. Audit writes never fail a refresh: callers use the
// BestEffort variants, which log, count the drop, and swallow errors.
type Audit struct {
	db      *database.DB
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewAudit creates the audit repository. m may be nil.
func NewAudit(db *database.DB, m *metrics.Metrics, log zerolog.Logger) *Audit {
	return &Audit{
		db:      db,
		metrics: m,
		log:     log.With().Str("component", "audit_repo").Logger(),
	}
}

// countDrop records a swallowed audit write failure.
func (r *Audit) countDrop() {
	if r.metrics != nil {
		r.metrics.AuditWriteDrops.Inc()
	}
}

// InsertFetchAudit appends one fetch audit record.
func (r *Audit) InsertFetchAudit(record domain.DataFetchAuditRecord) error {
	if record.AuditID == "" {
		record.AuditID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	var metadata *string
	if len(record.Metadata) > 0 {
		raw, err := json.Marshal(record.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		s := string(raw)
		metadata = &s
	}

	_, err := r.db.Exec(`
		INSERT INTO data_fetch_audit
			(audit_id, symbol, fetch_type, fetch_mode, timestamp, source, rows_fetched,
			 rows_saved, duration_ms, success, error_message, validation_report_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.AuditID, record.Symbol, string(record.FetchType), string(record.FetchMode),
		record.Timestamp.Unix(), record.Source, record.RowsFetched, record.RowsSaved,
		record.DurationMs, boolToInt(record.Success), record.ErrorMessage,
		record.ValidationReportID, metadata)
	if err != nil {
		return fmt.Errorf("insert fetch audit for %s/%s: %w", record.Symbol, record.FetchType, err)
	}
	return nil
}

// InsertFetchAuditBestEffort writes an audit record, logging failures
// instead of propagating them. The audit trail observes refreshes; it
// never blocks them.
func (r *Audit) InsertFetchAuditBestEffort(record domain.DataFetchAuditRecord) {
	if err := r.InsertFetchAudit(record); err != nil {
		r.countDrop()
		r.log.Error().Err(err).
			Str("symbol", record.Symbol).
			Str("fetch_type", string(record.FetchType)).
			Msg("Failed to write fetch audit record")
	}
}

// InsertValidationReport persists one validation report.
func (r *Audit) InsertValidationReport(report *validation.Report) error {
	body, err := report.Body()
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`
		INSERT INTO data_validation_reports
			(report_id, symbol, data_type, timestamp, overall_status, critical_issues,
			 warnings, rows_dropped, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ReportID, report.Symbol, string(report.DataType), report.Timestamp.Unix(),
		report.Status, report.CriticalCount(), report.WarningCount(), report.RowsDropped,
		string(body))
	if err != nil {
		return fmt.Errorf("insert validation report %s: %w", report.ReportID, err)
	}
	return nil
}

// InsertValidationReportBestEffort writes a report, logging failures
// instead of propagating them.
func (r *Audit) InsertValidationReportBestEffort(report *validation.Report) {
	if report == nil {
		return
	}
	if err := r.InsertValidationReport(report); err != nil {
		r.countDrop()
		r.log.Error().Err(err).
			Str("symbol", report.Symbol).
			Str("report_id", report.ReportID).
			Msg("Failed to write validation report")
	}
}

// ValidationReportSummary is the stored form of a validation report.
type ValidationReportSummary struct {
	ReportID       string    `json:"report_id"`
	Symbol         string    `json:"symbol"`
	DataType       string    `json:"data_type"`
	Timestamp      time.Time `json:"timestamp"`
	Status         string    `json:"status"`
	CriticalIssues int       `json:"critical_issues"`
	Warnings       int       `json:"warnings"`
	RowsDropped    int       `json:"rows_dropped"`
	Body           string    `json:"body"`
}

// RecentValidationReports returns stored reports for a symbol, newest
// first. dataType narrows the query when non-empty.
func (r *Audit) RecentValidationReports(symbol, dataType string, limit int) ([]ValidationReportSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(`
		SELECT report_id, symbol, data_type, timestamp, overall_status, critical_issues,
		       warnings, rows_dropped, body
		FROM data_validation_reports
		WHERE symbol = ? AND (? = '' OR data_type = ?)
		ORDER BY timestamp DESC
		LIMIT ?`, domain.NormalizeSymbol(symbol), dataType, dataType, limit)
	if err != nil {
		return nil, fmt.Errorf("recent validation reports for %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []ValidationReportSummary
	for rows.Next() {
		var s ValidationReportSummary
		var ts int64
		if err := rows.Scan(&s.ReportID, &s.Symbol, &s.DataType, &ts, &s.Status,
			&s.CriticalIssues, &s.Warnings, &s.RowsDropped, &s.Body); err != nil {
			return nil, fmt.Errorf("scan validation report: %w", err)
		}
		s.Timestamp = time.Unix(ts, 0).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// LatestValidationReport returns the most recent report for a
// (symbol, data type), or nil when none exists.
func (r *Audit) LatestValidationReport(symbol string, dataType domain.DataType) (*ValidationReportSummary, error) {
	reports, err := r.RecentValidationReports(symbol, string(dataType), 1)
	if err != nil || len(reports) == 0 {
		return nil, err
	}
	return &reports[0], nil
}

// RecentFetchAudits returns the latest audit records for a symbol, newest
// first.
func (r *Audit) RecentFetchAudits(symbol string, limit int) ([]domain.DataFetchAuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(`
		SELECT audit_id, symbol, fetch_type, fetch_mode, timestamp, source, rows_fetched,
		       rows_saved, duration_ms, success, error_message, validation_report_id
		FROM data_fetch_audit
		WHERE symbol = ?
		ORDER BY timestamp DESC
		LIMIT ?`, domain.NormalizeSymbol(symbol), limit)
	if err != nil {
		return nil, fmt.Errorf("recent fetch audits for %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []domain.DataFetchAuditRecord
	for rows.Next() {
		var rec domain.DataFetchAuditRecord
		var ts int64
		var success int
		var fetchType, fetchMode string
		if err := rows.Scan(&rec.AuditID, &rec.Symbol, &fetchType, &fetchMode, &ts,
			&rec.Source, &rec.RowsFetched, &rec.RowsSaved, &rec.DurationMs, &success,
			&rec.ErrorMessage, &rec.ValidationReportID); err != nil {
			return nil, fmt.Errorf("scan fetch audit: %w", err)
		}
		rec.FetchType = domain.DataType(fetchType)
		rec.FetchMode = domain.RefreshMode(fetchMode)
		rec.Timestamp = time.Unix(ts, 0).UTC()
		rec.Success = success != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}
