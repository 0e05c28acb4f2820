// Package validation checks fetched market data before persistence. Rows
// failing critical checks are dropped; the remainder is returned cleaned,
// together with a report that is persisted to the audit database.
package validation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quantpane/marketsync/internal/domain"
)

// Severity grades a validation issue.
type Severity string

const (
	SeverityCritical Severity = "critical" // row is dropped
	SeverityWarning  Severity = "warning"  // row is kept, flagged
	SeverityInfo     Severity = "info"
)

// Overall report statuses.
const (
	StatusPass    = "pass"
	StatusWarning = "warning"
	StatusFail    = "fail"
)

// Issue is one finding from a validation check. Index refers to the
// position in the input slice, before any rows were dropped, so findings
// stay addressable regardless of cleaning.
type Issue struct {
	Check    string   `json:"check"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Index    *int     `json:"index,omitempty"`
}

// Report is the outcome of validating one fetch.
type Report struct {
	ReportID    string          `json:"report_id"`
	Symbol      string          `json:"symbol"`
	DataType    domain.DataType `json:"data_type"`
	Timestamp   time.Time       `json:"timestamp"`
	Status      string          `json:"status"`
	RowsIn      int             `json:"rows_in"`
	RowsOut     int             `json:"rows_out"`
	RowsDropped int             `json:"rows_dropped"`
	Issues      []Issue         `json:"issues,omitempty"`
}

// newReport starts a report for one fetch.
func newReport(symbol string, dataType domain.DataType, rowsIn int) *Report {
	return &Report{
		ReportID:  uuid.NewString(),
		Symbol:    symbol,
		DataType:  dataType,
		Timestamp: time.Now().UTC(),
		RowsIn:    rowsIn,
	}
}

func (r *Report) add(check string, severity Severity, index int, format string, args ...interface{}) {
	issue := Issue{
		Check:    check,
		Severity: severity,
		Message:  fmt.Sprintf(format, args...),
	}
	if index >= 0 {
		idx := index
		issue.Index = &idx
	}
	r.Issues = append(r.Issues, issue)
}

// finalize sets row counts and derives the overall status: fail when a
// critical issue left nothing usable (including an absent payload),
// warning when any issue was raised, pass otherwise.
func (r *Report) finalize(rowsOut int) {
	r.RowsOut = rowsOut
	r.RowsDropped = r.RowsIn - rowsOut

	switch {
	case rowsOut == 0 && r.CriticalCount() > 0:
		r.Status = StatusFail
	case len(r.Issues) > 0:
		r.Status = StatusWarning
	default:
		r.Status = StatusPass
	}
}

// CriticalCount returns the number of critical issues.
func (r *Report) CriticalCount() int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Severity == SeverityCritical {
			n++
		}
	}
	return n
}

// WarningCount returns the number of warning issues.
func (r *Report) WarningCount() int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Severity == SeverityWarning {
			n++
		}
	}
	return n
}

// Failed reports whether the validated data is unusable.
func (r *Report) Failed() bool {
	return r.Status == StatusFail
}

// Body serializes the report deterministically for storage. Issues keep
// insertion order, which the checks produce deterministically from input
// order, so identical input yields identical bytes.
func (r *Report) Body() ([]byte, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize validation report: %w", err)
	}
	return body, nil
}
