package domain

import "time"

// DataTypeRefreshResult is the per-data-type outcome inside a refresh call.
// Handlers convert every internal error into one of these at the boundary.
type DataTypeRefreshResult struct {
	DataType     DataType      `json:"data_type"`
	Status       RefreshStatus `json:"status"`
	Message      string        `json:"message"`
	RowsFetched  int           `json:"rows_fetched"`
	RowsAffected int           `json:"rows_affected"`
	Error        string        `json:"error,omitempty"`
	ErrorType    string        `json:"error_type,omitempty"`
	Source       string        `json:"source,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// SymbolRefreshResult aggregates the per-data-type results for one symbol.
type SymbolRefreshResult struct {
	Symbol          string                             `json:"symbol"`
	Mode            RefreshMode                        `json:"mode"`
	WorkflowID      string                             `json:"workflow_id,omitempty"`
	Results         map[DataType]DataTypeRefreshResult `json:"results"`
	TotalSuccessful int                                `json:"total_successful"`
	TotalFailed     int                                `json:"total_failed"`
	TotalSkipped    int                                `json:"total_skipped"`
	StartedAt       time.Time                          `json:"started_at"`
	CompletedAt     time.Time                          `json:"completed_at"`
}

// Tally recomputes the aggregate counters from the per-data-type results.
// Partial results count as successful; skips are tracked separately.
func (r *SymbolRefreshResult) Tally() {
	r.TotalSuccessful, r.TotalFailed, r.TotalSkipped = 0, 0, 0
	for _, res := range r.Results {
		switch res.Status {
		case StatusSuccess, StatusPartial:
			r.TotalSuccessful++
		case StatusFailed:
			r.TotalFailed++
		case StatusSkipped:
			r.TotalSkipped++
		}
	}
}

// DataFetchAuditRecord is the append-only audit entry written for every
// data-type handler invocation.
type DataFetchAuditRecord struct {
	AuditID            string                 `json:"audit_id"`
	Symbol             string                 `json:"symbol"`
	FetchType          DataType               `json:"fetch_type"`
	FetchMode          RefreshMode            `json:"fetch_mode"`
	Timestamp          time.Time              `json:"timestamp"`
	Source             string                 `json:"source"`
	RowsFetched        int                    `json:"rows_fetched"`
	RowsSaved          int                    `json:"rows_saved"`
	DurationMs         int64                  `json:"duration_ms"`
	Success            bool                   `json:"success"`
	ErrorMessage       *string                `json:"error_message,omitempty"`
	ValidationReportID *string                `json:"validation_report_id,omitempty"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
}

// CLI exit codes for the command surface.
const (
	ExitOK                  = 0
	ExitUnexpected          = 1
	ExitPartial             = 2
	ExitProviderUnavailable = 3
	ExitValidationFail      = 4
	ExitDBError             = 5
)
