// Package workflow coordinates multi-stage refresh runs: ingestion, then
// indicators, then the auxiliary stages fanned out per symbol. Execution
// state is persisted to the audit database so runs are inspectable after
// the fact.
package workflow

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantpane/marketsync/internal/database"
	"github.com/quantpane/marketsync/internal/domain"
)

// Workflow and stage statuses. Completed and failed are terminal: the
// store refuses transitions out of them.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Execution is one persisted workflow run.
type Execution struct {
	WorkflowID   string            `json:"workflow_id"`
	Type         domain.RefreshMode `json:"type"`
	Symbols      []string          `json:"symbols"`
	Status       string            `json:"status"`
	CurrentStage *string           `json:"current_stage,omitempty"`
	Metadata     *Metadata         `json:"metadata,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// Metadata is the aggregated outcome persisted when a workflow reaches a
// terminal status: which stages and data types failed, the first error
// seen per stage, and the symbol tallies across all stages. Error carries
// the orchestration error when the run itself aborted.
type Metadata struct {
	FailedStages     []string          `json:"failed_stages,omitempty"`
	StageErrors      map[string]string `json:"stage_errors,omitempty"`
	FailedDataTypes  []string          `json:"failed_data_types,omitempty"`
	SymbolsSucceeded int               `json:"symbols_succeeded"`
	SymbolsFailed    int               `json:"symbols_failed"`
	Error            string            `json:"error,omitempty"`
}

// StageExecution is one stage run within a workflow. Re-running a stage
// creates a new row; rows are never reused.
type StageExecution struct {
	StageExecutionID string     `json:"stage_execution_id"`
	WorkflowID       string     `json:"workflow_id"`
	StageName        string     `json:"stage_name"`
	Status           string     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	SymbolsSucceeded int        `json:"symbols_succeeded"`
	SymbolsFailed    int        `json:"symbols_failed"`
}

// Store persists workflow execution state.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// NewStore creates the workflow store over the audit database.
func NewStore(db *database.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("component", "workflow_store").Logger(),
	}
}

// Create inserts a new running workflow and returns its ID.
func (s *Store) Create(mode domain.RefreshMode, symbols []string) (string, error) {
	workflowID := uuid.NewString()

	symbolsJSON, err := json.Marshal(symbols)
	if err != nil {
		return "", fmt.Errorf("marshal workflow symbols: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO workflow_executions (workflow_id, type, symbols, status, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		workflowID, string(mode), string(symbolsJSON), StatusRunning, time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("create workflow: %w", err)
	}
	return workflowID, nil
}

// StartStage creates a new stage execution row and points the workflow's
// current stage at it.
func (s *Store) StartStage(workflowID, stageName string) (string, error) {
	stageExecutionID := uuid.NewString()

	err := database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO workflow_stage_executions
				(stage_execution_id, workflow_id, stage_name, status, started_at)
			VALUES (?, ?, ?, ?, ?)`,
			stageExecutionID, workflowID, stageName, StatusRunning, time.Now().Unix()); err != nil {
			return fmt.Errorf("create stage execution: %w", err)
		}
		if _, err := tx.Exec(`
			UPDATE workflow_executions SET current_stage = ?
			WHERE workflow_id = ? AND status = ?`,
			stageName, workflowID, StatusRunning); err != nil {
			return fmt.Errorf("update current stage: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return stageExecutionID, nil
}

// CompleteStage finalizes a stage execution with its outcome counts.
func (s *Store) CompleteStage(stageExecutionID, status string, succeeded, failed int) error {
	result, err := s.db.Exec(`
		UPDATE workflow_stage_executions
		SET status = ?, completed_at = ?, symbols_succeeded = ?, symbols_failed = ?
		WHERE stage_execution_id = ? AND status = ?`,
		status, time.Now().Unix(), succeeded, failed, stageExecutionID, StatusRunning)
	if err != nil {
		return fmt.Errorf("complete stage %s: %w", stageExecutionID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("stage %s is not running, refusing transition to %s", stageExecutionID, status)
	}
	return nil
}

// SetSymbolState upserts the per-(workflow, symbol, stage) state row.
func (s *Store) SetSymbolState(workflowID, symbol, stage, status string, errMsg *string) error {
	now := time.Now().Unix()
	var completedAt *int64
	if status == StatusCompleted || status == StatusFailed || status == StatusSkipped {
		completedAt = &now
	}

	_, err := s.db.Exec(`
		INSERT INTO workflow_symbol_states
			(workflow_id, symbol, stage, status, error_message, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workflow_id, symbol, stage) DO UPDATE SET
			status = excluded.status,
			error_message = excluded.error_message,
			retry_count = retry_count + 1,
			completed_at = excluded.completed_at`,
		workflowID, symbol, stage, status, errMsg, now, completedAt)
	if err != nil {
		return fmt.Errorf("set symbol state %s/%s/%s: %w", workflowID, symbol, stage, err)
	}
	return nil
}

// Complete finalizes a workflow with its aggregated metadata. Terminal
// workflows are immutable: an attempt to complete one that is no longer
// running is an error.
func (s *Store) Complete(workflowID, status string, meta *Metadata) error {
	var metaJSON interface{}
	if meta != nil {
		b, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal workflow metadata: %w", err)
		}
		metaJSON = string(b)
	}

	result, err := s.db.Exec(`
		UPDATE workflow_executions
		SET status = ?, completed_at = ?, current_stage = NULL, metadata = ?
		WHERE workflow_id = ? AND status = ?`,
		status, time.Now().Unix(), metaJSON, workflowID, StatusRunning)
	if err != nil {
		return fmt.Errorf("complete workflow %s: %w", workflowID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("workflow %s is not running, refusing transition to %s", workflowID, status)
	}
	return nil
}

// Get returns a workflow execution by ID.
func (s *Store) Get(workflowID string) (*Execution, error) {
	row := s.db.QueryRow(`
		SELECT workflow_id, type, symbols, status, current_stage, metadata, started_at, completed_at
		FROM workflow_executions WHERE workflow_id = ?`, workflowID)

	var exec Execution
	var workflowType, symbolsJSON string
	var metaJSON sql.NullString
	var startedAt int64
	var completedAt sql.NullInt64
	err := row.Scan(&exec.WorkflowID, &workflowType, &symbolsJSON, &exec.Status,
		&exec.CurrentStage, &metaJSON, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow %s: %w", workflowID, err)
	}

	exec.Type = domain.RefreshMode(workflowType)
	exec.StartedAt = time.Unix(startedAt, 0).UTC()
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0).UTC()
		exec.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(symbolsJSON), &exec.Symbols); err != nil {
		return nil, fmt.Errorf("unmarshal workflow symbols: %w", err)
	}
	if metaJSON.Valid && metaJSON.String != "" {
		exec.Metadata = &Metadata{}
		if err := json.Unmarshal([]byte(metaJSON.String), exec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal workflow metadata: %w", err)
		}
	}
	return &exec, nil
}

// List returns recent workflow executions, newest first. mode narrows
// the listing when non-empty.
func (s *Store) List(limit int, mode string) ([]Execution, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT workflow_id, type, symbols, status, current_stage, metadata, started_at, completed_at
		FROM workflow_executions
		WHERE (? = '' OR type = ?)
		ORDER BY started_at DESC, workflow_id
		LIMIT ?`, mode, mode, limit)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var exec Execution
		var workflowType, symbolsJSON string
		var metaJSON sql.NullString
		var startedAt int64
		var completedAt sql.NullInt64
		if err := rows.Scan(&exec.WorkflowID, &workflowType, &symbolsJSON, &exec.Status,
			&exec.CurrentStage, &metaJSON, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan workflow execution: %w", err)
		}
		exec.Type = domain.RefreshMode(workflowType)
		exec.StartedAt = time.Unix(startedAt, 0).UTC()
		if completedAt.Valid {
			t := time.Unix(completedAt.Int64, 0).UTC()
			exec.CompletedAt = &t
		}
		if err := json.Unmarshal([]byte(symbolsJSON), &exec.Symbols); err != nil {
			return nil, fmt.Errorf("unmarshal workflow symbols: %w", err)
		}
		if metaJSON.Valid && metaJSON.String != "" {
			exec.Metadata = &Metadata{}
			if err := json.Unmarshal([]byte(metaJSON.String), exec.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal workflow metadata: %w", err)
			}
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

// SymbolState is the persisted per-(workflow, symbol, stage) outcome.
type SymbolState struct {
	WorkflowID   string     `json:"workflow_id"`
	Symbol       string     `json:"symbol"`
	Stage        string     `json:"stage"`
	Status       string     `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	RetryCount   int        `json:"retry_count"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// SymbolStates returns all symbol states of a workflow, grouped by
// symbol then stage.
func (s *Store) SymbolStates(workflowID string) ([]SymbolState, error) {
	rows, err := s.db.Query(`
		SELECT workflow_id, symbol, stage, status, error_message, retry_count,
		       started_at, completed_at
		FROM workflow_symbol_states
		WHERE workflow_id = ?
		ORDER BY symbol, stage`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list symbol states for %s: %w", workflowID, err)
	}
	defer rows.Close()

	var out []SymbolState
	for rows.Next() {
		var st SymbolState
		var startedAt int64
		var completedAt sql.NullInt64
		if err := rows.Scan(&st.WorkflowID, &st.Symbol, &st.Stage, &st.Status,
			&st.ErrorMessage, &st.RetryCount, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan symbol state: %w", err)
		}
		st.StartedAt = time.Unix(startedAt, 0).UTC()
		if completedAt.Valid {
			t := time.Unix(completedAt.Int64, 0).UTC()
			st.CompletedAt = &t
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Stages returns the stage executions of a workflow in creation order.
// started_at has second granularity, so insertion order (rowid) is the
// only ordering that keeps stages started within the same second stable.
func (s *Store) Stages(workflowID string) ([]StageExecution, error) {
	rows, err := s.db.Query(`
		SELECT stage_execution_id, workflow_id, stage_name, status, started_at,
		       completed_at, symbols_succeeded, symbols_failed
		FROM workflow_stage_executions
		WHERE workflow_id = ?
		ORDER BY rowid`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list stages for %s: %w", workflowID, err)
	}
	defer rows.Close()

	var out []StageExecution
	for rows.Next() {
		var stage StageExecution
		var startedAt int64
		var completedAt sql.NullInt64
		if err := rows.Scan(&stage.StageExecutionID, &stage.WorkflowID, &stage.StageName,
			&stage.Status, &startedAt, &completedAt, &stage.SymbolsSucceeded,
			&stage.SymbolsFailed); err != nil {
			return nil, fmt.Errorf("scan stage execution: %w", err)
		}
		stage.StartedAt = time.Unix(startedAt, 0).UTC()
		if completedAt.Valid {
			t := time.Unix(completedAt.Int64, 0).UTC()
			stage.CompletedAt = &t
		}
		out = append(out, stage)
	}
	return out, rows.Err()
}
