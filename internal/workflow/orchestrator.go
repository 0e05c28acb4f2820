package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/quantpane/marketsync/internal/domain"
	"github.com/quantpane/marketsync/internal/metrics"
)

// StageRunner executes one workflow stage for one symbol. The refresh
// manager implements this.
type StageRunner interface {
	RunStage(ctx context.Context, workflowID, symbol, stage string, mode domain.RefreshMode, opts domain.StageOptions) error
}

// Sentinel errors callers can map to their own failure surface.
var (
	ErrNotFound = errors.New("workflow not found")
	ErrInvalid  = errors.New("invalid workflow request")
)

// maxStageWorkers caps the per-stage symbol fan-out.
const maxStageWorkers = 8

// Orchestrator drives a workflow through its stages. Ingestion and
// indicators run sequentially; the auxiliary stages run concurrently.
// A symbol that fails a blocking stage is skipped for the rest of the
// workflow, auxiliary failures affect only their own stage.
type Orchestrator struct {
	store   *Store
	runner  StageRunner
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewOrchestrator creates a workflow orchestrator. m may be nil.
func NewOrchestrator(store *Store, runner StageRunner, m *metrics.Metrics, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:   store,
		runner:  runner,
		metrics: m,
		log:     log.With().Str("component", "orchestrator").Logger(),
	}
}

// stageOutcome tracks per-symbol results of one stage run; the aggregate
// feeds the workflow metadata on completion.
type stageOutcome struct {
	mu        sync.Mutex
	succeeded int
	failed    int
	firstErr  string
	dead      map[string]bool // symbols excluded from later stages
}

func (r *stageOutcome) record(symbol string, blocking bool, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if errMsg != "" {
		r.failed++
		if r.firstErr == "" {
			r.firstErr = errMsg
		}
		if blocking {
			r.dead[symbol] = true
		}
		return
	}
	r.succeeded++
}

// errorMessage normalizes an error for persistence. Cancellation is
// recorded as "cancelled" instead of the raw context error text.
func errorMessage(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return err.Error()
}

// Run executes a full workflow over the given symbols and returns the
// workflow ID. The returned error reports orchestration failures, not
// per-symbol data failures; those are recorded in the workflow state.
func (o *Orchestrator) Run(ctx context.Context, mode domain.RefreshMode, symbols []string) (string, error) {
	return o.RunStages(ctx, mode, symbols, domain.StageOrder, domain.StageOptions{})
}

// RunStages executes a workflow restricted to the given stages. Stage
// order is canonical regardless of the order requested; blocking stages
// run before the auxiliary ones.
func (o *Orchestrator) RunStages(ctx context.Context, mode domain.RefreshMode, symbols, stages []string, opts domain.StageOptions) (string, error) {
	if len(symbols) == 0 {
		return "", fmt.Errorf("%w: at least one symbol required", ErrInvalid)
	}
	if len(stages) == 0 {
		return "", fmt.Errorf("%w: at least one stage required", ErrInvalid)
	}

	requested := make(map[string]bool, len(stages))
	for _, stage := range stages {
		if !domain.ValidStage(stage) {
			return "", fmt.Errorf("%w: unknown stage %q", ErrInvalid, stage)
		}
		requested[stage] = true
	}
	var sequential, auxiliary []string
	for _, stage := range domain.StageOrder {
		if !requested[stage] {
			continue
		}
		if stage == domain.StageIngestion || stage == domain.StageIndicators {
			sequential = append(sequential, stage)
		} else {
			auxiliary = append(auxiliary, stage)
		}
	}

	normalized := make([]string, 0, len(symbols))
	for _, s := range symbols {
		normalized = append(normalized, domain.NormalizeSymbol(s))
	}

	workflowID, err := o.store.Create(mode, normalized)
	if err != nil {
		return "", err
	}

	o.log.Info().
		Str("workflow_id", workflowID).
		Str("mode", string(mode)).
		Int("symbols", len(normalized)).
		Int("stages", len(sequential)+len(auxiliary)).
		Msg("Workflow started")

	dead := make(map[string]bool)
	outcomes := make(map[string]*stageOutcome, len(requested))
	for stage := range requested {
		outcomes[stage] = &stageOutcome{dead: dead}
	}

	// Sequential stages first: indicators need fresh prices.
	for _, stage := range sequential {
		if _, err := o.runStage(ctx, workflowID, stage, mode, opts, normalized, outcomes[stage]); err != nil {
			o.finish(workflowID, StatusFailed, outcomes, errorMessage(err))
			return workflowID, err
		}
		if len(dead) == len(normalized) {
			o.log.Warn().
				Str("workflow_id", workflowID).
				Str("stage", stage).
				Msg("All symbols failed a blocking stage, aborting workflow")
			if err := o.finish(workflowID, StatusFailed, outcomes, ""); err != nil {
				return workflowID, err
			}
			return workflowID, nil
		}
	}

	// Auxiliary stages are independent of each other.
	grp, grpCtx := errgroup.WithContext(ctx)
	for _, stage := range auxiliary {
		stage := stage
		grp.Go(func() error {
			_, err := o.runStage(grpCtx, workflowID, stage, mode, opts, normalized, outcomes[stage])
			return err
		})
	}
	if err := grp.Wait(); err != nil {
		o.finish(workflowID, StatusFailed, outcomes, errorMessage(err))
		return workflowID, err
	}

	if err := o.finish(workflowID, StatusCompleted, outcomes, ""); err != nil {
		return workflowID, err
	}

	o.log.Info().Str("workflow_id", workflowID).Msg("Workflow completed")
	return workflowID, nil
}

// RerunStage runs one stage of an existing workflow again. A fresh stage
// execution row is created under the original workflow; its terminal
// status stays untouched and symbol states record the bumped retry count.
// An empty symbol reruns the stage over every symbol of the workflow.
func (o *Orchestrator) RerunStage(ctx context.Context, workflowID, stage, symbol string) (string, error) {
	if !domain.ValidStage(stage) {
		return "", fmt.Errorf("%w: unknown stage %q", ErrInvalid, stage)
	}

	exec, err := o.store.Get(workflowID)
	if err != nil {
		return "", err
	}
	if exec == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, workflowID)
	}

	symbols := exec.Symbols
	if symbol != "" {
		normalized := domain.NormalizeSymbol(symbol)
		member := false
		for _, s := range exec.Symbols {
			if s == normalized {
				member = true
				break
			}
		}
		if !member {
			return "", fmt.Errorf("%w: symbol %s is not part of workflow %s", ErrInvalid, normalized, workflowID)
		}
		symbols = []string{normalized}
	}

	o.log.Info().
		Str("workflow_id", workflowID).
		Str("stage", stage).
		Int("symbols", len(symbols)).
		Msg("Stage rerun started")

	// A rerun is an explicit request; the strategy gate must not skip it.
	result := &stageOutcome{dead: make(map[string]bool)}
	return o.runStage(ctx, workflowID, stage, exec.Type, domain.StageOptions{Force: true}, symbols, result)
}

// finish completes the workflow with the metadata aggregated from its
// stage outcomes and counts the terminal status.
func (o *Orchestrator) finish(workflowID, status string, outcomes map[string]*stageOutcome, errMsg string) error {
	if o.metrics != nil {
		o.metrics.WorkflowTotal.WithLabelValues(status).Inc()
	}
	return o.store.Complete(workflowID, status, buildMetadata(outcomes, errMsg))
}

// buildMetadata folds per-stage outcomes into the workflow metadata.
func buildMetadata(outcomes map[string]*stageOutcome, errMsg string) *Metadata {
	meta := &Metadata{Error: errMsg}
	for _, stage := range domain.StageOrder {
		oc, ok := outcomes[stage]
		if !ok {
			continue
		}
		meta.SymbolsSucceeded += oc.succeeded
		meta.SymbolsFailed += oc.failed
		if oc.failed > 0 {
			meta.FailedStages = append(meta.FailedStages, stage)
			for _, dt := range domain.StageDataTypes(stage) {
				meta.FailedDataTypes = append(meta.FailedDataTypes, string(dt))
			}
		}
		if oc.firstErr != "" {
			if meta.StageErrors == nil {
				meta.StageErrors = make(map[string]string)
			}
			meta.StageErrors[stage] = oc.firstErr
		}
	}
	return meta
}

// runStage fans the live symbols of one stage across a bounded worker
// pool and returns the stage execution ID. Symbols already dead from a
// blocking stage are recorded as skipped without invoking the runner.
func (o *Orchestrator) runStage(ctx context.Context, workflowID, stage string, mode domain.RefreshMode, opts domain.StageOptions, symbols []string, result *stageOutcome) (string, error) {
	stageExecutionID, err := o.store.StartStage(workflowID, stage)
	if err != nil {
		return "", err
	}

	blocking := stage == domain.StageIngestion || stage == domain.StageIndicators

	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(min(maxStageWorkers, len(symbols)))

	for _, symbol := range symbols {
		symbol := symbol
		result.mu.Lock()
		skip := result.dead[symbol]
		result.mu.Unlock()
		if skip {
			if err := o.store.SetSymbolState(workflowID, symbol, stage, StatusSkipped, nil); err != nil {
				return stageExecutionID, err
			}
			continue
		}

		grp.Go(func() error {
			if err := o.store.SetSymbolState(workflowID, symbol, stage, StatusRunning, nil); err != nil {
				return err
			}

			runErr := o.runner.RunStage(grpCtx, workflowID, symbol, stage, mode, opts)

			status := StatusCompleted
			var errMsg *string
			if runErr != nil {
				status = StatusFailed
				msg := errorMessage(runErr)
				errMsg = &msg
				o.log.Warn().
					Str("workflow_id", workflowID).
					Str("stage", stage).
					Str("symbol", symbol).
					Err(runErr).
					Msg("Symbol failed stage")
			}
			var recorded string
			if errMsg != nil {
				recorded = *errMsg
			}
			result.record(symbol, blocking, recorded)
			return o.store.SetSymbolState(workflowID, symbol, stage, status, errMsg)
		})
	}

	if err := grp.Wait(); err != nil {
		_ = o.store.CompleteStage(stageExecutionID, StatusFailed, result.succeeded, result.failed)
		return stageExecutionID, err
	}

	stageStatus := StatusCompleted
	if result.succeeded == 0 && result.failed > 0 {
		stageStatus = StatusFailed
	}
	return stageExecutionID, o.store.CompleteStage(stageExecutionID, stageStatus, result.succeeded, result.failed)
}
