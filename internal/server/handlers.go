package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/quantpane/marketsync/internal/config"
	"github.com/quantpane/marketsync/internal/domain"
	"github.com/quantpane/marketsync/internal/providers"
	"github.com/quantpane/marketsync/internal/readiness"
	"github.com/quantpane/marketsync/internal/repository"
	"github.com/quantpane/marketsync/internal/workflow"
)

// Refresher runs per-symbol refreshes. The refresh manager implements it.
type Refresher interface {
	RefreshData(ctx context.Context, symbol string, dataTypes []domain.DataType, mode domain.RefreshMode, force bool) (*domain.SymbolRefreshResult, error)
}

// WorkflowRunner starts and reruns workflows over a symbol set. The
// orchestrator implements it.
type WorkflowRunner interface {
	Run(ctx context.Context, mode domain.RefreshMode, symbols []string) (string, error)
	RunStages(ctx context.Context, mode domain.RefreshMode, symbols, stages []string, opts domain.StageOptions) (string, error)
	RerunStage(ctx context.Context, workflowID, stage, symbol string) (string, error)
}

// ReadinessChecker evaluates signal readiness for a symbol.
type ReadinessChecker interface {
	Check(symbol, signalType string) (*readiness.Result, error)
}

// Handlers holds the API handlers for the command surface.
type Handlers struct {
	refresher Refresher
	workflows WorkflowRunner
	store     *workflow.Store
	audit     *repository.Audit
	readiness ReadinessChecker
	registry  *providers.Registry
	cfg       *config.Config
	log       zerolog.Logger
}

// NewHandlers creates the API handlers.
func NewHandlers(
	refresher Refresher,
	workflows WorkflowRunner,
	store *workflow.Store,
	audit *repository.Audit,
	readinessChecker ReadinessChecker,
	registry *providers.Registry,
	cfg *config.Config,
	log zerolog.Logger,
) *Handlers {
	return &Handlers{
		refresher: refresher,
		workflows: workflows,
		store:     store,
		audit:     audit,
		readiness: readinessChecker,
		registry:  registry,
		cfg:       cfg,
		log:       log.With().Str("component", "api_handlers").Logger(),
	}
}

type refreshRequest struct {
	Symbol    string   `json:"symbol"`
	DataTypes []string `json:"data_types"`
	Mode      string   `json:"mode"`
	Force     bool     `json:"force"`
}

// HandleRefresh triggers a refresh for one symbol.
// POST /api/refresh
func (h *Handlers) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	mode := domain.ModeOnDemand
	if req.Mode != "" {
		mode = domain.RefreshMode(req.Mode)
		if !mode.Valid() {
			writeError(w, http.StatusBadRequest, "unknown refresh mode "+req.Mode)
			return
		}
	}

	var dataTypes []domain.DataType
	for _, raw := range req.DataTypes {
		dt := domain.DataType(raw)
		if !dt.Valid() {
			writeError(w, http.StatusBadRequest, "unknown data type "+raw)
			return
		}
		dataTypes = append(dataTypes, dt)
	}

	result, err := h.refresher.RefreshData(r.Context(), req.Symbol, dataTypes, mode, req.Force)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", req.Symbol).Msg("Refresh failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type historicalRequest struct {
	Symbol              string `json:"symbol"`
	Period              string `json:"period"`
	IncludeFundamentals bool   `json:"include_fundamentals"`
	CalculateIndicators bool   `json:"calculate_indicators"`
	Force               bool   `json:"force"`
}

// HandleFetchHistorical runs the price ingestion stage for one symbol as
// a single-symbol workflow, optionally followed by the indicators and
// fundamentals stages, and responds with the workflow and its per-stage
// outcomes.
// POST /api/refresh/historical
func (h *Handlers) HandleFetchHistorical(w http.ResponseWriter, r *http.Request) {
	var req historicalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	lookbackDays, err := domain.PeriodLookbackDays(req.Period)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stages := []string{domain.StageIngestion}
	if req.CalculateIndicators {
		stages = append(stages, domain.StageIndicators)
	}
	if req.IncludeFundamentals {
		stages = append(stages, domain.StageFundamentals)
	}

	opts := domain.StageOptions{Force: req.Force, LookbackDays: lookbackDays}
	workflowID, err := h.workflows.RunStages(r.Context(), domain.ModeOnDemand, []string{req.Symbol}, stages, opts)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", req.Symbol).Msg("Historical fetch failed")
		status := http.StatusInternalServerError
		if errors.Is(err, workflow.ErrInvalid) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}

	execution, err := h.store.Get(workflowID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	stageExecutions, err := h.store.Stages(workflowID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workflow_id": workflowID,
		"workflow":    execution,
		"stages":      stageExecutions,
	})
}

type workflowRequest struct {
	Symbols []string `json:"symbols"`
	Mode    string   `json:"mode"`
}

// HandleRunWorkflow runs a full workflow over a symbol set and responds
// with the completed workflow's ID.
// POST /api/workflows
func (h *Handlers) HandleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Symbols) == 0 {
		writeError(w, http.StatusBadRequest, "symbols are required")
		return
	}

	mode := domain.ModeOnDemand
	if req.Mode != "" {
		mode = domain.RefreshMode(req.Mode)
		if !mode.Valid() {
			writeError(w, http.StatusBadRequest, "unknown refresh mode "+req.Mode)
			return
		}
	}

	workflowID, err := h.workflows.Run(r.Context(), mode, req.Symbols)
	if err != nil {
		h.log.Error().Err(err).Msg("Workflow run failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"workflow_id": workflowID})
}

type rerunRequest struct {
	Stage  string `json:"stage"`
	Symbol string `json:"symbol"`
}

// HandleRerunStage re-runs one stage of an existing workflow as a fresh
// stage execution, optionally narrowed to a single symbol.
// POST /api/workflows/{workflowID}/rerun
func (h *Handlers) HandleRerunStage(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")

	var req rerunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Stage == "" {
		writeError(w, http.StatusBadRequest, "stage is required")
		return
	}

	stageExecutionID, err := h.workflows.RerunStage(r.Context(), workflowID, req.Stage, req.Symbol)
	if err != nil {
		switch {
		case errors.Is(err, workflow.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, workflow.ErrInvalid):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.log.Error().Err(err).Str("workflow_id", workflowID).Msg("Stage rerun failed")
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"workflow_id":        workflowID,
		"stage_execution_id": stageExecutionID,
	})
}

// HandleListWorkflows lists recent workflow executions.
// GET /api/workflows?limit=&type=
func (h *Handlers) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	executions, err := h.store.List(limit, r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": executions})
}

// HandleWorkflowSummary returns one workflow with its stage executions
// and per-symbol states.
// GET /api/workflows/{workflowID}
func (h *Handlers) HandleWorkflowSummary(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")

	execution, err := h.store.Get(workflowID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if execution == nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}

	stages, err := h.store.Stages(workflowID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	symbolStates, err := h.store.SymbolStates(workflowID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"workflow":      execution,
		"stages":        stages,
		"symbol_states": symbolStates,
	})
}

// HandleAudit returns the recent fetch audit trail for a symbol.
// GET /api/audit/{symbol}?limit=
func (h *Handlers) HandleAudit(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	limit := queryInt(r, "limit", 50)

	records, err := h.audit.RecentFetchAudits(symbol, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol": domain.NormalizeSymbol(symbol),
		"audits": records,
	})
}

// HandleValidationReports returns stored validation reports for a symbol.
// GET /api/validation-reports/{symbol}?data_type=&limit=
func (h *Handlers) HandleValidationReports(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	dataType := r.URL.Query().Get("data_type")
	limit := queryInt(r, "limit", 20)

	if dataType != "" && !domain.DataType(dataType).Valid() {
		writeError(w, http.StatusBadRequest, "unknown data type "+dataType)
		return
	}

	reports, err := h.audit.RecentValidationReports(symbol, dataType, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":  domain.NormalizeSymbol(symbol),
		"reports": reports,
	})
}

// HandleReadiness evaluates signal readiness for a symbol.
// GET /api/readiness/{symbol}?signal_type=
func (h *Handlers) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	signalType := r.URL.Query().Get("signal_type")
	if signalType == "" {
		signalType = readiness.SignalSwingTrend
	}

	result, err := h.readiness.Check(symbol, signalType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// providerConfigView is the sanitized per-provider configuration.
// Credentials never leave the process.
type providerConfigView struct {
	Name             string   `json:"name"`
	Enabled          bool     `json:"enabled"`
	APIKeyConfigured bool     `json:"api_key_configured"`
	BaseURL          string   `json:"base_url,omitempty"`
	Capabilities     []string `json:"capabilities,omitempty"`
}

// HandleDataSourceConfig reports the provider configuration.
// GET /api/datasource/config
func (h *Handlers) HandleDataSourceConfig(w http.ResponseWriter, r *http.Request) {
	views := make([]providerConfigView, 0, len(h.cfg.Providers))
	for _, name := range h.registry.Names() {
		pc := h.cfg.Providers[name]
		view := providerConfigView{
			Name:             name,
			Enabled:          pc.Enabled,
			APIKeyConfigured: pc.APIKey != "",
			BaseURL:          pc.BaseURL,
		}
		if client, ok := h.registry.Get(name); ok {
			for _, capability := range client.Capabilities() {
				view.Capabilities = append(view.Capabilities, string(capability))
			}
		}
		views = append(views, view)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"primary":  h.cfg.PrimaryDataProvider,
		"fallback": h.cfg.FallbackDataProvider,
		"providers": views,
	})
}

// Response helpers

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return defaultValue
}
