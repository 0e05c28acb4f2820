package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpane/marketsync/internal/config"
	"github.com/quantpane/marketsync/internal/database"
	"github.com/quantpane/marketsync/internal/domain"
	"github.com/quantpane/marketsync/internal/providers"
	"github.com/quantpane/marketsync/internal/readiness"
	"github.com/quantpane/marketsync/internal/repository"
	"github.com/quantpane/marketsync/internal/workflow"
)

type fakeRefresher struct {
	lastSymbol string
	lastTypes  []domain.DataType
	lastMode   domain.RefreshMode
	lastForce  bool
	err        error
}

func (f *fakeRefresher) RefreshData(_ context.Context, symbol string, dataTypes []domain.DataType, mode domain.RefreshMode, force bool) (*domain.SymbolRefreshResult, error) {
	f.lastSymbol = symbol
	f.lastTypes = dataTypes
	f.lastMode = mode
	f.lastForce = force
	if f.err != nil {
		return nil, f.err
	}
	return &domain.SymbolRefreshResult{
		Symbol:          domain.NormalizeSymbol(symbol),
		Mode:            mode,
		Results:         map[domain.DataType]domain.DataTypeRefreshResult{},
		TotalSuccessful: len(dataTypes),
	}, nil
}

type fakeWorkflows struct {
	store       *workflow.Store
	lastSymbols []string
	lastStages  []string
	lastMode    domain.RefreshMode
	lastOpts    domain.StageOptions
	rerunErr    error
	err         error
}

func (f *fakeWorkflows) Run(_ context.Context, mode domain.RefreshMode, symbols []string) (string, error) {
	f.lastSymbols = symbols
	f.lastMode = mode
	return "wf-123", f.err
}

// RunStages records its arguments and persists a real completed workflow
// so handlers can read back the stage executions.
func (f *fakeWorkflows) RunStages(_ context.Context, mode domain.RefreshMode, symbols, stages []string, opts domain.StageOptions) (string, error) {
	f.lastSymbols = symbols
	f.lastStages = stages
	f.lastMode = mode
	f.lastOpts = opts
	if f.err != nil {
		return "", f.err
	}

	id, err := f.store.Create(mode, symbols)
	if err != nil {
		return "", err
	}
	for _, stage := range stages {
		stageID, err := f.store.StartStage(id, stage)
		if err != nil {
			return "", err
		}
		if err := f.store.CompleteStage(stageID, workflow.StatusCompleted, len(symbols), 0); err != nil {
			return "", err
		}
	}
	return id, f.store.Complete(id, workflow.StatusCompleted, nil)
}

func (f *fakeWorkflows) RerunStage(_ context.Context, _, stage, _ string) (string, error) {
	f.lastStages = []string{stage}
	if f.rerunErr != nil {
		return "", f.rerunErr
	}
	return "stage-999", nil
}

type fakeProvider struct {
	providers.Unimplemented
}

func (fakeProvider) Name() string                        { return "fakeprov" }
func (fakeProvider) Capabilities() []providers.Capability { return []providers.Capability{providers.CapDailyBars} }
func (fakeProvider) HealthCheck(context.Context) error   { return nil }

type testServer struct {
	srv       *Server
	refresher *fakeRefresher
	workflows *fakeWorkflows
	store     *workflow.Store
	audit     *repository.Audit
}

func newTestDB(t *testing.T, name string, profile database.Profile) *database.DB {
	t.Helper()

	unique := strings.NewReplacer("/", "_", "#", "_").Replace(t.Name())
	db, err := database.New(database.Config{
		Path:    "file:" + unique + "_" + name + "?mode=memory&cache=shared",
		Profile: profile,
		Name:    name,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	marketDB := newTestDB(t, "marketdata", database.ProfileStandard)
	auditDB := newTestDB(t, "audit", database.ProfileAudit)

	market := repository.NewMarketData(marketDB, zerolog.Nop())
	audit := repository.NewAudit(auditDB, nil, zerolog.Nop())
	store := workflow.NewStore(auditDB, zerolog.Nop())

	registry := providers.NewRegistry(zerolog.Nop())
	registry.Register(fakeProvider{})

	cfg := &config.Config{
		PrimaryDataProvider:  "fakeprov",
		FallbackDataProvider: "",
		Providers: map[string]config.ProviderConfig{
			"fakeprov": {Enabled: true, APIKey: "secret-key"},
		},
	}

	ts := &testServer{
		refresher: &fakeRefresher{},
		workflows: &fakeWorkflows{store: store},
		store:     store,
		audit:     audit,
	}
	ts.srv = New(Config{
		Log:           zerolog.Nop(),
		Port:          0,
		Databases:     map[string]*database.DB{"marketdata": marketDB, "audit": auditDB},
		Refresher:     ts.refresher,
		Workflows:     ts.workflows,
		WorkflowStore: store,
		Audit:         audit,
		Readiness:     readiness.New(market, audit, zerolog.Nop()),
		Registry:      registry,
		AppConfig:     cfg,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHandleRefresh(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/refresh", map[string]any{
		"symbol":     "nvda",
		"data_types": []string{"price_historical", "fundamentals"},
		"mode":       "on_demand",
		"force":      true,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nvda", ts.refresher.lastSymbol)
	assert.Equal(t, []domain.DataType{domain.DataTypePriceHistorical, domain.DataTypeFundamentals}, ts.refresher.lastTypes)
	assert.Equal(t, domain.ModeOnDemand, ts.refresher.lastMode)
	assert.True(t, ts.refresher.lastForce)
}

func TestHandleRefreshValidation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing symbol", map[string]any{"data_types": []string{"news"}}},
		{"unknown data type", map[string]any{"symbol": "NVDA", "data_types": []string{"astrology"}}},
		{"unknown mode", map[string]any{"symbol": "NVDA", "mode": "yolo"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/refresh", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleFetchHistorical(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/refresh/historical", map[string]any{
		"symbol":               "AAPL",
		"period":               "6mo",
		"include_fundamentals": true,
		"calculate_indicators": true,
		"force":                true,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"AAPL"}, ts.workflows.lastSymbols)
	assert.Equal(t, []string{domain.StageIngestion, domain.StageIndicators, domain.StageFundamentals}, ts.workflows.lastStages)
	assert.Equal(t, domain.ModeOnDemand, ts.workflows.lastMode)
	assert.Equal(t, domain.StageOptions{Force: true, LookbackDays: 186}, ts.workflows.lastOpts)

	summary := decode[map[string]json.RawMessage](t, rec)
	var workflowID string
	require.NoError(t, json.Unmarshal(summary["workflow_id"], &workflowID))
	assert.NotEmpty(t, workflowID)

	var stages []workflow.StageExecution
	require.NoError(t, json.Unmarshal(summary["stages"], &stages))
	require.Len(t, stages, 3)
	for _, stage := range stages {
		assert.Equal(t, workflow.StatusCompleted, stage.Status)
	}
}

func TestHandleFetchHistoricalDefaultsToIngestionOnly(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/refresh/historical", map[string]any{
		"symbol": "AAPL",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{domain.StageIngestion}, ts.workflows.lastStages)
	assert.Equal(t, domain.StageOptions{}, ts.workflows.lastOpts)
}

func TestHandleFetchHistoricalValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/refresh/historical", map[string]any{
		"symbol": "AAPL",
		"period": "yesteryear",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/refresh/historical", map[string]any{
		"period": "1y",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRerunStage(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/workflows/wf-123/rerun", map[string]any{
		"stage":  "earnings",
		"symbol": "NVDA",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "wf-123", body["workflow_id"])
	assert.Equal(t, "stage-999", body["stage_execution_id"])

	rec = ts.do(t, http.MethodPost, "/api/workflows/wf-123/rerun", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.workflows.rerunErr = fmt.Errorf("%w: wf-404", workflow.ErrNotFound)
	rec = ts.do(t, http.MethodPost, "/api/workflows/wf-404/rerun", map[string]any{"stage": "earnings"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.workflows.rerunErr = fmt.Errorf("%w: unknown stage", workflow.ErrInvalid)
	rec = ts.do(t, http.MethodPost, "/api/workflows/wf-123/rerun", map[string]any{"stage": "nonsense"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRunWorkflow(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/workflows", map[string]any{
		"symbols": []string{"NVDA", "AAPL"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "wf-123", body["workflow_id"])
	assert.Equal(t, []string{"NVDA", "AAPL"}, ts.workflows.lastSymbols)
	assert.Equal(t, domain.ModeOnDemand, ts.workflows.lastMode)

	rec = ts.do(t, http.MethodPost, "/api/workflows", map[string]any{"symbols": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleWorkflowSummaryAndList(t *testing.T) {
	ts := newTestServer(t)

	workflowID, err := ts.store.Create(domain.ModeOnDemand, []string{"NVDA"})
	require.NoError(t, err)
	stageID, err := ts.store.StartStage(workflowID, "ingestion")
	require.NoError(t, err)
	require.NoError(t, ts.store.SetSymbolState(workflowID, "NVDA", "ingestion", workflow.StatusCompleted, nil))
	require.NoError(t, ts.store.CompleteStage(stageID, workflow.StatusCompleted, 1, 0))
	require.NoError(t, ts.store.Complete(workflowID, workflow.StatusCompleted, nil))

	rec := ts.do(t, http.MethodGet, "/api/workflows/"+workflowID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	summary := decode[map[string]json.RawMessage](t, rec)
	var exec workflow.Execution
	require.NoError(t, json.Unmarshal(summary["workflow"], &exec))
	assert.Equal(t, workflow.StatusCompleted, exec.Status)

	var states []workflow.SymbolState
	require.NoError(t, json.Unmarshal(summary["symbol_states"], &states))
	require.Len(t, states, 1)
	assert.Equal(t, "NVDA", states[0].Symbol)

	rec = ts.do(t, http.MethodGet, "/api/workflows/?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), workflowID)
}

func TestHandleWorkflowSummaryNotFound(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/workflows/no-such-id", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleAudit(t *testing.T) {
	ts := newTestServer(t)

	require.NoError(t, ts.audit.InsertFetchAudit(domain.DataFetchAuditRecord{
		Symbol:    "NVDA",
		FetchType: domain.DataTypePriceHistorical,
		FetchMode: domain.ModeOnDemand,
		Source:    "test",
		Success:   true,
	}))

	rec := ts.do(t, http.MethodGet, "/api/audit/NVDA?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "price_historical")
}

func TestHandleValidationReportsRejectsUnknownType(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/validation-reports/NVDA?data_type=nonsense", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleReadiness(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/readiness/NVDA", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	result := decode[readiness.Result](t, rec)
	assert.Equal(t, readiness.StatusNotReady, result.Status)

	rec = ts.do(t, http.MethodGet, "/api/readiness/NVDA?signal_type=unknown", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDataSourceConfigMasksCredentials(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/datasource/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "api_key_configured")
	assert.NotContains(t, rec.Body.String(), "secret-key")
	assert.Contains(t, rec.Body.String(), "fakeprov")
}

func TestHandleSystemHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/system/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp systemHealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.True(t, resp.Databases["marketdata"].Healthy)
	assert.True(t, resp.Providers["fakeprov"].Available)
	assert.WithinDuration(t, time.Now(), resp.CheckedAt, time.Minute)
}

func TestHandleLiveness(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
