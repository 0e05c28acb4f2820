package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/quantpane/marketsync/internal/database"
	"github.com/quantpane/marketsync/internal/providers"
)

// SystemHandlers serves liveness and the aggregated system health view.
type SystemHandlers struct {
	databases map[string]*database.DB
	registry  *providers.Registry
	checkers  map[string]*providers.HealthChecker
	log       zerolog.Logger
}

// NewSystemHandlers creates the system handlers. Provider health checks
// are cached per provider so polling dashboards do not hammer the
// upstream status endpoints.
func NewSystemHandlers(databases map[string]*database.DB, registry *providers.Registry, log zerolog.Logger) *SystemHandlers {
	checkers := make(map[string]*providers.HealthChecker)
	if registry != nil {
		for _, name := range registry.Names() {
			if client, ok := registry.Get(name); ok {
				checkers[name] = providers.NewHealthChecker(client, 0)
			}
		}
	}
	return &SystemHandlers{
		databases: databases,
		registry:  registry,
		checkers:  checkers,
		log:       log.With().Str("component", "system_handlers").Logger(),
	}
}

// HandleLiveness answers the load balancer probe.
// GET /health
func (h *SystemHandlers) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type databaseHealth struct {
	Healthy bool    `json:"healthy"`
	Error   string  `json:"error,omitempty"`
	SizeMB  float64 `json:"size_mb"`
}

type providerHealth struct {
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

type systemHealthResponse struct {
	Status     string                    `json:"status"`
	CPUPercent float64                   `json:"cpu_percent"`
	MemPercent float64                   `json:"mem_percent"`
	Databases  map[string]databaseHealth `json:"databases"`
	Providers  map[string]providerHealth `json:"providers"`
	CheckedAt  time.Time                 `json:"checked_at"`
}

// HandleSystemHealth reports host stats, database health, and provider
// availability. Any unhealthy database degrades the overall status.
// GET /api/system/health
func (h *SystemHandlers) HandleSystemHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	resp := systemHealthResponse{
		Status:    "healthy",
		Databases: make(map[string]databaseHealth),
		Providers: make(map[string]providerHealth),
		CheckedAt: time.Now().UTC(),
	}
	resp.CPUPercent, resp.MemPercent = h.hostStats()

	for name, db := range h.databases {
		health := databaseHealth{Healthy: true}
		if err := db.HealthCheck(ctx); err != nil {
			health.Healthy = false
			health.Error = err.Error()
			resp.Status = "degraded"
		}
		if stats, err := db.GetStats(); err == nil {
			health.SizeMB = float64(stats.SizeBytes) / 1024 / 1024
		}
		resp.Databases[name] = health
	}

	for name, checker := range h.checkers {
		ph := providerHealth{Available: true}
		if err := checker.Check(ctx); err != nil {
			ph.Available = false
			ph.Error = err.Error()
			// A provider being down degrades data freshness, not the
			// service itself. Status stays as the databases decided.
		}
		resp.Providers[name] = ph
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// hostStats samples CPU and memory usage. The short CPU sampling window
// keeps the endpoint responsive for polling dashboards.
func (h *SystemHandlers) hostStats() (cpuPct, memPct float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	} else if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuPct, 0
	}
	return cpuPct, memStat.UsedPercent
}
