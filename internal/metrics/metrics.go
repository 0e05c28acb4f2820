// Package metrics exposes Prometheus instrumentation for refreshes,
// provider calls, workflows, and the scheduler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors on a private registry so tests can run
// in parallel without duplicate-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	RefreshTotal    *prometheus.CounterVec
	RefreshDuration *prometheus.HistogramVec
	ProviderCalls   *prometheus.CounterVec
	BackfillRows    *prometheus.CounterVec
	WorkflowTotal   *prometheus.CounterVec
	AuditWriteDrops prometheus.Counter
}

// New creates the metrics set with Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		RefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsync_refresh_total",
			Help: "Refresh outcomes by data type and status.",
		}, []string{"data_type", "status"}),
		RefreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketsync_refresh_duration_seconds",
			Help:    "Per-data-type refresh handler duration.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"data_type"}),
		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsync_provider_calls_total",
			Help: "Provider fetches by source and outcome.",
		}, []string{"source", "outcome"}),
		BackfillRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsync_backfill_rows_total",
			Help: "Rows recovered by self-heal backfills.",
		}, []string{"data_type"}),
		WorkflowTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsync_workflow_total",
			Help: "Workflow completions by status.",
		}, []string{"status"}),
		AuditWriteDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketsync_audit_write_drops_total",
			Help: "Best-effort audit writes that failed.",
		}),
	}

	reg.MustRegister(m.RefreshTotal, m.RefreshDuration, m.ProviderCalls,
		m.BackfillRows, m.WorkflowTotal, m.AuditWriteDrops)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
