// Package server provides the HTTP command surface: refresh triggers,
// workflow inspection, audit and validation queries, signal readiness,
// and system health.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/quantpane/marketsync/internal/config"
	"github.com/quantpane/marketsync/internal/database"
	"github.com/quantpane/marketsync/internal/metrics"
	"github.com/quantpane/marketsync/internal/providers"
	"github.com/quantpane/marketsync/internal/readiness"
	"github.com/quantpane/marketsync/internal/repository"
	"github.com/quantpane/marketsync/internal/workflow"
)

// Config holds server wiring.
type Config struct {
	Log           zerolog.Logger
	Port          int
	DevMode       bool
	Databases     map[string]*database.DB
	Refresher     Refresher
	Workflows     WorkflowRunner
	WorkflowStore *workflow.Store
	Audit         *repository.Audit
	Readiness     *readiness.Checker
	Registry      *providers.Registry
	AppConfig     *config.Config
	Metrics       *metrics.Metrics
}

// Server is the HTTP server.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	log      zerolog.Logger
	handlers *Handlers
	system   *SystemHandlers
	metrics  *metrics.Metrics
}

// New creates the HTTP server and wires its routes.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		handlers: NewHandlers(
			cfg.Refresher, cfg.Workflows, cfg.WorkflowStore,
			cfg.Audit, cfg.Readiness, cfg.Registry, cfg.AppConfig, cfg.Log,
		),
		system:  NewSystemHandlers(cfg.Databases, cfg.Registry, cfg.Log),
		metrics: cfg.Metrics,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// setupMiddleware configures middleware.
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.system.HandleLiveness)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler())
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/refresh", s.handlers.HandleRefresh)
		r.Post("/refresh/historical", s.handlers.HandleFetchHistorical)

		r.Route("/workflows", func(r chi.Router) {
			r.Get("/", s.handlers.HandleListWorkflows)
			r.Post("/", s.handlers.HandleRunWorkflow)
			r.Get("/{workflowID}", s.handlers.HandleWorkflowSummary)
			r.Post("/{workflowID}/rerun", s.handlers.HandleRerunStage)
		})

		r.Get("/audit/{symbol}", s.handlers.HandleAudit)
		r.Get("/validation-reports/{symbol}", s.handlers.HandleValidationReports)
		r.Get("/readiness/{symbol}", s.handlers.HandleReadiness)
		r.Get("/datasource/config", s.handlers.HandleDataSourceConfig)

		r.Get("/system/health", s.system.HandleSystemHealth)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the mux, used by tests to drive requests directly.
func (s *Server) Router() http.Handler { return s.router }

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
