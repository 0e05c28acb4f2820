// Package main is the entry point for the marketsync service: the HTTP
// command surface plus the scheduled workflow, periodic refresh tick,
// cache cleanup, maintenance, and backup jobs.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpane/marketsync/internal/clientdata"
	"github.com/quantpane/marketsync/internal/config"
	"github.com/quantpane/marketsync/internal/database"
	"github.com/quantpane/marketsync/internal/metrics"
	"github.com/quantpane/marketsync/internal/providers"
	"github.com/quantpane/marketsync/internal/providers/alphavantage"
	"github.com/quantpane/marketsync/internal/providers/yahoo"
	"github.com/quantpane/marketsync/internal/readiness"
	"github.com/quantpane/marketsync/internal/refresh"
	"github.com/quantpane/marketsync/internal/reliability"
	"github.com/quantpane/marketsync/internal/repository"
	"github.com/quantpane/marketsync/internal/scheduler"
	"github.com/quantpane/marketsync/internal/server"
	"github.com/quantpane/marketsync/internal/validation"
	"github.com/quantpane/marketsync/internal/workflow"
	"github.com/quantpane/marketsync/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting marketsync")

	databases, err := openDatabases(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open databases")
	}
	defer func() {
		for _, db := range databases {
			db.Close()
		}
	}()
	marketDB := databases["marketdata"]
	auditDB := databases["audit"]
	cacheDB := databases["cache"]

	m := metrics.New()

	// Repositories
	market := repository.NewMarketData(marketDB, log)
	state := repository.NewIngestionState(marketDB, log)
	auditRepo := repository.NewAudit(auditDB, m, log)
	cacheRepo := clientdata.NewRepository(cacheDB.Conn())

	// Providers
	registry := providers.NewRegistry(log)
	if pc := cfg.Providers[config.ProviderAlphaVantage]; pc.Enabled {
		registry.Register(alphavantage.NewClient(alphavantage.Config{
			APIKey:            pc.APIKey,
			BaseURL:           pc.BaseURL,
			RequestsPerMinute: pc.RequestsPerMinute,
			RateLimitWindow:   pc.RateLimitWindow,
			Timeout:           pc.Timeout,
		}, cacheRepo, log))
	}
	if pc := cfg.Providers[config.ProviderYahoo]; pc.Enabled {
		registry.Register(yahoo.NewClient(yahoo.Config{
			BaseURL:           pc.BaseURL,
			RequestsPerMinute: pc.RequestsPerMinute,
			RateLimitWindow:   pc.RateLimitWindow,
			Timeout:           pc.Timeout,
		}, cacheRepo, log))
	}
	if err := registry.SetPrimary(cfg.PrimaryDataProvider); err != nil {
		log.Fatal().Err(err).Msg("Failed to set primary data provider")
	}
	composite := providers.NewComposite(registry, log)
	for name, pc := range cfg.Providers {
		if policy, ok := retryPolicyOverride(pc); ok {
			composite.SetRetryPolicy(name, policy)
		}
	}

	// Refresh pipeline
	strategy, err := refresh.NewStrategy(cfg.ScheduleTime)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid schedule time")
	}
	manager := refresh.NewManager(composite, validation.New(log), market, state, auditRepo,
		strategy, m, refresh.Config{
			BackfillLookbackDaily:    cfg.BackfillLookbackDaily,
			BackfillLookbackIntraday: cfg.BackfillLookbackIntraday,
		}, log)

	// Workflows and readiness
	store := workflow.NewStore(auditDB, log)
	orchestrator := workflow.NewOrchestrator(store, manager, m, log)
	checker := readiness.New(market, auditRepo, log)

	// Background jobs
	sched := scheduler.New(log)
	if err := registerJobs(sched, cfg, databases, orchestrator, manager, market, cacheRepo, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to register scheduled jobs")
	}
	sched.Start()
	defer sched.Stop()

	// HTTP server
	srv := server.New(server.Config{
		Log:           log,
		Port:          cfg.Port,
		DevMode:       cfg.DevMode,
		Databases:     databases,
		Refresher:     manager,
		Workflows:     orchestrator,
		WorkflowStore: store,
		Audit:         auditRepo,
		Readiness:     checker,
		Registry:      registry,
		AppConfig:     cfg,
		Metrics:       m,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
}

// retryPolicyOverride builds a per-provider retry policy from configured
// overrides. Returns false when the provider keeps the default policy.
func retryPolicyOverride(pc config.ProviderConfig) (providers.RetryPolicy, bool) {
	if pc.MaxRetries <= 0 && pc.RetryDelay <= 0 {
		return providers.RetryPolicy{}, false
	}
	policy := providers.DefaultRetryPolicy()
	if pc.MaxRetries > 0 {
		policy.MaxAttempts = pc.MaxRetries
	}
	if pc.RetryDelay > 0 {
		policy.BaseDelay = pc.RetryDelay
	}
	return policy, true
}

// openDatabases opens and migrates the three databases.
func openDatabases(cfg *config.Config) (map[string]*database.DB, error) {
	profiles := map[string]database.Profile{
		"marketdata": database.ProfileStandard,
		"audit":      database.ProfileAudit,
		"cache":      database.ProfileCache,
	}

	databases := make(map[string]*database.DB, len(profiles))
	for name, profile := range profiles {
		db, err := database.New(database.Config{
			Path:    cfg.DatabasePath(name),
			Profile: profile,
			Name:    name,
		})
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate %s: %w", name, err)
		}
		databases[name] = db
	}
	return databases, nil
}

// registerJobs wires the recurring background jobs: the daily workflow,
// the periodic refresh tick, cache cleanup, database maintenance, and
// the off-site backup.
func registerJobs(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	databases map[string]*database.DB,
	orchestrator *workflow.Orchestrator,
	manager *refresh.Manager,
	market *repository.MarketData,
	cacheRepo *clientdata.Repository,
	log zerolog.Logger,
) error {
	hour, minute := cfg.ScheduleHourMinute()
	if err := sched.AddJob(scheduler.DailySpec(hour, minute),
		scheduler.NewDailyRefreshJob(orchestrator, market, log)); err != nil {
		return err
	}

	if err := sched.AddJob(fmt.Sprintf("@every %s", cfg.PeriodicTickInterval),
		scheduler.NewPeriodicTickJob(manager, market, cfg.WorkerConcurrency, log)); err != nil {
		return err
	}

	if err := sched.AddJob("0 15 1 * * *", clientdata.NewCleanupJob(cacheRepo, log)); err != nil {
		return err
	}

	if err := sched.AddJob("0 0 2 * * *",
		reliability.NewDailyMaintenanceJob(databases, cfg.DataDir, log)); err != nil {
		return err
	}
	if err := sched.AddJob("0 0 3 * * 0",
		reliability.NewWeeklyVacuumJob(databases, log)); err != nil {
		return err
	}

	var objectStore reliability.ObjectStore
	if cfg.Backup.Configured() {
		s3, err := reliability.NewS3Store(context.Background(), reliability.S3Config{
			Endpoint:        cfg.Backup.Endpoint,
			Region:          cfg.Backup.Region,
			Bucket:          cfg.Backup.Bucket,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
		}, log)
		if err != nil {
			return fmt.Errorf("backup store: %w", err)
		}
		objectStore = s3
	} else {
		log.Info().Msg("Backup store not configured, nightly backups disabled")
	}
	backupSvc := reliability.NewBackupService(databases, objectStore, cfg.DataDir,
		cfg.Backup.RetentionDays, log)
	return sched.AddJob("0 30 2 * * *", reliability.NewBackupJob(backupSvc, log))
}
