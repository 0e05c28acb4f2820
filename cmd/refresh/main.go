// Package main is the one-shot refresh CLI. It runs a refresh for a
// single symbol against the same databases the service uses and maps
// the outcome to an exit code, which makes it scriptable from cron or
// CI without parsing output.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpane/marketsync/internal/clientdata"
	"github.com/quantpane/marketsync/internal/config"
	"github.com/quantpane/marketsync/internal/database"
	"github.com/quantpane/marketsync/internal/domain"
	"github.com/quantpane/marketsync/internal/metrics"
	"github.com/quantpane/marketsync/internal/providers"
	"github.com/quantpane/marketsync/internal/providers/alphavantage"
	"github.com/quantpane/marketsync/internal/providers/yahoo"
	"github.com/quantpane/marketsync/internal/refresh"
	"github.com/quantpane/marketsync/internal/repository"
	"github.com/quantpane/marketsync/internal/validation"
	"github.com/quantpane/marketsync/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		symbol  = flag.String("symbol", "", "symbol to refresh (required)")
		types   = flag.String("types", "", "comma-separated data types (default: the standard refresh set)")
		mode    = flag.String("mode", string(domain.ModeOnDemand), "refresh mode")
		force   = flag.Bool("force", false, "bypass freshness checks")
		timeout = flag.Duration("timeout", 10*time.Minute, "overall time budget")
		quiet   = flag.Bool("quiet", false, "suppress the JSON result on stdout")
	)
	flag.Parse()

	if *symbol == "" {
		fmt.Fprintln(os.Stderr, "refresh: -symbol is required")
		flag.Usage()
		return domain.ExitUnexpected
	}

	refreshMode := domain.RefreshMode(*mode)
	if !refreshMode.Valid() {
		fmt.Fprintf(os.Stderr, "refresh: unknown mode %q\n", *mode)
		return domain.ExitUnexpected
	}

	var dataTypes []domain.DataType
	if *types != "" {
		for _, raw := range strings.Split(*types, ",") {
			dt := domain.DataType(strings.TrimSpace(raw))
			if !dt.Valid() {
				fmt.Fprintf(os.Stderr, "refresh: unknown data type %q\n", raw)
				return domain.ExitUnexpected
			}
			dataTypes = append(dataTypes, dt)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "refresh: load configuration: %v\n", err)
		return domain.ExitUnexpected
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})

	manager, cleanup, err := buildManager(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "refresh: %v\n", err)
		if errors.Is(err, errDatabase) {
			return domain.ExitDBError
		}
		return domain.ExitUnexpected
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := manager.RefreshData(ctx, *symbol, dataTypes, refreshMode, *force)
	if err != nil {
		fmt.Fprintf(os.Stderr, "refresh: %v\n", err)
		switch providers.KindOf(err) {
		case providers.KindNetwork, providers.KindTimeout, providers.KindUnavailable,
			providers.KindUpstream5xx, providers.KindRateLimited,
			providers.KindPlanLimited, providers.KindAuth:
			return domain.ExitProviderUnavailable
		}
		return domain.ExitUnexpected
	}

	if !*quiet {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
	}
	return exitCode(result)
}

// errDatabase marks setup failures that map to the database exit code.
var errDatabase = errors.New("database setup failed")

// buildManager assembles the refresh pipeline the same way the service
// does, minus the HTTP server and scheduler. The returned cleanup
// closes the databases.
func buildManager(cfg *config.Config, log zerolog.Logger) (*refresh.Manager, func(), error) {
	profiles := map[string]database.Profile{
		"marketdata": database.ProfileStandard,
		"audit":      database.ProfileAudit,
		"cache":      database.ProfileCache,
	}
	databases := make(map[string]*database.DB, len(profiles))
	cleanup := func() {
		for _, db := range databases {
			db.Close()
		}
	}
	for name, profile := range profiles {
		db, err := database.New(database.Config{
			Path:    cfg.DatabasePath(name),
			Profile: profile,
			Name:    name,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("%w: open %s: %v", errDatabase, name, err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			cleanup()
			return nil, nil, fmt.Errorf("%w: migrate %s: %v", errDatabase, name, err)
		}
		databases[name] = db
	}

	cacheRepo := clientdata.NewRepository(databases["cache"].Conn())

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
		cleanup()
		return nil, nil, err
	}

	strategy, err := refresh.NewStrategy(cfg.ScheduleTime)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	composite := providers.NewComposite(registry, log)
	for name, pc := range cfg.Providers {
		if pc.MaxRetries <= 0 && pc.RetryDelay <= 0 {
			continue
		}
		policy := providers.DefaultRetryPolicy()
		if pc.MaxRetries > 0 {
			policy.MaxAttempts = pc.MaxRetries
		}
		if pc.RetryDelay > 0 {
			policy.BaseDelay = pc.RetryDelay
		}
		composite.SetRetryPolicy(name, policy)
	}

	m := metrics.New()
	marketDB := databases["marketdata"]
	manager := refresh.NewManager(
		composite,
		validation.New(log),
		repository.NewMarketData(marketDB, log),
		repository.NewIngestionState(marketDB, log),
		repository.NewAudit(databases["audit"], m, log),
		strategy,
		m,
		refresh.Config{
			BackfillLookbackDaily:    cfg.BackfillLookbackDaily,
			BackfillLookbackIntraday: cfg.BackfillLookbackIntraday,
		},
		log,
	)
	return manager, cleanup, nil
}

// exitCode maps a refresh result to the CLI exit code. Mixed outcomes
// report partial success; a uniformly failed run reports the dominant
// failure class.
func exitCode(result *domain.SymbolRefreshResult) int {
	if result.TotalFailed == 0 {
		return domain.ExitOK
	}
	if result.TotalSuccessful > 0 {
		return domain.ExitPartial
	}

	providerDown, validationFail := true, true
	for _, res := range result.Results {
		if res.Status != domain.StatusFailed {
			continue
		}
		switch res.ErrorType {
		case string(providers.KindNetwork), string(providers.KindTimeout),
			string(providers.KindUnavailable), string(providers.KindUpstream5xx),
			string(providers.KindRateLimited), string(providers.KindPlanLimited),
			string(providers.KindAuth):
			validationFail = false
		case "validation", "no_data":
			providerDown = false
		default:
			providerDown, validationFail = false, false
		}
	}
	switch {
	case providerDown:
		return domain.ExitProviderUnavailable
	case validationFail:
		return domain.ExitValidationFail
	}
	return domain.ExitUnexpected
}
