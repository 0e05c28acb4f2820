package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/quantpane/marketsync/internal/domain"
	"github.com/quantpane/marketsync/internal/refresh"
)

// SymbolSource enumerates the symbols background jobs operate on. The
// scheduler does not own symbol membership; the repository does.
type SymbolSource interface {
	ListHoldings() ([]string, error)
	ListSymbols() ([]string, error)
}

// WorkflowRunner starts a full workflow over a symbol set.
type WorkflowRunner interface {
	Run(ctx context.Context, mode domain.RefreshMode, symbols []string) (string, error)
}

// Refresher runs a per-symbol refresh. The refresh manager implements it.
type Refresher interface {
	RefreshData(ctx context.Context, symbol string, dataTypes []domain.DataType, mode domain.RefreshMode, force bool) (*domain.SymbolRefreshResult, error)
}

// symbolBudget caps how long one symbol's periodic refresh may run.
const symbolBudget = 10 * time.Minute

// DailyRefreshJob runs the scheduled workflow over all tracked symbols.
type DailyRefreshJob struct {
	runner  WorkflowRunner
	symbols SymbolSource
	log     zerolog.Logger
}

// NewDailyRefreshJob creates the daily workflow job.
func NewDailyRefreshJob(runner WorkflowRunner, symbols SymbolSource, log zerolog.Logger) *DailyRefreshJob {
	return &DailyRefreshJob{
		runner:  runner,
		symbols: symbols,
		log:     log.With().Str("component", "daily_refresh_job").Logger(),
	}
}

// Name implements Job.
func (j *DailyRefreshJob) Name() string { return "daily_refresh" }

// Run implements Job. Holdings drive the symbol set; the full symbol
// table is the fallback when no holdings are tracked.
func (j *DailyRefreshJob) Run() error {
	symbols, err := j.symbols.ListHoldings()
	if err != nil {
		return err
	}
	if len(symbols) == 0 {
		if symbols, err = j.symbols.ListSymbols(); err != nil {
			return err
		}
	}
	if len(symbols) == 0 {
		j.log.Info().Msg("No symbols tracked, skipping daily refresh")
		return nil
	}

	workflowID, err := j.runner.Run(context.Background(), domain.ModeScheduled, symbols)
	if err != nil {
		return err
	}
	j.log.Info().
		Str("workflow_id", workflowID).
		Int("symbols", len(symbols)).
		Msg("Daily refresh workflow finished")
	return nil
}

// periodicDataTypes are the types the tick re-checks; the refresh
// strategy decides which are actually due.
var periodicDataTypes = append([]domain.DataType{
	domain.DataTypePriceCurrent,
	domain.DataTypeIndicators,
}, refresh.DefaultDataTypes...)

// PeriodicTickJob refreshes whatever has grown stale, fanned over a
// bounded worker pool.
type PeriodicTickJob struct {
	refresher Refresher
	symbols   SymbolSource
	workers   int
	log       zerolog.Logger
}

// NewPeriodicTickJob creates the periodic tick job. workers <= 0 uses
// the default bound of 8.
func NewPeriodicTickJob(refresher Refresher, symbols SymbolSource, workers int, log zerolog.Logger) *PeriodicTickJob {
	if workers <= 0 {
		workers = 8
	}
	return &PeriodicTickJob{
		refresher: refresher,
		symbols:   symbols,
		workers:   workers,
		log:       log.With().Str("component", "periodic_tick_job").Logger(),
	}
}

// Name implements Job.
func (j *PeriodicTickJob) Name() string { return "periodic_tick" }

// Run implements Job.
func (j *PeriodicTickJob) Run() error {
	symbols, err := j.symbols.ListHoldings()
	if err != nil {
		return err
	}
	if len(symbols) == 0 {
		if symbols, err = j.symbols.ListSymbols(); err != nil {
			return err
		}
	}
	if len(symbols) == 0 {
		return nil
	}

	grp := new(errgroup.Group)
	grp.SetLimit(min(j.workers, len(symbols)))

	for _, symbol := range symbols {
		symbol := symbol
		grp.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), symbolBudget)
			defer cancel()

			result, err := j.refresher.RefreshData(ctx, symbol, periodicDataTypes, domain.ModePeriodic, false)
			if err != nil {
				j.log.Error().Err(err).Str("symbol", symbol).Msg("Periodic refresh failed")
				return nil // one symbol failing must not stop the tick
			}
			if result.TotalFailed > 0 {
				j.log.Warn().
					Str("symbol", symbol).
					Int("failed", result.TotalFailed).
					Int("successful", result.TotalSuccessful).
					Msg("Periodic refresh completed with failures")
			}
			return nil
		})
	}
	return grp.Wait()
}
