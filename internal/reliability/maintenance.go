// Package reliability keeps the on-disk databases healthy: scheduled
// maintenance (checkpoints, VACUUM, integrity checks) and off-site
// backups of the SQLite files.
package reliability

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpane/marketsync/internal/database"
)

// Disk space thresholds for the maintenance halt check, in GB.
const (
	diskCriticalGB = 0.5
	diskLowGB      = 5.0
	diskWarnGB     = 10.0
)

// DailyMaintenanceJob checkpoints the WAL files, verifies database
// integrity, and halts on critically low disk space.
type DailyMaintenanceJob struct {
	databases map[string]*database.DB
	dataDir   string
	log       zerolog.Logger
}

// NewDailyMaintenanceJob creates the daily maintenance job over the
// given databases. dataDir is the directory holding the database files.
func NewDailyMaintenanceJob(databases map[string]*database.DB, dataDir string, log zerolog.Logger) *DailyMaintenanceJob {
	return &DailyMaintenanceJob{
		databases: databases,
		dataDir:   dataDir,
		log:       log.With().Str("job", "daily_maintenance").Logger(),
	}
}

// Name implements scheduler.Job.
func (j *DailyMaintenanceJob) Name() string { return "daily_maintenance" }

// Run implements scheduler.Job.
func (j *DailyMaintenanceJob) Run() error {
	j.log.Info().Msg("Starting daily maintenance")
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	// Integrity first. A corrupt database must surface before we touch
	// the WAL or hand anything to the backup job.
	for name, db := range j.databases {
		j.log.Debug().Str("database", name).Msg("Running integrity check")

		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().
				Str("database", name).
				Err(err).
				Msg("Integrity check failed")
			return fmt.Errorf("integrity check for %s: %w", name, err)
		}
	}

	// WAL checkpoint to prevent bloat. Failure here is not critical.
	for name, db := range j.databases {
		j.log.Debug().Str("database", name).Msg("Running WAL checkpoint")

		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().
				Str("database", name).
				Err(err).
				Msg("WAL checkpoint failed")
		}
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	j.logDatabaseStats()

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Daily maintenance completed")
	return nil
}

// checkDiskSpace verifies sufficient disk space is available under the
// data directory and errors when the system should halt ingestion.
func (j *DailyMaintenanceJob) checkDiskSpace() error {
	stat := syscall.Statfs_t{}
	if err := syscall.Statfs(j.dataDir, &stat); err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	availableBytes := stat.Bavail * uint64(stat.Bsize)
	availableGB := float64(availableBytes) / 1e9

	j.log.Debug().Float64("available_gb", availableGB).Msg("Disk space check")

	switch {
	case availableGB < diskCriticalGB:
		j.log.Error().
			Float64("available_gb", availableGB).
			Msg("CRITICAL: Insufficient disk space")
		return fmt.Errorf("only %.2f GB free under %s", availableGB, j.dataDir)
	case availableGB < diskLowGB:
		j.log.Error().
			Float64("available_gb", availableGB).
			Msg("Low disk space, consider cleanup")
	case availableGB < diskWarnGB:
		j.log.Warn().
			Float64("available_gb", availableGB).
			Msg("Disk space running low")
	}

	return nil
}

// logDatabaseStats records per-database size metrics for growth tracking.
func (j *DailyMaintenanceJob) logDatabaseStats() {
	for name, db := range j.databases {
		stats, err := db.GetStats()
		if err != nil {
			j.log.Error().
				Str("database", name).
				Err(err).
				Msg("Failed to get database stats")
			continue
		}

		j.log.Info().
			Str("database", name).
			Float64("size_mb", float64(stats.SizeBytes)/1024/1024).
			Float64("wal_size_mb", float64(stats.WALSizeBytes)/1024/1024).
			Int64("freelist_pages", stats.FreelistCount).
			Msg("Database stats")
	}
}

// WeeklyVacuumJob rebuilds the databases to reclaim free pages. VACUUM
// is expensive, so it runs weekly in a quiet window rather than daily.
type WeeklyVacuumJob struct {
	databases map[string]*database.DB
	log       zerolog.Logger
}

// NewWeeklyVacuumJob creates the weekly VACUUM job.
func NewWeeklyVacuumJob(databases map[string]*database.DB, log zerolog.Logger) *WeeklyVacuumJob {
	return &WeeklyVacuumJob{
		databases: databases,
		log:       log.With().Str("job", "weekly_vacuum").Logger(),
	}
}

// Name implements scheduler.Job.
func (j *WeeklyVacuumJob) Name() string { return "weekly_vacuum" }

// Run implements scheduler.Job. Per-database failures are logged and
// the remaining databases still get vacuumed.
func (j *WeeklyVacuumJob) Run() error {
	j.log.Info().Msg("Starting weekly vacuum")
	startTime := time.Now()

	for name, db := range j.databases {
		if err := j.vacuumDatabase(db, name); err != nil {
			j.log.Error().
				Str("database", name).
				Err(err).
				Msg("VACUUM failed")
		}
	}

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Weekly vacuum completed")
	return nil
}

// vacuumDatabase runs VACUUM on one database and logs the space
// reclaimed.
func (j *WeeklyVacuumJob) vacuumDatabase(db *database.DB, name string) error {
	before, err := db.GetStats()
	if err != nil {
		return fmt.Errorf("stats before vacuum: %w", err)
	}
	sizeBefore := float64(before.PageCount*before.PageSize) / 1024 / 1024

	if err := db.Vacuum(); err != nil {
		return err
	}

	after, err := db.GetStats()
	if err != nil {
		return fmt.Errorf("stats after vacuum: %w", err)
	}
	sizeAfter := float64(after.PageCount*after.PageSize) / 1024 / 1024

	j.log.Info().
		Str("database", name).
		Float64("size_before_mb", sizeBefore).
		Float64("size_after_mb", sizeAfter).
		Float64("space_reclaimed_mb", sizeBefore-sizeAfter).
		Msg("VACUUM completed")

	return nil
}
