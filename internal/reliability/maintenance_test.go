package reliability

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpane/marketsync/internal/database"
)

func TestDailyMaintenanceRunsCleanOnHealthyDatabases(t *testing.T) {
	dir := t.TempDir()
	dbs := map[string]*database.DB{
		"marketdata": newDiskDB(t, dir, "marketdata"),
	}

	_, err := dbs["marketdata"].Exec(
		`INSERT INTO symbols (symbol, created_at) VALUES (?, ?)`,
		"AAPL", time.Now().Unix(),
	)
	require.NoError(t, err)

	job := NewDailyMaintenanceJob(dbs, dir, zerolog.Nop())
	assert.Equal(t, "daily_maintenance", job.Name())
	require.NoError(t, job.Run())
}

func TestWeeklyVacuumReclaimsDeletedRows(t *testing.T) {
	dir := t.TempDir()
	db := newDiskDB(t, dir, "marketdata")

	for i := 0; i < 500; i++ {
		_, err := db.Exec(
			`INSERT INTO symbols (symbol, created_at) VALUES (?, ?)`,
			fmt.Sprintf("SYM%03d", i), time.Now().Unix(),
		)
		require.NoError(t, err)
	}
	_, err := db.Exec(`DELETE FROM symbols`)
	require.NoError(t, err)

	job := NewWeeklyVacuumJob(map[string]*database.DB{"marketdata": db}, zerolog.Nop())
	assert.Equal(t, "weekly_vacuum", job.Name())
	require.NoError(t, job.Run())

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM symbols`).Scan(&count))
	assert.Zero(t, count)
}
