package clientdata

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for _, table := range AllTables {
		_, err := db.Exec(`CREATE TABLE ` + table + ` (
			symbol TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			expires_at INTEGER NOT NULL
		)`)
		require.NoError(t, err)
	}

	return db
}

type testPayload struct {
	Name  string
	Price float64
}

func TestStoreAndGetIfFresh(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	in := testPayload{Name: "Apple Inc", Price: 187.5}
	require.NoError(t, repo.Store(TableFundamentals, "AAPL", in, time.Hour))

	var out testPayload
	found, err := repo.GetIfFresh(TableFundamentals, "AAPL", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, in, out)
}

func TestGetIfFreshMissingKey(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	var out testPayload
	found, err := repo.GetIfFresh(TableFundamentals, "MISSING", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetIfFreshExpired(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	in := testPayload{Name: "Microsoft", Price: 410.0}
	require.NoError(t, repo.Store(TableFundamentals, "MSFT", in, -time.Hour))

	var out testPayload
	found, err := repo.GetIfFresh(TableFundamentals, "MSFT", &out)
	require.NoError(t, err)
	assert.False(t, found, "expired entry must not be returned as fresh")

	// Stale fallback still returns it.
	found, err = repo.Get(TableFundamentals, "MSFT", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, in, out)
}

func TestStoreOverwrites(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	require.NoError(t, repo.Store(TableCurrentPrices, "AAPL", testPayload{Price: 100}, time.Hour))
	require.NoError(t, repo.Store(TableCurrentPrices, "AAPL", testPayload{Price: 101}, time.Hour))

	var out testPayload
	found, err := repo.GetIfFresh(TableCurrentPrices, "AAPL", &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 101.0, out.Price)
}

func TestInvalidTableRejected(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	err := repo.Store("users; DROP TABLE fundamentals", "AAPL", testPayload{}, time.Hour)
	assert.Error(t, err)

	var out testPayload
	_, err = repo.Get("nope", "AAPL", &out)
	assert.Error(t, err)
}

func TestDeleteExpired(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	require.NoError(t, repo.Store(TableNews, "AAPL", testPayload{Name: "fresh"}, time.Hour))
	require.NoError(t, repo.Store(TableNews, "MSFT", testPayload{Name: "stale"}, -time.Hour))

	deleted, err := repo.DeleteExpired(TableNews)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var out testPayload
	found, err := repo.Get(TableNews, "MSFT", &out)
	require.NoError(t, err)
	assert.False(t, found)

	found, err = repo.Get(TableNews, "AAPL", &out)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestDeleteAllExpired(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	require.NoError(t, repo.Store(TableFundamentals, "A", testPayload{}, -time.Minute))
	require.NoError(t, repo.Store(TableEarnings, "B", testPayload{}, -time.Minute))
	require.NoError(t, repo.Store(TablePeers, "C", testPayload{}, time.Hour))

	results, err := repo.DeleteAllExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(1), results[TableFundamentals])
	assert.Equal(t, int64(1), results[TableEarnings])
	assert.Equal(t, int64(0), results[TablePeers])
}
