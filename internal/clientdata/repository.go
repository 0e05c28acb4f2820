// Package clientdata provides persistent caching for provider API responses.
// All data is stored as msgpack blobs with expiration timestamps for
// cache-first behavior.
package clientdata

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Cache tables in cache.db, one per cached capability.
const (
	TableFundamentals  = "fundamentals"
	TableEarnings      = "earnings"
	TableStatements    = "statements"
	TablePeers         = "peers"
	TableNews          = "news"
	TableSymbolDetails = "symbol_details"
	TableCurrentPrices = "current_prices"
)

// AllTables lists all tables in cache.db for cleanup operations.
var AllTables = []string{
	TableFundamentals,
	TableEarnings,
	TableStatements,
	TablePeers,
	TableNews,
	TableSymbolDetails,
	TableCurrentPrices,
}

// validTables is a set for O(1) table name validation.
var validTables = func() map[string]bool {
	m := make(map[string]bool, len(AllTables))
	for _, t := range AllTables {
		m[t] = true
	}
	return m
}()

// Repository provides cache operations for provider response data.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new provider cache repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// validateTable ensures the table name is in our allowed list.
// This prevents SQL injection through table names.
func validateTable(table string) error {
	if !validTables[table] {
		return fmt.Errorf("invalid table name: %s", table)
	}
	return nil
}

// Store saves data with expiration = now + ttl.
// Uses INSERT OR REPLACE to upsert data.
func (r *Repository) Store(table, symbol string, data interface{}, ttl time.Duration) error {
	if err := validateTable(table); err != nil {
		return err
	}

	blob, err := msgpack.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	expiresAt := time.Now().Add(ttl).Unix()

	query := fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (symbol, data, expires_at) VALUES (?, ?, ?)",
		table,
	)

	_, err = r.db.Exec(query, symbol, blob, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to store data in %s: %w", table, err)
	}

	return nil
}

// GetIfFresh decodes into dest only if expires_at > now.
// Returns false if the key doesn't exist or the data is expired.
// Use Get() to retrieve stale data as a fallback when provider calls fail.
func (r *Repository) GetIfFresh(table, symbol string, dest interface{}) (bool, error) {
	if err := validateTable(table); err != nil {
		return false, err
	}

	now := time.Now().Unix()

	query := fmt.Sprintf(
		"SELECT data FROM %s WHERE symbol = ? AND expires_at > ?",
		table,
	)

	var blob []byte
	err := r.db.QueryRow(query, symbol, now).Scan(&blob)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get data from %s: %w", table, err)
	}

	if err := msgpack.Unmarshal(blob, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal data from %s: %w", table, err)
	}

	return true, nil
}

// Get decodes into dest regardless of expiration status.
// Use this as a fallback when provider calls fail. Stale data is better
// than no data. Returns false if the key doesn't exist.
func (r *Repository) Get(table, symbol string, dest interface{}) (bool, error) {
	if err := validateTable(table); err != nil {
		return false, err
	}

	query := fmt.Sprintf("SELECT data FROM %s WHERE symbol = ?", table)

	var blob []byte
	err := r.db.QueryRow(query, symbol).Scan(&blob)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get data from %s: %w", table, err)
	}

	if err := msgpack.Unmarshal(blob, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal data from %s: %w", table, err)
	}

	return true, nil
}

// Delete removes a specific entry.
func (r *Repository) Delete(table, symbol string) error {
	if err := validateTable(table); err != nil {
		return err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE symbol = ?", table)

	_, err := r.db.Exec(query, symbol)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}

	return nil
}

// DeleteExpired removes all rows where expires_at < now.
// Returns the number of rows deleted.
func (r *Repository) DeleteExpired(table string) (int64, error) {
	if err := validateTable(table); err != nil {
		return 0, err
	}

	now := time.Now().Unix()

	query := fmt.Sprintf("DELETE FROM %s WHERE expires_at < ?", table)

	result, err := r.db.Exec(query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired from %s: %w", table, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected for %s: %w", table, err)
	}

	return deleted, nil
}

// DeleteAllExpired removes all expired entries from all tables.
// Returns a map of table name to number of rows deleted.
func (r *Repository) DeleteAllExpired() (map[string]int64, error) {
	results := make(map[string]int64)

	for _, table := range AllTables {
		deleted, err := r.DeleteExpired(table)
		if err != nil {
			return results, fmt.Errorf("failed to delete expired from %s: %w", table, err)
		}
		results[table] = deleted
	}

	return results, nil
}
