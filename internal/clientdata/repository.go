// Package clientdata provides persistent caching for market API responses.
// Payloads are stored as msgpack blobs with expiration timestamps for
// cache-first reads and stale fallback.
package clientdata

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Cache tables
const (
	TableHistorical       = "historical"
	TableForecast         = "forecast"
	TableLatestDate       = "latest_date"
	TablePredictionDetail = "prediction_detail"
	TablePredictionList   = "prediction_history"
	TablePredictionStats  = "prediction_stats"
)

// AllTables lists every cache table for cleanup operations.
var AllTables = []string{
	TableHistorical,
	TableForecast,
	TableLatestDate,
	TablePredictionDetail,
	TablePredictionList,
	TablePredictionStats,
}

var validTables = func() map[string]bool {
	m := make(map[string]bool, len(AllTables))
	for _, t := range AllTables {
		m[t] = true
	}
	return m
}()

// Repository provides cache operations for API responses.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a new cache repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// validateTable guards the table names interpolated into queries
func validateTable(table string) error {
	if !validTables[table] {
		return fmt.Errorf("invalid table name: %s", table)
	}
	return nil
}

// Store saves data with expiration = now + ttl, replacing any previous entry.
func (r *Repository) Store(table, key string, data interface{}, ttl time.Duration) error {
	if err := validateTable(table); err != nil {
		return err
	}

	blob, err := msgpack.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	now := r.now()
	query := fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (cache_key, data, stored_at, expires_at) VALUES (?, ?, ?, ?)",
		table,
	)
	if _, err := r.db.Exec(query, key, blob, now.Unix(), now.Add(ttl).Unix()); err != nil {
		return fmt.Errorf("failed to store data in %s: %w", table, err)
	}

	return nil
}

// GetIfFresh decodes the entry into dest only if it has not expired.
// Returns false when the key is missing or expired.
func (r *Repository) GetIfFresh(table, key string, dest interface{}) (bool, error) {
	if err := validateTable(table); err != nil {
		return false, err
	}

	query := fmt.Sprintf("SELECT data FROM %s WHERE cache_key = ? AND expires_at > ?", table)
	return r.load(query, table, dest, key, r.now().Unix())
}

// Get decodes the entry into dest regardless of expiration.
// Used as a fallback when the API fails: stale data is better than no data.
func (r *Repository) Get(table, key string, dest interface{}) (bool, error) {
	if err := validateTable(table); err != nil {
		return false, err
	}

	query := fmt.Sprintf("SELECT data FROM %s WHERE cache_key = ?", table)
	return r.load(query, table, dest, key)
}

func (r *Repository) load(query, table string, dest interface{}, args ...interface{}) (bool, error) {
	var blob []byte
	err := r.db.QueryRow(query, args...).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get data from %s: %w", table, err)
	}

	if err := msgpack.Unmarshal(blob, dest); err != nil {
		return false, fmt.Errorf("failed to decode cached %s entry: %w", table, err)
	}
	return true, nil
}

// Delete removes a specific entry.
func (r *Repository) Delete(table, key string) error {
	if err := validateTable(table); err != nil {
		return err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE cache_key = ?", table)
	if _, err := r.db.Exec(query, key); err != nil {
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

	query := fmt.Sprintf("DELETE FROM %s WHERE expires_at < ?", table)
	result, err := r.db.Exec(query, r.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired from %s: %w", table, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected for %s: %w", table, err)
	}
	return deleted, nil
}

// DeleteAllExpired removes expired entries from every table.
// Returns a map of table name to number of rows deleted. A failing table does
// not stop the others; its error is joined into the returned error and it is
// absent from the map.
func (r *Repository) DeleteAllExpired() (map[string]int64, error) {
	results := make(map[string]int64)

	var errs []error
	for _, table := range AllTables {
		deleted, err := r.DeleteExpired(table)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results[table] = deleted
	}

	return results, errors.Join(errs...)
}

// Counts returns the number of cached entries per table
func (r *Repository) Counts() (map[string]int64, error) {
	counts := make(map[string]int64, len(AllTables))
	for _, table := range AllTables {
		var n int64
		if err := r.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
			return counts, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}
