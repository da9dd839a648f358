package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openCacheDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), "nested", "cache.db"),
		Profile: ProfileCache,
		Name:    "cache",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNew_CreatesDirectoryAndDefaults(t *testing.T) {
	db := openCacheDB(t)

	assert.Equal(t, "cache", db.Name())
	assert.Equal(t, ProfileCache, db.Profile())
	assert.True(t, filepath.IsAbs(db.Path()))

	standard, err := New(Config{Path: filepath.Join(t.TempDir(), "x.db"), Name: "x"})
	require.NoError(t, err)
	defer standard.Close()
	assert.Equal(t, ProfileStandard, standard.Profile())
}

func TestMigrate_IsIdempotent(t *testing.T) {
	db := openCacheDB(t)

	require.NoError(t, db.Migrate())
	require.NoError(t, db.Migrate())

	for _, table := range []string{"historical", "forecast", "latest_date", "prediction_detail", "prediction_history", "prediction_stats"} {
		var name string
		err := db.Conn().QueryRow(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestMigrate_UnknownDatabase(t *testing.T) {
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "other.db"), Name: "other"})
	require.NoError(t, err)
	defer db.Close()

	assert.Error(t, db.Migrate())
}

func TestWithTransaction(t *testing.T) {
	db := openCacheDB(t)
	require.NoError(t, db.Migrate())

	insert := func(tx *sql.Tx, key string) error {
		_, err := tx.Exec("INSERT INTO historical (cache_key, data, stored_at, expires_at) VALUES (?, x'00', 0, 0)", key)
		return err
	}

	require.NoError(t, WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		return insert(tx, "kept")
	}))

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		require.NoError(t, insert(tx, "rolled_back"))
		return errors.New("boom")
	})
	assert.ErrorContains(t, err, "boom")

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		require.NoError(t, insert(tx, "panicked"))
		panic("bad")
	})
	assert.ErrorContains(t, err, "panic in transaction")

	var count int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM historical").Scan(&count))
	assert.Equal(t, 1, count)

	assert.Error(t, WithTransaction(nil, func(*sql.Tx) error { return nil }))
}

func TestHealthCheckAndStats(t *testing.T) {
	db := openCacheDB(t)
	require.NoError(t, db.Migrate())

	require.NoError(t, db.HealthCheck(context.Background()))
	require.NoError(t, db.WALCheckpoint(""))
	assert.Error(t, db.WALCheckpoint("NOPE"))

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Greater(t, stats.PageCount, int64(0))
	assert.Greater(t, stats.PageSize, int64(0))
}

func TestBuildConnectionString(t *testing.T) {
	cache := buildConnectionString("/tmp/c.db", ProfileCache)
	assert.Contains(t, cache, "/tmp/c.db?_pragma=journal_mode(WAL)")
	assert.Contains(t, cache, "synchronous(OFF)")

	standard := buildConnectionString("file:x?mode=memory", ProfileStandard)
	assert.Contains(t, standard, "file:x?mode=memory&_pragma=journal_mode(WAL)")
	assert.Contains(t, standard, "synchronous(NORMAL)")
}
