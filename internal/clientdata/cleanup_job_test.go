package clientdata

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupJobName(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	job := NewCleanupJob(NewRepository(db), 0, zerolog.Nop())
	assert.Equal(t, "cache_cleanup", job.Name())
}

func TestCleanupJobRun(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	job := NewCleanupJob(repo, 0, zerolog.Nop())

	repo.now = func() time.Time { return time.Now().Add(-time.Hour) }
	require.NoError(t, repo.Store(TableHistorical, "expired", 1, time.Minute))
	require.NoError(t, repo.Store(TableForecast, "expired", 1, time.Minute))
	repo.now = time.Now
	require.NoError(t, repo.Store(TableHistorical, "fresh", 1, time.Hour))

	require.NoError(t, job.Run())

	var count int
	require.NoError(t, db.QueryRow("SELECT (SELECT COUNT(*) FROM historical) + (SELECT COUNT(*) FROM forecast)").Scan(&count))
	assert.Equal(t, 1, count)

	var value int
	found, err := repo.Get(TableHistorical, "fresh", &value)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestCleanupJobRun_ClosedDatabase(t *testing.T) {
	db := setupTestDB(t)
	job := NewCleanupJob(NewRepository(db), 0, zerolog.Nop())
	require.NoError(t, db.Close())

	assert.Error(t, job.Run())
}

func TestCleanupJob_FailingTableDoesNotStopOthers(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	repo.now = func() time.Time { return time.Now().Add(-time.Hour) }
	require.NoError(t, repo.Store(TableHistorical, "expired", 1, time.Minute))
	require.NoError(t, repo.Store(TablePredictionStats, "expired", 1, time.Minute))
	repo.now = time.Now

	_, err := db.Exec("DROP TABLE forecast")
	require.NoError(t, err)

	report, err := NewCleanupJob(repo, 0, zerolog.Nop()).Cleanup()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forecast")
	assert.Equal(t, 1, report.FailedCount)
	assert.NotContains(t, report.Deleted, TableForecast)
	assert.Equal(t, int64(1), report.Deleted[TableHistorical])
	assert.Equal(t, int64(1), report.Deleted[TablePredictionStats], "tables after the failing one are still cleaned")
}

func TestCleanupJob_EntryLimit(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Store(TableHistorical, key, 1, time.Hour))
	}
	require.NoError(t, repo.Store(TableForecast, "a", 1, time.Hour))

	report, err := NewCleanupJob(repo, 2, zerolog.Nop()).Cleanup()
	require.NoError(t, err)
	assert.Equal(t, []string{TableHistorical}, report.OverLimit)
	assert.Equal(t, int64(3), report.Remaining[TableHistorical])

	report, err = NewCleanupJob(repo, 0, zerolog.Nop()).Cleanup()
	require.NoError(t, err)
	assert.Empty(t, report.OverLimit)
	assert.Nil(t, report.Remaining, "a zero limit skips counting")
}
