package clientdata

import (
	"github.com/rs/zerolog"
)

// CleanupJob removes expired entries from all cache tables and reports tables
// that stay above the entry limit afterwards.
type CleanupJob struct {
	repo       *Repository
	entryLimit int64
	log        zerolog.Logger
}

// NewCleanupJob creates a new cache cleanup job. An entryLimit of zero
// disables the size report.
func NewCleanupJob(repo *Repository, entryLimit int64, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		repo:       repo,
		entryLimit: entryLimit,
		log:        log.With().Str("job", "cache_cleanup").Logger(),
	}
}

// CleanupReport summarizes one cleanup run
type CleanupReport struct {
	Deleted     map[string]int64
	Remaining   map[string]int64
	OverLimit   []string
	FailedCount int
}

// Run removes all expired entries from all tables.
func (j *CleanupJob) Run() error {
	_, err := j.Cleanup()
	return err
}

// Cleanup deletes expired entries table by table. Tables that fail are logged
// with their name and skipped; the joined error is returned after every table
// was tried.
func (j *CleanupJob) Cleanup() (CleanupReport, error) {
	report := CleanupReport{}

	deleted, err := j.repo.DeleteAllExpired()
	report.Deleted = deleted
	for _, table := range AllTables {
		if _, ok := deleted[table]; !ok {
			report.FailedCount++
			j.log.Error().Str("table", table).Msg("Failed to delete expired cache entries")
		}
	}
	if err != nil {
		j.log.Error().Err(err).Int("failed_tables", report.FailedCount).Msg("Cache cleanup incomplete")
	}

	var totalDeleted int64
	for table, count := range deleted {
		if count > 0 {
			j.log.Debug().
				Str("table", table).
				Int64("deleted", count).
				Msg("Cleaned up expired cache entries")
			totalDeleted += count
		}
	}

	if totalDeleted > 0 {
		j.log.Info().
			Int64("total_deleted", totalDeleted).
			Msg("Cache cleanup completed")
	}

	if j.entryLimit > 0 {
		j.checkEntryLimit(&report)
	}

	return report, err
}

// checkEntryLimit flags tables still holding more live entries than the limit.
// Those are keyed by inputs that rarely repeat, such as ad hoc windows.
func (j *CleanupJob) checkEntryLimit(report *CleanupReport) {
	counts, err := j.repo.Counts()
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to count cache entries")
		return
	}
	report.Remaining = counts

	for _, table := range AllTables {
		n, ok := counts[table]
		if !ok || n <= j.entryLimit {
			continue
		}
		report.OverLimit = append(report.OverLimit, table)
		j.log.Warn().
			Str("table", table).
			Int64("entries", n).
			Int64("limit", j.entryLimit).
			Msg("Cache table above entry limit after cleanup")
	}
}

// Name returns the job name for scheduling and logging.
func (j *CleanupJob) Name() string {
	return "cache_cleanup"
}
