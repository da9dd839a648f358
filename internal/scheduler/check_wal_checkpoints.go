package scheduler

import (
	"github.com/aristath/gridlens/internal/database"
	"github.com/rs/zerolog"
)

// walFrameThreshold is the WAL size, in frames, above which a truncating
// checkpoint is forced
const walFrameThreshold = 1000

// CheckWALCheckpointsJob keeps the cache database WAL from growing unbounded
type CheckWALCheckpointsJob struct {
	log zerolog.Logger
	db  *database.DB
}

// NewCheckWALCheckpointsJob creates a new CheckWALCheckpointsJob
func NewCheckWALCheckpointsJob(db *database.DB, log zerolog.Logger) *CheckWALCheckpointsJob {
	return &CheckWALCheckpointsJob{
		log: log.With().Str("job", "check_wal_checkpoints").Logger(),
		db:  db,
	}
}

// Name returns the job name
func (j *CheckWALCheckpointsJob) Name() string {
	return "check_wal_checkpoints"
}

// Run checks the WAL and truncates it when it is large
func (j *CheckWALCheckpointsJob) Run() error {
	if j.db == nil {
		return nil
	}

	// PRAGMA wal_checkpoint returns: busy, log, checkpointed
	var busy, frames, checkpointed int
	err := j.db.Conn().QueryRow("PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &frames, &checkpointed)
	if err != nil {
		j.log.Warn().
			Err(err).
			Str("database", j.db.Name()).
			Msg("Failed to check WAL checkpoint")
		return err
	}

	if frames <= walFrameThreshold {
		j.log.Debug().
			Str("database", j.db.Name()).
			Int("wal_frames", frames).
			Msg("WAL checkpoint status OK")
		return nil
	}

	j.log.Warn().
		Str("database", j.db.Name()).
		Int("wal_frames", frames).
		Int("checkpointed", checkpointed).
		Msg("WAL file is large, truncating")

	return j.db.WALCheckpoint("TRUNCATE")
}
