// Package scheduler runs background maintenance and refresh jobs on cron schedules.
package scheduler

import (
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ErrUnknownJob is returned when no job is registered under a name
var ErrUnknownJob = errors.New("unknown job")

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// Scheduler manages background jobs
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
	jobs    map[string]Job
}

// New creates a new scheduler. Schedules use the six-field (seconds) format.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		log:     log.With().Str("component", "scheduler").Logger(),
		entries: make(map[string]cron.EntryID),
		jobs:    make(map[string]Job),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job with a cron schedule. Job names must be unique.
// Schedule examples:
//   - "0 */30 * * * *" - Every 30 minutes
//   - "@hourly"        - Every hour
//   - "@every 30s"     - Every 30 seconds
func (s *Scheduler) AddJob(schedule string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[job.Name()]; exists {
		return fmt.Errorf("job %s already registered", job.Name())
	}

	id, err := s.cron.AddFunc(schedule, func() {
		s.run(job)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", schedule, job.Name(), err)
	}
	s.entries[job.Name()] = id
	s.jobs[job.Name()] = job

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// RunNow executes a job immediately (outside schedule)
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return job.Run()
}

// RunByName executes a registered job immediately
func (s *Scheduler) RunByName(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.RunNow(job)
}

// Jobs returns the registered job names
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

func (s *Scheduler) run(job Job) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error().
				Interface("panic", p).
				Str("job", job.Name()).
				Msg("Job panicked")
		}
	}()

	s.log.Debug().Str("job", job.Name()).Msg("Running job")

	if err := job.Run(); err != nil {
		s.log.Error().
			Err(err).
			Str("job", job.Name()).
			Msg("Job failed")
		return
	}

	s.log.Debug().Str("job", job.Name()).Msg("Job completed")
}
