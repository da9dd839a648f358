package dashboard

import (
	"context"
	"time"

	"github.com/aristath/gridlens/internal/clients/marketapi"
	"github.com/aristath/gridlens/internal/fetch"
	"github.com/rs/zerolog"
)

// ReferenceDateJob refetches the latest available date so windows and
// forecasts default to fresh data.
type ReferenceDateJob struct {
	service *Service
	timeout time.Duration
	log     zerolog.Logger
}

// NewReferenceDateJob creates a new reference date refresh job
func NewReferenceDateJob(service *Service, timeout time.Duration, log zerolog.Logger) *ReferenceDateJob {
	return &ReferenceDateJob{
		service: service,
		timeout: timeout,
		log:     log.With().Str("job", "reference_date_refresh").Logger(),
	}
}

// Name returns the job name for scheduling and logging
func (j *ReferenceDateJob) Name() string {
	return "reference_date_refresh"
}

// Run refetches the latest date
func (j *ReferenceDateJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	latest := j.service.latest
	sub := latest.Issue(ctx, &fetch.Descriptor{Key: marketapi.PathLatestDate})
	info, err := await(ctx, latest, sub)
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to refresh reference date")
		return err
	}

	j.log.Debug().Str("latest_date", info.LatestDate).Msg("Reference date refreshed")
	return nil
}

// ViewPruneJob drops dashboard views that have been idle too long
type ViewPruneJob struct {
	service *Service
	maxIdle time.Duration
	log     zerolog.Logger
}

// NewViewPruneJob creates a new idle view pruning job
func NewViewPruneJob(service *Service, maxIdle time.Duration, log zerolog.Logger) *ViewPruneJob {
	return &ViewPruneJob{
		service: service,
		maxIdle: maxIdle,
		log:     log.With().Str("job", "view_prune").Logger(),
	}
}

// Name returns the job name for scheduling and logging
func (j *ViewPruneJob) Name() string {
	return "view_prune"
}

// Run drops idle views
func (j *ViewPruneJob) Run() error {
	pruned := j.service.PruneViews(j.maxIdle)
	if len(pruned) > 0 {
		j.log.Info().
			Int("pruned", len(pruned)).
			Int("remaining", j.service.ViewCount()).
			Msg("Pruned idle dashboard views")
	}
	return nil
}
