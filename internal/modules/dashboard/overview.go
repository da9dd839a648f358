package dashboard

import (
	"context"
	"fmt"
	"math"

	"github.com/aristath/gridlens/internal/aggregate"
	"github.com/aristath/gridlens/internal/clients/marketapi"
	"github.com/aristath/gridlens/internal/domain"
	"github.com/aristath/gridlens/internal/fetch"
	"github.com/aristath/gridlens/internal/reconcile"
)

// maxStatsMetrics is how many selected metrics get a statistics card
const maxStatsMetrics = 3

// OverviewRequest selects the window and metrics of an overview
type OverviewRequest struct {
	EndDate string   // Empty means the reference date
	Days    int      // Zero means Settings.HistoryDays
	Metrics []string // Empty means domain.DefaultSelectedMetrics
	Refresh bool     // Refetch even when the window is already loaded
}

// MetricStatistics is the statistics card of one selected metric
type MetricStatistics struct {
	Key        string                  `json:"key"`
	Statistics domain.SeriesStatistics `json:"statistics"`
}

// CorrelationView is the generation/price scatter and its coefficient
type CorrelationView struct {
	Pairs       []aggregate.CorrelationPair `json:"pairs"`
	Coefficient *float64                    `json:"coefficient"`
}

// Overview is every derived view of one historical window
type Overview struct {
	Window         Window                  `json:"window"`
	Metrics        []string                `json:"metrics"`
	SampleCount    int                     `json:"sample_count"`
	Series         []domain.TimePoint      `json:"series"`
	Statistics     []MetricStatistics      `json:"statistics"`
	EnergyMix      []aggregate.Share       `json:"energy_mix"`
	DailyAverages  []domain.CategoryValue  `json:"daily_averages"`
	RegionalPrices []domain.CategoryValue  `json:"regional_prices"`
	Correlation    CorrelationView         `json:"correlation"`
	Generation     []aggregate.CategoryRow `json:"generation"`
}

// Overview loads the requested window and derives its views
func (v *View) Overview(ctx context.Context, req OverviewRequest) (*Overview, error) {
	s := v.service
	v.touch()

	metrics := req.Metrics
	if len(metrics) == 0 {
		metrics = domain.DefaultSelectedMetrics
	}
	for _, m := range metrics {
		if !domain.KnownIndicators[m] {
			return nil, domain.NewValidationError("metrics", "unknown indicator %q", m)
		}
	}

	days := req.Days
	if days == 0 {
		days = s.settings.HistoryDays
	}

	ref := s.ReferenceDate(ctx)
	endDate := req.EndDate
	if endDate == "" {
		endDate = ref.Date
	}

	window, err := NewWindow(endDate, days, ref.Date)
	if err != nil {
		return nil, err
	}

	d := &fetch.Descriptor{Key: marketapi.HistoricalQuery{Days: days, EndDate: endDate}.Key()}
	var sub *fetch.Subscription
	if req.Refresh {
		sub = v.overview.Issue(detached(ctx), d)
	} else {
		sub = v.overview.Ensure(detached(ctx), d)
	}

	data, err := await(ctx, v.overview, sub)
	if err != nil {
		return nil, err
	}

	overview, err := s.buildOverview(data.Data, metrics)
	if err != nil {
		return nil, upstreamError(d.Key, err)
	}
	overview.Window = window
	return overview, nil
}

func (s *Service) buildOverview(samples []domain.RawSample, metrics []string) (*Overview, error) {
	series, err := reconcile.Reconcile(reconcile.Input{
		Historical:        samples,
		Metrics:           metrics,
		IncludeHistorical: true,
		Location:          s.settings.Location,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build series: %w", err)
	}

	statsMetrics := metrics
	if len(statsMetrics) > maxStatsMetrics {
		statsMetrics = statsMetrics[:maxStatsMetrics]
	}
	stats := make([]MetricStatistics, 0, len(statsMetrics))
	for _, m := range statsMetrics {
		stats = append(stats, MetricStatistics{Key: m, Statistics: aggregate.ComputeStatistics(samples, m)})
	}

	totals, err := s.aggregator.TotalGroups(samples, domain.EnergyGroups)
	if err != nil {
		return nil, err
	}
	averages, err := s.aggregator.AggregateGroups(samples, domain.EnergyGroups)
	if err != nil {
		return nil, err
	}
	regional, err := s.aggregator.AggregateGroups(samples, domain.RegionalPriceGroups)
	if err != nil {
		return nil, err
	}
	pairs, err := s.aggregator.ComputeCorrelationPairs(samples, domain.EnergyGroups, domain.IndicatorSpotSpain)
	if err != nil {
		return nil, err
	}
	generation, err := s.aggregator.CategorySeries(samples, domain.EnergyGroups)
	if err != nil {
		return nil, err
	}

	correlation := CorrelationView{Pairs: pairs}
	if r := aggregate.Correlation(pairs); !math.IsNaN(r) {
		correlation.Coefficient = &r
	}

	return &Overview{
		Metrics:        metrics,
		SampleCount:    len(samples),
		Series:         series.Points,
		Statistics:     stats,
		EnergyMix:      aggregate.ComputeShareOfTotal(totals),
		DailyAverages:  averages.Categories,
		RegionalPrices: regional.Categories,
		Correlation:    correlation,
		Generation:     generation,
	}, nil
}
