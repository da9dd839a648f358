package aggregate

import (
	"math"
	"time"

	"github.com/aristath/gridlens/internal/domain"
	"github.com/aristath/gridlens/internal/reconcile"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

func emptyStatistics() domain.SeriesStatistics {
	nan := math.NaN()
	return domain.SeriesStatistics{Min: nan, Max: nan, Avg: nan, Latest: nan}
}

func summarize(values []float64, latest float64) domain.SeriesStatistics {
	if len(values) == 0 {
		return emptyStatistics()
	}
	return domain.SeriesStatistics{
		Min:    floats.Min(values),
		Max:    floats.Max(values),
		Avg:    stat.Mean(values, nil),
		Latest: latest,
		Count:  len(values),
	}
}

// ComputeStatistics summarizes the non-absent values of key. Latest is the
// value of the chronologically last sample that has one; samples with an
// unparseable datetime keep their slice order.
func ComputeStatistics(samples []domain.RawSample, key string) domain.SeriesStatistics {
	values := make([]float64, 0, len(samples))

	var latest float64
	var latestAt time.Time
	haveLatest := false

	for _, s := range samples {
		v, ok := s.Value(key)
		if !ok || math.IsNaN(v) {
			continue
		}
		values = append(values, v)

		at, err := reconcile.ParseTimestamp(s.Datetime)
		if !haveLatest || err != nil || !at.Before(latestAt) {
			latest = v
			if err == nil {
				latestAt = at
			}
			haveLatest = true
		}
	}

	return summarize(values, latest)
}

// StatisticsFromPoints summarizes key over a reconciled sequence. An empty
// provenance includes every point.
func StatisticsFromPoints(points []domain.TimePoint, key string, provenance domain.Provenance) domain.SeriesStatistics {
	values := make([]float64, 0, len(points))
	var latest float64

	// Points are already in chronological order
	for _, p := range points {
		if provenance != "" && p.Provenance != provenance {
			continue
		}
		v, ok := p.Value(key)
		if !ok || math.IsNaN(v) {
			continue
		}
		values = append(values, v)
		latest = v
	}

	return summarize(values, latest)
}

// ComputeStatisticsFor summarizes several metrics at once, keyed by metric
func ComputeStatisticsFor(samples []domain.RawSample, keys []string) map[string]domain.SeriesStatistics {
	out := make(map[string]domain.SeriesStatistics, len(keys))
	for _, k := range keys {
		out[k] = ComputeStatistics(samples, k)
	}
	return out
}
