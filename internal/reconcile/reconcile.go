// Package reconcile merges an observed series and a forecast series into one
// ordered, provenance-tagged sequence suitable for charting.
package reconcile

import (
	"sort"
	"time"

	"github.com/aristath/gridlens/internal/domain"
)

// DefaultStep is the spacing of synthesized forecast timestamps
const DefaultStep = time.Hour

// Input describes one reconciliation
type Input struct {
	// Historical samples, in any order
	Historical []domain.RawSample
	// Metrics carried from each historical sample. Empty carries every key present.
	Metrics []string
	// IncludeHistorical toggles historical points in the output
	IncludeHistorical bool
	// HistoricalTail keeps only the last N historical samples when > 0
	HistoricalTail int

	// ForecastValues maps metric key to one value per forecast step
	ForecastValues map[string][]float64
	// ForecastTimestamps has one entry per forecast step. When empty, timestamps
	// are synthesized as BaseTime + (i+1)*Step.
	ForecastTimestamps []string
	// BaseTime anchors synthesized timestamps. Zero means the last historical sample.
	BaseTime time.Time
	// Step between synthesized timestamps, DefaultStep when zero
	Step time.Duration

	// Location used for DisplayTime, UTC when nil
	Location *time.Location
}

// Result is the reconciled sequence. ForecastStartIndex is nil when no point
// carries forecast values; a zero index means there is no history before it.
type Result struct {
	Points             []domain.TimePoint `json:"points"`
	ForecastStartIndex *int               `json:"forecast_start_index"`
	ForecastStartTime  *string            `json:"forecast_start_time"`
}

type pointEntry struct {
	at    time.Time
	point *domain.TimePoint
}

// Reconcile merges historical and forecast values into one timestamp-keyed
// sequence. It never returns two points with the same instant.
func Reconcile(in Input) (Result, error) {
	historical, err := parseHistorical(in.Historical)
	if err != nil {
		return Result{}, err
	}

	forecastTimes, err := forecastTimestamps(in, historical)
	if err != nil {
		return Result{}, err
	}

	byInstant := make(map[int64]*pointEntry)

	if in.IncludeHistorical {
		samples := historical
		if in.HistoricalTail > 0 && len(samples) > in.HistoricalTail {
			samples = samples[len(samples)-in.HistoricalTail:]
		}
		for _, hs := range samples {
			entry := pointAt(byInstant, hs.at, domain.ProvenanceHistorical, in.Location)
			copyMetrics(entry.point, hs.sample, in.Metrics)
		}
	}

	for _, key := range sortedKeys(in.ForecastValues) {
		for i, value := range in.ForecastValues[key] {
			at := forecastTimes.at(i)
			entry := pointAt(byInstant, at, domain.ProvenanceForecast, in.Location)
			entry.point.Values[key] = domain.Float(value)
			entry.point.Provenance = domain.ProvenanceForecast
		}
	}

	entries := make([]*pointEntry, 0, len(byInstant))
	for _, e := range byInstant {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].at.Before(entries[j].at)
	})

	result := Result{Points: make([]domain.TimePoint, 0, len(entries))}
	for i, e := range entries {
		result.Points = append(result.Points, *e.point)
		if result.ForecastStartIndex == nil && e.point.Provenance == domain.ProvenanceForecast {
			idx := i
			display := e.point.DisplayTime
			result.ForecastStartIndex = &idx
			result.ForecastStartTime = &display
		}
	}

	return result, nil
}

type historicalSample struct {
	at     time.Time
	sample domain.RawSample
}

// parseHistorical returns the samples sorted chronologically
func parseHistorical(samples []domain.RawSample) ([]historicalSample, error) {
	out := make([]historicalSample, 0, len(samples))
	for i, s := range samples {
		at, err := ParseTimestamp(s.Datetime)
		if err != nil {
			return nil, domain.NewValidationError("historical", "sample %d: %v", i, err)
		}
		out = append(out, historicalSample{at: at, sample: s})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].at.Before(out[j].at)
	})
	return out, nil
}

type timeline struct {
	explicit []time.Time
	base     time.Time
	step     time.Duration
}

func (t timeline) at(i int) time.Time {
	if t.explicit != nil {
		return t.explicit[i]
	}
	return t.base.Add(time.Duration(i+1) * t.step)
}

func forecastTimestamps(in Input, historical []historicalSample) (timeline, error) {
	steps := 0
	for _, values := range in.ForecastValues {
		if len(values) > steps {
			steps = len(values)
		}
	}

	if len(in.ForecastTimestamps) > 0 {
		explicit := make([]time.Time, len(in.ForecastTimestamps))
		for i, ts := range in.ForecastTimestamps {
			at, err := ParseTimestamp(ts)
			if err != nil {
				return timeline{}, domain.NewValidationError("forecast_timestamps", "step %d: %v", i, err)
			}
			explicit[i] = at
		}
		for key, values := range in.ForecastValues {
			if len(values) != len(explicit) {
				return timeline{}, domain.NewValidationError("forecast."+key,
					"%d values for %d timestamps", len(values), len(explicit))
			}
		}
		return timeline{explicit: explicit}, nil
	}

	step := in.Step
	if step <= 0 {
		step = DefaultStep
	}
	base := in.BaseTime
	if base.IsZero() {
		if steps == 0 {
			return timeline{step: step}, nil
		}
		if len(historical) == 0 {
			return timeline{}, domain.NewValidationError("forecast_timestamps",
				"no timestamps, base time or history to anchor %d forecast steps", steps)
		}
		base = historical[len(historical)-1].at
	}
	return timeline{base: base.UTC(), step: step}, nil
}

func pointAt(byInstant map[int64]*pointEntry, at time.Time, provenance domain.Provenance, loc *time.Location) *pointEntry {
	key := at.UnixNano()
	if e, ok := byInstant[key]; ok {
		return e
	}
	e := &pointEntry{
		at: at,
		point: &domain.TimePoint{
			Timestamp:   FormatTimestamp(at),
			DisplayTime: FormatDisplay(at, loc),
			Values:      make(map[string]*float64),
			Provenance:  provenance,
		},
	}
	byInstant[key] = e
	return e
}

// copyMetrics copies requested metrics; missing ones stay nil, never zero
func copyMetrics(p *domain.TimePoint, s domain.RawSample, metrics []string) {
	if len(metrics) == 0 {
		for k, v := range s.Values {
			p.Values[k] = clone(v)
		}
		return
	}
	for _, k := range metrics {
		p.Values[k] = clone(s.Values[k])
	}
}

func clone(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return domain.Float(*v)
}

func sortedKeys(m map[string][]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
