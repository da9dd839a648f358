// Package domain provides core domain models and types.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Provenance tags where the values of a TimePoint came from
type Provenance string

const (
	// ProvenanceHistorical marks observed values
	ProvenanceHistorical Provenance = "historical"
	// ProvenanceForecast marks points carrying model output
	ProvenanceForecast Provenance = "forecast"
)

// Float returns a pointer to v. Absent values are nil pointers.
func Float(v float64) *float64 {
	return &v
}

// RawSample is one timestamped record as returned by the market data API.
// A nil value (or a missing key) means the indicator was not observed.
type RawSample struct {
	Datetime string
	Values   map[string]*float64
}

// NewRawSample builds a sample from plain values. NaN entries are stored as absent.
func NewRawSample(datetime string, values map[string]float64) RawSample {
	s := RawSample{Datetime: datetime, Values: make(map[string]*float64, len(values))}
	for k, v := range values {
		if math.IsNaN(v) {
			s.Values[k] = nil
			continue
		}
		s.Values[k] = Float(v)
	}
	return s
}

// Value returns the indicator value and whether it was present
func (s RawSample) Value(key string) (float64, bool) {
	v, ok := s.Values[key]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}

// ValueOrZero returns the indicator value, treating absence as zero
func (s RawSample) ValueOrZero(key string) float64 {
	v, _ := s.Value(key)
	return v
}

// UnmarshalJSON decodes the flat API record: {"datetime": "...", "<indicator>": number|null}
func (s *RawSample) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	s.Values = make(map[string]*float64, len(fields))
	for key, raw := range fields {
		if key == "datetime" {
			if err := json.Unmarshal(raw, &s.Datetime); err != nil {
				return fmt.Errorf("datetime: %w", err)
			}
			continue
		}

		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			s.Values[key] = nil
			continue
		}

		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("indicator %s: %w", key, err)
		}
		s.Values[key] = Float(v)
	}

	if s.Datetime == "" {
		return fmt.Errorf("sample without datetime")
	}
	return nil
}

// MarshalJSON encodes the sample back into the flat API shape
func (s RawSample) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(s.Values)+1)
	for k, v := range s.Values {
		if v == nil {
			out[k] = nil
			continue
		}
		out[k] = *v
	}
	out["datetime"] = s.Datetime
	return json.Marshal(out)
}

// TimePoint is a reconciled, display-ready record. There is at most one
// TimePoint per timestamp in a reconciled sequence.
type TimePoint struct {
	Timestamp   string              `json:"timestamp"`
	DisplayTime string              `json:"display_time"`
	Values      map[string]*float64 `json:"values"`
	Provenance  Provenance          `json:"provenance"`
}

// Value returns the metric value and whether it was present
func (p TimePoint) Value(key string) (float64, bool) {
	v, ok := p.Values[key]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}

// MetricGroup is a named category whose value is the sum of its indicator keys
type MetricGroup struct {
	Name string   `json:"name"`
	Keys []string `json:"keys"`
}

// CategoryValue is one aggregated category
type CategoryValue struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// AggregationResult holds aggregated categories in group definition order.
// Categories whose value is <= 0 are never present.
type AggregationResult struct {
	Categories []CategoryValue `json:"categories"`
}

// Map returns the result keyed by category name
func (r AggregationResult) Map() map[string]float64 {
	m := make(map[string]float64, len(r.Categories))
	for _, c := range r.Categories {
		m[c.Name] = c.Value
	}
	return m
}

// Get returns the value of a category and whether it was included
func (r AggregationResult) Get(name string) (float64, bool) {
	for _, c := range r.Categories {
		if c.Name == name {
			return c.Value, true
		}
	}
	return 0, false
}

// Names returns the included category names sorted alphabetically
func (r AggregationResult) Names() []string {
	names := make([]string, 0, len(r.Categories))
	for _, c := range r.Categories {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

// SeriesStatistics summarizes the non-absent values of one metric.
// With Count == 0 every other field is NaN.
type SeriesStatistics struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Avg    float64 `json:"avg"`
	Latest float64 `json:"latest"`
	Count  int     `json:"count"`
}

// Empty reports whether no values contributed to the statistics
func (s SeriesStatistics) Empty() bool {
	return s.Count == 0
}

// MarshalJSON writes NaN fields as null, which encoding/json cannot represent otherwise
func (s SeriesStatistics) MarshalJSON() ([]byte, error) {
	nullable := func(v float64) *float64 {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		return Float(v)
	}
	return json.Marshal(struct {
		Min    *float64 `json:"min"`
		Max    *float64 `json:"max"`
		Avg    *float64 `json:"avg"`
		Latest *float64 `json:"latest"`
		Count  int      `json:"count"`
	}{
		Min:    nullable(s.Min),
		Max:    nullable(s.Max),
		Avg:    nullable(s.Avg),
		Latest: nullable(s.Latest),
		Count:  s.Count,
	})
}
