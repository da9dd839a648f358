// Package aggregate derives category totals, descriptive statistics and
// composition shares from raw market samples.
//
// Group sums count a missing indicator as zero. Per-metric statistics skip
// missing values.
package aggregate

import (
	"math"
	"time"

	"github.com/aristath/gridlens/internal/domain"
)

// Aggregator validates group definitions against an indicator registry
type Aggregator struct {
	known     map[string]bool
	renewable map[string]bool
	loc       *time.Location
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithLocation sets the zone used to derive the hour of a sample
func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) {
		if loc != nil {
			a.loc = loc
		}
	}
}

// WithRenewable sets the group names counted as renewable generation
func WithRenewable(names ...string) Option {
	return func(a *Aggregator) {
		a.renewable = make(map[string]bool, len(names))
		for _, n := range names {
			a.renewable[n] = true
		}
	}
}

// New creates an Aggregator. A nil registry accepts the default indicators.
func New(known map[string]bool, opts ...Option) *Aggregator {
	if known == nil {
		known = domain.KnownIndicators
	}
	a := &Aggregator{known: known, loc: time.UTC}
	WithRenewable(domain.RenewableGroups...)(a)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Default validates against domain.KnownIndicators and reports hours in UTC
var Default = New(nil)

// ValidateGroups fails when a group is empty, repeats a name or references an
// unknown indicator
func (a *Aggregator) ValidateGroups(groups []domain.MetricGroup) error {
	seen := make(map[string]bool, len(groups))
	for _, g := range groups {
		if g.Name == "" {
			return domain.NewValidationError("groups", "group without a name")
		}
		if seen[g.Name] {
			return domain.NewValidationError("groups."+g.Name, "duplicate group name")
		}
		seen[g.Name] = true
		if len(g.Keys) == 0 {
			return domain.NewValidationError("groups."+g.Name, "group has no indicator keys")
		}
		for _, k := range g.Keys {
			if !a.known[k] {
				return domain.NewValidationError("groups."+g.Name, "unknown indicator %q", k)
			}
		}
	}
	return nil
}

// groupValue sums the group's indicators for one sample, absent counting as zero
func groupValue(s domain.RawSample, g domain.MetricGroup) float64 {
	var sum float64
	for _, k := range g.Keys {
		sum += s.ValueOrZero(k)
	}
	return sum
}

// AggregateGroups averages each group's per-sample sum across all samples.
// Categories whose average is <= 0 are left out of the result.
func (a *Aggregator) AggregateGroups(samples []domain.RawSample, groups []domain.MetricGroup) (domain.AggregationResult, error) {
	if err := a.ValidateGroups(groups); err != nil {
		return domain.AggregationResult{}, err
	}

	result := domain.AggregationResult{Categories: []domain.CategoryValue{}}
	if len(samples) == 0 {
		return result, nil
	}

	count := float64(len(samples))
	for _, g := range groups {
		var total float64
		for _, s := range samples {
			total += groupValue(s, g)
		}
		if avg := total / count; avg > 0 {
			result.Categories = append(result.Categories, domain.CategoryValue{Name: g.Name, Value: avg})
		}
	}
	return result, nil
}

// TotalGroups sums each group across all samples, dropping totals <= 0.
// Used for composition views where the absolute energy matters.
func (a *Aggregator) TotalGroups(samples []domain.RawSample, groups []domain.MetricGroup) (domain.AggregationResult, error) {
	if err := a.ValidateGroups(groups); err != nil {
		return domain.AggregationResult{}, err
	}

	result := domain.AggregationResult{Categories: []domain.CategoryValue{}}
	for _, g := range groups {
		var total float64
		for _, s := range samples {
			total += groupValue(s, g)
		}
		if total > 0 {
			result.Categories = append(result.Categories, domain.CategoryValue{Name: g.Name, Value: total})
		}
	}
	return result, nil
}

// Share is one category's percentage of the included total
type Share struct {
	Name       string  `json:"name"`
	Value      float64 `json:"value"`
	Percentage float64 `json:"percentage"`
}

// ComputeShareOfTotal returns value/total*100 rounded to one decimal for each
// included category. Excluded categories never count toward the total.
func ComputeShareOfTotal(result domain.AggregationResult) []Share {
	var total float64
	for _, c := range result.Categories {
		if c.Value > 0 {
			total += c.Value
		}
	}

	shares := []Share{}
	if total <= 0 {
		return shares
	}

	for _, c := range result.Categories {
		if c.Value <= 0 {
			continue
		}
		shares = append(shares, Share{
			Name:       c.Name,
			Value:      c.Value,
			Percentage: roundTo(c.Value/total*100, 1),
		})
	}
	return shares
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// AggregateGroups uses the Default aggregator
func AggregateGroups(samples []domain.RawSample, groups []domain.MetricGroup) (domain.AggregationResult, error) {
	return Default.AggregateGroups(samples, groups)
}

// TotalGroups uses the Default aggregator
func TotalGroups(samples []domain.RawSample, groups []domain.MetricGroup) (domain.AggregationResult, error) {
	return Default.TotalGroups(samples, groups)
}
