package dashboard

import (
	"context"
	"sort"
	"time"

	"github.com/aristath/gridlens/internal/clients/marketapi"
	"github.com/aristath/gridlens/internal/domain"
	"github.com/aristath/gridlens/internal/fetch"
)

// History list limits
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// Stored prediction payload shapes
const (
	FormatMultiLabel = "multi_label"
	FormatLegacyList = "legacy_list"
	FormatUnknown    = "unknown"
)

// PredictionHistoryRequest filters the stored prediction list
type PredictionHistoryRequest struct {
	marketapi.PredictionHistoryFilters
	Refresh bool // Refetch even when these filters are already loaded
}

// PredictionSummary is one row of the stored prediction list
type PredictionSummary struct {
	ID             int      `json:"id"`
	ModelUsed      string   `json:"model_used"`
	HoursAhead     int      `json:"hours_ahead"`
	InputHours     int      `json:"input_hours"`
	PredictionDate string   `json:"prediction_date"`
	CreatedAt      string   `json:"created_at"`
	Error          *string  `json:"error,omitempty"`
	Format         string   `json:"format"`
	Variables      []string `json:"variables"`
	Values         int      `json:"values"`
}

// PredictionHistoryView is a filtered page of stored predictions
type PredictionHistoryView struct {
	Filters       marketapi.PredictionHistoryFilters `json:"filters"`
	Count         int                                `json:"count"`
	ReturnedCount int                                `json:"returned_count"`
	Results       []PredictionSummary                `json:"results"`
}

func normalizeHistoryFilters(f marketapi.PredictionHistoryFilters) (marketapi.PredictionHistoryFilters, error) {
	if f.ModelUsed != "" {
		known := false
		for _, m := range Models {
			if m == f.ModelUsed {
				known = true
				break
			}
		}
		if !known {
			return f, domain.NewValidationError("model_used", "unknown model %q", f.ModelUsed)
		}
	}

	dates := []struct{ field, value string }{
		{"date_from", f.DateFrom},
		{"date_to", f.DateTo},
		{"prediction_date", f.PredictionDate},
	}
	for _, d := range dates {
		if d.value == "" {
			continue
		}
		if _, err := time.Parse(DateLayout, d.value); err != nil {
			return f, domain.NewValidationError(d.field, "%q is not a YYYY-MM-DD date", d.value)
		}
	}
	// Layout dates compare chronologically as strings
	if f.DateFrom != "" && f.DateTo != "" && f.DateFrom > f.DateTo {
		return f, domain.NewValidationError("date_from", "%s is after date_to %s", f.DateFrom, f.DateTo)
	}

	if f.HoursAhead < 0 {
		return f, domain.NewValidationError("hours_ahead", "must be positive")
	}

	if f.Limit == 0 {
		f.Limit = DefaultHistoryLimit
	}
	if f.Limit < 0 || f.Limit > MaxHistoryLimit {
		return f, domain.NewValidationError("limit", "must be between 1 and %d", MaxHistoryLimit)
	}
	return f, nil
}

// PredictionHistory lists stored predictions. The filters are the request
// descriptor: changing them re-issues the read and supersedes the previous
// list of this view, equal filters reuse the loaded list.
func (v *View) PredictionHistory(ctx context.Context, req PredictionHistoryRequest) (*PredictionHistoryView, error) {
	v.touch()

	filters, err := normalizeHistoryFilters(req.PredictionHistoryFilters)
	if err != nil {
		return nil, err
	}

	d := &fetch.Descriptor{Key: filters.Key()}
	var sub *fetch.Subscription
	if req.Refresh {
		sub = v.history.Issue(detached(ctx), d)
	} else {
		sub = v.history.Ensure(detached(ctx), d)
	}

	resp, err := await(ctx, v.history, sub)
	if err != nil {
		return nil, err
	}

	view := &PredictionHistoryView{
		Filters:       filters,
		Count:         resp.Count,
		ReturnedCount: resp.ReturnedCount,
		Results:       make([]PredictionSummary, 0, len(resp.Results)),
	}
	for _, p := range resp.Results {
		view.Results = append(view.Results, summarizePrediction(p))
	}
	return view, nil
}

// PredictionHistoryState reports the lifecycle of the history list
func (v *View) PredictionHistoryState() fetch.State[marketapi.PredictionHistoryResponse] {
	return v.history.State()
}

// PredictionHistoryStats loads the aggregate figures of the stored predictions
func (v *View) PredictionHistoryStats(ctx context.Context, refresh bool) (*marketapi.PredictionHistoryStats, error) {
	v.touch()

	d := &fetch.Descriptor{Key: marketapi.PathPredictionStats}
	var sub *fetch.Subscription
	if refresh {
		sub = v.stats.Issue(detached(ctx), d)
	} else {
		sub = v.stats.Ensure(detached(ctx), d)
	}

	stats, err := await(ctx, v.stats, sub)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func summarizePrediction(p marketapi.PredictionDetail) PredictionSummary {
	s := PredictionSummary{
		ID:             p.ID,
		ModelUsed:      p.ModelUsed,
		HoursAhead:     p.HoursAhead,
		InputHours:     p.InputHours,
		PredictionDate: p.PredictionDate,
		CreatedAt:      p.CreatedAt,
		Error:          p.Error,
		Format:         FormatUnknown,
		Variables:      []string{},
	}

	switch {
	case len(p.Predictions.Series) > 0:
		s.Format = FormatMultiLabel
		for k, values := range p.Predictions.Series {
			s.Variables = append(s.Variables, k)
			if len(values) > s.Values {
				s.Values = len(values)
			}
		}
		sort.Strings(s.Variables)
	case len(p.Predictions.Rows) > 0:
		s.Format = FormatLegacyList
		s.Values = len(p.Predictions.Rows)
	case len(p.Predictions.Flat) > 0:
		s.Format = FormatLegacyList
		s.Values = len(p.Predictions.Flat)
	}
	return s
}
