package dashboard

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/aristath/gridlens/internal/aggregate"
	"github.com/aristath/gridlens/internal/clients/marketapi"
	"github.com/aristath/gridlens/internal/domain"
	"github.com/aristath/gridlens/internal/fetch"
	"github.com/aristath/gridlens/internal/reconcile"
	"golang.org/x/sync/errgroup"
)

// Forecast defaults
const (
	DefaultModel      = "lstm"
	DefaultHoursAhead = 21
	DefaultInputHours = 24
)

// Models lists the model names the prediction API serves
var Models = []string{"linear", "dense", "conv", "lstm"}

// ForecastRequest configures a forecast
type ForecastRequest struct {
	ModelName         string   `json:"model_name"`
	HoursAhead        int      `json:"hours_ahead"`
	InputHours        int      `json:"input_hours"`
	PredictionDate    string   `json:"prediction_date"`
	Labels            []string `json:"labels"`
	IncludeHistorical *bool    `json:"include_historical,omitempty"`
}

// ForecastResult is a forecast merged with the history that preceded it
type ForecastResult struct {
	Request         ForecastRequest                    `json:"request"`
	ModelUsed       string                             `json:"model_used"`
	InputData       marketapi.InputData                `json:"input_data"`
	Chart           reconcile.Result                   `json:"chart"`
	Statistics      map[string]domain.SeriesStatistics `json:"statistics"`
	HistoricalError *domain.FetchError                 `json:"historical_error,omitempty"`
}

// ForecastStatus is the lifecycle of the forecast view, pushed to watchers
type ForecastStatus struct {
	Status     fetch.Status       `json:"status"`
	Error      *domain.FetchError `json:"error,omitempty"`
	Generation uint64             `json:"generation"`
	ModelUsed  string             `json:"model_used,omitempty"`
	Steps      int                `json:"steps"`
}

func forecastStatus(state fetch.State[marketapi.ForecastResponse]) ForecastStatus {
	st := ForecastStatus{Status: state.Status, Error: state.Err, Generation: state.Generation}
	if state.Data != nil {
		st.ModelUsed = state.Data.ModelUsed
		if byMetric, err := state.Data.Predictions.ByMetric(); err == nil {
			for _, v := range byMetric {
				if len(v) > st.Steps {
					st.Steps = len(v)
				}
			}
		}
	}
	return st
}

// ForecastStatus returns the current forecast lifecycle
func (v *View) ForecastStatus() ForecastStatus {
	return forecastStatus(v.forecast.State())
}

// WatchForecast calls fn with the forecast status on each transition, never
// with an older status after a newer one. The view is not pruned while
// watched. The returned func stops it.
func (v *View) WatchForecast(fn func(ForecastStatus)) func() {
	v.watch(1)
	stop := v.forecast.OnChange(func(state fetch.State[marketapi.ForecastResponse]) {
		fn(forecastStatus(state))
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			v.watch(-1)
		})
	}
}

func (s *Service) normalizeForecastRequest(ctx context.Context, req ForecastRequest) (ForecastRequest, error) {
	if req.ModelName == "" {
		req.ModelName = DefaultModel
	}
	known := false
	for _, m := range Models {
		if m == req.ModelName {
			known = true
			break
		}
	}
	if !known {
		return req, domain.NewValidationError("model_name", "unknown model %q", req.ModelName)
	}

	if req.HoursAhead == 0 {
		req.HoursAhead = DefaultHoursAhead
	}
	if req.InputHours == 0 {
		req.InputHours = DefaultInputHours
	}
	if req.HoursAhead < 0 || req.InputHours < 0 {
		return req, domain.NewValidationError("hours", "hours_ahead and input_hours must be positive")
	}

	if len(req.Labels) == 0 {
		return req, domain.NewValidationError("labels", "select at least one variable to predict")
	}
	for _, l := range req.Labels {
		if !domain.KnownIndicators[l] {
			return req, domain.NewValidationError("labels", "unknown indicator %q", l)
		}
	}

	if req.PredictionDate == "" {
		req.PredictionDate = s.ReferenceDate(ctx).Date
	}
	if _, err := time.Parse(DateLayout, req.PredictionDate); err != nil {
		return req, domain.NewValidationError("prediction_date", "%q is not a YYYY-MM-DD date", req.PredictionDate)
	}

	if req.IncludeHistorical == nil {
		include := true
		req.IncludeHistorical = &include
	}
	return req, nil
}

// Forecast requests a prediction and, concurrently, the history ending the
// day after the prediction date, then merges both into one chart.
func (v *View) Forecast(ctx context.Context, req ForecastRequest) (*ForecastResult, error) {
	s := v.service
	v.touch()

	req, err := s.normalizeForecastRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	endDate, err := addDays(req.PredictionDate, 1)
	if err != nil {
		return nil, err
	}

	historyKey := marketapi.HistoricalQuery{
		Days:    s.settings.ForecastHistoryDays,
		Columns: domain.ForecastColumns,
		EndDate: endDate,
	}.Key()
	forecastKey := marketapi.ForecastQuery{
		ModelName:      req.ModelName,
		HoursAhead:     req.HoursAhead,
		InputHours:     req.InputHours,
		PredictionDate: req.PredictionDate,
	}.Key()

	var (
		history    marketapi.HistoricalResponse
		historyErr error
		prediction marketapi.ForecastResponse
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sub := v.forecast.Issue(detached(ctx), &fetch.Descriptor{Key: forecastKey})
		var err error
		prediction, err = await(gctx, v.forecast, sub)
		return err
	})
	g.Go(func() error {
		sub := v.forecastHistory.Issue(detached(ctx), &fetch.Descriptor{Key: historyKey})
		// History only decorates the chart; its failure is reported, not fatal
		history, historyErr = await(gctx, v.forecastHistory, sub)
		if errors.Is(historyErr, context.Canceled) && ctx.Err() == nil {
			historyErr = nil
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result, err := s.buildForecast(req, prediction, history.Data)
	if err != nil {
		return nil, upstreamError(forecastKey, err)
	}

	if historyErr != nil {
		s.log.Warn().Err(historyErr).Str("key", historyKey).Msg("Forecast history unavailable")
		var fe *domain.FetchError
		if errors.As(historyErr, &fe) {
			result.HistoricalError = fe
		} else {
			result.HistoricalError = domain.AsFetchError(historyErr)
		}
	}

	return result, nil
}

func (s *Service) buildForecast(req ForecastRequest, prediction marketapi.ForecastResponse, history []domain.RawSample) (*ForecastResult, error) {
	byMetric, err := prediction.Predictions.ByMetric()
	if err != nil {
		return nil, domain.NewValidationError("predictions", "%v", err)
	}

	values := make(map[string][]float64, len(req.Labels))
	for _, l := range req.Labels {
		if v, ok := byMetric[l]; ok {
			values[l] = v
		}
	}
	if len(values) == 0 && len(byMetric) > 0 {
		s.log.Warn().
			Strs("labels", req.Labels).
			Strs("predicted", sortedMetricKeys(byMetric)).
			Msg("Forecast carries none of the requested labels")
	}

	in := reconcile.Input{
		Historical:         history,
		Metrics:            req.Labels,
		IncludeHistorical:  *req.IncludeHistorical,
		HistoricalTail:     s.settings.HistoricalTail,
		ForecastValues:     values,
		ForecastTimestamps: prediction.Timestamps,
		Location:           s.settings.Location,
	}
	if len(prediction.Timestamps) == 0 {
		if base, err := reconcile.ParseTimestamp(prediction.InputData.EndTime); err == nil {
			in.BaseTime = base
		}
	}

	chart, err := reconcile.Reconcile(in)
	if err != nil {
		return nil, err
	}

	stats := make(map[string]domain.SeriesStatistics, len(values))
	for metric := range values {
		stats[metric] = aggregate.StatisticsFromPoints(chart.Points, metric, domain.ProvenanceForecast)
	}

	return &ForecastResult{
		Request:    req,
		ModelUsed:  prediction.ModelUsed,
		InputData:  prediction.InputData,
		Chart:      chart,
		Statistics: stats,
	}, nil
}

func sortedMetricKeys(m map[string][]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
