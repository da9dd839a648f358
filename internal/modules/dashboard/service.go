// Package dashboard serves the market dashboard: windowed overviews of the
// historical dataset, forecasts merged with recent history, and stored
// prediction details. Each consumer owns a View holding its fetch controllers.
package dashboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aristath/gridlens/internal/aggregate"
	"github.com/aristath/gridlens/internal/clients/marketapi"
	"github.com/aristath/gridlens/internal/domain"
	"github.com/aristath/gridlens/internal/fetch"
	"github.com/aristath/gridlens/internal/reconcile"
	"github.com/rs/zerolog"
)

// DateLayout is the calendar date format used for windows and prediction dates
const DateLayout = "2006-01-02"

var (
	// ErrSuperseded is returned when a newer request replaced the one awaited
	ErrSuperseded = errors.New("request superseded by a newer one")
	// ErrNoData is returned when a controller holds no data
	ErrNoData = errors.New("no data loaded")
)

// MarketAPI is the subset of the market API client the dashboard reads from
type MarketAPI interface {
	Historical(ctx context.Context, q marketapi.HistoricalQuery) (*marketapi.HistoricalResponse, error)
	Forecast(ctx context.Context, q marketapi.ForecastQuery) (*marketapi.ForecastResponse, error)
	LatestDate(ctx context.Context) (*marketapi.LatestDateInfo, error)
	PredictionDetail(ctx context.Context, id string) (*marketapi.PredictionDetail, error)
	PredictionHistory(ctx context.Context, f marketapi.PredictionHistoryFilters) (*marketapi.PredictionHistoryResponse, error)
	PredictionHistoryStats(ctx context.Context) (*marketapi.PredictionHistoryStats, error)
}

// Settings configures window sizes and fallbacks
type Settings struct {
	FallbackDate        string
	HistoryDays         int
	ForecastHistoryDays int
	HistoricalTail      int
	Location            *time.Location
	MaxViews            int // Registered views kept before the least recently used is dropped
}

func (s Settings) withDefaults() Settings {
	if s.FallbackDate == "" {
		s.FallbackDate = "2025-03-30"
	}
	if s.HistoryDays <= 0 {
		s.HistoryDays = 7
	}
	if s.ForecastHistoryDays <= 0 {
		s.ForecastHistoryDays = 3
	}
	if s.Location == nil {
		s.Location = time.UTC
	}
	if s.MaxViews <= 0 {
		s.MaxViews = 1000
	}
	return s
}

// loaders turn descriptor keys back into market API calls. Every view builds
// its controllers on the same set.
type loaders struct {
	historical fetch.Loader[marketapi.HistoricalResponse]
	forecast   fetch.Loader[marketapi.ForecastResponse]
	detail     fetch.Loader[marketapi.PredictionDetail]
	history    fetch.Loader[marketapi.PredictionHistoryResponse]
	stats      fetch.Loader[marketapi.PredictionHistoryStats]
}

func newLoaders(api MarketAPI) loaders {
	return loaders{
		historical: fetch.LoaderFunc[marketapi.HistoricalResponse](func(ctx context.Context, d fetch.Descriptor) (marketapi.HistoricalResponse, error) {
			q, err := marketapi.ParseHistoricalQuery(d.Key)
			if err != nil {
				return marketapi.HistoricalResponse{}, domain.NewParseError(d.Key, err)
			}
			return deref(api.Historical(ctx, q))
		}),
		forecast: fetch.LoaderFunc[marketapi.ForecastResponse](func(ctx context.Context, d fetch.Descriptor) (marketapi.ForecastResponse, error) {
			q, err := marketapi.ParseForecastQuery(d.Key)
			if err != nil {
				return marketapi.ForecastResponse{}, domain.NewParseError(d.Key, err)
			}
			return deref(api.Forecast(ctx, q))
		}),
		detail: fetch.LoaderFunc[marketapi.PredictionDetail](func(ctx context.Context, d fetch.Descriptor) (marketapi.PredictionDetail, error) {
			id, err := marketapi.ParsePredictionDetailKey(d.Key)
			if err != nil {
				return marketapi.PredictionDetail{}, domain.NewParseError(d.Key, err)
			}
			return deref(api.PredictionDetail(ctx, id))
		}),
		history: fetch.LoaderFunc[marketapi.PredictionHistoryResponse](func(ctx context.Context, d fetch.Descriptor) (marketapi.PredictionHistoryResponse, error) {
			f, err := marketapi.ParsePredictionHistoryKey(d.Key)
			if err != nil {
				return marketapi.PredictionHistoryResponse{}, domain.NewParseError(d.Key, err)
			}
			return deref(api.PredictionHistory(ctx, f))
		}),
		stats: fetch.LoaderFunc[marketapi.PredictionHistoryStats](func(ctx context.Context, _ fetch.Descriptor) (marketapi.PredictionHistoryStats, error) {
			return deref(api.PredictionHistoryStats(ctx))
		}),
	}
}

// Service provides dashboard operations. The reference date is shared by
// every consumer; everything else lives in a View.
type Service struct {
	settings   Settings
	aggregator *aggregate.Aggregator
	loaders    loaders
	log        zerolog.Logger
	now        func() time.Time

	latest *fetch.Controller[marketapi.LatestDateInfo]

	viewsMu sync.Mutex
	views   map[string]*View
}

// NewService creates a new dashboard service
func NewService(api MarketAPI, settings Settings, log zerolog.Logger) *Service {
	settings = settings.withDefaults()
	log = log.With().Str("service", "dashboard").Logger()

	return &Service{
		settings:   settings,
		aggregator: aggregate.New(nil, aggregate.WithLocation(settings.Location)),
		loaders:    newLoaders(api),
		log:        log,
		now:        time.Now,

		latest: fetch.NewController[marketapi.LatestDateInfo]("latest_date",
			fetch.LoaderFunc[marketapi.LatestDateInfo](func(ctx context.Context, _ fetch.Descriptor) (marketapi.LatestDateInfo, error) {
				return deref(api.LatestDate(ctx))
			}), log),

		views: make(map[string]*View),
	}
}

// Settings returns the effective settings
func (s *Service) Settings() Settings {
	return s.settings
}

func deref[T any](v *T, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, ErrNoData
	}
	return *v, nil
}

// upstreamError reclassifies a failure to shape data received for key as a
// malformed response, so it is not reported as a bad request. Other errors
// pass through.
func upstreamError(key string, err error) error {
	if domain.IsValidation(err) {
		return domain.NewParseError(key, err)
	}
	return err
}

// detached keeps a shared load alive when the caller that triggered it goes away.
// The transport timeout still bounds it.
func detached(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// await waits for sub and returns the data it committed
func await[T any](ctx context.Context, c *fetch.Controller[T], sub *fetch.Subscription) (T, error) {
	var zero T
	if err := sub.Wait(ctx); err != nil {
		return zero, err
	}

	state := c.State()
	if !sub.Committed() || state.Generation != sub.Generation {
		return zero, ErrSuperseded
	}
	if state.Status == fetch.StatusError {
		return zero, state.Err
	}
	if state.Data == nil {
		return zero, ErrNoData
	}
	return *state.Data, nil
}

// ReferenceDate is the most recent date the dataset covers
type ReferenceDate struct {
	Date   string                    `json:"date"`
	Source string                    `json:"source"` // "api" or "fallback"
	Info   *marketapi.LatestDateInfo `json:"info,omitempty"`
	Error  *domain.FetchError        `json:"error,omitempty"`
}

// ReferenceDate resolves the latest available date, falling back to the
// configured date when the API cannot provide one.
func (s *Service) ReferenceDate(ctx context.Context) ReferenceDate {
	d := &fetch.Descriptor{Key: marketapi.PathLatestDate}
	info, err := await(ctx, s.latest, s.latest.Ensure(detached(ctx), d))
	// The refresh job may have re-issued the same read meanwhile
	if errors.Is(err, ErrSuperseded) {
		info, err = await(ctx, s.latest, s.latest.Ensure(detached(ctx), d))
	}
	if err == nil {
		if date, ok := normalizeDate(info.LatestDate); ok {
			return ReferenceDate{Date: date, Source: "api", Info: &info}
		}
		err = domain.NewParseError(marketapi.PathLatestDate, errors.New("latest_date is not a date: "+info.LatestDate))
	}

	s.log.Warn().
		Err(err).
		Str("fallback_date", s.settings.FallbackDate).
		Msg("Latest date unavailable, using fallback")

	ref := ReferenceDate{Date: s.settings.FallbackDate, Source: "fallback"}
	var fe *domain.FetchError
	if errors.As(err, &fe) {
		ref.Error = fe
	}
	return ref
}

// normalizeDate accepts a date or timestamp and returns its calendar date
func normalizeDate(s string) (string, bool) {
	if d, err := time.Parse(DateLayout, s); err == nil {
		return d.Format(DateLayout), true
	}
	t, err := reconcile.ParseTimestamp(s)
	if err != nil {
		return "", false
	}
	return t.Format(DateLayout), true
}

// addDays shifts a calendar date
func addDays(date string, days int) (string, error) {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return "", domain.NewValidationError("date", "%q is not a YYYY-MM-DD date", date)
	}
	return d.AddDate(0, 0, days).Format(DateLayout), nil
}
