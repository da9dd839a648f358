package dashboard

import (
	"sort"
	"time"

	"github.com/aristath/gridlens/internal/clients/marketapi"
	"github.com/aristath/gridlens/internal/fetch"
	"github.com/rs/zerolog"
)

// View is one consumer of the dashboard, typically a browser session.
// It owns its fetch controllers, so a newer request only supersedes older
// requests of the same view.
type View struct {
	id      string
	service *Service
	log     zerolog.Logger

	overview        *fetch.Controller[marketapi.HistoricalResponse]
	forecastHistory *fetch.Controller[marketapi.HistoricalResponse]
	forecast        *fetch.Controller[marketapi.ForecastResponse]
	detail          *fetch.Controller[marketapi.PredictionDetail]
	history         *fetch.Controller[marketapi.PredictionHistoryResponse]
	stats           *fetch.Controller[marketapi.PredictionHistoryStats]

	// Guarded by service.viewsMu
	lastUsed time.Time
	watchers int
}

func (s *Service) newView(id string) *View {
	log := s.log.With().Str("view", id).Logger()
	l := s.loaders
	return &View{
		id:              id,
		service:         s,
		log:             log,
		overview:        fetch.NewController[marketapi.HistoricalResponse]("overview", l.historical, log),
		forecastHistory: fetch.NewController[marketapi.HistoricalResponse]("forecast_history", l.historical, log),
		forecast:        fetch.NewController[marketapi.ForecastResponse]("forecast", l.forecast, log),
		detail:          fetch.NewController[marketapi.PredictionDetail]("prediction_detail", l.detail, log),
		history:         fetch.NewController[marketapi.PredictionHistoryResponse]("prediction_history", l.history, log),
		stats:           fetch.NewController[marketapi.PredictionHistoryStats]("prediction_stats", l.stats, log),
		lastUsed:        s.now(),
	}
}

// View returns the view registered under id, creating it on first use.
// An empty id returns a fresh view that is not registered: nothing it loads
// is reused by later calls.
func (s *Service) View(id string) *View {
	if id == "" {
		return s.newView("")
	}

	s.viewsMu.Lock()
	defer s.viewsMu.Unlock()

	if v, ok := s.views[id]; ok {
		v.lastUsed = s.now()
		return v
	}

	if len(s.views) >= s.settings.MaxViews {
		s.evictLocked()
	}

	v := s.newView(id)
	s.views[id] = v
	s.log.Debug().Str("view", id).Int("views", len(s.views)).Msg("View opened")
	return v
}

// evictLocked drops the least recently used view nobody is watching
func (s *Service) evictLocked() {
	var oldest *View
	for _, v := range s.views {
		if v.watchers > 0 {
			continue
		}
		if oldest == nil || v.lastUsed.Before(oldest.lastUsed) {
			oldest = v
		}
	}
	if oldest == nil {
		return
	}
	delete(s.views, oldest.id)
	s.log.Debug().Str("view", oldest.id).Msg("View evicted")
}

// CloseView drops a registered view. Requests still awaiting it complete
// normally.
func (s *Service) CloseView(id string) bool {
	s.viewsMu.Lock()
	defer s.viewsMu.Unlock()

	if _, ok := s.views[id]; !ok {
		return false
	}
	delete(s.views, id)
	return true
}

// PruneViews drops views unused for longer than maxIdle. Views with an open
// stream are kept. Returns the ids that were dropped.
func (s *Service) PruneViews(maxIdle time.Duration) []string {
	cutoff := s.now().Add(-maxIdle)

	s.viewsMu.Lock()
	defer s.viewsMu.Unlock()

	var pruned []string
	for id, v := range s.views {
		if v.watchers == 0 && v.lastUsed.Before(cutoff) {
			delete(s.views, id)
			pruned = append(pruned, id)
		}
	}
	sort.Strings(pruned)
	return pruned
}

// ViewCount returns the number of registered views
func (s *Service) ViewCount() int {
	s.viewsMu.Lock()
	defer s.viewsMu.Unlock()
	return len(s.views)
}

// ID returns the view id, empty for unregistered views
func (v *View) ID() string {
	return v.id
}

func (v *View) touch() {
	v.service.viewsMu.Lock()
	v.lastUsed = v.service.now()
	v.service.viewsMu.Unlock()
}

func (v *View) watch(delta int) {
	v.service.viewsMu.Lock()
	v.watchers += delta
	v.lastUsed = v.service.now()
	v.service.viewsMu.Unlock()
}
