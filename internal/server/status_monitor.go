package server

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/gridlens/internal/database"
	"github.com/aristath/gridlens/internal/modules/dashboard"
	"github.com/rs/zerolog"
)

// statusCheckTimeout bounds one round of checks
const statusCheckTimeout = 10 * time.Second

// StatusMonitor periodically checks the market API and the cache database and
// logs when either changes state
type StatusMonitor struct {
	dashboard *dashboard.Service
	cacheDB   *database.DB
	log       zerolog.Logger

	mu   sync.Mutex
	stop chan struct{}

	// Track previous states
	lastUpstreamSource string
	lastCacheHealthy   *bool
}

// NewStatusMonitor creates a new status monitor
func NewStatusMonitor(dashboardService *dashboard.Service, cacheDB *database.DB, log zerolog.Logger) *StatusMonitor {
	return &StatusMonitor{
		dashboard: dashboardService,
		cacheDB:   cacheDB,
		log:       log.With().Str("component", "status_monitor").Logger(),
	}
}

// Start begins periodic status monitoring
func (m *StatusMonitor) Start(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stop != nil {
		return
	}
	m.stop = make(chan struct{})
	go m.monitor(interval, m.stop)
}

// Stop ends monitoring. It is safe to call more than once.
func (m *StatusMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
}

func (m *StatusMonitor) monitor(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Do initial check
	m.checkStatuses()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.checkStatuses()
		}
	}
}

// checkStatuses checks all monitored statuses and logs changes
func (m *StatusMonitor) checkStatuses() {
	ctx, cancel := context.WithTimeout(context.Background(), statusCheckTimeout)
	defer cancel()

	m.checkUpstream(ctx)
	m.checkCache(ctx)
}

// checkUpstream reports switches between the API reference date and the fallback
func (m *StatusMonitor) checkUpstream(ctx context.Context) {
	if m.dashboard == nil {
		return
	}

	ref := m.dashboard.ReferenceDate(ctx)
	if ref.Source == m.lastUpstreamSource {
		return
	}

	if ref.Source == "api" {
		m.log.Info().Str("reference_date", ref.Date).Msg("Market API reachable")
	} else {
		event := m.log.Warn().Str("reference_date", ref.Date)
		if ref.Error != nil {
			event = event.Str("error", ref.Error.Message)
		}
		event.Msg("Market API unavailable, dashboards use the fallback date")
	}
	m.lastUpstreamSource = ref.Source
}

func (m *StatusMonitor) checkCache(ctx context.Context) {
	if m.cacheDB == nil {
		return
	}

	err := m.cacheDB.HealthCheck(ctx)
	healthy := err == nil
	if m.lastCacheHealthy != nil && *m.lastCacheHealthy == healthy {
		return
	}

	if healthy {
		m.log.Info().Msg("Cache database healthy")
	} else {
		m.log.Error().Err(err).Msg("Cache database unhealthy")
	}
	m.lastCacheHealthy = &healthy
}
