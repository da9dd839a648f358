package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/gridlens/internal/clientdata"
	"github.com/aristath/gridlens/internal/database"
	"github.com/aristath/gridlens/internal/modules/dashboard"
	"github.com/aristath/gridlens/internal/scheduler"
)

// SystemHandlers serves process, cache and job status
type SystemHandlers struct {
	log       zerolog.Logger
	cacheDB   *database.DB
	cacheRepo *clientdata.Repository
	dashboard *dashboard.Service
	scheduler *scheduler.Scheduler
	startedAt time.Time
}

// NewSystemHandlers creates new system handlers
func NewSystemHandlers(
	log zerolog.Logger,
	cacheDB *database.DB,
	cacheRepo *clientdata.Repository,
	dashboardService *dashboard.Service,
	sched *scheduler.Scheduler,
) *SystemHandlers {
	return &SystemHandlers{
		log:       log.With().Str("service", "system").Logger(),
		cacheDB:   cacheDB,
		cacheRepo: cacheRepo,
		dashboard: dashboardService,
		scheduler: sched,
		startedAt: time.Now(),
	}
}

// CacheStatus describes the response cache database
type CacheStatus struct {
	Healthy bool             `json:"healthy"`
	Stats   *database.Stats  `json:"stats,omitempty"`
	Entries map[string]int64 `json:"entries,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// SystemStatusResponse is the payload of GET /api/system/status
type SystemStatusResponse struct {
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	CPUPercent    float64                 `json:"cpu_percent"`
	MemoryPercent float64                 `json:"memory_percent"`
	ReferenceDate dashboard.ReferenceDate `json:"reference_date"`
	Views         int                     `json:"views"`
	Cache         *CacheStatus            `json:"cache,omitempty"`
	Jobs          []string                `json:"jobs"`
	LastUpdated   string                  `json:"last_updated"`
}

// JobsStatusResponse lists the registered background jobs
type JobsStatusResponse struct {
	Jobs []string `json:"jobs"`
}

// GetSystemStatusSnapshot collects the current status. The error reports the
// first failing component; the snapshot is still complete.
func (h *SystemHandlers) GetSystemStatusSnapshot(ctx context.Context) (SystemStatusResponse, error) {
	cpuPercent, memPercent := h.getSystemStats()

	response := SystemStatusResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		ReferenceDate: h.dashboard.ReferenceDate(ctx),
		Views:         h.dashboard.ViewCount(),
		Jobs:          h.jobNames(),
		LastUpdated:   time.Now().Format(time.RFC3339),
	}

	var firstErr error
	if response.ReferenceDate.Source != "api" {
		response.Status = "degraded"
	}

	if h.cacheDB != nil {
		cache, err := h.cacheStatus(ctx)
		response.Cache = cache
		if err != nil {
			response.Status = "degraded"
			firstErr = err
		}
	}

	return response, firstErr
}

func (h *SystemHandlers) cacheStatus(ctx context.Context) (*CacheStatus, error) {
	status := &CacheStatus{}

	if err := h.cacheDB.HealthCheck(ctx); err != nil {
		status.Error = err.Error()
		return status, err
	}
	status.Healthy = true

	stats, err := h.cacheDB.GetStats()
	if err != nil {
		status.Error = err.Error()
		return status, err
	}
	status.Stats = stats

	if h.cacheRepo != nil {
		counts, err := h.cacheRepo.Counts()
		if err != nil {
			status.Error = err.Error()
			return status, err
		}
		status.Entries = counts
	}

	return status, nil
}

func (h *SystemHandlers) jobNames() []string {
	if h.scheduler == nil {
		return []string{}
	}
	names := h.scheduler.Jobs()
	sort.Strings(names)
	return names
}

// HandleSystemStatus returns comprehensive system status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	response, err := h.GetSystemStatusSnapshot(r.Context())
	if err != nil {
		h.log.Warn().Err(err).Msg("System status collected with warnings")
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleJobsStatus handles GET /api/system/jobs
func (h *SystemHandlers) HandleJobsStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, JobsStatusResponse{Jobs: h.jobNames()})
}

// HandleTriggerJob runs a registered job immediately
// POST /api/system/jobs/{name}
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if h.scheduler == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "error",
			"message": "Scheduler not running",
		})
		return
	}

	start := time.Now()
	err := h.scheduler.RunByName(name)
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		h.writeJSON(w, http.StatusNotFound, map[string]string{
			"status":  "error",
			"message": err.Error(),
		})
	case err != nil:
		h.log.Error().Err(err).Str("job", name).Msg("Triggered job failed")
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status":  "error",
			"message": err.Error(),
		})
	default:
		h.writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":      "success",
			"job":         name,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
}

// getSystemStats returns CPU and RAM usage percentages, sampling CPU over 100ms
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
