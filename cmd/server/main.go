// Package main is the entry point for the gridlens dashboard server.
//
// Startup order:
//  1. Load configuration and set up logging
//  2. Open and migrate the response cache database (unless disabled)
//  3. Build the market API client and the dashboard service
//  4. Register background jobs and start the scheduler
//  5. Serve HTTP until SIGINT or SIGTERM, then shut down gracefully
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/gridlens/internal/clientdata"
	"github.com/aristath/gridlens/internal/clients/marketapi"
	"github.com/aristath/gridlens/internal/config"
	"github.com/aristath/gridlens/internal/database"
	"github.com/aristath/gridlens/internal/modules/dashboard"
	"github.com/aristath/gridlens/internal/scheduler"
	"github.com/aristath/gridlens/internal/server"
	"github.com/aristath/gridlens/pkg/logger"
)

// Job schedules, six-field cron format
const (
	cacheCleanupSchedule  = "0 0 * * * *"
	referenceDateSchedule = "0 */30 * * * *"
	walCheckpointSchedule = "0 */15 * * * *"
	viewPruneSchedule     = "0 */5 * * * *"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("api_url", cfg.APIURL).
		Str("timezone", cfg.Timezone).
		Bool("cache", cfg.CacheEnabled).
		Msg("Starting gridlens")

	// Response cache: serves fresh entries without a round trip and stale ones
	// when the market API is unreachable
	var (
		cacheDB   *database.DB
		cacheRepo *clientdata.Repository
	)
	if cfg.CacheEnabled {
		cacheDB, err = database.New(database.Config{
			Path:    cfg.CacheDBPath(),
			Profile: database.ProfileCache,
			Name:    "cache",
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open cache database")
		}
		defer cacheDB.Close()

		if err := cacheDB.Migrate(); err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate cache database")
		}
		cacheRepo = clientdata.NewRepository(cacheDB.Conn())
		log.Info().Str("path", cacheDB.Path()).Msg("Cache database ready")
	}

	apiClient := marketapi.NewClient(
		cfg.APIURL,
		cfg.APIToken,
		cfg.HTTPTimeout,
		cacheRepo,
		logger.Component(log, "marketapi"),
	)

	dashboardService := dashboard.NewService(apiClient, dashboard.Settings{
		FallbackDate:        cfg.FallbackDate,
		HistoryDays:         cfg.HistoryDays,
		ForecastHistoryDays: cfg.ForecastHistoryDays,
		HistoricalTail:      cfg.HistoricalTail,
		Location:            cfg.Location,
	}, log)

	sched := scheduler.New(log)
	referenceJob := dashboard.NewReferenceDateJob(dashboardService, cfg.HTTPTimeout, log)
	if err := sched.AddJob(referenceDateSchedule, referenceJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register reference date job")
	}
	if err := sched.AddJob(viewPruneSchedule, dashboard.NewViewPruneJob(dashboardService, cfg.ViewIdleTimeout, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register view prune job")
	}
	if cacheDB != nil {
		if err := sched.AddJob(cacheCleanupSchedule, clientdata.NewCleanupJob(cacheRepo, cfg.CacheEntryLimit, log)); err != nil {
			log.Fatal().Err(err).Msg("Failed to register cache cleanup job")
		}
		if err := sched.AddJob(walCheckpointSchedule, scheduler.NewCheckWALCheckpointsJob(cacheDB, log)); err != nil {
			log.Fatal().Err(err).Msg("Failed to register WAL checkpoint job")
		}
	}
	sched.Start()

	// Warm the reference date so the first dashboard request does not wait on it
	go func() {
		if err := sched.RunNow(referenceJob); err != nil {
			log.Warn().Err(err).Msg("Initial reference date refresh failed, using fallback until next run")
		}
	}()

	srv := server.New(server.Config{
		Log:       log,
		CacheDB:   cacheDB,
		CacheRepo: cacheRepo,
		Dashboard: dashboardService,
		Scheduler: sched,
		Config:    cfg,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
