// Package server provides the HTTP server and routing for gridlens.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/gridlens/internal/clientdata"
	"github.com/aristath/gridlens/internal/config"
	"github.com/aristath/gridlens/internal/database"
	"github.com/aristath/gridlens/internal/modules/dashboard"
	dashboardhandlers "github.com/aristath/gridlens/internal/modules/dashboard/handlers"
	"github.com/aristath/gridlens/internal/scheduler"
)

// Config holds server configuration
type Config struct {
	Log       zerolog.Logger
	CacheDB   *database.DB           // nil when the response cache is disabled
	CacheRepo *clientdata.Repository // nil when the response cache is disabled
	Dashboard *dashboard.Service
	Scheduler *scheduler.Scheduler
	Config    *config.Config
	Port      int
	DevMode   bool
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            *config.Config
	port           int
	dashboard      *dashboard.Service
	systemHandlers *SystemHandlers
	statusMonitor  *StatusMonitor
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	systemHandlers := NewSystemHandlers(
		cfg.Log,
		cfg.CacheDB,
		cfg.CacheRepo,
		cfg.Dashboard,
		cfg.Scheduler,
	)

	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		cfg:            cfg.Config,
		port:           cfg.Port,
		dashboard:      cfg.Dashboard,
		systemHandlers: systemHandlers,
		statusMonitor:  NewStatusMonitor(cfg.Dashboard, cfg.CacheDB, cfg.Log),
	}

	s.setupMiddleware()
	s.setupRoutes(cfg.DevMode)

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// Zero keeps forecast streams open; API routes run under middleware.Timeout
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware() {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", dashboardhandlers.ViewHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes(devMode bool) {
	dashboardHandler := dashboardhandlers.NewHandler(s.dashboard, s.log)

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			// Compress responses
			if !devMode {
				r.Use(middleware.Compress(5))
			}

			dashboardHandler.RegisterRoutes(r)

			r.Route("/system", func(r chi.Router) {
				r.Get("/status", s.systemHandlers.HandleSystemStatus)
				r.Get("/jobs", s.systemHandlers.HandleJobsStatus)
				r.Post("/jobs/{name}", s.systemHandlers.HandleTriggerJob)
			})
		})

		// Websockets must not be buffered or cut off by the request timeout
		r.Group(func(r chi.Router) {
			dashboardHandler.RegisterStreamRoutes(r)
		})
	})
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	// Check upstream and cache health every 60 seconds
	s.statusMonitor.Start(60 * time.Second)
	s.log.Info().Msg("Status monitor started")

	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.statusMonitor.Stop()
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
