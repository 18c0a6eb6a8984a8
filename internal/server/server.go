// Package server provides the HTTP server and routing for hosd.
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

	"github.com/aristath/hosd/internal/database"
	"github.com/aristath/hosd/internal/events"
	"github.com/aristath/hosd/internal/metrics"
	dominancehandlers "github.com/aristath/hosd/internal/modules/dominance/handlers"
	"github.com/aristath/hosd/internal/scheduler"
)

// Config holds server configuration
type Config struct {
	Log       zerolog.Logger
	DB        *database.DB
	DataDir   string
	Port      int
	DevMode   bool
	Bus       *events.Bus
	Metrics   *metrics.Metrics
	Scheduler *scheduler.Scheduler
	Handler   *dominancehandlers.Handler

	// RequestTimeout bounds non-streaming requests (defaults to 5 minutes)
	RequestTimeout time.Duration
	// StatusInterval is the period of the status monitor (defaults to 60s)
	StatusInterval time.Duration
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	db             *database.DB
	cfg            Config
	systemHandlers *SystemHandlers
	statusMonitor  *StatusMonitor
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Minute
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 60 * time.Second
	}

	systemHandlers := NewSystemHandlers(cfg.Log, cfg.DataDir, cfg.DB, cfg.Scheduler)

	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		db:             cfg.DB,
		cfg:            cfg,
		systemHandlers: systemHandlers,
	}
	if cfg.Bus != nil {
		s.statusMonitor = NewStatusMonitor(cfg.Bus, systemHandlers, cfg.Log)
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       60 * time.Second,
		// No write timeout: event streams stay open and solves are bounded
		// by RequestTimeout instead
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Router exposes the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	if s.cfg.Metrics != nil {
		s.router.Handle("/metrics", s.cfg.Metrics.Handler())
	}

	s.router.Route("/api", func(r chi.Router) {
		// Streams live outside the timeout and compression group
		if s.cfg.Bus != nil {
			r.Get("/events/stream", NewEventsStreamHandler(s.cfg.Bus, s.log).ServeHTTP)
			r.Get("/events/ws", NewEventsWebSocketHandler(s.cfg.Bus, s.log).ServeHTTP)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.cfg.RequestTimeout))
			if !s.cfg.DevMode {
				r.Use(middleware.Compress(5))
			}

			r.Route("/system", func(r chi.Router) {
				r.Get("/status", s.systemHandlers.HandleSystemStatus)
				r.Get("/database", s.systemHandlers.HandleDatabaseStats)
				r.Get("/jobs", s.systemHandlers.HandleJobsStatus)
				r.Post("/jobs/{name}/run", s.systemHandlers.HandleTriggerJob)
			})

			if s.cfg.Handler != nil {
				s.cfg.Handler.RegisterRoutes(r)
			}
		})
	})
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	if s.statusMonitor != nil {
		s.statusMonitor.Start(s.cfg.StatusInterval)
		s.log.Info().Dur("interval", s.cfg.StatusInterval).Msg("Status monitor started")
	}

	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	if s.statusMonitor != nil {
		s.statusMonitor.Stop()
	}
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
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
