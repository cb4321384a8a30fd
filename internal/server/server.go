package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/me/jobsys/internal/config"
	"github.com/me/jobsys/internal/jobsystem"
	"github.com/me/jobsys/internal/store"
)

// Server is the jobsys REST API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	startTime time.Time
	sys       *jobsystem.System
	results   store.ResultStore   // optional; nil when the archive is disabled
	gatherer  prometheus.Gatherer // optional; /metrics is not mounted without it
	level     *slog.LevelVar      // optional; enables the log-level admin endpoint
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithResultStore serves archived results from st under /results.
func WithResultStore(st store.ResultStore) Option {
	return func(s *Server) {
		s.results = st
	}
}

// WithGatherer exposes g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithLevelVar lets /admin/log-level read and change the daemon log level.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(s *Server) {
		s.level = lv
	}
}

// New creates a new Server with all routes registered.
func New(cfg config.ServerConfig, sys *jobsystem.System, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
		sys:       sys,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)
		r.Get("/types", s.handleListTypes)
		r.Get("/summary", s.handleSummary)

		// Jobs
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Post("/", s.handleSubmitJob)
			r.Post("/retire", s.handleRetireAll)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetJob)
				r.Get("/output", s.handleGetJobOutput)
				r.Post("/retire", s.handleRetireJob)
			})
		})

		// Worker pool
		r.Route("/workers", func(r chi.Router) {
			r.Get("/", s.handleListWorkers)
			r.Post("/", s.handleCreateWorker)
			r.Route("/{name}", func(r chi.Router) {
				r.Delete("/", s.handleRemoveWorker)
				r.Put("/channels", s.handleSetWorkerChannels)
			})
		})

		r.Post("/pipelines", s.handleSubmitPipeline)

		// Result archive
		r.Route("/results", func(r chi.Router) {
			r.Get("/", s.handleListResults)
			r.Get("/{id}", s.handleGetResult)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/log-level", s.handleGetLogLevel)
			r.Put("/log-level", s.handleSetLogLevel)
		})
	})
}
