package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/anime-guide-crawler/internal/id/uuid"
	"github.com/JakeFAU/anime-guide-crawler/internal/metrics"
	"github.com/JakeFAU/anime-guide-crawler/internal/pipeline"
	"github.com/JakeFAU/anime-guide-crawler/internal/store"
)

// CrawlTrigger starts crawl cycles on demand.
type CrawlTrigger interface {
	RunOnce(ctx context.Context) (pipeline.RunSummary, error)
	Running() bool
}

// Config controls middleware behavior.
type Config struct {
	// APIKey guards every /v1 route when set.
	APIKey         string
	RequestTimeout time.Duration
	// IDs mints request IDs; nil uses UUIDv7.
	IDs IDGenerator
}

// Server wires HTTP handlers to the guide store and the crawl runner.
type Server struct {
	router  chi.Router
	guide   *GuideHandler
	trigger CrawlTrigger
	logger  *zap.Logger

	runCtx     context.Context
	cancelRuns context.CancelFunc
	runs       sync.WaitGroup
}

// NewServer constructs a Server with middleware and routes. A nil trigger
// disables the crawl route.
func NewServer(reader store.GuideReader, trigger CrawlTrigger, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.IDs == nil {
		cfg.IDs = uuid.NewUUIDGenerator()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		guide:      NewGuideHandler(reader, logger),
		trigger:    trigger,
		logger:     logger,
		runCtx:     runCtx,
		cancelRuns: cancel,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(cfg.IDs))
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/anime-guide", func(r chi.Router) {
			r.Get("/calendar", s.guide.Calendar)
			r.Get("/crawl-status", s.guide.CrawlStatus)
			r.Get("/updates", s.guide.Updates)
			r.Get("/weekday", s.guide.Weekday)
			r.Get("/detail/{subject_id}", s.guide.Detail)
		})
		r.Post("/crawl/run", s.triggerCrawl)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// StopRuns cancels crawl cycles started through the API.
func (s *Server) StopRuns() {
	s.cancelRuns()
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if s.guide.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	if err := s.guide.repo.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
