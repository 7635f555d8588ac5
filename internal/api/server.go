package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/appgallery-ingest/internal/catalog"
	"github.com/JakeFAU/appgallery-ingest/internal/config"
	"github.com/JakeFAU/appgallery-ingest/internal/metrics"
	"github.com/JakeFAU/appgallery-ingest/internal/store"
)

const defaultRequestTimeout = 60 * time.Second

// Ingester fetches and stores one entity on demand.
type Ingester interface {
	Ingest(ctx context.Context, key catalog.EntityKey, opts store.IngestOptions) (store.IngestResult, error)
}

// EntityReader reads stored entity state.
type EntityReader interface {
	Lookup(ctx context.Context, key catalog.EntityKey) (store.EntityView, error)
}

// Options tune the server.
type Options struct {
	Auth           config.AuthConfig
	RequestTimeout time.Duration
	// Ready reports whether downstream dependencies are usable. Nil means
	// always ready.
	Ready func(ctx context.Context) error
}

// Server wires HTTP handlers to the ingest pipeline and stores.
type Server struct {
	router   chi.Router
	ingester Ingester
	entities EntityReader
	runs     store.RunRepository
	opts     Options
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	ingester Ingester,
	entities EntityReader,
	runs store.RunRepository,
	opts Options,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{
		ingester: ingester,
		entities: entities,
		runs:     runs,
		opts:     opts,
		logger:   logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.Auth.Enabled {
			r.Use(apiKeyMiddleware(opts.Auth.APIKey))
		}
		r.Get("/apps/{key}", s.getApp)
		r.Get("/runs", s.listRuns)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			s.writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
