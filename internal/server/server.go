// Package server exposes the intelligence service over a small JSON HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/scrypster/schoolintel/internal/config"
	"github.com/scrypster/schoolintel/internal/intel"
	"github.com/scrypster/schoolintel/pkg/types"
)

// Service is the part of intel.Service the API uses.
type Service interface {
	GetIntelligence(ctx context.Context, name string, forceRefresh bool, count int) (*intel.Intelligence, bool)
	FindSchool(ctx context.Context, name string) (*types.School, error)
	Schools(ctx context.Context, query string) ([]*types.School, error)
	HighPriority(ctx context.Context, limit int) ([]*types.School, error)
	WithAgencySpend(ctx context.Context) ([]*types.School, error)
	Stats(ctx context.Context) (intel.Stats, error)
	ClearCache(ctx context.Context, name string) (int, error)
	ClearAllCache(ctx context.Context) (int, error)
}

var _ Service = (*intel.Service)(nil)

// Server holds the HTTP dependencies.
type Server struct {
	svc      Service
	cfg      config.ServerConfig
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	limiter  *RateLimiter
}

// New creates a Server. gatherer backs /metrics; nil uses the default registry.
func New(svc Service, cfg config.ServerConfig, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		svc:      svc,
		cfg:      cfg,
		gatherer: gatherer,
		logger:   logger.Named("http"),
		limiter:  NewRateLimiter(cfg.RateLimitPerSec, cfg.RateLimitBurst),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(s.limiter.Middleware)

		r.Get("/schools", s.handleListSchools)
		r.Get("/schools/{name}", s.handleGetSchool)
		r.Post("/schools/{name}/starters", s.handleStarters)
		r.Get("/priority", s.handlePriority)
		r.Get("/stats", s.handleStats)
		r.Delete("/cache", s.handleClearAllCache)
		r.Delete("/cache/{name}", s.handleClearCache)
	})
	return r
}

// Start listens on the configured address and serves until ctx is done. It
// returns the bound address, which differs from the configured one for port 0.
func (s *Server) Start(ctx context.Context) (string, <-chan error, error) {
	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return "", nil, fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Generation can take most of a minute.
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan error, 1)
	go func() {
		err := srv.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
		close(done)
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("server shutdown error", zap.Error(err))
		}
	}()

	addr := listener.Addr().String()
	s.logger.Info("listening", zap.String("addr", addr))
	return addr, done, nil
}
