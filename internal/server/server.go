// Package server implements the HTTP interface of the transformation engine.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/darkace1998/content-transformer/internal/config"
	"github.com/darkace1998/content-transformer/internal/metrics"
	"github.com/darkace1998/content-transformer/internal/registry"
	"github.com/darkace1998/content-transformer/internal/translog"
	"github.com/darkace1998/content-transformer/internal/workspace"
)

// Options are the collaborators of a Server.
type Options struct {
	Registry  *registry.Registry
	Log       *translog.Log
	Settings  *config.Settings
	Metrics   *metrics.Metrics
	Workspace *workspace.Manager
	Live      []Probe
	Ready     []Probe
}

// Server handles HTTP API requests
type Server struct {
	registry    *registry.Registry
	log         *translog.Log
	settings    *config.Settings
	metrics     *metrics.Metrics
	workspace   *workspace.Manager
	live        []Probe
	ready       []Probe
	rateLimiter *rateLimiter
	accepting   atomic.Bool
	server      *http.Server
}

// New creates a new HTTP server instance
func New(opts Options) *Server {
	s := &Server{
		registry:  opts.Registry,
		log:       opts.Log,
		settings:  opts.Settings,
		metrics:   opts.Metrics,
		workspace: opts.Workspace,
		live:      opts.Live,
		ready:     opts.Ready,
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.workspace == nil {
		s.workspace = workspace.New(opts.Settings.TempDir, opts.Settings.WorkDirMaxAge)
	}
	if opts.Settings.RateLimit > 0 {
		s.rateLimiter = newRateLimiter()
	}
	s.server = &http.Server{
		Addr:              opts.Settings.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// SetAccepting marks whether the server takes transformation requests; /ready reports
// not ready while it is false.
func (s *Server) SetAccepting(accepting bool) {
	s.accepting.Store(accepting)
}

// Handler builds the routing tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Probes are not instrumented
	mux.HandleFunc("/live", s.recoverMiddleware(s.handleLive))
	mux.HandleFunc("/ready", s.recoverMiddleware(s.handleReady))

	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/", s.instrument("/", s.ServeTestForm))
	mux.HandleFunc("/version", s.instrument("/version", s.handleVersion))
	mux.HandleFunc("/transform", s.instrument("/transform", s.rateLimitMiddleware(s.handleTransform)))
	mux.Handle("/transform/config", gzhttp.GzipHandler(s.instrument("/transform/config", s.handleConfig)))
	mux.Handle("/log", gzhttp.GzipHandler(s.instrument("/log", s.handleLog)))

	return mux
}

// instrument applies the middleware chain shared by all API endpoints
func (s *Server) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return s.correlationMiddleware(s.metricsMiddleware(endpoint, s.recoverMiddleware(next)))
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	slog.Info("HTTP server starting", "addr", s.settings.Address, "metrics_endpoint", "/metrics", "health_endpoints", "/live, /ready")
	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.SetAccepting(false)
	if s.rateLimiter != nil {
		s.rateLimiter.stop()
	}

	slog.Info("Shutting down HTTP server")
	err := s.server.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
