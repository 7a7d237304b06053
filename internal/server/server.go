// Package server implements the HTTP server that exposes the question
// answering engine as a JSON API. The server is started by the `docqa serve`
// CLI command.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/docqa-go/internal/logging"
)

// defaultMaxBodyBytes bounds request bodies when Config.MaxBodyBytes is zero.
const defaultMaxBodyBytes = 10 << 20

// maxBatchItems is the largest batch accepted over HTTP.
const maxBatchItems = 1000

// New constructs a Server from the engine, batch runner and config.
func New(svc Service, runner BatchRunner, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("server: service must not be nil")
	}
	if runner == nil {
		return nil, fmt.Errorf("server: batch runner must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Batch requests are answered inside the write deadline.
		cfg.WriteTimeout = 10 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		svc:     svc,
		runner:  runner,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry),
		started: time.Now(),
	}

	if cfg.APIKey == "" {
		s.log.Warn("server: DOCQA_API_KEY is not set, API authentication is disabled")
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	rl.onReject = s.metrics.rateLimited
	s.stopRL = stopRL

	// protected requires a bearer token; limited additionally applies the
	// per-client rate limit to routes that embed or generate.
	protected := func(name string, h http.HandlerFunc) http.Handler {
		return s.metrics.instrument(name, func(w http.ResponseWriter, r *http.Request) {
			authMiddleware(cfg.APIKey, h).ServeHTTP(w, r)
		})
	}
	limited := func(name string, h http.HandlerFunc) http.Handler {
		return s.metrics.instrument(name, func(w http.ResponseWriter, r *http.Request) {
			authMiddleware(cfg.APIKey, rl.middleware(name, h)).ServeHTTP(w, r)
		})
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/documents", limited("documents_index", s.handleIndex))
	mux.Handle("GET /api/documents", protected("documents_list", s.handleListSources))
	mux.Handle("DELETE /api/documents", protected("documents_clear", s.handleClear))
	mux.Handle("DELETE /api/documents/{source...}", protected("documents_remove", s.handleRemove))
	mux.Handle("POST /api/query", limited("query", s.handleQuery))
	mux.Handle("POST /api/batch/index", limited("batch_index", s.handleBatchIndex))
	mux.Handle("POST /api/batch/query", limited("batch_query", s.handleBatchQuery))
	mux.Handle("GET /api/stats", protected("stats", s.handleStats))
	mux.Handle("GET /api/health", s.metrics.instrument("health", s.handleHealth))
	mux.Handle("GET /api/ready", s.metrics.instrument("ready", s.handleReady))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the root handler, middleware included.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.log.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}
