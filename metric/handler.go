package metric

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abossard/vjuniverse/errors"
)

// Server exposes the metrics registry over HTTP
type Server struct {
	port          int
	path          string
	server        *http.Server
	registry      *Registry
	healthHandler http.Handler
	logger        *slog.Logger
	mu            sync.Mutex // protects server field
}

// NewServer creates a metrics server for the provided registry
func NewServer(port int, path string, registry *Registry, logger *slog.Logger) *Server {
	if path == "" {
		path = "/metrics"
	}
	if port == 0 {
		port = 9091
	}
	if logger == nil {
		logger = slog.Default().With("component", "metric-server")
	}

	return &Server{
		port:     port,
		path:     path,
		registry: registry,
		logger:   logger,
	}
}

// SetHealthHandler replaces the default /health stub. Must be called before
// Start.
func (s *Server) SetHealthHandler(h http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthHandler = h
}

// Start starts the metrics HTTP server
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted,
			"metric.Server", "Start", "server state check")
	}
	if s.registry == nil {
		return errors.WrapFatal(fmt.Errorf("nil registry"),
			"metric.Server", "Start", "registry check")
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))
	if s.healthHandler != nil {
		mux.Handle("/health", s.healthHandler)
	} else {
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		})
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// The engine keeps running without metrics exposure.
			s.logger.Error("Metrics server stopped", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the metrics server
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.server = nil
	if err != nil {
		return errors.WrapTransient(err, "metric.Server", "Stop", "graceful shutdown")
	}
	return nil
}
