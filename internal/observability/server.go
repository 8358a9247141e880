package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerOptions configures the observability HTTP surface.
type ServerOptions struct {
	Addr           string
	Version        string
	MetricsEnabled bool
	Checks         map[string]HealthCheckFunc
	// Routes are mounted in addition to /health, /ready and /metrics.
	Routes map[string]http.Handler
}

// Server exposes health, readiness and metrics endpoints.
type Server struct {
	opts   ServerOptions
	server *http.Server
}

// NewServer builds the mux and the underlying http.Server.
func NewServer(opts ServerOptions) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthCheckHandler(opts.Version))
	mux.HandleFunc("/ready", ReadinessHandler(opts.Version, opts.Checks))
	if opts.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	for pattern, h := range opts.Routes {
		mux.Handle(pattern, h)
	}

	return &Server{
		opts: opts,
		server: &http.Server{
			Addr:        opts.Addr,
			Handler:     mux,
			ReadTimeout: 15 * time.Second,
			IdleTimeout: 60 * time.Second,
		},
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	logger := WithComponent("http")

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", s.opts.Addr).
			Bool("metrics_enabled", s.opts.MetricsEnabled).
			Msg("Observability server listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("observability server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down observability server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("observability server shutdown: %w", err)
	}
	return nil
}
