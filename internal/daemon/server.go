package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/chatchick/chatd/internal/config"
	"github.com/chatchick/chatd/internal/metrics"
	"github.com/chatchick/chatd/internal/status"
)

// Server exposes the daemon's observability surface over HTTP: Prometheus
// metrics and a liveness/state endpoint. Disabled when no metrics address
// is configured.
type Server struct {
	httpServer *http.Server
	addr       string
	logger     *zap.Logger
}

// NewServer creates the HTTP server bound to the configured metrics address.
func NewServer(cfg *config.Config, collector *metrics.Collector, machine *status.Machine, logger *zap.Logger) *Server {
	if cfg.MetricsAddr == "" {
		return &Server{logger: logger}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(string(machine.Current()) + "\n"))
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		addr:   cfg.MetricsAddr,
		logger: logger,
	}
}

// Start begins serving. Blocks until stopped. A nil return also covers the
// disabled case.
func (s *Server) Start() error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("metrics server starting", zap.String("addr", s.addr))
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop performs a graceful shutdown.
func (s *Server) Stop(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	s.logger.Info("metrics server stopping")
	_ = s.httpServer.Shutdown(ctx)
}
