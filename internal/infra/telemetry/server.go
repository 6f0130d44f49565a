package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"salesmcp/internal/domain"
)

const observabilityShutdownTimeout = 5 * time.Second

// ObservabilityServer exposes /metrics and /healthz on a listener separate
// from the MCP endpoint.
type ObservabilityServer struct {
	cfg     domain.ObservabilityConfig
	handler http.Handler
	logger  *zap.Logger
}

// NewObservabilityServer routes the endpoints enabled in cfg. A nil gatherer
// falls back to the default registry.
func NewObservabilityServer(cfg domain.ObservabilityConfig, gatherer prometheus.Gatherer, health *HealthTracker, logger *zap.Logger) *ObservabilityServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = domain.DefaultObservabilityListenAddr
	}

	mux := http.NewServeMux()
	if cfg.Metrics {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
			ErrorLog: zap.NewStdLog(logger.Named("promhttp")),
		}))
	}
	if cfg.Healthz {
		mux.Handle("GET /healthz", HealthHandler(health))
	}
	return &ObservabilityServer{
		cfg:     cfg,
		handler: mux,
		logger:  logger.Named("observability"),
	}
}

// Enabled reports whether any endpoint is switched on.
func (s *ObservabilityServer) Enabled() bool {
	return s.cfg.Metrics || s.cfg.Healthz
}

func (s *ObservabilityServer) Handler() http.Handler {
	return s.handler
}

// Run binds the listen address and serves until ctx is done. A disabled
// server returns nil without listening.
func (s *ObservabilityServer) Run(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	listener, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("observability listen %s: %w", s.cfg.ListenAddress, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Run on an existing listener.
func (s *ObservabilityServer) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	served := make(chan error, 1)
	go func() {
		served <- server.Serve(listener)
	}()
	s.logger.Info("observability endpoints listening",
		zap.String("addr", listener.Addr().String()),
		zap.Bool("metrics", s.cfg.Metrics),
		zap.Bool("healthz", s.cfg.Healthz),
	)

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("observability endpoints failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), observabilityShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
		return fmt.Errorf("observability shutdown: %w", err)
	}
	s.logger.Info("observability endpoints stopped")
	return nil
}

// HealthHandler serves the tracker report; a degraded report answers 503.
func HealthHandler(tracker *HealthTracker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		report := HealthReport{Status: "ok"}
		if tracker != nil {
			report = tracker.Report()
		}

		status := http.StatusOK
		if report.Status != "ok" {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(report)
	})
}
