package app

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"salesmcp/internal/dataset"
	"salesmcp/internal/domain"
	"salesmcp/internal/infra/config"
	"salesmcp/internal/infra/gateway"
	"salesmcp/internal/infra/session"
	"salesmcp/internal/infra/telemetry"
	"salesmcp/internal/infra/tools"
)

func NewConfig(cfg ServeConfig) domain.Config {
	return cfg.Config
}

func NewMetricsRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())
	return registry
}

func NewMetrics(registry *prometheus.Registry) domain.Metrics {
	return telemetry.NewPrometheusMetrics(registry)
}

func NewHealthTracker() *telemetry.HealthTracker {
	return telemetry.NewHealthTracker()
}

func NewDataset() (*dataset.Dataset, error) {
	return dataset.Sample()
}

func NewToolRegistry(data *dataset.Dataset, metrics domain.Metrics, logger *zap.Logger) (*tools.Registry, error) {
	registry := tools.NewRegistry(logger, metrics)
	if err := tools.RegisterBuiltins(registry, data); err != nil {
		return nil, err
	}
	return registry, nil
}

func NewMCPServer(cfg domain.Config, registry *tools.Registry, logger *zap.Logger) *mcp.Server {
	return gateway.NewMCPServer(cfg.Server, registry, logger)
}

// NewEventStore returns nil unless stream resumption is enabled.
func NewEventStore(cfg domain.Config) mcp.EventStore {
	if !cfg.HTTP.EventStore.Enabled {
		return nil
	}
	store := mcp.NewMemoryEventStore(nil)
	if cfg.HTTP.EventStore.MaxBytes > 0 {
		store.SetMaxBytes(cfg.HTTP.EventStore.MaxBytes)
	}
	return store
}

// NewSessionManager returns nil in shared mode, which has no session store.
func NewSessionManager(
	cfg domain.Config,
	server *mcp.Server,
	eventStore mcp.EventStore,
	metrics domain.Metrics,
	health *telemetry.HealthTracker,
	logger *zap.Logger,
) (*session.Manager, error) {
	if cfg.Mode != domain.ModeSession {
		return nil, nil
	}
	manager, err := session.NewManager(server, session.Options{
		IdleTimeout:   cfg.Sessions.IdleTimeout,
		SweepInterval: cfg.Sessions.SweepInterval,
		MaxSessions:   cfg.Sessions.MaxSessions,
		EventStore:    eventStore,
		Logger:        logger,
		Metrics:       metrics,
		Health:        health,
	})
	if err != nil {
		return nil, err
	}
	health.SetGauge("sessions", manager.Len)
	return manager, nil
}

func NewDispatcher(
	ctx context.Context,
	cfg domain.Config,
	server *mcp.Server,
	sessions *session.Manager,
	eventStore mcp.EventStore,
	metrics domain.Metrics,
	logger *zap.Logger,
) (*gateway.Dispatcher, error) {
	return gateway.NewDispatcher(ctx, gateway.DispatcherOptions{
		Mode:         cfg.Mode,
		Server:       server,
		Sessions:     sessions,
		EventStore:   eventStore,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		Logger:       logger,
		Metrics:      metrics,
	})
}

func NewObservabilityServer(cfg domain.Config, registry *prometheus.Registry, health *telemetry.HealthTracker, logger *zap.Logger) *telemetry.ObservabilityServer {
	return telemetry.NewObservabilityServer(cfg.Observability, registry, health, logger)
}

func NewHTTPServer(cfg domain.Config, dispatcher *gateway.Dispatcher, logger *zap.Logger) *gateway.HTTPServer {
	return gateway.NewHTTPServer(cfg.HTTP, dispatcher, logger)
}

// NewConfigWatcher returns nil when there is no file to watch.
func NewConfigWatcher(cfg ServeConfig, logger *zap.Logger) *config.Watcher {
	if cfg.ConfigPath == "" || !cfg.Watch {
		return nil
	}
	return config.NewWatcher(cfg.Loader, cfg.ConfigPath, cfg.Config, logger)
}
