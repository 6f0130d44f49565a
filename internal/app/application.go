package app

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"salesmcp/internal/domain"
	"salesmcp/internal/infra/config"
	"salesmcp/internal/infra/gateway"
	"salesmcp/internal/infra/session"
	"salesmcp/internal/infra/telemetry"
	"salesmcp/internal/infra/tools"
)

// Application wires the HTTP endpoint and its background loops.
type Application struct {
	cfg        domain.Config
	logger     *zap.Logger
	level      zap.AtomicLevel
	health     *telemetry.HealthTracker
	observe    *telemetry.ObservabilityServer
	tools      *tools.Registry
	sessions   *session.Manager
	dispatcher *gateway.Dispatcher
	httpServer *gateway.HTTPServer
	watcher    *config.Watcher
}

// ApplicationOptions captures dependencies and settings for Application.
type ApplicationOptions struct {
	Config        domain.Config
	Logger        *zap.Logger
	Level         zap.AtomicLevel
	Health        *telemetry.HealthTracker
	Observability *telemetry.ObservabilityServer
	Tools         *tools.Registry
	Sessions      *session.Manager
	Dispatcher    *gateway.Dispatcher
	HTTPServer    *gateway.HTTPServer
	Watcher       *config.Watcher
}

func NewApplication(opts ApplicationOptions) *Application {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Application{
		cfg:        opts.Config,
		logger:     logger,
		level:      opts.Level,
		health:     opts.Health,
		observe:    opts.Observability,
		tools:      opts.Tools,
		sessions:   opts.Sessions,
		dispatcher: opts.Dispatcher,
		httpServer: opts.HTTPServer,
		watcher:    opts.Watcher,
	}
}

// Handler exposes the MCP endpoint without starting a listener.
func (a *Application) Handler() http.Handler {
	return a.httpServer.Handler()
}

// Run serves until ctx is done, then stops the background loops and closes
// every session.
func (a *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() { _ = a.dispatcher.Close() }()

	var wg sync.WaitGroup
	goLoop := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	if a.sessions != nil {
		goLoop(func() { a.sessions.Run(ctx) })
	}
	if a.observe != nil && a.observe.Enabled() {
		goLoop(func() {
			if err := a.observe.Run(ctx); err != nil {
				a.logger.Warn("observability server stopped", zap.Error(err))
			}
		})
	}
	if a.watcher != nil {
		goLoop(func() {
			if err := a.watcher.Run(ctx, a.applyUpdate); err != nil {
				a.logger.Warn("config watcher stopped", zap.Error(err))
			}
		})
	}

	a.logger.Info("sales mcp server starting",
		telemetry.ModeField(string(a.cfg.Mode)),
		zap.String("addr", a.cfg.HTTP.Addr),
		zap.String("path", a.cfg.HTTP.Path),
		zap.Int("tools", a.tools.Len()),
	)
	err := a.httpServer.Run(ctx)
	cancel()
	wg.Wait()
	return err
}

// applyUpdate applies the settings that can change while serving.
func (a *Application) applyUpdate(update config.Update) {
	prev, next := update.Previous.Live(), update.Current.Live()
	if prev.LogLevel != next.LogLevel {
		level, err := telemetry.ParseLevel(next.LogLevel)
		if err != nil {
			a.logger.Warn("ignoring log level", zap.String("level", next.LogLevel), zap.Error(err))
		} else {
			a.level.SetLevel(level)
		}
	}
	if a.sessions != nil && (prev.IdleTimeout != next.IdleTimeout || prev.MaxSessions != next.MaxSessions) {
		a.sessions.SetLimits(next.IdleTimeout, next.MaxSessions)
	}
	a.logger.Info("live settings applied",
		zap.String("log_level", next.LogLevel),
		zap.Duration("idle_timeout", next.IdleTimeout),
		zap.Int("max_sessions", next.MaxSessions),
	)
}
