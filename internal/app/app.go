package app

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"salesmcp/internal/domain"
	"salesmcp/internal/infra/config"
	"salesmcp/internal/infra/tools"
)

// App is the entry point used by the command line.
type App struct {
	logger *zap.Logger
}

type ServeConfig struct {
	ConfigPath string
	// Config is the effective configuration, flags included.
	Config domain.Config
	// Loader reloads ConfigPath with the same flag overrides.
	Loader *config.Loader
	// Watch enables hot reload of ConfigPath.
	Watch bool
	Level zap.AtomicLevel
}

type ValidateConfig struct {
	ConfigPath string
	Loader     *config.Loader
}

func New(logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{logger: logger}
}

// Serve builds the application and blocks until ctx is done.
func (a *App) Serve(ctx context.Context, cfg ServeConfig) error {
	application, err := InitializeApplication(ctx, cfg, LoggingConfig{
		Logger: a.logger,
		Level:  cfg.Level,
	})
	if err != nil {
		return err
	}
	return application.Run(ctx)
}

// ValidateConfig loads and validates the configuration at the provided path.
func (a *App) ValidateConfig(ctx context.Context, cfg ValidateConfig) (domain.Config, error) {
	loader := cfg.Loader
	if loader == nil {
		loader = config.NewLoader(a.logger)
	}
	loaded, err := loader.Load(ctx, cfg.ConfigPath)
	if err != nil {
		return domain.Config{}, err
	}
	a.logger.Info("configuration validated",
		zap.String("config", cfg.ConfigPath),
		zap.String("mode", string(loaded.Mode)),
	)
	return loaded, nil
}

// Tools lists the builtin tools.
func (a *App) Tools() ([]domain.ToolSummary, error) {
	registry, err := a.toolRegistry()
	if err != nil {
		return nil, err
	}
	defs := registry.List()
	out := make([]domain.ToolSummary, 0, len(defs))
	for _, def := range defs {
		out = append(out, def.Summary())
	}
	return out, nil
}

// CallTool invokes a builtin tool in-process, with the same validation the
// HTTP endpoint applies.
func (a *App) CallTool(ctx context.Context, name string, args json.RawMessage) (domain.ToolResult, error) {
	registry, err := a.toolRegistry()
	if err != nil {
		return domain.ToolResult{}, err
	}
	return registry.Invoke(ctx, name, args)
}

func (a *App) toolRegistry() (*tools.Registry, error) {
	data, err := NewDataset()
	if err != nil {
		return nil, err
	}
	return NewToolRegistry(data, domain.NoopMetrics{}, a.logger)
}
