package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"salesmcp/internal/domain"
	"salesmcp/internal/infra/config"
	"salesmcp/internal/infra/telemetry"
)

type cliOptions struct {
	configPath string
	jsonOutput bool

	cfg    domain.Config
	loader *config.Loader
	logger *zap.Logger
	level  zap.AtomicLevel
}

func newRootCommand() *cobra.Command {
	opts := &cliOptions{
		logger: zap.NewNop(),
	}

	root := &cobra.Command{
		Use:           "salesmcp",
		Short:         "Sales MCP server over streamable HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.prepare(cmd)
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = opts.logger.Sync()
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to YAML config file (optional)")
	root.PersistentFlags().String("log-level", domain.DefaultLogLevel, "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", domain.DefaultLogFormat, "log format (json or console)")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "output JSON")

	root.AddCommand(
		newServeCmd(opts),
		newToolsCmd(opts),
		newCallCmd(opts),
		newValidateCmd(opts),
		newVersionCmd(),
	)
	return root
}

// prepare loads the configuration with explicitly set flags layered on top
// and builds the process logger from it.
func (o *cliOptions) prepare(cmd *cobra.Command) error {
	overrides := flagOverrides(cmd.Flags())
	cfg, err := config.NewLoader(nil).WithOverrides(overrides).Load(cmd.Context(), o.configPath)
	if err != nil {
		return exitWith(2, err)
	}
	logger, level, err := telemetry.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.logger = logger
	o.level = level
	o.loader = config.NewLoader(logger).WithOverrides(overrides)
	return nil
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"log-level":          "log.level",
	"log-format":         "log.format",
	"mode":               "mode",
	"addr":               "http.addr",
	"path":               "http.path",
	"allowed-origin":     "http.allowedOrigins",
	"max-body-bytes":     "http.maxBodyBytes",
	"shutdown-timeout":   "http.shutdownTimeout",
	"event-store":        "http.eventStore.enabled",
	"event-store-bytes":  "http.eventStore.maxBytes",
	"idle-timeout":       "sessions.idleTimeout",
	"sweep-interval":     "sessions.sweepInterval",
	"max-sessions":       "sessions.maxSessions",
	"observability-addr": "observability.listenAddress",
	"metrics":            "observability.metrics",
	"healthz":            "observability.healthz",
}

// flagOverrides returns config overrides for the flags set on the command
// line. Flags left at their defaults do not mask file values.
func flagOverrides(flags *pflag.FlagSet) map[string]any {
	overrides := make(map[string]any)
	flags.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}
		switch f.Value.Type() {
		case "bool":
			overrides[key], _ = flags.GetBool(f.Name)
		case "int":
			overrides[key], _ = flags.GetInt(f.Name)
		case "int64":
			overrides[key], _ = flags.GetInt64(f.Name)
		case "duration":
			overrides[key], _ = flags.GetDuration(f.Name)
		case "stringArray":
			overrides[key], _ = flags.GetStringArray(f.Name)
		default:
			overrides[key] = f.Value.String()
		}
	})
	return overrides
}

func signalAwareContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
