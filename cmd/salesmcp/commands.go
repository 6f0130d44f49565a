package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"salesmcp/internal/app"
	"salesmcp/internal/domain"
)

func newServeCmd(opts *cliOptions) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve getSales and getCustomers over streamable HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			return app.New(opts.logger).Serve(ctx, app.ServeConfig{
				ConfigPath: opts.configPath,
				Config:     opts.cfg,
				Loader:     opts.loader,
				Watch:      watch,
				Level:      opts.level,
			})
		},
	}

	flags := cmd.Flags()
	flags.String("mode", string(domain.DefaultMode), "dispatch strategy (session or shared)")
	flags.String("addr", "", "listen address (default :3002 in session mode, :3001 in shared mode)")
	flags.String("path", domain.DefaultHTTPPath, "MCP endpoint path")
	flags.StringArray("allowed-origin", nil, "allowed CORS origin (repeatable or *)")
	flags.Int64("max-body-bytes", domain.DefaultMaxBodyBytes, "maximum request body size in bytes")
	flags.Duration("shutdown-timeout", domain.DefaultShutdownTimeout, "graceful shutdown timeout")
	flags.Bool("event-store", false, "enable in-memory event store for SSE stream resumption")
	flags.Int("event-store-bytes", domain.DefaultEventStoreMaxBytes, "event store capacity in bytes")
	flags.Duration("idle-timeout", domain.DefaultSessionIdleTimeout, "close sessions idle for this long (0 disables)")
	flags.Duration("sweep-interval", domain.DefaultSessionSweepInterval, "how often idle sessions are swept (0 disables)")
	flags.Int("max-sessions", domain.DefaultMaxSessions, "maximum live sessions, least recently used evicted first (0 is unbounded)")
	flags.String("observability-addr", domain.DefaultObservabilityListenAddr, "listen address for /metrics and /healthz")
	flags.Bool("metrics", false, "serve Prometheus metrics")
	flags.Bool("healthz", false, "serve /healthz")
	flags.BoolVar(&watch, "watch", true, "reload the config file when it changes")
	return cmd
}

func newToolsCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools the server exposes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			summaries, err := app.New(opts.logger).Tools()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return writeJSON(out, summaries)
			}
			for _, tool := range summaries {
				fmt.Fprintf(out, "%s\t%s\n", tool.Name, tool.Description)
			}
			return nil
		},
	}
}

func newCallCmd(opts *cliOptions) *cobra.Command {
	var args string
	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Invoke a tool in-process and print its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, positional []string) error {
			raw := json.RawMessage(strings.TrimSpace(args))
			result, err := app.New(opts.logger).CallTool(cmd.Context(), positional[0], raw)
			if err != nil {
				code, _ := domain.CodeFrom(err)
				switch code {
				case domain.CodeInvalidArgument, domain.CodeNotFound:
					return exitWith(2, err)
				}
				return err
			}
			return printToolResult(cmd.OutOrStdout(), result, opts.jsonOutput)
		},
	}
	cmd.Flags().StringVar(&args, "args", "{}", "tool arguments as a JSON object")
	return cmd
}

func newValidateCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration without serving",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.New(opts.logger).ValidateConfig(cmd.Context(), app.ValidateConfig{
				ConfigPath: opts.configPath,
				Loader:     opts.loader,
			})
			if err != nil {
				return exitWith(2, err)
			}
			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), cfg)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration ok: mode=%s addr=%s path=%s\n", cfg.Mode, cfg.HTTP.Addr, cfg.HTTP.Path)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		// Skips config loading so version always works.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "salesmcp %s (%s)\n", app.Version, app.Build)
		},
	}
}

func writeJSON(w io.Writer, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printToolResult(w io.Writer, result domain.ToolResult, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(w, result)
	}
	if len(result.Content) == 0 {
		return errors.New("tool returned no content")
	}
	for _, block := range result.Content {
		if err := writeJSON(w, block.Data); err != nil {
			return err
		}
	}
	return nil
}
