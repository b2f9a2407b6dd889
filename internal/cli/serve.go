package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/viewql/internal/metric"
	"github.com/roach88/viewql/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Config string
	Listen string // overrides server.listen
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve GraphQL over HTTP",
		Long: `Start the HTTP server.

Loads the config file, connects to the database and, when nats.url is set,
the cascade bus. Serves POST/GET /graphql, POST /cascade, GET /healthz and
GET /metrics until interrupted, then shuts down gracefully.

Example:
  viewql serve --config viewql.yaml
  viewql serve --config viewql.yaml --listen :9090 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "path to config file (required)")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides server.listen)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, logger, err := loadConfig(opts.Config, opts.Verbose, cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Listen != "" {
		cfg.Server.Listen = opts.Listen
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()
	rt, err := openRuntime(ctx, cfg, logger, registry)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}()

	srv := server.New(rt.engine,
		server.WithHeaders(cfg.Server.Headers),
		server.WithMetrics(registry),
		server.WithLogger(logger),
	)
	if err := srv.Run(ctx, cfg.Server.Listen, cfg.Server.Timeout); err != nil {
		return WrapExitError(ExitCommandError, "server failed", err)
	}
	logger.Info("server stopped")
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
