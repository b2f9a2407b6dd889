package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/roach88/viewql/internal/adapter"
	"github.com/roach88/viewql/internal/auth"
	"github.com/roach88/viewql/internal/cache"
	"github.com/roach88/viewql/internal/cascadebus"
	"github.com/roach88/viewql/internal/config"
	"github.com/roach88/viewql/internal/engine"
	"github.com/roach88/viewql/internal/metric"
	"github.com/roach88/viewql/internal/schema"
)

// runtime is the engine and its collaborators built from a config file.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	engine   *engine.Engine
	conn     *nats.Conn
	bus      *cascadebus.Bus
}

// loadConfig reads a config file and builds its logger. Verbose forces
// debug level.
func loadConfig(path string, verbose bool, logOut io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, cfg.Log.NewLogger(logOut), nil
}

// openRuntime loads the schema, connects to the database and the cascade
// bus, and assembles the engine. registry may be nil. extra options are
// applied after the ones derived from cfg.
func openRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, registry *metric.MetricsRegistry, extra ...engine.Option) (*runtime, error) {
	s, err := schema.Load(cfg.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	logger.Info("schema loaded", "path", cfg.Schema, "version", s.Version(), "roots", len(s.RootNames()))

	target := cfg.Target()
	if _, ok := s.Manifest(target); !ok {
		return nil, fmt.Errorf("schema %s has no capability manifest for target %s", s.Version(), target)
	}

	db, err := adapter.Open(ctx, target, cfg.Database.DSN,
		adapter.WithPoolSize(cfg.Database.PoolSize),
		adapter.WithAcquireTimeout(cfg.Database.AcquireTimeout),
		adapter.WithRetry(cfg.Database.Retry.Retry()),
		adapter.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	logger.Info("database connected", "target", target, "pool_size", cfg.Database.PoolSize)

	rt := &runtime{cfg: cfg, logger: logger, registry: registry}

	evaluator, err := auth.NewEvaluator(s, auth.WithPolicy(cfg.Policy()), auth.WithLogger(logger))
	if err != nil {
		db.Close()
		return nil, err
	}

	opts := []engine.Option{
		engine.WithAuth(evaluator),
		engine.WithLogger(logger),
		engine.WithQueryTimeout(cfg.Database.QueryTimeout),
		engine.WithProjectionWorkers(cfg.Database.ProjectionWorkers),
	}
	if registry != nil {
		opts = append(opts, engine.WithMetrics(registry))
	}

	if !cfg.Cache.Disabled {
		cacheOpts := []cache.Option{cache.WithLogger(logger)}
		if registry != nil {
			cacheOpts = append(cacheOpts, cache.WithMetrics(registry, "cache"))
		}
		c, err := cache.New(cfg.Cache.Config, cacheOpts...)
		if err != nil {
			db.Close()
			return nil, err
		}
		opts = append(opts, engine.WithCache(c))
	}

	if cfg.NATS.Enabled() {
		conn, err := cascadebus.Connect(cfg.NATS.URL, cfg.NATS.Name)
		if err != nil {
			db.Close()
			return nil, err
		}
		rt.conn = conn
		rt.bus = cascadebus.New(conn,
			cascadebus.WithSubject(cfg.NATS.Subject),
			cascadebus.WithLogger(logger),
		)
		opts = append(opts, engine.WithPublisher(rt.bus))
	}

	rt.engine, err = engine.New(s, []adapter.Adapter{db}, append(opts, extra...)...)
	if err != nil {
		db.Close()
		rt.closeBus()
		return nil, err
	}

	if rt.bus != nil {
		if err := rt.bus.Subscribe(rt.conn, rt.engine.Invalidate); err != nil {
			rt.Close()
			return nil, err
		}
		logger.Info("cascade bus subscribed", "subject", cfg.NATS.Subject, "origin", rt.bus.Origin())
	}
	return rt, nil
}

func (rt *runtime) closeBus() {
	if rt.bus != nil {
		if err := rt.bus.Close(); err != nil {
			rt.logger.Warn("cascade bus close failed", "error", err)
		}
	}
	if rt.conn != nil {
		rt.conn.Close()
	}
}

// Close stops the cascade bus, then releases the engine.
func (rt *runtime) Close() error {
	rt.closeBus()
	return rt.engine.Close()
}
