// Package flowkit provides a top-level convenience entry point for running
// declarative flows with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/flowkit"
//
//	r, err := flowkit.New()
//	result, err := r.Run(ctx, spec, map[string]any{"query": "hello"})
//
// Each Run executes on a fresh hub (one session per run); Resume continues
// a previously paused session from its persisted snapshot. For finer
// control, wire hub.New, node.NewRegistryWithBuiltins, and
// flow.NewExecutor directly.
package flowkit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/flowkit/channel"
	"github.com/BaSui01/flowkit/config"
	"github.com/BaSui01/flowkit/flow"
	"github.com/BaSui01/flowkit/hub"
	"github.com/BaSui01/flowkit/internal/migration"
	"github.com/BaSui01/flowkit/internal/telemetry"
	"github.com/BaSui01/flowkit/node"
	"github.com/BaSui01/flowkit/store"
	"github.com/BaSui01/flowkit/types"
)

// Runner bundles the registry, store, and observability stack and runs
// flows against them.
type Runner struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *node.Registry
	store     store.RunStore
	providers *telemetry.Providers
	sessions  *flow.SessionManager
	metrics   *channel.MetricsCollector
}

// Option configures the runner created by [New].
type Option func(*Runner)

// WithConfig supplies a loaded configuration instead of the defaults.
func WithConfig(cfg *config.Config) Option {
	return func(r *Runner) { r.cfg = cfg }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithRegistry replaces the built-in node registry.
func WithRegistry(registry *node.Registry) Option {
	return func(r *Runner) { r.registry = registry }
}

// WithStore replaces the configured run store.
func WithStore(s store.RunStore) Option {
	return func(r *Runner) { r.store = s }
}

// New creates a runner. With no options it uses the default configuration,
// the built-in node packs, and an in-memory store.
func New(opts ...Option) (*Runner, error) {
	r := &Runner{cfg: config.DefaultConfig()}
	for _, opt := range opts {
		opt(r)
	}

	if r.logger == nil {
		logger, err := config.BuildLogger(r.cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("failed to build logger: %w", err)
		}
		r.logger = logger
	}
	if r.registry == nil {
		r.registry = node.NewRegistryWithBuiltins()
	}
	if r.store == nil {
		s, err := buildStore(r.cfg.Store)
		if err != nil {
			return nil, err
		}
		r.store = s
	}

	providers, err := telemetry.Init(r.cfg.Telemetry, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init telemetry: %w", err)
	}
	r.providers = providers
	r.sessions = flow.NewSessionManager(r.store, r.logger)

	// Instruments register once; runs share the collector.
	if r.cfg.Metrics.Enabled {
		r.metrics = channel.NewMetricsCollector(r.cfg.Metrics.Namespace, nil)
	}
	return r, nil
}

// Registry exposes the node registry for registering custom node types.
func (r *Runner) Registry() *node.Registry {
	return r.registry
}

// Store exposes the configured run store.
func (r *Runner) Store() store.RunStore {
	return r.store
}

// Shutdown flushes telemetry.
func (r *Runner) Shutdown(ctx context.Context) error {
	return r.providers.Shutdown(ctx)
}

// Run executes the flow on a fresh session.
func (r *Runner) Run(ctx context.Context, spec *flow.Spec, input map[string]any) (*flow.Result, error) {
	h := hub.New(hub.WithLogger(r.logger))
	return r.run(ctx, h, spec, input)
}

// Resume continues a paused session, delivering msg to waiting nodes, and
// runs the flow to its next completion or pause.
func (r *Runner) Resume(ctx context.Context, spec *flow.Spec, sessionID string, msg *types.Message) (*flow.Result, error) {
	h := hub.New(hub.WithLogger(r.logger), hub.WithSessionID(sessionID))
	if err := r.sessions.Resume(ctx, h, sessionID, msg); err != nil {
		return nil, err
	}
	return r.run(ctx, h, spec, nil)
}

func (r *Runner) run(ctx context.Context, h *hub.Hub, spec *flow.Spec, input map[string]any) (*flow.Result, error) {
	h.RegisterChannel(ctx, channel.NewLoggerChannel(r.logger))
	if r.metrics != nil {
		h.RegisterChannel(ctx, channel.NewMetricsChannel(r.metrics))
	}

	execOpts := []flow.ExecutorOption{
		flow.WithLogger(r.logger),
		flow.WithStore(r.store),
		flow.WithTracer(r.providers.Tracer("flowkit")),
	}
	if r.cfg.Executor.RateLimitPerSec > 0 {
		execOpts = append(execOpts, flow.WithRateLimit(r.cfg.Executor.RateLimitPerSec, r.cfg.Executor.RateLimitBurst))
	}
	if r.cfg.Executor.DefaultTimeout > 0 {
		execOpts = append(execOpts, flow.WithDefaultTimeout(r.cfg.Executor.DefaultTimeout))
	}
	if r.cfg.Executor.ForeachConcurrency > 0 {
		execOpts = append(execOpts, flow.WithFanOutWidth(r.cfg.Executor.ForeachConcurrency))
	}
	return flow.NewExecutor(h, r.registry, execOpts...).Run(ctx, spec, input)
}

func buildStore(cfg config.StoreConfig) (store.RunStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return store.NewMemoryStore(), nil
	case "redis":
		return store.NewRedisStore(store.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
	case "sql":
		if cfg.SQL.Migrate {
			if err := migrateSQL(cfg.SQL); err != nil {
				return nil, err
			}
		}
		return store.NewSQLStore(store.SQLConfig{
			Driver:       cfg.SQL.Driver,
			DSN:          cfg.SQL.DSN,
			MaxOpenConns: cfg.SQL.MaxOpenConns,
			MaxIdleConns: cfg.SQL.MaxIdleConns,
		})
	case "mongo":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return store.NewMongoStore(ctx, store.MongoConfig{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		})
	default:
		return nil, types.NewError(types.ErrValidation, fmt.Sprintf("unknown store backend %q", cfg.Backend))
	}
}

// migrateSQL applies the embedded schema migrations for the configured SQL
// backend before the store opens.
func migrateSQL(cfg config.SQLConfig) error {
	m, err := migration.NewMigratorFromSQLConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to build migrator: %w", err)
	}
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := m.Up(ctx); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	return nil
}
