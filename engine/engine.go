// Package engine assembles a running orchestrator from configuration: store
// backend, event bus, adapter registry, tracing, and credential
// provisioning.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nvoss/overture"
	natsbus "github.com/nvoss/overture/bus/nats"
	"github.com/nvoss/overture/internal/config"
	"github.com/nvoss/overture/observer"
	"github.com/nvoss/overture/provider/registry"
	"github.com/nvoss/overture/store/memory"
	"github.com/nvoss/overture/store/postgres"
	"github.com/nvoss/overture/store/sqlite"
)

// Engine is a fully wired orchestrator plus the resources it owns.
type Engine struct {
	Orchestrator *overture.Orchestrator
	Store        overture.Store
	Bus          overture.Bus

	logger   *slog.Logger
	pool     *pgxpool.Pool
	natsConn *natsbus.Bus
	otelStop func(context.Context) error
}

// Option configures engine assembly.
type Option func(*Engine)

// WithLogger sets the logger shared by all components.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New builds an Engine from configuration. The returned engine owns its
// store, bus, and telemetry resources; call Close on shutdown.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Engine, error) {
	e := &Engine{logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}

	store, err := e.openStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("engine: store init: %w", err)
	}
	e.Store = store

	bus, err := e.openBus(cfg.Bus)
	if err != nil {
		store.Close()
		return nil, err
	}
	e.Bus = bus

	var tracer overture.Tracer
	if cfg.Observer.Enabled {
		stop, err := observer.Init(ctx, observer.WithServiceName(cfg.Observer.ServiceName))
		if err != nil {
			e.Close(ctx)
			return nil, fmt.Errorf("engine: observability init: %w", err)
		}
		e.otelStop = stop
		tracer = observer.NewTracer()
	}

	adapters := registry.New(
		registry.WithLogger(e.logger),
		registry.WithOllamaURL(cfg.Engine.OllamaURL),
		registry.WithOpenAIURL(cfg.Engine.OpenAIURL),
	)

	orchOpts := []overture.OrchestratorOption{
		overture.WithBus(bus),
		overture.WithLogger(e.logger),
	}
	if len(cfg.Providers) > 0 {
		static := make(map[string]string, len(cfg.Providers))
		for vendor, pc := range cfg.Providers {
			static[vendor] = pc.APIKey
		}
		orchOpts = append(orchOpts, overture.WithStaticCredentials(static))
	}
	if cfg.Engine.MaxSteps > 0 {
		orchOpts = append(orchOpts, overture.WithMaxSteps(cfg.Engine.MaxSteps))
	}
	if tracer != nil {
		orchOpts = append(orchOpts, overture.WithTracer(tracer))
	}
	e.Orchestrator = overture.NewOrchestrator(store, adapters, orchOpts...)

	return e, nil
}

func (e *Engine) openStore(ctx context.Context, cfg config.DatabaseConfig) (overture.Store, error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("engine: postgres pool: %w", err)
		}
		e.pool = pool
		return postgres.New(pool), nil
	case "sqlite", "":
		return sqlite.New(cfg.Path, sqlite.WithLogger(e.logger)), nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("engine: unknown database driver %q", cfg.Driver)
	}
}

func (e *Engine) openBus(cfg config.BusConfig) (overture.Bus, error) {
	switch cfg.Driver {
	case "nats":
		b, err := natsbus.Connect(cfg.URL, natsbus.WithLogger(e.logger))
		if err != nil {
			return nil, err
		}
		e.natsConn = b
		return b, nil
	case "none", "":
		return overture.NopBus{}, nil
	default:
		return nil, fmt.Errorf("engine: unknown bus driver %q", cfg.Driver)
	}
}

// Close releases everything the engine owns.
func (e *Engine) Close(ctx context.Context) error {
	var firstErr error
	if e.otelStop != nil {
		if err := e.otelStop(ctx); err != nil {
			firstErr = err
		}
	}
	if e.natsConn != nil {
		e.natsConn.Close()
	}
	if e.Store != nil {
		if err := e.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.pool != nil {
		e.pool.Close()
	}
	return firstErr
}
