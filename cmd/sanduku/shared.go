package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jkaninda/sanduku/internal/config"
	"github.com/jkaninda/sanduku/internal/deps"
	"github.com/jkaninda/sanduku/internal/gateway"
	"github.com/jkaninda/sanduku/internal/host"
	"github.com/jkaninda/sanduku/internal/observability"
	"github.com/jkaninda/sanduku/internal/session"
	"github.com/jkaninda/sanduku/internal/storage"
)

// SharedComponents holds the initialized subsystems that both server and
// mcp modes require. Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config   *config.Config
	Logger   *slog.Logger
	Obs      *observability.Observability
	Store    *storage.Store
	Host     host.Host
	Exec     *host.Executor
	Deps     *deps.Manager
	Sessions *session.Manager

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// initShared builds the execution engine: observability, history store,
// execution host, dependency manager, and session manager.
// Callers must call sc.Cleanup() when done.
func initShared(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
		)
	}

	// Execution history store (SQLite default, PostgreSQL optional).
	store, err := initStore(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	sc.Store = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})
	logger.Debug("storage initialized", slog.String("driver", cfg.Storage.StorageDriver()))

	// Execution host.
	h, err := initHost(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, err
	}
	sc.Host = h
	sc.Exec = host.NewExecutor(h, cfg.Execution.Timeout(), logger)
	logger.Debug("execution host initialized",
		slog.String("kind", cfg.Host.HostKind()),
		slog.String("timeout", cfg.Execution.Timeout().String()),
	)

	// Dependency manager.
	installPolicy, err := deps.PolicyByName(cfg.Deps.InstallPolicy)
	if err != nil {
		sc.Cleanup()
		return nil, err
	}
	depsMgr, err := deps.NewManager(ctx, sc.Exec, installPolicy, cfg.Deps.Whitelist, cfg.Deps.CachedDependencies, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing dependency manager: %w", err)
	}
	if obs != nil && obs.Metrics != nil {
		depsMgr.WithMetrics(obs.Metrics)
	}
	sc.Deps = depsMgr

	// Session manager.
	sessions, err := session.NewManager(ctx, sc.Exec, depsMgr, cfg.BaseDir, store, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing session manager: %w", err)
	}
	if obs != nil && obs.Metrics != nil {
		sessions.WithMetrics(obs.Metrics)
	}
	sc.Sessions = sessions

	// Health checks.
	if obs != nil && obs.Health != nil {
		obs.Health.AddCheck("host", h.Health)
		obs.Health.AddCheck("storage", store.Health)
	}

	return sc, nil
}

// runGateway starts gw, waits for a shutdown signal or a server error, and
// then stops gw with a grace-period deadline.
func runGateway(ctx context.Context, gw gateway.Gateway, logger *slog.Logger) error {
	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return gw.Stop(shutdownCtx)
}

// initHost creates the execution substrate based on config.
func initHost(cfg *config.Config, logger *slog.Logger) (host.Host, error) {
	switch cfg.Host.HostKind() {
	case "runner":
		return host.NewRunnerHost(cfg.Host.RunnerURL, logger), nil
	case "docker":
		return host.NewDockerHost(cfg.Host.Container, logger), nil
	default:
		return nil, fmt.Errorf("unknown host kind: %q (supported: runner, docker)", cfg.Host.Kind)
	}
}

// initStore creates the appropriate storage backend from config.
func initStore(cfg *config.Config, logger *slog.Logger) (*storage.Store, error) {
	switch driver := cfg.Storage.StorageDriver(); driver {
	case "postgres":
		pg := cfg.Storage.Postgres
		return storage.OpenPostgres(storage.PostgresConfig{
			DSN:             pg.DSN,
			MaxOpenConns:    pg.MaxOpenConns,
			MaxIdleConns:    pg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(pg.ConnMaxLifetimeS) * time.Second,
		}, logger)
	case "sqlite":
		return storage.OpenSQLite(cfg.DatabasePath(), logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}
