package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jkaninda/sanduku/internal/config"
	"github.com/jkaninda/sanduku/internal/gateway/httpapi"
	"github.com/jkaninda/sanduku/internal/ratelimit"
	"github.com/jkaninda/sanduku/internal/reaper"
	goutils "github.com/jkaninda/go-utils"
)

var (
	serverConfigPath string
	serverListenAddr string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the REST API server",
	RunE:  runServer,
}

func init() {
	// Register flags on both root and server so that
	// `sanduku --config path` and `sanduku server --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serverCmd} {
		cmd.Flags().StringVar(&serverConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serverListenAddr, "listen", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServer starts the REST API gateway with the full execution engine.
func runServer(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("SANDUKU_CONFIG", serverConfigPath))
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if serverListenAddr != "" {
		if cfg.Gateway == nil {
			cfg.Gateway = &config.GatewayConfig{}
		}
		cfg.Gateway.ListenAddr = serverListenAddr
	}

	logger.Info("starting in server mode", slog.String("config", serverConfigPath))

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc, err := initShared(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Idle-session reaper (optional).
	if cfg.Reaper != nil && cfg.Reaper.Enabled {
		r, err := reaper.New(sc.Sessions, cfg.Reaper, logger)
		if err != nil {
			return err
		}
		cancelReaper := r.Start(ctx)
		defer cancelReaper()
		logger.Debug("session reaper initialized",
			slog.String("schedule", cfg.Reaper.CronSchedule()),
			slog.String("idle_ttl", cfg.Reaper.IdleTTL().String()),
		)
	}

	// Per-user rate limiter (optional).
	var limiter *ratelimit.Limiter
	if cfg.Gateway != nil && cfg.Gateway.RateLimit != nil {
		limiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.Gateway.RateLimit.Rate(),
			BurstSize:         cfg.Gateway.RateLimit.BurstSize(),
		})
	}

	return runGateway(ctx, buildHTTPGateway(cfg, sc, limiter), logger)
}

// buildHTTPGateway assembles the REST gateway from shared components.
func buildHTTPGateway(cfg *config.Config, sc *SharedComponents, limiter *ratelimit.Limiter) *httpapi.Gateway {
	gwCfg := httpapi.Config{
		ListenAddr:     cfg.Gateway.Addr(),
		EnableDocs:     cfg.Gateway != nil && cfg.Gateway.EnableDocs,
		MaxRequestSize: cfg.Gateway.RequestSizeLimit(),
	}
	if cfg.Gateway != nil {
		gwCfg.APIKeys = cfg.Gateway.APIKeys
	}
	if sc.Obs != nil {
		gwCfg.HealthChecker = sc.Obs.Health
		if sc.Obs.Metrics != nil {
			gwCfg.Metrics = sc.Obs.Metrics
			gwCfg.MetricsRegistry = sc.Obs.Metrics.Registry
			if cfg.Observability != nil && cfg.Observability.Metrics != nil {
				gwCfg.MetricsPath = cfg.Observability.Metrics.Path
			}
		}
		if sc.Obs.Tracer != nil {
			gwCfg.Tracer = sc.Obs.Tracer.Tracer()
		}
	}

	return httpapi.NewGateway(gwCfg, sc.Sessions, sc.Deps, limiter, sc.Logger).
		WithHistory(sc.Store)
}
