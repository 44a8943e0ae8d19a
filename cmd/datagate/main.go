// Package main is the entry point for the datagate resilience daemon. It
// loads configuration, builds the per-backend registry, starts the ops HTTP
// server (health, readiness, metrics, admin), and handles graceful shutdown
// on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dskow/datagate-core/internal/admin"
	"github.com/dskow/datagate-core/internal/auth"
	"github.com/dskow/datagate-core/internal/config"
	"github.com/dskow/datagate-core/internal/guard"
	"github.com/dskow/datagate-core/internal/health"
	"github.com/dskow/datagate-core/internal/logging"
	"github.com/dskow/datagate-core/internal/metrics"
	"github.com/dskow/datagate-core/internal/middleware"
	"github.com/dskow/datagate-core/internal/registry"
	"github.com/dskow/datagate-core/internal/simulate"
)

func main() {
	configPath := flag.String("config", "configs/datagate.yaml", "path to configuration file")
	flag.Parse()

	bootstrap := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootstrap.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		bootstrap.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}

	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"backends", len(cfg.Backends),
		"auth_enabled", cfg.Auth.Enabled,
		"admin_enabled", cfg.Admin.Enabled,
		"metrics_enabled", cfg.Metrics.IsEnabled(),
	)

	if cfg.Metrics.IsEnabled() {
		metrics.Init()
	}

	reg := registry.New(cfg.Backends, logger)

	// Ops mux: health, readiness, metrics, admin.
	mux := http.NewServeMux()

	healthHandler := health.New(reg, logger)
	healthHandler.RegisterRoutes(mux)

	if cfg.Metrics.IsEnabled() {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
		logger.Info("metrics endpoint registered", "path", cfg.Metrics.Path)
	}

	// Initialize config reloader before the admin handler so /admin/config
	// reflects reloads.
	reloader := config.NewReloader(*configPath, cfg, logger)
	reloader.Start()
	defer reloader.Stop()

	reloader.OnReload(func(newCfg *config.Config) {
		reg.UpdateConfig(newCfg.Backends)
	})

	if cfg.Admin.Enabled {
		adminHandler := admin.New(reloader, reg, cfg.Admin.IPAllowlist, logger)
		adminHandler.RegisterRoutes(mux)
		logger.Info("admin endpoints registered")
	}

	// Middleware stack: Recovery → RequestID → Logging → Auth → mux.
	// Auth (when enabled) applies to admin paths only.
	adminPath := func(path string) bool { return strings.HasPrefix(path, "/admin/") }
	var handler http.Handler = mux
	handler = auth.Middleware(cfg.Auth, adminPath, logger)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(logger)(handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Synthetic drivers (enabled per backend via config) exercise the
	// resilience pipeline so the ops surface has live data.
	simCtx, simCancel := context.WithCancel(context.Background())
	defer simCancel()
	if n := simulate.Start(simCtx, cfg.Backends, func(name string) (*guard.Guard, bool) {
		b, ok := reg.Get(name)
		if !ok {
			return nil, false
		}
		return b.Guard, true
	}, logger); n > 0 {
		logger.Info("simulation drivers running", "count", n)
	}

	go func() {
		logger.Info("starting ops server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	simCancel()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("shutdown complete")
}
