package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tasksync/internal/api"
	"tasksync/internal/database"
	"tasksync/internal/events"
	"tasksync/internal/logging"
	"tasksync/internal/metrics"
	"tasksync/internal/syncer"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newServeCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP API, auto sync and backups until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, configPath())
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	logger := a.logger.With().Str("component", "serve").Logger()
	cfg := a.cfg

	startMetrics(ctx, a, &logger)

	backup := database.NewBackupService(cfg.Database.Path, cfg.Backup, logging.Component(&a.logger, "backup"))
	go backup.Start(ctx)

	if cfg.Sync.AutoSync {
		auto := syncer.NewAutoSyncer(a.runner, cfg.Sync.AutoSyncInterval, a.policy, logging.Component(&a.logger, "autosync"))
		a.bus.Subscribe(func(*events.Event) error {
			auto.Trigger()
			return nil
		}, events.EventTaskCreated, events.EventTaskUpdated, events.EventTaskDeleted, events.EventTaskRequeued)
		go auto.Start(ctx)
	}

	var httpServer *api.HTTPServer
	if cfg.API.Enabled {
		httpServer = api.NewHTTPServer(cfg.API, a.tasks, a.runner, logging.Component(&a.logger, "http"))
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	logger.Info().
		Bool("api", cfg.API.Enabled).
		Int("http_port", cfg.API.HTTP.Port).
		Bool("auto_sync", cfg.Sync.AutoSync).
		Msg("tasksync started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}

	logger.Info().Msg("tasksync stopped")
	return nil
}

func startMetrics(ctx context.Context, a *app, logger *zerolog.Logger) {
	if !a.cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, a.cfg.Monitoring.PrometheusPort, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
