package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/reapears/reapears-backend/api/routes"
	"github.com/reapears/reapears-backend/internal/archive"
	"github.com/reapears/reapears-backend/internal/cascade"
	"github.com/reapears/reapears-backend/internal/reaper"
	"github.com/reapears/reapears-backend/pkg/clock"
	"github.com/reapears/reapears-backend/pkg/config"
	"github.com/reapears/reapears-backend/pkg/db"
	"github.com/reapears/reapears-backend/pkg/instance"
	"github.com/reapears/reapears-backend/pkg/logger"
	"github.com/reapears/reapears-backend/pkg/metrics"
	"github.com/reapears/reapears-backend/pkg/migrate"
	"github.com/reapears/reapears-backend/pkg/storage/backend"
)

const shutdownGrace = 20 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	store, closeStore, err := backend.Open(context.Background(), cfg.Media, cfg.GCP, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to open media store", err)
		os.Exit(1)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logg.Error(context.Background(), "error closing media store", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	shutdownMode, err := reaper.ParseShutdownMode(cfg.Reaper.ShutdownMode)
	if err != nil {
		logg.Error(context.Background(), "invalid reaper shutdown mode", err)
		os.Exit(1)
	}

	assetReaper, err := reaper.New(reaper.Options{
		Store:   store,
		Logger:  logg,
		Metrics: metrics.NewReaperMetrics(registry),
		Dirs: map[reaper.Kind]string{
			reaper.KindHarvest:  cfg.Media.HarvestDir,
			reaper.KindFarmLogo: cfg.Media.FarmLogoDir,
		},
		Formats:     cfg.Media.ImageFormats,
		Workers:     cfg.Reaper.Workers,
		QueueSize:   cfg.Reaper.QueueSize,
		Parallelism: cfg.Reaper.Parallelism,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to start asset reaper", err)
		os.Exit(1)
	}

	cascadeService, err := cascade.NewService(cascade.ServiceParams{
		Repo:    cascade.NewRepository(dbClient.DB()),
		Tx:      dbClient,
		Reaper:  assetReaper,
		Clock:   clock.Real{},
		Policy:  archive.NewPolicy(cfg.Archive.MaxAge()),
		Logger:  logg,
		Metrics: metrics.NewCascadeMetrics(registry),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cascade service", err)
		os.Exit(1)
	}

	addr := ":" + cfg.App.Port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:   cfg,
			Logger:   logg,
			DB:       dbClient,
			Cascade:  cascadeService,
			Reaper:   assetReaper,
			Gatherer: registry,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exitCode := 0
	select {
	case err := <-serveErr:
		if err != nil {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			exitCode = 1
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutdown signal received")
	}

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), shutdownGrace)
	if err := server.Shutdown(httpCtx); err != nil {
		logg.Error(ctx, "http server shutdown incomplete", err)
	}
	cancelHTTP()

	// Requests are drained; no new jobs can arrive past this point.
	reaperCtx, cancelReaper := context.WithTimeout(context.Background(), cfg.Reaper.ShutdownTimeout)
	if err := assetReaper.Shutdown(reaperCtx, shutdownMode); err != nil {
		logg.Error(logg.WithField(ctx, "pending_jobs", assetReaper.Pending()), "reaper shutdown incomplete", err)
	}
	cancelReaper()

	logg.Info(ctx, "api server stopped")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
