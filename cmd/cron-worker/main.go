package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/reapears/reapears-backend/internal/cron"
	"github.com/reapears/reapears-backend/internal/reaper"
	"github.com/reapears/reapears-backend/pkg/clock"
	"github.com/reapears/reapears-backend/pkg/config"
	"github.com/reapears/reapears-backend/pkg/db"
	"github.com/reapears/reapears-backend/pkg/instance"
	"github.com/reapears/reapears-backend/pkg/logger"
	"github.com/reapears/reapears-backend/pkg/metrics"
	"github.com/reapears/reapears-backend/pkg/migrate"
	"github.com/reapears/reapears-backend/pkg/redis"
	"github.com/reapears/reapears-backend/pkg/storage/backend"
)

const lockName = "cron-worker"

func main() {
	once := flag.Bool("once", false, "run every job a single time and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

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

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(cfg.App.Env, lockName), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry, err := cron.NewRegistry()
	if err != nil {
		logg.Error(context.Background(), "failed to create cron registry", err)
		os.Exit(1)
	}

	if cfg.Cron.OrphanSweep {
		sweep, err := cron.NewOrphanImageSweepJob(cron.OrphanImageSweepJobParams{
			Logger: logg,
			Store:  store,
			Refs:   cron.NewImageReferenceRepository(dbClient.DB()),
			Dirs: map[reaper.Kind]string{
				reaper.KindHarvest:  cfg.Media.HarvestDir,
				reaper.KindFarmLogo: cfg.Media.FarmLogoDir,
			},
			Clock:   clock.Real{},
			Grace:   cfg.Cron.OrphanGrace,
			DryRun:  cfg.Cron.OrphanSweepDryRun,
			Metrics: metrics.NewReaperMetrics(prometheus.DefaultRegisterer),
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create orphan image sweep", err)
			os.Exit(1)
		}
		if err := registry.Register(sweep); err != nil {
			logg.Error(context.Background(), "failed to register orphan image sweep", err)
			os.Exit(1)
		}
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Clock:    clock.Real{},
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
		"jobs":        len(registry.Jobs()),
	})

	if *once {
		logg.Info(ctx, "running cron jobs once")
		if err := service.RunOnce(ctx); err != nil {
			logg.Error(ctx, "cron run failed", err)
			os.Exit(1)
		}
		return
	}

	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
