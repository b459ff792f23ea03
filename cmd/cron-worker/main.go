package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/creditshare-backend/internal/cron"
	"github.com/angelmondragon/creditshare-backend/internal/referrals"
	"github.com/angelmondragon/creditshare-backend/internal/users"
	"github.com/angelmondragon/creditshare-backend/pkg/config"
	"github.com/angelmondragon/creditshare-backend/pkg/db"
	"github.com/angelmondragon/creditshare-backend/pkg/instance"
	"github.com/angelmondragon/creditshare-backend/pkg/logger"
	"github.com/angelmondragon/creditshare-backend/pkg/metrics"
	"github.com/angelmondragon/creditshare-backend/pkg/migrate"
	"github.com/angelmondragon/creditshare-backend/pkg/outbox"
	"github.com/angelmondragon/creditshare-backend/pkg/redis"
)

const serviceKind = "cron-worker"

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit (for external schedulers)")
	flag.Parse()

	bootLog := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		bootLog.Warn(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		bootLog.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceKind

	logg := logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceKind,
		"instance":    instance.GetID(),
		"once":        *once,
	})

	if err := run(ctx, cfg, logg, *once); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shut down")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, once bool) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer closeWith(ctx, logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer closeWith(ctx, logg, "redis", redisClient.Close)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), cfg.Cron.LockTTL)
	if err != nil {
		return fmt.Errorf("cron lock: %w", err)
	}
	jobs, err := buildRegistry(cfg, logg, dbClient)
	if err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: jobs,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return err
	}

	if once {
		return service.RunOnce(ctx)
	}
	logg.Info(ctx, "starting cron worker")
	return service.Run(ctx)
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*cron.Registry, error) {
	conn := dbClient.DB()
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:        logg,
		DB:            dbClient,
		Repository:    outbox.NewRepository(conn),
		DeadLetters:   outbox.NewDLQRepository(conn),
		RetentionDays: cfg.Cron.OutboxRetentionDays,
		MinAttempts:   cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	reconcile, err := cron.NewReferralCounterJob(cron.ReferralCounterJobParams{
		Logger:    logg,
		Referrals: referrals.NewRepository(conn),
		Users:     users.NewRepository(conn),
	})
	if err != nil {
		return nil, err
	}

	registry := cron.NewRegistry()
	return registry, errors.Join(registry.Register(retention), registry.Register(reconcile))
}

// lockName scopes the lease per environment.
func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return serviceKind + ":" + env
}

func closeWith(ctx context.Context, logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(context.WithoutCancel(ctx), "error closing "+name, err)
	}
}
