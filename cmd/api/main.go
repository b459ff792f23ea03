package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/creditshare-backend/api"
	"github.com/angelmondragon/creditshare-backend/api/routes"
	"github.com/angelmondragon/creditshare-backend/internal/identity"
	"github.com/angelmondragon/creditshare-backend/internal/products"
	"github.com/angelmondragon/creditshare-backend/internal/purchases"
	"github.com/angelmondragon/creditshare-backend/internal/referrals"
	"github.com/angelmondragon/creditshare-backend/internal/settlement"
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

	conn := dbClient.DB()
	userRepo := users.NewRepository(conn)
	referralRepo := referrals.NewRepository(conn)
	purchaseRepo := purchases.NewRepository(conn)
	productRepo := products.NewRepository(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)

	identityService, err := identity.NewService(identity.ServiceParams{
		Tx:        dbClient,
		Users:     userRepo,
		Referrals: referralRepo,
		Outbox:    emitter,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create identity service", err)
		os.Exit(1)
	}

	settlementService, err := settlement.NewService(settlement.ServiceParams{
		Tx:        dbClient,
		Users:     userRepo,
		Referrals: referralRepo,
		Purchases: purchaseRepo,
		Products:  productRepo,
		Outbox:    emitter,
		Metrics:   metrics.NewSettlementMetrics(prometheus.DefaultRegisterer),
		Logger:    logg,
		Timeout:   cfg.Settlement.Timeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement service", err)
		os.Exit(1)
	}

	productService, err := products.NewService(productRepo, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create product service", err)
		os.Exit(1)
	}
	purchaseService, err := purchases.NewService(purchaseRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create purchase service", err)
		os.Exit(1)
	}
	referralService, err := referrals.NewService(referralRepo, userRepo, cfg.App.FrontendURL)
	if err != nil {
		logg.Error(context.Background(), "failed to create referral service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	handler := routes.NewRouter(
		cfg,
		logg,
		dbClient,
		redisClient,
		prometheus.DefaultGatherer,
		userRepo,
		identityService,
		productService,
		settlementService,
		purchaseService,
		referralService,
	)
	if err := api.Serve(ctx, addr, handler, logg); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down gracefully")
}
