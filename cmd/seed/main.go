package main

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/creditshare-backend/internal/products"
	"github.com/angelmondragon/creditshare-backend/pkg/config"
	"github.com/angelmondragon/creditshare-backend/pkg/db"
	"github.com/angelmondragon/creditshare-backend/pkg/logger"
	"github.com/angelmondragon/creditshare-backend/pkg/migrate"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "seed"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	file := flag.String("catalog", "", "YAML catalog file (defaults to the embedded catalog)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: "seed",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithField(context.Background(), "env", cfg.App.Env)

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	var source io.Reader = products.DefaultCatalog()
	if *file != "" {
		f, err := os.Open(*file)
		if err != nil {
			logg.Error(ctx, "failed to open catalog", err)
			os.Exit(1)
		}
		defer f.Close()
		source = f
		ctx = logg.WithField(ctx, "catalog", *file)
	}

	catalog, err := products.LoadCatalog(source)
	if err != nil {
		logg.Error(ctx, "failed to parse catalog", err)
		os.Exit(1)
	}

	svc, err := products.NewService(products.NewRepository(dbClient.DB()), logg)
	if err != nil {
		logg.Error(ctx, "failed to create product service", err)
		os.Exit(1)
	}
	n, err := svc.Seed(ctx, catalog)
	if err != nil {
		logg.Error(ctx, "failed to seed catalog", err)
		os.Exit(1)
	}
	logg.Info(logg.WithField(ctx, "products", n), "catalog seeded")
}
