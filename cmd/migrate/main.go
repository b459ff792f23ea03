package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/creditshare-backend/pkg/config"
	"github.com/angelmondragon/creditshare-backend/pkg/db"
	"github.com/angelmondragon/creditshare-backend/pkg/db/models"
	"github.com/angelmondragon/creditshare-backend/pkg/logger"
	"github.com/angelmondragon/creditshare-backend/pkg/migrate"
)

func main() {
	cmd := flag.String("cmd", "up", "up|down|status|version|create|validate")
	dir := flag.String("dir", migrate.DefaultDir, "migrations directory; the default is embedded in the binary")
	name := flag.String("name", "", "migration name for -cmd=create")
	version := flag.String("version", "", "target YYYYMMDDHHMMSS for -cmd=version")
	flag.Parse()

	// create and validate only touch files.
	switch *cmd {
	case "create":
		if *name == "" {
			exit("missing -name for create", nil)
		}
		path, err := migrate.CreateSQLMigration(*dir, *name)
		if err != nil {
			exit("create migration", err)
		}
		fmt.Println("created", path)
		return
	case "validate":
		if err := migrate.ValidateDir(*dir); err != nil {
			exit("validate migrations", err)
		}
		fmt.Println("migrations valid")
		return
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		exit("load config", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
		"dir": *dir,
	})

	if err := run(ctx, cfg, logg, *cmd, *dir, *version); err != nil {
		logg.Error(ctx, "migrate failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "migrate finished")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, cmd, dir, version string) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer dbClient.Close()

	// The SQL files are postgres only; sqlite gets the gorm schema instead.
	if cfg.DB.IsSQLite() {
		if cmd != "up" {
			return fmt.Errorf("-cmd=%s is not supported on sqlite", cmd)
		}
		return dbClient.DB().WithContext(ctx).AutoMigrate(models.All()...)
	}

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	migrator, err := migrate.NewMigrator(sqlDB, dir)
	if err != nil {
		return err
	}
	return migrator.Apply(ctx, cmd, version, os.Stdout)
}

func exit(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	} else {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(2)
}
