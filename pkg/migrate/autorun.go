package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/creditshare-backend/pkg/config"
	"github.com/angelmondragon/creditshare-backend/pkg/db"
	"github.com/angelmondragon/creditshare-backend/pkg/db/models"
	"github.com/angelmondragon/creditshare-backend/pkg/logger"
)

// MaybeRunDev migrates automatically in dev when CREDITSHARE_AUTO_MIGRATE is set.
// Postgres runs the goose SQL migrations; sqlite uses gorm AutoMigrate because
// the SQL files are postgres specific.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "dir": DefaultDir, "driver": client.Dialect()})

	if cfg.DB.IsSQLite() {
		logg.Info(ctx, "running sqlite auto-migrate (dev auto-run)")
		if err := client.DB().WithContext(ctx).AutoMigrate(models.All()...); err != nil {
			return fmt.Errorf("sqlite auto-migrate: %w", err)
		}
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	migrator, err := NewMigrator(sqlDB, DefaultDir)
	if err != nil {
		return err
	}
	logg.Info(ctx, "running goose migrations (dev auto-run)")
	if err := migrator.Apply(ctx, "up", "", nil); err != nil {
		return err
	}
	logg.Info(ctx, "goose migrations completed")
	return nil
}
