// Package dbtest opens throwaway sqlite databases carrying the full schema.
package dbtest

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditshare-backend/pkg/db"
	"github.com/angelmondragon/creditshare-backend/pkg/db/models"
)

// Open returns an in-memory database migrated with every model.
func Open(t testing.TB) *db.Client {
	t.Helper()
	dsn := fmt.Sprintf("file:creditshare_%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	return open(t, dsn)
}

// OpenFile backs the database with a temp file; use it for concurrent tests
// where many goroutines queue on the single connection.
func OpenFile(t testing.TB) *db.Client {
	t.Helper()
	path := filepath.Join(t.TempDir(), "creditshare.db")
	return open(t, fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", path))
}

func open(t testing.TB, dsn string) *db.Client {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(dsn), db.GormConfig(nil, 0))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return db.Wrap(conn)
}
