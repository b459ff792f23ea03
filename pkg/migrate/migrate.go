package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pressly/goose/v3"
)

// DefaultDir is where `-cmd=create` writes new files; the same files are
// compiled into the binary.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Source resolves dir to a migration filesystem. DefaultDir (or "") maps to
// the embedded set so deployed binaries need no checkout.
func Source(dir string) (fs.FS, error) {
	if dir == "" || filepath.Clean(dir) == DefaultDir {
		return fs.Sub(embedded, "migrations")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("migrations dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("migrations dir %s is not a directory", dir)
	}
	return os.DirFS(dir), nil
}

// Migrator runs the postgres schema migrations.
type Migrator struct {
	provider *goose.Provider
}

func NewMigrator(db *sql.DB, dir string) (*Migrator, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	fsys, err := Source(dir)
	if err != nil {
		return nil, err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return &Migrator{provider: provider}, nil
}

// Apply executes up, down, status or version. Version needs target as
// YYYYMMDDHHMMSS. Human readable progress goes to out.
func (m *Migrator) Apply(ctx context.Context, command, target string, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	switch command {
	case "up":
		results, err := m.provider.Up(ctx)
		printResults(out, results...)
		return wrap("up", err)
	case "down":
		result, err := m.provider.Down(ctx)
		if result != nil {
			printResults(out, result)
		}
		return wrap("down", err)
	case "status":
		statuses, err := m.provider.Status(ctx)
		if err != nil {
			return wrap("status", err)
		}
		for _, st := range statuses {
			applied := "pending"
			if st.State == goose.StateApplied {
				applied = st.AppliedAt.UTC().Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(out, "%-16d %-20s %s\n", st.Source.Version, applied, filepath.Base(st.Source.Path))
		}
		return nil
	case "version":
		return m.migrateTo(ctx, target, out)
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}
}

func (m *Migrator) migrateTo(ctx context.Context, target string, out io.Writer) error {
	if target == "" {
		return errors.New("target version is required")
	}
	version, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", target, err)
	}
	current, err := m.provider.GetDBVersion(ctx)
	if err != nil {
		return wrap("version", err)
	}
	switch {
	case current == version:
		fmt.Fprintf(out, "already at %d\n", version)
		return nil
	case current < version:
		results, err := m.provider.UpTo(ctx, version)
		printResults(out, results...)
		return wrap("up-to", err)
	default:
		results, err := m.provider.DownTo(ctx, version)
		printResults(out, results...)
		return wrap("down-to", err)
	}
}

func printResults(out io.Writer, results ...*goose.MigrationResult) {
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		fmt.Fprintf(out, "%-5s %d %s (%s)\n", r.Direction, r.Source.Version, filepath.Base(r.Source.Path), r.Duration.Round(time.Millisecond))
	}
}

func wrap(command string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("goose %s: %w", command, err)
}
