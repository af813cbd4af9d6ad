// Package migration applies the numbered SQL files of a schema to a
// database. Files are named NNN_description.sql and run once each, in
// version order, every one in its own transaction. Applied versions are
// recorded one row per file in schema_migrations.
package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// ErrSchemaTooNew means the database was migrated by a newer build.
var ErrSchemaTooNew = errors.New("database schema is newer than this build supports")

type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) bind(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Migration is one schema file.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Load reads every .sql file at the root of fsys, ordered by version.
func Load(fsys fs.FS) ([]Migration, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		version, desc, err := parseName(name)
		if err != nil {
			return nil, err
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		out = append(out, Migration{Version: version, Name: desc, SQL: string(body)})
	}

	slices.SortFunc(out, func(a, b Migration) int { return a.Version - b.Version })
	for i := 1; i < len(out); i++ {
		if out[i].Version == out[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %d (%s, %s)", out[i].Version, out[i-1].Name, out[i].Name)
		}
	}
	return out, nil
}

func parseName(name string) (int, string, error) {
	num, desc, ok := strings.Cut(strings.TrimSuffix(path.Base(name), ".sql"), "_")
	if !ok || desc == "" {
		return 0, "", fmt.Errorf("migration %s: name must look like NNN_description.sql", name)
	}
	version, err := strconv.Atoi(num)
	if err != nil {
		return 0, "", fmt.Errorf("migration %s: version %q is not a number", name, num)
	}
	if version < 1 {
		return 0, "", fmt.Errorf("migration %s: version must be at least 1", name)
	}
	return version, desc, nil
}

// Runner brings one database up to the newest schema in its source.
type Runner struct {
	db      *sql.DB
	source  fs.FS
	dialect Dialect
	log     *log.Logger
}

// New returns a Runner. A nil logger discards progress lines.
func New(db *sql.DB, source fs.FS, dialect Dialect, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Runner{db: db, source: source, dialect: dialect, log: logger}
}

func (r *Runner) ensureTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}
	return nil
}

// Version is the highest applied version, 0 for a fresh database.
func (r *Runner) Version(ctx context.Context) (int, error) {
	if err := r.ensureTable(ctx); err != nil {
		return 0, err
	}
	var v sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(v.Int64), nil
}

// Up applies every migration above the current version and returns how
// many ran. A failed file is rolled back and stops the run; the ones before
// it stay applied.
func (r *Runner) Up(ctx context.Context) (int, error) {
	all, err := Load(r.source)
	if err != nil {
		return 0, err
	}
	current, err := r.Version(ctx)
	if err != nil {
		return 0, err
	}
	if err := ahead(all, current); err != nil {
		return 0, err
	}

	start := time.Now()
	applied := 0
	for _, m := range all {
		if m.Version <= current {
			continue
		}
		if err := r.apply(ctx, m); err != nil {
			return applied, err
		}
		applied++
		r.log.Debug("Applied migration", "version", m.Version, "name", m.Name)
	}
	if applied > 0 {
		r.log.Debug("Schema migrated", "from", current, "applied", applied, "took", time.Since(start))
	}
	return applied, nil
}

func (r *Runner) apply(ctx context.Context, m Migration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %d: %w", m.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Name, err)
	}
	record := fmt.Sprintf(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (%s, %s, %s)`,
		r.dialect.bind(1), r.dialect.bind(2), r.dialect.bind(3))
	if _, err := tx.ExecContext(ctx, record, m.Version, m.Name, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("migration %d: record version: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migration %d: commit: %w", m.Version, err)
	}
	return nil
}

func ahead(all []Migration, current int) error {
	if n := len(all); n > 0 && current > all[n-1].Version {
		return fmt.Errorf("%w: database at %d, newest known %d", ErrSchemaTooNew, current, all[n-1].Version)
	}
	return nil
}
