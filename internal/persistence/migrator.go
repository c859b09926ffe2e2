package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Migrator runs SQL migration files in order.
// File naming follows golang-migrate: {version}_{name}.up.sql / .down.sql
type Migrator struct {
	db            *sql.DB
	migrationsDir string
	logger        zerolog.Logger
}

// MigrationStatus is one migration file and whether it is applied.
type MigrationStatus struct {
	Version   string
	Filename  string
	Applied   bool
	AppliedAt time.Time
}

func NewMigrator(db *sql.DB, migrationsDir string, logger zerolog.Logger) *Migrator {
	return &Migrator{db: db, migrationsDir: migrationsDir, logger: logger}
}

// Up applies all pending up-migrations in order, each in its own
// transaction. It returns the number applied.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	if err := m.ensureMigrationTable(ctx); err != nil {
		return 0, fmt.Errorf("ensure migration table: %w", err)
	}

	applied, err := m.getAppliedVersions(ctx)
	if err != nil {
		return 0, fmt.Errorf("get applied versions: %w", err)
	}

	files, err := m.listMigrationFiles(".up.sql")
	if err != nil {
		return 0, fmt.Errorf("list migrations: %w", err)
	}

	n := 0
	for _, f := range files {
		version := extractVersion(f)
		if _, ok := applied[version]; ok {
			continue
		}
		if err := m.apply(ctx, f, `INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)`, version, f); err != nil {
			return n, err
		}
		m.logger.Info().Str("migration", f).Msg("applied migration")
		n++
	}
	return n, nil
}

// Down rolls back the last applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureMigrationTable(ctx); err != nil {
		return err
	}

	var version, filename string
	err := m.db.QueryRowContext(ctx,
		`SELECT version, filename FROM public.schema_migrations ORDER BY version DESC LIMIT 1`,
	).Scan(&version, &filename)
	if errors.Is(err, sql.ErrNoRows) {
		m.logger.Info().Msg("no migrations to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("get latest migration: %w", err)
	}

	downFile := strings.Replace(filename, ".up.sql", ".down.sql", 1)
	if err := m.apply(ctx, downFile, `DELETE FROM public.schema_migrations WHERE version = $1`, version); err != nil {
		return err
	}
	m.logger.Info().Str("migration", downFile).Msg("rolled back migration")
	return nil
}

// Status lists every up-migration file with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.ensureMigrationTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.getAppliedVersions(ctx)
	if err != nil {
		return nil, err
	}
	files, err := m.listMigrationFiles(".up.sql")
	if err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, 0, len(files))
	for _, f := range files {
		version := extractVersion(f)
		at, ok := applied[version]
		out = append(out, MigrationStatus{Version: version, Filename: f, Applied: ok, AppliedAt: at})
	}
	return out, nil
}

// apply runs one migration file and its bookkeeping statement atomically.
func (m *Migrator) apply(ctx context.Context, file, record string, args ...interface{}) error {
	content, err := os.ReadFile(filepath.Join(m.migrationsDir, file))
	if err != nil {
		return fmt.Errorf("read migration %s: %w", file, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", file, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("exec migration %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	return tx.Commit()
}

func (m *Migrator) ensureMigrationTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (m *Migrator) getAppliedVersions(ctx context.Context) (map[string]time.Time, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version, applied_at FROM public.schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]time.Time)
	for rows.Next() {
		var v string
		var at time.Time
		if err := rows.Scan(&v, &at); err != nil {
			return nil, err
		}
		applied[v] = at
	}
	return applied, rows.Err()
}

func (m *Migrator) listMigrationFiles(suffix string) ([]string, error) {
	entries, err := os.ReadDir(m.migrationsDir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// extractVersion returns the numeric prefix of a migration filename,
// e.g. "000001_event_log.up.sql" -> "000001".
func extractVersion(filename string) string {
	version, _, _ := strings.Cut(filename, "_")
	return version
}
