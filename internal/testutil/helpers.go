package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"LendLedger/internal/persistence"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// DatabaseURLEnv names the Postgres DSN used by integration tests. Tests
// that need Postgres skip when it is unset.
const DatabaseURLEnv = "TEST_DATABASE_URL"

// PostgresDSN returns the integration DSN or skips the test.
func PostgresDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv(DatabaseURLEnv)
	if dsn == "" {
		t.Skipf("skipping postgres test (set %s)", DatabaseURLEnv)
	}
	return dsn
}

// SetupTestDB connects to the integration database, applies every
// migration and truncates the ledger tables when the test ends.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("postgres", PostgresDSN(t))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		t.Fatalf("ping test db: %v", err)
	}

	migrator := persistence.NewMigrator(db, MigrationsDir(t), zerolog.Nop())
	if _, err := migrator.Up(ctx); err != nil {
		db.Close()
		t.Fatalf("migrate test db: %v", err)
	}
	truncate(t, db)

	t.Cleanup(func() {
		truncate(t, db)
		db.Close()
	})
	return db
}

var ledgerTables = []string{
	"event_log.events",
	"event_log.journal",
	"event_log.audit",
	"event_log.snapshots",
	"projections.balances",
	"projections.debt_accounts",
	"projections.vault_pool",
	"projections.pool_history",
	"projections.watermark",
}

func truncate(t *testing.T, db *sql.DB) {
	t.Helper()
	for _, table := range ledgerTables {
		if _, err := db.Exec(fmt.Sprintf("TRUNCATE %s CASCADE", table)); err != nil {
			t.Logf("truncate %s: %v", table, err)
		}
	}
}

// MigrationsDir walks up from the test's working directory to the module
// root and returns its migrations/ directory.
func MigrationsDir(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return filepath.Join(dir, "migrations")
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("go.mod not found above working directory")
		}
		dir = parent
	}
}
