package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"LendLedger/internal/config"
	"LendLedger/internal/observability"
	"LendLedger/internal/persistence"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile, databaseURL, migrationsDir string

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply or inspect LendLedger schema migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (env LENDLEDGER_* overrides it)")
	root.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres DSN (default: LENDLEDGER_DATABASE_URL)")
	root.PersistentFlags().StringVar(&migrationsDir, "dir", "", "migrations directory (default: LENDLEDGER_MIGRATIONS_DIR)")

	// open resolves flags over config and connects.
	open := func(ctx context.Context) (*sql.DB, *persistence.Migrator, error) {
		cfg, err := config.Load(configFile)
		if err != nil {
			return nil, nil, err
		}
		if databaseURL != "" {
			cfg.DatabaseURL = databaseURL
		}
		if migrationsDir != "" {
			cfg.MigrationsDir = migrationsDir
		}

		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open db: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ping db: %w", err)
		}
		logger := observability.NewLoggerWithOptions("migrate", observability.LogOptions{Level: cfg.LogLevel})
		return db, persistence.NewMigrator(db, cfg.MigrationsDir, logger), nil
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				db, m, err := open(cmd.Context())
				if err != nil {
					return err
				}
				defer db.Close()

				n, err := m.Up(cmd.Context())
				if err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
				return nil
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				db, m, err := open(cmd.Context())
				if err != nil {
					return err
				}
				defer db.Close()

				if err := m.Down(cmd.Context()); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "rolled back last migration")
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				db, m, err := open(cmd.Context())
				if err != nil {
					return err
				}
				defer db.Close()

				statuses, err := m.Status(cmd.Context())
				if err != nil {
					return fmt.Errorf("migrate status: %w", err)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tFILE\tAPPLIED")
				for _, s := range statuses {
					applied := "pending"
					if s.Applied {
						applied = s.AppliedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", s.Version, s.Filename, applied)
				}
				return w.Flush()
			},
		},
	)
	return root
}
