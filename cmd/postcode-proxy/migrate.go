package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/webuildtrades/postcode-lookup/internal/config"
	"github.com/webuildtrades/postcode-lookup/internal/database"
	"github.com/webuildtrades/postcode-lookup/internal/database/migrations"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long:  `Apply, roll back and inspect the PostgreSQL or MySQL schema. SQLite databases are created with their schema in place.`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: withMigrator(func(cmd *cobra.Command, m *migrations.MigrationRunner) error {
				if err := m.Up(); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: withMigrator(func(cmd *cobra.Command, m *migrations.MigrationRunner) error {
				if err := m.Down(); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Rolled back one migration")
				return nil
			}),
		},
		&cobra.Command{
			Use:     "status",
			Aliases: []string{"version"},
			Short:   "Show the current migration version",
			RunE: withMigrator(func(cmd *cobra.Command, m *migrations.MigrationRunner) error {
				version, err := m.Status()
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Current migration version: %d\n", version)
				return nil
			}),
		},
	)
	return cmd
}

// withMigrator opens the configured database without migrating on connect
// and hands its runner to fn.
func withMigrator(fn func(*cobra.Command, *migrations.MigrationRunner) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg := config.DefaultConfig()
		cfg.DatabaseDriver = config.EnvOrDefault("DB_DRIVER", cfg.DatabaseDriver)
		cfg.DatabasePath = config.EnvOrDefault("DATABASE_PATH", cfg.DatabasePath)
		cfg.DatabaseURL = config.EnvOrDefault("DATABASE_URL", "")

		dbConfig := buildDatabaseConfig(cfg)
		dbConfig.SkipMigrations = true
		db, err := database.NewFromConfig(dbConfig)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer func() { _ = db.Close() }()

		m, err := db.Migrator()
		if err != nil {
			return err
		}
		return fn(cmd, m)
	}
}
