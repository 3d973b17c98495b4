package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	var (
		postgresURL    string
		migrationsPath string
	)

	open := func() (*migrate.Migrate, error) {
		if postgresURL == "" {
			return nil, errors.New("POSTGRES_URL environment variable is required")
		}
		return migrate.New(migrationsPath, postgresURL)
	}

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply storefront database migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&postgresURL, "database", os.Getenv("POSTGRES_URL"), "postgres connection url")
	root.PersistentFlags().StringVar(&migrationsPath, "path", envOr("MIGRATIONS_PATH", "file://migrations"), "migrations source url")

	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(_ *cobra.Command, _ []string) error {
			m, err := open()
			if err != nil {
				return err
			}
			defer func() { _, _ = m.Close() }()

			err = m.Up()
			if errors.Is(err, migrate.ErrNoChange) {
				logger.Info("no pending migrations")
				return nil
			}
			if err != nil {
				return err
			}
			logger.Info("migrations applied successfully")
			return nil
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations, one step by default",
		RunE: func(_ *cobra.Command, _ []string) error {
			m, err := open()
			if err != nil {
				return err
			}
			defer func() { _, _ = m.Close() }()

			err = m.Steps(-steps)
			if errors.Is(err, migrate.ErrNoChange) {
				logger.Info("no migrations to rollback")
				return nil
			}
			if err != nil {
				return err
			}
			logger.Info("migrations rolled back successfully", slog.Int("steps", steps))
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	root.AddCommand(down)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current migration version",
		RunE: func(_ *cobra.Command, _ []string) error {
			m, err := open()
			if err != nil {
				return err
			}
			defer func() { _, _ = m.Close() }()

			version, dirty, err := m.Version()
			if errors.Is(err, migrate.ErrNilVersion) {
				logger.Info("no migrations applied yet")
				return nil
			}
			if err != nil {
				return err
			}
			logger.Info("current migration version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		logger.Error("migrate failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
