package migrations

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/uptrace/bun"
)

// Options configures the migration runner.
type Options struct {
	// MigrationsDir is the directory containing the .sql migration files.
	MigrationsDir string
}

func DefaultOptions() Options {
	return Options{MigrationsDir: "./migrations"}
}

// Runner applies SQL migrations over the service's bun connection.
type Runner struct {
	bunDB    *bun.DB
	options  Options
	migrator *migrate.Migrate
}

func NewRunner(bunDB *bun.DB, opts Options) *Runner {
	return &Runner{bunDB: bunDB, options: opts}
}

func (r *Runner) initialize() error {
	driver, err := postgres.WithInstance(r.bunDB.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres migration driver: %w", err)
	}

	if _, err := os.Stat(r.options.MigrationsDir); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory does not exist: %s", r.options.MigrationsDir)
	}

	migrator, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", r.options.MigrationsDir),
		"postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	r.migrator = migrator
	return nil
}

// Up applies all pending migrations. Already-up-to-date is not an error.
func (r *Runner) Up() error {
	if r.migrator == nil {
		if err := r.initialize(); err != nil {
			return err
		}
	}
	if err := r.migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Down rolls back the most recent migration.
func (r *Runner) Down() error {
	if r.migrator == nil {
		if err := r.initialize(); err != nil {
			return err
		}
	}
	if err := r.migrator.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("roll back migration: %w", err)
	}
	return nil
}
