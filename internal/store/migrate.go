package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// applyMigrations runs the embedded migrations for driver against db.
func applyMigrations(db *sql.DB, driver Driver) error {
	if db == nil {
		return errors.New("database connection is nil, cannot apply migrations")
	}

	var (
		dir      string
		dbDriver database.Driver
		err      error
	)
	switch driver {
	case DriverPostgres:
		dir = "migrations/postgres"
		dbDriver, err = postgres.WithInstance(db, &postgres.Config{})
	case DriverSQLite:
		dir = "migrations/sqlite"
		dbDriver, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	default:
		return fmt.Errorf("unsupported driver %q", driver)
	}
	if err != nil {
		return fmt.Errorf("failed to create %s migration driver: %w", driver, err)
	}

	source, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("failed to create embed source driver instance: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, string(driver), dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := migrator.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Debug("applyMigrations: no migrations to apply", "driver", driver)
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, _ := migrator.Version()
	slog.Info("applyMigrations: migrations applied", "driver", driver, "version", version, "dirty", dirty)
	return nil
}
