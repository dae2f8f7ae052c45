package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/jonesrussell/north-cloud/reader/internal/config"
	"github.com/jonesrussell/north-cloud/reader/internal/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrator applies the embedded migrations to one database.
type Migrator struct {
	m   *migrate.Migrate
	log logger.Logger
}

// NewMigrator opens a dedicated connection for migrations. Close releases
// it together with the migration source.
func NewMigrator(cfg config.DatabaseConfig, log logger.Logger) (*Migrator, error) {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database connection: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create postgres driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	return &Migrator{m: m, log: logger.OrNop(log)}, nil
}

// Up applies all pending migrations.
func (g *Migrator) Up() error {
	if err := g.m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			g.log.Info("No pending migrations")
			return nil
		}
		return fmt.Errorf("run migrations: %w", err)
	}
	g.log.Info("Migrations applied")
	return nil
}

// Down rolls back steps migrations, at least one.
func (g *Migrator) Down(steps int) error {
	steps = max(steps, 1)
	if err := g.m.Steps(-steps); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			g.log.Info("No migrations to roll back")
			return nil
		}
		return fmt.Errorf("roll back migrations: %w", err)
	}
	g.log.Info("Migrations rolled back", logger.Int("steps", steps))
	return nil
}

// Version returns the applied version. A database with no migrations
// reports version 0.
func (g *Migrator) Version() (version uint, dirty bool, err error) {
	version, dirty, err = g.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get migration version: %w", err)
	}
	return version, dirty, nil
}

// Force sets the version without running migrations, clearing a dirty flag.
func (g *Migrator) Force(version int) error {
	if err := g.m.Force(version); err != nil {
		return fmt.Errorf("force migration version: %w", err)
	}
	g.log.Info("Migration version forced", logger.Int("version", version))
	return nil
}

// Close releases the migration source and the connection.
func (g *Migrator) Close() error {
	srcErr, dbErr := g.m.Close()
	return errors.Join(srcErr, dbErr)
}
