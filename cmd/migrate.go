package cmd

import (
	"errors"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/reader/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/reader/internal/config"
	"github.com/jonesrussell/north-cloud/reader/internal/database"
	"github.com/jonesrussell/north-cloud/reader/internal/logger"
)

var errMemoryDriver = errors.New("migrations need database.driver=postgres")

func newMigrateCommand() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the catalog schema",
	}

	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(*cobra.Command, []string) error {
				return withDatabase(func(cfg *config.Config, log logger.Logger) error {
					return bootstrap.Migrate(cfg.Database, log)
				})
			},
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back migrations (default 1)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil {
						return err
					}
					steps = n
				}
				return withMigrator(func(m *database.Migrator) error { return m.Down(steps) })
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(func(m *database.Migrator) error {
					v, dirty, err := m.Version()
					if err != nil {
						return err
					}
					cmd.Printf("version %d (dirty: %t)\n", v, dirty)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Set the schema version without migrating",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return err
				}
				return withMigrator(func(m *database.Migrator) error { return m.Force(v) })
			},
		},
	)
	return migrateCmd
}

func withDatabase(fn func(*config.Config, logger.Logger) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	if cfg.Database.Driver != config.DriverPostgres {
		return errMemoryDriver
	}
	return fn(cfg, log)
}

func withMigrator(fn func(*database.Migrator) error) error {
	return withDatabase(func(cfg *config.Config, log logger.Logger) (err error) {
		m, err := database.NewMigrator(cfg.Database, log)
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, m.Close()) }()
		return fn(m)
	})
}
