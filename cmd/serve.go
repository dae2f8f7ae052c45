package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/reader/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/reader/internal/logger"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx := cmd.Context()
			app, err := bootstrap.New(ctx, cfg, log, Version)
			if err != nil {
				log.Error("Failed to start reader", logger.Error(err))
				return err
			}
			defer func() {
				if closeErr := app.Close(); closeErr != nil {
					log.Warn("Close backends", logger.Error(closeErr))
				}
			}()
			return app.Run(ctx)
		},
	}
}
