// Package cmd implements the reader command line.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/reader/internal/config"
	"github.com/jonesrussell/north-cloud/reader/internal/logger"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

const defaultConfigPath = "config.yml"

var (
	cfgFile string
	debug   bool
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "reader",
		Short:         "North Cloud reader service",
		Long:          "Serves the post catalog and hosts windowed, chunked reading views over HTTP.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default $CONFIG_PATH or "+defaultConfigPath+")")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(newServeCommand(), newMigrateCommand(), newVersionCommand())
	return root
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return newRootCommand().ExecuteContext(ctx)
}

// loadConfig reads the configuration and builds the logger for a command.
func loadConfig() (*config.Config, logger.Logger, error) {
	path := cfgFile
	if path == "" {
		path = config.GetConfigPath(defaultConfigPath)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if debug {
		cfg.Debug = true
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, log, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("reader %s\n", Version)
		},
	}
}
