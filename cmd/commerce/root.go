package main

import (
	"github.com/spf13/cobra"

	"github.com/R3E-Network/commerce_layer/internal/config"
	"github.com/R3E-Network/commerce_layer/internal/logging"
)

// rootOptions carries the global flags to every subcommand.
type rootOptions struct {
	envFile  string
	logLevel string
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.envFile)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg, nil
}

func (o *rootOptions) logger(cfg *config.Config) *logging.Logger {
	return logging.New("commerce", cfg.LogLevel, cfg.LogFormat)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "commerce",
		Short: "Commerce API server and store tooling",
		Long: `commerce serves the modular commerce API (shipping, promotions,
inventory and the reserved scaffold modules) and provides direct access to
the configured key/value store.

Configuration is read from the environment, optionally seeded from an env
file (--env-file, default ./.env when present).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "load environment variables from this file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override LOG_LEVEL")

	root.AddCommand(
		newServeCmd(opts),
		newKVCmd(opts),
		newShipCmd(),
	)
	return root
}
