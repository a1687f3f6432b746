// Package cli implements the lens command line.
package cli

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"lightning-lens/internal/config"
	"lightning-lens/internal/logging"
)

type rootOptions struct {
	configFile string
	envFile    string
	v          *viper.Viper
}

// NewRootCommand builds the lens command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "lens",
		Short: "Adaptive channel liquidity recommendations for Lightning nodes",
		Long: `lens learns the optimal local balance ratio of Lightning channels from
streaming telemetry and turns its predictions into rebalancing suggestions.`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configFile, "config", "c", "", "config file (default is ./lens.yaml or ./config/lens.yaml)")
	pf.StringVar(&opts.envFile, "env-file", "", "env file to load before reading LENS_* variables (default .env)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-format", "", "log format: text or json")
	_ = opts.v.BindPFlag("log.level", pf.Lookup("log-level"))
	_ = opts.v.BindPFlag("log.format", pf.Lookup("log-format"))

	cmd.AddCommand(
		newServeCommand(opts),
		newPredictCommand(opts),
		newSnapshotCommand(opts),
		newMigrateCommand(opts),
	)
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

// load resolves configuration and builds the logger for a command.
func (o *rootOptions) load() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(config.LoadOptions{
		ConfigFile: o.configFile,
		EnvFile:    o.envFile,
		Viper:      o.v,
	})
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("configure logging: %w", err)
	}
	return cfg, logger, nil
}
