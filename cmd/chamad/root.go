package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmynk/chamaledger/internal/config"
	"github.com/mmynk/chamaledger/pkg/logging"
)

// loadFunc loads and validates the configuration named by --config and
// installs the logger.
type loadFunc func() (*config.Config, error)

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "chamad",
		Short:         "Chama contribution ledger and payout rotation engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		logging.Setup(cfg.Log.Level, cfg.Log.Format)
		return cfg, nil
	}

	rootCmd.AddCommand(newServeCmd(load))
	rootCmd.AddCommand(newSweepCmd(load))
	rootCmd.AddCommand(newTokenCmd(load))
	return rootCmd
}
