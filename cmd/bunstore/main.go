package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kartikbazzad/bunbase/bunstore"
	"github.com/kartikbazzad/bunbase/bunstore/internal/config"
	"github.com/kartikbazzad/bunbase/bunstore/internal/logger"
)

var (
	configPath string
	envPrefix  string
	cfg        = config.Default()
)

var rootCmd = &cobra.Command{
	Use:           "bunstore",
	Short:         "Embedded in-memory document store",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(envPrefix, configPath, &cfg); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger.Init(cfg.Log)
		return nil
	},
}

func openDatabase() (*bunstore.Database, error) {
	return bunstore.Open(bunstore.OptionsFromConfig(cfg))
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&envPrefix, "env-prefix", config.DefaultPrefix, "environment variable prefix")

	rootCmd.AddCommand(newQueryCmd(), newShellCmd(), newBenchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
