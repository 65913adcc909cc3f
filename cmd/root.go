// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/floodgate/internal/config"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "floodgate",
	Short: "floodgate - DDoS mitigation engine",
	Long: `floodgate admits or rejects traffic events per source.

Every event passes a sliding window rate limit and a temporary block list;
admitted events are classified and sources classified as attacks are
blocked for a while.

Features:
  - Per-source sliding window rate limiting with timed blocks
  - Pluggable classifier (built-in thresholds or a remote model)
  - Fail-open or fail-closed when the classifier is unavailable
  - Simulated or replayed traffic, actions to log or Kafka
  - Prometheus metrics and an operator API for manual blocks`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (built-in defaults when empty)")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(generateCmd)
}

// loadConfig loads the --config file and returns the loader for watching.
func loadConfig() (*config.Config, *config.Loader, error) {
	loader := config.NewLoader(configFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, loader, nil
}
