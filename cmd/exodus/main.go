// Command exodus runs agent sessions and talks to the executor daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/exodus/config"
	"github.com/hupe1980/exodus/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "exodus",
	Short: "Multi-agent runtime with handoffs and sandboxed tool execution",
	Long: `exodus runs conversations between a user and a set of configured agents.

Agents are loaded from the agents directory (see [agent] agents_dir in
exodus.toml). The active agent may call tools or transfer the conversation
to another agent; tools run locally or inside a Docker container.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $EXODUS_CONFIG or ./exodus.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(executorCmd)
	rootCmd.AddCommand(containerCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads and validates the runtime configuration and builds the
// process logger from it.
func loadConfig(cmd *cobra.Command) (*config.RuntimeConfig, *logging.ExodusLogger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	lc := cfg.LoggerConfig("exodus")
	if verbose {
		lc.Level = logging.LogLevelDebug
	}
	lc.Output = cmd.ErrOrStderr()
	return cfg, logging.NewLogger(lc), nil
}
