package main

import (
	"fmt"
	"os"
	"time"

	"gamepilot/internal/config"
	"gamepilot/internal/logging"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose    bool
	configPath string
	timeout    time.Duration
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "pilot",
	Short: "gamepilot - decision orchestration for LLM card game players",
	Long: `gamepilot turns game prompts into decisions under hard deadlines.

Each event is answered by a tiered LLM backend chosen by board complexity and
remaining budget, with a rule-based fallback when the model is slow, broken
or unaffordable. Background analysis keeps a generational cache of board,
strategy, opponent and deck reads fresh between rounds.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		opts := cfg.Logging.Options()
		if verbose {
			opts.Level = "debug"
		}
		if err := logging.Initialize(opts); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.BootDebug("config %s: provider=%s level=%s format=%s", configPath, cfg.LLM.Provider, opts.Level, opts.Format)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "gamepilot.yaml", "Path to the YAML config")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads --config. A missing file yields defaults with env overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	return cfg, nil
}
