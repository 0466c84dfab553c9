package main

import (
	"fmt"
	"os"

	"gamepilot/internal/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// configCmd groups configuration helpers
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show, validate or initialize the YAML config",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration (file, defaults and env overrides)",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and exit non-zero on error",
	RunE:  runConfigValidate,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config to --config",
	Long: `Writes the default configuration to the --config path.

An existing file is left untouched unless --force is given.

Example:
  pilot config init --config ./gamepilot.yaml`,
	RunE: runConfigInit,
}

var forceInit bool

func init() {
	configInitCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configInitCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	shown := *cfg
	if shown.LLM.APIKey != "" {
		shown.LLM.APIKey = "***"
	}
	data, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is valid (provider=%s, budget=$%.2f/game)\n",
		configPath, cfg.LLM.Provider, cfg.Budget.CostLimitPerGame)
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath); err == nil && !forceInit {
		fmt.Fprintf(cmd.OutOrStdout(), "%s already exists (use --force to overwrite)\n", configPath)
		return nil
	}
	if err := config.DefaultConfig().Save(configPath); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", configPath)
	return nil
}
