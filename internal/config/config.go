package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all gamepilot configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM provider and model tiers
	LLM LLMConfig `yaml:"llm"`

	// Event controller
	Controller ControllerConfig `yaml:"controller"`

	// Per-game spend limits and usage thresholds
	Budget BudgetConfig `yaml:"budget"`

	// Board complexity scoring
	Complexity ComplexityConfig `yaml:"complexity"`

	// Conversational context window
	ContextWindow ContextWindowConfig `yaml:"context_window"`

	// Rule-based summarizer
	Summarizer SummarizerConfig `yaml:"summarizer"`

	// Cached analysis staleness
	Generation GenerationConfig `yaml:"generation"`

	// Background task execution
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Inference InferenceConfig `yaml:"inference"`

	// Decision journal
	Journal JournalConfig `yaml:"journal"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ControllerConfig configures the event controller.
type ControllerConfig struct {
	// PlayerID is the participant this engine decides for.
	PlayerID string `yaml:"player_id"`

	// ChoiceTimeout bounds mulligan and choice_* events.
	ChoiceTimeout string `yaml:"choice_timeout"`

	// ActionTimeout bounds turn_action and continue events.
	ActionTimeout string `yaml:"action_timeout"`

	// StartEnabled controls whether the controller accepts events before Enable.
	StartEnabled bool `yaml:"start_enabled"`
}

// JournalConfig configures the SQLite decision journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"` // default in-memory; a file path keeps the journal after exit
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "gamepilot",
		Version: "0.3.0",

		LLM: DefaultLLMConfig(),

		Controller: ControllerConfig{
			PlayerID:      "",
			ChoiceTimeout: "8s",
			ActionTimeout: "5s",
			StartEnabled:  true,
		},

		Budget:        DefaultBudgetConfig(),
		Complexity:    DefaultComplexityConfig(),
		ContextWindow: DefaultContextWindowConfig(),
		Summarizer:    DefaultSummarizerConfig(),
		Generation:    DefaultGenerationConfig(),

		Scheduler: SchedulerConfig{
			MaxConcurrentTasks: 4,
		},
		Inference: InferenceConfig{
			MaxConcurrentCalls: 3,
			DefaultTimeout:     "20s",
		},

		Journal: JournalConfig{
			Enabled: true,
			DSN:     ":memory:",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// LLM API key from environment (later entries win)
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = ProviderGemini
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = ProviderAnthropic
	}

	if id := os.Getenv("GAMEPILOT_PLAYER_ID"); id != "" {
		c.Controller.PlayerID = id
	}

	if raw := os.Getenv("GAMEPILOT_COST_LIMIT"); raw != "" {
		if limit, err := strconv.ParseFloat(raw, 64); err == nil && limit > 0 {
			c.Budget.CostLimitPerGame = limit
		}
	}

	if lvl := os.Getenv("GAMEPILOT_LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
	}
}

// GetChoiceTimeout returns the choice/mulligan timeout as a duration.
func (c *Config) GetChoiceTimeout() time.Duration {
	return parseDuration(c.Controller.ChoiceTimeout, 8*time.Second)
}

// GetActionTimeout returns the turn action timeout as a duration.
func (c *Config) GetActionTimeout() time.Duration {
	return parseDuration(c.Controller.ActionTimeout, 5*time.Second)
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 30*time.Second)
}

// GetInferenceTimeout returns the default awaitAll timeout.
func (c *Config) GetInferenceTimeout() time.Duration {
	return parseDuration(c.Inference.DefaultTimeout, 20*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Budget.Validate(); err != nil {
		return err
	}
	if err := c.Complexity.Validate(); err != nil {
		return err
	}
	if err := c.ContextWindow.Validate(); err != nil {
		return err
	}
	if err := c.Generation.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if c.Scheduler.MaxConcurrentTasks < 1 {
		return fmt.Errorf("scheduler.max_concurrent_tasks must be >= 1")
	}
	if c.Inference.MaxConcurrentCalls < 1 {
		return fmt.Errorf("inference.max_concurrent_calls must be >= 1")
	}
	if c.Journal.Enabled && c.Journal.DSN == "" {
		return fmt.Errorf("journal.dsn required when journal is enabled")
	}
	return nil
}
