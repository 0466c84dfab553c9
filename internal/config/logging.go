package config

import (
	"fmt"
	"strings"

	"gamepilot/internal/logging"
)

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level" json:"level,omitempty"`           // debug, info, warn, error
	Format     string          `yaml:"format" json:"format,omitempty"`         // json, console
	Categories map[string]bool `yaml:"categories" json:"categories,omitempty"` // Per-category toggles
}

// Validate rejects unknown log levels and formats.
func (c LoggingConfig) Validate() error {
	if _, err := logging.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch strings.ToLower(c.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Format)
	}
	return nil
}

// Options converts the section into logging options.
func (c LoggingConfig) Options() logging.Options {
	return logging.Options{
		Level:      c.Level,
		Format:     c.Format,
		Categories: c.Categories,
	}
}
