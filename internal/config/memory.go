package config

import "fmt"

// ContextWindowConfig configures the token-budgeted conversation log.
type ContextWindowConfig struct {
	// Maximum tokens kept for prompt history
	MaxTokens int `yaml:"max_tokens" json:"max_tokens"`

	// Compaction triggers above MaxTokens * CompactThreshold
	CompactThreshold float64 `yaml:"compact_threshold" json:"compact_threshold"`

	// Drop the older half of normal entries when priority eviction was not enough
	EnableSummarization bool `yaml:"enable_summarization" json:"enable_summarization"`

	// Entries kept verbatim by LLM compression
	KeepDetailedTurns int `yaml:"keep_detailed_turns" json:"keep_detailed_turns"`

	// Characters per token for CJK-style scripts and for everything else
	DenseCharsPerToken float64 `yaml:"dense_chars_per_token" json:"dense_chars_per_token"`
	CharsPerToken      float64 `yaml:"chars_per_token" json:"chars_per_token"`
}

// DefaultContextWindowConfig returns the standard context window budget.
func DefaultContextWindowConfig() ContextWindowConfig {
	return ContextWindowConfig{
		MaxTokens:           8000,
		CompactThreshold:    0.8,
		EnableSummarization: true,
		KeepDetailedTurns:   4,
		DenseCharsPerToken:  1.5,
		CharsPerToken:       4.0,
	}
}

// Validate checks the window settings.
func (c ContextWindowConfig) Validate() error {
	if c.MaxTokens < 1 {
		return fmt.Errorf("context_window.max_tokens must be >= 1")
	}
	if c.CompactThreshold <= 0 || c.CompactThreshold > 1 {
		return fmt.Errorf("context_window.compact_threshold must be in (0, 1]")
	}
	if c.KeepDetailedTurns < 0 {
		return fmt.Errorf("context_window.keep_detailed_turns must be >= 0")
	}
	if c.DenseCharsPerToken <= 0 || c.CharsPerToken <= 0 {
		return fmt.Errorf("context_window chars-per-token divisors must be > 0")
	}
	return nil
}

// SummarizerConfig configures rule-based digests.
type SummarizerConfig struct {
	MaxKeyPoints     int      `yaml:"max_key_points" json:"max_key_points"`
	MaxSummaryLength int      `yaml:"max_summary_length" json:"max_summary_length"` // runes
	ActionKeywords   []string `yaml:"action_keywords" json:"action_keywords"`
}

// DefaultSummarizerConfig returns the standard digest limits.
func DefaultSummarizerConfig() SummarizerConfig {
	return SummarizerConfig{
		MaxKeyPoints:     10,
		MaxSummaryLength: 500,
		ActionKeywords: []string{
			"attack", "block", "play", "summon", "intercept", "draw",
			"destroy", "mulligan", "pass", "evolve", "trigger", "damage",
			"攻撃", "ブロック", "召喚", "破壊", "ドロー",
		},
	}
}

// GenerationConfig configures staleness windows, in rounds, per category.
type GenerationConfig struct {
	StaleRounds    map[string]int `yaml:"stale_rounds" json:"stale_rounds"`
	StaleThreshold float64        `yaml:"stale_threshold" json:"stale_threshold"`
}

// DefaultGenerationConfig returns the standard freshness windows.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		StaleRounds: map[string]int{
			"board_state":      1,
			"strategy":         3,
			"opponent_pattern": 4,
			"deck_analysis":    6,
		},
		StaleThreshold: 0.7,
	}
}

// Validate checks the staleness windows.
func (c GenerationConfig) Validate() error {
	for cat, rounds := range c.StaleRounds {
		if rounds < 1 {
			return fmt.Errorf("generation.stale_rounds.%s must be >= 1", cat)
		}
	}
	if c.StaleThreshold < 0 || c.StaleThreshold > 1 {
		return fmt.Errorf("generation.stale_threshold must be in [0, 1]")
	}
	return nil
}
