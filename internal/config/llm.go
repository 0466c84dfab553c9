package config

import (
	"fmt"
	"strings"
)

// Provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderScripted  = "scripted" // canned replies, no network
)

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{ProviderAnthropic, ProviderGemini, ProviderScripted}

// LLMConfig configures the upstream model provider.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Timeout     string  `yaml:"timeout"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`

	// Tiers maps haiku/sonnet/opus to concrete model ids and prices.
	Tiers map[string]TierConfig `yaml:"tiers"`
}

// TierConfig holds the model id and price of one tier.
type TierConfig struct {
	Model string `yaml:"model"`

	// USD per million tokens
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// DefaultLLMConfig returns Anthropic tiers with list pricing.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:    ProviderAnthropic,
		BaseURL:     "https://api.anthropic.com/v1",
		Timeout:     "30s",
		MaxTokens:   1024,
		Temperature: 0.2,
		Tiers: map[string]TierConfig{
			"haiku": {
				Model:            "claude-3-5-haiku-20241022",
				InputPerMillion:  0.80,
				OutputPerMillion: 4.00,
			},
			"sonnet": {
				Model:            "claude-sonnet-4-20250514",
				InputPerMillion:  3.00,
				OutputPerMillion: 15.00,
			},
			"opus": {
				Model:            "claude-opus-4-20250514",
				InputPerMillion:  15.00,
				OutputPerMillion: 75.00,
			},
		},
	}
}

// DefaultGeminiTiers maps the tiers onto Gemini models.
func DefaultGeminiTiers() map[string]TierConfig {
	return map[string]TierConfig{
		"haiku":  {Model: "gemini-2.5-flash-lite", InputPerMillion: 0.10, OutputPerMillion: 0.40},
		"sonnet": {Model: "gemini-2.5-flash", InputPerMillion: 0.30, OutputPerMillion: 2.50},
		"opus":   {Model: "gemini-2.5-pro", InputPerMillion: 1.25, OutputPerMillion: 10.00},
	}
}

// ResolvedTiers returns the configured tiers, substituting Gemini models when
// the provider is gemini but the tiers still name Claude models.
func (c LLMConfig) ResolvedTiers() map[string]TierConfig {
	if c.Provider != ProviderGemini {
		return c.Tiers
	}
	for _, tc := range c.Tiers {
		if strings.HasPrefix(tc.Model, "claude") {
			return DefaultGeminiTiers()
		}
	}
	return c.Tiers
}

// Validate checks provider and tier settings.
func (c LLMConfig) Validate() error {
	valid := false
	for _, p := range ValidProviders {
		if c.Provider == p {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.Provider, ValidProviders)
	}
	if c.Provider != ProviderScripted && c.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set ANTHROPIC_API_KEY or GEMINI_API_KEY)")
	}
	for _, tier := range []string{"haiku", "sonnet", "opus"} {
		tc, ok := c.Tiers[tier]
		if !ok || tc.Model == "" {
			return fmt.Errorf("llm.tiers.%s.model is required", tier)
		}
		if tc.InputPerMillion < 0 || tc.OutputPerMillion < 0 {
			return fmt.Errorf("llm.tiers.%s pricing must be >= 0", tier)
		}
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("llm.max_tokens must be >= 1")
	}
	return nil
}
