package llm

import (
	"context"
	"fmt"
	"time"

	"gamepilot/internal/config"
	"gamepilot/internal/logging"
)

// NewClient builds the configured provider client wrapped in a MeteredClient.
func NewClient(ctx context.Context, cfg config.LLMConfig) (*MeteredClient, error) {
	catalog := NewCatalog(cfg)

	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil || timeout <= 0 {
		timeout = 30 * time.Second
	}

	var inner Client
	switch cfg.Provider {
	case config.ProviderAnthropic:
		inner = NewAnthropicClient(AnthropicConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Timeout:    timeout,
			MaxRetries: 2,
		})
	case config.ProviderGemini:
		gc, err := NewGenAIClient(ctx, cfg.APIKey)
		if err != nil {
			return nil, err
		}
		inner = gc
	case config.ProviderScripted:
		inner = NewScriptedClient(nil)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}

	logging.Boot("LLM client: provider=%s haiku=%s sonnet=%s opus=%s",
		cfg.Provider, catalog.Model(TierHaiku), catalog.Model(TierSonnet), catalog.Model(TierOpus))
	return NewMeteredClient(inner, catalog), nil
}
