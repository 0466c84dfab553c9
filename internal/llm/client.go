// Package llm defines the LLM collaborator used by decision and analysis
// tasks, the model tier catalog with pricing, and provider clients.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gamepilot/internal/config"
)

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// Options configures a single Send call.
type Options struct {
	Model       string // concrete provider model id
	MaxTokens   int
	Temperature float64
}

// Response is a completed model call.
type Response struct {
	Content      string
	InputTokens  int
	OutputTokens int
	Cost         float64 // USD, provider-reported or priced from the catalog
	Latency      time.Duration
}

// Client sends one system+user exchange to a model.
// Retry and backoff are the implementation's concern.
type Client interface {
	Send(ctx context.Context, systemPrompt, userMessage string, opts Options) (*Response, error)
}

// CostAccessor exposes the provider-side running cost.
type CostAccessor interface {
	TotalCost() float64
	ResetTotalCost()
}

var (
	// ErrNoAPIKey is returned by provider clients constructed without a key.
	ErrNoAPIKey = errors.New("API key not configured")
	// ErrEmptyResponse is returned when the provider produced no text.
	ErrEmptyResponse = errors.New("no completion returned")
)

// =============================================================================
// MODEL TIERS
// =============================================================================

// Tier is a cost/quality level.
type Tier string

const (
	TierHaiku  Tier = "haiku"  // cheapest, fastest
	TierSonnet Tier = "sonnet" // balanced
	TierOpus   Tier = "opus"   // most capable
)

// AllTiers lists tiers from cheapest to most capable.
var AllTiers = []Tier{TierHaiku, TierSonnet, TierOpus}

// Cheapest returns the lowest-cost tier.
func Cheapest() Tier { return TierHaiku }

// Rank orders tiers by capability (0 = cheapest). Unknown tiers rank -1.
func (t Tier) Rank() int {
	for i, tt := range AllTiers {
		if tt == t {
			return i
		}
	}
	return -1
}

// ParseTier validates a tier name.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if t.Rank() < 0 {
		return "", fmt.Errorf("unknown model tier %q", s)
	}
	return t, nil
}

// Pricing is the per-million-token price of one model.
type Pricing struct {
	Model            string
	InputPerMillion  float64
	OutputPerMillion float64
}

// Cost prices a call.
func (p Pricing) Cost(inputTokens, outputTokens int) float64 {
	return (float64(inputTokens)*p.InputPerMillion + float64(outputTokens)*p.OutputPerMillion) / 1_000_000
}

// Catalog maps tiers to model ids and prices.
type Catalog struct {
	tiers   map[Tier]Pricing
	byModel map[string]Pricing
}

// Typical decision call shape used for up-front estimates.
const (
	EstimateInputTokens  = 2000
	EstimateOutputTokens = 300
)

// NewCatalog builds a catalog from the llm config section.
func NewCatalog(cfg config.LLMConfig) *Catalog {
	c := &Catalog{
		tiers:   make(map[Tier]Pricing),
		byModel: make(map[string]Pricing),
	}
	for name, tc := range cfg.ResolvedTiers() {
		p := Pricing{Model: tc.Model, InputPerMillion: tc.InputPerMillion, OutputPerMillion: tc.OutputPerMillion}
		c.tiers[Tier(name)] = p
		c.byModel[tc.Model] = p
	}
	return c
}

// DefaultCatalog returns the catalog for the default config.
func DefaultCatalog() *Catalog {
	return NewCatalog(config.DefaultLLMConfig())
}

// Model returns the model id of a tier, or "" when the tier is not configured.
func (c *Catalog) Model(t Tier) string {
	return c.tiers[t].Model
}

// Pricing returns the pricing of a tier.
func (c *Catalog) Pricing(t Tier) (Pricing, bool) {
	p, ok := c.tiers[t]
	return p, ok
}

// TierOf returns the tier a model id belongs to.
func (c *Catalog) TierOf(model string) (Tier, bool) {
	for t, p := range c.tiers {
		if p.Model == model {
			return t, true
		}
	}
	return "", false
}

// EstimateCost prices a call on a tier. Unknown tiers cost 0.
func (c *Catalog) EstimateCost(t Tier, inputTokens, outputTokens int) float64 {
	p, ok := c.tiers[t]
	if !ok {
		return 0
	}
	return p.Cost(inputTokens, outputTokens)
}

// CostForModel prices a call by concrete model id. Unknown models cost 0.
func (c *Catalog) CostForModel(model string, inputTokens, outputTokens int) float64 {
	p, ok := c.byModel[model]
	if !ok {
		return 0
	}
	return p.Cost(inputTokens, outputTokens)
}
