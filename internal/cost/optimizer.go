package cost

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gamepilot/internal/config"
	"gamepilot/internal/llm"
	"gamepilot/internal/logging"
)

// =============================================================================
// COST OPTIMIZER
// =============================================================================

// ErrBudgetExhausted is for callers that want the exhausted signal as an error.
var ErrBudgetExhausted = errors.New("per-game budget exhausted")

// CompressionLevel is how hard prompts should be trimmed.
type CompressionLevel int

const (
	CompressionNone CompressionLevel = iota
	CompressionLight
	CompressionAggressive
)

func (c CompressionLevel) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLight:
		return "light"
	case CompressionAggressive:
		return "aggressive"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// Budget is a snapshot of per-game spend.
type Budget struct {
	Limit            float64
	Used             float64 // ProviderCost + LocalCost
	Remaining        float64 // max(0, Limit - Used)
	WarningThreshold float64
	ProviderCost     float64
	LocalCost        float64
}

// Recommendation is a tier choice with its reason and expected price.
type Recommendation struct {
	Model         llm.Tier
	Reason        string
	EstimatedCost float64
}

// Optimizer maps complexity and spend to tier and budget signals.
// Spend is the provider-reported cost plus locally recorded usage; only the
// local part is owned here.
type Optimizer struct {
	mu         sync.RWMutex
	budget     config.BudgetConfig
	complexity config.ComplexityConfig
	catalog    *llm.Catalog
	provider   llm.CostAccessor // may be nil
	local      float64
	warned     bool // warning already logged this game
}

// NewOptimizer creates an optimizer. provider may be nil.
func NewOptimizer(budget config.BudgetConfig, complexity config.ComplexityConfig, catalog *llm.Catalog, provider llm.CostAccessor) *Optimizer {
	if catalog == nil {
		catalog = llm.DefaultCatalog()
	}
	return &Optimizer{
		budget:     budget,
		complexity: complexity,
		catalog:    catalog,
		provider:   provider,
	}
}

// SetThresholds swaps the complexity tier thresholds.
func (o *Optimizer) SetThresholds(complexity config.ComplexityConfig) {
	o.mu.Lock()
	o.complexity = complexity
	o.mu.Unlock()
}

// SetBudget replaces the budget settings. The limit is fixed per game, so
// callers apply this between games.
func (o *Optimizer) SetBudget(budget config.BudgetConfig) {
	o.mu.Lock()
	o.budget = budget
	o.mu.Unlock()
}

// RecordUsage adds a locally observed cost. Negative and non-finite values are ignored.
func (o *Optimizer) RecordUsage(amount float64) {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return
	}
	o.mu.Lock()
	o.local += amount
	o.mu.Unlock()
	logging.CostDebug("recorded usage $%.6f", amount)
	o.checkWarning()
}

// checkWarning logs the first crossing of the warning threshold in a game.
func (o *Optimizer) checkWarning() {
	b := o.Budget()
	if b.Limit <= 0 || b.Used/b.Limit < b.WarningThreshold {
		return
	}
	o.mu.Lock()
	first := !o.warned
	o.warned = true
	o.mu.Unlock()
	if first {
		logging.CostWarn("budget warning: $%.4f of $%.2f used (%.0f%%)", b.Used, b.Limit, b.Used/b.Limit*100)
	}
}

// Budget returns the current spend snapshot.
func (o *Optimizer) Budget() Budget {
	o.mu.RLock()
	limit := o.budget.CostLimitPerGame
	warn := o.budget.WarningThreshold
	local := o.local
	o.mu.RUnlock()

	provider := 0.0
	if o.provider != nil {
		provider = o.provider.TotalCost()
	}
	used := provider + local
	return Budget{
		Limit:            limit,
		Used:             used,
		Remaining:        math.Max(0, limit-used),
		WarningThreshold: warn,
		ProviderCost:     provider,
		LocalCost:        local,
	}
}

// UsagePercentage returns used/limit as a fraction.
func (o *Optimizer) UsagePercentage() float64 {
	b := o.Budget()
	if b.Limit <= 0 {
		return 1
	}
	return b.Used / b.Limit
}

// RemainingBudget returns max(0, limit-used).
func (o *Optimizer) RemainingBudget() float64 {
	return o.Budget().Remaining
}

// IsWarning reports whether usage crossed the warning threshold.
func (o *Optimizer) IsWarning() bool {
	o.mu.RLock()
	warn := o.budget.WarningThreshold
	o.mu.RUnlock()
	return o.UsagePercentage() >= warn
}

// RecommendModel picks a tier for a complexity value. Above the force
// threshold the cheapest tier wins regardless of complexity.
func (o *Optimizer) RecommendModel(complexity float64) Recommendation {
	o.mu.RLock()
	force := o.budget.ForceHaikuThreshold
	haikuMax := o.complexity.HaikuMaxComplexity
	sonnetMax := o.complexity.SonnetMaxComplexity
	o.mu.RUnlock()

	o.checkWarning()
	usage := o.UsagePercentage()

	var rec Recommendation
	switch {
	case usage >= force:
		rec = Recommendation{
			Model:  llm.Cheapest(),
			Reason: fmt.Sprintf("budget %.0f%% used, forcing cheapest tier", usage*100),
		}
	case complexity <= haikuMax:
		rec = Recommendation{Model: llm.TierHaiku, Reason: fmt.Sprintf("low complexity %.1f", complexity)}
	case complexity <= sonnetMax:
		rec = Recommendation{Model: llm.TierSonnet, Reason: fmt.Sprintf("moderate complexity %.1f", complexity)}
	default:
		rec = Recommendation{Model: llm.TierOpus, Reason: fmt.Sprintf("high complexity %.1f", complexity)}
	}
	rec.EstimatedCost = o.catalog.EstimateCost(rec.Model, llm.EstimateInputTokens, llm.EstimateOutputTokens)

	logging.CostDebug("recommend %s: %s (est $%.4f)", rec.Model, rec.Reason, rec.EstimatedCost)
	return rec
}

// ShouldUseFallback reports budget exhaustion.
func (o *Optimizer) ShouldUseFallback() bool {
	return o.RemainingBudget() <= 0
}

// CheckBudget returns ErrBudgetExhausted when ShouldUseFallback is true.
func (o *Optimizer) CheckBudget() error {
	if o.ShouldUseFallback() {
		return ErrBudgetExhausted
	}
	return nil
}

// PromptCompressionLevel maps usage to a compression directive.
func (o *Optimizer) PromptCompressionLevel() CompressionLevel {
	o.mu.RLock()
	light := o.budget.LightCompressionThreshold
	aggressive := o.budget.AggressiveCompressionThreshold
	o.mu.RUnlock()

	usage := o.UsagePercentage()
	switch {
	case usage >= aggressive:
		return CompressionAggressive
	case usage >= light:
		return CompressionLight
	default:
		return CompressionNone
	}
}

// ShouldSkipAnalysis reports whether optional background analysis should stop.
func (o *Optimizer) ShouldSkipAnalysis() bool {
	o.mu.RLock()
	skip := o.budget.SkipAnalysisThreshold
	o.mu.RUnlock()
	return o.UsagePercentage() >= skip
}

// Reset clears locally recorded usage. Provider cost is left to its owner.
func (o *Optimizer) Reset() {
	o.mu.Lock()
	o.local = 0
	o.warned = false
	o.mu.Unlock()
	logging.Cost("local usage reset")
}
