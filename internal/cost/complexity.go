// Package cost turns board complexity and remaining budget into model tier,
// prompt compression and fallback decisions.
package cost

import (
	"fmt"
	"sync"

	"gamepilot/internal/config"
	"gamepilot/internal/llm"
	"gamepilot/internal/types"
)

// =============================================================================
// COMPLEXITY EVALUATOR
// =============================================================================

// Fixed factor weights.
const (
	weightPersistentEffect = 3.0
	weightAbilitySlot      = 1.5
	weightTriggerZone      = 2.0
	weightIntercept        = 1.0
	weightOpponentThreat   = 1.0
	weightManyUnits        = 2.0 // combined units >= manyUnits
	weightSomeUnits        = 1.0 // combined units >= someUnits

	manyUnits = 6
	someUnits = 4
)

// Factors are the inputs that contributed to a score.
type Factors struct {
	PersistentEffect  bool
	AbilitySlots      int
	TriggerZoneActive bool
	Intercepts        int
	OpponentThreat    float64
	SelfUnits         int
	OpponentUnits     int
}

// Evaluation is a complexity score. It is derived, never stored.
type Evaluation struct {
	Score            float64
	Factors          Factors
	RecommendedModel llm.Tier
	Reasons          []string
}

// ComplexityEvaluator scores a game context snapshot.
type ComplexityEvaluator struct {
	mu  sync.RWMutex
	cfg config.ComplexityConfig
}

// NewComplexityEvaluator creates an evaluator.
func NewComplexityEvaluator(cfg config.ComplexityConfig) *ComplexityEvaluator {
	return &ComplexityEvaluator{cfg: cfg}
}

// SetConfig swaps thresholds and keyword lists.
func (e *ComplexityEvaluator) SetConfig(cfg config.ComplexityConfig) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

func (e *ComplexityEvaluator) snapshot() config.ComplexityConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Evaluate scores gc. A nil context scores zero.
func (e *ComplexityEvaluator) Evaluate(gc *types.GameContext) Evaluation {
	if gc == nil {
		return Evaluation{RecommendedModel: llm.TierHaiku, Reasons: []string{"no game context"}}
	}

	cfg := e.snapshot()
	var f Factors
	var reasons []string
	score := 0.0

	fields := [][]types.Unit{gc.Self.Field, gc.Opponent.Field}
	for _, field := range fields {
		for _, u := range field {
			if hasAny(u, cfg.PersistentKeywords) {
				f.PersistentEffect = true
			}
			f.AbilitySlots += u.AbilitySlots
		}
	}
	if f.PersistentEffect {
		score += weightPersistentEffect
		reasons = append(reasons, "persistent effect on field")
	}
	if f.AbilitySlots > 0 {
		score += weightAbilitySlot * float64(f.AbilitySlots)
		reasons = append(reasons, fmt.Sprintf("%d ability slots", f.AbilitySlots))
	}

	// Either side's trigger zone counts, once.
	if len(gc.Self.TriggerZone) > 0 || len(gc.Opponent.TriggerZone) > 0 {
		f.TriggerZoneActive = true
		score += weightTriggerZone
		reasons = append(reasons, "trigger zone active")
	}

	f.Intercepts = gc.Self.Intercepts()
	if f.Intercepts > 0 {
		score += weightIntercept * float64(f.Intercepts)
		reasons = append(reasons, fmt.Sprintf("%d intercepts in hand", f.Intercepts))
	}

	f.OpponentThreat = opponentThreat(cfg, gc.Opponent.Field)
	if f.OpponentThreat > 0 {
		score += weightOpponentThreat * f.OpponentThreat
		reasons = append(reasons, fmt.Sprintf("opponent threat %.1f", f.OpponentThreat))
	}

	f.SelfUnits = len(gc.Self.Field)
	f.OpponentUnits = len(gc.Opponent.Field)
	switch units := f.SelfUnits + f.OpponentUnits; {
	case units >= manyUnits:
		score += weightManyUnits
		reasons = append(reasons, fmt.Sprintf("crowded board (%d units)", units))
	case units >= someUnits:
		score += weightSomeUnits
		reasons = append(reasons, fmt.Sprintf("busy board (%d units)", units))
	}

	return Evaluation{
		Score:            score,
		Factors:          f,
		RecommendedModel: tierFor(cfg, score),
		Reasons:          reasons,
	}
}

// OpponentThreat scores active opponent units: +2 at or above the high BP
// band, +1 at or above the mid band, +1 per dangerous keyword.
func (e *ComplexityEvaluator) OpponentThreat(field []types.Unit) float64 {
	return opponentThreat(e.snapshot(), field)
}

func opponentThreat(cfg config.ComplexityConfig, field []types.Unit) float64 {
	threat := 0.0
	for _, u := range field {
		if !u.Active {
			continue
		}
		switch {
		case cfg.HighBPThreshold > 0 && u.BP >= cfg.HighBPThreshold:
			threat += 2
		case cfg.MidBPThreshold > 0 && u.BP >= cfg.MidBPThreshold:
			threat++
		}
		for _, kw := range cfg.DangerousKeywords {
			if u.HasKeyword(kw) {
				threat++
			}
		}
	}
	return threat
}

func tierFor(cfg config.ComplexityConfig, score float64) llm.Tier {
	switch {
	case score >= cfg.OpusThreshold:
		return llm.TierOpus
	case score >= cfg.SonnetThreshold:
		return llm.TierSonnet
	default:
		return llm.TierHaiku
	}
}

func hasAny(u types.Unit, keywords []string) bool {
	for _, kw := range keywords {
		if u.HasKeyword(kw) {
			return true
		}
	}
	return false
}
