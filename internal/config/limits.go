package config

import "fmt"

// BudgetConfig enforces the per-game spend ceiling.
type BudgetConfig struct {
	CostLimitPerGame float64 `yaml:"cost_limit_per_game"` // USD
	WarningThreshold float64 `yaml:"warning_threshold"`   // fraction of limit

	// ForceHaikuThreshold forces the cheapest tier at this usage fraction.
	ForceHaikuThreshold float64 `yaml:"force_haiku_threshold"`

	// Prompt compression levels
	LightCompressionThreshold      float64 `yaml:"light_compression_threshold"`
	AggressiveCompressionThreshold float64 `yaml:"aggressive_compression_threshold"`

	// Optional background analysis stops at this usage fraction.
	SkipAnalysisThreshold float64 `yaml:"skip_analysis_threshold"`
}

// DefaultBudgetConfig returns the standard per-game thresholds.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		CostLimitPerGame:               2.0,
		WarningThreshold:               0.8,
		ForceHaikuThreshold:            0.8,
		LightCompressionThreshold:      0.5,
		AggressiveCompressionThreshold: 0.8,
		SkipAnalysisThreshold:          0.8,
	}
}

// Validate checks budget ranges.
func (b BudgetConfig) Validate() error {
	if b.CostLimitPerGame <= 0 {
		return fmt.Errorf("budget.cost_limit_per_game must be > 0")
	}
	for name, v := range map[string]float64{
		"warning_threshold":                b.WarningThreshold,
		"force_haiku_threshold":            b.ForceHaikuThreshold,
		"light_compression_threshold":      b.LightCompressionThreshold,
		"aggressive_compression_threshold": b.AggressiveCompressionThreshold,
		"skip_analysis_threshold":          b.SkipAnalysisThreshold,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("budget.%s must be in (0, 1]", name)
		}
	}
	if b.LightCompressionThreshold > b.AggressiveCompressionThreshold {
		return fmt.Errorf("budget.light_compression_threshold must not exceed aggressive_compression_threshold")
	}
	return nil
}

// ComplexityConfig configures board scoring and tier thresholds.
type ComplexityConfig struct {
	// Evaluator thresholds on the weighted score
	OpusThreshold   float64 `yaml:"opus_threshold"`
	SonnetThreshold float64 `yaml:"sonnet_threshold"`

	// Optimizer thresholds on the complexity value (<= haiku, <= sonnet, else opus)
	HaikuMaxComplexity  float64 `yaml:"haiku_max_complexity"`
	SonnetMaxComplexity float64 `yaml:"sonnet_max_complexity"`

	PersistentKeywords []string `yaml:"persistent_keywords"`
	DangerousKeywords  []string `yaml:"dangerous_keywords"`

	// Opponent BP threat bands
	HighBPThreshold int `yaml:"high_bp_threshold"`
	MidBPThreshold  int `yaml:"mid_bp_threshold"`
}

// DefaultComplexityConfig returns the standard weights and keyword lists.
func DefaultComplexityConfig() ComplexityConfig {
	return ComplexityConfig{
		OpusThreshold:       5,
		SonnetThreshold:     2,
		HaikuMaxComplexity:  3,
		SonnetMaxComplexity: 7,
		PersistentKeywords:  []string{"persistent", "aura", "continuous"},
		DangerousKeywords:   []string{"pierce", "double_strike", "immune", "untargetable", "haste"},
		HighBPThreshold:     7000,
		MidBPThreshold:      5000,
	}
}

// Validate checks that thresholds are ordered.
func (c ComplexityConfig) Validate() error {
	if c.SonnetThreshold > c.OpusThreshold {
		return fmt.Errorf("complexity.sonnet_threshold must not exceed opus_threshold")
	}
	if c.HaikuMaxComplexity > c.SonnetMaxComplexity {
		return fmt.Errorf("complexity.haiku_max_complexity must not exceed sonnet_max_complexity")
	}
	if c.MidBPThreshold > c.HighBPThreshold {
		return fmt.Errorf("complexity.mid_bp_threshold must not exceed high_bp_threshold")
	}
	return nil
}

// SchedulerConfig bounds background task concurrency.
type SchedulerConfig struct {
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`
}

// InferenceConfig bounds parallel model calls.
type InferenceConfig struct {
	MaxConcurrentCalls int    `yaml:"max_concurrent_calls"`
	DefaultTimeout     string `yaml:"default_timeout"`
}
