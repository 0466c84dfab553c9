package cost

import (
	"math"
	"sync"
	"testing"

	"gamepilot/internal/config"
	"gamepilot/internal/llm"
	"gamepilot/internal/logging"
	"gamepilot/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// =============================================================================
// OPTIMIZER
// =============================================================================

type fakeProvider struct {
	mu    sync.Mutex
	total float64
}

func (f *fakeProvider) TotalCost() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

func (f *fakeProvider) ResetTotalCost() {
	f.mu.Lock()
	f.total = 0
	f.mu.Unlock()
}

func newOptimizer(provider llm.CostAccessor) *Optimizer {
	return NewOptimizer(config.DefaultBudgetConfig(), config.DefaultComplexityConfig(), llm.DefaultCatalog(), provider)
}

func TestRecommendModel_Thresholds(t *testing.T) {
	o := newOptimizer(nil)

	tests := []struct {
		complexity float64
		want       llm.Tier
	}{
		{0, llm.TierHaiku},
		{2, llm.TierHaiku},
		{3, llm.TierHaiku},
		{5, llm.TierSonnet},
		{7, llm.TierSonnet},
		{10, llm.TierOpus},
	}
	for _, tt := range tests {
		rec := o.RecommendModel(tt.complexity)
		assert.Equal(t, tt.want, rec.Model, "complexity %v", tt.complexity)
		assert.Greater(t, rec.EstimatedCost, 0.0)
		assert.NotEmpty(t, rec.Reason)
	}
}

func TestRecommendModel_ForcesCheapestWhenSpendHigh(t *testing.T) {
	o := newOptimizer(nil)
	o.RecordUsage(1.6) // 80% of 2.0

	rec := o.RecommendModel(10)
	assert.Equal(t, llm.TierHaiku, rec.Model)
	assert.Contains(t, rec.Reason, "forcing cheapest")
}

func TestBudgetWarning_LoggedOncePerGame(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logging.Use(zap.New(core), nil)
	t.Cleanup(func() { logging.Use(nil, nil) })

	provider := &fakeProvider{}
	o := newOptimizer(provider)
	o.RecordUsage(1.0)
	assert.Equal(t, 0, logs.Len())

	o.RecordUsage(0.7) // 85%
	o.RecordUsage(0.1)
	require.Equal(t, 1, logs.Len())
	assert.Contains(t, logs.All()[0].Message, "budget warning")
	assert.Equal(t, "cost", logs.All()[0].ContextMap()["category"])

	o.Reset()
	o.RecordUsage(0.1)
	assert.Equal(t, 1, logs.Len())

	// Provider-side spend is noticed at the next recommendation.
	provider.mu.Lock()
	provider.total = 1.7
	provider.mu.Unlock()
	o.RecommendModel(1)
	assert.Equal(t, 2, logs.Len())
}

func TestRecordUsage_UsageAndCompression(t *testing.T) {
	o := newOptimizer(nil)
	o.RecordUsage(1.8)

	assert.InDelta(t, 0.9, o.UsagePercentage(), 1e-9)
	assert.Equal(t, CompressionAggressive, o.PromptCompressionLevel())
	assert.True(t, o.ShouldSkipAnalysis())
	assert.True(t, o.IsWarning())
	assert.False(t, o.ShouldUseFallback())
}

func TestPromptCompressionLevel_Bands(t *testing.T) {
	tests := []struct {
		used float64
		want CompressionLevel
	}{
		{0, CompressionNone},
		{0.99, CompressionNone},
		{1.0, CompressionLight},
		{1.59, CompressionLight},
		{1.6, CompressionAggressive},
	}
	for _, tt := range tests {
		o := newOptimizer(nil)
		o.RecordUsage(tt.used)
		assert.Equal(t, tt.want, o.PromptCompressionLevel(), "used=%v", tt.used)
	}
}

func TestBudget_MonotonicSum(t *testing.T) {
	provider := &fakeProvider{total: 0.25}
	o := newOptimizer(provider)

	amounts := []float64{0.1, 0, 0.3, 0.05, 0.2}
	prev := o.Budget().Used
	sum := 0.0
	for _, x := range amounts {
		o.RecordUsage(x)
		sum += x
		used := o.Budget().Used
		assert.GreaterOrEqual(t, used, prev)
		prev = used
	}

	b := o.Budget()
	assert.InDelta(t, sum+0.25, b.Used, 1e-9)
	assert.InDelta(t, 0.25, b.ProviderCost, 1e-12)
	assert.InDelta(t, sum, b.LocalCost, 1e-9)
	assert.InDelta(t, 2.0-(sum+0.25), b.Remaining, 1e-9)
}

func TestRecordUsage_IgnoresInvalid(t *testing.T) {
	o := newOptimizer(nil)
	o.RecordUsage(-1)
	o.RecordUsage(math.NaN())
	o.RecordUsage(math.Inf(1))
	assert.Equal(t, 0.0, o.Budget().Used)
}

func TestRecordUsage_Concurrent(t *testing.T) {
	o := newOptimizer(nil)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.RecordUsage(0.01)
		}()
	}
	wg.Wait()
	assert.InDelta(t, 1.0, o.Budget().Used, 1e-9)
}

func TestShouldUseFallback_Exhausted(t *testing.T) {
	provider := &fakeProvider{total: 1.5}
	o := newOptimizer(provider)
	o.RecordUsage(0.6)

	assert.True(t, o.ShouldUseFallback())
	assert.Equal(t, 0.0, o.RemainingBudget())
	assert.ErrorIs(t, o.CheckBudget(), ErrBudgetExhausted)
}

func TestReset_ClearsLocalOnly(t *testing.T) {
	provider := &fakeProvider{total: 0.5}
	o := newOptimizer(provider)
	o.RecordUsage(0.7)

	o.Reset()
	b := o.Budget()
	assert.Equal(t, 0.0, b.LocalCost)
	assert.InDelta(t, 0.5, b.Used, 1e-12)
	require.NoError(t, o.CheckBudget())
}

func TestCompressionLevel_String(t *testing.T) {
	assert.Equal(t, "none", CompressionNone.String())
	assert.Equal(t, "light", CompressionLight.String())
	assert.Equal(t, "aggressive", CompressionAggressive.String())
}

// =============================================================================
// COMPLEXITY EVALUATOR
// =============================================================================

func TestEvaluate_EmptyBoard(t *testing.T) {
	e := NewComplexityEvaluator(config.DefaultComplexityConfig())
	ev := e.Evaluate(&types.GameContext{})
	assert.Equal(t, 0.0, ev.Score)
	assert.Equal(t, llm.TierHaiku, ev.RecommendedModel)

	ev = e.Evaluate(nil)
	assert.Equal(t, 0.0, ev.Score)
}

func TestEvaluate_Weights(t *testing.T) {
	e := NewComplexityEvaluator(config.DefaultComplexityConfig())

	tests := []struct {
		name string
		gc   types.GameContext
		want float64
		tier llm.Tier
	}{
		{
			name: "persistent effect",
			gc: types.GameContext{Self: types.PlayerState{
				Field: []types.Unit{{Keywords: []string{"persistent"}}},
			}},
			want: 3,
			tier: llm.TierSonnet,
		},
		{
			name: "ability slots both fields",
			gc: types.GameContext{
				Self:     types.PlayerState{Field: []types.Unit{{AbilitySlots: 1}}},
				Opponent: types.PlayerState{Field: []types.Unit{{AbilitySlots: 1}}},
			},
			want: 3,
			tier: llm.TierSonnet,
		},
		{
			name: "trigger zone and intercepts",
			gc: types.GameContext{Self: types.PlayerState{
				TriggerZone: []types.Card{{ID: "t1"}},
				Hand:        []types.Card{{Type: types.CardTypeIntercept}, {Type: types.CardTypeIntercept}},
			}},
			want: 4,
			tier: llm.TierSonnet,
		},
		{
			name: "opponent trigger zone",
			gc:   types.GameContext{Opponent: types.PlayerState{TriggerZone: []types.Card{{ID: "t9"}}}},
			want: 2,
			tier: llm.TierSonnet,
		},
		{
			name: "both trigger zones count once",
			gc: types.GameContext{
				Self:     types.PlayerState{TriggerZone: []types.Card{{ID: "t1"}}},
				Opponent: types.PlayerState{TriggerZone: []types.Card{{ID: "t9"}}},
			},
			want: 2,
			tier: llm.TierSonnet,
		},
		{
			name: "opponent threat ignores inactive",
			gc: types.GameContext{Opponent: types.PlayerState{Field: []types.Unit{
				{BP: 8000, Active: true, Keywords: []string{"pierce"}}, // 2 + 1
				{BP: 5000, Active: true},                               // 1
				{BP: 9000, Active: false, Keywords: []string{"haste"}},  // 0
			}}},
			want: 4,
			tier: llm.TierSonnet,
		},
		{
			name: "four units",
			gc: types.GameContext{
				Self:     types.PlayerState{Field: make([]types.Unit, 2)},
				Opponent: types.PlayerState{Field: make([]types.Unit, 2)},
			},
			want: 1,
			tier: llm.TierHaiku,
		},
		{
			name: "six units",
			gc: types.GameContext{
				Self:     types.PlayerState{Field: make([]types.Unit, 3)},
				Opponent: types.PlayerState{Field: make([]types.Unit, 3)},
			},
			want: 2,
			tier: llm.TierSonnet,
		},
		{
			name: "everything",
			gc: types.GameContext{
				Self: types.PlayerState{
					Field:       []types.Unit{{Keywords: []string{"aura"}, AbilitySlots: 2}, {}, {}},
					TriggerZone: []types.Card{{}},
					Hand:        []types.Card{{Type: types.CardTypeIntercept}},
				},
				Opponent: types.PlayerState{Field: []types.Unit{{BP: 7000, Active: true}, {}, {}}},
			},
			// 3 + 3 + 2 + 1 + 2 + 2
			want: 13,
			tier: llm.TierOpus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := e.Evaluate(&tt.gc)
			assert.InDelta(t, tt.want, ev.Score, 1e-9)
			assert.Equal(t, tt.tier, ev.RecommendedModel)
		})
	}
}

func TestEvaluate_Factors(t *testing.T) {
	e := NewComplexityEvaluator(config.DefaultComplexityConfig())
	gc := &types.GameContext{
		Self: types.PlayerState{
			Field:       []types.Unit{{Keywords: []string{"Continuous"}}},
			TriggerZone: []types.Card{{}},
		},
	}
	ev := e.Evaluate(gc)
	assert.True(t, ev.Factors.PersistentEffect)
	assert.True(t, ev.Factors.TriggerZoneActive)
	assert.Equal(t, 1, ev.Factors.SelfUnits)
	assert.Len(t, ev.Reasons, 2)
}
