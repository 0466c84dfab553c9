package usage

import "time"

// Operations label what a model call was for.
const (
	OperationDecision = "decision"
	OperationAnalysis = "analysis"
	OperationSummary  = "summary"
	OperationUnknown  = "unknown"
)

// UsageData is the persisted form of a game's usage.
type UsageData struct {
	Version   string          `json:"version"`
	GameID    string          `json:"game_id,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	Aggregate AggregatedStats `json:"aggregate"`
}

// UsageEvent is a single model call.
type UsageEvent struct {
	Timestamp    time.Time
	Model        string
	Tier         string
	Operation    string
	InputTokens  int
	OutputTokens int
	Cost         float64
}

// AggregatedStats holds counters broken down by dimension.
type AggregatedStats struct {
	TotalGame   TokenCounts            `json:"total_game"`
	ByTier      map[string]TokenCounts `json:"by_tier"`
	ByModel     map[string]TokenCounts `json:"by_model"`
	ByOperation map[string]TokenCounts `json:"by_operation"` // decision, analysis, summary
}

// TokenCounts holds input/output sums.
type TokenCounts struct {
	Calls  int64   `json:"calls"`
	Input  int64   `json:"input"`
	Output int64   `json:"output"`
	Total  int64   `json:"total"`
	Cost   float64 `json:"cost_usd"`
}

func (tc *TokenCounts) Add(input, output int, cost float64) {
	tc.Calls++
	tc.Input += int64(input)
	tc.Output += int64(output)
	tc.Total += int64(input + output)
	tc.Cost += cost
}
