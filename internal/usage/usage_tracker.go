// Package usage keeps a per-game ledger of model tokens and spend, broken
// down by tier, model and operation.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gamepilot/internal/llm"
	"gamepilot/internal/logging"
)

type operationKey struct{}

// Tracker aggregates usage events for one game.
type Tracker struct {
	mu   sync.Mutex
	data UsageData
	log  *logging.Logger
}

// NewTracker creates an empty tracker.
func NewTracker(gameID string) *Tracker {
	t := &Tracker{}
	t.reset(gameID)
	return t
}

func (t *Tracker) reset(gameID string) {
	t.log = logging.Get(logging.CategoryAPI).With("game", gameID)
	t.data = UsageData{
		Version:   "1.0",
		GameID:    gameID,
		StartedAt: time.Now(),
		Aggregate: AggregatedStats{
			ByTier:      make(map[string]TokenCounts),
			ByModel:     make(map[string]TokenCounts),
			ByOperation: make(map[string]TokenCounts),
		},
	}
}

// Track records one event.
func (t *Tracker) Track(ev UsageEvent) {
	if ev.Operation == "" {
		ev.Operation = OperationUnknown
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.data.Aggregate.TotalGame.Add(ev.InputTokens, ev.OutputTokens, ev.Cost)
	addToMap(t.data.Aggregate.ByTier, ev.Tier, ev.InputTokens, ev.OutputTokens, ev.Cost)
	addToMap(t.data.Aggregate.ByModel, ev.Model, ev.InputTokens, ev.OutputTokens, ev.Cost)
	addToMap(t.data.Aggregate.ByOperation, ev.Operation, ev.InputTokens, ev.OutputTokens, ev.Cost)
}

func (t *Tracker) logger() *logging.Logger {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.log
}

// Stats returns a copy of the aggregated stats.
func (t *Tracker) Stats() AggregatedStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := t.data.Aggregate
	stats.ByTier = copyTokenCountsMap(stats.ByTier)
	stats.ByModel = copyTokenCountsMap(stats.ByModel)
	stats.ByOperation = copyTokenCountsMap(stats.ByOperation)
	return stats
}

// Reset starts a new game ledger.
func (t *Tracker) Reset(gameID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset(gameID)
}

// Save writes the ledger as JSON to path, creating parent directories.
func (t *Tracker) Save(path string) error {
	t.mu.Lock()
	data, err := json.MarshalIndent(t.data, "", "  ")
	t.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal usage: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create usage dir: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Load reads a ledger written by Save.
func Load(path string) (UsageData, error) {
	var out UsageData
	data, err := os.ReadFile(path)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("parse usage %s: %w", path, err)
	}
	return out, nil
}

func copyTokenCountsMap(src map[string]TokenCounts) map[string]TokenCounts {
	if src == nil {
		return nil
	}
	dst := make(map[string]TokenCounts, len(src))
	for key, counts := range src {
		dst[key] = counts
	}
	return dst
}

func addToMap(m map[string]TokenCounts, key string, input, output int, cost float64) {
	entry := m[key]
	entry.Add(input, output, cost)
	m[key] = entry
}

// =============================================================================
// CONTEXT HELPERS
// =============================================================================

// WithOperation labels model calls made with ctx.
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, operationKey{}, operation)
}

// OperationFrom returns the label set by WithOperation, or OperationUnknown.
func OperationFrom(ctx context.Context) string {
	if op, ok := ctx.Value(operationKey{}).(string); ok && op != "" {
		return op
	}
	return OperationUnknown
}

// =============================================================================
// TRACKING CLIENT
// =============================================================================

// Client records every successful call of the wrapped client.
type Client struct {
	inner   llm.Client
	tracker *Tracker
	catalog *llm.Catalog
}

// NewClient wraps inner. catalog maps model ids back to tiers.
func NewClient(inner llm.Client, tracker *Tracker, catalog *llm.Catalog) *Client {
	if catalog == nil {
		catalog = llm.DefaultCatalog()
	}
	return &Client{inner: inner, tracker: tracker, catalog: catalog}
}

// Send implements llm.Client.
func (c *Client) Send(ctx context.Context, systemPrompt, userMessage string, opts llm.Options) (*llm.Response, error) {
	resp, err := c.inner.Send(ctx, systemPrompt, userMessage, opts)
	if err != nil {
		return nil, err
	}
	tier := "unknown"
	if t, ok := c.catalog.TierOf(opts.Model); ok {
		tier = string(t)
	}
	op := OperationFrom(ctx)
	c.tracker.Track(UsageEvent{
		Timestamp:    time.Now(),
		Model:        opts.Model,
		Tier:         tier,
		Operation:    op,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Cost:         resp.Cost,
	})
	c.tracker.logger().Debug("%s call on %s: %d in / %d out, $%.6f", op, tier, resp.InputTokens, resp.OutputTokens, resp.Cost)
	return resp, nil
}
