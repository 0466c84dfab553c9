package context

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gamepilot/internal/config"
	"gamepilot/internal/llm"
	"gamepilot/internal/logging"

	"github.com/google/uuid"
)

// =============================================================================
// ENTRIES
// =============================================================================

// Role is the speaker of an entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Priority orders entries for eviction. High entries are never evicted by
// Compact.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("unknown(%d)", p)
	}
}

// ParsePriority parses "low", "normal" or "high".
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "normal", "":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}

// Entry is one turn of the conversation log.
type Entry struct {
	ID         string
	Content    string
	Role       Role
	Timestamp  time.Time
	TokenCount int
	Priority   Priority
	Generation int // 1 for original turns, max(sources)+1 for summaries
}

// Message is a role/content pair ready for a prompt.
type Message struct {
	Role    Role
	Content string
}

const summaryPrefix = "[Summary of earlier turns] "

// =============================================================================
// MANAGER
// =============================================================================

// Manager holds the chronological, token-accounted entry log of one game.
type Manager struct {
	mu         sync.Mutex
	cfg        config.ContextWindowConfig
	counter    *TokenCounter
	summarizer *ThreadSummarizer
	client     llm.Client // optional
	model      string

	entries     []Entry
	summaries   int
	compactions int
}

// NewManager creates a manager. summarizer may be nil, in which case a
// default rule-based summarizer is used.
func NewManager(cfg config.ContextWindowConfig, summarizer *ThreadSummarizer) *Manager {
	counter := NewTokenCounter(cfg)
	if summarizer == nil {
		summarizer = NewThreadSummarizer(config.DefaultSummarizerConfig(), counter)
	}
	return &Manager{
		cfg:        cfg,
		counter:    counter,
		summarizer: summarizer,
	}
}

// SetLLM configures the collaborator used by Compress. A nil client
// disables LLM summaries.
func (m *Manager) SetLLM(client llm.Client, model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.client = client
	m.model = model
}

// SetConfig swaps the window settings and recounts existing entries with
// the new token divisors.
func (m *Manager) SetConfig(cfg config.ContextWindowConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	m.counter = NewTokenCounter(cfg)
	for i := range m.entries {
		m.entries[i].TokenCount = m.counter.Count(m.entries[i].Content)
	}
}

// AddEntry appends a first-generation entry and returns it.
func (m *Manager) AddEntry(role Role, content string, priority Priority) Entry {
	e := Entry{
		ID:         uuid.NewString(),
		Content:    content,
		Role:       role,
		Timestamp:  time.Now(),
		Priority:   priority,
		Generation: 1,
	}

	m.mu.Lock()
	e.TokenCount = m.counter.Count(content)
	m.entries = append(m.entries, e)
	total := m.counter.CountEntries(m.entries)
	m.mu.Unlock()

	logging.ContextDebug("added %s entry (%s, %d tokens, total %d)", role, priority, e.TokenCount, total)
	return e
}

// Entries returns all entries when maxTokens <= 0. Otherwise it returns the
// longest suffix whose token sum fits within maxTokens, in original order.
func (m *Manager) Entries(maxTokens int) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if maxTokens <= 0 {
		return append([]Entry(nil), m.entries...)
	}

	start := len(m.entries)
	sum := 0
	for i := len(m.entries) - 1; i >= 0; i-- {
		if sum+m.entries[i].TokenCount > maxTokens {
			break
		}
		sum += m.entries[i].TokenCount
		start = i
	}
	return append([]Entry(nil), m.entries[start:]...)
}

// Entry returns a single entry by id.
func (m *Manager) Entry(id string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// EstimateTokens estimates text with this window's divisors.
func (m *Manager) EstimateTokens(text string) int {
	m.mu.Lock()
	counter := m.counter
	m.mu.Unlock()
	return counter.Count(text)
}

// TotalTokens sums all entry token counts.
func (m *Manager) TotalTokens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counter.CountEntries(m.entries)
}

// ToMessages returns role/content pairs in chronological order.
func (m *Manager) ToMessages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := make([]Message, len(m.entries))
	for i, e := range m.entries {
		msgs[i] = Message{Role: e.Role, Content: e.Content}
	}
	return msgs
}

// RemoveEntry deletes an entry. It reports whether the id existed.
func (m *Manager) RemoveEntry(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.entries {
		if e.ID == id {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// SummaryCount returns how many summary entries Compress has inserted.
func (m *Manager) SummaryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summaries
}

// Clear drops every entry and resets counters.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	m.summaries = 0
	m.compactions = 0
	logging.Context("context window cleared")
}

// Limit is the compaction trigger in tokens.
func (m *Manager) Limit() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limitLocked()
}

func (m *Manager) limitLocked() int {
	return int(float64(m.cfg.MaxTokens) * m.cfg.CompactThreshold)
}

// NeedsCompaction reports whether total tokens exceed the trigger.
func (m *Manager) NeedsCompaction() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counter.CountEntries(m.entries) > m.limitLocked()
}

// =============================================================================
// COMPACTION
// =============================================================================

// Compact evicts non-high entries, lowest (priority, generation) first, until
// the total is within the trigger. If summarization is enabled and the total
// is still over, the older half of the remaining normal entries is dropped.
// It returns the number of entries removed.
func (m *Manager) Compact() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.compactLocked()
}

func (m *Manager) compactLocked() int {
	limit := m.limitLocked()
	total := m.counter.CountEntries(m.entries)
	if total <= limit {
		return 0
	}
	before := total

	order := make([]int, 0, len(m.entries))
	for i, e := range m.entries {
		if e.Priority != PriorityHigh {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		ea, eb := m.entries[order[a]], m.entries[order[b]]
		if ea.Priority != eb.Priority {
			return ea.Priority < eb.Priority
		}
		return ea.Generation < eb.Generation
	})

	drop := make(map[int]bool)
	for _, idx := range order {
		if total <= limit {
			break
		}
		drop[idx] = true
		total -= m.entries[idx].TokenCount
	}

	if total > limit && m.cfg.EnableSummarization {
		var normals []int
		for i, e := range m.entries {
			if !drop[i] && e.Priority == PriorityNormal {
				normals = append(normals, i)
			}
		}
		for _, idx := range normals[:len(normals)/2] {
			drop[idx] = true
			total -= m.entries[idx].TokenCount
		}
	}

	kept := m.entries[:0:0]
	for i, e := range m.entries {
		if !drop[i] {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	m.compactions++

	if total > limit {
		logging.ContextWarn("compaction left %d tokens over limit %d (high-priority entries)", total, limit)
	}
	logging.Context("compacted: removed %d entries, %d -> %d tokens", len(drop), before, total)
	return len(drop)
}

// Compress replaces all but the most recent KeepDetailedTurns entries with a
// single high-priority LLM summary. Without an LLM client, or on any
// summarization error, it falls back to Compact. It is a no-op while the
// window is under its trigger.
func (m *Manager) Compress(ctx context.Context) error {
	m.mu.Lock()
	if m.counter.CountEntries(m.entries) <= m.limitLocked() {
		m.mu.Unlock()
		return nil
	}
	client, model := m.client, m.model
	keep := m.cfg.KeepDetailedTurns
	if client == nil || len(m.entries) <= keep {
		m.compactLocked()
		m.mu.Unlock()
		return nil
	}
	old := append([]Entry(nil), m.entries[:len(m.entries)-keep]...)
	m.mu.Unlock()

	text, err := m.summarizer.llmSummary(ctx, client, model, old)
	if err != nil {
		logging.ContextWarn("LLM compression failed, compacting instead: %v", err)
		m.Compact()
		return nil
	}

	maxGen := 0
	removed := make(map[string]bool, len(old))
	for _, e := range old {
		removed[e.ID] = true
		if e.Generation > maxGen {
			maxGen = e.Generation
		}
	}
	content := summaryPrefix + text
	summary := Entry{
		ID:         uuid.NewString(),
		Content:    content,
		Role:       RoleAssistant,
		Timestamp:  time.Now(),
		Priority:   PriorityHigh,
		Generation: maxGen + 1,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	summary.TokenCount = m.counter.Count(content)
	rest := make([]Entry, 0, len(m.entries)+1)
	rest = append(rest, summary)
	found := 0
	for _, e := range m.entries {
		if removed[e.ID] {
			found++
			continue
		}
		rest = append(rest, e)
	}
	if found == 0 {
		// Cleared while the summary was being written.
		return nil
	}
	m.entries = rest
	m.summaries++

	logging.Context("compressed %d entries into generation %d summary (%d tokens)", len(old), summary.Generation, summary.TokenCount)

	if m.counter.CountEntries(m.entries) > m.limitLocked() {
		m.compactLocked()
	}
	return nil
}

// Stats returns entry count, total tokens, summaries and compactions.
func (m *Manager) Stats() (entries, tokens, summaries, compactions int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), m.counter.CountEntries(m.entries), m.summaries, m.compactions
}
