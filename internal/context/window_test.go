package context

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gamepilot/internal/config"
	"gamepilot/internal/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	text  string
	err   error
	calls int
}

func (f *fakeLLM) Send(_ context.Context, _, _ string, _ llm.Options) (*llm.Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: f.text}, nil
}

// tenTokens is 40 ASCII characters.
var tenTokens = strings.Repeat("a", 40)

func smallWindow() config.ContextWindowConfig {
	cfg := config.DefaultContextWindowConfig()
	cfg.MaxTokens = 100
	cfg.CompactThreshold = 0.5
	cfg.KeepDetailedTurns = 2
	return cfg
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abcd", 1},
		{"abcde", 2},
		{"攻撃", 2},
		{"attack 攻撃する", 5}, // ceil(7/4) + ceil(4/1.5)
		{"한국어", 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EstimateTokens(tt.text), "%q", tt.text)
	}
}

func TestAddEntry_Defaults(t *testing.T) {
	m := NewManager(smallWindow(), nil)
	e := m.AddEntry(RoleUser, tenTokens, PriorityNormal)

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, 1, e.Generation)
	assert.Equal(t, 10, e.TokenCount)
	assert.False(t, e.Timestamp.IsZero())

	got, ok := m.Entry(e.ID)
	require.True(t, ok)
	assert.Equal(t, e, got)
	assert.Equal(t, 10, m.TotalTokens())
}

func TestEntries_MaximalSuffix(t *testing.T) {
	m := NewManager(config.DefaultContextWindowConfig(), nil)
	m.AddEntry(RoleUser, "aaaa", PriorityNormal)
	m.AddEntry(RoleAssistant, "aaaaaaaa", PriorityNormal)
	m.AddEntry(RoleUser, "bbbb", PriorityNormal)

	assert.Len(t, m.Entries(0), 3)

	got := m.Entries(3)
	require.Len(t, got, 2)
	assert.Equal(t, "aaaaaaaa", got[0].Content)
	assert.Equal(t, "bbbb", got[1].Content)

	got = m.Entries(2)
	require.Len(t, got, 1)
	assert.Equal(t, "bbbb", got[0].Content)
}

func TestToMessages_RemoveEntry(t *testing.T) {
	m := NewManager(config.DefaultContextWindowConfig(), nil)
	m.AddEntry(RoleUser, "one", PriorityNormal)
	two := m.AddEntry(RoleAssistant, "two", PriorityNormal)
	m.AddEntry(RoleUser, "three", PriorityNormal)

	assert.True(t, m.RemoveEntry(two.ID))
	assert.False(t, m.RemoveEntry(two.ID))
	assert.Equal(t, []Message{
		{Role: RoleUser, Content: "one"},
		{Role: RoleUser, Content: "three"},
	}, m.ToMessages())
	assert.Equal(t, 2, m.Len())

	m.Clear()
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 0, m.TotalTokens())
}

func TestCompact_NoopUnderThreshold(t *testing.T) {
	m := NewManager(smallWindow(), nil)
	for i := 0; i < 5; i++ {
		m.AddEntry(RoleUser, tenTokens, PriorityLow)
	}
	assert.Equal(t, 0, m.Compact())
	assert.Equal(t, 5, m.Len())
}

func TestCompact_EvictsLowestFirstAndKeepsHigh(t *testing.T) {
	m := NewManager(smallWindow(), nil)

	var high []string
	for i := 0; i < 2; i++ {
		high = append(high, m.AddEntry(RoleAssistant, tenTokens, PriorityHigh).ID)
	}
	var normal []string
	for i := 0; i < 4; i++ {
		normal = append(normal, m.AddEntry(RoleUser, tenTokens, PriorityNormal).ID)
	}
	for i := 0; i < 2; i++ {
		m.AddEntry(RoleUser, tenTokens, PriorityLow)
	}
	require.Equal(t, 80, m.TotalTokens())

	removed := m.Compact()
	assert.Equal(t, 3, removed)
	assert.LessOrEqual(t, m.TotalTokens(), m.Limit())

	for _, id := range high {
		_, ok := m.Entry(id)
		assert.True(t, ok, "high entry %s evicted", id)
	}
	// The oldest normal entry goes before the newer ones.
	_, ok := m.Entry(normal[0])
	assert.False(t, ok)
	_, ok = m.Entry(normal[3])
	assert.True(t, ok)

	// Survivors keep chronological order.
	entries := m.Entries(0)
	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i].Timestamp.Before(entries[i-1].Timestamp))
	}
}

func TestCompress_ReplacesOldEntriesWithSummary(t *testing.T) {
	client := &fakeLLM{text: "summary text"}
	m := NewManager(smallWindow(), nil)
	m.SetLLM(client, "model")

	var last []string
	for i := 0; i < 8; i++ {
		last = append(last, m.AddEntry(RoleUser, tenTokens, PriorityNormal).ID)
	}
	last = last[6:]

	require.NoError(t, m.Compress(context.Background()))
	assert.Equal(t, 1, client.calls)
	assert.Equal(t, 1, m.SummaryCount())

	entries := m.Entries(0)
	require.Len(t, entries, 3)
	assert.Equal(t, PriorityHigh, entries[0].Priority)
	assert.Equal(t, 2, entries[0].Generation)
	assert.Contains(t, entries[0].Content, "summary text")
	assert.Equal(t, last[0], entries[1].ID)
	assert.Equal(t, last[1], entries[2].ID)

	// A second round folds the first summary in: generation = max + 1.
	for i := 0; i < 5; i++ {
		m.AddEntry(RoleUser, tenTokens, PriorityNormal)
	}
	require.NoError(t, m.Compress(context.Background()))
	entries = m.Entries(0)
	require.Len(t, entries, 3)
	assert.Equal(t, 3, entries[0].Generation)
	assert.Equal(t, 2, m.SummaryCount())
}

func TestCompress_FallsBackToCompact(t *testing.T) {
	client := &fakeLLM{err: errors.New("overloaded")}
	m := NewManager(smallWindow(), nil)
	m.SetLLM(client, "model")
	for i := 0; i < 8; i++ {
		m.AddEntry(RoleUser, tenTokens, PriorityNormal)
	}

	require.NoError(t, m.Compress(context.Background()))
	assert.Equal(t, 1, client.calls)
	assert.Equal(t, 0, m.SummaryCount())
	assert.LessOrEqual(t, m.TotalTokens(), m.Limit())
}

func TestCompress_NoClientCompacts(t *testing.T) {
	m := NewManager(smallWindow(), nil)
	for i := 0; i < 8; i++ {
		m.AddEntry(RoleUser, tenTokens, PriorityLow)
	}
	require.NoError(t, m.Compress(context.Background()))
	assert.Equal(t, 0, m.SummaryCount())
	assert.LessOrEqual(t, m.TotalTokens(), m.Limit())
}

func TestCompress_UnderThreshold(t *testing.T) {
	client := &fakeLLM{text: "x"}
	m := NewManager(smallWindow(), nil)
	m.SetLLM(client, "model")
	m.AddEntry(RoleUser, tenTokens, PriorityNormal)

	require.NoError(t, m.Compress(context.Background()))
	assert.Equal(t, 0, client.calls)
	assert.Equal(t, 1, m.Len())
}

func TestCompress_TruncatesVerboseSummary(t *testing.T) {
	sumCfg := config.DefaultSummarizerConfig()
	sumCfg.MaxSummaryLength = 50
	client := &fakeLLM{text: strings.Repeat("the opponent keeps attacking ", 40)}
	m := NewManager(smallWindow(), NewThreadSummarizer(sumCfg, nil))
	m.SetLLM(client, "model")
	for i := 0; i < 8; i++ {
		m.AddEntry(RoleUser, tenTokens, PriorityNormal)
	}

	require.NoError(t, m.Compress(context.Background()))
	require.Equal(t, 1, m.SummaryCount())
	summary := m.Entries(0)[0]
	body := strings.TrimPrefix(summary.Content, summaryPrefix)
	assert.Len(t, []rune(body), 50)
	assert.True(t, strings.HasSuffix(body, "..."))
	assert.Equal(t, m.EstimateTokens(summary.Content), summary.TokenCount)
}

func TestSetConfig_RecountsWithNewDivisors(t *testing.T) {
	m := NewManager(smallWindow(), nil)
	e := m.AddEntry(RoleUser, tenTokens, PriorityNormal)
	require.Equal(t, 10, e.TokenCount)
	require.Equal(t, 10, m.EstimateTokens(tenTokens))

	cfg := smallWindow()
	cfg.CharsPerToken = 2
	m.SetConfig(cfg)

	assert.Equal(t, 20, m.EstimateTokens(tenTokens))
	assert.Equal(t, 20, m.TotalTokens())
	got, ok := m.Entry(e.ID)
	require.True(t, ok)
	assert.Equal(t, 20, got.TokenCount)
	assert.Equal(t, 20, m.AddEntry(RoleUser, tenTokens, PriorityNormal).TokenCount)
}

func TestParsePriority(t *testing.T) {
	p, err := ParsePriority("HIGH")
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, p)
	_, err = ParsePriority("urgent")
	assert.Error(t, err)
	assert.Equal(t, "low", PriorityLow.String())
}
