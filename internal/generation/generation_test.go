package generation

import (
	"testing"
	"time"

	"gamepilot/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckStaleness_RoundTrip(t *testing.T) {
	m := NewManager(config.DefaultGenerationConfig())

	info, err := m.Register("board read", CategoryBoardState, 1)
	require.NoError(t, err)

	m.SetRound(1)
	assert.Equal(t, 0.0, m.CheckStaleness(info.ID))

	m.SetRound(2) // board_state window is 1 round
	assert.Equal(t, 1.0, m.CheckStaleness(info.ID))

	m.SetRound(10)
	assert.Equal(t, 1.0, m.CheckStaleness(info.ID))

	assert.Equal(t, -1.0, m.CheckStaleness("missing"))
}

func TestCheckStaleness_Fractional(t *testing.T) {
	m := NewManager(config.DefaultGenerationConfig())
	info, err := m.Register("plan", CategoryStrategy, 2)
	require.NoError(t, err)

	tests := []struct {
		round int
		want  float64
	}{
		{1, 0}, // before creation clamps to 0
		{2, 0},
		{3, 1.0 / 3},
		{4, 2.0 / 3},
		{5, 1},
	}
	for _, tt := range tests {
		m.SetRound(tt.round)
		assert.InDelta(t, tt.want, m.CheckStaleness(info.ID), 1e-9, "round %d", tt.round)
	}
}

func TestRegister_UnknownCategory(t *testing.T) {
	m := NewManager(config.DefaultGenerationConfig())
	_, err := m.Register("x", Category("weather"), 1)
	assert.ErrorIs(t, err, ErrUnknownCategory)
	assert.Equal(t, 0, m.Len())
}

func TestFindStaleEntries_SortedDescending(t *testing.T) {
	m := NewManager(config.DefaultGenerationConfig())
	deck, _ := m.Register("deck", CategoryDeckAnalysis, 1)  // 6-round window
	opp, _ := m.Register("opp", CategoryOpponentPattern, 1) // 4-round window
	board, _ := m.Register("board", CategoryBoardState, 1)  // 1-round window
	fresh, _ := m.Register("fresh", CategoryBoardState, 4)

	m.SetRound(4)
	stale := m.FindStaleEntries(0.4)
	ids := make([]string, len(stale))
	for i, s := range stale {
		ids[i] = s.ID
	}
	// board 1.0, opp 0.75, deck 0.5, fresh 0
	assert.Equal(t, []string{board.ID, opp.ID, deck.ID}, ids)
	assert.NotContains(t, ids, fresh.ID)

	// Default threshold is 0.7.
	def := m.FindStaleEntries(-1)
	require.Len(t, def, 2)
	assert.Equal(t, board.ID, def[0].ID)
	assert.InDelta(t, 0.75, def[1].Staleness, 1e-9)
}

func TestIncrementGeneration(t *testing.T) {
	m := NewManager(config.DefaultGenerationConfig())
	a, _ := m.Register("a", CategoryStrategy, 1)
	assert.Equal(t, 1, a.Generation)

	assert.Equal(t, 2, m.IncrementGeneration())
	b, _ := m.Register("b", CategoryStrategy, 1)
	assert.Equal(t, 2, b.Generation)
	assert.Equal(t, 2, m.CurrentGeneration())

	latest, ok := m.Latest(CategoryStrategy)
	require.True(t, ok)
	assert.Equal(t, b.ID, latest.ID)

	_, ok = m.Latest(CategoryDeckAnalysis)
	assert.False(t, ok)
}

func TestMarkAsAccessed_DoesNotChangeStaleness(t *testing.T) {
	m := NewManager(config.DefaultGenerationConfig())
	info, _ := m.Register("plan", CategoryStrategy, 1)
	m.SetRound(3)
	before := m.CheckStaleness(info.ID)

	time.Sleep(2 * time.Millisecond)
	require.True(t, m.MarkAsAccessed(info.ID))
	assert.False(t, m.MarkAsAccessed("missing"))

	got, ok := m.Get(info.ID)
	require.True(t, ok)
	assert.True(t, got.LastAccessedAt.After(info.LastAccessedAt))
	assert.Equal(t, before, m.CheckStaleness(info.ID))
}

func TestRemoveAndClear(t *testing.T) {
	m := NewManager(config.DefaultGenerationConfig())
	a, _ := m.Register("a", CategoryStrategy, 1)
	m.Register("b", CategoryStrategy, 1)
	m.SetRound(5)
	m.IncrementGeneration()

	assert.True(t, m.Remove(a.ID))
	assert.False(t, m.Remove(a.ID))
	assert.Equal(t, -1.0, m.CheckStaleness(a.ID))
	assert.Equal(t, 1, m.Len())

	m.Clear()
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 1, m.CurrentRound())
	assert.Equal(t, 1, m.CurrentGeneration())
}
