// Package generation tracks cached analytical artifacts (board reads,
// strategy, opponent patterns, deck reads) with a monotonic generation and a
// per-category freshness window measured in game rounds.
package generation

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gamepilot/internal/config"
	"gamepilot/internal/logging"

	"github.com/google/uuid"
)

// Category names an artifact family with its own staleness window.
type Category string

const (
	CategoryBoardState      Category = "board_state"
	CategoryStrategy        Category = "strategy"
	CategoryOpponentPattern Category = "opponent_pattern"
	CategoryDeckAnalysis    Category = "deck_analysis"
)

// AllCategories lists the built-in categories in refresh-priority order.
var AllCategories = []Category{CategoryBoardState, CategoryStrategy, CategoryOpponentPattern, CategoryDeckAnalysis}

// ErrUnknownCategory is returned by Register for a category with no window.
var ErrUnknownCategory = errors.New("unknown artifact category")

// Info is one registered artifact. Staleness is never stored on it.
type Info struct {
	ID             string
	Content        string
	Generation     int
	CreatedAt      time.Time
	LastAccessedAt time.Time
	GameRound      int
	Category       Category
}

// Stale pairs an artifact with its staleness at query time.
type Stale struct {
	Info
	Staleness float64
}

// Manager owns the artifacts of one game session.
type Manager struct {
	mu         sync.RWMutex
	cfg        config.GenerationConfig
	round      int
	generation int
	seq        int
	entries    map[string]*Info
	order      map[string]int // registration sequence
}

// NewManager creates a manager at round 1, generation 1.
func NewManager(cfg config.GenerationConfig) *Manager {
	return &Manager{
		cfg:        cfg,
		round:      1,
		generation: 1,
		entries:    make(map[string]*Info),
		order:      make(map[string]int),
	}
}

// SetConfig swaps staleness windows. Staleness is recomputed on next query.
func (m *Manager) SetConfig(cfg config.GenerationConfig) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// Register stores content under the current generation.
func (m *Manager) Register(content string, category Category, gameRound int) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.cfg.StaleRounds[string(category)]; !ok {
		return Info{}, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}

	now := time.Now()
	info := &Info{
		ID:             uuid.NewString(),
		Content:        content,
		Generation:     m.generation,
		CreatedAt:      now,
		LastAccessedAt: now,
		GameRound:      gameRound,
		Category:       category,
	}
	m.entries[info.ID] = info
	m.seq++
	m.order[info.ID] = m.seq

	logging.GenerationDebug("registered %s artifact %s (round %d, gen %d)", category, info.ID, gameRound, info.Generation)
	return *info, nil
}

// CheckStaleness returns (currentRound - gameRound) / staleRounds clamped to
// [0, 1], exactly 1 once the window has elapsed, or -1 for an unknown id.
func (m *Manager) CheckStaleness(id string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.entries[id]
	if !ok {
		return -1
	}
	return m.stalenessLocked(info)
}

func (m *Manager) stalenessLocked(info *Info) float64 {
	window := m.cfg.StaleRounds[string(info.Category)]
	if window < 1 {
		window = 1
	}
	elapsed := m.round - info.GameRound
	switch {
	case elapsed <= 0:
		return 0
	case elapsed >= window:
		return 1
	default:
		return float64(elapsed) / float64(window)
	}
}

// FindStaleEntries returns artifacts with staleness >= threshold, most stale
// first. A negative threshold uses the configured default.
func (m *Manager) FindStaleEntries(threshold float64) []Stale {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if threshold < 0 {
		threshold = m.cfg.StaleThreshold
	}

	var out []Stale
	for _, info := range m.entries {
		s := m.stalenessLocked(info)
		if s >= threshold {
			out = append(out, Stale{Info: *info, Staleness: s})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Staleness != out[j].Staleness {
			return out[i].Staleness > out[j].Staleness
		}
		return m.order[out[i].ID] < m.order[out[j].ID]
	})
	return out
}

// IncrementGeneration bumps the manager-wide generation and returns it.
func (m *Manager) IncrementGeneration() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	logging.GenerationDebug("generation -> %d", m.generation)
	return m.generation
}

// MarkAsAccessed refreshes the last-access time. Staleness is unaffected.
func (m *Manager) MarkAsAccessed(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.entries[id]
	if !ok {
		return false
	}
	info.LastAccessedAt = time.Now()
	return true
}

// Get returns a copy of an artifact.
func (m *Manager) Get(id string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.entries[id]
	if !ok {
		return Info{}, false
	}
	return *info, true
}

// Remove deletes an artifact.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return false
	}
	delete(m.entries, id)
	delete(m.order, id)
	return true
}

// Latest returns the most recently registered artifact of a category.
func (m *Manager) Latest(category Category) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *Info
	bestSeq := 0
	for id, info := range m.entries {
		if info.Category == category && m.order[id] > bestSeq {
			best, bestSeq = info, m.order[id]
		}
	}
	if best == nil {
		return Info{}, false
	}
	return *best, true
}

// SetRound sets the current game round used for staleness.
func (m *Manager) SetRound(round int) {
	m.mu.Lock()
	m.round = round
	m.mu.Unlock()
	logging.GenerationDebug("round -> %d", round)
}

// CurrentRound returns the round staleness is measured against.
func (m *Manager) CurrentRound() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.round
}

// CurrentGeneration returns the generation new artifacts receive.
func (m *Manager) CurrentGeneration() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}

// Len returns the number of artifacts.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Clear drops all artifacts and resets round and generation to 1.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*Info)
	m.order = make(map[string]int)
	m.seq = 0
	m.round = 1
	m.generation = 1
	logging.Generation("artifacts cleared")
}
