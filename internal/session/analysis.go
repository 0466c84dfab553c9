package session

import (
	"fmt"

	internalcontext "gamepilot/internal/context"
	"gamepilot/internal/generation"
	"gamepilot/internal/inference"
	"gamepilot/internal/llm"
	"gamepilot/internal/logging"
	"gamepilot/internal/types"
)

// =============================================================================
// BACKGROUND ANALYSIS
// =============================================================================

// analysisState is guarded by Session.mu. epoch counts games; collectors
// started in an earlier epoch drop their results.
type analysisState struct {
	epoch    uint64
	inflight map[generation.Category]bool
	entries  map[generation.Category]analysisRef
	tasks    map[string]struct{}
}

func newAnalysisState() analysisState {
	return analysisState{
		inflight: make(map[generation.Category]bool),
		entries:  make(map[generation.Category]analysisRef),
		tasks:    make(map[string]struct{}),
	}
}

// nextGame starts a new epoch and returns the task ids still in flight.
func (a *analysisState) nextGame() []string {
	pending := make([]string, 0, len(a.tasks))
	for id := range a.tasks {
		pending = append(pending, id)
	}
	epoch := a.epoch + 1
	*a = newAnalysisState()
	a.epoch = epoch
	return pending
}

type analysisRef struct {
	windowID   string
	artifactID string
}

// BeginRound pushes the round's snapshot, advances round and generation, and
// fans out analysis for every category whose latest artifact is missing or
// stale. Analysis is skipped once the budget says so. It returns the ids of
// the submitted inference tasks; results are collected in the background.
func (s *Session) BeginRound(gc types.GameContext) ([]string, error) {
	s.controller.UpdateGameContext(gc)
	s.generations.SetRound(gc.Round)
	gen := s.generations.IncrementGeneration()

	if s.optimizer.ShouldSkipAnalysis() || s.optimizer.ShouldUseFallback() {
		logging.SessionDebug("round %d: skipping analysis at %.0f%% budget", gc.Round, s.optimizer.UsagePercentage()*100)
		return nil, nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil
	}
	cats := s.staleCategoriesLocked()
	for _, c := range cats {
		s.analysis.inflight[c] = true
	}
	epoch := s.analysis.epoch
	s.mu.Unlock()

	if len(cats) == 0 {
		return nil, nil
	}

	snap := gc.Clone()
	tasks := make([]inference.Task, len(cats))
	for i, c := range cats {
		system, user := s.deps.Prompter.Analysis(c, snap)
		tasks[i] = inference.Task{
			Kind:         inference.KindAnalysis,
			Prompt:       user,
			SystemPrompt: system,
			Model:        llm.Cheapest(),
		}
	}

	ids, err := s.inference.SubmitTasks(tasks)
	if err != nil {
		err = fmt.Errorf("submit round %d analysis: %w", gc.Round, err)
	}

	s.mu.Lock()
	if s.analysis.epoch != epoch {
		// Reset ran while submitting.
		s.mu.Unlock()
		for _, id := range ids {
			s.scheduler.Cancel(id)
		}
		return nil, err
	}
	for _, c := range cats[len(ids):] {
		delete(s.analysis.inflight, c)
	}
	for _, id := range ids {
		s.analysis.tasks[id] = struct{}{}
	}
	collect := len(ids) > 0 && !s.closed
	if collect {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	if collect {
		go s.collectAnalysis(epoch, ids, cats[:len(ids)], gc.Round)
	}

	logging.Session("round %d (gen %d): analysing %v", gc.Round, gen, cats[:len(ids)])
	return ids, err
}

func (s *Session) staleCategoriesLocked() []generation.Category {
	threshold := s.cfg.Generation.StaleThreshold
	var out []generation.Category
	for _, c := range generation.AllCategories {
		if s.analysis.inflight[c] {
			continue
		}
		latest, ok := s.generations.Latest(c)
		if !ok || s.generations.CheckStaleness(latest.ID) >= threshold {
			out = append(out, c)
		}
	}
	return out
}

// collectAnalysis registers successful results and replaces the category's
// previous window entry. Results are dropped once the session has moved on
// to another game.
func (s *Session) collectAnalysis(epoch uint64, ids []string, cats []generation.Category, round int) {
	defer s.wg.Done()

	results := s.inference.AwaitAll(s.base, ids, 0)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.analysis.epoch != epoch {
		logging.SessionDebug("dropping %d round %d analysis results from a previous game", len(results), round)
		return
	}
	for i, r := range results {
		c := cats[i]
		delete(s.analysis.inflight, c)
		delete(s.analysis.tasks, ids[i])

		if !r.Success {
			logging.SessionWarn("%s analysis failed: %v", c, r.Err)
			continue
		}
		info, err := s.generations.Register(r.Text, c, round)
		if err != nil {
			logging.SessionWarn("registering %s analysis: %v", c, err)
			continue
		}
		entry := s.window.AddEntry(internalcontext.RoleAssistant,
			fmt.Sprintf("[%s analysis, round %d] %s", c, round, r.Text), internalcontext.PriorityHigh)

		if prev, ok := s.analysis.entries[c]; ok {
			s.window.RemoveEntry(prev.windowID)
			s.generations.Remove(prev.artifactID)
		}
		s.analysis.entries[c] = analysisRef{windowID: entry.ID, artifactID: info.ID}
	}
}
