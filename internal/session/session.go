// Package session wires one game's worth of orchestration components:
// controller, scheduler, parallel inference, cost engine, context window,
// generation tracking and the decision journal. Nothing here is global; every
// component is owned by exactly one Session.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gamepilot/internal/config"
	internalcontext "gamepilot/internal/context"
	"gamepilot/internal/controller"
	"gamepilot/internal/cost"
	"gamepilot/internal/generation"
	"gamepilot/internal/inference"
	"gamepilot/internal/journal"
	"gamepilot/internal/llm"
	"gamepilot/internal/logging"
	"gamepilot/internal/scheduler"
	"gamepilot/internal/types"
	"gamepilot/internal/usage"

	"github.com/google/uuid"
)

// ErrNoLLM is returned by New when no LLM client is supplied.
var ErrNoLLM = errors.New("no LLM client configured")

// Deps are the external collaborators of a session.
type Deps struct {
	Client   llm.Client       // required
	Costs    llm.CostAccessor // provider-side spend; nil means the session records spend itself
	Catalog  *llm.Catalog     // nil uses the catalog built from config
	Prompter Prompter         // nil uses JSONPrompter
	Fallback Fallback         // nil uses RuleFallback
}

// Session owns every component for one game.
type Session struct {
	mu  sync.RWMutex
	cfg *config.Config

	deps    Deps
	catalog *llm.Catalog
	client  llm.Client // deps.Client behind spend recording and the usage ledger
	usage   *usage.Tracker

	controller  *controller.Controller
	scheduler   *scheduler.Scheduler
	inference   *inference.Engine
	complexity  *cost.ComplexityEvaluator
	optimizer   *cost.Optimizer
	window      *internalcontext.Manager
	summarizer  *internalcontext.ThreadSummarizer
	generations *generation.Manager
	journal     *journal.Journal // nil when disabled

	pipeline *Pipeline
	analysis analysisState

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// New builds a session from cfg. Components are created fresh; nothing is
// shared with other sessions.
func New(cfg *config.Config, deps Deps) (*Session, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if deps.Client == nil {
		return nil, ErrNoLLM
	}
	if deps.Prompter == nil {
		deps.Prompter = JSONPrompter{}
	}
	if deps.Fallback == nil {
		deps.Fallback = RuleFallback{}
	}
	catalog := deps.Catalog
	if catalog == nil {
		catalog = llm.NewCatalog(cfg.LLM)
	}

	s := &Session{
		cfg:      cfg,
		deps:     deps,
		catalog:  catalog,
		analysis: newAnalysisState(),
	}
	s.base, s.cancel = context.WithCancel(context.Background())
	s.optimizer = cost.NewOptimizer(cfg.Budget, cfg.Complexity, catalog, deps.Costs)

	inner := deps.Client
	if deps.Costs == nil {
		inner = &spendRecorder{inner: inner, catalog: catalog, optimizer: s.optimizer}
	}
	s.usage = usage.NewTracker(uuid.NewString())
	s.client = usage.NewClient(inner, s.usage, catalog)

	s.scheduler = scheduler.New(scheduler.Config{MaxConcurrent: cfg.Scheduler.MaxConcurrentTasks})
	s.inference = inference.NewEngine(inference.Config{
		MaxConcurrentCalls: cfg.Inference.MaxConcurrentCalls,
		DefaultTimeout:     cfg.GetInferenceTimeout(),
		DefaultTier:        llm.Cheapest(),
		MaxTokens:          cfg.LLM.MaxTokens,
		Temperature:        cfg.LLM.Temperature,
	}, s.scheduler, s.client, catalog)

	s.complexity = cost.NewComplexityEvaluator(cfg.Complexity)

	counter := internalcontext.NewTokenCounter(cfg.ContextWindow)
	s.summarizer = internalcontext.NewThreadSummarizer(cfg.Summarizer, counter)
	s.window = internalcontext.NewManager(cfg.ContextWindow, s.summarizer)
	s.window.SetLLM(s.client, catalog.Model(llm.Cheapest()))

	s.generations = generation.NewManager(cfg.Generation)

	s.controller = controller.New(controller.ConfigFrom(cfg))
	s.pipeline = &Pipeline{s: s}
	s.controller.SetDecisionHandler(s.pipeline.Decide)

	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.DSN)
		if err != nil {
			s.scheduler.Shutdown()
			s.controller.Close()
			s.cancel()
			return nil, fmt.Errorf("open decision journal: %w", err)
		}
		s.journal = j
		s.controller.SetObserver(j)
	}

	logging.Session("session created: player=%s budget=$%.2f journal=%v",
		cfg.Controller.PlayerID, cfg.Budget.CostLimitPerGame, s.journal != nil)
	return s, nil
}

// Controller returns the event controller.
func (s *Session) Controller() *controller.Controller { return s.controller }

// Scheduler returns the task scheduler.
func (s *Session) Scheduler() *scheduler.Scheduler { return s.scheduler }

// Inference returns the parallel inference engine.
func (s *Session) Inference() *inference.Engine { return s.inference }

// Optimizer returns the cost optimizer.
func (s *Session) Optimizer() *cost.Optimizer { return s.optimizer }

// Complexity returns the complexity evaluator.
func (s *Session) Complexity() *cost.ComplexityEvaluator { return s.complexity }

// Window returns the context window.
func (s *Session) Window() *internalcontext.Manager { return s.window }

// Summarizer returns the rule-based summarizer.
func (s *Session) Summarizer() *internalcontext.ThreadSummarizer { return s.summarizer }

// Generations returns the artifact generation manager.
func (s *Session) Generations() *generation.Manager { return s.generations }

// Journal returns the decision journal, or nil when disabled.
func (s *Session) Journal() *journal.Journal { return s.journal }

// Usage returns the per-game token ledger.
func (s *Session) Usage() *usage.Tracker { return s.usage }

// Pipeline returns the decision pipeline registered with the controller.
func (s *Session) Pipeline() *Pipeline { return s.pipeline }

// Config returns the active configuration.
func (s *Session) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// HandleMessage forwards an inbound message to the controller.
func (s *Session) HandleMessage(ctx context.Context, msg types.Message) bool {
	return s.controller.HandleMessage(ctx, msg)
}

// UpdateGameContext forwards a snapshot to the controller.
func (s *Session) UpdateGameContext(gc types.GameContext) {
	s.controller.UpdateGameContext(gc)
}

// ApplyConfig hot-swaps settings that are safe mid-game: controller
// timeouts, complexity thresholds, staleness windows, context window limits
// and log level. The budget limit is fixed per game and applies at Reset.
func (s *Session) ApplyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	s.controller.SetTimeouts(cfg.GetChoiceTimeout(), cfg.GetActionTimeout())
	s.complexity.SetConfig(cfg.Complexity)
	s.optimizer.SetThresholds(cfg.Complexity)
	s.generations.SetConfig(cfg.Generation)
	s.window.SetConfig(cfg.ContextWindow)
	if err := logging.SetLevel(cfg.Logging.Level); err != nil {
		logging.SessionWarn("ignoring log level: %v", err)
	}
	logging.Session("configuration applied (budget change takes effect at next reset)")
}

// WatchConfig starts a watcher that applies reloaded config to this session.
// The watcher stops with ctx or when Stop is called on it.
func (s *Session) WatchConfig(ctx context.Context, path string) (*config.Watcher, error) {
	w, err := config.NewWatcher(path, s.ApplyConfig)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// Reset prepares the session for a new game: cancels in-flight analysis,
// clears the controller, context window, generations and local spend, resets
// provider cost, and re-reads the budget limit from the active config.
// Analysis results of the previous game that arrive later are dropped.
func (s *Session) Reset() {
	s.mu.Lock()
	budget := s.cfg.Budget
	pending := s.analysis.nextGame()
	s.mu.Unlock()

	for _, id := range pending {
		s.scheduler.Cancel(id)
	}

	s.controller.Reset()
	s.window.Clear()
	s.generations.Clear()
	s.optimizer.SetBudget(budget)
	s.optimizer.Reset()
	if s.deps.Costs != nil {
		s.deps.Costs.ResetTotalCost()
	}
	s.usage.Reset(uuid.NewString())
	cleared := s.scheduler.ClearCompleted()
	logging.Session("session reset (cancelled %d analysis tasks, cleared %d finished tasks, budget $%.2f)",
		len(pending), cleared, budget.CostLimitPerGame)
}

// WaitIdle blocks until background analysis collectors finish or ctx ends.
func (s *Session) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the controller, cancels and drains background work, and
// closes the journal.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.controller.Close()
	s.cancel()
	s.scheduler.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var errs []error
	if err := s.scheduler.Drain(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain scheduler: %w", err))
	}
	if err := s.WaitIdle(ctx); err != nil {
		errs = append(errs, fmt.Errorf("wait for analysis: %w", err))
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
	}
	logging.Session("session closed")
	return errors.Join(errs...)
}
