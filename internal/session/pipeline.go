package session

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	internalcontext "gamepilot/internal/context"
	"gamepilot/internal/cost"
	"gamepilot/internal/inference"
	"gamepilot/internal/llm"
	"gamepilot/internal/logging"
	"gamepilot/internal/scheduler"
	"gamepilot/internal/types"
	"gamepilot/internal/usage"
)

// =============================================================================
// DECISION PIPELINE
// =============================================================================

// Pipeline is the decision handler registered with the controller.
type Pipeline struct {
	s *Session

	llmDecisions      atomic.Int64
	fallbackDecisions atomic.Int64
	compressing       atomic.Bool
}

// Decide answers one event. It never returns an error: budget exhaustion,
// model failures, unparseable replies and overruns all produce the
// rule-based fallback decision.
func (p *Pipeline) Decide(ctx context.Context, ev types.Event) (*types.DecisionResponse, error) {
	s := p.s
	start := time.Now()

	if s.optimizer.ShouldUseFallback() {
		logging.SessionWarn("%s: budget exhausted, using rule-based decision", ev.Key())
		resp := p.fallback(ev)
		resp.Latency = time.Since(start)
		p.remember(ev, resp)
		return resp, nil
	}

	eval := s.complexity.Evaluate(ev.Context)
	rec := s.optimizer.RecommendModel(eval.Score)
	level := s.optimizer.PromptCompressionLevel()
	system, user := s.deps.Prompter.Build(ev, p.history(level), level)

	cfg := s.Config()
	model := s.catalog.Model(rec.Model)
	timeout := p.deadline(ev)

	logging.SessionDebug("%s: complexity %.1f -> %s, compression %s, deadline %v",
		ev.Key(), eval.Score, rec.Model, level, timeout)

	resp := inference.WithFallback(ctx, func(ctx context.Context) (*types.DecisionResponse, error) {
		out, err := s.client.Send(usage.WithOperation(ctx, usage.OperationDecision), system, user, llm.Options{
			Model:       model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
		})
		if err != nil {
			return nil, err
		}

		decision, reasoning, err := s.deps.Prompter.Parse(ev, out.Content)
		if err != nil {
			return nil, fmt.Errorf("parse %s reply: %w", rec.Model, err)
		}
		return &types.DecisionResponse{
			PromptID:  ev.PromptID,
			Decision:  decision,
			Reasoning: reasoning,
			Source:    types.SourceLLM,
			Model:     string(rec.Model),
			Cost:      out.Cost,
		}, nil
	}, func() *types.DecisionResponse {
		return p.fallback(ev)
	}, timeout)

	resp.Latency = time.Since(start)
	if resp.Source == types.SourceLLM {
		p.llmDecisions.Add(1)
	}
	p.remember(ev, resp)
	return resp, nil
}

// Stats returns decisions answered by the model and by the fallback.
func (p *Pipeline) Stats() (llmDecisions, fallbackDecisions int64) {
	return p.llmDecisions.Load(), p.fallbackDecisions.Load()
}

func (p *Pipeline) fallback(ev types.Event) *types.DecisionResponse {
	p.fallbackDecisions.Add(1)
	decision, reasoning := p.s.deps.Fallback.Decide(ev)
	return &types.DecisionResponse{
		PromptID:  ev.PromptID,
		Decision:  decision,
		Reasoning: reasoning,
		Source:    types.SourceFallback,
	}
}

// deadline leaves the controller a margin to deliver the answer.
func (p *Pipeline) deadline(ev types.Event) time.Duration {
	return p.s.controller.TimeoutFor(ev.Type) * 4 / 5
}

// history bounds prompt history by compression level.
func (p *Pipeline) history(level cost.CompressionLevel) []internalcontext.Message {
	w := p.s.window
	var budget int
	switch level {
	case cost.CompressionLight:
		budget = max(w.Limit()/2, 1)
	case cost.CompressionAggressive:
		budget = max(w.Limit()/4, 1)
	}
	entries := w.Entries(budget)
	msgs := make([]internalcontext.Message, len(entries))
	for i, e := range entries {
		msgs[i] = internalcontext.Message{Role: e.Role, Content: e.Content}
	}
	return msgs
}

// remember appends the exchange to the context window and schedules
// compression when the window is over its trigger.
func (p *Pipeline) remember(ev types.Event, resp *types.DecisionResponse) {
	w := p.s.window
	w.AddEntry(internalcontext.RoleUser, fmt.Sprintf("[%s] %s", ev.Type, ev.Context.Summary()), internalcontext.PriorityNormal)

	priority := internalcontext.PriorityNormal
	if resp.Source == types.SourceFallback {
		priority = internalcontext.PriorityLow
	}
	w.AddEntry(internalcontext.RoleAssistant, describe(resp), priority)

	if !w.NeedsCompaction() || !p.compressing.CompareAndSwap(false, true) {
		return
	}
	_, err := p.s.scheduler.Submit(scheduler.Task{
		Name: "compress-context",
		Run: func(ctx context.Context) (any, error) {
			defer p.compressing.Store(false)
			return nil, w.Compress(usage.WithOperation(ctx, usage.OperationSummary))
		},
	})
	if err != nil {
		p.compressing.Store(false)
		logging.SessionWarn("compressing inline, scheduler unavailable: %v", err)
		w.Compact()
	}
}

func describe(resp *types.DecisionResponse) string {
	var what string
	switch d := resp.Decision.(type) {
	case types.MulliganDecision:
		if len(d.Return) == 0 {
			what = "keep hand"
		} else {
			what = "return " + strings.Join(d.Return, ", ")
		}
	case types.ActionDecision:
		what = d.Action
		if d.CardID != "" {
			what += " " + d.CardID
		}
		if d.TargetID != "" {
			what += " -> " + d.TargetID
		}
	case types.ChoiceDecision:
		what = "select " + strings.Join(d.Selected, ", ")
	case types.ContinueDecision:
		what = "continue"
	default:
		what = "no decision"
	}
	if resp.Reasoning != "" {
		what += " (" + resp.Reasoning + ")"
	}
	return fmt.Sprintf("%s [%s]", what, resp.Source)
}
