package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	internalcontext "gamepilot/internal/context"
	"gamepilot/internal/cost"
	"gamepilot/internal/generation"
	"gamepilot/internal/types"
)

// =============================================================================
// COLLABORATORS
// =============================================================================
// Prompt text and rule-based play live outside the orchestration core. The
// session only depends on these interfaces; JSONPrompter and RuleFallback are
// the stock implementations used by the CLI.

// Prompter assembles prompts and parses model replies.
type Prompter interface {
	// Build renders the decision prompt for ev. history is already bounded
	// by the compression level.
	Build(ev types.Event, history []internalcontext.Message, level cost.CompressionLevel) (system, user string)
	// Parse turns model output into a decision of the kind ev expects.
	Parse(ev types.Event, content string) (types.Decision, string, error)
	// Analysis renders a background analysis prompt for one artifact category.
	Analysis(category generation.Category, gc *types.GameContext) (system, user string)
}

// Fallback produces a rule-based decision. It must not fail.
type Fallback interface {
	Decide(ev types.Event) (types.Decision, string)
}

// ErrUnparseable is returned by JSONPrompter.Parse for replies without a
// usable JSON object.
var ErrUnparseable = errors.New("reply has no decision object")

// JSONPrompter asks for a single JSON object per decision.
type JSONPrompter struct{}

const decisionSystem = `You are a card game decision engine. Reply with exactly one JSON object and nothing else.
Shapes:
  mulligan: {"return": ["<card id>", ...], "reasoning": "..."}
  action:   {"action": "<legal action>", "card_id": "...", "target_id": "...", "reasoning": "..."}
  choice:   {"selected": ["<option id>", ...], "reasoning": "..."}
  continue: {"reasoning": "..."}`

// Build implements Prompter.
func (JSONPrompter) Build(ev types.Event, history []internalcontext.Message, level cost.CompressionLevel) (string, string) {
	var sb strings.Builder

	if len(history) > 0 {
		sb.WriteString("Recent history:\n")
		for _, m := range history {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", m.Role, m.Content))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("State: ")
	sb.WriteString(ev.Context.Summary())
	sb.WriteString("\n")

	if level == cost.CompressionNone && ev.Context != nil {
		if board, err := json.Marshal(ev.Context); err == nil {
			sb.WriteString("Board: ")
			sb.Write(board)
			sb.WriteString("\n")
		}
	}

	sb.WriteString(fmt.Sprintf("Event: %s (reply shape: %s)\n", ev.Type, ev.Type.ExpectedDecision()))
	switch p := ev.Payload.(type) {
	case types.MulliganPayload:
		ids := make([]string, len(p.Hand))
		for i, c := range p.Hand {
			ids[i] = c.ID
		}
		sb.WriteString("Hand: " + strings.Join(ids, ", ") + "\n")
	case types.TurnActionPayload:
		sb.WriteString("Legal actions: " + strings.Join(p.Legal, ", ") + "\n")
	case types.ChoicePayload:
		sb.WriteString(fmt.Sprintf("Pick %d to %d of:\n", p.Min, p.Max))
		for _, o := range p.Options {
			sb.WriteString(fmt.Sprintf("  %s: %s\n", o.ID, o.Label))
		}
	}

	system := decisionSystem
	if level == cost.CompressionAggressive {
		system += "\nKeep reasoning under 15 words."
	}
	return system, sb.String()
}

type reply struct {
	Action    string   `json:"action"`
	CardID    string   `json:"card_id"`
	TargetID  string   `json:"target_id"`
	Return    []string `json:"return"`
	Selected  []string `json:"selected"`
	Reasoning string   `json:"reasoning"`
}

// Parse implements Prompter.
func (JSONPrompter) Parse(ev types.Event, content string) (types.Decision, string, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return nil, "", ErrUnparseable
	}
	var r reply
	if err := json.Unmarshal([]byte(content[start:end+1]), &r); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	switch ev.Type.ExpectedDecision() {
	case types.DecisionMulligan:
		return types.MulliganDecision{Return: r.Return}, r.Reasoning, nil
	case types.DecisionAction:
		if r.Action == "" {
			return nil, "", fmt.Errorf("%w: missing action", ErrUnparseable)
		}
		if p, ok := ev.Payload.(types.TurnActionPayload); ok && len(p.Legal) > 0 && !slices.Contains(p.Legal, r.Action) {
			return nil, "", fmt.Errorf("action %q is not legal", r.Action)
		}
		return types.ActionDecision{Action: r.Action, CardID: r.CardID, TargetID: r.TargetID}, r.Reasoning, nil
	case types.DecisionChoice:
		if p, ok := ev.Payload.(types.ChoicePayload); ok {
			if err := validateChoice(p, r.Selected); err != nil {
				return nil, "", err
			}
		}
		return types.ChoiceDecision{Selected: r.Selected}, r.Reasoning, nil
	case types.DecisionContinue:
		return types.ContinueDecision{}, r.Reasoning, nil
	}
	return nil, "", fmt.Errorf("no decision shape for %s", ev.Type)
}

func validateChoice(p types.ChoicePayload, selected []string) error {
	if len(selected) < p.Min || (p.Max > 0 && len(selected) > p.Max) {
		return fmt.Errorf("selected %d options, want %d..%d", len(selected), p.Min, p.Max)
	}
	for _, id := range selected {
		if !slices.ContainsFunc(p.Options, func(o types.ChoiceOption) bool { return o.ID == id }) {
			return fmt.Errorf("unknown option %q", id)
		}
	}
	return nil
}

// Analysis implements Prompter.
func (JSONPrompter) Analysis(category generation.Category, gc *types.GameContext) (string, string) {
	system := "You are a card game analyst. Answer in at most three short sentences."
	var ask string
	switch category {
	case generation.CategoryBoardState:
		ask = "Who controls the board and what is the biggest immediate threat?"
	case generation.CategoryStrategy:
		ask = "What should our plan be for the next two turns?"
	case generation.CategoryOpponentPattern:
		ask = "What pattern is the opponent following and what are they likely holding?"
	case generation.CategoryDeckAnalysis:
		ask = "How should remaining deck size and resources shape our pacing?"
	default:
		ask = "Summarize the position."
	}
	return system, fmt.Sprintf("State: %s\n%s", gc.Summary(), ask)
}

// RuleFallback is a conservative rule-based player: keep the opening hand,
// pass or take the first legal action, pick the minimum number of options.
type RuleFallback struct{}

// Decide implements Fallback.
func (RuleFallback) Decide(ev types.Event) (types.Decision, string) {
	switch ev.Type.ExpectedDecision() {
	case types.DecisionMulligan:
		return types.MulliganDecision{}, "keep opening hand"
	case types.DecisionAction:
		if p, ok := ev.Payload.(types.TurnActionPayload); ok && len(p.Legal) > 0 && !slices.Contains(p.Legal, "pass") {
			return types.ActionDecision{Action: p.Legal[0]}, "first legal action"
		}
		return types.ActionDecision{Action: "pass"}, "pass"
	case types.DecisionChoice:
		p, _ := ev.Payload.(types.ChoicePayload)
		n := p.Min
		if n > len(p.Options) {
			n = len(p.Options)
		}
		selected := make([]string, 0, n)
		for _, o := range p.Options[:n] {
			selected = append(selected, o.ID)
		}
		return types.ChoiceDecision{Selected: selected}, "minimum selection"
	default:
		return types.ContinueDecision{}, "continue"
	}
}
