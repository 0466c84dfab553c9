package types

import "time"

// =============================================================================
// DECISIONS
// =============================================================================

// DecisionKind tags the variant of a Decision.
type DecisionKind int

const (
	DecisionNone DecisionKind = iota
	DecisionMulligan
	DecisionAction
	DecisionChoice
	DecisionContinue
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionMulligan:
		return "mulligan"
	case DecisionAction:
		return "action"
	case DecisionChoice:
		return "choice"
	case DecisionContinue:
		return "continue"
	}
	return "none"
}

// Decision is the variant part of a DecisionResponse. The set of implementations is closed.
type Decision interface {
	Kind() DecisionKind
}

// MulliganDecision lists the cards returned to the deck. Empty keeps the hand.
type MulliganDecision struct {
	Return []string `json:"return"`
}

// ActionDecision is one turn action.
type ActionDecision struct {
	Action   string `json:"action"` // play, attack, evolve, pass
	CardID   string `json:"card_id,omitempty"`
	TargetID string `json:"target_id,omitempty"`
}

// ChoiceDecision lists the selected option ids.
type ChoiceDecision struct {
	Selected []string `json:"selected"`
}

// ContinueDecision acknowledges a continue prompt.
type ContinueDecision struct{}

func (MulliganDecision) Kind() DecisionKind { return DecisionMulligan }
func (ActionDecision) Kind() DecisionKind   { return DecisionAction }
func (ChoiceDecision) Kind() DecisionKind   { return DecisionChoice }
func (ContinueDecision) Kind() DecisionKind { return DecisionContinue }

// Decision sources.
const (
	SourceLLM      = "llm"
	SourceFallback = "fallback"
)

// DecisionResponse is what a decision handler returns for an Event.
type DecisionResponse struct {
	PromptID  string
	Decision  Decision
	Reasoning string
	Source    string // llm or fallback
	Model     string // tier name when Source is llm
	Cost      float64
	Latency   time.Duration
}

// Matches reports whether the response carries the reply shape ev expects.
func (r DecisionResponse) Matches(ev Event) bool {
	return r.Decision != nil && r.Decision.Kind() == ev.Type.ExpectedDecision()
}
