package types

import (
	"fmt"
	"time"
)

// =============================================================================
// EVENTS
// =============================================================================

// EventType is the closed vocabulary of events that need a decision.
type EventType int

const (
	EventUnknown EventType = iota
	EventMulligan
	EventTurnAction
	EventChoiceOption
	EventChoiceCard
	EventChoiceUnit
	EventChoiceBlock
	EventChoiceIntercept
	EventContinue
)

var eventNames = map[EventType]string{
	EventMulligan:        "mulligan",
	EventTurnAction:      "turn_action",
	EventChoiceOption:    "choice_option",
	EventChoiceCard:      "choice_card",
	EventChoiceUnit:      "choice_unit",
	EventChoiceBlock:     "choice_block",
	EventChoiceIntercept: "choice_intercept",
	EventContinue:        "continue",
}

// AllEventTypes lists the vocabulary in declaration order.
var AllEventTypes = []EventType{
	EventMulligan, EventTurnAction, EventChoiceOption, EventChoiceCard,
	EventChoiceUnit, EventChoiceBlock, EventChoiceIntercept, EventContinue,
}

func (t EventType) String() string {
	if s, ok := eventNames[t]; ok {
		return s
	}
	return "unknown"
}

// ParseEventType maps a wire name to an EventType.
func ParseEventType(s string) (EventType, bool) {
	for t, name := range eventNames {
		if name == s {
			return t, true
		}
	}
	return EventUnknown, false
}

// IsChoice reports whether the event asks the player to pick among options.
// Choices and mulligans get the longer decision ceiling.
func (t EventType) IsChoice() bool {
	switch t {
	case EventMulligan, EventChoiceOption, EventChoiceCard, EventChoiceUnit,
		EventChoiceBlock, EventChoiceIntercept:
		return true
	}
	return false
}

// ExpectedDecision returns the reply shape the game expects for this event.
func (t EventType) ExpectedDecision() DecisionKind {
	switch t {
	case EventMulligan:
		return DecisionMulligan
	case EventTurnAction:
		return DecisionAction
	case EventContinue:
		return DecisionContinue
	case EventChoiceOption, EventChoiceCard, EventChoiceUnit, EventChoiceBlock, EventChoiceIntercept:
		return DecisionChoice
	}
	return DecisionNone
}

// Payload is the variant part of an Event. The set of implementations is closed.
type Payload interface {
	payload()
}

// MulliganPayload carries the opening hand.
type MulliganPayload struct {
	Hand []Card
}

// TurnActionPayload carries the legal actions offered for the current step.
type TurnActionPayload struct {
	Legal []string
}

// ChoicePayload carries the options of a choice_* prompt.
type ChoicePayload struct {
	Options []ChoiceOption
	Min     int
	Max     int
}

// ContinuePayload acknowledges a pause in the game flow.
type ContinuePayload struct{}

func (MulliganPayload) payload()   {}
func (TurnActionPayload) payload() {}
func (ChoicePayload) payload()     {}
func (ContinuePayload) payload()   {}

// ChoiceOption is one selectable option.
type ChoiceOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Event is a classified inbound prompt. Events are never mutated after creation.
type Event struct {
	Type       EventType
	PromptID   string // correlation id, may be empty
	PlayerID   string // target participant, may be empty
	Context    *GameContext
	Payload    Payload
	ReceivedAt time.Time
}

// Key identifies the event for timeout bookkeeping.
// Events without a prompt id fall back to their arrival time.
func (e Event) Key() string {
	if e.PromptID != "" {
		return e.Type.String() + ":" + e.PromptID
	}
	return fmt.Sprintf("%s:%d", e.Type, e.ReceivedAt.UnixNano())
}

// =============================================================================
// INBOUND MESSAGES
// =============================================================================

// MessageTypeOperation marks control messages (freeze/defrost).
const MessageTypeOperation = "operation"

// Operation names carried by control messages.
const (
	OperationFreeze  = "freeze"
	OperationDefrost = "defrost"
)

// Message is the raw inbound message from the transport layer.
type Message struct {
	Type      string         `json:"type"`
	Operation string         `json:"operation,omitempty"`
	PromptID  string         `json:"prompt_id,omitempty"`
	PlayerID  string         `json:"player_id,omitempty"`
	Options   []ChoiceOption `json:"options,omitempty"`
	Min       int            `json:"min,omitempty"`
	Max       int            `json:"max,omitempty"`
	Legal     []string       `json:"legal,omitempty"`
}
