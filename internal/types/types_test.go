package types

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestEventType_RoundTrip(t *testing.T) {
	for _, et := range AllEventTypes {
		parsed, ok := ParseEventType(et.String())
		if !ok || parsed != et {
			t.Errorf("ParseEventType(%q) = %v, %v", et.String(), parsed, ok)
		}
	}
	if _, ok := ParseEventType("draw_phase"); ok {
		t.Error("unknown wire names must not parse")
	}
}

func TestEventType_Classification(t *testing.T) {
	tests := []struct {
		et       EventType
		choice   bool
		expected DecisionKind
	}{
		{EventMulligan, true, DecisionMulligan},
		{EventTurnAction, false, DecisionAction},
		{EventChoiceOption, true, DecisionChoice},
		{EventChoiceCard, true, DecisionChoice},
		{EventChoiceUnit, true, DecisionChoice},
		{EventChoiceBlock, true, DecisionChoice},
		{EventChoiceIntercept, true, DecisionChoice},
		{EventContinue, false, DecisionContinue},
		{EventUnknown, false, DecisionNone},
	}
	for _, tt := range tests {
		t.Run(tt.et.String(), func(t *testing.T) {
			assert.Equal(t, tt.choice, tt.et.IsChoice())
			assert.Equal(t, tt.expected, tt.et.ExpectedDecision())
		})
	}
}

func TestEvent_Key(t *testing.T) {
	withID := Event{Type: EventChoiceCard, PromptID: "p-7"}
	assert.Equal(t, "choice_card:p-7", withID.Key())

	at := time.Unix(0, 42)
	noID := Event{Type: EventTurnAction, ReceivedAt: at}
	assert.Equal(t, "turn_action:42", noID.Key())
}

func TestDecisionResponse_Matches(t *testing.T) {
	ev := Event{Type: EventChoiceUnit}
	assert.True(t, DecisionResponse{Decision: ChoiceDecision{Selected: []string{"u1"}}}.Matches(ev))
	assert.False(t, DecisionResponse{Decision: ActionDecision{Action: "pass"}}.Matches(ev))
	assert.False(t, DecisionResponse{}.Matches(ev))
}

func TestGameContext_CloneIsDeep(t *testing.T) {
	orig := &GameContext{
		Turn: 3,
		Self: PlayerState{
			Field: []Unit{{ID: "u1", Keywords: []string{"pierce"}}},
			Hand:  []Card{{ID: "c1", Type: CardTypeIntercept}},
		},
	}
	cp := orig.Clone()
	if diff := cmp.Diff(orig, cp); diff != "" {
		t.Fatalf("clone differs (-orig +clone):\n%s", diff)
	}

	cp.Self.Field[0].Keywords[0] = "haste"
	cp.Self.Hand[0].ID = "c2"
	assert.Equal(t, "pierce", orig.Self.Field[0].Keywords[0])
	assert.Equal(t, "c1", orig.Self.Hand[0].ID)

	var nilCtx *GameContext
	assert.Nil(t, nilCtx.Clone())
}

func TestPlayerState_Intercepts(t *testing.T) {
	p := PlayerState{Hand: []Card{
		{Type: CardTypeIntercept}, {Type: "unit"}, {Type: CardTypeIntercept},
	}}
	assert.Equal(t, 2, p.Intercepts())
}

func TestUnit_HasKeyword(t *testing.T) {
	u := Unit{Keywords: []string{"Persistent"}}
	assert.True(t, u.HasKeyword("persistent"))
	assert.False(t, u.HasKeyword("haste"))
}

func TestGameContext_Summary(t *testing.T) {
	var nilCtx *GameContext
	assert.Equal(t, "no game context", nilCtx.Summary())

	gc := &GameContext{Turn: 2, Round: 1, Phase: "main", Self: PlayerState{Life: 7, CP: 2, MaxCP: 3}}
	assert.Contains(t, gc.Summary(), "turn 2 round 1 phase=main")
}
