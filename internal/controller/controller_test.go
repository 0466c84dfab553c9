package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gamepilot/internal/types"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu  sync.Mutex
	got []Resolution
}

func (r *recorder) Observe(res Resolution) {
	r.mu.Lock()
	r.got = append(r.got, res)
	r.mu.Unlock()
}

func (r *recorder) outcomes() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Outcome, len(r.got))
	for i, res := range r.got {
		out[i] = res.Outcome
	}
	return out
}

func (r *recorder) last() Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.got[len(r.got)-1]
}

func newController(t *testing.T) (*Controller, *recorder) {
	t.Helper()
	c := New(Config{
		PlayerID:      "p1",
		ChoiceTimeout: 80 * time.Millisecond,
		ActionTimeout: 40 * time.Millisecond,
		StartEnabled:  true,
	})
	rec := &recorder{}
	c.SetObserver(rec)
	c.UpdateGameContext(types.GameContext{Turn: 1, Round: 1, Self: types.PlayerState{ID: "p1"}})
	t.Cleanup(c.Close)
	return c, rec
}

func answer(ev types.Event) *types.DecisionResponse {
	var d types.Decision
	switch ev.Type.ExpectedDecision() {
	case types.DecisionMulligan:
		d = types.MulliganDecision{}
	case types.DecisionAction:
		d = types.ActionDecision{Action: "pass"}
	case types.DecisionChoice:
		d = types.ChoiceDecision{}
	default:
		d = types.ContinueDecision{}
	}
	return &types.DecisionResponse{PromptID: ev.PromptID, Decision: d, Source: types.SourceLLM}
}

func instant(ctx context.Context, ev types.Event) (*types.DecisionResponse, error) {
	return answer(ev), nil
}

func blocking(ctx context.Context, ev types.Event) (*types.DecisionResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestHandleMessage_Decided(t *testing.T) {
	c, rec := newController(t)
	c.SetDecisionHandler(instant)

	ok := c.HandleMessage(context.Background(), types.Message{Type: "turn_action", PromptID: "a1", PlayerID: "p1"})
	assert.True(t, ok)
	require.Equal(t, []Outcome{OutcomeDecided}, rec.outcomes())
	res := rec.last()
	assert.Equal(t, "a1", res.Response.PromptID)
	assert.Equal(t, types.EventTurnAction, res.Event.Type)
}

func TestHandleMessage_Disabled(t *testing.T) {
	c, rec := newController(t)
	called := false
	c.SetDecisionHandler(func(ctx context.Context, ev types.Event) (*types.DecisionResponse, error) {
		called = true
		return answer(ev), nil
	})
	c.Disable()
	assert.False(t, c.IsEnabled())
	assert.False(t, c.HandleMessage(context.Background(), types.Message{Type: "continue"}))
	assert.False(t, called)
	assert.Empty(t, rec.outcomes())

	c.Enable()
	assert.True(t, c.HandleMessage(context.Background(), types.Message{Type: "continue"}))
	assert.True(t, called)
}

func TestHandleMessage_Rejections(t *testing.T) {
	c, rec := newController(t)
	c.SetDecisionHandler(instant)
	ctx := context.Background()

	assert.False(t, c.HandleMessage(ctx, types.Message{Type: "chat"}), "unsupported type")
	assert.False(t, c.HandleMessage(ctx, types.Message{Type: "choice_card", PlayerID: "p2"}), "other participant")

	fresh := New(DefaultConfig())
	t.Cleanup(fresh.Close)
	fresh.SetDecisionHandler(instant)
	assert.False(t, fresh.HandleMessage(ctx, types.Message{Type: "turn_action"}), "no game context")

	assert.Empty(t, rec.outcomes())
}

func TestHandleMessage_HandlerMissing(t *testing.T) {
	c, rec := newController(t)
	assert.False(t, c.HandleMessage(context.Background(), types.Message{Type: "mulligan"}))
	require.Equal(t, []Outcome{OutcomeHandlerMissing}, rec.outcomes())
	assert.ErrorIs(t, rec.last().Err, ErrHandlerMissing)
}

func TestHandleMessage_TimeoutReturnsTrue(t *testing.T) {
	c, rec := newController(t)
	c.SetDecisionHandler(blocking)

	tests := []struct {
		typ     string
		ceiling time.Duration
	}{
		{"turn_action", 40 * time.Millisecond},
		{"continue", 40 * time.Millisecond},
		{"mulligan", 80 * time.Millisecond},
		{"choice_block", 80 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			start := time.Now()
			ok := c.HandleMessage(ctx, types.Message{Type: tt.typ, PromptID: tt.typ})
			elapsed := time.Since(start)

			assert.True(t, ok)
			assert.GreaterOrEqual(t, elapsed, tt.ceiling)
			assert.Less(t, elapsed, tt.ceiling+500*time.Millisecond)
			assert.Equal(t, OutcomeTimeout, rec.last().Outcome)
			assert.ErrorIs(t, rec.last().Err, ErrDecisionTimeout)
		})
	}
}

func TestTimeoutFor_Defaults(t *testing.T) {
	c := New(DefaultConfig())
	t.Cleanup(c.Close)
	for _, et := range types.AllEventTypes {
		want := DefaultActionTimeout
		if et.IsChoice() {
			want = DefaultChoiceTimeout
		}
		assert.Equal(t, want, c.TimeoutFor(et), et.String())
	}
	assert.Equal(t, 8*time.Second, c.TimeoutFor(types.EventMulligan))
	assert.Equal(t, 5*time.Second, c.TimeoutFor(types.EventTurnAction))

	c.SetTimeouts(time.Second, 0)
	assert.Equal(t, time.Second, c.TimeoutFor(types.EventChoiceCard))
	assert.Equal(t, 5*time.Second, c.TimeoutFor(types.EventContinue))
}

func TestHandleMessage_HandlerFailures(t *testing.T) {
	c, rec := newController(t)
	ctx := context.Background()

	c.SetDecisionHandler(func(context.Context, types.Event) (*types.DecisionResponse, error) {
		return nil, errors.New("model down")
	})
	assert.True(t, c.HandleMessage(ctx, types.Message{Type: "turn_action"}))
	assert.EqualError(t, rec.last().Err, "model down")

	c.SetDecisionHandler(func(context.Context, types.Event) (*types.DecisionResponse, error) {
		panic("boom")
	})
	assert.True(t, c.HandleMessage(ctx, types.Message{Type: "turn_action"}))
	assert.Contains(t, rec.last().Err.Error(), "panicked")

	c.SetDecisionHandler(func(context.Context, types.Event) (*types.DecisionResponse, error) {
		return &types.DecisionResponse{Decision: types.ContinueDecision{}}, nil
	})
	assert.True(t, c.HandleMessage(ctx, types.Message{Type: "choice_unit"}))
	assert.ErrorIs(t, rec.last().Err, ErrShapeMismatch)

	assert.Equal(t, []Outcome{OutcomeError, OutcomeError, OutcomeError}, rec.outcomes())
}

func TestFreeze_BuffersAndDrainsFIFO(t *testing.T) {
	c, _ := newController(t)

	var mu sync.Mutex
	var seen []string
	c.SetDecisionHandler(func(ctx context.Context, ev types.Event) (*types.DecisionResponse, error) {
		mu.Lock()
		seen = append(seen, ev.PromptID)
		mu.Unlock()
		return answer(ev), nil
	})
	ctx := context.Background()

	assert.False(t, c.HandleMessage(ctx, types.Message{Type: types.MessageTypeOperation, Operation: types.OperationFreeze}))
	assert.True(t, c.IsFrozen())

	for _, id := range []string{"e1", "e2", "e3"} {
		assert.False(t, c.HandleMessage(ctx, types.Message{Type: "choice_option", PromptID: id}))
	}
	assert.Equal(t, 3, c.PendingCount())
	mu.Lock()
	assert.Empty(t, seen)
	mu.Unlock()

	assert.False(t, c.HandleMessage(ctx, types.Message{Type: types.MessageTypeOperation, Operation: types.OperationDefrost}))
	assert.False(t, c.IsFrozen())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]string{"e1", "e2", "e3"}, seen); diff != "" {
		t.Errorf("drain order (-want +got):\n%s", diff)
	}
	assert.Equal(t, 0, c.PendingCount())
}

func TestReset_ReleasesWaitsAndClearsState(t *testing.T) {
	c, rec := newController(t)
	c.SetTimeouts(5*time.Second, 5*time.Second)

	started := make(chan struct{})
	c.SetDecisionHandler(func(ctx context.Context, ev types.Event) (*types.DecisionResponse, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan bool, 1)
	go func() {
		done <- c.HandleMessage(ctx, types.Message{Type: "turn_action", PromptID: "slow"})
	}()
	<-started

	c.HandleMessage(ctx, types.Message{Type: types.MessageTypeOperation, Operation: types.OperationFreeze})
	c.HandleMessage(ctx, types.Message{Type: "continue"})
	require.Equal(t, 1, c.PendingCount())

	c.Reset()

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Reset did not release the pending wait")
	}
	assert.ErrorIs(t, rec.last().Err, ErrReset)

	assert.False(t, c.IsFrozen())
	assert.Equal(t, 0, c.PendingCount())
	assert.Nil(t, c.GameContext())
	assert.True(t, c.IsEnabled())
	assert.False(t, c.HandleMessage(ctx, types.Message{Type: "continue"}), "context cleared")
}

func TestGameContext_IsACopy(t *testing.T) {
	c, _ := newController(t)
	gc := types.GameContext{Turn: 3, Self: types.PlayerState{Hand: []types.Card{{ID: "c1"}}}}
	c.UpdateGameContext(gc)
	gc.Self.Hand[0].ID = "mutated"

	got := c.GameContext()
	require.NotNil(t, got)
	assert.Equal(t, "c1", got.Self.Hand[0].ID)
}

func TestClassify_Payloads(t *testing.T) {
	c, _ := newController(t)
	c.UpdateGameContext(types.GameContext{Self: types.PlayerState{Hand: []types.Card{{ID: "h1"}}}})

	var got []types.Event
	var mu sync.Mutex
	c.SetDecisionHandler(func(ctx context.Context, ev types.Event) (*types.DecisionResponse, error) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		return answer(ev), nil
	})
	ctx := context.Background()
	c.HandleMessage(ctx, types.Message{Type: "mulligan"})
	c.HandleMessage(ctx, types.Message{Type: "choice_card", Options: []types.ChoiceOption{{ID: "o1"}}, Min: 1, Max: 1})
	c.HandleMessage(ctx, types.Message{Type: "turn_action", Legal: []string{"attack"}})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 3)
	assert.Equal(t, types.MulliganPayload{Hand: []types.Card{{ID: "h1"}}}, got[0].Payload)
	assert.Equal(t, types.ChoicePayload{Options: []types.ChoiceOption{{ID: "o1"}}, Min: 1, Max: 1}, got[1].Payload)
	assert.Equal(t, types.TurnActionPayload{Legal: []string{"attack"}}, got[2].Payload)
	assert.NotNil(t, got[0].Context)
}
