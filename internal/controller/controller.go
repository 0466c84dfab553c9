// Package controller is the top-level event state machine. It classifies
// inbound game messages, buffers them while frozen, drops events meant for
// the other participant, and races the decision handler against a per-event
// timeout.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gamepilot/internal/config"
	"gamepilot/internal/logging"
	"gamepilot/internal/types"
)

// =============================================================================
// CONTRACT
// =============================================================================

// Handler produces a decision for one event. It may block; the controller
// stops waiting at the event's timeout but does not abort the handler.
type Handler func(ctx context.Context, ev types.Event) (*types.DecisionResponse, error)

// Outcome is how an event dispatch was resolved.
type Outcome string

const (
	OutcomeDecided        Outcome = "decided"
	OutcomeTimeout        Outcome = "timeout"
	OutcomeError          Outcome = "error"
	OutcomeHandlerMissing Outcome = "handler_missing"
)

var (
	// ErrHandlerMissing means no decision handler was registered.
	ErrHandlerMissing = errors.New("no decision handler registered")
	// ErrDecisionTimeout means the handler did not answer within the event's ceiling.
	ErrDecisionTimeout = errors.New("decision timed out")
	// ErrReset means the wait was released by Reset.
	ErrReset = errors.New("controller reset")
	// ErrShapeMismatch means the handler answered with the wrong decision kind.
	ErrShapeMismatch = errors.New("decision does not match event")
)

// Resolution describes one finished dispatch.
type Resolution struct {
	Event    types.Event
	Outcome  Outcome
	Response *types.DecisionResponse // set when Outcome is decided
	Err      error
	Latency  time.Duration
}

// Observer is told about every dispatch resolution.
type Observer interface {
	Observe(r Resolution)
}

// Default per-event ceilings.
const (
	DefaultChoiceTimeout = 8 * time.Second
	DefaultActionTimeout = 5 * time.Second
)

// Config configures a Controller.
type Config struct {
	PlayerID      string
	ChoiceTimeout time.Duration // mulligan and choice_*
	ActionTimeout time.Duration // turn_action and continue
	StartEnabled  bool
}

// DefaultConfig returns the standard ceilings with the controller enabled.
func DefaultConfig() Config {
	return Config{
		ChoiceTimeout: DefaultChoiceTimeout,
		ActionTimeout: DefaultActionTimeout,
		StartEnabled:  true,
	}
}

// ConfigFrom builds a controller Config from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		PlayerID:      cfg.Controller.PlayerID,
		ChoiceTimeout: cfg.GetChoiceTimeout(),
		ActionTimeout: cfg.GetActionTimeout(),
		StartEnabled:  cfg.Controller.StartEnabled,
	}
}

// =============================================================================
// CONTROLLER
// =============================================================================

type waiter struct {
	release chan struct{}
	once    sync.Once
}

func (w *waiter) close() {
	w.once.Do(func() { close(w.release) })
}

// Controller is the single writer of enabled, frozen, the pending buffer and
// the current game context.
type Controller struct {
	mu       sync.Mutex
	enabled  bool
	frozen   bool
	pending  []types.Event
	current  *types.GameContext
	handler  Handler
	observer Observer
	playerID string

	choiceTimeout time.Duration
	actionTimeout time.Duration

	waiters  map[string]*waiter
	draining bool

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a controller. Non-positive timeouts use the defaults.
func New(cfg Config) *Controller {
	if cfg.ChoiceTimeout <= 0 {
		cfg.ChoiceTimeout = DefaultChoiceTimeout
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = DefaultActionTimeout
	}
	base, cancel := context.WithCancel(context.Background())
	return &Controller{
		enabled:       cfg.StartEnabled,
		playerID:      cfg.PlayerID,
		choiceTimeout: cfg.ChoiceTimeout,
		actionTimeout: cfg.ActionTimeout,
		waiters:       make(map[string]*waiter),
		base:          base,
		cancel:        cancel,
	}
}

// Enable turns event handling on.
func (c *Controller) Enable() {
	c.mu.Lock()
	c.enabled = true
	c.mu.Unlock()
	logging.Controller("enabled")
}

// Disable turns event handling off. Buffered events stay buffered.
func (c *Controller) Disable() {
	c.mu.Lock()
	c.enabled = false
	c.mu.Unlock()
	logging.Controller("disabled")
}

// IsEnabled reports whether events are handled.
func (c *Controller) IsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// IsFrozen reports whether events are being buffered.
func (c *Controller) IsFrozen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frozen
}

// PendingCount returns the number of buffered events.
func (c *Controller) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// UpdateGameContext stores a private copy of the latest snapshot.
func (c *Controller) UpdateGameContext(gc types.GameContext) {
	snap := gc.Clone()
	c.mu.Lock()
	c.current = snap
	c.mu.Unlock()
	logging.ControllerDebug("game context updated (turn %d, round %d)", gc.Turn, gc.Round)
}

// GameContext returns the current snapshot, or nil before the first update.
func (c *Controller) GameContext() *types.GameContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Clone()
}

// SetDecisionHandler registers the decision handler.
func (c *Controller) SetDecisionHandler(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// SetObserver registers the resolution observer. nil disables it.
func (c *Controller) SetObserver(o Observer) {
	c.mu.Lock()
	c.observer = o
	c.mu.Unlock()
}

// SetTimeouts replaces the per-event ceilings. Non-positive values keep the
// current setting.
func (c *Controller) SetTimeouts(choice, action time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if choice > 0 {
		c.choiceTimeout = choice
	}
	if action > 0 {
		c.actionTimeout = action
	}
}

// SetPlayerID changes which participant this controller decides for.
func (c *Controller) SetPlayerID(id string) {
	c.mu.Lock()
	c.playerID = id
	c.mu.Unlock()
}

// TimeoutFor returns the ceiling for an event type.
func (c *Controller) TimeoutFor(t types.EventType) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeoutLocked(t)
}

func (c *Controller) timeoutLocked(t types.EventType) time.Duration {
	if t.IsChoice() {
		return c.choiceTimeout
	}
	return c.actionTimeout
}

// Reset clears frozen state, the pending buffer and the current context, and
// releases every outstanding timeout wait. Enabled is left as is.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.frozen = false
	dropped := len(c.pending)
	c.pending = nil
	c.current = nil
	waiters := c.waiters
	c.waiters = make(map[string]*waiter)
	c.mu.Unlock()

	for _, w := range waiters {
		w.close()
	}
	logging.Controller("reset: dropped %d buffered events, released %d waits", dropped, len(waiters))
}

// Close cancels background draining and waits for it to stop.
func (c *Controller) Close() {
	c.cancel()
	c.wg.Wait()
}

// =============================================================================
// MESSAGE HANDLING
// =============================================================================

// HandleMessage processes one inbound message. It returns true only when the
// event was dispatched to the decision handler and the dispatch resolved,
// either with an answer or at its timeout. Control messages, buffered events,
// unclassifiable messages and events for the other participant return false.
func (c *Controller) HandleMessage(ctx context.Context, msg types.Message) bool {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return false
	}

	if msg.Type == types.MessageTypeOperation {
		c.applyOperationLocked(msg.Operation)
		c.mu.Unlock()
		return false
	}

	ev, ok := c.classifyLocked(msg)
	if !ok {
		c.mu.Unlock()
		return false
	}

	if c.frozen {
		c.pending = append(c.pending, ev)
		n := len(c.pending)
		c.mu.Unlock()
		logging.ControllerDebug("frozen: buffered %s (%d pending)", ev.Key(), n)
		return false
	}
	c.mu.Unlock()

	return c.process(ctx, ev)
}

func (c *Controller) applyOperationLocked(op string) {
	switch op {
	case types.OperationFreeze:
		c.frozen = true
		logging.Controller("frozen")
	case types.OperationDefrost:
		c.frozen = false
		logging.Controller("defrosted with %d pending events", len(c.pending))
		if len(c.pending) > 0 && !c.draining {
			c.draining = true
			c.wg.Add(1)
			go c.drain()
		}
	default:
		logging.ControllerDebug("ignoring operation %q", op)
	}
}

// drain dispatches buffered events one at a time in arrival order. It stops
// early if the controller is frozen or disabled again.
func (c *Controller) drain() {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		if c.frozen || !c.enabled || len(c.pending) == 0 || c.base.Err() != nil {
			c.draining = false
			c.mu.Unlock()
			return
		}
		ev := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()

		c.process(c.base, ev)
	}
}

func (c *Controller) classifyLocked(msg types.Message) (types.Event, bool) {
	t, ok := types.ParseEventType(msg.Type)
	if !ok {
		logging.ControllerDebug("unsupported message type %q", msg.Type)
		return types.Event{}, false
	}
	if c.current == nil {
		logging.ControllerDebug("no game context yet, dropping %s", msg.Type)
		return types.Event{}, false
	}

	var payload types.Payload
	switch {
	case t == types.EventMulligan:
		payload = types.MulliganPayload{Hand: c.current.Clone().Self.Hand}
	case t == types.EventTurnAction:
		payload = types.TurnActionPayload{Legal: append([]string(nil), msg.Legal...)}
	case t == types.EventContinue:
		payload = types.ContinuePayload{}
	case t.IsChoice():
		payload = types.ChoicePayload{
			Options: append([]types.ChoiceOption(nil), msg.Options...),
			Min:     msg.Min,
			Max:     msg.Max,
		}
	}

	return types.Event{
		Type:       t,
		PromptID:   msg.PromptID,
		PlayerID:   msg.PlayerID,
		Context:    c.current,
		Payload:    payload,
		ReceivedAt: time.Now(),
	}, true
}

// process applies the participant check and dispatches.
func (c *Controller) process(ctx context.Context, ev types.Event) bool {
	c.mu.Lock()
	self := c.playerID
	c.mu.Unlock()

	if ev.PlayerID != "" && self != "" && ev.PlayerID != self {
		logging.ControllerDebug("%s targets %s, not us", ev.Key(), ev.PlayerID)
		return false
	}
	return c.dispatch(ctx, ev)
}

type handlerResult struct {
	resp *types.DecisionResponse
	err  error
}

// dispatch races the handler against the event's ceiling.
func (c *Controller) dispatch(ctx context.Context, ev types.Event) bool {
	c.mu.Lock()
	handler := c.handler
	timeout := c.timeoutLocked(ev.Type)
	key := ev.Key()
	w := &waiter{release: make(chan struct{})}
	if handler != nil {
		c.waiters[key] = w
	}
	c.mu.Unlock()

	if handler == nil {
		logging.ControllerWarn("%s: %v", key, ErrHandlerMissing)
		c.observe(Resolution{Event: ev, Outcome: OutcomeHandlerMissing, Err: ErrHandlerMissing})
		return false
	}

	defer func() {
		c.mu.Lock()
		if c.waiters[key] == w {
			delete(c.waiters, key)
		}
		c.mu.Unlock()
	}()

	start := time.Now()
	done := make(chan handlerResult, 1)
	go func() {
		var res handlerResult
		defer func() {
			if r := recover(); r != nil {
				res.err = fmt.Errorf("decision handler panicked: %v", r)
			}
			done <- res
		}()
		res.resp, res.err = handler(ctx, ev)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	res := Resolution{Event: ev}
	select {
	case out := <-done:
		res.Latency = time.Since(start)
		switch {
		case out.err != nil:
			res.Outcome, res.Err = OutcomeError, out.err
			logging.ControllerError("%s: handler failed: %v", key, out.err)
		case out.resp == nil || !out.resp.Matches(ev):
			res.Outcome, res.Err = OutcomeError, ErrShapeMismatch
			logging.ControllerError("%s: %v", key, ErrShapeMismatch)
		default:
			res.Outcome, res.Response = OutcomeDecided, out.resp
			logging.Controller("%s: decided via %s in %v", key, out.resp.Source, res.Latency)
		}
	case <-timer.C:
		res.Latency = time.Since(start)
		res.Outcome, res.Err = OutcomeTimeout, ErrDecisionTimeout
		logging.ControllerWarn("%s: no decision within %v", key, timeout)
	case <-w.release:
		res.Latency = time.Since(start)
		res.Outcome, res.Err = OutcomeTimeout, ErrReset
		logging.ControllerDebug("%s: released by reset", key)
	case <-ctx.Done():
		res.Latency = time.Since(start)
		res.Outcome, res.Err = OutcomeError, ctx.Err()
		logging.ControllerWarn("%s: %v", key, ctx.Err())
	}

	c.observe(res)
	return true
}

func (c *Controller) observe(r Resolution) {
	c.mu.Lock()
	o := c.observer
	c.mu.Unlock()
	if o != nil {
		o.Observe(r)
	}
}
