package llm

import (
	"context"
	"sync"
	"time"
)

// Responder produces a scripted reply.
type Responder func(systemPrompt, userMessage string, opts Options) (string, error)

// ScriptedClient answers without network access. It backs the scripted
// provider used by `pilot simulate` and dry runs.
type ScriptedClient struct {
	mu        sync.Mutex
	responder Responder
	delay     time.Duration
	calls     int
}

// NewScriptedClient returns a client that answers with responder.
// A nil responder echoes a pass action.
func NewScriptedClient(responder Responder) *ScriptedClient {
	if responder == nil {
		responder = func(string, string, Options) (string, error) {
			return `{"action":"pass"}`, nil
		}
	}
	return &ScriptedClient{responder: responder}
}

// SetDelay simulates model latency.
func (s *ScriptedClient) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// Calls returns how many times Send was invoked.
func (s *ScriptedClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Send returns the scripted reply after the configured delay.
func (s *ScriptedClient) Send(ctx context.Context, systemPrompt, userMessage string, opts Options) (*Response, error) {
	s.mu.Lock()
	s.calls++
	delay := s.delay
	responder := s.responder
	s.mu.Unlock()

	start := time.Now()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	content, err := responder(systemPrompt, userMessage, opts)
	if err != nil {
		return nil, err
	}
	if content == "" {
		return nil, ErrEmptyResponse
	}

	return &Response{
		Content:      content,
		InputTokens:  (len(systemPrompt) + len(userMessage) + 3) / 4,
		OutputTokens: (len(content) + 3) / 4,
		Latency:      time.Since(start),
	}, nil
}
