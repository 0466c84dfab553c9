package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"gamepilot/internal/logging"
)

// AnthropicConfig holds configuration for the Anthropic Messages API.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// AnthropicClient implements Client for the Anthropic Messages API.
type AnthropicClient struct {
	apiKey      string
	baseURL     string
	maxRetries  int
	backoff     time.Duration
	httpClient  *http.Client
	mu          sync.Mutex
	lastRequest time.Time
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &AnthropicClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		maxRetries: cfg.MaxRetries,
		backoff:    500 * time.Millisecond,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Send posts one exchange to /messages.
func (c *AnthropicClient) Send(ctx context.Context, systemPrompt, userMessage string, opts Options) (*Response, error) {
	if c.apiKey == "" {
		logging.APIError("[Anthropic] Send: API key not configured")
		return nil, ErrNoAPIKey
	}

	startTime := time.Now()
	logging.APIDebug("[Anthropic] Send: model=%s system_len=%d user_len=%d", opts.Model, len(systemPrompt), len(userMessage))

	// Rate limiting
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 50*time.Millisecond {
		time.Sleep(50*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	jsonData, err := json.Marshal(anthropicRequest{
		Model:       opts.Model,
		MaxTokens:   maxTokens,
		System:      systemPrompt,
		Messages:    []anthropicMessage{{Role: "user", Content: userMessage}},
		Temperature: opts.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for i := 0; i <= c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff * time.Duration(1<<uint(i-1))):
			}
		}

		resp, retry, err := c.do(ctx, jsonData)
		if err == nil {
			resp.Latency = time.Since(startTime)
			logging.API("[Anthropic] Send: completed in %v in=%d out=%d", resp.Latency, resp.InputTokens, resp.OutputTokens)
			return resp, nil
		}
		if !retry {
			logging.APIError("[Anthropic] Send: %v", err)
			return nil, err
		}
		lastErr = err
	}

	logging.APIError("[Anthropic] Send: max retries exceeded after %v: %v", time.Since(startTime), lastErr)
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// do performs one HTTP round trip. The bool reports whether the error is retryable.
func (c *AnthropicClient) do(ctx context.Context, body []byte) (*Response, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("API returned status %d", httpResp.StatusCode)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("API request failed with status %d: %s", httpResp.StatusCode, string(raw))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, false, fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != nil {
		return nil, false, fmt.Errorf("API error: %s", parsed.Error.Message)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	content := strings.TrimSpace(text.String())
	if content == "" {
		return nil, false, ErrEmptyResponse
	}

	return &Response{
		Content:      content,
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
	}, false, nil
}
