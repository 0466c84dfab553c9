package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gamepilot/internal/logging"

	"google.golang.org/genai"
)

// =============================================================================
// GOOGLE GENAI CLIENT
// =============================================================================

// GenAIClient implements Client using Google's Gemini API.
type GenAIClient struct {
	client *genai.Client
}

// NewGenAIClient creates a new Gemini client.
func NewGenAIClient(ctx context.Context, apiKey string) (*GenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI: %w", ErrNoAPIKey)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIClient{client: client}, nil
}

// Send generates one completion.
func (g *GenAIClient) Send(ctx context.Context, systemPrompt, userMessage string, opts Options) (*Response, error) {
	startTime := time.Now()
	logging.APIDebug("[GenAI] Send: model=%s user_len=%d", opts.Model, len(userMessage))

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(opts.Temperature)),
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if strings.TrimSpace(systemPrompt) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	result, err := g.client.Models.GenerateContent(ctx, opts.Model, genai.Text(userMessage), cfg)
	if err != nil {
		logging.APIError("[GenAI] Send: %v", err)
		return nil, fmt.Errorf("GenAI generate failed: %w", err)
	}

	content := strings.TrimSpace(result.Text())
	if content == "" {
		return nil, ErrEmptyResponse
	}

	resp := &Response{
		Content: content,
		Latency: time.Since(startTime),
	}
	if result.UsageMetadata != nil {
		resp.InputTokens = int(result.UsageMetadata.PromptTokenCount)
		resp.OutputTokens = int(result.UsageMetadata.CandidatesTokenCount)
	}

	logging.API("[GenAI] Send: completed in %v in=%d out=%d", resp.Latency, resp.InputTokens, resp.OutputTokens)
	return resp, nil
}
