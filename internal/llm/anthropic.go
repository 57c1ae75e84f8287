package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ihavespoons/codewatch/internal/config"
)

const (
	defaultAnthropicURL   = "https://api.anthropic.com/v1/messages"
	defaultAnthropicModel = "claude-sonnet-4-20250514"
	anthropicAPIVersion   = "2023-06-01"
)

// AnthropicProvider implements Provider using Anthropic's Messages API.
type AnthropicProvider struct {
	apiKey     string
	model      string
	matchModel string
	maxTokens  int
	baseURL    string
	client     *http.Client
}

// NewAnthropic creates an Anthropic-backed provider.
func NewAnthropic(cfg config.LLMSettings) (*AnthropicProvider, error) {
	apiKey := resolveKey(cfg.APIKey, "ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, ErrNotConfigured
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	p := &AnthropicProvider{
		apiKey:     apiKey,
		model:      cfg.Model,
		matchModel: cfg.MatchModel,
		maxTokens:  cfg.MaxTokens,
		baseURL:    cfg.BaseURL,
		client:     &http.Client{Timeout: timeout},
	}
	if p.model == "" {
		p.model = defaultAnthropicModel
	}
	if p.matchModel == "" {
		p.matchModel = p.model
	}
	if p.maxTokens == 0 {
		p.maxTokens = 1024
	}
	if p.baseURL == "" {
		p.baseURL = defaultAnthropicURL
	}
	return p, nil
}

// Name returns the provider name and model
func (p *AnthropicProvider) Name() string {
	return fmt.Sprintf("Anthropic (%s)", p.model)
}

// Complete runs a free-text completion.
func (p *AnthropicProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	return p.complete(ctx, p.model, system, prompt)
}

// Judge runs a matching judgment. The Messages API has no strict
// structured output, so the JSON object is recovered from the text.
func (p *AnthropicProvider) Judge(ctx context.Context, system, prompt string) (*JudgmentList, error) {
	text, err := p.complete(ctx, p.matchModel, system, prompt)
	if err != nil {
		return nil, err
	}
	return DecodeJudgments(text), nil
}

func (p *AnthropicProvider) complete(ctx context.Context, model, system, prompt string) (string, error) {
	apiReq := anthropicRequest{
		Model:     model,
		MaxTokens: p.maxTokens,
		System:    system,
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt},
		},
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("API request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp anthropicError
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	for _, content := range apiResp.Content {
		if content.Type == "text" {
			return content.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in response")
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
