package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/ihavespoons/codewatch/internal/config"
)

const (
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultOpenAIMatchModel = "gpt-4o"
)

var judgmentSchema = generateSchema[JudgmentList]()

// OpenAIProvider implements Provider using the OpenAI Responses API
// with strict structured output for judgments.
type OpenAIProvider struct {
	client     *openai.Client
	model      string
	matchModel string
	maxTokens  int64
	timeout    time.Duration
}

// NewOpenAI creates an OpenAI-backed provider.
func NewOpenAI(cfg config.LLMSettings) (*OpenAIProvider, error) {
	apiKey := resolveKey(cfg.APIKey, "OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrNotConfigured
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	p := &OpenAIProvider{
		client:     &client,
		model:      cfg.Model,
		matchModel: cfg.MatchModel,
		maxTokens:  int64(cfg.MaxTokens),
		timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
	if p.model == "" {
		p.model = defaultOpenAIModel
	}
	if p.matchModel == "" {
		p.matchModel = defaultOpenAIMatchModel
	}
	if p.maxTokens == 0 {
		p.maxTokens = 1024
	}
	if p.timeout == 0 {
		p.timeout = 60 * time.Second
	}
	return p, nil
}

// Name returns the provider name and model
func (p *OpenAIProvider) Name() string {
	return fmt.Sprintf("OpenAI (%s)", p.model)
}

// Complete runs a free-text completion.
func (p *OpenAIProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := responses.ResponseNewParams{
		Model:           p.model,
		MaxOutputTokens: openai.Int(p.maxTokens),
		Instructions:    openai.String(system),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(prompt, responses.EasyInputMessageRoleUser),
			},
		},
	}

	resp, err := p.client.Responses.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	return resp.OutputText(), nil
}

// Judge runs a matching judgment with a strict JSON schema, so the
// output is parseable without prompt gymnastics.
func (p *OpenAIProvider) Judge(ctx context.Context, system, prompt string) (*JudgmentList, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	format := responses.ResponseFormatTextConfigUnionParam{
		OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
			Name:        "ConversationMatches",
			Schema:      judgmentSchema,
			Strict:      openai.Bool(true),
			Description: openai.String("Conversation-to-change match verdicts"),
			Type:        "json_schema",
		},
	}

	params := responses.ResponseNewParams{
		Model:           p.matchModel,
		MaxOutputTokens: openai.Int(p.maxTokens),
		Instructions:    openai.String(system),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(prompt, responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: format,
		},
	}

	resp, err := p.client.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	return DecodeJudgments(resp.OutputText()), nil
}
