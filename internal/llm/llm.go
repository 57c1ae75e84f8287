// Package llm provides the language-model backends used for activity
// summaries and conversation-to-change matching.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ihavespoons/codewatch/internal/config"
)

// ErrNotConfigured indicates no usable provider credential was found.
// Callers surface this explicitly; it is never silently skipped.
var ErrNotConfigured = errors.New("llm provider not configured (missing API key)")

// Judgment is the model's verdict on one candidate event.
type Judgment struct {
	EventID    int64   `json:"event_id" jsonschema:"required" jsonschema_description:"Identifier of the candidate code-change event"`
	Confidence float64 `json:"confidence" jsonschema:"required" jsonschema_description:"Confidence in [0,1] that the conversation produced this change"`
	Reasoning  string  `json:"reasoning" jsonschema:"required" jsonschema_description:"Short explanation of the verdict"`
	MatchType  string  `json:"match_type" jsonschema:"required" jsonschema_description:"One of: direct, partial, inspired"`
}

// JudgmentList is the structured output requested from the judge.
type JudgmentList struct {
	Matches []Judgment `json:"matches" jsonschema:"required" jsonschema_description:"Candidate events the conversation plausibly produced"`
}

// Provider is a single LLM backend.
type Provider interface {
	// Name identifies the backend and model for logging.
	Name() string

	// Complete runs a free-text completion.
	Complete(ctx context.Context, system, prompt string) (string, error)

	// Judge runs a matching judgment and returns the structured
	// verdict list. Malformed model output degrades to an empty list.
	Judge(ctx context.Context, system, prompt string) (*JudgmentList, error)
}

// New builds the configured provider. Returns ErrNotConfigured when no
// API key is available from config or environment.
func New(cfg config.LLMSettings) (Provider, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAI(cfg)
	case "anthropic":
		return NewAnthropic(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}

// resolveKey returns the configured key or the named environment
// variable's value.
func resolveKey(configured, envVar string) string {
	if configured != "" {
		return configured
	}
	return os.Getenv(envVar)
}

// DecodeJudgments parses a judgment list from model output, tolerating
// surrounding prose. Anything unparseable yields an empty list rather
// than an error.
func DecodeJudgments(text string) *JudgmentList {
	var list JudgmentList
	if err := json.Unmarshal([]byte(text), &list); err == nil {
		return &list
	}

	// models sometimes wrap the JSON in commentary or code fences
	if jsonText := extractJSONObject(text); jsonText != "" {
		if err := json.Unmarshal([]byte(jsonText), &list); err == nil {
			return &list
		}
	}

	return &JudgmentList{}
}

// extractJSONObject returns the first balanced top-level JSON object
// in text, or "".
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
