package server

import (
	"github.com/ihavespoons/codewatch/internal/event"
)

// EventResponse is the wire form of an event
type EventResponse struct {
	ID        int64          `json:"id"`
	Timestamp string         `json:"ts"`
	Kind      string         `json:"kind"`
	Path      string         `json:"path,omitempty"`
	Payload   map[string]any `json:"payload"`
	ProjectID *int64         `json:"project_id,omitempty"`
}

// EventListResponse pages events with the total matching the filters
type EventListResponse struct {
	Items []EventResponse `json:"items"`
	Total int             `json:"total"`
}

// HealthResponse reports daemon health
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Events      int    `json:"events"`
	Subscribers int    `json:"subscribers"`
}

// ProjectRequest creates or updates a project
type ProjectRequest struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
}

// ProjectResponse is the wire form of a project
type ProjectResponse struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name"`
	Path           string   `json:"path"`
	Description    string   `json:"description,omitempty"`
	CreatedAt      string   `json:"created_at"`
	IgnorePatterns []string `json:"ignore_patterns"`
}

// ProjectConfigRequest replaces a project's ignore patterns
type ProjectConfigRequest struct {
	IgnorePatterns []string `json:"ignore_patterns"`
}

// PromptRequest records a prompt sent to an AI assistant
type PromptRequest struct {
	Text      string `json:"text"`
	Source    string `json:"source,omitempty"`
	Model     string `json:"model,omitempty"`
	ProjectID *int64 `json:"project_id,omitempty"`
}

// CopilotRequest records a copilot-style chat exchange
type CopilotRequest struct {
	Prompt         string `json:"prompt"`
	Response       string `json:"response"`
	Source         string `json:"source,omitempty"`
	Model          string `json:"model,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	ProjectID      *int64 `json:"project_id,omitempty"`
}

// ErrorRequest records a development error
type ErrorRequest struct {
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	ProjectID *int64         `json:"project_id,omitempty"`
}

// AppendResponse acknowledges a recorded event
type AppendResponse struct {
	ID int64  `json:"id"`
	OK bool   `json:"ok"`
	TS string `json:"ts"`
}

// SummaryRunRequest triggers summarization
type SummaryRunRequest struct {
	ProjectID *int64 `json:"project_id,omitempty"`
}

// SummaryResponse carries generated summary text
type SummaryResponse struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
	TS      string `json:"ts,omitempty"`
}

// AnalyzeChangeRequest asks for an LLM review of one change
type AnalyzeChangeRequest struct {
	EventID int64 `json:"event_id"`
}

// AnalysisResponse carries generated analysis text
type AnalysisResponse struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

// ImplicationsRequest asks for an architectural implications review of
// recent changes
type ImplicationsRequest struct {
	Hours     int    `json:"hours,omitempty"`
	ProjectID *int64 `json:"project_id,omitempty"`
}

// ImplicationsResponse carries the review plus its input size
type ImplicationsResponse struct {
	Content    string `json:"content"`
	Model      string `json:"model,omitempty"`
	Hours      int    `json:"hours"`
	EventCount int    `json:"event_count"`
}

// ConversationRequest records an AI conversation for matching
type ConversationRequest struct {
	ProjectID    *int64              `json:"project_id,omitempty"`
	SessionID    string              `json:"session_id,omitempty"`
	Provider     string              `json:"ai_provider,omitempty"`
	Model        string              `json:"ai_model,omitempty"`
	Timestamp    string              `json:"timestamp,omitempty"`
	Type         string              `json:"conversation_type,omitempty"`
	UserPrompt   string              `json:"user_prompt"`
	AIResponse   string              `json:"ai_response,omitempty"`
	ContextFiles []string            `json:"context_files,omitempty"`
	CodeSnippets []event.CodeSnippet `json:"code_snippets,omitempty"`
	Metadata     map[string]any      `json:"metadata,omitempty"`
}

// ConversationCreatedResponse acknowledges a recorded conversation
type ConversationCreatedResponse struct {
	ID        int64  `json:"id"`
	SessionID string `json:"session_id"`
}

// ConversationResponse is the wire form of a conversation
type ConversationResponse struct {
	ID              int64               `json:"id"`
	ProjectID       *int64              `json:"project_id,omitempty"`
	SessionID       string              `json:"session_id"`
	Provider        string              `json:"ai_provider,omitempty"`
	Model           string              `json:"ai_model,omitempty"`
	Timestamp       string              `json:"timestamp"`
	Type            string              `json:"conversation_type,omitempty"`
	UserPrompt      string              `json:"user_prompt"`
	AIResponse      string              `json:"ai_response,omitempty"`
	ContextFiles    []string            `json:"context_files,omitempty"`
	CodeSnippets    []event.CodeSnippet `json:"code_snippets,omitempty"`
	Metadata        map[string]any      `json:"metadata,omitempty"`
	MatchedEventIDs []int64             `json:"matched_to_events"`
	ConfidenceScore float64             `json:"confidence_score"`
}

// ConversationListResponse pages conversations
type ConversationListResponse struct {
	Items []ConversationResponse `json:"items"`
	Total int                    `json:"total"`
}

// MatchRunResponse reports a matching run
type MatchRunResponse struct {
	ConversationID int64 `json:"conversation_id"`
	Matched        int   `json:"matched"`
}

// MatchResponse is the wire form of one accepted match
type MatchResponse struct {
	EventID    int64   `json:"event_id"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
	MatchType  string  `json:"match_type,omitempty"`
	TimeDelta  int64   `json:"time_delta"`
}

// TimelineEntry pairs a matched event with its offset from the
// conversation
type TimelineEntry struct {
	Event      EventResponse `json:"event"`
	TimeDelta  int64         `json:"time_delta"`
	Confidence float64       `json:"confidence"`
	MatchType  string        `json:"match_type,omitempty"`
}

// TimelineResponse renders a conversation next to its matched changes
type TimelineResponse struct {
	Conversation ConversationResponse `json:"conversation"`
	Entries      []TimelineEntry      `json:"entries"`
}

func toEventResponse(ev *event.Event) EventResponse {
	return EventResponse{
		ID:        ev.ID,
		Timestamp: event.FormatTS(ev.Timestamp),
		Kind:      string(ev.Kind),
		Path:      ev.Path,
		Payload:   ev.Payload,
		ProjectID: ev.ProjectID,
	}
}

func toProjectResponse(p *event.Project) ProjectResponse {
	patterns := p.IgnorePatterns
	if patterns == nil {
		patterns = []string{}
	}
	return ProjectResponse{
		ID:             p.ID,
		Name:           p.Name,
		Path:           p.Path,
		Description:    p.Description,
		CreatedAt:      event.FormatTS(p.CreatedAt),
		IgnorePatterns: patterns,
	}
}

func toConversationResponse(c *event.Conversation) ConversationResponse {
	matched := c.MatchedEventIDs
	if matched == nil {
		matched = []int64{}
	}
	return ConversationResponse{
		ID:              c.ID,
		ProjectID:       c.ProjectID,
		SessionID:       c.SessionID,
		Provider:        c.Provider,
		Model:           c.Model,
		Timestamp:       event.FormatTS(c.Timestamp),
		Type:            c.Type,
		UserPrompt:      c.UserPrompt,
		AIResponse:      c.AIResponse,
		ContextFiles:    c.ContextFiles,
		CodeSnippets:    c.CodeSnippets,
		Metadata:        c.Metadata,
		MatchedEventIDs: matched,
		ConfidenceScore: c.ConfidenceScore,
	}
}
