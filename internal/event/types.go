// Package event defines the data model for recorded development
// activity: events, projects, AI conversations, and the matches that
// link conversations to code changes.
package event

import "time"

// Kind classifies an event. Each kind has one payload schema, defined
// in payload.go.
type Kind string

const (
	KindFileChange    Kind = "file_change"
	KindFileDeleted   Kind = "file_deleted"
	KindFolderCreated Kind = "folder_created"
	KindFolderDeleted Kind = "folder_deleted"
	KindPrompt        Kind = "prompt"
	KindCopilotChat   Kind = "copilot_chat"
	KindError         Kind = "error"
	KindSummary       Kind = "summary"
	KindConversation  Kind = "ai_conversation"
	KindImplications  Kind = "implications_analysis"
)

// Kinds lists every known event kind.
var Kinds = []Kind{
	KindFileChange, KindFileDeleted, KindFolderCreated, KindFolderDeleted,
	KindPrompt, KindCopilotChat, KindError, KindSummary,
	KindConversation, KindImplications,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ChangeKinds are the kinds produced by the filesystem change tracker.
var ChangeKinds = []Kind{
	KindFileChange, KindFileDeleted, KindFolderCreated, KindFolderDeleted,
}

// Event is one immutable record of observed activity. Events are never
// mutated or deleted once written; ids are assigned by the store in
// strictly increasing insertion order.
type Event struct {
	ID        int64
	Timestamp time.Time
	Kind      Kind
	Path      string
	Payload   map[string]any
	ProjectID *int64
}

// Project is an optional grouping used to scope queries. Ownership of
// the project lifecycle lives with the API surface.
type Project struct {
	ID             int64
	Name           string
	Path           string
	Description    string
	CreatedAt      time.Time
	IgnorePatterns []string
}

// Conversation is a recorded AI exchange. MatchedEventIDs and
// ConfidenceScore are derived from the current Match set and are
// rewritten whenever matching runs.
type Conversation struct {
	ID              int64
	ProjectID       *int64
	SessionID       string
	Provider        string
	Model           string
	Timestamp       time.Time
	Type            string
	UserPrompt      string
	AIResponse      string
	ContextFiles    []string
	CodeSnippets    []CodeSnippet
	Metadata        map[string]any
	MatchedEventIDs []int64
	ConfidenceScore float64
}

// CodeSnippet is a fenced code block extracted from an AI response.
type CodeSnippet struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Lines    int    `json:"lines"`
}

// Match is a persisted, confidence-scored link between a conversation
// and an event. The full set for a conversation is replaced atomically
// on every matching run.
type Match struct {
	ID             int64
	ConversationID int64
	EventID        int64
	Confidence     float64
	Reasoning      string
	MatchType      string
	TimeDelta      int64 // seconds between conversation and event
	CreatedAt      time.Time
}

// FormatTS renders a timestamp the way the API exposes it: RFC3339 UTC
// at second resolution.
func FormatTS(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
}
