package event

import (
	"encoding/json"
	"fmt"
)

// FileChangePayload accompanies file_change events.
type FileChangePayload struct {
	Event string `json:"event"` // created | modified
	Diff  string `json:"diff"`
	SHA   string `json:"sha"`
	Size  int    `json:"size"`
}

// FolderPayload accompanies folder_created/folder_deleted/file_deleted
// events.
type FolderPayload struct {
	Event string `json:"event"`
}

// PromptPayload accompanies prompt events.
type PromptPayload struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Model  string `json:"model"`
}

// CopilotChatPayload accompanies copilot_chat events.
type CopilotChatPayload struct {
	Prompt         string `json:"prompt"`
	Response       string `json:"response"`
	Source         string `json:"source"`
	Model          string `json:"model"`
	ConversationID string `json:"conversation_id"`
}

// ErrorPayload accompanies error events.
type ErrorPayload struct {
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// SummaryPayload accompanies summary events.
type SummaryPayload struct {
	Content string `json:"content"`
	Model   string `json:"model"`
}

// ImplicationsPayload accompanies implications_analysis events.
type ImplicationsPayload struct {
	Content    string `json:"content"`
	Model      string `json:"model"`
	Hours      int    `json:"hours"`
	EventCount int    `json:"event_count"`
}

// ConversationRefPayload accompanies ai_conversation events, pointing
// back at the stored conversation row.
type ConversationRefPayload struct {
	ConversationID int64  `json:"conversation_id"`
	Provider       string `json:"ai_provider"`
	Model          string `json:"ai_model"`
	PromptPreview  string `json:"prompt_preview"`
}

// EncodePayload validates kind and marshals the payload for storage.
// A nil payload encodes as an empty object.
func EncodePayload(kind Kind, payload any) ([]byte, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown event kind: %s", kind)
	}
	if payload == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	return data, nil
}

// DecodePayload unmarshals a stored payload blob. Malformed JSON
// degrades to an empty object rather than failing the read.
func DecodePayload(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil || payload == nil {
		return map[string]any{}
	}
	return payload
}

// PayloadString extracts a string field from a decoded payload,
// returning "" when absent or of the wrong type.
func PayloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	s, _ := payload[key].(string)
	return s
}
