package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ihavespoons/codewatch/internal/event"
)

// ConversationQuery filters the paged conversation listing.
type ConversationQuery struct {
	ProjectID *int64
	Provider  string
	Limit     int
	Offset    int
}

// ConversationStats summarizes captured conversations and how many of
// them have been correlated with code changes.
type ConversationStats struct {
	Total      int            `json:"total_conversations"`
	Matched    int            `json:"matched_conversations"`
	Unmatched  int            `json:"unmatched_conversations"`
	ByProvider map[string]int `json:"by_provider"`
}

// CreateConversation inserts a captured AI exchange
func (s *SQLiteStore) CreateConversation(c *event.Conversation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := c.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	result, err := s.db.Exec(
		`INSERT INTO ai_conversations
		 (project_id, session_id, ai_provider, ai_model, timestamp, conversation_type,
		  user_prompt, ai_response, context_files, code_snippets, metadata,
		  matched_to_events, confidence_score)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableID(c.ProjectID), c.SessionID, c.Provider, c.Model, ts.Unix(), c.Type,
		c.UserPrompt, c.AIResponse, marshalJSON(c.ContextFiles), marshalJSON(c.CodeSnippets),
		marshalJSON(c.Metadata), "[]", 0.0,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create conversation: %w", err)
	}
	return result.LastInsertId()
}

// GetConversation retrieves a conversation by id
func (s *SQLiteStore) GetConversation(id int64) (*event.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, project_id, session_id, ai_provider, ai_model, timestamp,
		        conversation_type, user_prompt, ai_response, context_files,
		        code_snippets, metadata, matched_to_events, confidence_score
		 FROM ai_conversations WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return nil, fmt.Errorf("conversation %d: %w", id, ErrNotFound)
	}
	return scanConversation(rows)
}

// ListConversations returns conversations ordered by timestamp
// descending, plus the total count matching the filters.
func (s *SQLiteStore) ListConversations(q ConversationQuery) ([]*event.Conversation, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var conditions []string
	var params []any

	if q.ProjectID != nil {
		conditions = append(conditions, "project_id = ?")
		params = append(params, *q.ProjectID)
	}
	if q.Provider != "" {
		conditions = append(conditions, "ai_provider = ?")
		params = append(params, q.Provider)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM ai_conversations "+where, params...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count conversations: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(
		`SELECT id, project_id, session_id, ai_provider, ai_model, timestamp,
		        conversation_type, user_prompt, ai_response, context_files,
		        code_snippets, metadata, matched_to_events, confidence_score
		 FROM ai_conversations `+where+` ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`,
		append(params, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var conversations []*event.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, 0, err
		}
		conversations = append(conversations, c)
	}
	return conversations, total, rows.Err()
}

// ConversationStats aggregates conversation counts, optionally scoped
// to a project.
func (s *SQLiteStore) ConversationStats(projectID *int64) (*ConversationStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := ""
	var params []any
	if projectID != nil {
		where = "WHERE project_id = ?"
		params = append(params, *projectID)
	}

	stats := &ConversationStats{ByProvider: make(map[string]int)}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM ai_conversations "+where, params...).Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("failed to count conversations: %w", err)
	}

	matchedWhere := "WHERE matched_to_events IS NOT NULL AND matched_to_events != '[]'"
	if projectID != nil {
		matchedWhere += " AND project_id = ?"
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM ai_conversations "+matchedWhere, params...).Scan(&stats.Matched); err != nil {
		return nil, fmt.Errorf("failed to count matched conversations: %w", err)
	}
	stats.Unmatched = stats.Total - stats.Matched

	rows, err := s.db.Query(
		"SELECT ai_provider, COUNT(*) FROM ai_conversations "+where+" GROUP BY ai_provider", params...)
	if err != nil {
		return nil, fmt.Errorf("failed to count by provider: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var provider sql.NullString
		var count int
		if err := rows.Scan(&provider, &count); err != nil {
			return nil, fmt.Errorf("failed to scan provider count: %w", err)
		}
		name := provider.String
		if name == "" {
			name = "unknown"
		}
		stats.ByProvider[name] = count
	}
	return stats, rows.Err()
}

// MatchesFor returns the accepted matches of a conversation ordered by
// confidence descending.
func (s *SQLiteStore) MatchesFor(conversationID int64) ([]*event.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, conversation_id, event_id, confidence, reasoning, match_type, time_delta, created_at
		 FROM ai_code_matches WHERE conversation_id = ? ORDER BY confidence DESC, id ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []*event.Match
	for rows.Next() {
		var m event.Match
		var reasoning, matchType sql.NullString
		var createdAt sql.NullInt64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.EventID, &m.Confidence,
			&reasoning, &matchType, &m.TimeDelta, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		m.Reasoning = reasoning.String
		m.MatchType = matchType.String
		if createdAt.Valid {
			m.CreatedAt = time.Unix(createdAt.Int64, 0).UTC()
		}
		matches = append(matches, &m)
	}
	return matches, rows.Err()
}

// ReplaceMatches atomically replaces all matches of a conversation and
// recomputes its derived matched_to_events list and confidence score.
// Re-running a match is a full replace, never an accumulation.
func (s *SQLiteStore) ReplaceMatches(conversationID int64, matches []*event.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM ai_code_matches WHERE conversation_id = ?", conversationID); err != nil {
		return fmt.Errorf("failed to clear matches: %w", err)
	}

	now := time.Now().Unix()
	eventIDs := make([]int64, 0, len(matches))
	best := 0.0
	for _, m := range matches {
		if _, err := tx.Exec(
			`INSERT INTO ai_code_matches
			 (conversation_id, event_id, confidence, reasoning, match_type, time_delta, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			conversationID, m.EventID, m.Confidence, m.Reasoning, m.MatchType, m.TimeDelta, now,
		); err != nil {
			return fmt.Errorf("failed to insert match: %w", err)
		}
		eventIDs = append(eventIDs, m.EventID)
		if m.Confidence > best {
			best = m.Confidence
		}
	}

	if _, err := tx.Exec(
		"UPDATE ai_conversations SET matched_to_events = ?, confidence_score = ? WHERE id = ?",
		marshalJSON(eventIDs), best, conversationID,
	); err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit matches: %w", err)
	}
	return nil
}

func scanConversation(rows *sql.Rows) (*event.Conversation, error) {
	var c event.Conversation
	var projectID sql.NullInt64
	var sessionID, provider, model, convType, prompt, response sql.NullString
	var contextFiles, codeSnippets, metadata, matchedEvents sql.NullString
	var ts sql.NullInt64
	var confidence sql.NullFloat64

	if err := rows.Scan(&c.ID, &projectID, &sessionID, &provider, &model, &ts,
		&convType, &prompt, &response, &contextFiles, &codeSnippets, &metadata,
		&matchedEvents, &confidence); err != nil {
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}

	if projectID.Valid {
		id := projectID.Int64
		c.ProjectID = &id
	}
	c.SessionID = sessionID.String
	c.Provider = provider.String
	c.Model = model.String
	if ts.Valid {
		c.Timestamp = time.Unix(ts.Int64, 0).UTC()
	}
	c.Type = convType.String
	c.UserPrompt = prompt.String
	c.AIResponse = response.String
	c.ConfidenceScore = confidence.Float64

	unmarshalJSON(contextFiles.String, &c.ContextFiles)
	unmarshalJSON(codeSnippets.String, &c.CodeSnippets)
	unmarshalJSON(metadata.String, &c.Metadata)
	unmarshalJSON(matchedEvents.String, &c.MatchedEventIDs)
	return &c, nil
}

func marshalJSON(v any) string {
	if v == nil {
		return "null"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}

// unmarshalJSON decodes a stored JSON column, leaving the target at its
// zero value on empty or malformed input.
func unmarshalJSON(raw string, v any) {
	if raw == "" || raw == "null" {
		return
	}
	_ = json.Unmarshal([]byte(raw), v)
}
