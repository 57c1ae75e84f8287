// Package store persists events, projects, conversations, and matches
// in SQLite. It is the single source of truth; every read and write is
// a short single-operation transaction.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ihavespoons/codewatch/internal/event"
	"github.com/ihavespoons/codewatch/internal/logger"

	_ "modernc.org/sqlite" // SQLite driver for database/sql
)

// EventQuery filters the paged descending event listing.
type EventQuery struct {
	ProjectID *int64
	Kind      event.Kind
	Limit     int
	Offset    int
}

// RangeQuery selects events in an ascending time window, used by the
// digest builder and the conversation matcher.
type RangeQuery struct {
	Since     time.Time
	Until     time.Time // zero = unbounded
	Kinds     []event.Kind
	ProjectID *int64
	Limit     int
}

// Store defines the persistence interface for the activity recorder.
type Store interface {
	// Events
	AppendEvent(kind event.Kind, path string, payload any, projectID *int64) (*event.Event, error)
	GetEvent(id int64) (*event.Event, error)
	QueryEvents(q EventQuery) ([]*event.Event, int, error)
	QueryRange(q RangeQuery) ([]*event.Event, error)
	AllEvents(projectID *int64) ([]*event.Event, error)
	LatestByKind(kind event.Kind, projectID *int64) (*event.Event, error)
	CountEvents() (int, error)

	// Projects
	CreateProject(p *event.Project) (int64, error)
	ListProjects() ([]*event.Project, error)
	GetProject(id int64) (*event.Project, error)
	DeleteProject(id int64) error
	UpdateProjectIgnores(id int64, patterns []string) error
	ProjectForPath(path string) *int64

	// Conversations and matches
	CreateConversation(c *event.Conversation) (int64, error)
	GetConversation(id int64) (*event.Conversation, error)
	ListConversations(q ConversationQuery) ([]*event.Conversation, int, error)
	ConversationStats(projectID *int64) (*ConversationStats, error)
	MatchesFor(conversationID int64) ([]*event.Match, error)
	ReplaceMatches(conversationID int64, matches []*event.Match) error

	// Lifecycle
	Close() error
}

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = fmt.Errorf("not found")

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db       *sql.DB
	dbPath   string
	mu       sync.RWMutex
	onAppend func(*event.Event)
}

// NewSQLiteStore creates a new SQLite-backed store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dbPath = filepath.Join(homeDir, ".codewatch", "events.db")
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	// WAL mode keeps the watcher thread and the request handlers from
	// serializing on every read
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}

	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Debug().
		Str("path", dbPath).
		Msg("Opened event store")

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		kind TEXT NOT NULL,
		path TEXT,
		payload TEXT,
		project_id INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
	CREATE INDEX IF NOT EXISTS idx_events_project ON events(project_id);

	CREATE TABLE IF NOT EXISTS projects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		path TEXT NOT NULL,
		description TEXT,
		created_at INTEGER,
		ignore_patterns TEXT
	);

	CREATE TABLE IF NOT EXISTS ai_conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER,
		session_id TEXT,
		ai_provider TEXT,
		ai_model TEXT,
		timestamp INTEGER,
		conversation_type TEXT,
		user_prompt TEXT,
		ai_response TEXT,
		context_files TEXT,
		code_snippets TEXT,
		metadata TEXT,
		matched_to_events TEXT,
		confidence_score REAL
	);

	CREATE TABLE IF NOT EXISTS ai_code_matches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id INTEGER NOT NULL,
		event_id INTEGER NOT NULL,
		confidence REAL,
		reasoning TEXT,
		match_type TEXT,
		time_delta INTEGER,
		created_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_matches_conversation ON ai_code_matches(conversation_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// OnAppend registers the dissemination hook invoked with each fully
// materialized event after it has been persisted. Must be set before
// writers start.
func (s *SQLiteStore) OnAppend(fn func(*event.Event)) {
	s.onAppend = fn
}

// AppendEvent validates the payload, persists a new event, and triggers
// dissemination with the materialized record.
func (s *SQLiteStore) AppendEvent(kind event.Kind, path string, payload any, projectID *int64) (*event.Event, error) {
	payloadJSON, err := event.EncodePayload(kind, payload)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Truncate(time.Second)

	s.mu.Lock()
	result, err := s.db.Exec(
		`INSERT INTO events (ts, kind, path, payload, project_id) VALUES (?, ?, ?, ?, ?)`,
		now.Unix(), string(kind), path, string(payloadJSON), nullableID(projectID),
	)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to append event: %w", err)
	}
	id, err := result.LastInsertId()
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to read event id: %w", err)
	}

	ev := &event.Event{
		ID:        id,
		Timestamp: now,
		Kind:      kind,
		Path:      path,
		Payload:   event.DecodePayload(payloadJSON),
		ProjectID: projectID,
	}

	if s.onAppend != nil {
		s.onAppend(ev)
	}

	return ev, nil
}

// GetEvent retrieves a single event by id
func (s *SQLiteStore) GetEvent(id int64) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, ts, kind, path, payload, project_id FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return ev, nil
}

// QueryEvents returns events ordered by timestamp descending, plus the
// total count matching the active filters.
func (s *SQLiteStore) QueryEvents(q EventQuery) ([]*event.Event, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var conditions []string
	var params []any

	if q.ProjectID != nil {
		conditions = append(conditions, "project_id = ?")
		params = append(params, *q.ProjectID)
	}
	if q.Kind != "" {
		conditions = append(conditions, "kind = ?")
		params = append(params, string(q.Kind))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM events "+where, params...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	// ts is second resolution; id breaks ties in insertion order
	rows, err := s.db.Query(
		`SELECT id, ts, kind, path, payload, project_id FROM events `+where+
			` ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?`,
		append(params, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// QueryRange returns events in [Since, Until] ordered ascending.
func (s *SQLiteStore) QueryRange(q RangeQuery) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conditions := []string{"ts >= ?"}
	params := []any{q.Since.Unix()}

	if !q.Until.IsZero() {
		conditions = append(conditions, "ts <= ?")
		params = append(params, q.Until.Unix())
	}
	if len(q.Kinds) > 0 {
		placeholders := make([]string, len(q.Kinds))
		for i, k := range q.Kinds {
			placeholders[i] = "?"
			params = append(params, string(k))
		}
		conditions = append(conditions, "kind IN ("+strings.Join(placeholders, ", ")+")")
	}
	if q.ProjectID != nil {
		conditions = append(conditions, "project_id = ?")
		params = append(params, *q.ProjectID)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	params = append(params, limit)

	rows, err := s.db.Query(
		`SELECT id, ts, kind, path, payload, project_id FROM events WHERE `+
			strings.Join(conditions, " AND ")+` ORDER BY ts ASC, id ASC LIMIT ?`,
		params...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query event range: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

// AllEvents returns the full event log in chronological order,
// optionally scoped to a project. Exports use this; interactive
// queries go through QueryEvents.
func (s *SQLiteStore) AllEvents(projectID *int64) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, ts, kind, path, payload, project_id FROM events`
	var params []any
	if projectID != nil {
		query += ` WHERE project_id = ?`
		params = append(params, *projectID)
	}
	query += ` ORDER BY ts ASC, id ASC`

	rows, err := s.db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events for export: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

// LatestByKind returns the most recent event of a kind, optionally
// scoped to a project.
func (s *SQLiteStore) LatestByKind(kind event.Kind, projectID *int64) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, ts, kind, path, payload, project_id FROM events WHERE kind = ?`
	params := []any{string(kind)}
	if projectID != nil {
		query += ` AND project_id = ?`
		params = append(params, *projectID)
	}
	query += ` ORDER BY ts DESC, id DESC LIMIT 1`

	row := s.db.QueryRow(query, params...)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no %s event: %w", kind, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest %s: %w", kind, err)
	}
	return ev, nil
}

// CountEvents returns the total number of stored events
func (s *SQLiteStore) CountEvents() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return total, nil
}

// CreateProject inserts a new project
func (s *SQLiteStore) CreateProject(p *event.Project) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(
		`INSERT INTO projects (name, path, description, created_at, ignore_patterns) VALUES (?, ?, ?, ?, ?)`,
		p.Name, p.Path, p.Description, time.Now().Unix(), encodePatterns(p.IgnorePatterns),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create project: %w", err)
	}
	return result.LastInsertId()
}

// ListProjects returns all projects ordered by creation time descending
func (s *SQLiteStore) ListProjects() ([]*event.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, name, path, description, created_at, ignore_patterns FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []*event.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// GetProject retrieves a project by id
func (s *SQLiteStore) GetProject(id int64) (*event.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, name, path, description, created_at, ignore_patterns FROM projects WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return nil, fmt.Errorf("project %d: %w", id, ErrNotFound)
	}
	return scanProject(rows)
}

// DeleteProject removes a project. Its events keep their project_id;
// the log itself stays immutable.
func (s *SQLiteStore) DeleteProject(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return nil
}

// UpdateProjectIgnores replaces a project's ignore patterns
func (s *SQLiteStore) UpdateProjectIgnores(id int64, patterns []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(
		"UPDATE projects SET ignore_patterns = ? WHERE id = ?", encodePatterns(patterns), id)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("project %d: %w", id, ErrNotFound)
	}
	return nil
}

// ProjectForPath resolves the owning project of a repository-relative
// path by longest-prefix match over registered project paths. Returns
// nil when no project claims the path; lookup failures also yield nil,
// never an error.
func (s *SQLiteStore) ProjectForPath(path string) *int64 {
	projects, err := s.ListProjects()
	if err != nil {
		logger.Debug().Err(err).Msg("Project lookup failed")
		return nil
	}

	var best *int64
	bestLen := -1
	for _, p := range projects {
		root := strings.TrimSuffix(p.Path, "/")
		if root == "" {
			continue
		}
		if path == root || strings.HasPrefix(path, root+"/") {
			if len(root) > bestLen {
				id := p.ID
				best = &id
				bestLen = len(root)
			}
		}
	}
	return best
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*event.Event, error) {
	var ev event.Event
	var ts int64
	var kind string
	var path, payload sql.NullString
	var projectID sql.NullInt64

	if err := row.Scan(&ev.ID, &ts, &kind, &path, &payload, &projectID); err != nil {
		return nil, err
	}

	ev.Timestamp = time.Unix(ts, 0).UTC()
	ev.Kind = event.Kind(kind)
	ev.Path = path.String
	ev.Payload = event.DecodePayload([]byte(payload.String))
	if projectID.Valid {
		id := projectID.Int64
		ev.ProjectID = &id
	}
	return &ev, nil
}

func scanEvents(rows *sql.Rows) ([]*event.Event, error) {
	var events []*event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanProject(rows *sql.Rows) (*event.Project, error) {
	var p event.Project
	var description, patterns sql.NullString
	var createdAt sql.NullInt64

	if err := rows.Scan(&p.ID, &p.Name, &p.Path, &description, &createdAt, &patterns); err != nil {
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	p.Description = description.String
	if createdAt.Valid {
		p.CreatedAt = time.Unix(createdAt.Int64, 0).UTC()
	}
	p.IgnorePatterns = decodePatterns(patterns.String)
	return &p, nil
}

// encodePatterns stores ignore patterns as a JSON array.
func encodePatterns(patterns []string) string {
	if len(patterns) == 0 {
		return "[]"
	}
	data, err := json.Marshal(patterns)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// decodePatterns accepts the JSON array form and, for rows written by
// older clients, a newline-separated list.
func decodePatterns(raw string) []string {
	if raw == "" {
		return nil
	}
	var patterns []string
	if err := json.Unmarshal([]byte(raw), &patterns); err == nil {
		return patterns
	}
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			patterns = append(patterns, line)
		}
	}
	return patterns
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}
