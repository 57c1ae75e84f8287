package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ihavespoons/codewatch/internal/config"
	"github.com/ihavespoons/codewatch/internal/digest"
	"github.com/ihavespoons/codewatch/internal/event"
	"github.com/ihavespoons/codewatch/internal/hub"
	"github.com/ihavespoons/codewatch/internal/llm"
	"github.com/ihavespoons/codewatch/internal/logger"
	"github.com/ihavespoons/codewatch/internal/match"
	"github.com/ihavespoons/codewatch/internal/store"
)

const (
	maxQueryLimit     = 500
	defaultQueryLimit = 50
)

// Handlers holds the HTTP API handlers and their collaborators.
// provider and matcher are nil when no LLM credential is configured;
// the endpoints that need them report that explicitly.
type Handlers struct {
	store    store.Store
	hub      *hub.Hub
	digests  *digest.Builder
	matcher  *match.Matcher
	provider llm.Provider
	cfg      *config.Config
	version  string
}

// NewHandlers creates the handler set
func NewHandlers(s store.Store, h *hub.Hub, d *digest.Builder, m *match.Matcher, p llm.Provider, cfg *config.Config, version string) *Handlers {
	return &Handlers{
		store:    s,
		hub:      h,
		digests:  d,
		matcher:  m,
		provider: p,
		cfg:      cfg,
		version:  version,
	}
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	count, err := h.store.CountEvents()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Version:     h.version,
		Events:      count,
		Subscribers: h.hub.SubscriberCount(),
	})
}

// Events handles GET /events
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePage(r)
	events, total, err := h.store.QueryEvents(store.EventQuery{
		ProjectID: parseProjectID(r),
		Kind:      event.Kind(r.URL.Query().Get("kind")),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	items := make([]EventResponse, 0, len(events))
	for _, ev := range events {
		items = append(items, toEventResponse(ev))
	}
	writeJSON(w, http.StatusOK, EventListResponse{Items: items, Total: total})
}

// ExportEvents handles GET /events/export
func (h *Handlers) ExportEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.store.AllEvents(parseProjectID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch r.URL.Query().Get("format") {
	case "", "markdown":
		h.exportMarkdown(w, events)
	case "json":
		items := make([]EventResponse, 0, len(events))
		for _, ev := range events {
			items = append(items, toEventResponse(ev))
		}
		w.Header().Set("Content-Disposition", `attachment; filename="events.json"`)
		writeJSON(w, http.StatusOK, items)
	default:
		writeError(w, http.StatusBadRequest, "unknown format (use markdown or json)")
	}
}

func (h *Handlers) exportMarkdown(w http.ResponseWriter, events []*event.Event) {
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="events.md"`)

	var sb strings.Builder
	sb.WriteString("# Development Activity Log\n\n")
	for _, ev := range events {
		sb.WriteString(fmt.Sprintf("## %s — %s\n\n", event.FormatTS(ev.Timestamp), ev.Kind))
		if ev.Path != "" {
			sb.WriteString("Path: `" + ev.Path + "`\n\n")
		}
		if diff := event.PayloadString(ev.Payload, "diff"); diff != "" {
			sb.WriteString("```diff\n" + diff + "\n```\n\n")
		} else if text := event.PayloadString(ev.Payload, "text"); text != "" {
			sb.WriteString(text + "\n\n")
		} else if content := event.PayloadString(ev.Payload, "content"); content != "" {
			sb.WriteString(content + "\n\n")
		}
	}
	_, _ = w.Write([]byte(sb.String()))
}

// Projects handles GET /projects
func (h *Handlers) Projects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.store.ListProjects()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	items := make([]ProjectResponse, 0, len(projects))
	for _, p := range projects {
		items = append(items, toProjectResponse(p))
	}
	writeJSON(w, http.StatusOK, items)
}

// CreateProject handles POST /projects
func (h *Handlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req ProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Path == "" {
		writeError(w, http.StatusBadRequest, "name and path are required")
		return
	}

	id, err := h.store.CreateProject(&event.Project{
		Name:        req.Name,
		Path:        req.Path,
		Description: req.Description,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	p, err := h.store.GetProject(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toProjectResponse(p))
}

// GetProject handles GET /projects/{id}
func (h *Handlers) GetProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := h.store.GetProject(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectResponse(p))
}

// DeleteProject handles DELETE /projects/{id}
func (h *Handlers) DeleteProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.store.GetProject(id); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := h.store.DeleteProject(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ProjectConfig handles GET /projects/{id}/config
func (h *Handlers) ProjectConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := h.store.GetProject(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	patterns := p.IgnorePatterns
	if patterns == nil {
		patterns = []string{}
	}
	writeJSON(w, http.StatusOK, ProjectConfigRequest{IgnorePatterns: patterns})
}

// UpdateProjectConfig handles PUT /projects/{id}/config
func (h *Handlers) UpdateProjectConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ProjectConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.store.UpdateProjectIgnores(id, req.IgnorePatterns); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Prompt handles POST /prompt
func (h *Handlers) Prompt(w http.ResponseWriter, r *http.Request) {
	var req PromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	h.appendCapture(w, event.KindPrompt, event.PromptPayload{
		Text:   req.Text,
		Source: req.Source,
		Model:  req.Model,
	}, req.ProjectID)
}

// Copilot handles POST /copilot
func (h *Handlers) Copilot(w http.ResponseWriter, r *http.Request) {
	var req CopilotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prompt == "" && req.Response == "" {
		writeError(w, http.StatusBadRequest, "prompt or response is required")
		return
	}
	h.appendCapture(w, event.KindCopilotChat, event.CopilotChatPayload{
		Prompt:         req.Prompt,
		Response:       req.Response,
		Source:         req.Source,
		Model:          req.Model,
		ConversationID: req.ConversationID,
	}, req.ProjectID)
}

// RecordError handles POST /error
func (h *Handlers) RecordError(w http.ResponseWriter, r *http.Request) {
	var req ErrorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	h.appendCapture(w, event.KindError, event.ErrorPayload{
		Message: req.Message,
		Context: req.Context,
	}, req.ProjectID)
}

func (h *Handlers) appendCapture(w http.ResponseWriter, kind event.Kind, payload any, projectID *int64) {
	ev, err := h.store.AppendEvent(kind, "", payload, projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, AppendResponse{ID: ev.ID, OK: true, TS: event.FormatTS(ev.Timestamp)})
}

// RunSummary handles POST /summary/run
func (h *Handlers) RunSummary(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		writeError(w, http.StatusBadRequest, llm.ErrNotConfigured.Error())
		return
	}

	var req SummaryRunRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	text, err := h.digests.Build(h.cfg.Digest.EventLimit, h.cfg.Digest.CharLimit, req.ProjectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	content, err := h.provider.Complete(r.Context(),
		"You summarize a developer's recent activity from an event digest. "+
			"Write a short plain-language summary of what was worked on, grouped by theme. "+
			"Mention notable errors and AI assistant usage if present.",
		text)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	ev, err := h.store.AppendEvent(event.KindSummary, "", event.SummaryPayload{
		Content: content,
		Model:   h.cfg.LLM.Model,
	}, req.ProjectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SummaryResponse{
		Content: content,
		Model:   h.cfg.LLM.Model,
		TS:      event.FormatTS(ev.Timestamp),
	})
}

// LatestSummary handles GET /summary/latest
func (h *Handlers) LatestSummary(w http.ResponseWriter, r *http.Request) {
	ev, err := h.store.LatestByKind(event.KindSummary, parseProjectID(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SummaryResponse{
		Content: event.PayloadString(ev.Payload, "content"),
		Model:   event.PayloadString(ev.Payload, "model"),
		TS:      event.FormatTS(ev.Timestamp),
	})
}

// AnalyzeChange handles POST /analyze-change
func (h *Handlers) AnalyzeChange(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		writeError(w, http.StatusBadRequest, llm.ErrNotConfigured.Error())
		return
	}

	var req AnalyzeChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ev, err := h.store.GetEvent(req.EventID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	diff := event.PayloadString(ev.Payload, "diff")
	if diff == "" {
		writeError(w, http.StatusBadRequest, "event has no diff to analyze")
		return
	}

	prompt := fmt.Sprintf("File: %s\nChange at %s:\n\n%s",
		ev.Path, event.FormatTS(ev.Timestamp), digest.Trim(diff, 4000))
	content, err := h.provider.Complete(r.Context(),
		"You review a single code change. Explain what it does, point out risks or bugs, "+
			"and suggest improvements. Be concise.",
		prompt)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, AnalysisResponse{Content: content, Model: h.cfg.LLM.Model})
}

// Implications handles POST /implications
func (h *Handlers) Implications(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		writeError(w, http.StatusBadRequest, llm.ErrNotConfigured.Error())
		return
	}

	var req ImplicationsRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Hours <= 0 {
		req.Hours = 24
	}

	events, err := h.store.QueryRange(store.RangeQuery{
		Since:     time.Now().Add(-time.Duration(req.Hours) * time.Hour),
		Kinds:     []event.Kind{event.KindFileChange, event.KindFileDeleted},
		ProjectID: req.ProjectID,
		Limit:     maxQueryLimit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(events) == 0 {
		writeJSON(w, http.StatusOK, ImplicationsResponse{
			Content: "No code changes in the requested window.",
			Hours:   req.Hours,
		})
		return
	}

	var sb strings.Builder
	for _, ev := range events {
		diff := event.PayloadString(ev.Payload, "diff")
		sb.WriteString(fmt.Sprintf("%s %s %s\n%s\n\n",
			event.FormatTS(ev.Timestamp), ev.Kind, ev.Path, digest.Trim(diff, 300)))
	}

	content, err := h.provider.Complete(r.Context(),
		"You assess the architectural implications of a batch of code changes. "+
			"Identify cross-cutting effects, risky patterns, and follow-up work the changes imply.",
		digest.Trim(sb.String(), 12000))
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	if _, err := h.store.AppendEvent(event.KindImplications, "", event.ImplicationsPayload{
		Content:    content,
		Model:      h.cfg.LLM.Model,
		Hours:      req.Hours,
		EventCount: len(events),
	}, req.ProjectID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ImplicationsResponse{
		Content:    content,
		Model:      h.cfg.LLM.Model,
		Hours:      req.Hours,
		EventCount: len(events),
	})
}

// CreateConversation handles POST /ai-chat
func (h *Handlers) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req ConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserPrompt == "" {
		writeError(w, http.StatusBadRequest, "user_prompt is required")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	ts := time.Now().UTC()
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			writeError(w, http.StatusBadRequest, "timestamp must be RFC 3339")
			return
		}
		ts = parsed.UTC()
	}

	id, err := h.store.CreateConversation(&event.Conversation{
		ProjectID:    req.ProjectID,
		SessionID:    sessionID,
		Provider:     req.Provider,
		Model:        req.Model,
		Timestamp:    ts,
		Type:         req.Type,
		UserPrompt:   req.UserPrompt,
		AIResponse:   req.AIResponse,
		ContextFiles: req.ContextFiles,
		CodeSnippets: req.CodeSnippets,
		Metadata:     req.Metadata,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// the conversation also appears in the activity stream
	if _, err := h.store.AppendEvent(event.KindConversation, "", event.ConversationRefPayload{
		ConversationID: id,
		Provider:       req.Provider,
		Model:          req.Model,
		PromptPreview:  digest.Trim(req.UserPrompt, 200),
	}, req.ProjectID); err != nil {
		logger.Warn().Err(err).Int64("conversation_id", id).Msg("Failed to record conversation event")
	}

	writeJSON(w, http.StatusCreated, ConversationCreatedResponse{ID: id, SessionID: sessionID})
}

// Conversations handles GET /ai-chat
func (h *Handlers) Conversations(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePage(r)
	conversations, total, err := h.store.ListConversations(store.ConversationQuery{
		ProjectID: parseProjectID(r),
		Provider:  r.URL.Query().Get("provider"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	items := make([]ConversationResponse, 0, len(conversations))
	for _, c := range conversations {
		items = append(items, toConversationResponse(c))
	}
	writeJSON(w, http.StatusOK, ConversationListResponse{Items: items, Total: total})
}

// ConversationDetail handles GET /ai-chat/{id}
func (h *Handlers) ConversationDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := h.store.GetConversation(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationResponse(c))
}

// ConversationStats handles GET /ai-chat/stats
func (h *Handlers) ConversationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.ConversationStats(parseProjectID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ConversationTimeline handles GET /ai-chat/{id}/timeline
func (h *Handlers) ConversationTimeline(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := h.store.GetConversation(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	matches, err := h.store.MatchesFor(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	entries := make([]TimelineEntry, 0, len(matches))
	for _, m := range matches {
		ev, err := h.store.GetEvent(m.EventID)
		if err != nil {
			continue
		}
		entries = append(entries, TimelineEntry{
			Event:      toEventResponse(ev),
			TimeDelta:  m.TimeDelta,
			Confidence: m.Confidence,
			MatchType:  m.MatchType,
		})
	}
	writeJSON(w, http.StatusOK, TimelineResponse{
		Conversation: toConversationResponse(c),
		Entries:      entries,
	})
}

// MatchConversation handles POST /ai-chat/{id}/match
func (h *Handlers) MatchConversation(w http.ResponseWriter, r *http.Request) {
	if h.matcher == nil {
		writeError(w, http.StatusBadRequest, llm.ErrNotConfigured.Error())
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	matched, err := h.matcher.Match(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, MatchRunResponse{ConversationID: id, Matched: matched})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func parsePage(r *http.Request) (limit, offset int) {
	limit = defaultQueryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			offset = n
		}
	}
	return limit, offset
}

func parseProjectID(r *http.Request) *int64 {
	raw := r.URL.Query().Get("project_id")
	if raw == "" {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &id
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
