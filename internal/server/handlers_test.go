package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ihavespoons/codewatch/internal/config"
	"github.com/ihavespoons/codewatch/internal/digest"
	"github.com/ihavespoons/codewatch/internal/event"
	"github.com/ihavespoons/codewatch/internal/hub"
	"github.com/ihavespoons/codewatch/internal/llm"
	"github.com/ihavespoons/codewatch/internal/match"
	"github.com/ihavespoons/codewatch/internal/store"
)

type stubProvider struct {
	completion string
	judgments  *llm.JudgmentList
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	return p.completion, nil
}

func (p *stubProvider) Judge(ctx context.Context, system, prompt string) (*llm.JudgmentList, error) {
	if p.judgments == nil {
		return &llm.JudgmentList{}, nil
	}
	return p.judgments, nil
}

type testEnv struct {
	store   *store.SQLiteStore
	handler http.Handler
}

func newTestServer(t *testing.T, provider llm.Provider, judge match.Judge) *testEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	broadcast := hub.New(time.Second, 8)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = broadcast.Run(ctx) }()
	st.OnAppend(broadcast.Publish)

	var matcher *match.Matcher
	if judge != nil {
		matcher = match.New(st, judge, cfg.Match)
	}

	srv := New(cfg, st, broadcast, digest.NewBuilder(st, t.TempDir()), matcher, provider, "test")
	return &testEnv{store: st, handler: srv.Handler()}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	env := newTestServer(t, nil, nil)

	w := env.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	health := decode[HealthResponse](t, w)
	if health.Status != "ok" || health.Version != "test" {
		t.Errorf("Unexpected health response: %+v", health)
	}
	if health.Events != 0 || health.Subscribers != 0 {
		t.Errorf("Expected empty daemon, got %+v", health)
	}
}

func TestPromptCaptureAndQuery(t *testing.T) {
	env := newTestServer(t, nil, nil)

	w := env.do(t, http.MethodPost, "/prompt", PromptRequest{Text: "how do I revert a commit", Source: "cli"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	ack := decode[AppendResponse](t, w)
	if !ack.OK || ack.ID < 1 {
		t.Errorf("Unexpected ack: %+v", ack)
	}

	w = env.do(t, http.MethodGet, "/events?kind=prompt", nil)
	list := decode[EventListResponse](t, w)
	if list.Total != 1 || len(list.Items) != 1 {
		t.Fatalf("Expected one prompt event, got %+v", list)
	}
	if list.Items[0].Payload["text"] != "how do I revert a commit" {
		t.Errorf("Unexpected payload: %v", list.Items[0].Payload)
	}
}

func TestPromptRequiresText(t *testing.T) {
	env := newTestServer(t, nil, nil)
	if w := env.do(t, http.MethodPost, "/prompt", PromptRequest{Source: "cli"}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestEventPagingNewestFirst(t *testing.T) {
	env := newTestServer(t, nil, nil)

	for i := 0; i < 3; i++ {
		path := fmt.Sprintf("src/f%d.py", i)
		if _, err := env.store.AppendEvent(event.KindFileChange, path, event.FileChangePayload{Event: "modified", Diff: "+line"}, nil); err != nil {
			t.Fatalf("Failed to append event: %v", err)
		}
	}

	w := env.do(t, http.MethodGet, "/events?limit=1", nil)
	list := decode[EventListResponse](t, w)
	if list.Total != 3 || len(list.Items) != 1 {
		t.Fatalf("Expected total 3 with one item, got %+v", list)
	}
	if list.Items[0].Path != "src/f2.py" {
		t.Errorf("Expected newest event first, got %s", list.Items[0].Path)
	}
}

func TestProjectLifecycle(t *testing.T) {
	env := newTestServer(t, nil, nil)

	w := env.do(t, http.MethodPost, "/projects", ProjectRequest{Name: "api", Path: "/home/dev/api"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decode[ProjectResponse](t, w)
	if created.Name != "api" || created.ID < 1 {
		t.Fatalf("Unexpected project: %+v", created)
	}

	w = env.do(t, http.MethodGet, "/projects", nil)
	projects := decode[[]ProjectResponse](t, w)
	if len(projects) != 1 {
		t.Fatalf("Expected one project, got %d", len(projects))
	}

	base := fmt.Sprintf("/projects/%d", created.ID)
	w = env.do(t, http.MethodPut, base+"/config", ProjectConfigRequest{IgnorePatterns: []string{"*.log"}})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodGet, base+"/config", nil)
	cfg := decode[ProjectConfigRequest](t, w)
	if len(cfg.IgnorePatterns) != 1 || cfg.IgnorePatterns[0] != "*.log" {
		t.Errorf("Unexpected config: %+v", cfg)
	}

	if w = env.do(t, http.MethodDelete, base, nil); w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if w = env.do(t, http.MethodGet, base, nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", w.Code)
	}
}

func TestCreateProjectValidation(t *testing.T) {
	env := newTestServer(t, nil, nil)
	if w := env.do(t, http.MethodPost, "/projects", ProjectRequest{Name: "api"}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing path, got %d", w.Code)
	}
}

func TestSummaryRequiresProvider(t *testing.T) {
	env := newTestServer(t, nil, nil)
	w := env.do(t, http.MethodPost, "/summary/run", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "not configured") {
		t.Errorf("Expected not-configured error, got %s", w.Body.String())
	}
}

func TestSummaryRunAndLatest(t *testing.T) {
	env := newTestServer(t, &stubProvider{completion: "Worked on the parser."}, nil)

	if _, err := env.store.AppendEvent(event.KindFileChange, "parser.go", event.FileChangePayload{Event: "modified", Diff: "+x"}, nil); err != nil {
		t.Fatalf("Failed to append event: %v", err)
	}

	w := env.do(t, http.MethodPost, "/summary/run", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	summary := decode[SummaryResponse](t, w)
	if summary.Content != "Worked on the parser." {
		t.Errorf("Unexpected summary: %+v", summary)
	}

	w = env.do(t, http.MethodGet, "/summary/latest", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	latest := decode[SummaryResponse](t, w)
	if latest.Content != "Worked on the parser." {
		t.Errorf("Unexpected latest summary: %+v", latest)
	}
}

func TestLatestSummaryEmpty(t *testing.T) {
	env := newTestServer(t, nil, nil)
	if w := env.do(t, http.MethodGet, "/summary/latest", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without summaries, got %d", w.Code)
	}
}

func TestAnalyzeChange(t *testing.T) {
	env := newTestServer(t, &stubProvider{completion: "Looks safe."}, nil)

	ev, err := env.store.AppendEvent(event.KindFileChange, "a.go", event.FileChangePayload{Event: "modified", Diff: "+added"}, nil)
	if err != nil {
		t.Fatalf("Failed to append event: %v", err)
	}

	w := env.do(t, http.MethodPost, "/analyze-change", AnalyzeChangeRequest{EventID: ev.ID})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	analysis := decode[AnalysisResponse](t, w)
	if analysis.Content != "Looks safe." {
		t.Errorf("Unexpected analysis: %+v", analysis)
	}

	noDiff, err := env.store.AppendEvent(event.KindPrompt, "", event.PromptPayload{Text: "hi"}, nil)
	if err != nil {
		t.Fatalf("Failed to append event: %v", err)
	}
	if w = env.do(t, http.MethodPost, "/analyze-change", AnalyzeChangeRequest{EventID: noDiff.ID}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for event without diff, got %d", w.Code)
	}
}

func TestConversationMatchFlow(t *testing.T) {
	provider := &stubProvider{completion: "ok"}
	env := newTestServer(t, provider, provider)

	w := env.do(t, http.MethodPost, "/ai-chat", ConversationRequest{
		Provider:   "claude",
		Model:      "claude-sonnet-4",
		Timestamp:  time.Now().Add(-time.Minute).UTC().Format(time.RFC3339),
		UserPrompt: "add input validation",
		AIResponse: "validate before parsing",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decode[ConversationCreatedResponse](t, w)
	if created.ID < 1 || created.SessionID == "" {
		t.Fatalf("Unexpected creation response: %+v", created)
	}

	// the conversation is mirrored into the event stream
	list := decode[EventListResponse](t, env.do(t, http.MethodGet, "/events?kind=conversation", nil))
	if list.Total != 1 {
		t.Errorf("Expected one conversation event, got %d", list.Total)
	}

	ev, err := env.store.AppendEvent(event.KindFileChange, "validate.go", event.FileChangePayload{Event: "modified", Diff: "+if input == nil"}, nil)
	if err != nil {
		t.Fatalf("Failed to append event: %v", err)
	}
	provider.judgments = &llm.JudgmentList{Matches: []llm.Judgment{
		{EventID: ev.ID, Confidence: 0.85, Reasoning: "implements validation", MatchType: "direct"},
	}}

	w = env.do(t, http.MethodPost, fmt.Sprintf("/ai-chat/%d/match", created.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	run := decode[MatchRunResponse](t, w)
	if run.Matched != 1 {
		t.Fatalf("Expected one match, got %+v", run)
	}

	detail := decode[ConversationResponse](t, env.do(t, http.MethodGet, fmt.Sprintf("/ai-chat/%d", created.ID), nil))
	if len(detail.MatchedEventIDs) != 1 || detail.MatchedEventIDs[0] != ev.ID {
		t.Errorf("Expected matched event ids [%d], got %v", ev.ID, detail.MatchedEventIDs)
	}
	if detail.ConfidenceScore != 0.85 {
		t.Errorf("Expected confidence 0.85, got %f", detail.ConfidenceScore)
	}

	timeline := decode[TimelineResponse](t, env.do(t, http.MethodGet, fmt.Sprintf("/ai-chat/%d/timeline", created.ID), nil))
	if len(timeline.Entries) != 1 || timeline.Entries[0].Event.ID != ev.ID {
		t.Fatalf("Unexpected timeline: %+v", timeline)
	}
	if timeline.Entries[0].TimeDelta < 0 {
		t.Errorf("Expected non-negative time delta, got %d", timeline.Entries[0].TimeDelta)
	}

	stats := decode[store.ConversationStats](t, env.do(t, http.MethodGet, "/ai-chat/stats", nil))
	if stats.Total != 1 || stats.Matched != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestMatchUnknownConversationIs404(t *testing.T) {
	provider := &stubProvider{}
	env := newTestServer(t, provider, provider)
	if w := env.do(t, http.MethodPost, "/ai-chat/999/match", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestMatchRequiresProvider(t *testing.T) {
	env := newTestServer(t, nil, nil)

	w := env.do(t, http.MethodPost, "/ai-chat", ConversationRequest{UserPrompt: "hello"})
	created := decode[ConversationCreatedResponse](t, w)

	w = env.do(t, http.MethodPost, fmt.Sprintf("/ai-chat/%d/match", created.ID), nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without matcher, got %d", w.Code)
	}
}

func TestConversationRejectsBadTimestamp(t *testing.T) {
	env := newTestServer(t, nil, nil)
	w := env.do(t, http.MethodPost, "/ai-chat", ConversationRequest{UserPrompt: "x", Timestamp: "yesterday"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad timestamp, got %d", w.Code)
	}
}

func TestExportMarkdown(t *testing.T) {
	env := newTestServer(t, nil, nil)

	if _, err := env.store.AppendEvent(event.KindFileChange, "src/a.py", event.FileChangePayload{Event: "modified", Diff: "+line"}, nil); err != nil {
		t.Fatalf("Failed to append event: %v", err)
	}

	w := env.do(t, http.MethodGet, "/events/export", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "# Development Activity Log") || !strings.Contains(body, "```diff\n+line\n```") {
		t.Errorf("Unexpected export:\n%s", body)
	}
	if !strings.Contains(w.Header().Get("Content-Type"), "text/markdown") {
		t.Errorf("Unexpected content type: %s", w.Header().Get("Content-Type"))
	}
}

func TestStreamDeliversAppendedEvents(t *testing.T) {
	env := newTestServer(t, nil, nil)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events/stream", nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	frame := readFrameEvent(t, reader)
	if frame != "connected" {
		t.Fatalf("Expected connected frame, got %q", frame)
	}

	if _, err := env.store.AppendEvent(event.KindPrompt, "", event.PromptPayload{Text: "live"}, nil); err != nil {
		t.Fatalf("Failed to append event: %v", err)
	}
	if frame = readFrameEvent(t, reader); frame != "message" {
		t.Errorf("Expected message frame, got %q", frame)
	}
}

// readFrameEvent returns the event name of the next SSE frame.
func readFrameEvent(t *testing.T, reader *bufio.Reader) string {
	t.Helper()
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("Failed to read stream: %v", err)
		}
		if strings.HasPrefix(line, "event: ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		}
	}
}
