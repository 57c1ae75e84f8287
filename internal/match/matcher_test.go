package match

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ihavespoons/codewatch/internal/config"
	"github.com/ihavespoons/codewatch/internal/event"
	"github.com/ihavespoons/codewatch/internal/llm"
	"github.com/ihavespoons/codewatch/internal/store"
)

type fakeJudge struct {
	judgments func(prompt string) *llm.JudgmentList
	err       error
	calls     int
	lastPrompt string
}

func (f *fakeJudge) Judge(ctx context.Context, system, prompt string) (*llm.JudgmentList, error) {
	f.calls++
	f.lastPrompt = prompt
	if f.err != nil {
		return nil, f.err
	}
	return f.judgments(prompt), nil
}

func newTestMatcher(t *testing.T, judge Judge) (*Matcher, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, judge, config.MatchSettings{
		WindowSeconds:  7200,
		MinConfidence:  0.6,
		CandidateLimit: 50,
	}), st
}

func seedConversation(t *testing.T, st *store.SQLiteStore) int64 {
	t.Helper()
	id, err := st.CreateConversation(&event.Conversation{
		SessionID:  "s",
		Provider:   "claude",
		Timestamp:  time.Now().Add(-time.Minute),
		UserPrompt: "add a retry loop",
		AIResponse: "wrap the call in a loop",
	})
	if err != nil {
		t.Fatalf("Failed to create conversation: %v", err)
	}
	return id
}

func TestMatchFiltersByConfidence(t *testing.T) {
	var judge fakeJudge
	matcher, st := newTestMatcher(t, &judge)

	ev1, err := st.AppendEvent(event.KindFileChange, "a.go", event.FileChangePayload{Event: "modified", Diff: "+retry"}, nil)
	if err != nil {
		t.Fatalf("Failed to append event: %v", err)
	}
	ev2, err := st.AppendEvent(event.KindFileChange, "b.go", event.FileChangePayload{Event: "modified", Diff: "+other"}, nil)
	if err != nil {
		t.Fatalf("Failed to append event: %v", err)
	}

	convID := seedConversation(t, st)
	judge.judgments = func(string) *llm.JudgmentList {
		return &llm.JudgmentList{Matches: []llm.Judgment{
			{EventID: ev1.ID, Confidence: 0.9, Reasoning: "implements the retry", MatchType: "direct"},
			{EventID: ev2.ID, Confidence: 0.4, Reasoning: "unrelated", MatchType: "inspired"},
		}}
	}

	matched, err := matcher.Match(context.Background(), convID)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if matched != 1 {
		t.Errorf("Expected 1 accepted match, got %d", matched)
	}

	persisted, err := st.MatchesFor(convID)
	if err != nil {
		t.Fatalf("Failed to list matches: %v", err)
	}
	if len(persisted) != 1 || persisted[0].EventID != ev1.ID {
		t.Fatalf("Expected only event %d persisted, got %+v", ev1.ID, persisted)
	}

	conv, err := st.GetConversation(convID)
	if err != nil {
		t.Fatalf("Failed to get conversation: %v", err)
	}
	if conv.ConfidenceScore != 0.9 {
		t.Errorf("Expected confidence score 0.9, got %f", conv.ConfidenceScore)
	}
	if len(conv.MatchedEventIDs) != 1 || conv.MatchedEventIDs[0] != ev1.ID {
		t.Errorf("Expected derived ids [%d], got %v", ev1.ID, conv.MatchedEventIDs)
	}
}

func TestMatchIsIdempotent(t *testing.T) {
	var judge fakeJudge
	matcher, st := newTestMatcher(t, &judge)

	ev, err := st.AppendEvent(event.KindFileChange, "a.go", event.FileChangePayload{Event: "modified", Diff: "+x"}, nil)
	if err != nil {
		t.Fatalf("Failed to append event: %v", err)
	}
	convID := seedConversation(t, st)
	judge.judgments = func(string) *llm.JudgmentList {
		return &llm.JudgmentList{Matches: []llm.Judgment{
			{EventID: ev.ID, Confidence: 0.8, MatchType: "direct"},
		}}
	}

	for run := 0; run < 2; run++ {
		matched, err := matcher.Match(context.Background(), convID)
		if err != nil {
			t.Fatalf("Match failed (run %d): %v", run, err)
		}
		if matched != 1 {
			t.Errorf("Expected 1 match on run %d, got %d", run, matched)
		}
	}

	persisted, err := st.MatchesFor(convID)
	if err != nil {
		t.Fatalf("Failed to list matches: %v", err)
	}
	if len(persisted) != 1 {
		t.Errorf("Expected matches fully superseded, got %d rows", len(persisted))
	}
}

func TestMatchUnknownConversation(t *testing.T) {
	var judge fakeJudge
	matcher, _ := newTestMatcher(t, &judge)

	_, err := matcher.Match(context.Background(), 999)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected not-found error, got %v", err)
	}
	if judge.calls != 0 {
		t.Error("Expected no judge call for unknown conversation")
	}
}

func TestMatchWithNoCandidates(t *testing.T) {
	var judge fakeJudge
	matcher, st := newTestMatcher(t, &judge)

	convID := seedConversation(t, st)
	matched, err := matcher.Match(context.Background(), convID)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if matched != 0 {
		t.Errorf("Expected 0 matches, got %d", matched)
	}
	if judge.calls != 0 {
		t.Error("Expected no judge call without candidates")
	}
}

func TestMatchDropsHallucinatedEventIDs(t *testing.T) {
	var judge fakeJudge
	matcher, st := newTestMatcher(t, &judge)

	ev, err := st.AppendEvent(event.KindFileChange, "a.go", event.FileChangePayload{Event: "modified", Diff: "+x"}, nil)
	if err != nil {
		t.Fatalf("Failed to append event: %v", err)
	}
	convID := seedConversation(t, st)
	judge.judgments = func(string) *llm.JudgmentList {
		return &llm.JudgmentList{Matches: []llm.Judgment{
			{EventID: ev.ID + 100, Confidence: 0.95, MatchType: "direct"},
		}}
	}

	matched, err := matcher.Match(context.Background(), convID)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if matched != 0 {
		t.Errorf("Expected hallucinated id dropped, got %d matches", matched)
	}
}

func TestMatchSurfacesJudgeFailure(t *testing.T) {
	judge := fakeJudge{err: errors.New("api down")}
	matcher, st := newTestMatcher(t, &judge)

	if _, err := st.AppendEvent(event.KindFileChange, "a.go", event.FileChangePayload{Event: "modified", Diff: "+x"}, nil); err != nil {
		t.Fatalf("Failed to append event: %v", err)
	}
	convID := seedConversation(t, st)

	if _, err := matcher.Match(context.Background(), convID); err == nil {
		t.Error("Expected judge failure to surface")
	}
}

func TestMatchPromptContainsCandidates(t *testing.T) {
	var judge fakeJudge
	matcher, st := newTestMatcher(t, &judge)

	_, err := st.AppendEvent(event.KindFileChange, "pkg/retry.go", event.FileChangePayload{Event: "modified", Diff: "+for attempts"}, nil)
	if err != nil {
		t.Fatalf("Failed to append event: %v", err)
	}
	convID := seedConversation(t, st)
	judge.judgments = func(string) *llm.JudgmentList { return &llm.JudgmentList{} }

	if _, err := matcher.Match(context.Background(), convID); err != nil {
		t.Fatalf("Match failed: %v", err)
	}

	for _, want := range []string{"pkg/retry.go", "+for attempts", "add a retry loop"} {
		if !strings.Contains(judge.lastPrompt, want) {
			t.Errorf("Expected prompt to contain %q:\n%s", want, judge.lastPrompt)
		}
	}
}
