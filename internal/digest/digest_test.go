package digest

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/ihavespoons/codewatch/internal/event"
	"github.com/ihavespoons/codewatch/internal/store"
)

func newTestBuilder(t *testing.T) (*Builder, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewBuilder(st, t.TempDir()), st
}

func TestBuildIncludesKindSnippets(t *testing.T) {
	b, st := newTestBuilder(t)

	if _, err := st.AppendEvent(event.KindFileChange, "src/a.py", event.FileChangePayload{
		Event: "modified", Diff: "+added line", SHA: "abc", Size: 11,
	}, nil); err != nil {
		t.Fatalf("Failed to append event: %v", err)
	}
	if _, err := st.AppendEvent(event.KindPrompt, "", event.PromptPayload{Text: "how do I do X"}, nil); err != nil {
		t.Fatalf("Failed to append event: %v", err)
	}
	if _, err := st.AppendEvent(event.KindError, "", event.ErrorPayload{Message: "traceback"}, nil); err != nil {
		t.Fatalf("Failed to append event: %v", err)
	}

	text, err := b.Build(50, 6000, nil)
	if err != nil {
		t.Fatalf("Failed to build digest: %v", err)
	}

	if !strings.Contains(text, "modified; diff=+added line") {
		t.Errorf("Expected file change snippet, got:\n%s", text)
	}
	if !strings.Contains(text, "how do I do X") {
		t.Errorf("Expected prompt snippet, got:\n%s", text)
	}
	if !strings.Contains(text, "traceback") {
		t.Errorf("Expected error snippet, got:\n%s", text)
	}
	if !strings.Contains(text, "Repo: ") {
		t.Errorf("Expected repo header, got:\n%s", text)
	}
}

func TestBuildNeverExceedsCharLimit(t *testing.T) {
	b, st := newTestBuilder(t)

	long := strings.Repeat("x", 1000)
	for i := 0; i < 40; i++ {
		if _, err := st.AppendEvent(event.KindFileChange, "big.go", event.FileChangePayload{
			Event: "modified", Diff: long,
		}, nil); err != nil {
			t.Fatalf("Failed to append event: %v", err)
		}
	}

	for _, limit := range []int{100, 500, 2000, 6000} {
		text, err := b.Build(50, limit, nil)
		if err != nil {
			t.Fatalf("Failed to build digest: %v", err)
		}
		if len(text) > limit {
			t.Errorf("Digest length %d exceeds limit %d", len(text), limit)
		}
	}
}

func TestBuildTruncationMarker(t *testing.T) {
	b, st := newTestBuilder(t)

	for i := 0; i < 30; i++ {
		if _, err := st.AppendEvent(event.KindFileChange, "f.go", event.FileChangePayload{
			Event: "modified", Diff: strings.Repeat("y", 300),
		}, nil); err != nil {
			t.Fatalf("Failed to append event: %v", err)
		}
	}

	text, err := b.Build(50, 2000, nil)
	if err != nil {
		t.Fatalf("Failed to build digest: %v", err)
	}
	if !strings.Contains(text, "truncated") {
		t.Errorf("Expected truncation marker in bounded digest, got:\n%s", text)
	}
}

func TestTrim(t *testing.T) {
	if got := Trim("short", 100); got != "short" {
		t.Errorf("Expected untouched text, got %q", got)
	}
	got := Trim(strings.Repeat("a", 150), 100)
	if !strings.HasPrefix(got, strings.Repeat("a", 100)) {
		t.Error("Expected prefix preserved")
	}
	if !strings.Contains(got, "[truncated 50 chars]") {
		t.Errorf("Expected truncation note, got %q", got)
	}
}

func TestHardCap(t *testing.T) {
	if got := HardCap("short", 100); got != "short" {
		t.Errorf("Expected untouched text, got %q", got)
	}
	for _, limit := range []int{5, 30, 100, 500} {
		got := HardCap(strings.Repeat("b", 1000), limit)
		if len(got) > limit {
			t.Errorf("HardCap(%d) produced %d chars", limit, len(got))
		}
	}
}
