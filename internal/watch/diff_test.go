package watch

import (
	"strings"
	"testing"
)

func TestUnifiedDiffIdenticalContent(t *testing.T) {
	if diff := UnifiedDiff("same\n", "same\n"); diff != "" {
		t.Errorf("Expected empty diff for identical content, got %q", diff)
	}
	if diff := UnifiedDiff("", ""); diff != "" {
		t.Errorf("Expected empty diff for empty content, got %q", diff)
	}
}

func TestUnifiedDiffAddedLine(t *testing.T) {
	diff := UnifiedDiff("a\nb\n", "a\nb\nc\n")
	if !strings.Contains(diff, "+c") {
		t.Errorf("Expected added line in diff, got:\n%s", diff)
	}
	if !strings.Contains(diff, "--- old") || !strings.Contains(diff, "+++ new") {
		t.Errorf("Expected unified diff headers, got:\n%s", diff)
	}
}

func TestUnifiedDiffFromEmptyBaseline(t *testing.T) {
	diff := UnifiedDiff("", "new file\n")
	if !strings.Contains(diff, "+new file") {
		t.Errorf("Expected whole content as additions, got:\n%s", diff)
	}
}

func TestUnifiedDiffRemovedLine(t *testing.T) {
	diff := UnifiedDiff("a\nb\n", "a\n")
	if !strings.Contains(diff, "-b") {
		t.Errorf("Expected removed line in diff, got:\n%s", diff)
	}
}
