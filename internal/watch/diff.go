package watch

import (
	"github.com/pmezard/go-difflib/difflib"
)

// UnifiedDiff computes a unified diff between two versions of a file.
// Returns "" when the texts are identical.
func UnifiedDiff(oldText, newText string) string {
	if oldText == newText {
		return ""
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(oldText),
		B:        difflib.SplitLines(newText),
		FromFile: "old",
		ToFile:   "new",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return ""
	}
	return text
}
