package watch

import (
	"os/exec"
	"strings"
)

// BaselineResolver supplies the comparison text for a file's first
// observed change, before the content cache has seen it.
type BaselineResolver interface {
	// Baseline returns the committed text of a repository-relative
	// path, or "" when no baseline exists for any reason.
	Baseline(rel string) string
}

// GitBaseline resolves baselines from the HEAD commit of a repository.
// Any failure (not a repository, untracked file, binary content)
// degrades to an empty baseline rather than an error.
type GitBaseline struct {
	root string
}

// NewGitBaseline creates a resolver rooted at the given directory
func NewGitBaseline(root string) *GitBaseline {
	return &GitBaseline{root: root}
}

// Baseline returns the HEAD version of rel, or ""
func (g *GitBaseline) Baseline(rel string) string {
	out, err := exec.Command("git", "-C", g.root, "show", "HEAD:"+rel).Output()
	if err != nil {
		return ""
	}
	return string(out)
}

// HeadSummary returns the short hash and subject of the latest commit,
// or "" when the root is not a repository.
func HeadSummary(root string) string {
	out, err := exec.Command("git", "-C", root, "log", "-1", "--format=%h %s").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
