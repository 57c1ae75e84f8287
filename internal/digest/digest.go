// Package digest renders a bounded textual rollup of recent events for
// downstream summarization by an LLM.
package digest

import (
	"fmt"
	"strings"

	"github.com/ihavespoons/codewatch/internal/event"
	"github.com/ihavespoons/codewatch/internal/store"
	"github.com/ihavespoons/codewatch/internal/watch"
)

const truncatedMarker = "...[truncated digest]"

// Builder renders digests from the event store.
type Builder struct {
	store store.Store
	root  string
}

// NewBuilder creates a digest builder over the watched root
func NewBuilder(s store.Store, root string) *Builder {
	return &Builder{store: s, root: root}
}

// Build renders the most recent limit events, one line per event, and
// guarantees the result never exceeds charLimit.
func (b *Builder) Build(limit, charLimit int, projectID *int64) (string, error) {
	if limit <= 0 {
		limit = 50
	}
	if charLimit <= 0 {
		charLimit = 6000
	}

	events, _, err := b.store.QueryEvents(store.EventQuery{
		ProjectID: projectID,
		Limit:     limit,
	})
	if err != nil {
		return "", fmt.Errorf("failed to load events for digest: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("Repo: " + b.root + "\n")
	if head := watch.HeadSummary(b.root); head != "" {
		sb.WriteString("Latest commit: " + head + "\n")
	}
	sb.WriteString("\n")

	used := 0
	for _, ev := range events {
		line := event.FormatTS(ev.Timestamp) + " | " + string(ev.Kind) + " | " + ev.Path + " | " + snippet(ev)
		if used+len(line) > charLimit {
			sb.WriteString(truncatedMarker + "\n")
			break
		}
		sb.WriteString(line + "\n")
		used += len(line)
	}

	// the header is not counted above, so cap the whole text
	return HardCap(sb.String(), charLimit), nil
}

// snippet extracts a kind-specific preview of an event's payload.
func snippet(ev *event.Event) string {
	switch ev.Kind {
	case event.KindFileChange:
		op := event.PayloadString(ev.Payload, "event")
		diff := event.PayloadString(ev.Payload, "diff")
		return op + "; diff=" + Trim(diff, 400)
	case event.KindFileDeleted:
		return "deleted"
	case event.KindFolderCreated:
		return "folder created"
	case event.KindFolderDeleted:
		return "folder deleted"
	case event.KindPrompt:
		return Trim(event.PayloadString(ev.Payload, "text"), 300)
	case event.KindCopilotChat:
		prompt := Trim(event.PayloadString(ev.Payload, "prompt"), 200)
		response := Trim(event.PayloadString(ev.Payload, "response"), 200)
		return "prompt=" + prompt + " response=" + response
	case event.KindError:
		return Trim(event.PayloadString(ev.Payload, "message"), 200)
	case event.KindSummary:
		return Trim(event.PayloadString(ev.Payload, "content"), 200)
	default:
		return ""
	}
}

// Trim shortens text to limit characters, appending a note with the
// number of characters removed.
func Trim(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + fmt.Sprintf("... [truncated %d chars]", len(text)-limit)
}

// HardCap truncates text so that, including the truncation suffix, it
// never exceeds limit.
func HardCap(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	// size the suffix for the largest possible cut so the total can
	// never overshoot
	worst := fmt.Sprintf("... [truncated %d chars]", len(text))
	keep := limit - len(worst)
	if keep <= 0 {
		return text[:limit]
	}
	return text[:keep] + fmt.Sprintf("... [truncated %d chars]", len(text)-keep)
}
