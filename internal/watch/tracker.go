package watch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"

	"github.com/ihavespoons/codewatch/internal/event"
	"github.com/ihavespoons/codewatch/internal/logger"
)

// Op classifies a raw filesystem notification.
type Op string

const (
	OpCreated  Op = "created"
	OpModified Op = "modified"
	OpDeleted  Op = "deleted"
)

// Notification is one raw filesystem change to classify.
type Notification struct {
	Path string
	Dir  bool
	Op   Op
}

// EventSink receives the events a Tracker produces.
type EventSink interface {
	AppendEvent(kind event.Kind, path string, payload any, projectID *int64) (*event.Event, error)
	ProjectForPath(path string) *int64
}

// Tracker classifies filesystem notifications, computes diffs against
// the content cache or the committed baseline, and appends events. No
// notification may abort the watch loop; every failure degrades to
// empty content or gets logged and skipped.
type Tracker struct {
	root     string
	ignore   map[string]struct{}
	maxBytes int64
	cache    *ContentCache
	baseline BaselineResolver
	sink     EventSink

	mu       sync.Mutex
	watchDir map[string]bool
}

// NewTracker creates a tracker rooted at root. ignoreParts are path
// components that exclude a path entirely (exact component match).
func NewTracker(root string, ignoreParts []string, maxBytes int64, baseline BaselineResolver, sink EventSink) *Tracker {
	ignore := make(map[string]struct{}, len(ignoreParts))
	for _, part := range ignoreParts {
		ignore[part] = struct{}{}
	}
	return &Tracker{
		root:     root,
		ignore:   ignore,
		maxBytes: maxBytes,
		cache:    NewContentCache(),
		baseline: baseline,
		sink:     sink,
		watchDir: make(map[string]bool),
	}
}

// Cache exposes the tracker's content cache
func (t *Tracker) Cache() *ContentCache {
	return t.cache
}

// Handle classifies one notification and appends the resulting event,
// if any. Emitted events carry paths relative to the watch root; the
// absolute path is only used to read the file and key the cache.
func (t *Tracker) Handle(n Notification) {
	rel, ok := t.relPath(n.Path)
	if !ok || t.ignored(rel) {
		return
	}

	projectID := t.sink.ProjectForPath(rel)

	var err error
	switch {
	case n.Dir && n.Op == OpCreated:
		_, err = t.sink.AppendEvent(event.KindFolderCreated, rel,
			event.FolderPayload{Event: string(n.Op)}, projectID)
	case n.Dir && n.Op == OpDeleted:
		_, err = t.sink.AppendEvent(event.KindFolderDeleted, rel,
			event.FolderPayload{Event: string(n.Op)}, projectID)
	case n.Dir:
		// directory content changes surface as events on the files themselves
		return
	case n.Op == OpDeleted:
		_, err = t.sink.AppendEvent(event.KindFileDeleted, rel, nil, projectID)
		t.cache.Delete(n.Path)
	default:
		err = t.handleFileChange(n, rel, projectID)
	}

	if err != nil {
		logger.Warn().
			Err(err).
			Str("path", n.Path).
			Str("op", string(n.Op)).
			Msg("Failed to record change")
	}
}

func (t *Tracker) handleFileChange(n Notification, rel string, projectID *int64) error {
	content := t.readText(n.Path)

	oldText, cached := t.cache.Get(n.Path)
	if !cached {
		oldText = t.baseline.Baseline(rel)
	}

	sum := sha256.Sum256([]byte(content))
	payload := event.FileChangePayload{
		Event: string(n.Op),
		Diff:  UnifiedDiff(oldText, content),
		SHA:   hex.EncodeToString(sum[:]),
		Size:  len(content),
	}
	t.cache.Set(n.Path, content)

	_, err := t.sink.AppendEvent(event.KindFileChange, rel, payload, projectID)
	return err
}

// readText returns the file's content, degrading to "" for read
// failures, oversize files, and non-text content.
func (t *Tracker) readText(path string) string {
	info, err := os.Stat(path)
	if err != nil || info.Size() > t.maxBytes {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil || !utf8.Valid(data) {
		return ""
	}
	return string(data)
}

// relPath maps an absolute notification path to its slash-separated
// path under the watch root. Paths outside the root are rejected.
func (t *Tracker) relPath(path string) (string, bool) {
	rel, err := filepath.Rel(t.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") || strings.HasPrefix(rel, `..\`) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// ignored reports whether any component of path is in the ignore set
func (t *Tracker) ignored(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if _, ok := t.ignore[part]; ok {
			return true
		}
	}
	return false
}

// Run watches the root recursively until ctx is cancelled, feeding
// every notification through Handle.
func (t *Tracker) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := t.watchTree(watcher, t.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", t.root, err)
	}

	logger.Info().
		Str("root", t.root).
		Msg("Watching for changes")

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			t.dispatch(watcher, ev)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("Watcher error")
		}
	}
}

func (t *Tracker) dispatch(watcher *fsnotify.Watcher, ev fsnotify.Event) {
	switch {
	case ev.Op.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := t.watchTree(watcher, ev.Name); err != nil {
				logger.Warn().Err(err).Str("path", ev.Name).Msg("Failed to watch new directory")
			}
			t.Handle(Notification{Path: ev.Name, Dir: true, Op: OpCreated})
			return
		}
		t.Handle(Notification{Path: ev.Name, Op: OpCreated})

	case ev.Op.Has(fsnotify.Write):
		t.Handle(Notification{Path: ev.Name, Op: OpModified})

	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		// the path is gone by now, so directories are recognized from
		// the set of roots we registered watches on
		t.mu.Lock()
		wasDir := t.watchDir[ev.Name]
		delete(t.watchDir, ev.Name)
		t.mu.Unlock()

		t.Handle(Notification{Path: ev.Name, Dir: wasDir, Op: OpDeleted})
	}
}

// watchTree registers watches on root and every non-ignored directory
// beneath it.
func (t *Tracker) watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Debug().Err(err).Str("path", path).Msg("Skipping unreadable path")
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel, ok := t.relPath(path); path != t.root && (!ok || t.ignored(rel)) {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			logger.Debug().Err(err).Str("path", path).Msg("Failed to add watch")
			return nil
		}
		t.mu.Lock()
		t.watchDir[path] = true
		t.mu.Unlock()
		return nil
	})
}
