// Package watch observes a repository tree, classifies filesystem
// changes, and turns them into persisted events with unified diffs.
package watch

import "sync"

// ContentCache keeps the last recorded text of each watched file so
// successive modifications diff against what was previously seen, not
// against the committed baseline.
type ContentCache struct {
	mu      sync.RWMutex
	content map[string]string
}

// NewContentCache creates an empty cache
func NewContentCache() *ContentCache {
	return &ContentCache{content: make(map[string]string)}
}

// Get returns the cached text for a path and whether one exists
func (c *ContentCache) Get(path string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	text, ok := c.content[path]
	return text, ok
}

// Set records the current text for a path
func (c *ContentCache) Set(path, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.content[path] = text
}

// Delete removes a path, so a future re-creation diffs from scratch
func (c *ContentCache) Delete(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.content, path)
}

// Len returns the number of cached paths
func (c *ContentCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.content)
}
