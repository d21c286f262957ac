// Package cache keeps parsed model documents in memory so repeated reads of
// the same file do not re-parse it. Entries are replaced after engine writes
// and invalidated when files change on disk outside the engine.
package cache

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/tabwright-labs/tabwright/pkg/tmdl"
)

// Cache is a path-keyed document cache safe for concurrent use.
type Cache struct {
	logger *slog.Logger
	group  singleflight.Group

	mu           sync.RWMutex
	docs         map[string]*tmdl.Document
	onInvalidate func(path string)
}

// New creates an empty cache.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cache{
		logger: logger,
		docs:   make(map[string]*tmdl.Document),
	}
}

// Get returns the parsed document for path, loading it on first use.
// Concurrent loads of the same path are collapsed into a single parse.
func (c *Cache) Get(path string) (*tmdl.Document, error) {
	key := filepath.Clean(path)

	c.mu.RLock()
	doc, ok := c.docs[key]
	c.mu.RUnlock()
	if ok {
		return doc, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Double-check under the group: a concurrent caller may have
		// loaded the document already.
		c.mu.RLock()
		doc, ok := c.docs[key]
		c.mu.RUnlock()
		if ok {
			return doc, nil
		}

		loaded, err := load(key)
		if err != nil {
			return nil, err
		}
		for _, w := range loaded.Warnings {
			c.logger.Warn("parse warning", slog.String("path", key), slog.String("warning", w))
		}

		c.mu.Lock()
		c.docs[key] = loaded
		c.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}

	doc, ok = v.(*tmdl.Document)
	if !ok {
		return nil, fmt.Errorf("unexpected type from cache load: got %T", v)
	}
	return doc, nil
}

// Replace stores doc under its own path, displacing any cached entry.
func (c *Cache) Replace(doc *tmdl.Document) {
	key := filepath.Clean(doc.Path)
	c.mu.Lock()
	c.docs[key] = doc
	c.mu.Unlock()
}

// Invalidate drops the cached entry for path, if any.
func (c *Cache) Invalidate(path string) {
	key := filepath.Clean(path)
	c.mu.Lock()
	delete(c.docs, key)
	fn := c.onInvalidate
	c.mu.Unlock()
	// The hook runs outside the lock so it may call back into the cache.
	if fn != nil {
		fn(key)
	}
}

// NotifyInvalidate registers fn to run after each invalidation. Watch-style
// consumers use it to react to on-disk changes.
func (c *Cache) NotifyInvalidate(fn func(path string)) {
	c.mu.Lock()
	c.onInvalidate = fn
	c.mu.Unlock()
}

// Paths returns the cached paths in sorted order.
func (c *Cache) Paths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	paths := make([]string, 0, len(c.docs))
	for p := range c.docs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of cached documents.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

func load(path string) (*tmdl.Document, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	doc, err := tmdl.Parse(path, src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return doc, nil
}
