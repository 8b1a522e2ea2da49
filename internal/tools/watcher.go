package tools

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileCache caches file contents for the read tool and invalidates
// entries when the underlying files change on disk. Without a watcher it
// degrades to a plain cache that is only invalidated by the write and
// edit tools themselves.
type FileCache struct {
	mu      sync.RWMutex
	entries map[string][]byte

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileCache creates a cache with a filesystem watcher. If the watcher
// cannot be created the cache still works; external modifications just
// go unnoticed until the next write through this process.
func NewFileCache() *FileCache {
	c := &FileCache{
		entries: make(map[string][]byte),
		done:    make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return c
	}
	c.watcher = watcher
	go c.watch()
	return c
}

// watch drains watcher events, invalidating changed paths.
func (c *FileCache) watch() {
	for {
		select {
		case <-c.done:
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				c.Invalidate(event.Name)
			}
		case _, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			// Watcher errors are non-fatal; stale entries are refreshed
			// on the next write through this process.
		}
	}
}

// Get returns the cached contents for path, if present.
func (c *FileCache) Get(path string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.entries[filepath.Clean(path)]
	return data, ok
}

// Put stores contents for path and registers it with the watcher.
func (c *FileCache) Put(path string, data []byte) {
	path = filepath.Clean(path)
	c.mu.Lock()
	c.entries[path] = data
	c.mu.Unlock()

	if c.watcher != nil {
		// Best effort: an unwatchable path just stays uncached longer.
		_ = c.watcher.Add(path)
	}
}

// Invalidate drops the cache entry for path.
func (c *FileCache) Invalidate(path string) {
	path = filepath.Clean(path)
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()

	if c.watcher != nil {
		_ = c.watcher.Remove(path)
	}
}

// Len returns the number of cached entries.
func (c *FileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the watcher goroutine.
func (c *FileCache) Close() error {
	close(c.done)
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}
