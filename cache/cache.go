// Package cache keeps source-file contents in memory so the indexer and the
// query commands do not re-read unchanged files. Entries are revalidated
// against file size and modification time on every access.
package cache

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

type entry struct {
	content []byte
	hash    string
	modTime time.Time
	size    int64
}

// Cache is safe for concurrent use; it is shared between the scheduler's
// rescan passes and client command handlers.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func New() *Cache {
	return &Cache{entries: make(map[string]entry)}
}

// Load returns the file's content and its xxhash64 content hash, reading
// from disk only when the cached entry is stale.
func (c *Cache) Load(path string) ([]byte, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", err
	}

	c.mu.RLock()
	e, ok := c.entries[path]
	c.mu.RUnlock()
	if ok && e.modTime.Equal(info.ModTime()) && e.size == info.Size() {
		return e.content, e.hash, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	hash := fmt.Sprintf("%016x", xxhash.Sum64(data))

	c.mu.Lock()
	c.entries[path] = entry{
		content: data,
		hash:    hash,
		modTime: info.ModTime(),
		size:    info.Size(),
	}
	c.mu.Unlock()

	return data, hash, nil
}

// Invalidate drops the cached entry for a path.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
