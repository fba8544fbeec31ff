package cache

import (
	"os"
	"sort"
	"sync"
	"time"
)

// Fingerprint is the cheap (size, mtime) identity of a file on disk.
type Fingerprint struct {
	Size    int64
	ModTime time.Time
}

// FingerprintOf returns the fingerprint of a stat result.
func FingerprintOf(info os.FileInfo) Fingerprint {
	return Fingerprint{Size: info.Size(), ModTime: info.ModTime()}
}

// Stat returns the current fingerprint of path.
func Stat(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, err
	}
	return FingerprintOf(info), nil
}

// Equal reports whether two fingerprints describe the same file content.
func (f Fingerprint) Equal(o Fingerprint) bool {
	return f.Size == o.Size && f.ModTime.Equal(o.ModTime)
}

// Entry holds cached data with the fingerprint it was derived from.
type Entry[T any] struct {
	Data        T
	Fingerprint Fingerprint
	LastAccess  time.Time
}

// Cache is a thread-safe generic cache with LRU eviction.
type Cache[T any] struct {
	entries map[string]Entry[T]
	mu      sync.Mutex
	maxSize int
	now     func() time.Time
}

// New creates a new cache with the specified maximum number of entries.
func New[T any](maxSize int) *Cache[T] {
	return &Cache[T]{
		entries: make(map[string]Entry[T]),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get returns cached data if the file still has fingerprint fp.
// A stale entry is dropped.
func (c *Cache[T]) Get(key string, fp Fingerprint) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	entry, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if !entry.Fingerprint.Equal(fp) {
		delete(c.entries, key)
		return zero, false
	}

	entry.LastAccess = c.now()
	c.entries[key] = entry
	return entry.Data, true
}

// Set stores data derived from a file with fingerprint fp.
func (c *Cache[T]) Set(key string, data T, fp Fingerprint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = Entry[T]{
		Data:        data,
		Fingerprint: fp,
		LastAccess:  c.now(),
	}
	c.evictOldestLocked()
}

// Delete removes an entry from the cache.
func (c *Cache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Retain drops every entry whose key is not in keep. Used after a
// directory scan so removed files do not linger.
func (c *Cache[T]) Retain(keep map[string]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if _, ok := keep[key]; !ok {
			delete(c.entries, key)
		}
	}
}

// Len returns the number of entries in the cache.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOldestLocked removes least recently used entries when over capacity.
// Must be called with lock held.
func (c *Cache[T]) evictOldestLocked() {
	excess := len(c.entries) - c.maxSize
	if c.maxSize <= 0 || excess <= 0 {
		return
	}

	type keyAccess struct {
		key        string
		lastAccess time.Time
	}
	entries := make([]keyAccess, 0, len(c.entries))
	for key, entry := range c.entries {
		entries = append(entries, keyAccess{key, entry.LastAccess})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].lastAccess.Equal(entries[j].lastAccess) {
			return entries[i].key < entries[j].key
		}
		return entries[i].lastAccess.Before(entries[j].lastAccess)
	})

	for i := range excess {
		delete(c.entries, entries[i].key)
	}
}
