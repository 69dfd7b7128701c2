// Package embedding provides the embedding provider client and its
// process-local cache.
package embedding

import (
	"strings"
	"sync"
	"time"
)

// CacheStats is a snapshot of the cache state for observability and tests.
type CacheStats struct {
	Size    int           `json:"size"`
	MaxSize int           `json:"maxSize"`
	TTL     time.Duration `json:"ttl"`
}

type cacheEntry struct {
	vector    []float32
	createdAt time.Time
}

// Cache maps normalized query text to a cached vector with a timestamp.
// Eviction is insertion-order FIFO; expiry is lazy on read. All access is
// mutex-guarded so the capacity invariant holds under concurrency.
type Cache struct {
	mu        sync.Mutex
	maxSize   int
	ttl       time.Duration
	items     map[string]*cacheEntry
	insertion []string
	now       func() time.Time
}

// NewCache creates a cache with the given capacity and TTL.
// Non-positive arguments fall back to 1000 entries / 30 minutes.
func NewCache(maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Cache{
		maxSize:   maxSize,
		ttl:       ttl,
		items:     make(map[string]*cacheEntry),
		insertion: make([]string, 0, maxSize),
		now:       time.Now,
	}
}

// normalizeKey trims surrounding whitespace so queries differing only in
// padding share an entry.
func normalizeKey(text string) string {
	return strings.TrimSpace(text)
}

// Get returns the cached vector for key, or nil and false on miss.
// Entries older than the TTL are treated as misses and removed.
func (c *Cache) Get(key string) ([]float32, bool) {
	key = normalizeKey(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.createdAt) >= c.ttl {
		c.remove(key)
		return nil, false
	}

	vector := make([]float32, len(entry.vector))
	copy(vector, entry.vector)
	return vector, true
}

// Put stores a vector under key, evicting the oldest-inserted entry when at
// capacity. Re-inserting an existing key refreshes its timestamp and moves it
// to the newest position.
func (c *Cache) Put(key string, vector []float32) {
	key = normalizeKey(key)
	if key == "" {
		return
	}

	stored := make([]float32, len(vector))
	copy(stored, vector)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; exists {
		c.remove(key)
	}
	if len(c.items) >= c.maxSize && len(c.insertion) > 0 {
		c.remove(c.insertion[0])
	}

	c.items[key] = &cacheEntry{vector: stored, createdAt: c.now()}
	c.insertion = append(c.insertion, key)
}

// Stats returns a snapshot of the cache state.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Size:    len(c.items),
		MaxSize: c.maxSize,
		TTL:     c.ttl,
	}
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*cacheEntry)
	c.insertion = c.insertion[:0]
}

// remove deletes key from both the map and the insertion order.
// Caller must hold the lock.
func (c *Cache) remove(key string) {
	delete(c.items, key)
	for i, k := range c.insertion {
		if k == key {
			c.insertion = append(c.insertion[:i], c.insertion[i+1:]...)
			break
		}
	}
}
