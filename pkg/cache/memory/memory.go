// Package memory implements a bounded in-memory cache with strict
// least-recently-used eviction and lazy per-key TTL expiry.
package memory

import (
	"sync"
	"time"
)

// DefaultMaxEntries bounds a cache constructed with a non-positive capacity.
const DefaultMaxEntries = 1000

type entry struct {
	value     any
	expiresAt time.Time // zero means no expiry
	seq       uint64
}

// Cache is a bounded map. Inserting a new key at capacity evicts exactly the
// least-recently-accessed entry; both reads and writes count as access.
type Cache struct {
	mu         sync.Mutex
	maxEntries int
	seq        uint64
	entries    map[string]*entry

	// now is swapped in tests to control expiry.
	now func() time.Time
}

// New creates a cache that holds at most maxEntries entries.
func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
		now:        time.Now,
	}
}

// Get returns the value for key. An expired entry is removed and reported
// as absent.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(c.now()) {
		delete(c.entries, key)
		return nil, false
	}

	c.seq++
	e.seq = c.seq
	return e.value, true
}

// Set stores value under key with the given ttl. A ttl <= 0 stores the entry
// without expiry.
func (c *Cache) Set(key string, value any, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}

	c.seq++
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		e.seq = c.seq
		return true
	}

	if len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = &entry{value: value, expiresAt: expiresAt, seq: c.seq}
	return true
}

// Delete removes key and reports whether an entry was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// Clear removes every entry.
func (c *Cache) Clear() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	return true
}

// Len returns the number of resident entries, including any not yet
// physically expired.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOldestLocked removes the entry with the lowest access sequence.
// Callers must hold c.mu.
func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestSeq uint64
	for k, e := range c.entries {
		if oldestKey == "" || e.seq < oldestSeq {
			oldestKey = k
			oldestSeq = e.seq
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}
