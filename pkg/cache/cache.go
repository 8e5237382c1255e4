// Package cache provides the memoization layer: one interface over an
// in-memory LRU backend and a durable bbolt backend, deterministic key
// construction, and a higher-order wrapper for caching function results.
package cache

import (
	"time"
)

// Cache is the contract shared by the memory and durable backends.
//
// A zero or negative ttl stores the entry without expiry. Expired entries are
// invisible on read even before physical removal; expiry is checked lazily,
// there is no background sweep.
type Cache interface {
	// Get returns the stored value for key, or false when absent or expired.
	Get(key string) (any, bool)

	// Set stores value under key. It reports whether the value was stored.
	Set(key string, value any, ttl time.Duration) bool

	// Delete removes key. It reports whether an entry was present.
	Delete(key string) bool

	// Clear removes every entry. It reports whether the clear succeeded.
	Clear() bool
}

// TTLPolicy holds the expiry applied to each cached concern.
type TTLPolicy struct {
	Embedding  time.Duration
	Similarity time.Duration
	Search     time.Duration
	Retrieval  time.Duration
}

// DefaultTTLPolicy mirrors the expected refresh rates: embeddings are stable,
// searches change only when knowledge changes, whole-query retrievals go
// stale fastest.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Embedding:  time.Hour,
		Similarity: 5 * time.Minute,
		Search:     5 * time.Minute,
		Retrieval:  time.Minute,
	}
}

// Manager is the process-wide cache pool: one backend instance plus the TTL
// policy for every cached concern. It is constructed once at startup and
// injected into each component that memoizes, replacing any notion of a
// global cache singleton.
type Manager struct {
	Backend Cache
	TTL     TTLPolicy
}

// NewManager creates a cache pool over backend, filling zero TTLs from the
// default policy.
func NewManager(backend Cache, ttl TTLPolicy) *Manager {
	defaults := DefaultTTLPolicy()
	if ttl.Embedding <= 0 {
		ttl.Embedding = defaults.Embedding
	}
	if ttl.Similarity <= 0 {
		ttl.Similarity = defaults.Similarity
	}
	if ttl.Search <= 0 {
		ttl.Search = defaults.Search
	}
	if ttl.Retrieval <= 0 {
		ttl.Retrieval = defaults.Retrieval
	}
	return &Manager{Backend: backend, TTL: ttl}
}
