// Package bolt implements a durable cache backed by bbolt. Values are
// serialized to JSON under a SHA-256 hash of the cache key. The cache keeps
// its own byte accounting; once the configured budget is exceeded a cleanup
// pass evicts oldest-by-last-access entries down to roughly 80% of budget so
// consecutive writes do not thrash the cleanup.
package bolt

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/mindsim/layermem/pkg/log"
)

// DefaultMaxBytes bounds a cache opened with a non-positive budget.
const DefaultMaxBytes = 10 * 1024 * 1024

// trimTarget is the fraction of the byte budget kept after a cleanup pass.
const trimTarget = 0.8

var entriesBucket = []byte("entries")

type envelope struct {
	Value      json.RawMessage `json:"v"`
	ExpiresAt  time.Time       `json:"exp,omitempty"`
	LastAccess time.Time       `json:"at"`
}

// Cache is a durable cache over a single bbolt file. All methods are safe for
// concurrent use; mu guards the size accounting alongside each transaction.
type Cache struct {
	mu         sync.Mutex
	db         *bbolt.DB
	maxBytes   int64
	totalBytes int64
}

// Open opens (creating if needed) the cache database at path with the given
// byte budget. Existing entries are scanned once to rebuild size accounting,
// so stale metadata can never poison the budget.
func Open(path string, maxBytes int64) (*Cache, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	c := &Cache{db: db, maxBytes: maxBytes}

	err = db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(entriesBucket)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			c.totalBytes += entrySize(k, v)
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache buckets: %w", err)
	}

	log.Debug("Opened durable cache",
		"path", path,
		"max_bytes", maxBytes,
		"resident_bytes", c.totalBytes)

	return c, nil
}

// Get returns the stored value for key as serialized JSON bytes. Expired
// entries are removed and reported absent; undecodable entries are dropped
// and reported absent so a corrupt file degrades to recomputation.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hashed := hashKey(key)

	var value json.RawMessage
	found := false

	err := c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		if b == nil {
			return nil
		}
		raw := b.Get(hashed)
		if raw == nil {
			return nil
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Warn("Dropping undecodable cache entry", "key", key, "error", err)
			c.totalBytes -= entrySize(hashed, raw)
			return b.Delete(hashed)
		}

		if !env.ExpiresAt.IsZero() && time.Now().After(env.ExpiresAt) {
			c.totalBytes -= entrySize(hashed, raw)
			return b.Delete(hashed)
		}

		env.LastAccess = time.Now().UTC()
		updated, err := json.Marshal(env)
		if err != nil {
			return err
		}
		c.totalBytes += entrySize(hashed, updated) - entrySize(hashed, raw)
		if err := b.Put(hashed, updated); err != nil {
			return err
		}

		value = env.Value
		found = true
		return nil
	})
	if err != nil {
		log.Warn("Cache read failed; treating as miss", "key", key, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	return value, true
}

// Set serializes value and stores it under key. A ttl <= 0 stores the entry
// without expiry. Exceeding the byte budget triggers a cleanup pass within
// the same transaction.
func (c *Cache) Set(key string, value any, ttl time.Duration) bool {
	data, err := json.Marshal(value)
	if err != nil {
		log.Warn("Refusing to cache unserializable value", "key", key, "error", err)
		return false
	}

	now := time.Now().UTC()
	env := envelope{Value: data, LastAccess: now}
	if ttl > 0 {
		env.ExpiresAt = now.Add(ttl)
	}

	encoded, err := json.Marshal(env)
	if err != nil {
		return false
	}
	hashed := hashKey(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	err = c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		if b == nil {
			return fmt.Errorf("entries bucket missing")
		}

		if prev := b.Get(hashed); prev != nil {
			c.totalBytes -= entrySize(hashed, prev)
		}
		if err := b.Put(hashed, encoded); err != nil {
			return err
		}
		c.totalBytes += entrySize(hashed, encoded)

		if c.totalBytes > c.maxBytes {
			return c.trimLocked(b)
		}
		return nil
	})
	if err != nil {
		log.Warn("Cache write failed", "key", key, "error", err)
		return false
	}
	return true
}

// Delete removes key and reports whether an entry was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	hashed := hashKey(key)
	existed := false

	err := c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		if b == nil {
			return nil
		}
		raw := b.Get(hashed)
		if raw == nil {
			return nil
		}
		existed = true
		c.totalBytes -= entrySize(hashed, raw)
		return b.Delete(hashed)
	})
	if err != nil {
		log.Warn("Cache delete failed", "key", key, "error", err)
		return false
	}
	return existed
}

// Clear removes every entry.
func (c *Cache) Clear() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(entriesBucket); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(entriesBucket)
		return err
	})
	if err != nil {
		log.Warn("Cache clear failed", "error", err)
		return false
	}
	c.totalBytes = 0
	return true
}

// TotalBytes returns the current size accounting.
func (c *Cache) TotalBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalBytes
}

// Close releases the underlying database file.
func (c *Cache) Close() error {
	return c.db.Close()
}

// trimLocked evicts oldest-by-last-access entries until the accounting drops
// to the trim target. Callers must be inside a write transaction on b.
func (c *Cache) trimLocked(b *bbolt.Bucket) error {
	type candidate struct {
		key        []byte
		size       int64
		lastAccess time.Time
	}

	var candidates []candidate
	err := b.ForEach(func(k, v []byte) error {
		var env envelope
		at := time.Time{}
		if err := json.Unmarshal(v, &env); err == nil {
			at = env.LastAccess
		}
		key := make([]byte, len(k))
		copy(key, k)
		candidates = append(candidates, candidate{key: key, size: entrySize(k, v), lastAccess: at})
		return nil
	})
	if err != nil {
		return err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].lastAccess.Before(candidates[j].lastAccess)
	})

	target := int64(float64(c.maxBytes) * trimTarget)
	evicted := 0
	for _, cand := range candidates {
		if c.totalBytes <= target {
			break
		}
		if err := b.Delete(cand.key); err != nil {
			return err
		}
		c.totalBytes -= cand.size
		evicted++
	}

	log.Debug("Trimmed durable cache",
		"evicted", evicted,
		"resident_bytes", c.totalBytes,
		"target_bytes", target)
	return nil
}

// hashKey maps a cache key to a fixed-length storage key.
func hashKey(key string) []byte {
	sum := sha256.Sum256([]byte(key))
	return []byte(hex.EncodeToString(sum[:]))
}

// entrySize is the accounted cost of one stored entry.
func entrySize(k, v []byte) int64 {
	return int64(len(k) + len(v))
}
