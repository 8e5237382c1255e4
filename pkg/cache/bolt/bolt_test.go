package bolt

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.etcd.io/bbolt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T, maxBytes int64) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"), maxBytes)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCacheSetGetRoundTrip(t *testing.T) {
	c := openTestCache(t, 0)

	type payload struct {
		Query string   `json:"query"`
		Hits  []string `json:"hits"`
	}
	stored := payload{Query: "anxiety coping", Hits: []string{"chunk-1", "chunk-2"}}

	require.True(t, c.Set("search:abc", stored, 0))

	value, found := c.Get("search:abc")
	require.True(t, found)

	raw, ok := value.(json.RawMessage)
	require.True(t, ok, "durable cache returns serialized values")

	var loaded payload
	require.NoError(t, json.Unmarshal(raw, &loaded))
	assert.Equal(t, stored, loaded)
}

func TestCacheMissingKey(t *testing.T) {
	c := openTestCache(t, 0)

	_, found := c.Get("never-stored")
	assert.False(t, found)
}

func TestCacheArbitraryKeys(t *testing.T) {
	c := openTestCache(t, 0)

	keys := []string{
		strings.Repeat("long-key-segment/", 50),
		"unicode-ключ-鍵-🔑",
		"embed:" + strings.Repeat("a", 1000),
	}
	for i, key := range keys {
		require.True(t, c.Set(key, i, 0))
	}
	for i, key := range keys {
		value, found := c.Get(key)
		require.True(t, found, "key %q should round trip", key)

		var n int
		require.NoError(t, json.Unmarshal(value.(json.RawMessage), &n))
		assert.Equal(t, i, n)
	}
}

func TestCacheExpiry(t *testing.T) {
	c := openTestCache(t, 0)

	require.True(t, c.Set("short-lived", "value", 10*time.Millisecond))

	_, found := c.Get("short-lived")
	require.True(t, found)

	time.Sleep(25 * time.Millisecond)

	_, found = c.Get("short-lived")
	assert.False(t, found, "expired entries behave as absent")
}

func TestCacheZeroTTLPersists(t *testing.T) {
	c := openTestCache(t, 0)

	require.True(t, c.Set("pinned", "value", 0))
	time.Sleep(15 * time.Millisecond)

	_, found := c.Get("pinned")
	assert.True(t, found)
}

func TestCacheDelete(t *testing.T) {
	c := openTestCache(t, 0)

	require.True(t, c.Set("k", "v", 0))
	assert.True(t, c.Delete("k"))
	assert.False(t, c.Delete("k"))

	_, found := c.Get("k")
	assert.False(t, found)
}

func TestCacheClear(t *testing.T) {
	c := openTestCache(t, 0)

	for i := 0; i < 5; i++ {
		require.True(t, c.Set(fmt.Sprintf("key-%d", i), i, 0))
	}

	assert.True(t, c.Clear())
	assert.Zero(t, c.TotalBytes())

	_, found := c.Get("key-0")
	assert.False(t, found)
}

func TestCacheTrimEvictsOldest(t *testing.T) {
	const maxBytes = 8192
	c := openTestCache(t, maxBytes)

	value := strings.Repeat("x", 256)
	for i := 0; i < 40; i++ {
		require.True(t, c.Set(fmt.Sprintf("key-%d", i), value, 0))
		// Distinct access stamps keep the eviction order unambiguous.
		time.Sleep(time.Millisecond)
	}

	trimLimit := float64(maxBytes) * trimTarget
	assert.LessOrEqual(t, c.TotalBytes(), int64(trimLimit))

	for i := 0; i < 10; i++ {
		_, found := c.Get(fmt.Sprintf("key-%d", i))
		assert.False(t, found, "key-%d should have been trimmed", i)
	}
	for i := 37; i < 40; i++ {
		_, found := c.Get(fmt.Sprintf("key-%d", i))
		assert.True(t, found, "key-%d should have survived", i)
	}
}

func TestCacheGetProtectsFromTrim(t *testing.T) {
	const maxBytes = 8192
	c := openTestCache(t, maxBytes)

	value := strings.Repeat("x", 256)
	require.True(t, c.Set("protected", value, 0))

	for i := 0; i < 40; i++ {
		require.True(t, c.Set(fmt.Sprintf("key-%d", i), value, 0))
		_, found := c.Get("protected")
		require.True(t, found, "refreshed entry must not be evicted")
		time.Sleep(time.Millisecond)
	}

	_, found := c.Get("protected")
	assert.True(t, found)
	_, found = c.Get("key-0")
	assert.False(t, found)
}

func TestCacheAccountingRebuiltOnReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	c, err := Open(path, 0)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.True(t, c.Set(fmt.Sprintf("key-%d", i), strings.Repeat("v", 100), 0))
	}
	before := c.TotalBytes()
	require.NoError(t, c.Close())

	reopened, err := Open(path, 0)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, before, reopened.TotalBytes())

	value, found := reopened.Get("key-3")
	require.True(t, found)
	var s string
	require.NoError(t, json.Unmarshal(value.(json.RawMessage), &s))
	assert.Equal(t, strings.Repeat("v", 100), s)
}

func TestCacheCorruptEntryTreatedAsMiss(t *testing.T) {
	c := openTestCache(t, 0)

	require.True(t, c.Set("good", "value", 0))

	err := c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(entriesBucket).Put(hashKey("bad"), []byte("{not json"))
	})
	require.NoError(t, err)

	_, found := c.Get("bad")
	assert.False(t, found, "undecodable entries degrade to a miss")

	// The corrupt entry is removed rather than retried forever.
	err = c.db.View(func(tx *bbolt.Tx) error {
		assert.Nil(t, tx.Bucket(entriesBucket).Get(hashKey("bad")))
		return nil
	})
	require.NoError(t, err)

	_, found = c.Get("good")
	assert.True(t, found)
}
