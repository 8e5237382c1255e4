package memory

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheSetGet(t *testing.T) {
	c := New(10)

	ok := c.Set("greeting", "hello", 0)
	require.True(t, ok)

	value, found := c.Get("greeting")
	require.True(t, found)
	assert.Equal(t, "hello", value)

	_, found = c.Get("absent")
	assert.False(t, found)
}

func TestCacheUpdateInPlace(t *testing.T) {
	c := New(2)

	require.True(t, c.Set("k", 1, 0))
	require.True(t, c.Set("k", 2, 0))

	value, found := c.Get("k")
	require.True(t, found)
	assert.Equal(t, 2, value)
	assert.Equal(t, 1, c.Len())
}

func TestCacheTTLExpiry(t *testing.T) {
	c := New(10)
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	require.True(t, c.Set("short", "value", time.Minute))

	// Still fresh just before the deadline.
	clock = clock.Add(59 * time.Second)
	_, found := c.Get("short")
	assert.True(t, found)

	// Expired entries are removed on access, not just hidden.
	clock = clock.Add(2 * time.Second)
	_, found = c.Get("short")
	assert.False(t, found)
	assert.Equal(t, 0, c.Len())
}

func TestCacheZeroTTLNeverExpires(t *testing.T) {
	c := New(10)
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	require.True(t, c.Set("pinned", "value", 0))

	clock = clock.Add(1000 * time.Hour)
	_, found := c.Get("pinned")
	assert.True(t, found)
}

func TestCacheLRUEviction(t *testing.T) {
	c := New(3)

	require.True(t, c.Set("a", 1, 0))
	require.True(t, c.Set("b", 2, 0))
	require.True(t, c.Set("c", 3, 0))

	// Touch "a" so "b" becomes the least recently used entry.
	_, found := c.Get("a")
	require.True(t, found)

	require.True(t, c.Set("d", 4, 0))

	_, found = c.Get("b")
	assert.False(t, found, "least recently used entry should be evicted")

	for _, key := range []string{"a", "c", "d"} {
		_, found := c.Get(key)
		assert.True(t, found, "expected %q to survive eviction", key)
	}
	assert.Equal(t, 3, c.Len())
}

func TestCacheEvictionOrderFollowsAccess(t *testing.T) {
	c := New(2)

	require.True(t, c.Set("first", 1, 0))
	require.True(t, c.Set("second", 2, 0))

	// Re-setting an existing key counts as an access.
	require.True(t, c.Set("first", 10, 0))
	require.True(t, c.Set("third", 3, 0))

	_, found := c.Get("second")
	assert.False(t, found)
	value, found := c.Get("first")
	require.True(t, found)
	assert.Equal(t, 10, value)
}

func TestCacheDelete(t *testing.T) {
	c := New(10)

	require.True(t, c.Set("k", "v", 0))
	assert.True(t, c.Delete("k"))
	assert.False(t, c.Delete("k"), "deleting an absent key reports false")

	_, found := c.Get("k")
	assert.False(t, found)
}

func TestCacheClear(t *testing.T) {
	c := New(10)

	for i := 0; i < 5; i++ {
		require.True(t, c.Set(fmt.Sprintf("key-%d", i), i, 0))
	}
	require.Equal(t, 5, c.Len())

	assert.True(t, c.Clear())
	assert.Equal(t, 0, c.Len())

	_, found := c.Get("key-0")
	assert.False(t, found)
}

func TestCacheDefaultCapacity(t *testing.T) {
	c := New(0)
	assert.Equal(t, DefaultMaxEntries, c.maxEntries)
}
