package cache

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	boltcache "github.com/mindsim/layermem/pkg/cache/bolt"
	"github.com/mindsim/layermem/pkg/cache/memory"
)

func TestKeyDeterministic(t *testing.T) {
	first := Key("search", "persona_alice", "coping strategies", 5)
	second := Key("search", "persona_alice", "coping strategies", 5)
	assert.Equal(t, first, second)

	assert.True(t, strings.HasPrefix(first, "search:"))
}

func TestKeyDistinguishesInputs(t *testing.T) {
	base := Key("search", "persona_alice", "query")

	assert.NotEqual(t, base, Key("search", "persona_bob", "query"))
	assert.NotEqual(t, base, Key("search", "persona_alice", "other"))
	assert.NotEqual(t, base, Key("retrieve", "persona_alice", "query"))
	assert.NotEqual(t, Key("f", 1, 2), Key("f", 2, 1))
}

func TestWrapInvokesOncePerArgument(t *testing.T) {
	calls := 0
	double := func(n int) (int, error) {
		calls++
		return n * 2, nil
	}
	cached := Wrap(memory.New(10), "double", time.Minute, double)

	v, err := cached(21)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = cached(21)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls, "a hit must not invoke the wrapped function")

	v, err = cached(5)
	require.NoError(t, err)
	assert.Equal(t, 10, v)
	assert.Equal(t, 2, calls)
}

func TestWrapExpiredEntryRecomputes(t *testing.T) {
	calls := 0
	fn := func(s string) (string, error) {
		calls++
		return strings.ToUpper(s), nil
	}
	cached := Wrap(memory.New(10), "upper", 10*time.Millisecond, fn)

	_, err := cached("hi")
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)

	v, err := cached("hi")
	require.NoError(t, err)
	assert.Equal(t, "HI", v)
	assert.Equal(t, 2, calls, "an expired entry counts as a miss")
}

func TestWrapDoesNotCacheErrors(t *testing.T) {
	calls := 0
	flaky := func(n int) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("transient failure")
		}
		return n, nil
	}
	cached := Wrap(memory.New(10), "flaky", time.Minute, flaky)

	_, err := cached(7)
	require.Error(t, err)

	v, err := cached(7)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = cached(7)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "the recovered result should now be served from cache")
}

func TestWrapDurableBackendDecodes(t *testing.T) {
	backend, err := boltcache.Open(filepath.Join(t.TempDir(), "cache.db"), 0)
	require.NoError(t, err)
	defer backend.Close()

	type result struct {
		Query string  `json:"query"`
		Score float64 `json:"score"`
	}

	calls := 0
	fn := func(q string) (result, error) {
		calls++
		return result{Query: q, Score: 0.87}, nil
	}
	cached := Wrap[string, result](backend, "score", time.Minute, fn)

	first, err := cached("resilience")
	require.NoError(t, err)

	second, err := cached("resilience")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls, "serialized hits decode without recomputation")
}

func TestNewManagerFillsDefaults(t *testing.T) {
	m := NewManager(memory.New(10), TTLPolicy{Search: time.Second})

	defaults := DefaultTTLPolicy()
	assert.Equal(t, time.Second, m.TTL.Search)
	assert.Equal(t, defaults.Embedding, m.TTL.Embedding)
	assert.Equal(t, defaults.Similarity, m.TTL.Similarity)
	assert.Equal(t, defaults.Retrieval, m.TTL.Retrieval)
}
