package knowledge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindsim/layermem/pkg/cache"
	"github.com/mindsim/layermem/pkg/cache/memory"
)

func TestMatchesFilter(t *testing.T) {
	metadata := map[string]any{
		"source":   "intake-notes",
		"year":     float64(2024),
		"reviewed": true,
	}

	tests := []struct {
		name   string
		filter map[string]any
		want   bool
	}{
		{
			name:   "nil filter matches everything",
			filter: nil,
			want:   true,
		},
		{
			name:   "empty filter matches everything",
			filter: map[string]any{},
			want:   true,
		},
		{
			name:   "equality match",
			filter: map[string]any{"source": "intake-notes"},
			want:   true,
		},
		{
			name:   "equality mismatch",
			filter: map[string]any{"source": "session-notes"},
			want:   false,
		},
		{
			name:   "absent key excludes",
			filter: map[string]any{"author": "anyone"},
			want:   false,
		},
		{
			name:   "list membership",
			filter: map[string]any{"source": []any{"session-notes", "intake-notes"}},
			want:   true,
		},
		{
			name:   "list without the value",
			filter: map[string]any{"source": []any{"session-notes", "summaries"}},
			want:   false,
		},
		{
			name:   "string list membership",
			filter: map[string]any{"source": []string{"intake-notes"}},
			want:   true,
		},
		{
			name:   "numeric equality across int and float",
			filter: map[string]any{"year": 2024},
			want:   true,
		},
		{
			name:   "numeric list membership",
			filter: map[string]any{"year": []any{2023, 2024}},
			want:   true,
		},
		{
			name:   "bool equality",
			filter: map[string]any{"reviewed": true},
			want:   true,
		},
		{
			name:   "number never equals string",
			filter: map[string]any{"year": "2024"},
			want:   false,
		},
		{
			name:   "all entries must match",
			filter: map[string]any{"source": "intake-notes", "reviewed": false},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchesFilter(metadata, tt.filter))
		})
	}
}

// recordingStore counts Search calls so caching behavior is observable.
type recordingStore struct {
	searches int
	results  []SearchResult
}

func (s *recordingStore) CreateCollection(_ context.Context, _, _ string) (bool, error) {
	return true, nil
}

func (s *recordingStore) AddDocument(_ context.Context, _, _, _ string, _ map[string]any, _ AddOptions) ([]string, error) {
	return nil, nil
}

func (s *recordingStore) Search(_ context.Context, _, _ string, _ SearchOptions) ([]SearchResult, error) {
	s.searches++
	return s.results, nil
}

func (s *recordingStore) DeleteDocument(_ context.Context, _, _ string) (bool, error) {
	return true, nil
}

func (s *recordingStore) OptimizeMemory(_ context.Context) (OptimizeReport, error) {
	return OptimizeReport{}, nil
}

func (s *recordingStore) Close() error { return nil }

func TestCachedStoreSearchHitsSkipInner(t *testing.T) {
	inner := &recordingStore{results: []SearchResult{
		{ChunkID: "c1", DocumentID: "d1", Text: "grounding techniques", Similarity: 0.9},
	}}
	cached := NewCachedStore(inner, cache.NewManager(memory.New(100), cache.TTLPolicy{}))

	ctx := context.Background()
	opts := SearchOptions{Limit: 3}

	first, err := cached.Search(ctx, "persona_alice", "grounding", opts)
	require.NoError(t, err)

	second, err := cached.Search(ctx, "persona_alice", "grounding", opts)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.searches, "an identical query within the TTL must not reach the index")
}

func TestCachedStoreDistinctQueriesMiss(t *testing.T) {
	inner := &recordingStore{}
	cached := NewCachedStore(inner, cache.NewManager(memory.New(100), cache.TTLPolicy{}))

	ctx := context.Background()

	_, err := cached.Search(ctx, "persona_alice", "grounding", SearchOptions{Limit: 3})
	require.NoError(t, err)
	_, err = cached.Search(ctx, "persona_alice", "grounding", SearchOptions{Limit: 5})
	require.NoError(t, err)
	_, err = cached.Search(ctx, "persona_bob", "grounding", SearchOptions{Limit: 3})
	require.NoError(t, err)

	assert.Equal(t, 3, inner.searches, "limit and collection are part of the cache key")
}

func TestCachedStoreExpiredEntryMisses(t *testing.T) {
	inner := &recordingStore{}
	cached := NewCachedStore(inner, cache.NewManager(memory.New(100), cache.TTLPolicy{Search: 10 * time.Millisecond}))

	ctx := context.Background()

	_, err := cached.Search(ctx, "persona_alice", "sleep hygiene", SearchOptions{})
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)

	_, err = cached.Search(ctx, "persona_alice", "sleep hygiene", SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.searches)
}
