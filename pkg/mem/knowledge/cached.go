package knowledge

import (
	"context"
	"encoding/json"

	"github.com/mindsim/layermem/pkg/cache"
)

// CachedStore wraps a Store with search-result caching. Hits are served
// without touching the underlying index; entries age out on the cache
// manager's search TTL, so mutations become visible within that window.
// All other operations delegate unchanged.
type CachedStore struct {
	inner  Store
	caches *cache.Manager
}

// NewCachedStore wraps inner with caching over caches.
func NewCachedStore(inner Store, caches *cache.Manager) *CachedStore {
	return &CachedStore{inner: inner, caches: caches}
}

// CreateCollection delegates to the wrapped store.
func (s *CachedStore) CreateCollection(ctx context.Context, name, description string) (bool, error) {
	return s.inner.CreateCollection(ctx, name, description)
}

// AddDocument delegates to the wrapped store.
func (s *CachedStore) AddDocument(ctx context.Context, collection, docID, content string, metadata map[string]any, opts AddOptions) ([]string, error) {
	return s.inner.AddDocument(ctx, collection, docID, content, metadata, opts)
}

// Search returns cached results when an identical query was answered within
// the TTL window, and stores fresh results otherwise.
func (s *CachedStore) Search(ctx context.Context, collection, query string, opts SearchOptions) ([]SearchResult, error) {
	key := cache.Key("knowledge.search", collection, query, opts)

	if raw, ok := s.caches.Backend.Get(key); ok {
		if results, ok := decodeResults(raw); ok {
			return results, nil
		}
	}

	results, err := s.inner.Search(ctx, collection, query, opts)
	if err != nil {
		return nil, err
	}
	s.caches.Backend.Set(key, results, s.caches.TTL.Search)
	return results, nil
}

// DeleteDocument delegates to the wrapped store.
func (s *CachedStore) DeleteDocument(ctx context.Context, collection, docID string) (bool, error) {
	return s.inner.DeleteDocument(ctx, collection, docID)
}

// OptimizeMemory delegates to the wrapped store.
func (s *CachedStore) OptimizeMemory(ctx context.Context) (OptimizeReport, error) {
	return s.inner.OptimizeMemory(ctx)
}

// Close closes the wrapped store.
func (s *CachedStore) Close() error {
	return s.inner.Close()
}

func decodeResults(raw any) ([]SearchResult, bool) {
	switch v := raw.(type) {
	case []SearchResult:
		return v, true
	case json.RawMessage:
		var results []SearchResult
		if err := json.Unmarshal(v, &results); err == nil {
			return results, true
		}
	case []byte:
		var results []SearchResult
		if err := json.Unmarshal(v, &results); err == nil {
			return results, true
		}
	}
	return nil, false
}
