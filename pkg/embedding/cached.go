package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mindsim/layermem/pkg/cache"
)

// CachedProvider wraps a Provider with result caching. Identical texts embed
// once per TTL window; batch calls only forward the texts that miss. The
// cache key incorporates the wrapped provider's type and dimensionality so
// two differently configured providers sharing a backend never collide.
type CachedProvider struct {
	inner Provider
	cache cache.Cache
	ttl   time.Duration
	scope string
}

// NewCachedProvider wraps inner with caching over c, storing vectors for ttl.
func NewCachedProvider(inner Provider, c cache.Cache, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		inner: inner,
		cache: c,
		ttl:   ttl,
		scope: fmt.Sprintf("%T/%d", inner, inner.Dimensions()),
	}
}

// Embed returns the embedding for text, from cache when available.
func (p *CachedProvider) Embed(ctx context.Context, text string) (Vector, error) {
	key := cache.Key("embedding", p.scope, text)

	if v, ok := p.lookup(key); ok {
		return v, nil
	}

	v, err := p.inner.Embed(ctx, text)
	if err != nil {
		return Vector{}, err
	}
	p.cache.Set(key, v, p.ttl)
	return v, nil
}

// EmbedBatch embeds texts, forwarding only cache misses to the wrapped
// provider in a single call. Results keep the order of texts.
func (p *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	results := make([]Vector, len(texts))
	keys := make([]string, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		keys[i] = cache.Key("embedding", p.scope, text)
		if v, ok := p.lookup(keys[i]); ok {
			results[i] = v
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) == 0 {
		return results, nil
	}

	vectors, err := p.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missing) {
		return nil, fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), len(missing))
	}
	for j, idx := range missingIdx {
		results[idx] = vectors[j]
		p.cache.Set(keys[idx], vectors[j], p.ttl)
	}
	return results, nil
}

// Dimensions reports the wrapped provider's dimensionality.
func (p *CachedProvider) Dimensions() int {
	return p.inner.Dimensions()
}

func (p *CachedProvider) lookup(key string) (Vector, bool) {
	raw, ok := p.cache.Get(key)
	if !ok {
		return Vector{}, false
	}
	switch v := raw.(type) {
	case Vector:
		return v, true
	case json.RawMessage:
		var out Vector
		if err := json.Unmarshal(v, &out); err == nil {
			return out, true
		}
	case []byte:
		var out Vector
		if err := json.Unmarshal(v, &out); err == nil {
			return out, true
		}
	}
	return Vector{}, false
}
