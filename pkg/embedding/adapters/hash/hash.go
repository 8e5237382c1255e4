// Package hash provides a deterministic, dependency-free embedding provider.
// Vectors are derived from an FNV-1a hash of the input text, so identical
// text always embeds identically. The vectors carry no semantic meaning; the
// provider exists for offline runs and tests, and as the default backend.
package hash

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/mindsim/layermem/pkg/embedding"
)

// DefaultDimensions matches common sentence-transformer output sizes.
const DefaultDimensions = 384

// Provider implements embedding.Provider with hash-seeded pseudo-random
// unit vectors.
type Provider struct {
	dimensions int
}

// New creates a hash provider with the given dimensionality.
func New(dimensions int) *Provider {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &Provider{dimensions: dimensions}
}

// Embed creates a deterministic embedding from text.
func (p *Provider) Embed(_ context.Context, text string) (embedding.Vector, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	values := make([]float32, p.dimensions)
	for i := range values {
		// Linear congruential step over the hash seed
		seed = seed*6364136223846793005 + 1442695040888963407
		// Convert to [-1, 1] range
		values[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}

	return embedding.New(normalize(values)), nil
}

// EmbedBatch embeds each text independently; order is preserved.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([]embedding.Vector, error) {
	vectors := make([]embedding.Vector, len(texts))
	for i, text := range texts {
		v, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

// Dimensions returns the embedding size.
func (p *Provider) Dimensions() int {
	return p.dimensions
}

// normalize converts the vector to unit length.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}
