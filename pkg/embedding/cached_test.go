package embedding

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindsim/layermem/pkg/cache/memory"
)

type countingProvider struct {
	embedCalls int
	batchCalls int
	batchSizes []int
}

func (p *countingProvider) Embed(_ context.Context, text string) (Vector, error) {
	p.embedCalls++
	return vectorFor(text), nil
}

func (p *countingProvider) EmbedBatch(_ context.Context, texts []string) ([]Vector, error) {
	p.batchCalls++
	p.batchSizes = append(p.batchSizes, len(texts))
	vectors := make([]Vector, len(texts))
	for i, text := range texts {
		vectors[i] = vectorFor(text)
	}
	return vectors, nil
}

func (p *countingProvider) Dimensions() int { return 4 }

func vectorFor(text string) Vector {
	values := make([]float32, 4)
	for i, r := range text {
		values[i%4] += float32(r)
	}
	return New(values)
}

func TestCachedProviderEmbedHitsSkipProvider(t *testing.T) {
	inner := &countingProvider{}
	p := NewCachedProvider(inner, memory.New(100), time.Minute)

	first, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)

	second, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.embedCalls)

	_, err = p.Embed(context.Background(), "different")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.embedCalls)
}

func TestCachedProviderBatchForwardsOnlyMisses(t *testing.T) {
	inner := &countingProvider{}
	p := NewCachedProvider(inner, memory.New(100), time.Minute)

	ctx := context.Background()

	_, err := p.Embed(ctx, "alpha")
	require.NoError(t, err)
	_, err = p.Embed(ctx, "gamma")
	require.NoError(t, err)

	vectors, err := p.EmbedBatch(ctx, []string{"alpha", "beta", "gamma", "delta"})
	require.NoError(t, err)
	require.Len(t, vectors, 4)

	require.Equal(t, 1, inner.batchCalls)
	assert.Equal(t, []int{2}, inner.batchSizes, "only beta and delta should reach the provider")

	// Results keep input order regardless of which entries were cached.
	assert.Equal(t, vectorFor("alpha"), vectors[0])
	assert.Equal(t, vectorFor("beta"), vectors[1])
	assert.Equal(t, vectorFor("gamma"), vectors[2])
	assert.Equal(t, vectorFor("delta"), vectors[3])
}

func TestCachedProviderBatchAllHits(t *testing.T) {
	inner := &countingProvider{}
	p := NewCachedProvider(inner, memory.New(100), time.Minute)

	ctx := context.Background()
	_, err := p.EmbedBatch(ctx, []string{"one", "two"})
	require.NoError(t, err)

	_, err = p.EmbedBatch(ctx, []string{"one", "two"})
	require.NoError(t, err)

	assert.Equal(t, 1, inner.batchCalls, "a fully cached batch must not call the provider")
}

func TestCachedProviderDimensions(t *testing.T) {
	p := NewCachedProvider(&countingProvider{}, memory.New(10), time.Minute)
	assert.Equal(t, 4, p.Dimensions())
}
