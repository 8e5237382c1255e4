// Package embedding provides text chunking, pluggable embedding providers,
// and similarity scoring over raw or compressed vectors.
package embedding

import (
	"context"
)

// Provider generates fixed-dimensionality embedding vectors from text.
// Implementations must be deterministic for identical input; collection
// storage and retrieval caching rely on it. Swapping providers requires no
// other code changes as long as dimensionality stays consistent within a
// collection.
type Provider interface {
	// Embed returns the embedding for a single text.
	Embed(ctx context.Context, text string) (Vector, error)

	// EmbedBatch returns one embedding per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([]Vector, error)

	// Dimensions returns the vector dimensionality.
	Dimensions() int
}

// EmbeddedChunk is one chunk of a document with its embedding, before any ID
// assignment.
type EmbeddedChunk struct {
	Text     string
	Position int
	Vector   Vector
}

// EmbedDocument chunks text and embeds all chunks in a single batch call.
// Empty text yields zero chunks, not an error.
func EmbedDocument(ctx context.Context, p Provider, text string, chunkSize, overlap int) ([]EmbeddedChunk, error) {
	chunks := ChunkText(text, chunkSize, overlap)
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := p.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	embedded := make([]EmbeddedChunk, len(chunks))
	for i, c := range chunks {
		embedded[i] = EmbeddedChunk{
			Text:     c.Text,
			Position: c.Position,
			Vector:   vectors[i],
		}
	}
	return embedded, nil
}
