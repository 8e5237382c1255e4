// Package knowledge defines the vector index: persona-scoped collections of
// documents split into embedded chunks, searched by cosine similarity with
// metadata filtering. Adapters provide the storage: a native file-backed
// index, chromem-go, or PostgreSQL with pgvector.
package knowledge

import (
	"context"
	"reflect"
	"time"

	"github.com/mindsim/layermem/pkg/embedding"
)

// Chunk is one embedded slice of a document. Chunks are immutable once
// created except for in-place embedding compression.
type Chunk struct {
	// ID is a unique identifier for the chunk
	ID string `json:"id"`

	// DocumentID is the document this chunk was split from
	DocumentID string `json:"document_id"`

	// Text is the chunk content
	Text string `json:"text"`

	// Position is the 0-based order of the chunk within its document
	Position int `json:"position"`

	// Embedding is the vector representation, raw or compressed
	Embedding embedding.Vector `json:"embedding"`

	// CreatedAt is when the chunk was created
	CreatedAt time.Time `json:"created_at"`
}

// Document is the registration record for stored content. The chunk set
// belonging to a document is always replaced as a whole; there is no partial
// chunk update.
type Document struct {
	// ID is the caller-assigned document identifier
	ID string `json:"id"`

	// Metadata is arbitrary structured data attached to the document and
	// returned with every search hit
	Metadata map[string]any `json:"metadata,omitempty"`

	// CreatedAt is when the document was first added
	CreatedAt time.Time `json:"created_at"`

	// Size is the number of chunks currently stored for the document
	Size int `json:"size"`
}

// SearchResult is one scored chunk returned from Search, ordered by
// descending similarity.
type SearchResult struct {
	ChunkID          string         `json:"chunk_id"`
	DocumentID       string         `json:"document_id"`
	Text             string         `json:"text"`
	Similarity       float64        `json:"similarity"`
	Position         int            `json:"position"`
	DocumentMetadata map[string]any `json:"document_metadata,omitempty"`
}

// SearchOptions controls a Search call. Zero values fall back to the
// adapter's configured defaults.
type SearchOptions struct {
	// Limit is the maximum number of results
	Limit int `json:"limit"`

	// Threshold drops results whose similarity is below it
	Threshold float64 `json:"threshold"`

	// FilterMetadata restricts results to documents matching every entry;
	// see MatchesFilter for the semantics
	FilterMetadata map[string]any `json:"filter_metadata,omitempty"`
}

// AddOptions controls how AddDocument splits content. Zero values fall back
// to the adapter's configured chunking defaults.
type AddOptions struct {
	ChunkSize    int
	ChunkOverlap int
}

// OptimizeReport summarizes one OptimizeMemory pass.
type OptimizeReport struct {
	// VectorsCompressed is the number of embeddings quantized in place
	VectorsCompressed int `json:"vectors_compressed"`

	// CollectionsEvicted is the number of collections written to disk and
	// released from memory
	CollectionsEvicted int `json:"collections_evicted"`
}

// Store is the interface every vector index adapter implements.
//
// Absence is not an error: operations on a missing collection or document
// return empty results or false with a nil error. Errors are reserved for
// infrastructure failures.
type Store interface {
	// CreateCollection creates a named collection. It returns false with a
	// nil error when the collection already exists.
	CreateCollection(ctx context.Context, name, description string) (bool, error)

	// AddDocument chunks and embeds content, replacing any chunk set
	// previously stored for docID, and returns the new chunk IDs. It
	// returns an empty slice when the collection does not exist.
	AddDocument(ctx context.Context, collection, docID, content string, metadata map[string]any, opts AddOptions) ([]string, error)

	// Search embeds query and returns the best-matching chunks after
	// metadata filtering and threshold pruning, best first. It returns an
	// empty slice when the collection does not exist.
	Search(ctx context.Context, collection, query string, opts SearchOptions) ([]SearchResult, error)

	// DeleteDocument removes docID and all of its chunks. It reports
	// whether the document was present.
	DeleteDocument(ctx context.Context, collection, docID string) (bool, error)

	// OptimizeMemory compresses stored embeddings and releases
	// least-recently-used collections from memory where the adapter holds
	// them resident.
	OptimizeMemory(ctx context.Context) (OptimizeReport, error)

	// Close releases the adapter's resources.
	Close() error
}

// MatchesFilter reports whether metadata satisfies filter. Every filter entry
// must match: a key absent from metadata fails, a list-valued filter entry
// passes when the metadata value equals any element, and any other value
// requires equality. A nil or empty filter matches everything.
func MatchesFilter(metadata, filter map[string]any) bool {
	for key, want := range filter {
		got, ok := metadata[key]
		if !ok {
			return false
		}
		if !matchesValue(got, want) {
			return false
		}
	}
	return true
}

func matchesValue(got, want any) bool {
	if list, ok := want.([]any); ok {
		for _, candidate := range list {
			if equalValues(got, candidate) {
				return true
			}
		}
		return false
	}
	if list, ok := want.([]string); ok {
		for _, candidate := range list {
			if equalValues(got, candidate) {
				return true
			}
		}
		return false
	}
	return equalValues(got, want)
}

// equalValues compares two metadata values, treating all numeric types as
// float64 the way a JSON round trip would.
func equalValues(a, b any) bool {
	na, aok := asFloat(a)
	nb, bok := asFloat(b)
	if aok || bok {
		return aok && bok && na == nb
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
