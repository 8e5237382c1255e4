// Package index implements the native knowledge store: one JSON file per
// collection under a data directory, held memory-resident up to an LRU cap
// and evicted back to disk beyond it. Every mutation rewrites the owning
// collection file in full.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mindsim/layermem/pkg/cache"
	"github.com/mindsim/layermem/pkg/embedding"
	"github.com/mindsim/layermem/pkg/errors"
	"github.com/mindsim/layermem/pkg/log"
	"github.com/mindsim/layermem/pkg/mem/knowledge"
)

// DefaultMaxLoadedCollections caps the resident set when the config leaves it
// unset.
const DefaultMaxLoadedCollections = 8

// DefaultSearchLimit bounds Search when neither options nor config set one.
const DefaultSearchLimit = 5

// Config holds the settings for a native index store.
type Config struct {
	// Path is the directory collection files live in
	Path string

	// Provider embeds documents and queries
	Provider embedding.Provider

	// ChunkSize and ChunkOverlap are the default chunking parameters
	ChunkSize    int
	ChunkOverlap int

	// SearchLimit and SearchThreshold are the default search parameters
	SearchLimit     int
	SearchThreshold float64

	// MaxLoadedCollections caps how many collections stay memory-resident
	MaxLoadedCollections int

	// Caches, when set, memoizes per-query chunk scoring
	Caches *cache.Manager
}

// collection is the on-disk and in-memory representation of one collection.
type collection struct {
	Name        string                         `json:"name"`
	Description string                         `json:"description,omitempty"`
	CreatedAt   time.Time                      `json:"created_at"`
	UpdatedAt   time.Time                      `json:"updated_at"`
	Documents   map[string]*knowledge.Document `json:"documents"`
	Chunks      []*knowledge.Chunk             `json:"chunks"`

	dirty   bool
	lastUse uint64
}

// Store is the native knowledge store. All exported methods are safe for
// concurrent use; unexported helpers with the Locked suffix assume the store
// mutex is held.
type Store struct {
	mu        sync.Mutex
	path      string
	provider  embedding.Provider
	chunkSize int
	overlap   int
	limit     int
	threshold float64
	maxLoaded int
	caches    *cache.Manager

	resident map[string]*collection
	seq      uint64
}

// New creates a native index store rooted at cfg.Path, creating the
// directory if needed.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "index path cannot be empty")
	}
	if cfg.Provider == nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "embedding provider cannot be nil")
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = embedding.DefaultChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 10
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = DefaultSearchLimit
	}
	if cfg.MaxLoadedCollections <= 0 {
		cfg.MaxLoadedCollections = DefaultMaxLoadedCollections
	}

	return &Store{
		path:      cfg.Path,
		provider:  cfg.Provider,
		chunkSize: cfg.ChunkSize,
		overlap:   cfg.ChunkOverlap,
		limit:     cfg.SearchLimit,
		threshold: cfg.SearchThreshold,
		maxLoaded: cfg.MaxLoadedCollections,
		caches:    cfg.Caches,
		resident:  make(map[string]*collection),
	}, nil
}

// CreateCollection creates a named collection file. It returns false when the
// collection already exists, resident or on disk.
func (s *Store) CreateCollection(ctx context.Context, name, description string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.existsLocked(name) {
		return false, nil
	}

	now := time.Now().UTC()
	col := &collection{
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
		Documents:   make(map[string]*knowledge.Document),
	}
	if err := s.persistLocked(col); err != nil {
		return false, err
	}
	s.admitLocked(col)

	log.Debug("Created collection", "collection", name)
	return true, nil
}

// AddDocument chunks and embeds content, replacing any chunks previously
// stored for docID. It returns the new chunk IDs, or an empty slice when the
// collection does not exist.
func (s *Store) AddDocument(ctx context.Context, collectionName, docID, content string, metadata map[string]any, opts knowledge.AddOptions) ([]string, error) {
	if docID == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "document ID cannot be empty")
	}

	s.mu.Lock()
	_, found := s.loadLocked(collectionName)
	s.mu.Unlock()
	if !found {
		log.Debug("AddDocument on missing collection", "collection", collectionName, "document_id", docID)
		return []string{}, nil
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = s.chunkSize
	}
	overlap := opts.ChunkOverlap
	if overlap <= 0 || overlap >= chunkSize {
		overlap = s.overlap
	}

	// Embedding may call out to a remote provider, so it happens outside
	// the store lock.
	embedded, err := embedding.EmbedDocument(ctx, s.provider, content, chunkSize, overlap)
	if err != nil {
		return nil, errors.Wrap(err, "failed to embed document")
	}

	now := time.Now().UTC()
	chunks := make([]*knowledge.Chunk, len(embedded))
	chunkIDs := make([]string, len(embedded))
	for i, ec := range embedded {
		id := uuid.New().String()
		chunks[i] = &knowledge.Chunk{
			ID:         id,
			DocumentID: docID,
			Text:       ec.Text,
			Position:   ec.Position,
			Embedding:  ec.Vector,
			CreatedAt:  now,
		}
		chunkIDs[i] = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	col, found := s.loadLocked(collectionName)
	if !found {
		return []string{}, nil
	}

	s.removeChunksLocked(col, docID)

	createdAt := now
	if existing, ok := col.Documents[docID]; ok {
		createdAt = existing.CreatedAt
	}
	col.Documents[docID] = &knowledge.Document{
		ID:        docID,
		Metadata:  metadata,
		CreatedAt: createdAt,
		Size:      len(chunks),
	}
	col.Chunks = append(col.Chunks, chunks...)
	col.UpdatedAt = now
	col.dirty = true

	if err := s.persistLocked(col); err != nil {
		return nil, err
	}

	log.Debug("Added document",
		"collection", collectionName,
		"document_id", docID,
		"chunks", len(chunkIDs))
	return chunkIDs, nil
}

// Search embeds query and returns the best-matching chunks after metadata
// filtering, threshold pruning, and the limit cut. Scoring for a given
// (collection, query, filter) triple is memoized when a cache manager is
// configured.
func (s *Store) Search(ctx context.Context, collectionName, query string, opts knowledge.SearchOptions) ([]knowledge.SearchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = s.limit
	}
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = s.threshold
	}

	queryVec, err := s.provider.Embed(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to embed query")
	}

	var cacheKey string
	if s.caches != nil {
		cacheKey = cache.Key("index.scores", collectionName, query, opts.FilterMetadata)
		if raw, ok := s.caches.Backend.Get(cacheKey); ok {
			if scored, ok := decodeScored(raw); ok {
				return cutResults(scored, threshold, limit), nil
			}
		}
	}

	s.mu.Lock()
	col, found := s.loadLocked(collectionName)
	if !found {
		s.mu.Unlock()
		log.Debug("Search on missing collection", "collection", collectionName)
		return nil, nil
	}
	scored := scoreChunks(col, queryVec, opts.FilterMetadata)
	s.mu.Unlock()

	if s.caches != nil {
		s.caches.Backend.Set(cacheKey, scored, s.caches.TTL.Similarity)
	}
	return cutResults(scored, threshold, limit), nil
}

// DeleteDocument removes docID and its chunks from the collection. It
// reports whether the document was present.
func (s *Store) DeleteDocument(ctx context.Context, collectionName, docID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, found := s.loadLocked(collectionName)
	if !found {
		return false, nil
	}
	if _, ok := col.Documents[docID]; !ok {
		return false, nil
	}

	s.removeChunksLocked(col, docID)
	delete(col.Documents, docID)
	col.UpdatedAt = time.Now().UTC()
	col.dirty = true

	if err := s.persistLocked(col); err != nil {
		return false, err
	}

	log.Debug("Deleted document", "collection", collectionName, "document_id", docID)
	return true, nil
}

// OptimizeMemory quantizes every uncompressed embedding in the resident
// collections and evicts least-recently-used collections beyond the resident
// cap, reporting both counts.
func (s *Store) OptimizeMemory(ctx context.Context) (knowledge.OptimizeReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report knowledge.OptimizeReport
	for _, col := range s.resident {
		changed := 0
		for _, chunk := range col.Chunks {
			if chunk.Embedding.Compressed() || chunk.Embedding.IsZero() {
				continue
			}
			chunk.Embedding = chunk.Embedding.Compress()
			changed++
		}
		if changed > 0 {
			col.dirty = true
			report.VectorsCompressed += changed
		}
	}

	for _, col := range s.resident {
		if !col.dirty {
			continue
		}
		if err := s.persistLocked(col); err != nil {
			return report, err
		}
	}

	for len(s.resident) > s.maxLoaded {
		if !s.evictColdestLocked() {
			break
		}
		report.CollectionsEvicted++
	}

	log.Info("Optimized index memory",
		"vectors_compressed", report.VectorsCompressed,
		"collections_evicted", report.CollectionsEvicted,
		"resident", len(s.resident))
	return report, nil
}

// Close persists every dirty resident collection and releases the resident
// set.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, col := range s.resident {
		if !col.dirty {
			continue
		}
		if err := s.persistLocked(col); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.resident = make(map[string]*collection)
	return firstErr
}

// existsLocked reports whether a collection is resident or on disk.
func (s *Store) existsLocked(name string) bool {
	if _, ok := s.resident[name]; ok {
		return true
	}
	_, err := os.Stat(s.filePath(name))
	return err == nil
}

// loadLocked returns the named collection, reading it from disk when not
// resident. A missing file is a plain not-found; an unreadable or
// undecodable file is logged and treated as not found so reads degrade
// rather than fail.
func (s *Store) loadLocked(name string) (*collection, bool) {
	if col, ok := s.resident[name]; ok {
		s.touchLocked(col)
		return col, true
	}
	if validateName(name) != nil {
		return nil, false
	}

	data, err := os.ReadFile(s.filePath(name))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("Failed to read collection file", "collection", name, "error", err)
		}
		return nil, false
	}

	var col collection
	if err := json.Unmarshal(data, &col); err != nil {
		log.Warn("Failed to decode collection file", "collection", name, "error", err)
		return nil, false
	}
	if col.Documents == nil {
		col.Documents = make(map[string]*knowledge.Document)
	}

	s.admitLocked(&col)
	return &col, true
}

// admitLocked makes col resident, evicting the least-recently-used
// collection when the cap is exceeded.
func (s *Store) admitLocked(col *collection) {
	s.resident[col.Name] = col
	s.touchLocked(col)
	for len(s.resident) > s.maxLoaded {
		if !s.evictColdestLocked() {
			break
		}
	}
}

func (s *Store) touchLocked(col *collection) {
	s.seq++
	col.lastUse = s.seq
}

// evictColdestLocked persists and releases the least-recently-used resident
// collection. A collection whose persist fails stays resident so no data is
// lost; the failure is logged and eviction reports false.
func (s *Store) evictColdestLocked() bool {
	var coldest *collection
	for _, col := range s.resident {
		if coldest == nil || col.lastUse < coldest.lastUse {
			coldest = col
		}
	}
	if coldest == nil {
		return false
	}
	if coldest.dirty {
		if err := s.persistLocked(coldest); err != nil {
			log.Error("Failed to persist collection during eviction; keeping resident",
				"collection", coldest.Name, "error", err)
			return false
		}
	}
	delete(s.resident, coldest.Name)
	log.Debug("Evicted collection from memory", "collection", coldest.Name)
	return true
}

// persistLocked rewrites the collection file in full, via a temp file so a
// crashed write never truncates the previous state.
func (s *Store) persistLocked(col *collection) error {
	data, err := json.MarshalIndent(col, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode collection %s: %w", col.Name, err)
	}

	path := s.filePath(col.Name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write collection %s: %w", col.Name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace collection %s: %w", col.Name, err)
	}

	col.dirty = false
	return nil
}

// removeChunksLocked drops every chunk belonging to docID.
func (s *Store) removeChunksLocked(col *collection, docID string) {
	kept := col.Chunks[:0]
	for _, chunk := range col.Chunks {
		if chunk.DocumentID != docID {
			kept = append(kept, chunk)
		}
	}
	col.Chunks = kept
}

func (s *Store) filePath(name string) string {
	return filepath.Join(s.path, name+".json")
}

// scoreChunks scores every chunk in col against queryVec, dropping documents
// that fail the metadata filter, and returns the results sorted by
// descending similarity. Ties keep chunk order, which follows insertion.
func scoreChunks(col *collection, queryVec embedding.Vector, filter map[string]any) []knowledge.SearchResult {
	scored := make([]knowledge.SearchResult, 0, len(col.Chunks))
	for _, chunk := range col.Chunks {
		var meta map[string]any
		if doc, ok := col.Documents[chunk.DocumentID]; ok {
			meta = doc.Metadata
		}
		if !knowledge.MatchesFilter(meta, filter) {
			continue
		}
		scored = append(scored, knowledge.SearchResult{
			ChunkID:          chunk.ID,
			DocumentID:       chunk.DocumentID,
			Text:             chunk.Text,
			Similarity:       embedding.CosineSimilarity(queryVec, chunk.Embedding),
			Position:         chunk.Position,
			DocumentMetadata: meta,
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	return scored
}

// cutResults applies the threshold and limit to an already sorted score
// list.
func cutResults(scored []knowledge.SearchResult, threshold float64, limit int) []knowledge.SearchResult {
	results := make([]knowledge.SearchResult, 0, limit)
	for _, r := range scored {
		if r.Similarity < threshold {
			break
		}
		results = append(results, r)
		if len(results) == limit {
			break
		}
	}
	return results
}

func decodeScored(raw any) ([]knowledge.SearchResult, bool) {
	switch v := raw.(type) {
	case []knowledge.SearchResult:
		return v, true
	case json.RawMessage:
		var scored []knowledge.SearchResult
		if err := json.Unmarshal(v, &scored); err == nil {
			return scored, true
		}
	case []byte:
		var scored []knowledge.SearchResult
		if err := json.Unmarshal(v, &scored); err == nil {
			return scored, true
		}
	}
	return nil, false
}

// validateName rejects collection names that cannot serve as file names.
func validateName(name string) error {
	if name == "" {
		return errors.Wrap(errors.ErrInvalidInput, "collection name cannot be empty")
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return errors.Wrap(errors.ErrInvalidInput, "collection name %q contains path characters", name)
	}
	return nil
}
