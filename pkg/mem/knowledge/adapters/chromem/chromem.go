// Package chromem implements the knowledge store on philippgille/chromem-go.
// Chunks live in chromem collections; document-level bookkeeping (typed
// metadata, chunk ownership) lives in a JSON manifest next to the chromem
// data, because chromem metadata is string-valued and chunk-scoped.
package chromem

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	chromemgo "github.com/philippgille/chromem-go"

	"github.com/mindsim/layermem/pkg/embedding"
	"github.com/mindsim/layermem/pkg/errors"
	"github.com/mindsim/layermem/pkg/log"
	"github.com/mindsim/layermem/pkg/mem/knowledge"
)

// metaKeyPrefix namespaces flattened document metadata on chunk records so it
// can never collide with the reserved document_id and position keys.
const metaKeyPrefix = "meta_"

// Config holds the settings for a chromem-backed store.
type Config struct {
	// Path is the chromem persistence directory; empty runs in memory
	Path string

	// Compress enables gzip compression of persisted collections
	Compress bool

	// Provider embeds documents and queries
	Provider embedding.Provider

	// ChunkSize and ChunkOverlap are the default chunking parameters
	ChunkSize    int
	ChunkOverlap int

	// SearchLimit and SearchThreshold are the default search parameters
	SearchLimit     int
	SearchThreshold float64
}

type manifestDocument struct {
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	ChunkIDs  []string       `json:"chunk_ids"`
}

type manifestCollection struct {
	Description string                       `json:"description,omitempty"`
	CreatedAt   time.Time                    `json:"created_at"`
	Documents   map[string]*manifestDocument `json:"documents"`
}

// Store implements knowledge.Store over a chromem database.
type Store struct {
	mu           sync.Mutex
	db           *chromemgo.DB
	provider     embedding.Provider
	manifestPath string
	manifest     map[string]*manifestCollection
	chunkSize    int
	overlap      int
	limit        int
	threshold    float64
}

// New opens (or creates) a chromem store. With an empty path the database is
// purely in-memory, which is what the tests use.
func New(cfg Config) (*Store, error) {
	if cfg.Provider == nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "embedding provider cannot be nil")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = embedding.DefaultChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 10
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 5
	}

	var db *chromemgo.DB
	var manifestPath string
	if cfg.Path == "" {
		db = chromemgo.NewDB()
	} else {
		var err error
		db, err = chromemgo.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open chromem database")
		}
		// Kept as a sibling of the chromem directory, which chromem owns
		// and scans for its collection layout.
		manifestPath = filepath.Clean(cfg.Path) + ".manifest.json"
	}

	s := &Store{
		db:           db,
		provider:     cfg.Provider,
		manifestPath: manifestPath,
		manifest:     make(map[string]*manifestCollection),
		chunkSize:    cfg.ChunkSize,
		overlap:      cfg.ChunkOverlap,
		limit:        cfg.SearchLimit,
		threshold:    cfg.SearchThreshold,
	}
	s.loadManifest()
	return s, nil
}

// CreateCollection creates a chromem collection, returning false when it
// already exists.
func (s *Store) CreateCollection(ctx context.Context, name, description string) (bool, error) {
	if name == "" {
		return false, errors.Wrap(errors.ErrInvalidInput, "collection name cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db.GetCollection(name, s.embeddingFunc()) != nil {
		return false, nil
	}

	meta := map[string]string{}
	if description != "" {
		meta["description"] = description
	}
	if _, err := s.db.CreateCollection(name, meta, s.embeddingFunc()); err != nil {
		return false, errors.Wrap(err, "failed to create collection %s", name)
	}

	s.manifest[name] = &manifestCollection{
		Description: description,
		CreatedAt:   time.Now().UTC(),
		Documents:   make(map[string]*manifestDocument),
	}
	if err := s.persistManifestLocked(); err != nil {
		return false, err
	}

	log.Debug("Created collection", "collection", name, "backend", "chromem")
	return true, nil
}

// AddDocument chunks and embeds content, replacing any chunks previously
// stored for docID. It returns the new chunk IDs, or an empty slice when the
// collection does not exist.
func (s *Store) AddDocument(ctx context.Context, collectionName, docID, content string, metadata map[string]any, opts knowledge.AddOptions) ([]string, error) {
	if docID == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "document ID cannot be empty")
	}

	col := s.db.GetCollection(collectionName, s.embeddingFunc())
	if col == nil {
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

	embedded, err := embedding.EmbedDocument(ctx, s.provider, content, chunkSize, overlap)
	if err != nil {
		return nil, errors.Wrap(err, "failed to embed document")
	}

	chunkMeta := map[string]string{"document_id": docID}
	for k, v := range metadata {
		if str, ok := v.(string); ok {
			chunkMeta[metaKeyPrefix+k] = str
		}
	}

	docs := make([]chromemgo.Document, len(embedded))
	chunkIDs := make([]string, len(embedded))
	for i, ec := range embedded {
		id := uuid.New().String()
		meta := make(map[string]string, len(chunkMeta)+1)
		for k, v := range chunkMeta {
			meta[k] = v
		}
		meta["position"] = strconv.Itoa(ec.Position)
		docs[i] = chromemgo.Document{
			ID:        id,
			Metadata:  meta,
			Embedding: ec.Vector.Floats(),
			Content:   ec.Text,
		}
		chunkIDs[i] = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.manifestCollectionLocked(collectionName)
	if prev, ok := entry.Documents[docID]; ok && len(prev.ChunkIDs) > 0 {
		if err := col.Delete(ctx, nil, nil, prev.ChunkIDs...); err != nil {
			return nil, errors.Wrap(err, "failed to delete previous chunks for %s", docID)
		}
	}

	if len(docs) > 0 {
		if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return nil, errors.Wrap(err, "failed to add chunks for %s", docID)
		}
	}

	createdAt := time.Now().UTC()
	if prev, ok := entry.Documents[docID]; ok {
		createdAt = prev.CreatedAt
	}
	entry.Documents[docID] = &manifestDocument{
		Metadata:  metadata,
		CreatedAt: createdAt,
		ChunkIDs:  chunkIDs,
	}
	if err := s.persistManifestLocked(); err != nil {
		return nil, err
	}

	log.Debug("Added document",
		"collection", collectionName,
		"document_id", docID,
		"chunks", len(chunkIDs),
		"backend", "chromem")
	return chunkIDs, nil
}

// Search embeds query and returns the best-matching chunks. String-valued
// equality filters are pushed down to chromem; list membership and non-string
// equality are applied client-side against the manifest metadata.
func (s *Store) Search(ctx context.Context, collectionName, query string, opts knowledge.SearchOptions) ([]knowledge.SearchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = s.limit
	}
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = s.threshold
	}

	col := s.db.GetCollection(collectionName, s.embeddingFunc())
	if col == nil {
		log.Debug("Search on missing collection", "collection", collectionName, "backend", "chromem")
		return nil, nil
	}
	count := col.Count()
	if count == 0 {
		return nil, nil
	}

	queryVec, err := s.provider.Embed(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to embed query")
	}

	where := map[string]string{}
	clientSide := false
	for k, v := range opts.FilterMetadata {
		if str, ok := v.(string); ok {
			where[metaKeyPrefix+k] = str
		} else {
			clientSide = true
		}
	}
	if len(where) == 0 {
		where = nil
	}

	nResults := limit
	if clientSide || nResults > count {
		nResults = count
	}

	hits, err := col.QueryEmbedding(ctx, queryVec.Floats(), nResults, where, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query collection %s", collectionName)
	}

	s.mu.Lock()
	entry := s.manifest[collectionName]
	s.mu.Unlock()

	results := make([]knowledge.SearchResult, 0, limit)
	for _, hit := range hits {
		similarity := float64(hit.Similarity)
		if similarity < threshold {
			break
		}

		docID := hit.Metadata["document_id"]
		var meta map[string]any
		if entry != nil {
			if doc, ok := entry.Documents[docID]; ok {
				meta = doc.Metadata
			}
		}
		if !knowledge.MatchesFilter(meta, opts.FilterMetadata) {
			continue
		}

		position, _ := strconv.Atoi(hit.Metadata["position"])
		results = append(results, knowledge.SearchResult{
			ChunkID:          hit.ID,
			DocumentID:       docID,
			Text:             hit.Content,
			Similarity:       similarity,
			Position:         position,
			DocumentMetadata: meta,
		})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// DeleteDocument removes docID's chunks and manifest entry, reporting
// whether the document was present.
func (s *Store) DeleteDocument(ctx context.Context, collectionName, docID string) (bool, error) {
	col := s.db.GetCollection(collectionName, s.embeddingFunc())
	if col == nil {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.manifest[collectionName]
	if entry == nil {
		return false, nil
	}
	doc, ok := entry.Documents[docID]
	if !ok {
		return false, nil
	}

	if len(doc.ChunkIDs) > 0 {
		if err := col.Delete(ctx, nil, nil, doc.ChunkIDs...); err != nil {
			return false, errors.Wrap(err, "failed to delete chunks for %s", docID)
		}
	}
	delete(entry.Documents, docID)
	if err := s.persistManifestLocked(); err != nil {
		return false, err
	}

	log.Debug("Deleted document", "collection", collectionName, "document_id", docID, "backend", "chromem")
	return true, nil
}

// OptimizeMemory is a no-op for chromem, which owns its storage layout and
// persistence format. The report carries honest zeros.
func (s *Store) OptimizeMemory(ctx context.Context) (knowledge.OptimizeReport, error) {
	log.Debug("OptimizeMemory is a no-op for the chromem backend")
	return knowledge.OptimizeReport{}, nil
}

// Close persists the manifest. The chromem database itself persists
// incrementally and needs no shutdown step.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistManifestLocked()
}

func (s *Store) embeddingFunc() chromemgo.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		v, err := s.provider.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		return v.Floats(), nil
	}
}

// manifestCollectionLocked returns the manifest entry for name, creating an
// empty one when the manifest lost track of a collection chromem still has.
func (s *Store) manifestCollectionLocked(name string) *manifestCollection {
	entry, ok := s.manifest[name]
	if !ok {
		entry = &manifestCollection{
			CreatedAt: time.Now().UTC(),
			Documents: make(map[string]*manifestDocument),
		}
		s.manifest[name] = entry
	}
	return entry
}

// loadManifest reads the manifest file. A missing file starts empty; an
// unreadable one is logged and starts empty so reads degrade rather than
// fail.
func (s *Store) loadManifest() {
	if s.manifestPath == "" {
		return
	}
	data, err := os.ReadFile(s.manifestPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("Failed to read chromem manifest", "path", s.manifestPath, "error", err)
		}
		return
	}
	if err := json.Unmarshal(data, &s.manifest); err != nil {
		log.Warn("Failed to decode chromem manifest", "path", s.manifestPath, "error", err)
		s.manifest = make(map[string]*manifestCollection)
	}
}

func (s *Store) persistManifestLocked() error {
	if s.manifestPath == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.manifest, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode chromem manifest")
	}
	tmp := s.manifestPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write chromem manifest")
	}
	if err := os.Rename(tmp, s.manifestPath); err != nil {
		return errors.Wrap(err, "failed to replace chromem manifest")
	}
	return nil
}
