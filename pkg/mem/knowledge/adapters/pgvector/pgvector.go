// Package pgvector implements the knowledge store on PostgreSQL with the
// pgvector extension: chunks in a vector(n) column queried with the cosine
// distance operator, document metadata in JSONB.
package pgvector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/google/uuid"

	"github.com/mindsim/layermem/pkg/embedding"
	"github.com/mindsim/layermem/pkg/errors"
	"github.com/mindsim/layermem/pkg/log"
	"github.com/mindsim/layermem/pkg/mem/knowledge"
)

// DefaultTablePrefix namespaces the three tables when the config leaves it
// unset.
const DefaultTablePrefix = "layermem"

// Config holds the settings for a pgvector-backed store.
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// TablePrefix namespaces the collections, documents, and chunks tables
	TablePrefix string

	// Provider embeds documents and queries; its dimensionality fixes the
	// vector column width
	Provider embedding.Provider

	// ChunkSize and ChunkOverlap are the default chunking parameters
	ChunkSize    int
	ChunkOverlap int

	// SearchLimit and SearchThreshold are the default search parameters
	SearchLimit     int
	SearchThreshold float64
}

// Store implements knowledge.Store over PostgreSQL with pgvector.
type Store struct {
	db        *pgxpool.Pool
	prefix    string
	dims      int
	provider  embedding.Provider
	chunkSize int
	overlap   int
	limit     int
	threshold float64
}

// New connects to PostgreSQL, verifies the connection, and creates the
// schema if it does not exist.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ConnectionString == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "connection string cannot be empty")
	}
	if cfg.Provider == nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "embedding provider cannot be nil")
	}
	if cfg.TablePrefix == "" {
		cfg.TablePrefix = DefaultTablePrefix
	}
	if !validPrefix(cfg.TablePrefix) {
		return nil, errors.Wrap(errors.ErrInvalidInput, "table prefix %q must be lowercase letters, digits, or underscores", cfg.TablePrefix)
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

	db, err := pgxpool.New(ctx, cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	s := &Store{
		db:        db,
		prefix:    cfg.TablePrefix,
		dims:      cfg.Provider.Dimensions(),
		provider:  cfg.Provider,
		chunkSize: cfg.ChunkSize,
		overlap:   cfg.ChunkOverlap,
		limit:     cfg.SearchLimit,
		threshold: cfg.SearchThreshold,
	}
	if err := s.initializeSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize pgvector schema: %w", err)
	}
	return s, nil
}

func (s *Store) initializeSchema(ctx context.Context) error {
	var extensionExists bool
	err := s.db.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')").Scan(&extensionExists)
	if err != nil {
		return fmt.Errorf("failed to check for pgvector extension: %w", err)
	}
	if !extensionExists {
		if _, err := s.db.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
			return fmt.Errorf("failed to create pgvector extension: %w", err)
		}
		log.Info("Created pgvector extension")
	}

	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s_collections (
				name TEXT PRIMARY KEY,
				description TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			)
		`, s.prefix),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s_documents (
				collection TEXT NOT NULL,
				id TEXT NOT NULL,
				metadata JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (collection, id)
			)
		`, s.prefix),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s_chunks (
				id TEXT PRIMARY KEY,
				collection TEXT NOT NULL,
				document_id TEXT NOT NULL,
				position INTEGER NOT NULL,
				content TEXT NOT NULL,
				embedding VECTOR(%d) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			)
		`, s.prefix, s.dims),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_chunks_collection_idx ON %s_chunks (collection)", s.prefix, s.prefix),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_chunks_document_idx ON %s_chunks (collection, document_id)", s.prefix, s.prefix),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_chunks_embedding_idx ON %s_chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)", s.prefix, s.prefix),
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run schema statement: %w", err)
		}
	}
	return nil
}

// CreateCollection inserts the collection row, returning false when it
// already exists.
func (s *Store) CreateCollection(ctx context.Context, name, description string) (bool, error) {
	if name == "" {
		return false, errors.Wrap(errors.ErrInvalidInput, "collection name cannot be empty")
	}

	tag, err := s.db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s_collections (name, description, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO NOTHING
	`, s.prefix), name, description, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to create collection: %w", err)
	}
	created := tag.RowsAffected() == 1
	if created {
		log.Debug("Created collection", "collection", name, "backend", "pgvector")
	}
	return created, nil
}

// AddDocument chunks and embeds content, replacing any chunks previously
// stored for docID inside one transaction. It returns the new chunk IDs, or
// an empty slice when the collection does not exist.
func (s *Store) AddDocument(ctx context.Context, collection, docID, content string, metadata map[string]any, opts knowledge.AddOptions) ([]string, error) {
	if docID == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "document ID cannot be empty")
	}

	exists, err := s.collectionExists(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		log.Debug("AddDocument on missing collection", "collection", collection, "document_id", docID, "backend", "pgvector")
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
	for _, ec := range embedded {
		if ec.Vector.Dims() != s.dims {
			return nil, errors.Wrap(errors.ErrDimensionMismatch, "got %d, expected %d", ec.Vector.Dims(), s.dims)
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	now := time.Now().UTC()

	_, err = tx.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s_chunks WHERE collection = $1 AND document_id = $2
	`, s.prefix), collection, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete previous chunks: %w", err)
	}

	if metadata == nil {
		metadata = map[string]any{}
	}
	_, err = tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s_documents (collection, id, metadata, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (collection, id) DO UPDATE SET metadata = EXCLUDED.metadata
	`, s.prefix), collection, docID, metadata, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert document: %w", err)
	}

	chunkIDs := make([]string, len(embedded))
	for i, ec := range embedded {
		id := uuid.New().String()
		chunkIDs[i] = id
		_, err = tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s_chunks (id, collection, document_id, position, content, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6::vector, $7)
		`, s.prefix), id, collection, docID, ec.Position, ec.Text, embedToString(ec.Vector.Floats()), now)
		if err != nil {
			return nil, fmt.Errorf("failed to insert chunk: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Debug("Added document",
		"collection", collection,
		"document_id", docID,
		"chunks", len(chunkIDs),
		"backend", "pgvector")
	return chunkIDs, nil
}

// Search embeds query and ranks chunks with the cosine distance operator.
// String-valued equality filters are pushed into the WHERE clause; list
// membership and non-string equality are applied client-side after an
// unbounded ordered fetch.
func (s *Store) Search(ctx context.Context, collection, query string, opts knowledge.SearchOptions) ([]knowledge.SearchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = s.limit
	}
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = s.threshold
	}

	exists, err := s.collectionExists(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		log.Debug("Search on missing collection", "collection", collection, "backend", "pgvector")
		return nil, nil
	}

	queryVec, err := s.provider.Embed(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to embed query")
	}
	if queryVec.Dims() != s.dims {
		return nil, errors.Wrap(errors.ErrDimensionMismatch, "got %d, expected %d", queryVec.Dims(), s.dims)
	}

	conditions := []string{"c.collection = $2"}
	args := []any{embedToString(queryVec.Floats()), collection}
	clientSide := false
	for k, v := range opts.FilterMetadata {
		str, isString := v.(string)
		if !isString || !validKey(k) {
			clientSide = true
			continue
		}
		args = append(args, str)
		conditions = append(conditions, fmt.Sprintf("d.metadata->>'%s' = $%d", k, len(args)))
	}

	limitClause := fmt.Sprintf("LIMIT %d", limit)
	if clientSide {
		limitClause = ""
	}

	sqlQuery := fmt.Sprintf(`
		SELECT c.id, c.document_id, c.content, c.position, d.metadata,
		       1 - (c.embedding <=> $1::vector) AS similarity
		FROM %s_chunks c
		JOIN %s_documents d ON d.collection = c.collection AND d.id = c.document_id
		WHERE %s
		ORDER BY c.embedding <=> $1::vector
		%s
	`, s.prefix, s.prefix, strings.Join(conditions, " AND "), limitClause)

	rows, err := s.db.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to perform semantic search: %w", err)
	}
	defer rows.Close()

	results := make([]knowledge.SearchResult, 0, limit)
	for rows.Next() {
		var r knowledge.SearchResult
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.Text, &r.Position, &r.DocumentMetadata, &r.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if r.Similarity < threshold {
			break
		}
		if !knowledge.MatchesFilter(r.DocumentMetadata, opts.FilterMetadata) {
			continue
		}
		results = append(results, r)
		if len(results) == limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return results, nil
}

// DeleteDocument removes docID and its chunks in one transaction, reporting
// whether the document row was present.
func (s *Store) DeleteDocument(ctx context.Context, collection, docID string) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s_chunks WHERE collection = $1 AND document_id = $2
	`, s.prefix), collection, docID)
	if err != nil {
		return false, fmt.Errorf("failed to delete chunks: %w", err)
	}

	tag, err := tx.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s_documents WHERE collection = $1 AND id = $2
	`, s.prefix), collection, docID)
	if err != nil {
		return false, fmt.Errorf("failed to delete document: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	deleted := tag.RowsAffected() > 0
	if deleted {
		log.Debug("Deleted document", "collection", collection, "document_id", docID, "backend", "pgvector")
	}
	return deleted, nil
}

// OptimizeMemory is a no-op for pgvector, where storage lives server-side.
// The report carries honest zeros.
func (s *Store) OptimizeMemory(ctx context.Context) (knowledge.OptimizeReport, error) {
	log.Debug("OptimizeMemory is a no-op for the pgvector backend")
	return knowledge.OptimizeReport{}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

// DB returns the underlying pool, used by integration tests.
func (s *Store) DB() *pgxpool.Pool {
	return s.db
}

func (s *Store) collectionExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT EXISTS(SELECT 1 FROM %s_collections WHERE name = $1)
	`, s.prefix), name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check collection: %w", err)
	}
	return exists, nil
}

// embedToString converts a vector to pgvector's text representation.
func embedToString(values []float32) string {
	elements := make([]string, len(values))
	for i, v := range values {
		elements[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(elements, ",") + "]"
}

// validPrefix restricts table prefixes to safe identifier characters.
func validPrefix(prefix string) bool {
	for _, r := range prefix {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}

// validKey restricts pushed-down metadata keys to safe identifier
// characters; anything else is filtered client-side instead.
func validKey(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' && r != '-' {
			return false
		}
	}
	return true
}
