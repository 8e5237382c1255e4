package config

// Config represents the top-level configuration for the layermem library.
type Config struct {
	// DataDir is the root directory for layer files, collection files, and
	// other local storage
	DataDir string `yaml:"data_dir"`

	// Embedding configures the embedding provider
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Knowledge configures the vector knowledge store
	Knowledge KnowledgeConfig `yaml:"knowledge"`

	// Cache configures the cache pool
	Cache CacheConfig `yaml:"cache"`

	// Batch configures the bounded worker pool
	Batch BatchConfig `yaml:"batch"`

	// Retrieval configures layered context retrieval
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Reflection configures the reflection cycle
	Reflection ReflectionConfig `yaml:"reflection"`

	// Session configures session/message persistence
	Session SessionConfig `yaml:"session"`

	// Scripting configures the Lua hook engine
	Scripting ScriptingConfig `yaml:"scripting"`

	// Logging configures the logging behavior
	Logging LoggingConfig `yaml:"logging"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider selects the embedding backend ("hash", "openai")
	Provider string `yaml:"provider"`

	// Dimensions is the embedding dimensionality; constant per collection
	Dimensions int `yaml:"dimensions"`

	// OpenAI configures the OpenAI embedding provider
	OpenAI OpenAIConfig `yaml:"openai"`
}

// OpenAIConfig configures OpenAI embedding integration.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key (OPENAI_API_KEY overrides)
	APIKey string `yaml:"api_key"`

	// EmbeddingModel is the model used for generating embeddings
	EmbeddingModel string `yaml:"embedding_model"`
}

// KnowledgeConfig configures the vector knowledge store.
type KnowledgeConfig struct {
	// Store selects the backend ("native", "chromem", "pgvector")
	Store string `yaml:"store"`

	// ChunkSize is the default chunk window in characters
	ChunkSize int `yaml:"chunk_size"`

	// ChunkOverlap is the default overlap between consecutive chunks
	ChunkOverlap int `yaml:"chunk_overlap"`

	// SearchLimit is the default maximum number of search results
	SearchLimit int `yaml:"search_limit"`

	// SearchThreshold is the default minimum similarity for search results
	SearchThreshold float64 `yaml:"search_threshold"`

	// Native configures the built-in file-backed index
	Native NativeConfig `yaml:"native"`

	// Chromem configures chromem-go storage
	Chromem ChromemConfig `yaml:"chromem"`

	// PgVector configures PostgreSQL pgvector storage
	PgVector PgVectorConfig `yaml:"pgvector"`
}

// NativeConfig configures the built-in file-backed vector index.
type NativeConfig struct {
	// MaxLoadedCollections caps the number of memory-resident collections;
	// least-recently-used collections beyond the cap are evicted to disk
	MaxLoadedCollections int `yaml:"max_loaded_collections"`
}

// ChromemConfig configures chromem-go vector storage.
type ChromemConfig struct {
	// Path is the on-disk storage location (empty means in-memory)
	Path string `yaml:"path"`

	// Compress enables gzip compression of persisted documents
	Compress bool `yaml:"compress"`
}

// PgVectorConfig configures PostgreSQL with the pgvector extension.
type PgVectorConfig struct {
	// ConnectionString is the PostgreSQL connection string (PGVECTOR_URL overrides)
	ConnectionString string `yaml:"connection_string"`

	// TablePrefix prefixes the collections and chunks tables
	TablePrefix string `yaml:"table_prefix"`
}

// CacheConfig configures the process-wide cache pool.
type CacheConfig struct {
	// Backend selects the cache backend ("memory", "bolt")
	Backend string `yaml:"backend"`

	// Memory configures the in-memory backend
	Memory MemoryCacheConfig `yaml:"memory"`

	// Bolt configures the durable bbolt backend
	Bolt BoltCacheConfig `yaml:"bolt"`

	// EmbeddingTTLSeconds is the TTL for cached embeddings
	EmbeddingTTLSeconds int `yaml:"embedding_ttl_seconds"`

	// SearchTTLSeconds is the TTL for cached index searches
	SearchTTLSeconds int `yaml:"search_ttl_seconds"`

	// RetrievalTTLSeconds is the TTL for cached whole-query retrievals
	RetrievalTTLSeconds int `yaml:"retrieval_ttl_seconds"`

	// SimilarityTTLSeconds is the TTL for cached similarity scores
	SimilarityTTLSeconds int `yaml:"similarity_ttl_seconds"`
}

// MemoryCacheConfig configures the in-memory cache backend.
type MemoryCacheConfig struct {
	// MaxEntries bounds each cache; least-recently-used entries are evicted
	MaxEntries int `yaml:"max_entries"`
}

// BoltCacheConfig configures the durable bbolt cache backend.
type BoltCacheConfig struct {
	// Path is the bbolt database file (defaults under data_dir)
	Path string `yaml:"path"`

	// MaxBytes is the byte budget; a cleanup pass trims to ~80% once exceeded
	MaxBytes int64 `yaml:"max_bytes"`
}

// BatchConfig configures the bounded worker pool.
type BatchConfig struct {
	// Workers is the maximum number of concurrent workers
	Workers int `yaml:"workers"`
}

// RetrievalConfig configures layered context retrieval.
type RetrievalConfig struct {
	// DefaultMaxTokens is the token budget used when a caller passes zero
	DefaultMaxTokens int `yaml:"default_max_tokens"`
}

// ReflectionConfig configures the reflection cycle.
type ReflectionConfig struct {
	// Enabled determines whether reflection prompts are offered
	Enabled bool `yaml:"enabled"`

	// Frequency is the number of interactions between reflection cycles
	Frequency int `yaml:"frequency"`

	// RecentInteractions is how many recent exchanges feed the prompt
	RecentInteractions int `yaml:"recent_interactions"`
}

// SessionConfig configures session/message persistence.
type SessionConfig struct {
	// Store selects the backend ("", "sqlite", "postgres"); empty disables
	// session persistence
	Store string `yaml:"store"`

	// SQLite configures the SQLite store
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Postgres configures the PostgreSQL store
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig configures SQLite session storage.
type SQLiteConfig struct {
	// Path is the database file (defaults under data_dir)
	Path string `yaml:"path"`
}

// PostgresConfig configures PostgreSQL session storage.
type PostgresConfig struct {
	// DSN is the data source name (LAYERMEM_SESSION_DSN overrides)
	DSN string `yaml:"dsn"`
}

// ScriptingConfig configures the Lua hook engine.
type ScriptingConfig struct {
	// Enabled turns hook execution on; hooks are fail-open either way
	Enabled bool `yaml:"enabled"`

	// Paths is a list of directories containing Lua scripts
	Paths []string `yaml:"paths"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	// Level is the logging level ("debug", "info", "warn", "error")
	Level string `yaml:"level"`

	// Format is the output format ("text", "json")
	Format string `yaml:"format"`
}
