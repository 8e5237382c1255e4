package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mindsim/layermem/pkg/errors"
)

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from a byte slice.
func LoadFromBytes(data []byte) (*Config, error) {
	var config Config

	err := yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvironmentOverrides(&config)

	// Validate configuration; errors wrap errors.ErrInvalidConfig
	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Default returns a configuration with every default applied, suitable for
// running without a config file. Environment overrides still apply; Default
// panics when they demand an unusable setup, such as a pgvector store with
// no connection string.
func Default() *Config {
	config := &Config{}
	applyEnvironmentOverrides(config)
	if err := validateConfig(config); err != nil {
		panic(err)
	}
	return config
}

// Validate checks a hand-built configuration and fills defaults for zero
// values, exactly as the Load functions do. Errors wrap errors.ErrInvalidConfig.
func Validate(config *Config) error {
	return validateConfig(config)
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
func applyEnvironmentOverrides(config *Config) {
	// Data directory override
	if dir := os.Getenv("LAYERMEM_DATA_DIR"); dir != "" {
		config.DataDir = dir
	}

	// Knowledge store override
	if store := os.Getenv("LAYERMEM_KNOWLEDGE_STORE"); store != "" {
		config.Knowledge.Store = store
	}

	// PgVector connection string override
	if connStr := os.Getenv("PGVECTOR_URL"); connStr != "" {
		config.Knowledge.PgVector.ConnectionString = connStr
	}

	// Session store DSN override
	if dsn := os.Getenv("LAYERMEM_SESSION_DSN"); dsn != "" {
		config.Session.Postgres.DSN = dsn
	}

	// OpenAI API key override
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.Embedding.OpenAI.APIKey = apiKey
	}
}

// validateConfig validates the configuration and fills defaults for zero values.
func validateConfig(config *Config) error {
	if config.DataDir == "" {
		config.DataDir = "./data"
	}

	// Validate embedding configuration
	switch strings.ToLower(config.Embedding.Provider) {
	case "", "hash":
		config.Embedding.Provider = "hash"
		if config.Embedding.Dimensions <= 0 {
			config.Embedding.Dimensions = 384
		}
	case "openai":
		if config.Embedding.OpenAI.EmbeddingModel == "" {
			config.Embedding.OpenAI.EmbeddingModel = "text-embedding-3-small"
		}
		if config.Embedding.Dimensions <= 0 {
			config.Embedding.Dimensions = 1536
		}
		// API key can arrive via OPENAI_API_KEY, so it is not required here
	default:
		return errors.Wrap(errors.ErrInvalidConfig, "unsupported embedding provider: %s", config.Embedding.Provider)
	}

	// Validate knowledge store configuration
	if config.Knowledge.ChunkSize <= 0 {
		config.Knowledge.ChunkSize = 500
	}
	if config.Knowledge.ChunkOverlap < 0 || config.Knowledge.ChunkOverlap >= config.Knowledge.ChunkSize {
		config.Knowledge.ChunkOverlap = config.Knowledge.ChunkSize / 10
	}
	if config.Knowledge.SearchLimit <= 0 {
		config.Knowledge.SearchLimit = 5
	}
	if config.Knowledge.SearchThreshold < 0 {
		config.Knowledge.SearchThreshold = 0
	}

	switch strings.ToLower(config.Knowledge.Store) {
	case "", "native":
		config.Knowledge.Store = "native"
		if config.Knowledge.Native.MaxLoadedCollections <= 0 {
			config.Knowledge.Native.MaxLoadedCollections = 8
		}
	case "chromem":
		// An empty path means in-memory storage; nothing to validate
	case "pgvector":
		if config.Knowledge.PgVector.ConnectionString == "" {
			return errors.Wrap(errors.ErrInvalidConfig, "connection string is required for pgvector knowledge store")
		}
		if config.Knowledge.PgVector.TablePrefix == "" {
			config.Knowledge.PgVector.TablePrefix = "layermem"
		}
	default:
		return errors.Wrap(errors.ErrInvalidConfig, "unsupported knowledge store: %s", config.Knowledge.Store)
	}

	// Validate cache configuration
	switch strings.ToLower(config.Cache.Backend) {
	case "", "memory":
		config.Cache.Backend = "memory"
		if config.Cache.Memory.MaxEntries <= 0 {
			config.Cache.Memory.MaxEntries = 1000
		}
	case "bolt":
		if config.Cache.Bolt.Path == "" {
			config.Cache.Bolt.Path = filepath.Join(config.DataDir, "cache.db")
		}
		if config.Cache.Bolt.MaxBytes <= 0 {
			config.Cache.Bolt.MaxBytes = 10 * 1024 * 1024
		}
	default:
		return errors.Wrap(errors.ErrInvalidConfig, "unsupported cache backend: %s", config.Cache.Backend)
	}

	if config.Cache.EmbeddingTTLSeconds <= 0 {
		config.Cache.EmbeddingTTLSeconds = 3600
	}
	if config.Cache.SearchTTLSeconds <= 0 {
		config.Cache.SearchTTLSeconds = 300
	}
	if config.Cache.RetrievalTTLSeconds <= 0 {
		config.Cache.RetrievalTTLSeconds = 60
	}
	if config.Cache.SimilarityTTLSeconds <= 0 {
		config.Cache.SimilarityTTLSeconds = 300
	}

	// Validate batch configuration
	if config.Batch.Workers <= 0 {
		config.Batch.Workers = 4
	}

	// Validate retrieval configuration
	if config.Retrieval.DefaultMaxTokens <= 0 {
		config.Retrieval.DefaultMaxTokens = 2000
	}

	// Validate reflection configuration
	if config.Reflection.Frequency <= 0 {
		config.Reflection.Frequency = 5
	}
	if config.Reflection.RecentInteractions <= 0 {
		config.Reflection.RecentInteractions = 3
	}

	// Validate session configuration
	switch strings.ToLower(config.Session.Store) {
	case "":
		// Session persistence disabled
	case "sqlite":
		if config.Session.SQLite.Path == "" {
			config.Session.SQLite.Path = filepath.Join(config.DataDir, "sessions.db")
		}
	case "postgres":
		if config.Session.Postgres.DSN == "" {
			return errors.Wrap(errors.ErrInvalidConfig, "postgres DSN is required for postgres session store")
		}
	default:
		return errors.Wrap(errors.ErrInvalidConfig, "unsupported session store: %s", config.Session.Store)
	}

	// Validate scripting configuration
	if config.Scripting.Enabled && len(config.Scripting.Paths) == 0 {
		return errors.Wrap(errors.ErrInvalidConfig, "scripting is enabled but no script paths are configured")
	}

	return nil
}
