// Package layermem wires the embedding provider, knowledge store, caches,
// worker pool, and the optional session and scripting services into a single
// Runtime, and hands out per-persona Managers that run the four memory layers
// on top of those shared services.
package layermem

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/mindsim/layermem/pkg/batch"
	"github.com/mindsim/layermem/pkg/cache"
	"github.com/mindsim/layermem/pkg/cache/bolt"
	"github.com/mindsim/layermem/pkg/cache/memory"
	"github.com/mindsim/layermem/pkg/config"
	"github.com/mindsim/layermem/pkg/embedding"
	"github.com/mindsim/layermem/pkg/embedding/adapters/hash"
	"github.com/mindsim/layermem/pkg/embedding/adapters/openai"
	"github.com/mindsim/layermem/pkg/errors"
	"github.com/mindsim/layermem/pkg/log"
	"github.com/mindsim/layermem/pkg/mem/experience"
	"github.com/mindsim/layermem/pkg/mem/foundation"
	"github.com/mindsim/layermem/pkg/mem/knowledge"
	"github.com/mindsim/layermem/pkg/mem/knowledge/adapters/chromem"
	"github.com/mindsim/layermem/pkg/mem/knowledge/adapters/index"
	"github.com/mindsim/layermem/pkg/mem/knowledge/adapters/pgvector"
	"github.com/mindsim/layermem/pkg/mem/metacog"
	"github.com/mindsim/layermem/pkg/mem/synthesis"
	"github.com/mindsim/layermem/pkg/metrics"
	"github.com/mindsim/layermem/pkg/persona"
	"github.com/mindsim/layermem/pkg/scripting"
	"github.com/mindsim/layermem/pkg/session"
	sessionpostgres "github.com/mindsim/layermem/pkg/session/postgres"
	sessionsqlite "github.com/mindsim/layermem/pkg/session/sqlite"
)

// Components are the backing services a Runtime coordinates. Provider and
// Store are required; a nil Caches gets an in-memory default, a nil Monitor
// records nothing, and nil Sessions or Scripts leave those features off.
type Components struct {
	Provider embedding.Provider
	Store    knowledge.Store
	Caches   *cache.Manager
	Sessions session.Store
	Scripts  scripting.Engine
	Monitor  *metrics.Monitor
}

// Runtime owns the process-wide services shared by every persona Manager.
// Build one per process, hand out Managers, and Close it when done; Close
// also closes the injected components.
type Runtime struct {
	cfg      *config.Config
	provider embedding.Provider
	store    knowledge.Store
	caches   *cache.Manager
	pool     *batch.Processor
	monitor  *metrics.Monitor
	sessions session.Store
	scripts  scripting.Engine

	mu       sync.Mutex
	managers map[persona.ID]*Manager
	closed   bool
}

// NewRuntime assembles a runtime from explicit components. cfg is validated
// and zero values are filled with defaults; a nil cfg means all defaults.
func NewRuntime(cfg *config.Config, comps Components) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	} else if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if comps.Provider == nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "embedding provider is required")
	}
	if comps.Store == nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "knowledge store is required")
	}
	if comps.Caches == nil {
		comps.Caches = cache.NewManager(memory.New(cfg.Cache.Memory.MaxEntries), ttlPolicy(cfg))
	}

	r := &Runtime{
		cfg:      cfg,
		provider: comps.Provider,
		store:    comps.Store,
		caches:   comps.Caches,
		pool:     batch.New(cfg.Batch.Workers),
		monitor:  comps.Monitor,
		sessions: comps.Sessions,
		scripts:  comps.Scripts,
		managers: make(map[persona.ID]*Manager),
	}
	log.Debug("runtime created",
		"knowledge_store", cfg.Knowledge.Store,
		"cache_backend", cfg.Cache.Backend,
		"batch_workers", cfg.Batch.Workers)
	return r, nil
}

// NewRuntimeFromConfig builds every component the configuration names and
// assembles a runtime around them. The embedding provider is wrapped in the
// embedding cache and the knowledge store in the search cache, so callers
// get the cached paths without further wiring.
func NewRuntimeFromConfig(cfg *config.Config) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	} else if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	caches, err := initCaches(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize caches")
	}
	closeCaches := func() {
		if closer, ok := caches.Backend.(io.Closer); ok {
			closer.Close()
		}
	}

	provider, err := initProvider(cfg)
	if err != nil {
		closeCaches()
		return nil, errors.Wrap(err, "failed to initialize embedding provider")
	}
	cached := embedding.NewCachedProvider(provider, caches.Backend, caches.TTL.Embedding)

	store, err := initStore(cfg, cached, caches)
	if err != nil {
		closeCaches()
		return nil, errors.Wrap(err, "failed to initialize knowledge store")
	}

	sessions, err := initSessions(cfg)
	if err != nil {
		store.Close()
		closeCaches()
		return nil, errors.Wrap(err, "failed to initialize session store")
	}

	scripts, err := initScripts(cfg)
	if err != nil {
		if sessions != nil {
			sessions.Close()
		}
		store.Close()
		closeCaches()
		return nil, errors.Wrap(err, "failed to initialize scripting engine")
	}

	r, err := NewRuntime(cfg, Components{
		Provider: cached,
		Store:    knowledge.NewCachedStore(store, caches),
		Caches:   caches,
		Sessions: sessions,
		Scripts:  scripts,
		Monitor:  metrics.NewMonitor(),
	})
	if err != nil {
		return nil, err
	}

	log.Info("layermem runtime initialized",
		"data_dir", cfg.DataDir,
		"embedding_provider", cfg.Embedding.Provider,
		"knowledge_store", cfg.Knowledge.Store,
		"cache_backend", cfg.Cache.Backend,
		"session_store", cfg.Session.Store,
		"scripting", cfg.Scripting.Enabled)
	return r, nil
}

// NewRuntimeFromFile loads the configuration file at path and builds a
// runtime from it.
func NewRuntimeFromFile(path string) (*Runtime, error) {
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	return NewRuntimeFromConfig(cfg)
}

func ttlPolicy(cfg *config.Config) cache.TTLPolicy {
	return cache.TTLPolicy{
		Embedding:  time.Duration(cfg.Cache.EmbeddingTTLSeconds) * time.Second,
		Similarity: time.Duration(cfg.Cache.SimilarityTTLSeconds) * time.Second,
		Search:     time.Duration(cfg.Cache.SearchTTLSeconds) * time.Second,
		Retrieval:  time.Duration(cfg.Cache.RetrievalTTLSeconds) * time.Second,
	}
}

func initCaches(cfg *config.Config) (*cache.Manager, error) {
	var backend cache.Cache
	switch cfg.Cache.Backend {
	case "memory":
		backend = memory.New(cfg.Cache.Memory.MaxEntries)
	case "bolt":
		c, err := bolt.Open(cfg.Cache.Bolt.Path, cfg.Cache.Bolt.MaxBytes)
		if err != nil {
			return nil, err
		}
		backend = c
	default:
		return nil, errors.Wrap(errors.ErrInvalidConfig, "unsupported cache backend: %s", cfg.Cache.Backend)
	}
	return cache.NewManager(backend, ttlPolicy(cfg)), nil
}

func initProvider(cfg *config.Config) (embedding.Provider, error) {
	switch cfg.Embedding.Provider {
	case "hash":
		return hash.New(cfg.Embedding.Dimensions), nil
	case "openai":
		return openai.NewProvider(openai.Config{
			APIKey:         cfg.Embedding.OpenAI.APIKey,
			EmbeddingModel: cfg.Embedding.OpenAI.EmbeddingModel,
			Dimensions:     cfg.Embedding.Dimensions,
		})
	default:
		return nil, errors.Wrap(errors.ErrInvalidConfig, "unsupported embedding provider: %s", cfg.Embedding.Provider)
	}
}

func initStore(cfg *config.Config, provider embedding.Provider, caches *cache.Manager) (knowledge.Store, error) {
	switch cfg.Knowledge.Store {
	case "native":
		return index.New(index.Config{
			Path:                 filepath.Join(cfg.DataDir, "knowledge"),
			Provider:             provider,
			ChunkSize:            cfg.Knowledge.ChunkSize,
			ChunkOverlap:         cfg.Knowledge.ChunkOverlap,
			SearchLimit:          cfg.Knowledge.SearchLimit,
			SearchThreshold:      cfg.Knowledge.SearchThreshold,
			MaxLoadedCollections: cfg.Knowledge.Native.MaxLoadedCollections,
			Caches:               caches,
		})
	case "chromem":
		return chromem.New(chromem.Config{
			Path:            cfg.Knowledge.Chromem.Path,
			Compress:        cfg.Knowledge.Chromem.Compress,
			Provider:        provider,
			ChunkSize:       cfg.Knowledge.ChunkSize,
			ChunkOverlap:    cfg.Knowledge.ChunkOverlap,
			SearchLimit:     cfg.Knowledge.SearchLimit,
			SearchThreshold: cfg.Knowledge.SearchThreshold,
		})
	case "pgvector":
		return pgvector.New(context.Background(), pgvector.Config{
			ConnectionString: cfg.Knowledge.PgVector.ConnectionString,
			TablePrefix:      cfg.Knowledge.PgVector.TablePrefix,
			Provider:         provider,
			ChunkSize:        cfg.Knowledge.ChunkSize,
			ChunkOverlap:     cfg.Knowledge.ChunkOverlap,
			SearchLimit:      cfg.Knowledge.SearchLimit,
			SearchThreshold:  cfg.Knowledge.SearchThreshold,
		})
	default:
		return nil, errors.Wrap(errors.ErrInvalidConfig, "unsupported knowledge store: %s", cfg.Knowledge.Store)
	}
}

func initSessions(cfg *config.Config) (session.Store, error) {
	switch cfg.Session.Store {
	case "":
		return nil, nil
	case "sqlite":
		return sessionsqlite.New(cfg.Session.SQLite.Path)
	case "postgres":
		return sessionpostgres.New(context.Background(), cfg.Session.Postgres.DSN)
	default:
		return nil, errors.Wrap(errors.ErrInvalidConfig, "unsupported session store: %s", cfg.Session.Store)
	}
}

// initScripts builds the Lua engine and loads every configured script
// directory. Load failures are logged and skipped so a broken hook file
// cannot keep the runtime from starting.
func initScripts(cfg *config.Config) (scripting.Engine, error) {
	if !cfg.Scripting.Enabled {
		return nil, nil
	}
	engine, err := scripting.NewLuaEngine(scripting.DefaultConfig())
	if err != nil {
		return nil, err
	}
	for _, dir := range cfg.Scripting.Paths {
		if err := engine.LoadScriptDir(dir); err != nil {
			log.Warn("failed to load script directory", "dir", dir, "error", err)
		}
	}
	return engine, nil
}

// Manager returns the manager for one persona, building its memory layers on
// first use. Managers are cached and shared for the life of the runtime.
func (r *Runtime) Manager(id persona.ID) (*Manager, error) {
	if id == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "persona id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.ErrStoreClosed
	}
	if m, ok := r.managers[id]; ok {
		return m, nil
	}

	exp, err := experience.New(r.cfg.DataDir, id)
	if err != nil {
		return nil, errors.Wrap(err, "experience layer for persona %s", id)
	}
	syn, err := synthesis.New(r.cfg.DataDir, id)
	if err != nil {
		return nil, errors.Wrap(err, "synthesis layer for persona %s", id)
	}
	meta, err := metacog.New(r.cfg.DataDir, id)
	if err != nil {
		return nil, errors.Wrap(err, "metacognition layer for persona %s", id)
	}

	m := &Manager{
		runtime:    r,
		id:         id,
		foundation: foundation.New(r.store, id),
		experience: exp,
		synthesis:  syn,
		metacog:    meta,
	}
	r.managers[id] = m
	log.Debug("manager created", "persona_id", string(id))
	return m, nil
}

// Sessions returns the session store, or nil when session persistence is
// disabled.
func (r *Runtime) Sessions() session.Store {
	return r.sessions
}

// Monitor returns the metrics monitor. It may be nil, which every monitor
// method tolerates.
func (r *Runtime) Monitor() *metrics.Monitor {
	return r.monitor
}

// OptimizeMemory compresses stored embeddings and evicts idle collections
// across the whole knowledge store.
func (r *Runtime) OptimizeMemory(ctx context.Context) (knowledge.OptimizeReport, error) {
	defer r.monitor.Time("layermem.optimize")()
	return r.store.OptimizeMemory(ctx)
}

// Close releases the knowledge store, session store, scripting engine, and
// cache backend. It is safe to call more than once.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var firstErr error
	record := func(what string, err error) {
		if err == nil {
			return
		}
		log.Warn("close failed", "component", what, "error", err)
		if firstErr == nil {
			firstErr = errors.Wrap(err, "failed to close %s", what)
		}
	}

	if r.scripts != nil {
		record("scripting engine", r.scripts.Close())
	}
	if r.sessions != nil {
		record("session store", r.sessions.Close())
	}
	record("knowledge store", r.store.Close())
	if closer, ok := r.caches.Backend.(io.Closer); ok {
		record("cache backend", closer.Close())
	}
	return firstErr
}
