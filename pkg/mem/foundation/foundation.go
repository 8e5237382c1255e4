// Package foundation implements the first memory layer: the persona's
// professional knowledge base. It is a thin facade over the knowledge store,
// scoped to a single persona's collection.
package foundation

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mindsim/layermem/pkg/errors"
	"github.com/mindsim/layermem/pkg/log"
	"github.com/mindsim/layermem/pkg/mem/knowledge"
	"github.com/mindsim/layermem/pkg/persona"
)

// DefaultContextTokens is the token budget used when GetContext receives a
// non-positive budget.
const DefaultContextTokens = 1000

// charsPerToken is the rough character-to-token ratio used for budgeting.
const charsPerToken = 4

// contextSearchLimit is how many candidate chunks GetContext considers
// before applying the token budget.
const contextSearchLimit = 10

// Layer is the foundation memory layer for one persona.
type Layer struct {
	store      knowledge.Store
	personaID  persona.ID
	collection string

	mu      sync.Mutex
	ensured bool
}

// New binds a foundation layer to the persona's collection. The collection
// itself is created lazily on the first write.
func New(store knowledge.Store, id persona.ID) *Layer {
	return &Layer{
		store:      store,
		personaID:  id,
		collection: id.Collection(),
	}
}

// Collection returns the knowledge collection this layer operates on.
func (l *Layer) Collection() string {
	return l.collection
}

func (l *Layer) ensureCollection(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ensured {
		return nil
	}
	description := "Foundation knowledge for persona " + string(l.personaID)
	if _, err := l.store.CreateCollection(ctx, l.collection, description); err != nil {
		return errors.Wrap(err, "failed to ensure collection %s", l.collection)
	}
	l.ensured = true
	return nil
}

// AddDocument stores content in the persona's knowledge base under a
// generated document ID and returns that ID with the IDs of its chunks.
func (l *Layer) AddDocument(ctx context.Context, content string, metadata map[string]any) (string, []string, error) {
	if strings.TrimSpace(content) == "" {
		return "", nil, errors.Wrap(errors.ErrInvalidInput, "document content cannot be empty")
	}
	if err := l.ensureCollection(ctx); err != nil {
		return "", nil, err
	}

	docID := uuid.New().String()
	chunkIDs, err := l.store.AddDocument(ctx, l.collection, docID, content, metadata, knowledge.AddOptions{})
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to add document")
	}

	log.Debug("Added foundation document",
		"persona_id", l.personaID,
		"document_id", docID,
		"chunks", len(chunkIDs))
	return docID, chunkIDs, nil
}

// ImportDocument reads a file and adds its text as a document tagged with
// the source filename. An unreadable path or an empty file is logged and
// yields an empty result with a nil error so bulk imports keep going.
func (l *Layer) ImportDocument(ctx context.Context, path string) (string, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("Failed to read document for import",
			"persona_id", l.personaID,
			"path", path,
			"error", err)
		return "", nil, nil
	}
	if strings.TrimSpace(string(data)) == "" {
		log.Warn("Skipping empty document", "persona_id", l.personaID, "path", path)
		return "", nil, nil
	}

	metadata := map[string]any{
		"source":      filepath.Base(path),
		"imported_at": time.Now().UTC().Format(time.RFC3339),
	}
	return l.AddDocument(ctx, string(data), metadata)
}

// Search queries the persona's knowledge base.
func (l *Layer) Search(ctx context.Context, query string, opts knowledge.SearchOptions) ([]knowledge.SearchResult, error) {
	return l.store.Search(ctx, l.collection, query, opts)
}

// GetContext joins matched chunk texts under a token budget, estimated at
// four characters per token. Chunks that would overflow the budget are
// dropped whole; the first match is always kept even when oversized.
func (l *Layer) GetContext(ctx context.Context, query string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = DefaultContextTokens
	}

	results, err := l.Search(ctx, query, knowledge.SearchOptions{Limit: contextSearchLimit})
	if err != nil {
		return "", errors.Wrap(err, "failed to search knowledge base")
	}
	if len(results) == 0 {
		return "", nil
	}

	charBudget := maxTokens * charsPerToken
	used := 0
	var parts []string
	for i, r := range results {
		if i > 0 && used+len(r.Text) > charBudget {
			continue
		}
		parts = append(parts, r.Text)
		used += len(r.Text)
	}
	return strings.Join(parts, "\n\n"), nil
}
