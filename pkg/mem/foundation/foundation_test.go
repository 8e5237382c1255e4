package foundation

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindsim/layermem/pkg/embedding/adapters/hash"
	"github.com/mindsim/layermem/pkg/mem/knowledge"
	"github.com/mindsim/layermem/pkg/mem/knowledge/adapters/index"
)

func newTestLayer(t *testing.T) (*Layer, knowledge.Store, context.Context) {
	t.Helper()

	store, err := index.New(index.Config{
		Path:            t.TempDir(),
		Provider:        hash.New(32),
		ChunkSize:       80,
		ChunkOverlap:    10,
		SearchLimit:     50,
		SearchThreshold: -1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return New(store, "dr_rivera"), store, context.Background()
}

func TestAddDocumentCreatesCollection(t *testing.T) {
	layer, store, ctx := newTestLayer(t)

	docID, chunkIDs, err := layer.AddDocument(ctx,
		"Cognitive restructuring challenges automatic thoughts by weighing them against evidence.",
		map[string]any{"topic": "cbt"})
	require.NoError(t, err)
	assert.NotEmpty(t, docID)
	assert.NotEmpty(t, chunkIDs)

	created, err := store.CreateCollection(ctx, layer.Collection(), "")
	require.NoError(t, err)
	assert.False(t, created, "collection should already exist")
}

func TestAddDocumentEmptyContent(t *testing.T) {
	layer, _, ctx := newTestLayer(t)

	_, _, err := layer.AddDocument(ctx, "   ", nil)
	assert.Error(t, err)
}

func TestAddDocumentDistinctIDs(t *testing.T) {
	layer, _, ctx := newTestLayer(t)

	first, _, err := layer.AddDocument(ctx, "First document.", nil)
	require.NoError(t, err)
	second, _, err := layer.AddDocument(ctx, "Second document.", nil)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestImportDocument(t *testing.T) {
	layer, _, ctx := newTestLayer(t)

	path := filepath.Join(t.TempDir(), "exposure_notes.txt")
	require.NoError(t, os.WriteFile(path,
		[]byte("Graded exposure builds tolerance through repeated contact with feared situations."), 0o644))

	docID, chunkIDs, err := layer.ImportDocument(ctx, path)
	require.NoError(t, err)
	require.NotEmpty(t, docID)
	require.NotEmpty(t, chunkIDs)

	results, err := layer.Search(ctx, "graded exposure", knowledge.SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "exposure_notes.txt", results[0].DocumentMetadata["source"])
	assert.NotEmpty(t, results[0].DocumentMetadata["imported_at"])
}

func TestImportDocumentMissingFile(t *testing.T) {
	layer, _, ctx := newTestLayer(t)

	docID, chunkIDs, err := layer.ImportDocument(ctx, filepath.Join(t.TempDir(), "nope.txt"))
	require.NoError(t, err)
	assert.Empty(t, docID)
	assert.Empty(t, chunkIDs)
}

func TestImportDocumentEmptyFile(t *testing.T) {
	layer, _, ctx := newTestLayer(t)

	path := filepath.Join(t.TempDir(), "blank.txt")
	require.NoError(t, os.WriteFile(path, []byte("  \n\t\n"), 0o644))

	docID, chunkIDs, err := layer.ImportDocument(ctx, path)
	require.NoError(t, err)
	assert.Empty(t, docID)
	assert.Empty(t, chunkIDs)
}

func TestGetContextEmptyKnowledgeBase(t *testing.T) {
	layer, _, ctx := newTestLayer(t)

	out, err := layer.GetContext(ctx, "anything", 100)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestGetContextBudget(t *testing.T) {
	layer, _, ctx := newTestLayer(t)

	// Three sentences of ~70 chars each force multiple chunks at size 80
	content := strings.Join([]string{
		"Session pacing matters because clients integrate change between visits.",
		"Homework review at the start of a session reinforces client agency here.",
		"Socratic questions guide discovery without imposing the clinician view.",
	}, " ")
	_, chunkIDs, err := layer.AddDocument(ctx, content, nil)
	require.NoError(t, err)
	require.Greater(t, len(chunkIDs), 1)

	// A generous budget admits every chunk
	full, err := layer.GetContext(ctx, "session pacing", 10000)
	require.NoError(t, err)
	results, err := layer.Search(ctx, "session pacing", knowledge.SearchOptions{Limit: 10})
	require.NoError(t, err)
	for _, r := range results {
		assert.Contains(t, full, r.Text)
	}

	// A one-token budget keeps only the first match, even though it is
	// larger than the budget
	tiny, err := layer.GetContext(ctx, "session pacing", 1)
	require.NoError(t, err)
	assert.Equal(t, results[0].Text, tiny)
}
