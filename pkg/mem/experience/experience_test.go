package experience

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLayer(t *testing.T) (*Layer, string, context.Context) {
	t.Helper()
	dir := t.TempDir()
	layer, err := New(dir, "dr_rivera")
	require.NoError(t, err)
	return layer, dir, context.Background()
}

func TestRecordInteractionPersists(t *testing.T) {
	layer, dir, ctx := newTestLayer(t)

	first, err := layer.RecordInteraction(ctx, "s1", "I have trouble sleeping.", "Tell me about your evenings.", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "s1", first.SessionID)
	assert.False(t, first.Timestamp.IsZero())

	_, err = layer.RecordInteraction(ctx, "s1", "Mostly screens until late.", "What would winding down look like?",
		map[string]any{"phase": "assessment"})
	require.NoError(t, err)

	// A fresh layer over the same directory sees both interactions
	reopened, err := New(dir, "dr_rivera")
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.CountForSession("s1"))

	recent := reopened.RecentForSession("s1", 10)
	require.Len(t, recent, 2)
	assert.Equal(t, first.ID, recent[0].ID)
	assert.Equal(t, "I have trouble sleeping.", recent[0].Exchange.Client)
	assert.Equal(t, "assessment", recent[1].Metadata["phase"])
}

func TestRecordInteractionEmptySession(t *testing.T) {
	layer, _, ctx := newTestLayer(t)

	_, err := layer.RecordInteraction(ctx, "", "client", "persona", nil)
	assert.Error(t, err)
}

func TestSearchInteractionsScoring(t *testing.T) {
	layer, _, ctx := newTestLayer(t)

	_, err := layer.RecordInteraction(ctx, "s1", "Only sleep comes up here.", "Noted.", nil)
	require.NoError(t, err)
	both, err := layer.RecordInteraction(ctx, "s1", "Sleep problems feed my anxiety.", "They often reinforce each other.", nil)
	require.NoError(t, err)
	_, err = layer.RecordInteraction(ctx, "s1", "Work has been fine.", "Good to hear.", nil)
	require.NoError(t, err)

	// Two distinct matching terms outrank one; zero matches are excluded
	results := layer.SearchInteractions("SLEEP ANXIETY", 10, "")
	require.Len(t, results, 2)
	assert.Equal(t, both.ID, results[0].ID)
}

func TestSearchInteractionsMatchesPersonaText(t *testing.T) {
	layer, _, ctx := newTestLayer(t)

	it, err := layer.RecordInteraction(ctx, "s1", "I feel stuck.", "Rumination keeps the mind circling one groove.", nil)
	require.NoError(t, err)

	results := layer.SearchInteractions("rumination", 10, "")
	require.Len(t, results, 1)
	assert.Equal(t, it.ID, results[0].ID)
}

func TestSearchInteractionsSessionFilter(t *testing.T) {
	layer, _, ctx := newTestLayer(t)

	_, err := layer.RecordInteraction(ctx, "s1", "Sleep was rough.", "Let's look at that.", nil)
	require.NoError(t, err)
	inS2, err := layer.RecordInteraction(ctx, "s2", "Sleep improved a bit.", "What changed?", nil)
	require.NoError(t, err)

	results := layer.SearchInteractions("sleep", 10, "s2")
	require.Len(t, results, 1)
	assert.Equal(t, inS2.ID, results[0].ID)
}

func TestSearchInteractionsLimitAndStableOrder(t *testing.T) {
	layer, _, ctx := newTestLayer(t)

	var ids []string
	for i := 0; i < 4; i++ {
		it, err := layer.RecordInteraction(ctx, "s1", "Sleep again.", "Mm-hm.", nil)
		require.NoError(t, err)
		ids = append(ids, it.ID)
	}

	// Equal scores keep insertion order
	results := layer.SearchInteractions("sleep", 10, "")
	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, ids[i], r.ID)
	}

	results = layer.SearchInteractions("sleep", 2, "")
	require.Len(t, results, 2)
	assert.Equal(t, ids[0], results[0].ID)
}

func TestSearchInteractionsEmptyQuery(t *testing.T) {
	layer, _, ctx := newTestLayer(t)

	_, err := layer.RecordInteraction(ctx, "s1", "Anything.", "Sure.", nil)
	require.NoError(t, err)

	assert.Empty(t, layer.SearchInteractions("", 10, ""))
	assert.Empty(t, layer.SearchInteractions("  ,.; ", 10, ""))
}

func TestCountForSession(t *testing.T) {
	layer, _, ctx := newTestLayer(t)

	for i := 0; i < 3; i++ {
		_, err := layer.RecordInteraction(ctx, "s1", "a", "b", nil)
		require.NoError(t, err)
	}
	_, err := layer.RecordInteraction(ctx, "s2", "a", "b", nil)
	require.NoError(t, err)

	assert.Equal(t, 3, layer.CountForSession("s1"))
	assert.Equal(t, 1, layer.CountForSession("s2"))
	assert.Equal(t, 0, layer.CountForSession("missing"))
}

func TestRecentForSession(t *testing.T) {
	layer, _, ctx := newTestLayer(t)

	var ids []string
	for i := 0; i < 5; i++ {
		it, err := layer.RecordInteraction(ctx, "s1", "turn", "reply", nil)
		require.NoError(t, err)
		ids = append(ids, it.ID)
	}

	recent := layer.RecentForSession("s1", 3)
	require.Len(t, recent, 3)
	assert.Equal(t, ids[2], recent[0].ID)
	assert.Equal(t, ids[4], recent[2].ID)

	assert.Len(t, layer.RecentForSession("s1", 10), 5)
	assert.Nil(t, layer.RecentForSession("s1", 0))
}

func TestGetContextFormatting(t *testing.T) {
	layer, _, ctx := newTestLayer(t)

	_, err := layer.RecordInteraction(ctx, "s1", "Panic hit on the subway.", "Where did you feel it first?", nil)
	require.NoError(t, err)

	out := layer.GetContext("panic subway", 500)
	assert.Contains(t, out, "session s1")
	assert.Contains(t, out, "Client: Panic hit on the subway.")
	assert.Contains(t, out, "Persona: Where did you feel it first?")
}

func TestGetContextBudgetKeepsFirst(t *testing.T) {
	layer, _, ctx := newTestLayer(t)

	for i := 0; i < 3; i++ {
		_, err := layer.RecordInteraction(ctx, "s1",
			"Panic showed up again during the commute this week.",
			"Let's map what happened right before it started.", nil)
		require.NoError(t, err)
	}

	// Each formatted entry dwarfs a one-token budget, so only the first
	// match survives
	out := layer.GetContext("panic commute", 1)
	assert.NotEmpty(t, out)
	assert.Equal(t, 1, strings.Count(out, "Client:"))
}

func TestCorruptFileDegrades(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dr_rivera_experiences.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	layer, err := New(dir, "dr_rivera")
	require.NoError(t, err)
	assert.Equal(t, 0, layer.CountForSession("s1"))

	// The layer still accepts writes after degrading
	_, err = layer.RecordInteraction(context.Background(), "s1", "a", "b", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, layer.CountForSession("s1"))
}
