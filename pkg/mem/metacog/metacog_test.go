package metacog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
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

func TestUpdateDomainKnowledgeUpsert(t *testing.T) {
	layer, _, ctx := newTestLayer(t)

	require.NoError(t, layer.UpdateDomainKnowledge(ctx, "cbt", 0.4, ""))

	dk, ok := layer.DomainKnowledgeFor("cbt")
	require.True(t, ok)
	assert.Equal(t, "cbt", dk.Domain)
	assert.InDelta(t, 0.4, dk.Confidence, 0.001)
	require.Len(t, dk.GrowthTrajectory, 1)
	assert.False(t, dk.LastUpdated.IsZero())

	require.NoError(t, layer.UpdateDomainKnowledge(ctx, "cbt", 0.6, ""))
	dk, ok = layer.DomainKnowledgeFor("cbt")
	require.True(t, ok)
	assert.InDelta(t, 0.6, dk.Confidence, 0.001)
	assert.Len(t, dk.GrowthTrajectory, 2)

	_, ok = layer.DomainKnowledgeFor("missing")
	assert.False(t, ok)
}

func TestUpdateDomainKnowledgeClampsAndValidates(t *testing.T) {
	layer, _, ctx := newTestLayer(t)

	require.NoError(t, layer.UpdateDomainKnowledge(ctx, "cbt", 1.8, ""))
	dk, _ := layer.DomainKnowledgeFor("cbt")
	assert.Equal(t, 1.0, dk.Confidence)

	require.NoError(t, layer.UpdateDomainKnowledge(ctx, "cbt", -0.5, ""))
	dk, _ = layer.DomainKnowledgeFor("cbt")
	assert.Equal(t, 0.0, dk.Confidence)

	assert.Error(t, layer.UpdateDomainKnowledge(ctx, "  ", 0.5, ""))
}

func TestGrowthTrajectoryBounded(t *testing.T) {
	layer, _, ctx := newTestLayer(t)

	for i := 1; i <= 13; i++ {
		require.NoError(t, layer.UpdateDomainKnowledge(ctx, "cbt", float64(i)/20, ""))
	}

	dk, ok := layer.DomainKnowledgeFor("cbt")
	require.True(t, ok)
	require.Len(t, dk.GrowthTrajectory, MaxTrajectoryPoints)

	// Oldest points dropped: the window now starts at the fourth update
	assert.InDelta(t, 4.0/20, dk.GrowthTrajectory[0].Confidence, 0.001)
	assert.InDelta(t, 13.0/20, dk.GrowthTrajectory[len(dk.GrowthTrajectory)-1].Confidence, 0.001)
}

func TestNotes(t *testing.T) {
	layer, _, ctx := newTestLayer(t)

	require.NoError(t, layer.UpdateDomainKnowledge(ctx, "cbt", 0.5, ""))
	dk, _ := layer.DomainKnowledgeFor("cbt")
	assert.Empty(t, dk.Notes)

	require.NoError(t, layer.UpdateDomainKnowledge(ctx, "cbt", 0.6, "worked through thought records"))
	dk, _ = layer.DomainKnowledgeFor("cbt")
	require.Len(t, dk.Notes, 1)
	assert.Equal(t, "worked through thought records", dk.Notes[0].Content)
	assert.False(t, dk.Notes[0].Timestamp.IsZero())
}

func TestCountersPersist(t *testing.T) {
	layer, dir, ctx := newTestLayer(t)

	require.NoError(t, layer.UpdateDomainKnowledge(ctx, "cbt", 0.5, ""))
	require.NoError(t, layer.UpdateDomainKnowledge(ctx, "sleep", 0.4, ""))
	require.NoError(t, layer.RecordInsightGeneration(ctx))

	c := layer.Counters()
	assert.Equal(t, 2, c.KnowledgeUpdates)
	assert.Equal(t, 1, c.InsightsGenerated)

	reopened, err := New(dir, "dr_rivera")
	require.NoError(t, err)
	c = reopened.Counters()
	assert.Equal(t, 2, c.KnowledgeUpdates)
	assert.Equal(t, 1, c.InsightsGenerated)

	dk, ok := reopened.DomainKnowledgeFor("sleep")
	require.True(t, ok)
	assert.InDelta(t, 0.4, dk.Confidence, 0.001)
}

func TestSetLearningStyle(t *testing.T) {
	layer, dir, ctx := newTestLayer(t)

	assert.Equal(t, LearningStyle{Mode: "balanced", Focus: "general"}, layer.LearningStyle())

	require.NoError(t, layer.SetLearningStyle(ctx, LearningStyle{Mode: "reflective", Focus: "depth"}))

	reopened, err := New(dir, "dr_rivera")
	require.NoError(t, err)
	assert.Equal(t, LearningStyle{Mode: "reflective", Focus: "depth"}, reopened.LearningStyle())
}

func TestSelfAwarenessContext(t *testing.T) {
	layer, _, ctx := newTestLayer(t)

	for i := 0; i < 7; i++ {
		domain := fmt.Sprintf("domain%d", i)
		require.NoError(t, layer.UpdateDomainKnowledge(ctx, domain, 0.9-float64(i)*0.1, ""))
	}

	out := layer.SelfAwarenessContext()

	// Top five by confidence render; the weakest two do not
	for i := 0; i < 5; i++ {
		assert.Contains(t, out, fmt.Sprintf("- domain%d: %.2f", i, 0.9-float64(i)*0.1))
	}
	assert.NotContains(t, out, "domain5:")
	assert.NotContains(t, out, "domain6:")

	assert.Contains(t, out, "Learning style: balanced mode, general focus")
	assert.Contains(t, out, "Knowledge updates: 7 | Insights generated: 0")
}

func TestSelfAwarenessContextEmpty(t *testing.T) {
	layer, _, _ := newTestLayer(t)

	out := layer.SelfAwarenessContext()
	assert.NotContains(t, out, "Domain confidence:")
	assert.Contains(t, out, "Learning style:")
	assert.Contains(t, out, "Knowledge updates: 0 | Insights generated: 0")
}

func TestCorruptFileDegrades(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dr_rivera_metacognition.json")
	require.NoError(t, os.WriteFile(path, []byte("###"), 0o644))

	layer, err := New(dir, "dr_rivera")
	require.NoError(t, err)
	assert.Equal(t, Counters{}, layer.Counters())

	require.NoError(t, layer.UpdateDomainKnowledge(context.Background(), "cbt", 0.5, ""))
	assert.Equal(t, 1, layer.Counters().KnowledgeUpdates)
}
