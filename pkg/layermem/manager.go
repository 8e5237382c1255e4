package layermem

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mindsim/layermem/pkg/batch"
	"github.com/mindsim/layermem/pkg/cache"
	"github.com/mindsim/layermem/pkg/errors"
	"github.com/mindsim/layermem/pkg/log"
	"github.com/mindsim/layermem/pkg/mem/experience"
	"github.com/mindsim/layermem/pkg/mem/foundation"
	"github.com/mindsim/layermem/pkg/mem/metacog"
	"github.com/mindsim/layermem/pkg/mem/synthesis"
	"github.com/mindsim/layermem/pkg/persona"
	"github.com/mindsim/layermem/pkg/session"
)

// Token budget shares per layer, in percent of the retrieval budget.
const (
	foundationShare = 50
	experienceShare = 25
	synthesisShare  = 15
	metacogShare    = 10
)

// Hook function names looked up in the scripting engine.
const (
	hookBeforeRetrieve = "before_retrieve"
	hookAfterRetrieve  = "after_retrieve"
)

// Manager runs the four memory layers for a single persona on top of the
// runtime's shared services. Obtain one from Runtime.Manager; managers are
// safe for concurrent use.
type Manager struct {
	runtime *Runtime
	id      persona.ID

	foundation *foundation.Layer
	experience *experience.Layer
	synthesis  *synthesis.Layer
	metacog    *metacog.Layer
}

// LayerContext holds the per-layer context blocks produced by one retrieval.
type LayerContext struct {
	Foundation    string `json:"foundation"`
	Experience    string `json:"experience"`
	Synthesis     string `json:"synthesis"`
	MetaCognitive string `json:"meta_cognitive"`
}

// Empty reports whether no layer produced any context.
func (c LayerContext) Empty() bool {
	return c.Foundation == "" && c.Experience == "" && c.Synthesis == "" && c.MetaCognitive == ""
}

// PersonaID returns the persona this manager serves.
func (m *Manager) PersonaID() persona.ID {
	return m.id
}

// Foundation returns the persona's foundation knowledge layer.
func (m *Manager) Foundation() *foundation.Layer {
	return m.foundation
}

// Experience returns the persona's experience layer.
func (m *Manager) Experience() *experience.Layer {
	return m.experience
}

// Synthesis returns the persona's synthesis layer.
func (m *Manager) Synthesis() *synthesis.Layer {
	return m.synthesis
}

// MetaCognition returns the persona's meta-cognitive layer.
func (m *Manager) MetaCognition() *metacog.Layer {
	return m.metacog
}

// RetrieveContext gathers context from all four layers for a query. The
// token budget (the configured default when maxTokens is not positive) is
// split 50/25/15/10 across foundation, experience, synthesis, and
// meta-cognition, and the four retrievals run concurrently on the runtime's
// worker pool. Whole results are cached briefly per (persona, query,
// session, budget).
func (m *Manager) RetrieveContext(ctx context.Context, query, sessionID string, maxTokens int) (LayerContext, error) {
	defer m.runtime.monitor.Time("layermem.retrieve")()
	m.runtime.monitor.Inc("layermem.retrieve.requests")

	if maxTokens <= 0 {
		maxTokens = m.runtime.cfg.Retrieval.DefaultMaxTokens
	}
	query = m.beforeRetrieve(ctx, query, sessionID)

	key := cache.Key("layermem.retrieve", m.id, query, sessionID, maxTokens)
	backend := m.runtime.caches.Backend
	if raw, ok := backend.Get(key); ok {
		if lc, ok := decodeLayerContext(raw); ok {
			m.runtime.monitor.Inc("layermem.retrieve.cache_hits")
			return lc, nil
		}
	}

	budgets := [4]int{
		maxTokens * foundationShare / 100,
		maxTokens * experienceShare / 100,
		maxTokens * synthesisShare / 100,
		maxTokens * metacogShare / 100,
	}
	tasks := [4]func(context.Context) (string, error){
		func(ctx context.Context) (string, error) {
			return m.foundation.GetContext(ctx, query, budgets[0])
		},
		func(context.Context) (string, error) {
			return m.experience.GetContext(query, budgets[1]), nil
		},
		func(context.Context) (string, error) {
			return m.synthesis.GetContext(query, budgets[2]), nil
		},
		func(context.Context) (string, error) {
			return m.metacog.SelfAwarenessContext(), nil
		},
	}

	results := batch.Map(ctx, m.runtime.pool, len(tasks), func(ctx context.Context, i int) (string, error) {
		return tasks[i](ctx)
	})
	if err := batch.FirstError(results); err != nil {
		return LayerContext{}, errors.Wrap(err, "context retrieval for persona %s", m.id)
	}

	lc := LayerContext{
		Foundation:    results[0].Value,
		Experience:    results[1].Value,
		Synthesis:     results[2].Value,
		MetaCognitive: results[3].Value,
	}
	backend.Set(key, lc, m.runtime.caches.TTL.Retrieval)
	m.afterRetrieve(ctx, query, sessionID, lc)
	return lc, nil
}

// FormatContext renders a LayerContext as a single prompt block in fixed
// layer order. Empty sections are omitted; an empty context renders as "".
func (m *Manager) FormatContext(lc LayerContext) string {
	sections := []struct {
		header string
		body   string
	}{
		{"=== Foundation Knowledge ===", lc.Foundation},
		{"=== Relevant Experience ===", lc.Experience},
		{"=== Synthesized Insights ===", lc.Synthesis},
		{"=== Self-Model ===", lc.MetaCognitive},
	}

	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		if strings.TrimSpace(s.body) == "" {
			continue
		}
		parts = append(parts, s.header+"\n"+strings.TrimRight(s.body, "\n"))
	}
	return strings.Join(parts, "\n\n")
}

// RecordExchange stores one client/persona exchange in the experience layer
// and, when a session store is configured, appends both turns to the
// transcript. The experience layer is the durable record; a transcript
// failure is logged and does not fail the exchange.
func (m *Manager) RecordExchange(ctx context.Context, sessionID, clientText, personaText string, metadata map[string]any) (experience.Interaction, error) {
	defer m.runtime.monitor.Time("layermem.record_exchange")()

	interaction, err := m.experience.RecordInteraction(ctx, sessionID, clientText, personaText, metadata)
	if err != nil {
		return experience.Interaction{}, err
	}
	m.runtime.monitor.Inc("layermem.exchanges")

	if store := m.runtime.sessions; store != nil && sessionID != "" {
		if _, err := store.AppendMessage(ctx, sessionID, session.RoleClient, clientText); err != nil {
			log.Warn("transcript append failed", "session_id", sessionID, "error", err)
		} else if _, err := store.AppendMessage(ctx, sessionID, session.RolePersona, personaText); err != nil {
			log.Warn("transcript append failed", "session_id", sessionID, "error", err)
		}
	}
	return interaction, nil
}

// GenerateInsight stores a synthesized insight and then updates the
// meta-cognitive counters and domain confidence. The steps are independent
// and there is no rollback: when the meta-cognitive update fails the insight
// stays in place and the error is returned alongside it.
func (m *Manager) GenerateInsight(ctx context.Context, content, domain string, sources map[string][]string, confidence float64, metadata map[string]any) (synthesis.Insight, error) {
	defer m.runtime.monitor.Time("layermem.generate_insight")()

	insight, err := m.synthesis.AddInsight(ctx, content, domain, sources, confidence, metadata)
	if err != nil {
		return synthesis.Insight{}, err
	}
	m.runtime.monitor.Inc("layermem.insights")

	if err := m.metacog.RecordInsightGeneration(ctx); err != nil {
		return insight, errors.Wrap(err, "insight %s stored but self-model counter update failed", insight.ID)
	}
	if domain != "" {
		if err := m.metacog.UpdateDomainKnowledge(ctx, domain, insight.Confidence, "generated insight "+insight.ID); err != nil {
			return insight, errors.Wrap(err, "insight %s stored but domain knowledge update failed", insight.ID)
		}
	}
	return insight, nil
}

// ShouldReflect reports whether the session's interaction count is a
// positive multiple of frequency. A non-positive frequency falls back to the
// configured one, in which case reflection must also be enabled in the
// configuration.
func (m *Manager) ShouldReflect(sessionID string, frequency int) bool {
	if frequency <= 0 {
		if !m.runtime.cfg.Reflection.Enabled {
			return false
		}
		frequency = m.runtime.cfg.Reflection.Frequency
	}
	if frequency <= 0 {
		return false
	}
	count := m.experience.CountForSession(sessionID)
	return count > 0 && count%frequency == 0
}

// PrepareReflectionPrompt renders the session's most recent interactions
// into a reflection prompt for an external model. It never calls a model
// itself; an empty session yields an empty prompt.
func (m *Manager) PrepareReflectionPrompt(sessionID string) string {
	n := m.runtime.cfg.Reflection.RecentInteractions
	recent := m.experience.RecentForSession(sessionID, n)
	if len(recent) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Review the last %d exchanges of session %s.\n\n", len(recent), sessionID)
	for _, it := range recent {
		fmt.Fprintf(&b, "[%s]\nClient: %s\nPersona: %s\n\n",
			it.Timestamp.UTC().Format(time.RFC3339), it.Exchange.Client, it.Exchange.Persona)
	}
	b.WriteString("Identify recurring themes, responses that worked, and one insight worth keeping in long-term memory.")
	return b.String()
}

// beforeRetrieve gives a loaded script the chance to rewrite the query. The
// hook is fail-open: any error keeps the original query.
func (m *Manager) beforeRetrieve(ctx context.Context, query, sessionID string) string {
	engine := m.runtime.scripts
	if engine == nil || !engine.HasFunction(hookBeforeRetrieve) {
		return query
	}
	out, err := engine.ExecuteFunction(ctx, hookBeforeRetrieve, query, sessionID, string(m.id))
	if err != nil {
		log.Warn("before_retrieve hook failed", "persona_id", string(m.id), "error", err)
		return query
	}
	if rewritten, ok := out.(string); ok && rewritten != "" {
		return rewritten
	}
	return query
}

// afterRetrieve lets a loaded script observe a finished retrieval. The hook
// is fail-open and its return value is ignored.
func (m *Manager) afterRetrieve(ctx context.Context, query, sessionID string, lc LayerContext) {
	engine := m.runtime.scripts
	if engine == nil || !engine.HasFunction(hookAfterRetrieve) {
		return
	}
	sizes := map[string]any{
		"foundation":     len(lc.Foundation),
		"experience":     len(lc.Experience),
		"synthesis":      len(lc.Synthesis),
		"meta_cognitive": len(lc.MetaCognitive),
	}
	if _, err := engine.ExecuteFunction(ctx, hookAfterRetrieve, query, sessionID, string(m.id), sizes); err != nil {
		log.Warn("after_retrieve hook failed", "persona_id", string(m.id), "error", err)
	}
}

// decodeLayerContext recovers a LayerContext from a cache value, which is the
// struct itself from the memory backend and serialized JSON from the durable
// one. Undecodable values count as a miss.
func decodeLayerContext(raw any) (LayerContext, bool) {
	switch v := raw.(type) {
	case LayerContext:
		return v, true
	case json.RawMessage:
		var lc LayerContext
		if err := json.Unmarshal(v, &lc); err == nil {
			return lc, true
		}
	case []byte:
		var lc LayerContext
		if err := json.Unmarshal(v, &lc); err == nil {
			return lc, true
		}
	}
	return LayerContext{}, false
}
