// Package synthesis implements the third memory layer: insights the persona
// has synthesized from its experience. Insights are append-only and persisted
// as one JSON document per persona, rewritten in full on every mutation.
package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/mindsim/layermem/pkg/errors"
	"github.com/mindsim/layermem/pkg/log"
	"github.com/mindsim/layermem/pkg/persona"
)

// DefaultSearchLimit bounds SearchInsights when no limit is given.
const DefaultSearchLimit = 5

// DefaultContextTokens is the token budget used when GetContext receives a
// non-positive budget.
const DefaultContextTokens = 500

const charsPerToken = 4

const contextSearchLimit = 10

// Insight is one synthesized observation with a confidence level and the
// memory items it was derived from, keyed by layer name.
type Insight struct {
	ID         string              `json:"id"`
	Content    string              `json:"content"`
	Domain     string              `json:"domain"`
	Sources    map[string][]string `json:"sources,omitempty"`
	Confidence float64             `json:"confidence"`
	CreatedAt  time.Time           `json:"created_at"`
	Metadata   map[string]any      `json:"metadata,omitempty"`
}

// Layer is the synthesis memory layer for one persona.
type Layer struct {
	mu        sync.Mutex
	path      string
	personaID persona.ID
	insights  []Insight
}

type fileState struct {
	PersonaID string    `json:"persona_id"`
	UpdatedAt time.Time `json:"updated_at"`
	Insights  []Insight `json:"insights"`
}

// New opens the persona's insight file under dataDir, creating the directory
// if needed. A missing or corrupt file degrades to an empty list with a
// logged warning.
func New(dataDir string, id persona.ID) (*Layer, error) {
	if dataDir == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "data directory cannot be empty")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create data directory")
	}

	l := &Layer{
		path:      filepath.Join(dataDir, fmt.Sprintf("%s_insights.json", id)),
		personaID: id,
	}
	l.load()
	return l, nil
}

func (l *Layer) load() {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("Failed to read insight file, starting empty",
				"persona_id", l.personaID, "path", l.path, "error", err)
		}
		return
	}
	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		log.Warn("Corrupt insight file, starting empty",
			"persona_id", l.personaID, "path", l.path, "error", err)
		return
	}
	l.insights = state.Insights
}

func (l *Layer) persistLocked() error {
	state := fileState{
		PersonaID: string(l.personaID),
		UpdatedAt: time.Now().UTC(),
		Insights:  l.insights,
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode insight file")
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write insight file")
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return errors.Wrap(err, "failed to replace insight file")
	}
	return nil
}

// AddInsight appends a new insight and persists it. Confidence is clamped to
// [0, 1]. A failed write leaves the in-memory list unchanged.
func (l *Layer) AddInsight(ctx context.Context, content, domain string, sources map[string][]string, confidence float64, metadata map[string]any) (Insight, error) {
	if strings.TrimSpace(content) == "" {
		return Insight{}, errors.Wrap(errors.ErrInvalidInput, "insight content cannot be empty")
	}

	insight := Insight{
		ID:         uuid.New().String(),
		Content:    content,
		Domain:     domain,
		Sources:    sources,
		Confidence: clampConfidence(confidence),
		CreatedAt:  time.Now().UTC(),
		Metadata:   metadata,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.insights = append(l.insights, insight)
	if err := l.persistLocked(); err != nil {
		l.insights = l.insights[:len(l.insights)-1]
		return Insight{}, err
	}

	log.Debug("Added insight",
		"persona_id", l.personaID,
		"domain", domain,
		"confidence", insight.Confidence,
		"total", len(l.insights))
	return insight, nil
}

// SearchInsights ranks insights at or above minConfidence by how many
// distinct query terms appear in their content and domain. Zero-score
// insights are excluded; ties keep insertion order. A non-empty domain
// restricts the search to that domain before scoring.
func (l *Layer) SearchInsights(query string, limit int, minConfidence float64, domain string) []Insight {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	terms := queryTerms(query)
	if len(terms) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	type scored struct {
		insight Insight
		score   int
	}
	var matches []scored
	for _, in := range l.insights {
		if domain != "" && in.Domain != domain {
			continue
		}
		if in.Confidence < minConfidence {
			continue
		}
		score := overlapScore(terms, in.Content+" "+in.Domain)
		if score == 0 {
			continue
		}
		matches = append(matches, scored{insight: in, score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	out := make([]Insight, len(matches))
	for i, m := range matches {
		out[i] = m.insight
	}
	return out
}

// Count returns how many insights the persona holds.
func (l *Layer) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.insights)
}

// GetContext formats the top matching insights under a token budget,
// estimated at four characters per token. Entries that would overflow the
// budget are dropped whole; the first match is always kept.
func (l *Layer) GetContext(query string, maxTokens int) string {
	if maxTokens <= 0 {
		maxTokens = DefaultContextTokens
	}

	matches := l.SearchInsights(query, contextSearchLimit, 0, "")
	if len(matches) == 0 {
		return ""
	}

	charBudget := maxTokens * charsPerToken
	used := 0
	var parts []string
	for i, in := range matches {
		entry := formatInsight(in)
		if i > 0 && used+len(entry) > charBudget {
			continue
		}
		parts = append(parts, entry)
		used += len(entry)
	}
	return strings.Join(parts, "\n\n")
}

func formatInsight(in Insight) string {
	return fmt.Sprintf("[domain: %s | confidence: %.2f | %s]\n%s",
		in.Domain,
		in.Confidence,
		in.CreatedAt.Format("2006-01-02"),
		in.Content)
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// queryTerms returns the distinct lowercase tokens of query in first-seen
// order.
func queryTerms(query string) []string {
	seen := map[string]bool{}
	var terms []string
	for _, tok := range tokenize(query) {
		if !seen[tok] {
			seen[tok] = true
			terms = append(terms, tok)
		}
	}
	return terms
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func overlapScore(terms []string, text string) int {
	tokens := map[string]bool{}
	for _, tok := range tokenize(text) {
		tokens[tok] = true
	}
	score := 0
	for _, t := range terms {
		if tokens[t] {
			score++
		}
	}
	return score
}
