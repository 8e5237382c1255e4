// Package experience implements the second memory layer: the persona's
// history of client interactions. Interactions are append-only and persisted
// as one JSON document per persona, rewritten in full on every mutation.
package experience

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

// DefaultSearchLimit bounds SearchInteractions when no limit is given.
const DefaultSearchLimit = 5

// DefaultContextTokens is the token budget used when GetContext receives a
// non-positive budget.
const DefaultContextTokens = 500

const charsPerToken = 4

const contextSearchLimit = 10

// Exchange is one client/persona turn pair.
type Exchange struct {
	Client  string `json:"client"`
	Persona string `json:"persona"`
}

// Interaction is a single recorded exchange within a session.
type Interaction struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Timestamp time.Time      `json:"timestamp"`
	Exchange  Exchange       `json:"exchange"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Layer is the experience memory layer for one persona.
type Layer struct {
	mu           sync.Mutex
	path         string
	personaID    persona.ID
	interactions []Interaction
}

type fileState struct {
	PersonaID    string        `json:"persona_id"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Interactions []Interaction `json:"interactions"`
}

// New opens the persona's experience file under dataDir, creating the
// directory if needed. A missing or corrupt file degrades to an empty
// history with a logged warning.
func New(dataDir string, id persona.ID) (*Layer, error) {
	if dataDir == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "data directory cannot be empty")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create data directory")
	}

	l := &Layer{
		path:      filepath.Join(dataDir, fmt.Sprintf("%s_experiences.json", id)),
		personaID: id,
	}
	l.load()
	return l, nil
}

func (l *Layer) load() {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("Failed to read experience file, starting empty",
				"persona_id", l.personaID, "path", l.path, "error", err)
		}
		return
	}
	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		log.Warn("Corrupt experience file, starting empty",
			"persona_id", l.personaID, "path", l.path, "error", err)
		return
	}
	l.interactions = state.Interactions
}

func (l *Layer) persistLocked() error {
	state := fileState{
		PersonaID:    string(l.personaID),
		UpdatedAt:    time.Now().UTC(),
		Interactions: l.interactions,
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode experience file")
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write experience file")
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return errors.Wrap(err, "failed to replace experience file")
	}
	return nil
}

// RecordInteraction appends one exchange to the history and persists it.
// A failed write leaves the in-memory history unchanged.
func (l *Layer) RecordInteraction(ctx context.Context, sessionID, client, personaText string, metadata map[string]any) (Interaction, error) {
	if sessionID == "" {
		return Interaction{}, errors.Wrap(errors.ErrInvalidInput, "session ID cannot be empty")
	}

	interaction := Interaction{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Exchange:  Exchange{Client: client, Persona: personaText},
		Metadata:  metadata,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.interactions = append(l.interactions, interaction)
	if err := l.persistLocked(); err != nil {
		l.interactions = l.interactions[:len(l.interactions)-1]
		return Interaction{}, err
	}

	log.Debug("Recorded interaction",
		"persona_id", l.personaID,
		"session_id", sessionID,
		"total", len(l.interactions))
	return interaction, nil
}

// SearchInteractions ranks interactions by how many distinct query terms
// appear in the exchange text, case-insensitively. Zero-score interactions
// are excluded; ties keep insertion order. An empty sessionID searches all
// sessions.
func (l *Layer) SearchInteractions(query string, limit int, sessionID string) []Interaction {
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
		interaction Interaction
		score       int
	}
	var matches []scored
	for _, it := range l.interactions {
		if sessionID != "" && it.SessionID != sessionID {
			continue
		}
		score := overlapScore(terms, it.Exchange.Client+" "+it.Exchange.Persona)
		if score == 0 {
			continue
		}
		matches = append(matches, scored{interaction: it, score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	out := make([]Interaction, len(matches))
	for i, m := range matches {
		out[i] = m.interaction
	}
	return out
}

// CountForSession returns how many interactions belong to sessionID.
func (l *Layer) CountForSession(sessionID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, it := range l.interactions {
		if it.SessionID == sessionID {
			n++
		}
	}
	return n
}

// RecentForSession returns the last n interactions of sessionID in
// chronological order.
func (l *Layer) RecentForSession(sessionID string, n int) []Interaction {
	if n <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var matches []Interaction
	for _, it := range l.interactions {
		if it.SessionID == sessionID {
			matches = append(matches, it)
		}
	}
	if len(matches) > n {
		matches = matches[len(matches)-n:]
	}
	return matches
}

// GetContext formats the top matching interactions under a token budget,
// estimated at four characters per token. Entries that would overflow the
// budget are dropped whole; the first match is always kept.
func (l *Layer) GetContext(query string, maxTokens int) string {
	if maxTokens <= 0 {
		maxTokens = DefaultContextTokens
	}

	matches := l.SearchInteractions(query, contextSearchLimit, "")
	if len(matches) == 0 {
		return ""
	}

	charBudget := maxTokens * charsPerToken
	used := 0
	var parts []string
	for i, it := range matches {
		entry := formatInteraction(it)
		if i > 0 && used+len(entry) > charBudget {
			continue
		}
		parts = append(parts, entry)
		used += len(entry)
	}
	return strings.Join(parts, "\n\n")
}

func formatInteraction(it Interaction) string {
	return fmt.Sprintf("[%s | session %s]\nClient: %s\nPersona: %s",
		it.Timestamp.Format("2006-01-02 15:04"),
		it.SessionID,
		it.Exchange.Client,
		it.Exchange.Persona)
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
