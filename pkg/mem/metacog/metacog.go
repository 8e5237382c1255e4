// Package metacog implements the fourth memory layer: the persona's model of
// its own knowledge. It tracks per-domain confidence with a bounded growth
// trajectory, a learning-style profile, and activity counters, persisted as
// one JSON document per persona.
package metacog

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

	"github.com/mindsim/layermem/pkg/errors"
	"github.com/mindsim/layermem/pkg/log"
	"github.com/mindsim/layermem/pkg/persona"
)

// MaxTrajectoryPoints bounds each domain's growth trajectory; older points
// are dropped silently.
const MaxTrajectoryPoints = 10

// topDomains is how many domains the self-awareness block renders.
const topDomains = 5

// Note is a timestamped free-form observation attached to a domain.
type Note struct {
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
}

// TrajectoryPoint is one confidence sample in a domain's growth trajectory.
type TrajectoryPoint struct {
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
}

// DomainKnowledge tracks the persona's self-assessed command of one domain.
type DomainKnowledge struct {
	Domain           string            `json:"domain"`
	Confidence       float64           `json:"confidence"`
	GrowthTrajectory []TrajectoryPoint `json:"growth_trajectory"`
	LastUpdated      time.Time         `json:"last_updated"`
	Notes            []Note            `json:"notes,omitempty"`
}

// LearningStyle describes how the persona prefers to acquire knowledge.
type LearningStyle struct {
	Mode  string `json:"mode"`
	Focus string `json:"focus"`
}

// Counters holds the layer's activity counters.
type Counters struct {
	KnowledgeUpdates  int `json:"knowledge_updates"`
	InsightsGenerated int `json:"insights_generated"`
}

// Layer is the meta-cognitive memory layer for one persona.
type Layer struct {
	mu            sync.Mutex
	path          string
	personaID     persona.ID
	domains       map[string]*DomainKnowledge
	learningStyle LearningStyle
	counters      Counters
}

type fileState struct {
	PersonaID     string                      `json:"persona_id"`
	UpdatedAt     time.Time                   `json:"updated_at"`
	Domains       map[string]*DomainKnowledge `json:"domains"`
	LearningStyle LearningStyle               `json:"learning_style"`
	Counters      Counters                    `json:"counters"`
}

// New opens the persona's meta-cognition file under dataDir, creating the
// directory if needed. A missing or corrupt file degrades to an empty model
// with a logged warning.
func New(dataDir string, id persona.ID) (*Layer, error) {
	if dataDir == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "data directory cannot be empty")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create data directory")
	}

	l := &Layer{
		path:          filepath.Join(dataDir, fmt.Sprintf("%s_metacognition.json", id)),
		personaID:     id,
		domains:       make(map[string]*DomainKnowledge),
		learningStyle: LearningStyle{Mode: "balanced", Focus: "general"},
	}
	l.load()
	return l, nil
}

func (l *Layer) load() {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("Failed to read meta-cognition file, starting empty",
				"persona_id", l.personaID, "path", l.path, "error", err)
		}
		return
	}
	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		log.Warn("Corrupt meta-cognition file, starting empty",
			"persona_id", l.personaID, "path", l.path, "error", err)
		return
	}
	if state.Domains != nil {
		l.domains = state.Domains
	}
	if state.LearningStyle.Mode != "" {
		l.learningStyle = state.LearningStyle
	}
	l.counters = state.Counters
}

func (l *Layer) persistLocked() error {
	state := fileState{
		PersonaID:     string(l.personaID),
		UpdatedAt:     time.Now().UTC(),
		Domains:       l.domains,
		LearningStyle: l.learningStyle,
		Counters:      l.counters,
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode meta-cognition file")
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write meta-cognition file")
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return errors.Wrap(err, "failed to replace meta-cognition file")
	}
	return nil
}

// UpdateDomainKnowledge upserts the domain's confidence, appends a
// trajectory point (bounded at MaxTrajectoryPoints), attaches an optional
// note, bumps the knowledge_updates counter, and persists.
func (l *Layer) UpdateDomainKnowledge(ctx context.Context, domain string, confidence float64, note string) error {
	if strings.TrimSpace(domain) == "" {
		return errors.Wrap(errors.ErrInvalidInput, "domain cannot be empty")
	}
	confidence = clampConfidence(confidence)
	now := time.Now().UTC()

	l.mu.Lock()
	defer l.mu.Unlock()

	dk, ok := l.domains[domain]
	if !ok {
		dk = &DomainKnowledge{Domain: domain}
		l.domains[domain] = dk
	}
	dk.Confidence = confidence
	dk.LastUpdated = now
	dk.GrowthTrajectory = append(dk.GrowthTrajectory, TrajectoryPoint{Timestamp: now, Confidence: confidence})
	if len(dk.GrowthTrajectory) > MaxTrajectoryPoints {
		dk.GrowthTrajectory = dk.GrowthTrajectory[len(dk.GrowthTrajectory)-MaxTrajectoryPoints:]
	}
	if note != "" {
		dk.Notes = append(dk.Notes, Note{Timestamp: now, Content: note})
	}
	l.counters.KnowledgeUpdates++

	if err := l.persistLocked(); err != nil {
		return err
	}

	log.Debug("Updated domain knowledge",
		"persona_id", l.personaID,
		"domain", domain,
		"confidence", confidence,
		"trajectory_points", len(dk.GrowthTrajectory))
	return nil
}

// RecordInsightGeneration bumps the insights_generated counter and persists.
func (l *Layer) RecordInsightGeneration(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.counters.InsightsGenerated++
	return l.persistLocked()
}

// DomainKnowledgeFor returns a copy of the domain's record.
func (l *Layer) DomainKnowledgeFor(domain string) (DomainKnowledge, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	dk, ok := l.domains[domain]
	if !ok {
		return DomainKnowledge{}, false
	}
	out := *dk
	out.GrowthTrajectory = append([]TrajectoryPoint(nil), dk.GrowthTrajectory...)
	out.Notes = append([]Note(nil), dk.Notes...)
	return out, true
}

// Counters returns the current counter values.
func (l *Layer) Counters() Counters {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counters
}

// SetLearningStyle replaces the learning-style profile and persists.
func (l *Layer) SetLearningStyle(ctx context.Context, style LearningStyle) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.learningStyle = style
	return l.persistLocked()
}

// LearningStyle returns the current learning-style profile.
func (l *Layer) LearningStyle() LearningStyle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.learningStyle
}

// SelfAwarenessContext renders the top domains by confidence, the
// learning-style profile, and both counters as a fixed-shape block.
func (l *Layer) SelfAwarenessContext() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	domains := make([]*DomainKnowledge, 0, len(l.domains))
	for _, dk := range l.domains {
		domains = append(domains, dk)
	}
	sort.Slice(domains, func(i, j int) bool {
		if domains[i].Confidence != domains[j].Confidence {
			return domains[i].Confidence > domains[j].Confidence
		}
		return domains[i].Domain < domains[j].Domain
	})
	if len(domains) > topDomains {
		domains = domains[:topDomains]
	}

	var b strings.Builder
	if len(domains) > 0 {
		b.WriteString("Domain confidence:\n")
		for _, dk := range domains {
			fmt.Fprintf(&b, "- %s: %.2f (updated %s)\n",
				dk.Domain, dk.Confidence, dk.LastUpdated.Format("2006-01-02"))
		}
	}
	fmt.Fprintf(&b, "Learning style: %s mode, %s focus\n", l.learningStyle.Mode, l.learningStyle.Focus)
	fmt.Fprintf(&b, "Knowledge updates: %d | Insights generated: %d",
		l.counters.KnowledgeUpdates, l.counters.InsightsGenerated)
	return b.String()
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
