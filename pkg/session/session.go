// Package session persists therapy session records and their message
// transcripts. A session belongs to one persona and carries the exchanges the
// experience layer records, so past conversations can be listed and replayed
// independently of the memory layers.
package session

import (
	"context"
	"time"

	"github.com/mindsim/layermem/pkg/persona"
)

// Message roles used by the orchestrator when recording an exchange.
const (
	RoleClient  = "client"
	RolePersona = "persona"
)

// Session is a single conversation between a client and a persona.
type Session struct {
	ID         string                 `json:"id"`
	PersonaID  persona.ID             `json:"persona_id"`
	ClientName string                 `json:"client_name"`
	StartedAt  time.Time              `json:"started_at"`
	EndedAt    *time.Time             `json:"ended_at,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Active reports whether the session has not been ended yet.
func (s Session) Active() bool {
	return s.EndedAt == nil
}

// Message is one utterance inside a session.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the interface for session and message persistence.
type Store interface {
	// CreateSession opens a new session for the persona and returns it with
	// a generated ID and start time.
	CreateSession(ctx context.Context, personaID persona.ID, clientName string, metadata map[string]interface{}) (Session, error)

	// GetSession returns the session with the given ID, or
	// errors.ErrSessionNotFound.
	GetSession(ctx context.Context, id string) (Session, error)

	// ListSessions returns the persona's sessions, most recently started
	// first.
	ListSessions(ctx context.Context, personaID persona.ID) ([]Session, error)

	// EndSession marks the session as ended. Ending an already ended session
	// is a no-op; an unknown ID returns errors.ErrSessionNotFound.
	EndSession(ctx context.Context, id string) error

	// AppendMessage adds a message to the session's transcript and returns it
	// with a generated ID and timestamp.
	AppendMessage(ctx context.Context, sessionID, role, content string) (Message, error)

	// ListMessages returns the session's transcript in insertion order.
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)

	// Close releases the underlying database resources.
	Close() error
}
