// Package postgres implements the session store on PostgreSQL. The schema is
// created on startup and mirrored by the SQL files under migrations/ for
// deployments that manage schema separately.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mindsim/layermem/pkg/errors"
	"github.com/mindsim/layermem/pkg/log"
	"github.com/mindsim/layermem/pkg/persona"
	"github.com/mindsim/layermem/pkg/session"
)

// Store implements session.Store using PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ session.Store = (*Store)(nil)

type sessionRow struct {
	ID         string       `db:"id"`
	PersonaID  string       `db:"persona_id"`
	ClientName string       `db:"client_name"`
	StartedAt  time.Time    `db:"started_at"`
	EndedAt    sql.NullTime `db:"ended_at"`
	Metadata   []byte       `db:"metadata"`
}

type messageRow struct {
	ID        string    `db:"id"`
	SessionID string    `db:"session_id"`
	Role      string    `db:"role"`
	Content   string    `db:"content"`
	CreatedAt time.Time `db:"created_at"`
}

// New connects to the database and prepares the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "database DSN is required")
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}

	s := &Store{db: db}
	if err := s.initializeSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Debug("session store initialized", "backend", "postgres")
	return s, nil
}

func (s *Store) initializeSchema(ctx context.Context) error {
	// messages.seq orders a transcript even when timestamps collide at
	// microsecond resolution
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			persona_id TEXT NOT NULL,
			client_name TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_persona ON sessions (persona_id, started_at DESC);
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
			seq BIGSERIAL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_id, seq);
	`)
	if err != nil {
		return errors.Wrap(err, "failed to initialize session schema")
	}
	return nil
}

// CreateSession opens a new session for the persona.
func (s *Store) CreateSession(ctx context.Context, personaID persona.ID, clientName string, metadata map[string]interface{}) (session.Session, error) {
	if strings.TrimSpace(string(personaID)) == "" {
		return session.Session{}, errors.Wrap(errors.ErrInvalidInput, "persona ID is required")
	}

	sess := session.Session{
		ID:         uuid.New().String(),
		PersonaID:  personaID,
		ClientName: clientName,
		StartedAt:  time.Now().UTC(),
		Metadata:   metadata,
	}

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return session.Session{}, errors.Wrap(err, "failed to marshal session metadata")
	}

	// lib/pq sends []byte as bytea, so JSONB parameters go over as text
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, persona_id, client_name, started_at, ended_at, metadata)
		VALUES ($1, $2, $3, $4, NULL, $5::jsonb)`,
		sess.ID, string(sess.PersonaID), sess.ClientName, sess.StartedAt, string(metadataJSON),
	)
	if err != nil {
		return session.Session{}, errors.Wrap(err, "failed to create session")
	}

	log.Debug("session created", "session_id", sess.ID, "persona", string(personaID))
	return sess, nil
}

// GetSession returns the session with the given ID.
func (s *Store) GetSession(ctx context.Context, id string) (session.Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, persona_id, client_name, started_at, ended_at, metadata
		FROM sessions WHERE id = $1`, id,
	)
	if err == sql.ErrNoRows {
		return session.Session{}, errors.Wrap(errors.ErrSessionNotFound, "session %s", id)
	}
	if err != nil {
		return session.Session{}, errors.Wrap(err, "failed to get session %s", id)
	}
	return row.toSession()
}

// ListSessions returns the persona's sessions, most recently started first.
func (s *Store) ListSessions(ctx context.Context, personaID persona.ID) ([]session.Session, error) {
	var rows []sessionRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, persona_id, client_name, started_at, ended_at, metadata
		FROM sessions WHERE persona_id = $1
		ORDER BY started_at DESC`, string(personaID),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sessions")
	}

	var sessions []session.Session
	for _, row := range rows {
		sess, err := row.toSession()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// EndSession marks the session as ended. Already ended sessions keep their
// original end time.
func (s *Store) EndSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = $1 WHERE id = $2 AND ended_at IS NULL`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return errors.Wrap(err, "failed to end session %s", id)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if affected == 0 {
		// Either the session does not exist or it was already ended.
		if _, err := s.GetSession(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// AppendMessage adds a message to the session's transcript.
func (s *Store) AppendMessage(ctx context.Context, sessionID, role, content string) (session.Message, error) {
	if strings.TrimSpace(role) == "" {
		return session.Message{}, errors.Wrap(errors.ErrInvalidInput, "message role is required")
	}
	if err := s.sessionExists(ctx, sessionID); err != nil {
		return session.Message{}, err
	}

	msg := session.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return session.Message{}, errors.Wrap(err, "failed to append message")
	}
	return msg, nil
}

// ListMessages returns the session's transcript in insertion order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]session.Message, error) {
	if err := s.sessionExists(ctx, sessionID); err != nil {
		return nil, err
	}

	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, session_id, role, content, created_at
		FROM messages WHERE session_id = $1
		ORDER BY seq`, sessionID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}

	var messages []session.Message
	for _, row := range rows {
		messages = append(messages, session.Message{
			ID:        row.ID,
			SessionID: row.SessionID,
			Role:      row.Role,
			Content:   row.Content,
			CreatedAt: row.CreatedAt,
		})
	}
	return messages, nil
}

func (s *Store) sessionExists(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = $1`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return errors.Wrap(errors.ErrSessionNotFound, "session %s", id)
	}
	if err != nil {
		return errors.Wrap(err, "failed to check session %s", id)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for integration tests.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (r sessionRow) toSession() (session.Session, error) {
	sess := session.Session{
		ID:         r.ID,
		PersonaID:  persona.ID(r.PersonaID),
		ClientName: r.ClientName,
		StartedAt:  r.StartedAt,
	}
	if r.EndedAt.Valid {
		t := r.EndedAt.Time
		sess.EndedAt = &t
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &sess.Metadata); err != nil {
			return session.Session{}, errors.Wrap(err, "failed to unmarshal session metadata")
		}
	}
	return sess, nil
}
