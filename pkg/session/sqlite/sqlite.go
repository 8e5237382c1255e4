// Package sqlite implements the session store on a local SQLite database.
// It is the default backend: a single file under the data directory, no
// server required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mindsim/layermem/pkg/errors"
	"github.com/mindsim/layermem/pkg/log"
	"github.com/mindsim/layermem/pkg/persona"
	"github.com/mindsim/layermem/pkg/session"
)

// Store implements session.Store using SQLite.
type Store struct {
	db *sql.DB
}

var _ session.Store = (*Store)(nil)

// New opens (or creates) the SQLite database at path and prepares the
// schema. Use ":memory:" for an ephemeral store.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "database path is required")
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrap(err, "failed to create session directory %s", dir)
			}
		}
	}

	// _busy_timeout retries briefly instead of failing on a locked database;
	// _foreign_keys applies to every pooled connection, unlike a PRAGMA.
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sqlite database %s", path)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise open its own empty database.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.initializeSchema(); err != nil {
		db.Close()
		return nil, err
	}

	log.Debug("session store initialized", "backend", "sqlite", "path", path)
	return s, nil
}

func (s *Store) initializeSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			persona_id TEXT NOT NULL,
			client_name TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP,
			metadata TEXT NOT NULL DEFAULT '{}'
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_persona ON sessions (persona_id, started_at);
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_id, created_at);
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, persona_id, client_name, started_at, ended_at, metadata)
		VALUES (?, ?, ?, ?, NULL, ?)`,
		sess.ID, string(sess.PersonaID), sess.ClientName, sess.StartedAt, metadataJSON,
	)
	if err != nil {
		return session.Session{}, errors.Wrap(err, "failed to create session")
	}

	log.Debug("session created", "session_id", sess.ID, "persona", string(personaID))
	return sess, nil
}

// GetSession returns the session with the given ID.
func (s *Store) GetSession(ctx context.Context, id string) (session.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, persona_id, client_name, started_at, ended_at, metadata
		FROM sessions WHERE id = ?`, id,
	)

	var (
		sess         session.Session
		personaID    string
		endedAt      sql.NullTime
		metadataJSON []byte
	)
	err := row.Scan(&sess.ID, &personaID, &sess.ClientName, &sess.StartedAt, &endedAt, &metadataJSON)
	if err == sql.ErrNoRows {
		return session.Session{}, errors.Wrap(errors.ErrSessionNotFound, "session %s", id)
	}
	if err != nil {
		return session.Session{}, errors.Wrap(err, "failed to get session %s", id)
	}

	sess.PersonaID = persona.ID(personaID)
	if endedAt.Valid {
		t := endedAt.Time
		sess.EndedAt = &t
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &sess.Metadata); err != nil {
			return session.Session{}, errors.Wrap(err, "failed to unmarshal session metadata")
		}
	}
	return sess, nil
}

// ListSessions returns the persona's sessions, most recently started first.
func (s *Store) ListSessions(ctx context.Context, personaID persona.ID) ([]session.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, persona_id, client_name, started_at, ended_at, metadata
		FROM sessions WHERE persona_id = ?
		ORDER BY started_at DESC, rowid DESC`, string(personaID),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sessions")
	}
	defer rows.Close()

	var sessions []session.Session
	for rows.Next() {
		var (
			sess         session.Session
			pid          string
			endedAt      sql.NullTime
			metadataJSON []byte
		)
		if err := rows.Scan(&sess.ID, &pid, &sess.ClientName, &sess.StartedAt, &endedAt, &metadataJSON); err != nil {
			return nil, errors.Wrap(err, "failed to scan session")
		}
		sess.PersonaID = persona.ID(pid)
		if endedAt.Valid {
			t := endedAt.Time
			sess.EndedAt = &t
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &sess.Metadata); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal session metadata")
			}
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating over sessions")
	}
	return sessions, nil
}

// EndSession marks the session as ended. Already ended sessions keep their
// original end time.
func (s *Store) EndSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`,
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
		VALUES (?, ?, ?, ?, ?)`,
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

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at
		FROM messages WHERE session_id = ?
		ORDER BY created_at, rowid`, sessionID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	var messages []session.Message
	for rows.Next() {
		var msg session.Message
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating over messages")
	}
	return messages, nil
}

func (s *Store) sessionExists(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, id).Scan(&one)
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
