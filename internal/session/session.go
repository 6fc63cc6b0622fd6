package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"maestro/internal/provider"
)

// ErrSessionNotFound is returned for lookups of unknown sessions.
var ErrSessionNotFound = errors.New("session not found")

// Session is one conversation: an ordered sequence of turns sharing
// cumulative cost and history. Child sessions carry their parent and nesting
// level.
type Session struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	ParentSessionID string    `json:"parent_session_id,omitempty"`
	NestingLevel    int       `json:"nesting_level"`
	Profile         string    `json:"profile,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Store persists sessions and everything scoped to them.
type Store struct {
	db *DB
}

// NewStore wraps an open database.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// Create inserts a new root session.
func (s *Store) Create(ctx context.Context, title string) (*Session, error) {
	return s.create(ctx, uuid.New().String(), title, "", 0, "")
}

// CreateChild inserts a child session under the given parent. The ID is
// supplied by the caller: the coordinator pre-allocates child session IDs
// for its audit records.
func (s *Store) CreateChild(ctx context.Context, id, parentID string, nestingLevel int, profile string) (*Session, error) {
	if id == "" {
		id = uuid.New().String()
	}
	return s.create(ctx, id, "", parentID, nestingLevel, profile)
}

func (s *Store) create(ctx context.Context, id, title, parentID string, nestingLevel int, profile string) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:              id,
		Title:           title,
		ParentSessionID: parentID,
		NestingLevel:    nestingLevel,
		Profile:         profile,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	var parent any
	if parentID != "" {
		parent = parentID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, parent_session_id, nesting_level, profile, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Title, parent, sess.NestingLevel, sess.Profile, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// Get returns one session by ID.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, parent_session_id, nesting_level, profile, created_at, updated_at
		FROM sessions WHERE id = ?`, id)

	var sess Session
	var parent sql.NullString
	err := row.Scan(&sess.ID, &sess.Title, &parent, &sess.NestingLevel, &sess.Profile, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if parent.Valid {
		sess.ParentSessionID = parent.String
	}
	return &sess, nil
}

// List returns root sessions, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, parent_session_id, nesting_level, profile, created_at, updated_at
		FROM sessions WHERE parent_session_id IS NULL
		ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var parent sql.NullString
		if err := rows.Scan(&sess.ID, &sess.Title, &parent, &sess.NestingLevel, &sess.Profile, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if parent.Valid {
			sess.ParentSessionID = parent.String
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Rename sets the session title. Used by automatic session naming.
func (s *Store) Rename(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?",
		title, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// Delete removes a session and everything scoped to it.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM messages WHERE session_id = ?", id); err != nil {
			return err
		}
		if _, err := tx.Exec("DELETE FROM cost_records WHERE session_id = ?", id); err != nil {
			return err
		}
		if _, err := tx.Exec("DELETE FROM delegations WHERE parent_session_id = ? OR child_session_id = ?", id, id); err != nil {
			return err
		}
		_, err := tx.Exec("DELETE FROM sessions WHERE id = ?", id)
		return err
	})
}

// AppendMessage appends one message to the session's history.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg provider.Message) error {
	return s.db.WithTx(func(tx *sql.Tx) error {
		var seq int
		if err := tx.QueryRow(
			"SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?",
			sessionID).Scan(&seq); err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO messages (session_id, seq, role, content, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			sessionID, seq, msg.Role, msg.Content, time.Now().UTC()); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		_, err := tx.Exec("UPDATE sessions SET updated_at = ? WHERE id = ?", time.Now().UTC(), sessionID)
		return err
	})
}

// History returns the session's messages in order.
func (s *Store) History(ctx context.Context, sessionID string) ([]provider.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT role, content FROM messages WHERE session_id = ? ORDER BY seq", sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []provider.Message
	for rows.Next() {
		var msg provider.Message
		if err := rows.Scan(&msg.Role, &msg.Content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// AllIDs returns every session ID, children included. Maintenance sweeps
// iterate this rather than the root-only List.
func (s *Store) AllIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM sessions ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("list session ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// PruneOlderThan deletes root sessions (and their scoped data) whose last
// activity predates the cutoff. Returns the number of sessions removed.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM sessions WHERE parent_session_id IS NULL AND updated_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("find stale sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			return 0, fmt.Errorf("prune session %s: %w", id, err)
		}
	}
	return len(ids), nil
}
