package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"maestro/internal/coordinator"
)

// AppendDelegation implements coordinator.Store.
func (s *Store) AppendDelegation(ctx context.Context, d coordinator.Delegation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delegations
			(id, parent_session_id, child_session_id, nesting_level, profile, goal, status, started_at, tokens_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ParentSessionID, d.ChildSessionID, d.NestingLevel,
		d.Profile, d.Goal, d.Status, d.StartedAt, d.TokensUsed)
	if err != nil {
		return fmt.Errorf("append delegation: %w", err)
	}
	return nil
}

// CompleteDelegation implements coordinator.Store.
func (s *Store) CompleteDelegation(ctx context.Context, id, status string, tokensUsed int, errMsg string) error {
	var errVal any
	if errMsg != "" {
		errVal = errMsg
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE delegations SET status = ?, completed_at = ?, tokens_used = ?, error = ?
		WHERE id = ?`,
		status, time.Now().UTC(), tokensUsed, errVal, id)
	if err != nil {
		return fmt.Errorf("complete delegation: %w", err)
	}
	return nil
}

// Delegations returns the audit trail for a parent session, oldest first.
func (s *Store) Delegations(ctx context.Context, parentSessionID string) ([]coordinator.Delegation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_session_id, child_session_id, nesting_level, profile, goal,
		       status, started_at, completed_at, tokens_used, error
		FROM delegations WHERE parent_session_id = ? ORDER BY started_at, id`, parentSessionID)
	if err != nil {
		return nil, fmt.Errorf("list delegations: %w", err)
	}
	defer rows.Close()

	var out []coordinator.Delegation
	for rows.Next() {
		var d coordinator.Delegation
		var completedAt sql.NullTime
		var errMsg sql.NullString
		if err := rows.Scan(&d.ID, &d.ParentSessionID, &d.ChildSessionID, &d.NestingLevel,
			&d.Profile, &d.Goal, &d.Status, &d.StartedAt, &completedAt, &d.TokensUsed, &errMsg); err != nil {
			return nil, fmt.Errorf("scan delegation: %w", err)
		}
		if completedAt.Valid {
			d.CompletedAt = &completedAt.Time
		}
		if errMsg.Valid {
			d.Error = errMsg.String
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
