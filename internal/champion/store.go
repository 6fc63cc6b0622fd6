package champion

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Schema for the champion case table. Applied by import tooling and tests;
// the engine itself only ever reads.
const schema = `
CREATE TABLE IF NOT EXISTS champion_cases (
	id TEXT PRIMARY KEY,
	question TEXT NOT NULL,
	trace TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

// EnsureSchema creates the champion case table if it does not exist.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("ensure champion schema: %w", err)
	}
	return nil
}

// Store reads champion cases from a sqlite database.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// All returns every stored case, ordered by insertion.
func (s *Store) All(ctx context.Context) ([]Case, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, question, trace FROM champion_cases ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("query champion cases: %w", err)
	}
	defer rows.Close()

	var cases []Case
	for rows.Next() {
		var c Case
		var trace string
		if err := rows.Scan(&c.ID, &c.Question, &trace); err != nil {
			return nil, fmt.Errorf("scan champion case: %w", err)
		}
		c.Trace = json.RawMessage(trace)
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// Count returns the number of stored cases.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM champion_cases").Scan(&n)
	return n, err
}
