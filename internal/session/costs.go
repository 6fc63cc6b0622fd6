package session

import (
	"context"
	"fmt"

	"maestro/internal/ledger"
)

// AppendCostRecord implements ledger.Store.
func (s *Store) AppendCostRecord(ctx context.Context, sessionID string, rec ledger.CostRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cost_records
			(session_id, seq, turn_id, provider, model, input_tokens, output_tokens,
			 turn_cost, session_cumulative, priced, approximate, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, rec.Seq, rec.TurnID, rec.Provider, rec.Model,
		rec.InputTokens, rec.OutputTokens,
		int64(rec.TurnCost), int64(rec.SessionCumulative),
		rec.Priced, rec.Approximate, rec.RecordedAt)
	if err != nil {
		return fmt.Errorf("append cost record: %w", err)
	}
	return nil
}

// UpdateCostRecord implements ledger.Store: the ledger recomputes persisted
// records in place when late system usage is folded into a finished turn.
func (s *Store) UpdateCostRecord(ctx context.Context, sessionID string, rec ledger.CostRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cost_records SET
			input_tokens = ?, output_tokens = ?, turn_cost = ?,
			session_cumulative = ?, priced = ?, approximate = ?
		WHERE session_id = ? AND seq = ?`,
		rec.InputTokens, rec.OutputTokens,
		int64(rec.TurnCost), int64(rec.SessionCumulative),
		rec.Priced, rec.Approximate, sessionID, rec.Seq)
	if err != nil {
		return fmt.Errorf("update cost record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update cost record: %w: %s seq %d", ledger.ErrTurnNotFound, rec.TurnID, rec.Seq)
	}
	return nil
}

// ListCostRecords implements ledger.Store, returning records in turn order.
func (s *Store) ListCostRecords(ctx context.Context, sessionID string) ([]ledger.CostRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, turn_id, provider, model, input_tokens, output_tokens,
		       turn_cost, session_cumulative, priced, approximate, recorded_at
		FROM cost_records WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list cost records: %w", err)
	}
	defer rows.Close()

	var out []ledger.CostRecord
	for rows.Next() {
		var rec ledger.CostRecord
		var turnCost, cumulative int64
		if err := rows.Scan(&rec.Seq, &rec.TurnID, &rec.Provider, &rec.Model,
			&rec.InputTokens, &rec.OutputTokens, &turnCost, &cumulative,
			&rec.Priced, &rec.Approximate, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan cost record: %w", err)
		}
		rec.TurnCost = ledger.MicroUSD(turnCost)
		rec.SessionCumulative = ledger.MicroUSD(cumulative)
		out = append(out, rec)
	}
	return out, rows.Err()
}
