package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"maestro/internal/provider"
)

// CostRecord is the per-turn accounting entry. Append-only per turn; the
// cumulative value at turn N equals the exact sum of turn costs 1..N.
type CostRecord struct {
	TurnID            string    `json:"turn_id"`
	Seq               int       `json:"seq"`
	Provider          string    `json:"provider"`
	Model             string    `json:"model"`
	InputTokens       int       `json:"turn_input_tokens"`
	OutputTokens      int       `json:"turn_output_tokens"`
	TurnCost          MicroUSD  `json:"turn_cost"`
	SessionCumulative MicroUSD  `json:"session_cost_cumulative"`
	Priced            bool      `json:"priced"`      // false when the pricing table had no entry
	Approximate       bool      `json:"approximate"` // true for legacy turns re-priced at current rates
	RecordedAt        time.Time `json:"recorded_at"`
}

// Store is the session-record contract the ledger persists through. The
// storage medium itself is owned elsewhere.
type Store interface {
	AppendCostRecord(ctx context.Context, sessionID string, rec CostRecord) error
	UpdateCostRecord(ctx context.Context, sessionID string, rec CostRecord) error
	ListCostRecords(ctx context.Context, sessionID string) ([]CostRecord, error)
}

// Sentinel errors for the ledger package.
var (
	// ErrNoOpenTurn is returned when usage arrives outside a turn.
	ErrNoOpenTurn = errors.New("no open turn")
	// ErrTurnAlreadyOpen is returned when a turn begins before the prior one
	// is finalized.
	ErrTurnAlreadyOpen = errors.New("turn already open")
	// ErrTurnNotFound is returned when amending an unknown turn.
	ErrTurnNotFound = errors.New("turn not found")
)

type openTurn struct {
	turnID       string
	providerName string
	model        string
	usage        provider.Usage
}

// SessionLedger maintains the running cost of one session. Parallel phases
// and child delegations report usage concurrently, so every mutation goes
// through a single mutex: the correctness property is an exact sum, not an
// approximate one.
type SessionLedger struct {
	pricing   *Pricing
	store     Store
	sessionID string
	log       zerolog.Logger

	mu      sync.Mutex
	open    *openTurn
	records []CostRecord
}

// NewSessionLedger creates a ledger for the given session.
func NewSessionLedger(sessionID string, pricing *Pricing, store Store, log zerolog.Logger) *SessionLedger {
	return &SessionLedger{
		pricing:   pricing,
		store:     store,
		sessionID: sessionID,
		log:       log.With().Str("component", "ledger").Str("session_id", sessionID).Logger(),
	}
}

// Load rebuilds the in-memory record cache from the store. Legacy records
// persisted before cost tracking carry token counts but no cost; they are
// re-priced at current rates and flagged approximate, with cumulative values
// rebuilt so the sum invariant holds over the re-priced sequence.
func (l *SessionLedger) Load(ctx context.Context) error {
	records, err := l.store.ListCostRecords(ctx, l.sessionID)
	if err != nil {
		return fmt.Errorf("list cost records: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var cumulative MicroUSD
	for i := range records {
		rec := &records[i]
		if !rec.Priced && (rec.InputTokens > 0 || rec.OutputTokens > 0) {
			cost, err := l.pricing.Cost(rec.Provider, rec.Model, rec.InputTokens, rec.OutputTokens)
			if err == nil {
				rec.TurnCost = cost
				rec.Priced = true
				rec.Approximate = true
				l.log.Warn().
					Str("turn_id", rec.TurnID).
					Str("model", rec.Model).
					Msg("legacy turn re-priced at current rates; cost is an approximation")
			}
		}
		cumulative += rec.TurnCost
		rec.SessionCumulative = cumulative
	}
	l.records = records
	return nil
}

// BeginTurn opens accounting for a new turn.
func (l *SessionLedger) BeginTurn(turnID, providerName, model string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.open != nil {
		return fmt.Errorf("%w: %s", ErrTurnAlreadyOpen, l.open.turnID)
	}
	l.open = &openTurn{turnID: turnID, providerName: providerName, model: model}
	return nil
}

// AddUsage folds token usage into the open turn's accumulators. Safe to call
// from concurrent phases and child delegations.
func (l *SessionLedger) AddUsage(u provider.Usage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.open == nil {
		return ErrNoOpenTurn
	}
	l.open.usage.Add(u)
	return nil
}

// FoldSystemUsage merges tokens from a system-level call (such as automatic
// session naming) into the open turn before its cost is computed. When no
// turn is open the caller must amend the persisted record instead.
func (l *SessionLedger) FoldSystemUsage(u provider.Usage) error {
	return l.AddUsage(u)
}

// OpenUsage returns the accumulated usage of the open turn.
func (l *SessionLedger) OpenUsage() (provider.Usage, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.open == nil {
		return provider.Usage{}, false
	}
	return l.open.usage, true
}

// FinalizeTurn computes the open turn's cost, derives the cumulative session
// cost as the sum of all prior turn costs plus this one, persists the record
// and closes the turn. A missing pricing entry produces a zero-cost record
// flagged unpriced; it never aborts the turn.
func (l *SessionLedger) FinalizeTurn(ctx context.Context) (CostRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.open == nil {
		return CostRecord{}, ErrNoOpenTurn
	}

	turn := l.open
	cost, err := l.pricing.Cost(turn.providerName, turn.model, turn.usage.InputTokens, turn.usage.OutputTokens)
	priced := true
	if err != nil {
		if !errors.Is(err, ErrNoPricing) {
			return CostRecord{}, err
		}
		priced = false
		l.log.Warn().
			Str("provider", turn.providerName).
			Str("model", turn.model).
			Msg("no pricing entry; recording zero cost")
	}

	rec := CostRecord{
		TurnID:            turn.turnID,
		Seq:               len(l.records) + 1,
		Provider:          turn.providerName,
		Model:             turn.model,
		InputTokens:       turn.usage.InputTokens,
		OutputTokens:      turn.usage.OutputTokens,
		TurnCost:          cost,
		SessionCumulative: l.cumulativeLocked() + cost,
		Priced:            priced,
		RecordedAt:        time.Now().UTC(),
	}
	if err := l.store.AppendCostRecord(ctx, l.sessionID, rec); err != nil {
		return CostRecord{}, fmt.Errorf("append cost record: %w", err)
	}
	l.records = append(l.records, rec)
	l.open = nil

	l.log.Debug().
		Str("turn_id", rec.TurnID).
		Int("input_tokens", rec.InputTokens).
		Int("output_tokens", rec.OutputTokens).
		Str("turn_cost", rec.TurnCost.String()).
		Str("cumulative", rec.SessionCumulative.String()).
		Msg("turn cost recorded")
	return rec, nil
}

// AmendTurn merges late usage into an already persisted turn, recomputes its
// stored cost in place, and shifts every later turn's cumulative value so
// the sum invariant keeps holding. Used when a system-level call lands after
// the turn's record was persisted.
func (l *SessionLedger) AmendTurn(ctx context.Context, turnID string, extra provider.Usage) (CostRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := -1
	for i := range l.records {
		if l.records[i].TurnID == turnID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return CostRecord{}, fmt.Errorf("%w: %s", ErrTurnNotFound, turnID)
	}

	rec := &l.records[idx]
	rec.InputTokens += extra.InputTokens
	rec.OutputTokens += extra.OutputTokens
	cost, err := l.pricing.Cost(rec.Provider, rec.Model, rec.InputTokens, rec.OutputTokens)
	if err != nil && !errors.Is(err, ErrNoPricing) {
		return CostRecord{}, err
	}
	rec.TurnCost = cost
	rec.Priced = err == nil

	// Rebuild cumulative values from the amended turn forward.
	var cumulative MicroUSD
	if idx > 0 {
		cumulative = l.records[idx-1].SessionCumulative
	}
	for i := idx; i < len(l.records); i++ {
		cumulative += l.records[i].TurnCost
		l.records[i].SessionCumulative = cumulative
		if err := l.store.UpdateCostRecord(ctx, l.sessionID, l.records[i]); err != nil {
			return CostRecord{}, fmt.Errorf("update cost record: %w", err)
		}
	}

	l.log.Info().
		Str("turn_id", turnID).
		Int("extra_input", extra.InputTokens).
		Int("extra_output", extra.OutputTokens).
		Msg("persisted turn amended with late system usage")
	return l.records[idx], nil
}

// Cumulative returns the current cumulative session cost.
func (l *SessionLedger) Cumulative() MicroUSD {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cumulativeLocked()
}

// Records returns a copy of the recorded turns.
func (l *SessionLedger) Records() []CostRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]CostRecord, len(l.records))
	copy(out, l.records)
	return out
}

// cumulativeLocked derives the cumulative cost by summing stored turn costs,
// never by trusting a separately maintained counter.
func (l *SessionLedger) cumulativeLocked() MicroUSD {
	var sum MicroUSD
	for _, rec := range l.records {
		sum += rec.TurnCost
	}
	return sum
}
