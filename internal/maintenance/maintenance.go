// Package maintenance runs the scheduled background sweeps: pruning stale
// sessions and re-pricing legacy cost records that predate a pricing table
// entry for their model.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"maestro/internal/ledger"
	"maestro/internal/session"
)

// Config tunes the sweeps. Schedules use standard 5-field cron expressions.
type Config struct {
	PruneSchedule   string
	RetentionDays   int
	RepriceSchedule string
}

// DefaultConfig returns the maintenance defaults: prune nightly, keep 90
// days, re-price weekly.
func DefaultConfig() Config {
	return Config{
		PruneSchedule:   "0 3 * * *",
		RetentionDays:   90,
		RepriceSchedule: "30 3 * * 0",
	}
}

// Service owns the cron scheduler and the sweep implementations.
type Service struct {
	cron    *cron.Cron
	store   *session.Store
	pricing *ledger.Pricing
	cfg     Config
	log     zerolog.Logger
}

// New creates a Service. Start registers and begins the schedules.
func New(store *session.Store, pricing *ledger.Pricing, cfg Config, log zerolog.Logger) *Service {
	return &Service{
		cron:    cron.New(),
		store:   store,
		pricing: pricing,
		cfg:     cfg,
		log:     log.With().Str("component", "maintenance").Logger(),
	}
}

// Start registers the sweeps and starts the scheduler.
func (m *Service) Start() error {
	if _, err := m.cron.AddFunc(m.cfg.PruneSchedule, func() {
		if n, err := m.RunPrune(context.Background()); err != nil {
			m.log.Error().Err(err).Msg("session prune failed")
		} else if n > 0 {
			m.log.Info().Int("pruned", n).Msg("stale sessions pruned")
		}
	}); err != nil {
		return fmt.Errorf("prune schedule %q: %w", m.cfg.PruneSchedule, err)
	}

	if _, err := m.cron.AddFunc(m.cfg.RepriceSchedule, func() {
		if n, err := m.RunReprice(context.Background()); err != nil {
			m.log.Error().Err(err).Msg("reprice sweep failed")
		} else if n > 0 {
			m.log.Info().Int("repriced", n).Msg("legacy cost records re-priced")
		}
	}); err != nil {
		return fmt.Errorf("reprice schedule %q: %w", m.cfg.RepriceSchedule, err)
	}

	m.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for a running sweep to finish.
func (m *Service) Stop() {
	<-m.cron.Stop().Done()
}

// RunPrune deletes root sessions whose last activity is older than the
// retention window. Child sessions go with their parents.
func (m *Service) RunPrune(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -m.cfg.RetentionDays)
	return m.store.PruneOlderThan(ctx, cutoff)
}

// RunReprice walks every session's cost records and re-prices the unpriced
// ones at current rates. Re-priced records are marked approximate, because
// current rates may not match what the tokens actually cost at the time.
// The cumulative chain is recomputed so it stays the exact sum of turn
// costs. Returns the number of records updated.
func (m *Service) RunReprice(ctx context.Context) (int, error) {
	ids, err := m.store.AllIDs(ctx)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, id := range ids {
		n, err := m.repriceSession(ctx, id)
		if err != nil {
			return updated, fmt.Errorf("reprice session %s: %w", id, err)
		}
		updated += n
	}
	return updated, nil
}

func (m *Service) repriceSession(ctx context.Context, sessionID string) (int, error) {
	records, err := m.store.ListCostRecords(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	updated := 0
	var cumulative ledger.MicroUSD
	for _, rec := range records {
		changed := false
		if !rec.Priced && m.pricing.Has(rec.Provider, rec.Model) {
			cost, err := m.pricing.Cost(rec.Provider, rec.Model, rec.InputTokens, rec.OutputTokens)
			if err != nil {
				return updated, err
			}
			rec.TurnCost = cost
			rec.Priced = true
			rec.Approximate = true
			changed = true
		}
		cumulative += rec.TurnCost
		if rec.SessionCumulative != cumulative {
			rec.SessionCumulative = cumulative
			changed = true
		}
		if changed {
			if err := m.store.UpdateCostRecord(ctx, sessionID, rec); err != nil {
				return updated, err
			}
			updated++
		}
	}
	return updated, nil
}
