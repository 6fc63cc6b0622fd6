package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"maestro/internal/events"
	"maestro/internal/provider"
)

// ErrNestingDepthExceeded marks a delegation refused because the nesting cap
// was reached. It never fails a turn on its own: the coordinator falls back
// to single-agent handling instead.
var ErrNestingDepthExceeded = errors.New("delegation nesting depth exceeded")

// Config bounds delegation.
type Config struct {
	// MaxDepth is the maximum nesting level a child may carry. Capped at
	// MaxAbsoluteDepth regardless of configuration.
	MaxDepth int

	// MaxParallelism bounds concurrently running children.
	MaxParallelism int

	Merge MergeStrategy
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{
		MaxDepth:       3,
		MaxParallelism: 4,
		Merge:          ConcatMerge{},
	}
}

// Coordinator fans a turn out to child sessions and merges their outputs.
type Coordinator struct {
	runner Runner
	store  Store
	bus    *events.Bus
	cfg    Config
	log    zerolog.Logger
}

// New creates a Coordinator. store and bus may be nil.
func New(runner Runner, store Store, bus *events.Bus, cfg Config, log zerolog.Logger) *Coordinator {
	if cfg.MaxDepth <= 0 || cfg.MaxDepth > MaxAbsoluteDepth {
		cfg.MaxDepth = MaxAbsoluteDepth
	}
	if cfg.MaxParallelism <= 0 {
		cfg.MaxParallelism = 1
	}
	if cfg.Merge == nil {
		cfg.Merge = ConcatMerge{}
	}
	return &Coordinator{
		runner: runner,
		store:  store,
		bus:    bus,
		cfg:    cfg,
		log:    log.With().Str("component", "coordinator").Logger(),
	}
}

// CanDelegate reports whether a session at the given nesting level may still
// spawn children.
func (c *Coordinator) CanDelegate(nestingLevel int) bool {
	return nestingLevel+1 < c.cfg.MaxDepth
}

// DispatchResult carries the merged output and the per-child results of one
// fan-out.
type DispatchResult struct {
	Merged   string
	Children []ChildResult
	Usage    provider.Usage
}

// Degraded reports whether any child failed or returned a partial result.
func (r DispatchResult) Degraded() bool {
	for _, c := range r.Children {
		if c.Degraded {
			return true
		}
	}
	return false
}

// Dispatch runs the goals as child delegations of the parent, bounded by the
// parallelism limit, and merges their outputs. The depth check happens here,
// before any child session or Delegation record exists; at the cap the goals
// run single-agent inside the parent session instead. Cancelling ctx
// propagates to every running child.
func (c *Coordinator) Dispatch(ctx context.Context, parent Parent, goals []ChildGoal) (DispatchResult, error) {
	if len(goals) == 0 {
		return DispatchResult{}, nil
	}

	if !c.CanDelegate(parent.NestingLevel) {
		c.log.Warn().
			Str("session_id", parent.SessionID).
			Int("nesting_level", parent.NestingLevel).
			Int("max_depth", c.cfg.MaxDepth).
			Err(ErrNestingDepthExceeded).
			Msg("refusing delegation, handling goals single-agent")
		return c.runLocal(ctx, parent, goals)
	}

	childLevel := parent.NestingLevel + 1
	delegations := make([]Delegation, len(goals))
	for i, goal := range goals {
		delegations[i] = Delegation{
			ID:              uuid.New().String(),
			ParentSessionID: parent.SessionID,
			ChildSessionID:  uuid.New().String(),
			NestingLevel:    childLevel,
			Profile:         goal.Profile,
			Goal:            goal.Goal,
			Status:          StatusRunning,
			StartedAt:       time.Now().UTC(),
		}
	}

	results := make([]ChildResult, len(goals))
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxParallelism)
	for i := range goals {
		g.Go(func() error {
			results[i] = c.runChild(groupCtx, parent, delegations[i], goals[i])
			return nil
		})
	}
	// Closures never return an error; Wait only synchronizes completion.
	_ = g.Wait()

	out := DispatchResult{Children: results, Merged: c.cfg.Merge.Merge(results)}
	for _, r := range results {
		out.Usage.Add(r.Usage)
	}
	return out, ctx.Err()
}

func (c *Coordinator) runChild(ctx context.Context, parent Parent, d Delegation, goal ChildGoal) ChildResult {
	if c.store != nil {
		if err := c.store.AppendDelegation(ctx, d); err != nil {
			c.log.Warn().Err(err).Str("delegation_id", d.ID).Msg("failed to persist delegation record")
		}
	}
	c.emit(parent, events.TypeDelegationStarted, d)

	start := time.Now()
	result, err := c.runner.RunChild(ctx, d, goal)
	result.Profile = goal.Profile
	if result.ChildSessionID == "" {
		result.ChildSessionID = d.ChildSessionID
	}

	status := StatusCompleted
	errMsg := ""
	switch {
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled)):
		status = StatusCancelled
		errMsg = err.Error()
		result.Degraded = true
		result.Err = err
	case err != nil:
		status = StatusFailed
		errMsg = err.Error()
		result.Degraded = true
		result.Err = err
	case result.Degraded:
		status = StatusFailed
	}

	if c.store != nil {
		if err := c.store.CompleteDelegation(context.WithoutCancel(ctx), d.ID, status, result.Usage.Total(), errMsg); err != nil {
			c.log.Warn().Err(err).Str("delegation_id", d.ID).Msg("failed to finalize delegation record")
		}
	}
	d.Status = status
	c.emit(parent, events.TypeDelegationFinished, d)

	c.log.Info().
		Str("delegation_id", d.ID).
		Str("profile", goal.Profile).
		Int("nesting_level", d.NestingLevel).
		Str("status", status).
		Dur("duration", time.Since(start)).
		Int("tokens", result.Usage.Total()).
		Msg("delegation resolved")
	return result
}

// runLocal handles goals sequentially inside the parent session when the
// nesting cap refuses children.
func (c *Coordinator) runLocal(ctx context.Context, parent Parent, goals []ChildGoal) (DispatchResult, error) {
	var out DispatchResult
	for _, goal := range goals {
		if err := ctx.Err(); err != nil {
			out.Merged = c.cfg.Merge.Merge(out.Children)
			return out, err
		}
		result, err := c.runner.RunLocal(ctx, parent.SessionID, goal)
		result.Profile = goal.Profile
		if err != nil {
			result.Degraded = true
			result.Err = err
		}
		out.Usage.Add(result.Usage)
		out.Children = append(out.Children, result)
	}
	out.Merged = c.cfg.Merge.Merge(out.Children)
	return out, nil
}

func (c *Coordinator) emit(parent Parent, typ events.Type, d Delegation) {
	if c.bus == nil {
		return
	}
	payload, err := json.Marshal(d)
	if err != nil {
		payload = nil
	}
	c.bus.Publish(events.Event{
		Type:      typ,
		SessionID: parent.SessionID,
		TurnID:    parent.TurnID,
		Detail:    d.Profile,
		Payload:   payload,
	})
}
