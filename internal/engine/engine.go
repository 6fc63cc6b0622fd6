// Package engine drives the turn loop: planning, phase execution, nested
// delegation, cost accounting and event emission for one or more sessions.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"maestro/internal/budget"
	"maestro/internal/coordinator"
	"maestro/internal/events"
	"maestro/internal/executor"
	"maestro/internal/ledger"
	"maestro/internal/planner"
	"maestro/internal/provider"
	"maestro/internal/session"
	"maestro/internal/temporal"
	"maestro/internal/tools"
)

// BehaviorSource supplies opaque injected text blocks that are prepended to
// planning and execution prompts and never persisted as history.
type BehaviorSource interface {
	Blocks() []string
}

// Config tunes the engine.
type Config struct {
	Model string

	// MaxParallelPhases bounds concurrently executing independent phases
	// within a single-agent turn.
	MaxParallelPhases int

	// FanoutMinPhases is the minimum count of independent phases before a
	// turn is delegated to child sessions instead of executed in place.
	FanoutMinPhases int

	// FanoutProfile names the execution profile child sessions run under.
	FanoutProfile string

	// AutoTitle generates a session title after the first turn. The naming
	// call's tokens are folded into that turn's cost record.
	AutoTitle bool
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxParallelPhases: 2,
		FanoutMinPhases:   2,
		FanoutProfile:     "specialist",
		AutoTitle:         true,
	}
}

// TurnResult is the outcome of one user turn.
type TurnResult struct {
	TurnID   string
	Answer   string
	Plan     *planner.Plan
	Outcomes []executor.Outcome

	// Degraded marks a turn where at least one phase or child delegation
	// exhausted self-correction; the answer represents it explicitly.
	Degraded bool

	// Cost is the persisted record for this turn, present even when the turn
	// was cancelled or aborted: consumed tokens are never rolled back.
	Cost ledger.CostRecord
}

// Engine executes turns against one provider and one tool registry.
type Engine struct {
	provider provider.Provider
	registry *tools.Registry
	planner  *planner.Planner
	executor *executor.Executor
	coord    *coordinator.Coordinator
	pricing  *ledger.Pricing
	store    *session.Store
	bus      *events.Bus
	behavior BehaviorSource
	cfg      Config
	log      zerolog.Logger

	mu      sync.Mutex
	ledgers map[string]*ledger.SessionLedger
}

// Options carries the collaborators New wires together.
type Options struct {
	Provider  provider.Provider
	Registry  *tools.Registry
	Retriever planner.Retriever
	Allocator *budget.Allocator
	Pricing   *ledger.Pricing
	Store     *session.Store
	Bus       *events.Bus
	Behavior  BehaviorSource

	PlannerConfig     planner.Config
	ExecutorConfig    executor.Config
	CoordinatorConfig coordinator.Config
	Config            Config
}

// New assembles an Engine. The coordinator delegates back into the engine,
// so child sessions run the same turn loop as their parents.
func New(opts Options, log zerolog.Logger) *Engine {
	if opts.Config.Model == "" {
		opts.Config.Model = opts.PlannerConfig.Model
	}
	opts.PlannerConfig.Model = opts.Config.Model
	opts.ExecutorConfig.Model = opts.Config.Model

	e := &Engine{
		provider: opts.Provider,
		registry: opts.Registry,
		pricing:  opts.Pricing,
		store:    opts.Store,
		bus:      opts.Bus,
		behavior: opts.Behavior,
		cfg:      opts.Config,
		log:      log.With().Str("component", "engine").Logger(),
		ledgers:  map[string]*ledger.SessionLedger{},
	}
	e.planner = planner.New(opts.Provider, opts.Retriever, opts.Allocator, opts.Registry, opts.PlannerConfig, log)
	e.executor = executor.New(opts.Provider, opts.Registry, opts.Bus, opts.ExecutorConfig, log)
	e.coord = coordinator.New(e, opts.Store, opts.Bus, opts.CoordinatorConfig, log)
	return e
}

// Turn runs one user turn to completion. Cancelling ctx aborts outstanding
// provider and tool calls cooperatively, but the cost consumed up to that
// point is still computed and persisted before Turn returns.
func (e *Engine) Turn(ctx context.Context, sessionID, text string) (*TurnResult, error) {
	sess, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	led, err := e.ledgerFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	result := &TurnResult{TurnID: uuid.New().String()}
	if err := led.BeginTurn(result.TurnID, e.provider.Name(), e.cfg.Model); err != nil {
		return nil, err
	}
	e.emit(events.Event{Type: events.TypeTurnStarted, SessionID: sessionID, TurnID: result.TurnID, Detail: text})

	history, err := e.store.History(ctx, sessionID)
	if err != nil {
		return result, e.abortTurn(ctx, sessionID, led, result, err)
	}
	if err := e.store.AppendMessage(ctx, sessionID, provider.Message{Role: provider.RoleUser, Content: text}); err != nil {
		return result, e.abortTurn(ctx, sessionID, led, result, err)
	}

	var behaviorBlocks []string
	if e.behavior != nil {
		behaviorBlocks = e.behavior.Blocks()
	}

	plan, usage, err := e.planner.Plan(ctx, planner.TurnInput{
		TurnID:   result.TurnID,
		Text:     text,
		History:  history,
		Behavior: behaviorBlocks,
	})
	if uerr := led.AddUsage(usage); uerr != nil {
		e.log.Error().Err(uerr).Msg("usage lost outside open turn")
	}
	if err != nil {
		// Planning failures are fatal for the turn but the tokens the
		// planner consumed are still flushed.
		return result, e.abortTurn(ctx, sessionID, led, result, err)
	}
	result.Plan = plan
	e.emitPlan(sessionID, result.TurnID, plan)

	switch {
	case plan.Direct:
		result.Answer = plan.Answer
	default:
		resolved := resolveTemporal(text)
		answer, degraded, runErr := e.runPlan(ctx, sess, led, result, plan, text, history, behaviorBlocks, resolved)
		result.Answer = answer
		result.Degraded = degraded
		if runErr != nil {
			return result, e.abortTurn(ctx, sessionID, led, result, runErr)
		}
	}

	if err := e.store.AppendMessage(ctx, sessionID, provider.Message{Role: provider.RoleAssistant, Content: result.Answer}); err != nil {
		e.log.Warn().Err(err).Msg("failed to persist assistant message")
	}

	rec, err := led.FinalizeTurn(context.WithoutCancel(ctx))
	if err != nil {
		return result, fmt.Errorf("finalize turn: %w", err)
	}
	result.Cost = rec
	e.emitCost(sessionID, rec)

	if e.cfg.AutoTitle && sess.Title == "" && sess.NestingLevel == 0 {
		if amended, ok := e.nameSession(ctx, sess, text, result.TurnID, led); ok {
			result.Cost = amended
			e.emitCost(sessionID, amended)
		}
	}

	e.emit(events.Event{
		Type:      events.TypeTurnCompleted,
		SessionID: sessionID,
		TurnID:    result.TurnID,
		Detail:    turnStatus(result.Degraded),
	})
	return result, nil
}

// abortTurn flushes the cost consumed so far and surfaces err. Cancellation
// and fatal planner/provider errors all land here: cost is never rolled back.
func (e *Engine) abortTurn(ctx context.Context, sessionID string, led *ledger.SessionLedger, result *TurnResult, err error) error {
	rec, ferr := led.FinalizeTurn(context.WithoutCancel(ctx))
	if ferr != nil {
		e.log.Error().Err(ferr).Str("turn_id", result.TurnID).Msg("failed to flush cost record for aborted turn")
	} else {
		result.Cost = rec
		e.emitCost(sessionID, rec)
	}
	result.Degraded = true
	e.emit(events.Event{
		Type:      events.TypeTurnCompleted,
		SessionID: sessionID,
		TurnID:    result.TurnID,
		Detail:    "aborted",
	})
	e.log.Warn().Err(err).Str("turn_id", result.TurnID).Msg("turn aborted")
	return err
}

// ledgerFor returns the session's ledger, loading persisted records once.
func (e *Engine) ledgerFor(ctx context.Context, sessionID string) (*ledger.SessionLedger, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if led, ok := e.ledgers[sessionID]; ok {
		return led, nil
	}
	led := ledger.NewSessionLedger(sessionID, e.pricing, e.store, e.log)
	if err := led.Load(ctx); err != nil {
		return nil, err
	}
	e.ledgers[sessionID] = led
	return led, nil
}

// Cumulative returns the session's current cumulative cost.
func (e *Engine) Cumulative(ctx context.Context, sessionID string) (ledger.MicroUSD, error) {
	led, err := e.ledgerFor(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return led.Cumulative(), nil
}

func (e *Engine) emit(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

func (e *Engine) emitPlan(sessionID, turnID string, plan *planner.Plan) {
	payload, err := json.Marshal(plan)
	if err != nil {
		payload = nil
	}
	e.emit(events.Event{Type: events.TypePlanCreated, SessionID: sessionID, TurnID: turnID, Payload: payload})
}

func (e *Engine) emitCost(sessionID string, rec ledger.CostRecord) {
	payload, err := json.Marshal(rec)
	if err != nil {
		payload = nil
	}
	e.emit(events.Event{Type: events.TypeCostUpdated, SessionID: sessionID, TurnID: rec.TurnID, Payload: payload})
}

func resolveTemporal(text string) *temporal.Range {
	if r, ok := temporal.Resolve(text, time.Now()); ok {
		return &r
	}
	return nil
}

func turnStatus(degraded bool) string {
	if degraded {
		return "degraded"
	}
	return "completed"
}
