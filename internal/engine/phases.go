package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"maestro/internal/coordinator"
	"maestro/internal/executor"
	"maestro/internal/ledger"
	"maestro/internal/planner"
	"maestro/internal/provider"
	"maestro/internal/session"
	"maestro/internal/temporal"
)

const synthesizePrompt = `Compose the final answer to the user's request from the phase results below. Results marked degraded are partial: represent them as such, never omit them.

Request: %s

Results:
%s`

// degradedPrefix marks answers assembled from a turn that exhausted
// self-correction somewhere. Deterministic, so callers and tests can rely on
// it regardless of model output.
const degradedPrefix = "Partial result: some steps could not be completed.\n\n"

// runPlan executes a non-direct plan: either fanned out to child sessions or
// in place, then synthesizes the final answer.
func (e *Engine) runPlan(
	ctx context.Context,
	sess *session.Session,
	led *ledger.SessionLedger,
	result *TurnResult,
	plan *planner.Plan,
	text string,
	history []provider.Message,
	behavior []string,
	resolved *temporal.Range,
) (string, bool, error) {
	var sections []string
	var degraded bool

	if e.shouldFanout(sess, plan) {
		dres, err := e.coord.Dispatch(ctx, coordinator.Parent{
			SessionID:    sess.ID,
			TurnID:       result.TurnID,
			NestingLevel: sess.NestingLevel,
		}, fanoutGoals(plan, e.cfg.FanoutProfile))
		if uerr := led.AddUsage(dres.Usage); uerr != nil {
			e.log.Error().Err(uerr).Msg("delegation usage lost outside open turn")
		}
		degraded = dres.Degraded()
		markPhases(plan, dres.Children)
		if err != nil {
			return dres.Merged, true, err
		}
		sections = []string{dres.Merged}
	} else {
		var err error
		sections, degraded, err = e.runPhases(ctx, sess.ID, led, result, plan, text, history, behavior, resolved)
		if err != nil {
			return strings.Join(sections, "\n\n"), true, err
		}
	}

	answer := e.synthesize(ctx, led, text, sections, behavior)
	if degraded {
		answer = degradedPrefix + answer
	}
	return answer, degraded, nil
}

// shouldFanout reports whether the plan delegates to child sessions: every
// phase independent, enough of them, and headroom under the nesting cap.
func (e *Engine) shouldFanout(sess *session.Session, plan *planner.Plan) bool {
	if e.coord == nil || len(plan.Phases) < e.cfg.FanoutMinPhases {
		return false
	}
	if !e.coord.CanDelegate(sess.NestingLevel) {
		return false
	}
	for _, ph := range plan.Phases {
		if !ph.Independent {
			return false
		}
	}
	return true
}

func fanoutGoals(plan *planner.Plan, profile string) []coordinator.ChildGoal {
	goals := make([]coordinator.ChildGoal, len(plan.Phases))
	for i, ph := range plan.Phases {
		goals[i] = coordinator.ChildGoal{Profile: profile, Goal: ph.Goal}
	}
	return goals
}

func markPhases(plan *planner.Plan, children []coordinator.ChildResult) {
	for i, ph := range plan.Phases {
		if i >= len(children) {
			break
		}
		if children[i].Degraded {
			ph.Status = planner.StatusFailedTerminal
		} else {
			ph.Status = planner.StatusCompleted
		}
	}
}

// runPhases executes phases in place: sequential by default, with runs of
// consecutive independent phases executed concurrently against a shared
// history snapshot, bounded by the parallelism limit.
func (e *Engine) runPhases(
	ctx context.Context,
	sessionID string,
	led *ledger.SessionLedger,
	result *TurnResult,
	plan *planner.Plan,
	text string,
	history []provider.Message,
	behavior []string,
	resolved *temporal.Range,
) ([]string, bool, error) {
	working := append(slices.Clone(history), provider.Message{Role: provider.RoleUser, Content: text})
	var sections []string
	degraded := false

	phases := plan.Phases
	for i := 0; i < len(phases); {
		if err := ctx.Err(); err != nil {
			return sections, true, err
		}

		j := i + 1
		if phases[i].Independent {
			for j < len(phases) && phases[j].Independent {
				j++
			}
		}
		batch := phases[i:j]
		outs := make([]executor.Outcome, len(batch))

		if len(batch) == 1 {
			outs[0] = e.executor.Execute(ctx, e.phaseInput(sessionID, result.TurnID, batch[0], working, behavior, resolved))
		} else {
			snapshot := slices.Clone(working)
			g := new(errgroup.Group)
			g.SetLimit(e.cfg.MaxParallelPhases)
			for k := range batch {
				g.Go(func() error {
					outs[k] = e.executor.Execute(ctx, e.phaseInput(sessionID, result.TurnID, batch[k], snapshot, behavior, resolved))
					return nil
				})
			}
			_ = g.Wait()
		}

		for k, out := range outs {
			if uerr := led.AddUsage(out.Usage); uerr != nil {
				e.log.Error().Err(uerr).Msg("phase usage lost outside open turn")
			}
			result.Outcomes = append(result.Outcomes, out)
			section := phaseSection(batch[k], out)
			sections = append(sections, section)
			working = append(working, provider.Message{Role: provider.RoleAssistant, Content: section})
			if out.Degraded {
				degraded = true
			}
		}
		i = j
	}
	return sections, degraded, nil
}

func (e *Engine) phaseInput(sessionID, turnID string, phase *planner.Phase, history []provider.Message, behavior []string, resolved *temporal.Range) executor.PhaseInput {
	return executor.PhaseInput{
		SessionID: sessionID,
		TurnID:    turnID,
		Phase:     phase,
		History:   history,
		Behavior:  behavior,
		Resolved:  resolved,
	}
}

// phaseSection renders one phase outcome for history and answer assembly.
// Degraded phases are represented explicitly, never omitted.
func phaseSection(phase *planner.Phase, out executor.Outcome) string {
	if out.Result.OK() {
		return fmt.Sprintf("[%s]\n%s", phase.Goal, string(out.Result.Payload))
	}
	reason := out.Result.Detail
	if out.Err != nil {
		reason = out.Err.Error()
	}
	return fmt.Sprintf("[%s] degraded: %s", phase.Goal, reason)
}

// synthesize turns the phase sections into a user-facing answer. On provider
// failure the raw sections are returned rather than losing the results.
func (e *Engine) synthesize(ctx context.Context, led *ledger.SessionLedger, text string, sections []string, behavior []string) string {
	body := strings.Join(sections, "\n\n")
	if body == "" {
		return ""
	}

	var messages []provider.Message
	for _, block := range behavior {
		messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: block})
	}
	messages = append(messages, provider.Message{
		Role:    provider.RoleUser,
		Content: fmt.Sprintf(synthesizePrompt, text, body),
	})

	resp, err := e.provider.Invoke(ctx, provider.Request{
		Model:    e.cfg.Model,
		Messages: messages,
	})
	if err != nil {
		e.log.Warn().Err(err).Msg("answer synthesis failed, returning raw phase results")
		return body
	}
	if uerr := led.AddUsage(resp.Usage); uerr != nil {
		e.log.Error().Err(uerr).Msg("synthesis usage lost outside open turn")
	}
	return strings.TrimSpace(resp.Text)
}

// newLocalPhase wraps a delegated goal refused by the nesting cap as a
// single phase over the full tool catalogue.
func (e *Engine) newLocalPhase(goal string) *planner.Phase {
	return &planner.Phase{
		ID:             uuid.New().String(),
		Goal:           goal,
		CandidateTools: e.registry.Names(),
		Status:         planner.StatusPending,
	}
}
