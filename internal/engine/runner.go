package engine

import (
	"context"

	"maestro/internal/coordinator"
	"maestro/internal/provider"
)

var _ coordinator.Runner = (*Engine)(nil)

// RunChild implements coordinator.Runner: it creates the child session the
// delegation record names and runs the goal as a full turn inside it. The
// child's tokens flow back to the parent turn through the dispatch result.
func (e *Engine) RunChild(ctx context.Context, d coordinator.Delegation, goal coordinator.ChildGoal) (coordinator.ChildResult, error) {
	if _, err := e.store.CreateChild(ctx, d.ChildSessionID, d.ParentSessionID, d.NestingLevel, goal.Profile); err != nil {
		return coordinator.ChildResult{ChildSessionID: d.ChildSessionID}, err
	}

	result, err := e.Turn(ctx, d.ChildSessionID, goal.Goal)
	out := coordinator.ChildResult{ChildSessionID: d.ChildSessionID}
	if result != nil {
		out.Text = result.Answer
		out.Degraded = result.Degraded
		out.Usage = provider.Usage{
			InputTokens:  result.Cost.InputTokens,
			OutputTokens: result.Cost.OutputTokens,
		}
	}
	return out, err
}

// RunLocal implements coordinator.Runner: when the nesting cap refuses a
// child, the goal runs as one phase inside the parent session instead, with
// the whole tool catalogue as its candidate scope.
func (e *Engine) RunLocal(ctx context.Context, parentSessionID string, goal coordinator.ChildGoal) (coordinator.ChildResult, error) {
	history, err := e.store.History(ctx, parentSessionID)
	if err != nil {
		return coordinator.ChildResult{}, err
	}
	var behavior []string
	if e.behavior != nil {
		behavior = e.behavior.Blocks()
	}

	phase := e.newLocalPhase(goal.Goal)
	out := e.executor.Execute(ctx, e.phaseInput(parentSessionID, "", phase, history, behavior, resolveTemporal(goal.Goal)))

	result := coordinator.ChildResult{
		Text:     phaseSection(phase, out),
		Usage:    out.Usage,
		Degraded: out.Degraded,
		Err:      out.Err,
	}
	return result, nil
}
