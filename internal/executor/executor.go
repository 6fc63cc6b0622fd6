package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"maestro/internal/events"
	"maestro/internal/planner"
	"maestro/internal/provider"
	"maestro/internal/tools"
)

// Executor resolves plan phases one at a time.
type Executor struct {
	provider provider.Provider
	registry *tools.Registry
	bus      *events.Bus
	cfg      Config
	log      zerolog.Logger
}

// New creates an Executor. bus may be nil when no consumer is attached.
func New(prov provider.Provider, registry *tools.Registry, bus *events.Bus, cfg Config, log zerolog.Logger) *Executor {
	return &Executor{
		provider: prov,
		registry: registry,
		bus:      bus,
		cfg:      cfg,
		log:      log.With().Str("component", "executor").Logger(),
	}
}

// Execute runs one phase to resolution: tactical tool selection, invocation,
// and the bounded self-correction loop. The phase always ends in completed or
// failed_terminal; a terminal failure is surfaced through the Outcome, never
// silently dropped. Cancelling ctx aborts between attempts.
func (e *Executor) Execute(ctx context.Context, input PhaseInput) Outcome {
	out := Outcome{Phase: input.Phase}
	input.Phase.Status = planner.StatusExecuting
	e.emit(input, events.Event{Type: events.TypePhaseStarted, Detail: input.Phase.Goal})

	candidates := e.registry.Subset(input.Phase.CandidateTools)
	if len(candidates) == 0 {
		out.Err = &tools.ToolNotFoundError{Name: strings.Join(input.Phase.CandidateTools, ", ")}
		return e.terminal(input, out)
	}

	tool, args, usage, err := e.selectTool(ctx, input, candidates)
	out.Usage.Add(usage)
	if err != nil {
		out.Err = err
		return e.terminal(input, out)
	}

	fallbackUsed := false
	for {
		result, fatal := e.correctUntilResolved(ctx, input, tool, &args, &out)
		out.Tool = tool.Name()
		out.Args = args
		out.Result = result
		if fatal != nil {
			out.Err = fatal
			return e.terminal(input, out)
		}
		if result.OK() {
			input.Phase.Status = planner.StatusCompleted
			e.emit(input, events.Event{
				Type:   events.TypePhaseCompleted,
				Tool:   tool.Name(),
				Detail: string(planner.StatusCompleted),
			})
			return out
		}

		// The selected tool exhausted its retry budget. At most one switch to
		// an alternate candidate is permitted before the phase fails.
		if !e.cfg.AllowFallbackTool || fallbackUsed {
			return e.terminal(input, out)
		}
		alt := fallbackCandidate(candidates, tool)
		if alt == nil {
			return e.terminal(input, out)
		}
		e.log.Info().
			Str("phase_id", input.Phase.ID).
			Str("from", tool.Name()).
			Str("to", alt.Name()).
			Msg("switching to fallback tool")
		args = rebindArgs(args, alt, input)
		bindTemporal(alt, args, input.Resolved)
		tool = alt
		fallbackUsed = true
	}
}

// correctUntilResolved invokes the tool and drives its correction loop until
// success, budget exhaustion, or an unchanged error signature. A non-nil
// error means the loop was aborted by something a correction cannot fix,
// such as cancellation or a provider failure while repairing arguments.
func (e *Executor) correctUntilResolved(ctx context.Context, input PhaseInput, tool tools.Tool, args *map[string]any, out *Outcome) (tools.Result, error) {
	retries := map[tools.ResultKind]int{}
	lastSignature := ""

	result := e.invoke(ctx, input, tool, *args)
	for !result.OK() {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !result.Recoverable() {
			return result, nil
		}

		signature := normalizeSignature(result)
		if signature == lastSignature {
			e.log.Warn().
				Str("tool", tool.Name()).
				Str("signature", signature).
				Msg("error signature unchanged after correction, stopping early")
			return result, nil
		}
		class := result.Kind
		if class == tools.TimedOut {
			class = tools.ExecutionFailure
		}
		if retries[class] >= e.retryBudget(class) {
			return result, nil
		}

		digest := ""
		if len(out.Attempts) >= 1 {
			digest = failureDigest(*args, result)
		}
		corrected, usage, contextTokens, err := e.repairArgs(ctx, input, tool, result, *args, digest)
		out.Usage.Add(usage)
		if err != nil {
			return result, err
		}

		retries[class]++
		lastSignature = signature
		attempt := CorrectionAttempt{
			Number:             len(out.Attempts) + 1,
			ErrorSignature:     signature,
			PriorFailureDigest: digest,
			ContextTokens:      contextTokens,
		}
		out.Attempts = append(out.Attempts, attempt)
		e.emit(input, events.Event{
			Type:    events.TypeCorrectionAttempted,
			Tool:    tool.Name(),
			Attempt: attempt.Number,
			Detail:  signature,
		})

		*args = corrected
		result = e.invoke(ctx, input, tool, *args)
	}
	return result, nil
}

// invoke performs one attempt: argument validation, execution under the
// configured timeout, and payload validation on success.
func (e *Executor) invoke(ctx context.Context, input PhaseInput, tool tools.Tool, args map[string]any) tools.Result {
	e.emit(input, events.Event{Type: events.TypeToolInvoked, Tool: tool.Name(), Payload: marshalArgs(args)})

	result := e.invokeOnce(ctx, input, tool, args)

	e.emit(input, events.Event{Type: events.TypeToolResult, Tool: tool.Name(), Detail: result.Kind.String()})
	if !result.OK() {
		e.log.Debug().
			Str("tool", tool.Name()).
			Str("kind", result.Kind.String()).
			Str("detail", result.Detail).
			Msg("tool attempt failed")
	}
	return result
}

func (e *Executor) invokeOnce(ctx context.Context, input PhaseInput, tool tools.Tool, args map[string]any) tools.Result {
	if err := tools.ValidateArgs(tool, args); err != nil {
		return tools.NewValidationFailure(err.Error(), tool.Name())
	}

	callCtx := tools.WithSessionID(ctx, input.SessionID)
	callCtx = tools.WithTurnID(callCtx, input.TurnID)
	if e.cfg.ToolTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, e.cfg.ToolTimeout)
		defer cancel()
	}

	result, err := tool.Execute(callCtx, args)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return tools.NewTimeout(fmt.Sprintf("tool %s exceeded %s", tool.Name(), e.cfg.ToolTimeout))
		}
		return tools.NewExecutionFailure(err.Error())
	}
	if result.OK() {
		if err := tools.ValidatePayload(tool, result.Payload); err != nil {
			return tools.NewValidationFailure(err.Error(), tool.Name())
		}
	}
	return result
}

// terminal marks the phase failed_terminal and emits its closing event.
func (e *Executor) terminal(input PhaseInput, out Outcome) Outcome {
	input.Phase.Status = planner.StatusFailedTerminal
	out.Degraded = true
	e.emit(input, events.Event{
		Type:   events.TypePhaseCompleted,
		Tool:   out.Tool,
		Detail: string(planner.StatusFailedTerminal),
	})

	ev := e.log.Warn().Str("phase_id", input.Phase.ID).Str("tool", out.Tool)
	if out.Err != nil {
		ev = ev.Err(out.Err)
	}
	ev.Msg("phase failed terminally")
	return out
}

// fallbackCandidate returns the highest-ranked candidate other than the
// exhausted tool.
func fallbackCandidate(candidates []tools.Tool, exhausted tools.Tool) tools.Tool {
	ranked := make([]tools.Tool, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return tools.SpecializationScore(ranked[i]) > tools.SpecializationScore(ranked[j])
	})
	for _, c := range ranked {
		if c.Name() != exhausted.Name() {
			return c
		}
	}
	return nil
}

func (e *Executor) emit(input PhaseInput, ev events.Event) {
	if e.bus == nil {
		return
	}
	ev.SessionID = input.SessionID
	ev.TurnID = input.TurnID
	if ev.PhaseID == "" {
		ev.PhaseID = input.Phase.ID
	}
	e.bus.Publish(ev)
}

func marshalArgs(args map[string]any) json.RawMessage {
	data, err := json.Marshal(args)
	if err != nil {
		return nil
	}
	return data
}
