package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"maestro/internal/provider"
	"maestro/internal/temporal"
	"maestro/internal/tools"
)

const selectPrompt = `Select the single best tool for the goal below and produce its arguments.

Candidate tools, most specialized first. When several tools plausibly match,
prefer the most specialized one over a generic catch-all:
%s

%sRespond with JSON only:
{"tool": "name", "args": {...}}

Goal: %s`

// tacticalChoice is the wire shape of a tool selection.
type tacticalChoice struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// selectTool picks one concrete tool from the phase's candidate scope and
// binds its arguments. Candidates are presented most-specialized-first, and
// a generic choice is overridden when a specialized candidate demonstrably
// covers the goal. Unweighted semantic preference alone reproduces the
// over-generalization failure this policy exists to prevent.
func (e *Executor) selectTool(ctx context.Context, input PhaseInput, candidates []tools.Tool) (tools.Tool, map[string]any, provider.Usage, error) {
	var usage provider.Usage

	ranked := make([]tools.Tool, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return tools.SpecializationScore(ranked[i]) > tools.SpecializationScore(ranked[j])
	})

	if len(ranked) == 1 {
		args, u, err := e.bindArgs(ctx, input, ranked[0])
		usage.Add(u)
		return ranked[0], args, usage, err
	}

	messages := behaviorMessages(input.Behavior)
	messages = append(messages, lastTurns(input.History, 4)...)
	messages = append(messages, provider.Message{
		Role:    provider.RoleUser,
		Content: fmt.Sprintf(selectPrompt, renderCandidates(ranked), temporalHint(input.Resolved), input.Phase.Goal),
	})

	resp, err := e.provider.Invoke(ctx, provider.Request{
		Model:       e.cfg.Model,
		Messages:    messages,
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
	})
	if err != nil {
		return nil, nil, usage, err
	}
	usage.Add(resp.Usage)

	var choice tacticalChoice
	if err := json.Unmarshal([]byte(extractObject(resp.Text)), &choice); err != nil {
		return nil, nil, usage, fmt.Errorf("parse tool selection: %w", err)
	}

	chosen := findTool(ranked, choice.Tool)
	if chosen == nil {
		return nil, nil, usage, &tools.ToolNotFoundError{Name: choice.Tool}
	}
	args := choice.Args
	if args == nil {
		args = map[string]any{}
	}

	// Tie-break policy: a generic choice loses to a specialized candidate
	// that covers the same intent.
	if tools.IsGeneric(chosen) {
		if alt := specializedAlternative(ranked, input); alt != nil {
			e.log.Debug().
				Str("generic", chosen.Name()).
				Str("specialized", alt.Name()).
				Msg("overriding generic tool choice with specialized candidate")
			args = rebindArgs(args, alt, input)
			chosen = alt
		}
	}

	bindTemporal(chosen, args, input.Resolved)
	return chosen, args, usage, nil
}

// bindArgs produces arguments for a known single candidate.
func (e *Executor) bindArgs(ctx context.Context, input PhaseInput, tool tools.Tool) (map[string]any, provider.Usage, error) {
	var usage provider.Usage

	messages := behaviorMessages(input.Behavior)
	messages = append(messages, lastTurns(input.History, 4)...)
	messages = append(messages, provider.Message{
		Role: provider.RoleUser,
		Content: fmt.Sprintf("Produce JSON arguments for tool %q with schema:\n%s\n%sRespond with a JSON object only.\n\nGoal: %s",
			tool.Name(), renderSchema(tool), temporalHint(input.Resolved), input.Phase.Goal),
	})

	resp, err := e.provider.Invoke(ctx, provider.Request{
		Model:       e.cfg.Model,
		Messages:    messages,
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
	})
	if err != nil {
		return nil, usage, err
	}
	usage.Add(resp.Usage)

	var args map[string]any
	if err := json.Unmarshal([]byte(extractObject(resp.Text)), &args); err != nil {
		return nil, usage, fmt.Errorf("parse tool arguments: %w", err)
	}
	bindTemporal(tool, args, input.Resolved)
	return args, usage, nil
}

// specializedAlternative returns a non-generic candidate that covers the
// goal: either its declared date-range parameters match a resolved temporal
// expression, or its name tokens overlap the goal text.
func specializedAlternative(ranked []tools.Tool, input PhaseInput) tools.Tool {
	for _, cand := range ranked {
		if tools.IsGeneric(cand) {
			continue
		}
		if input.Resolved != nil {
			if _, _, ok := tools.DateRangeParams(cand); ok {
				return cand
			}
		}
		if nameOverlapsGoal(cand.Name(), input.Phase.Goal) {
			return cand
		}
	}
	return nil
}

// rebindArgs carries compatible arguments over to the specialized tool and
// fills its free-text parameter from the goal when one exists.
func rebindArgs(args map[string]any, tool tools.Tool, input PhaseInput) map[string]any {
	schema := tool.Parameters()
	properties, _ := schema["properties"].(map[string]any)

	out := make(map[string]any)
	for name, value := range args {
		if _, declared := properties[name]; declared {
			out[name] = value
		}
	}
	for name := range properties {
		if _, set := out[name]; set {
			continue
		}
		if genericName(name) {
			out[name] = input.Phase.Goal
		}
	}
	return out
}

// bindTemporal threads a resolved date range into the tool's declared
// date-range parameters. When the tool declares none and has a free-text
// parameter, the literal dates are appended to it instead, the fallback
// path for tools without explicit range support.
func bindTemporal(tool tools.Tool, args map[string]any, resolved *temporal.Range) {
	if resolved == nil {
		return
	}
	if startField, endField, ok := tools.DateRangeParams(tool); ok {
		args[startField] = resolved.StartString()
		args[endField] = resolved.EndString()
		return
	}

	schema := tool.Parameters()
	properties, _ := schema["properties"].(map[string]any)
	for name := range properties {
		if !genericName(name) {
			continue
		}
		if text, ok := args[name].(string); ok && !strings.Contains(text, resolved.StartString()) {
			args[name] = fmt.Sprintf("%s between %s and %s", text, resolved.StartString(), resolved.EndString())
		}
		return
	}
}

func genericName(name string) bool {
	switch strings.ToLower(name) {
	case "query", "input", "text", "q":
		return true
	}
	return false
}

func nameOverlapsGoal(name, goal string) bool {
	goalLower := strings.ToLower(goal)
	for _, part := range strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == '_' || r == '-' || r == '.'
	}) {
		if len(part) >= 4 && strings.Contains(goalLower, part) {
			return true
		}
	}
	return false
}

func findTool(candidates []tools.Tool, name string) tools.Tool {
	for _, t := range candidates {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

func renderCandidates(candidates []tools.Tool) string {
	var sb strings.Builder
	for _, t := range candidates {
		fmt.Fprintf(&sb, "- %s: %s\n  schema: %s\n", t.Name(), t.Description(), renderSchema(t))
	}
	return sb.String()
}

func renderSchema(t tools.Tool) string {
	data, err := json.Marshal(t.Parameters())
	if err != nil {
		return "{}"
	}
	return string(data)
}

func temporalHint(resolved *temporal.Range) string {
	if resolved == nil {
		return ""
	}
	return fmt.Sprintf("A relative time expression was resolved to the concrete range %s .. %s; bind it to the tool's date parameters when the schema declares them.\n\n",
		resolved.StartString(), resolved.EndString())
}

// extractObject strips markdown fences and surrounding prose, keeping the
// outermost JSON object.
func extractObject(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}

func behaviorMessages(behavior []string) []provider.Message {
	var out []provider.Message
	for _, block := range behavior {
		out = append(out, provider.Message{Role: provider.RoleSystem, Content: block})
	}
	return out
}

// lastTurns returns at most n trailing messages.
func lastTurns(history []provider.Message, n int) []provider.Message {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
