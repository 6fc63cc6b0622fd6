package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"maestro/internal/provider"
	"maestro/internal/tools"
)

const repairPrompt = `A tool invocation failed. Produce corrected JSON arguments for the tool.

Tool: %s
Schema: %s
%sFailure (%s): %s

Previous arguments: %s
%sRespond with a JSON object containing only the corrected arguments.`

const negativeExample = `The following pattern failed validation, do not repeat it:
%s

`

var fieldPattern = regexp.MustCompile(`field "([^"]+)"`)

// normalizeSignature reduces a failure to a deterministic signature used for
// early stopping: the error kind plus the first violating field when one can
// be identified, otherwise a prefix of the detail text.
func normalizeSignature(r tools.Result) string {
	if m := fieldPattern.FindStringSubmatch(r.Detail); m != nil {
		return r.Kind.String() + "|" + m[1]
	}
	detail := r.Detail
	if len(detail) > 48 {
		detail = detail[:48]
	}
	return r.Kind.String() + "|" + detail
}

// failureDigest summarizes a failing attempt for injection as a negative
// example in later corrections.
func failureDigest(args map[string]any, r tools.Result) string {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		argsJSON = []byte("{}")
	}
	detail := r.Detail
	if len(detail) > 200 {
		detail = detail[:200] + "…"
	}
	return fmt.Sprintf("arguments %s → %s: %s", argsJSON, r.Kind, detail)
}

// repairArgs asks the model for corrected arguments using a compressed
// context: only the last two conversation turns, the failing error, the
// tool's schema and its expected output fields, materially smaller than
// the initial attempt's context, so retries do not grow token cost
// quadratically. From the second retry onward, digest is injected as an
// explicit negative example.
func (e *Executor) repairArgs(
	ctx context.Context,
	input PhaseInput,
	tool tools.Tool,
	failing tools.Result,
	prevArgs map[string]any,
	digest string,
) (map[string]any, provider.Usage, int, error) {
	var usage provider.Usage

	prevJSON, err := json.Marshal(prevArgs)
	if err != nil {
		prevJSON = []byte("{}")
	}

	negative := ""
	if digest != "" {
		negative = fmt.Sprintf(negativeExample, digest)
	}
	example := ""
	if fields := tool.OutputFields(); len(fields) > 0 {
		example = fmt.Sprintf("A valid response is a JSON object with fields: %s\n", strings.Join(fields, ", "))
	}

	prompt := fmt.Sprintf(repairPrompt,
		tool.Name(), renderSchema(tool), example,
		failing.Kind, failing.Detail, prevJSON, negative)

	messages := lastTurns(input.History, 2)
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: prompt})

	contextTokens := estimateMessages(messages)

	resp, err := e.provider.Invoke(ctx, provider.Request{
		Model:       e.cfg.Model,
		Messages:    messages,
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
	})
	if err != nil {
		return nil, usage, contextTokens, err
	}
	usage.Add(resp.Usage)

	var args map[string]any
	if err := json.Unmarshal([]byte(extractObject(resp.Text)), &args); err != nil {
		return nil, usage, contextTokens, fmt.Errorf("parse corrected arguments: %w", err)
	}
	return args, usage, contextTokens, nil
}

// retryBudget returns the correction bound for a failure class.
func (e *Executor) retryBudget(kind tools.ResultKind) int {
	switch kind {
	case tools.ValidationFailure:
		return e.cfg.ValidationRetries
	case tools.ExecutionFailure, tools.TimedOut:
		return e.cfg.ExecutionRetries
	default:
		return 0
	}
}

func estimateMessages(messages []provider.Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+2)/3 + 4
	}
	return total
}
