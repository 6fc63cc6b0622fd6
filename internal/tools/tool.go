// Package tools defines the tool invocation contract for the maestro engine.
package tools

import (
	"context"
	"encoding/json"
)

// Context keys for passing execution context to tools.
type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	turnIDKey    contextKey = "turn_id"
)

// WithSessionID returns a new context with the session ID attached.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionIDFromContext retrieves the session ID from the context, if present.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok
}

// WithTurnID returns a new context with the turn ID attached.
func WithTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, turnIDKey, turnID)
}

// TurnIDFromContext retrieves the turn ID from the context, if present.
func TurnIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(turnIDKey).(string)
	return id, ok
}

// Tool is a capability the engine can invoke against an external system.
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description of what this tool does.
	Description() string

	// Parameters returns the JSON Schema for the tool's input parameters.
	Parameters() map[string]any

	// OutputFields lists the fixed top-level fields a Success payload is
	// declared to contain. Generic catch-all tools return nil; specialized
	// tools return their concrete field names. Successful results are
	// validated against this declaration.
	OutputFields() []string

	// Execute runs the tool with the given arguments. The context carries
	// timeout and cancellation. Transport-level failures are returned as an
	// error; tool-level failures are encoded in the Result variant.
	Execute(ctx context.Context, args map[string]any) (Result, error)
}

// ResultKind discriminates the Result variant.
type ResultKind int

const (
	// Success indicates the tool produced a valid payload.
	Success ResultKind = iota
	// ValidationFailure indicates the arguments or payload violated the
	// declared schema.
	ValidationFailure
	// ExecutionFailure indicates the tool ran but failed.
	ExecutionFailure
	// TimedOut indicates the tool exceeded its execution deadline.
	TimedOut
)

// String returns the wire name of the result kind.
func (k ResultKind) String() string {
	switch k {
	case Success:
		return "success"
	case ValidationFailure:
		return "validation_error"
	case ExecutionFailure:
		return "execution_error"
	case TimedOut:
		return "timeout"
	default:
		return "unknown"
	}
}

// Result is the tagged outcome of a tool execution.
type Result struct {
	Kind      ResultKind      `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`    // Success only
	Detail    string          `json:"detail,omitempty"`     // failure variants
	SchemaRef string          `json:"schema_ref,omitempty"` // ValidationFailure only
}

// OK reports whether the result is a Success.
func (r Result) OK() bool {
	return r.Kind == Success
}

// Recoverable reports whether the self-correction loop may retry after this
// result. Timeouts are treated like execution failures.
func (r Result) Recoverable() bool {
	return r.Kind == ValidationFailure || r.Kind == ExecutionFailure || r.Kind == TimedOut
}

// NewSuccess creates a Success result from a JSON payload.
func NewSuccess(payload json.RawMessage) Result {
	return Result{Kind: Success, Payload: payload}
}

// NewValidationFailure creates a ValidationFailure result.
func NewValidationFailure(detail, schemaRef string) Result {
	return Result{Kind: ValidationFailure, Detail: detail, SchemaRef: schemaRef}
}

// NewExecutionFailure creates an ExecutionFailure result.
func NewExecutionFailure(detail string) Result {
	return Result{Kind: ExecutionFailure, Detail: detail}
}

// NewTimeout creates a TimedOut result.
func NewTimeout(detail string) Result {
	return Result{Kind: TimedOut, Detail: detail}
}

// BaseTool provides a convenient base implementation for tools.
// Embed this struct and implement Execute to create simple tools.
type BaseTool struct {
	ToolName         string
	ToolDescription  string
	ToolParameters   map[string]any
	ToolOutputFields []string
}

// Name returns the tool name.
func (t *BaseTool) Name() string { return t.ToolName }

// Description returns the tool description.
func (t *BaseTool) Description() string { return t.ToolDescription }

// Parameters returns the tool parameters schema.
func (t *BaseTool) Parameters() map[string]any {
	if t.ToolParameters == nil {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	return t.ToolParameters
}

// OutputFields returns the declared output fields.
func (t *BaseTool) OutputFields() []string { return t.ToolOutputFields }
