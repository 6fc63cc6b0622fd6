// Package executor runs plan phases: it selects a concrete tool for each
// phase's goal, invokes it, validates the result, and recovers from failures
// through a bounded self-correction loop.
package executor

import (
	"time"

	"maestro/internal/planner"
	"maestro/internal/provider"
	"maestro/internal/temporal"
	"maestro/internal/tools"
)

// Config bounds phase execution.
type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int

	// Retry bounds per error class.
	ValidationRetries int // schema/validation errors
	ExecutionRetries  int // transient execution errors and timeouts

	// ToolTimeout caps a single tool invocation.
	ToolTimeout time.Duration

	// AllowFallbackTool permits one switch to an alternate candidate after
	// the selected tool exhausts its retries.
	AllowFallbackTool bool
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{
		Temperature:       0.1,
		MaxTokens:         1024,
		ValidationRetries: 2,
		ExecutionRetries:  3,
		ToolTimeout:       60 * time.Second,
		AllowFallbackTool: true,
	}
}

// PhaseInput carries the context a phase executes against.
type PhaseInput struct {
	SessionID string
	TurnID    string
	Phase     *planner.Phase

	// History is the conversation so far, including earlier phases' outputs
	// appended by the engine.
	History []provider.Message

	// Behavior blocks are opaque injected text prepended to execution
	// prompts, never persisted.
	Behavior []string

	// Resolved is the concrete date range a preprocessing step resolved
	// from a relative expression in the turn, if any.
	Resolved *temporal.Range
}

// CorrectionAttempt is one bounded retry of a failed tool invocation. It is
// created only after a failure and discarded when the phase resolves.
type CorrectionAttempt struct {
	Number             int    `json:"number"`
	ErrorSignature     string `json:"error_signature"`
	PriorFailureDigest string `json:"prior_failure_digest,omitempty"`
	ContextTokens      int    `json:"context_tokens"`
}

// Outcome is the resolution of one phase.
type Outcome struct {
	Phase    *planner.Phase
	Tool     string
	Args     map[string]any
	Result   tools.Result
	Attempts []CorrectionAttempt
	Usage    provider.Usage

	// Degraded marks a phase that exhausted self-correction; the turn
	// aggregator must surface it explicitly, never silently omit it.
	Degraded bool

	// Err is set for failures outside the correction loop's reach, such as
	// an unknown tool or a fatal provider error.
	Err error
}
