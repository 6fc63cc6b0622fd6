// Package coordinator decides whether a turn runs single-agent or fans out
// to nested child sessions, bounds recursion depth and parallelism, and
// merges child outputs back into the parent turn.
package coordinator

import (
	"context"
	"time"

	"maestro/internal/provider"
)

// MaxAbsoluteDepth is the hard limit on delegation recursion depth. It
// cannot be raised by configuration.
const MaxAbsoluteDepth = 5

// Delegation records one parent-child session relationship. The nesting
// level of a child is always the parent's level plus one, and the record is
// created only after the depth check has passed.
type Delegation struct {
	ID              string     `json:"id"`
	ParentSessionID string     `json:"parent_session_id"`
	ChildSessionID  string     `json:"child_session_id"`
	NestingLevel    int        `json:"nesting_level"`
	Profile         string     `json:"profile"`
	Goal            string     `json:"goal"`
	Status          string     `json:"status"` // running, completed, failed, cancelled
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	TokensUsed      int        `json:"tokens_used"`
	Error           string     `json:"error,omitempty"`
}

// Delegation statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Parent identifies the session a dispatch originates from.
type Parent struct {
	SessionID    string
	TurnID       string
	NestingLevel int
}

// ChildGoal is one unit of work to hand to a specialist profile.
type ChildGoal struct {
	// Profile names the execution profile the child session runs under.
	Profile string
	Goal    string
}

// ChildResult is the output of one child session or local fallback run.
type ChildResult struct {
	ChildSessionID string
	Profile        string
	Text           string
	Usage          provider.Usage

	// Degraded marks a child that failed or exhausted self-correction; the
	// merge must represent it explicitly rather than drop it.
	Degraded bool
	Err      error
}

// Runner executes delegated goals. The engine supplies it; the coordinator
// never constructs sessions itself.
type Runner interface {
	// RunChild executes the goal in a fresh child session identified by the
	// delegation record.
	RunChild(ctx context.Context, d Delegation, goal ChildGoal) (ChildResult, error)

	// RunLocal executes the goal inside the parent session. Used when the
	// nesting cap refuses further delegation.
	RunLocal(ctx context.Context, parentSessionID string, goal ChildGoal) (ChildResult, error)
}

// Store persists delegation audit records.
type Store interface {
	AppendDelegation(ctx context.Context, d Delegation) error
	CompleteDelegation(ctx context.Context, id, status string, tokensUsed int, errMsg string) error
}
