package planner

import (
	"errors"
	"fmt"
)

// ErrPlanning is the sentinel for planning failures.
var ErrPlanning = errors.New("planning failed")

// PlanningError is fatal for the turn. The planner never retries it; retry
// policy belongs to the phase executor, not here.
type PlanningError struct {
	Stage string // "classify" or "decompose"
	Cause error
}

// Error implements the error interface.
func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning failed at %s: %v", e.Stage, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *PlanningError) Unwrap() error { return e.Cause }

// Is allows errors.Is to match against ErrPlanning.
func (e *PlanningError) Is(target error) bool { return target == ErrPlanning }
