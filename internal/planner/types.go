// Package planner decomposes one user turn into an ordered sequence of
// phases, biased by retrieved champion cases and constrained by the context
// budget.
package planner

// PhaseStatus tracks a phase through its lifecycle.
type PhaseStatus string

const (
	// StatusPending means the phase has not started.
	StatusPending PhaseStatus = "pending"
	// StatusExecuting means the phase executor owns the phase.
	StatusExecuting PhaseStatus = "executing"
	// StatusCompleted means the phase produced a successful result.
	StatusCompleted PhaseStatus = "completed"
	// StatusFailedTerminal means the phase exhausted its correction budget
	// or hit a non-retryable failure. Terminal; never retried again.
	StatusFailedTerminal PhaseStatus = "failed_terminal"
)

// Phase is one atomic unit of a plan: a single goal with a candidate tool
// scope. The concrete tool is chosen later, tactically, by the executor;
// strategic decomposition never hard-commits to a tool name.
type Phase struct {
	ID             string      `json:"id"`
	Goal           string      `json:"goal"`
	CandidateTools []string    `json:"candidate_tools"`
	Independent    bool        `json:"independent"`
	Status         PhaseStatus `json:"status"`
}

// Plan is the ordered phase sequence for one turn. Owned exclusively by the
// turn that created it and discarded once all phases resolve.
type Plan struct {
	TurnID string   `json:"turn_id"`
	Phases []*Phase `json:"phases"`

	// Direct is set when the turn needs no tool execution; Answer then
	// carries the model's direct reply.
	Direct bool   `json:"direct"`
	Answer string `json:"answer,omitempty"`
}

// Pending reports whether any phase has not yet resolved.
func (p *Plan) Pending() bool {
	for _, ph := range p.Phases {
		if ph.Status == StatusPending || ph.Status == StatusExecuting {
			return true
		}
	}
	return false
}
