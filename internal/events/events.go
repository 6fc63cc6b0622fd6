// Package events defines the immutable event values the engine emits for an
// external presentation layer. The engine never blocks on consumption.
package events

import (
	"encoding/json"
	"time"
)

// Type identifies the kind of event.
type Type string

const (
	// TypeTurnStarted marks the beginning of a user turn.
	TypeTurnStarted Type = "turn_started"
	// TypePlanCreated carries the phase breakdown the planner produced.
	TypePlanCreated Type = "plan_created"
	// TypePhaseStarted marks a phase moving to executing.
	TypePhaseStarted Type = "phase_started"
	// TypeToolInvoked carries the concrete tool call of a tactical step.
	TypeToolInvoked Type = "tool_invoked"
	// TypeToolResult carries the tagged result of a tool invocation.
	TypeToolResult Type = "tool_result"
	// TypeCorrectionAttempted marks one bounded self-correction retry.
	TypeCorrectionAttempted Type = "correction_attempted"
	// TypePhaseCompleted marks a phase reaching completed or failed_terminal.
	TypePhaseCompleted Type = "phase_completed"
	// TypeDelegationStarted marks a child session being spawned.
	TypeDelegationStarted Type = "delegation_started"
	// TypeDelegationFinished marks a child session resolving.
	TypeDelegationFinished Type = "delegation_finished"
	// TypeCostUpdated carries the turn's cost record.
	TypeCostUpdated Type = "cost_updated"
	// TypeTurnCompleted marks the turn's final answer being assembled.
	TypeTurnCompleted Type = "turn_completed"
)

// Event is one entry in the decision trail. Fields carry enough structure to
// reconstruct the turn without re-running it.
type Event struct {
	Type      Type            `json:"type"`
	SessionID string          `json:"session_id"`
	TurnID    string          `json:"turn_id"`
	PhaseID   string          `json:"phase_id,omitempty"`
	Tool      string          `json:"tool,omitempty"`
	Attempt   int             `json:"attempt,omitempty"`
	Detail    string          `json:"detail,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	At        time.Time       `json:"at"`
}
