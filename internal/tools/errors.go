package tools

import (
	"errors"
	"fmt"
)

// Sentinel errors for the tools package.
var (
	// ErrToolNotFound is returned when a requested tool is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolAlreadyExists is returned when attempting to register a tool
	// with a name that is already in use.
	ErrToolAlreadyExists = errors.New("tool already exists")

	// ErrInvalidArgs is returned when tool arguments violate the declared schema.
	ErrInvalidArgs = errors.New("invalid tool arguments")
)

// ToolNotFoundError identifies a missing tool. It is fatal to the phase that
// requested it and is never retried.
type ToolNotFoundError struct {
	Name string
}

// Error implements the error interface.
func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

// Is allows errors.Is to match against ErrToolNotFound.
func (e *ToolNotFoundError) Is(target error) bool {
	return target == ErrToolNotFound
}

// SchemaViolation describes a single schema check failure.
type SchemaViolation struct {
	Tool    string
	Field   string
	Message string
}

// Error implements the error interface.
func (e *SchemaViolation) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("tool %s: field %q: %s", e.Tool, e.Field, e.Message)
	}
	return fmt.Sprintf("tool %s: %s", e.Tool, e.Message)
}

// Is allows errors.Is to match against ErrInvalidArgs.
func (e *SchemaViolation) Is(target error) bool {
	return target == ErrInvalidArgs
}
