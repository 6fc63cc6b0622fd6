// Package provider defines the LLM provider adapter interface and types.
package provider

import "context"

// Provider is the adapter contract every LLM vendor integration implements.
type Provider interface {
	// Name returns the provider name, e.g. "openai" or "anthropic".
	Name() string

	// Models returns the list of model identifiers this provider serves.
	Models() []string

	// Invoke sends a message sequence to the given model and returns the
	// generated text together with exact input/output token counts.
	Invoke(ctx context.Context, req Request) (*Response, error)
}
