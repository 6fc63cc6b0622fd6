// Package budget tracks the token cost contributed by each context source
// against a fixed budget and decides what to compress or drop on overflow.
package budget

import (
	"fmt"

	"github.com/rs/zerolog"
)

// SourceKind names a context source competing for the token budget.
type SourceKind string

const (
	// SourceSystem is the system instruction block.
	SourceSystem SourceKind = "system"
	// SourceHistory is a conversation history turn.
	SourceHistory SourceKind = "history"
	// SourceCases is a retrieved champion case.
	SourceCases SourceKind = "cases"
	// SourceToolOutput is output from an earlier tool invocation.
	SourceToolOutput SourceKind = "tool_output"
	// SourceBehavior is injected behavior text.
	SourceBehavior SourceKind = "behavior"
)

// Source is one named contribution to a prompt.
type Source struct {
	Kind    SourceKind
	Label   string
	Content string
	// Latest marks the most recent history turn, which is trimmed last.
	Latest bool
}

// Allocator decides whether a set of prompt sources fits the token budget
// and compresses them when it does not. It holds no per-turn state, so one
// instance serves concurrent sessions.
type Allocator struct {
	limit   int
	counter *TokenCounter
	log     zerolog.Logger
}

// NewAllocator creates an Allocator with the given token budget.
func NewAllocator(limit int, log zerolog.Logger) *Allocator {
	return &Allocator{
		limit:   limit,
		counter: NewTokenCounter(),
		log:     log.With().Str("component", "budget").Logger(),
	}
}

// Limit returns the configured token budget.
func (a *Allocator) Limit() int { return a.limit }

// WouldExceed reports whether the candidate sources cross the limit.
func (a *Allocator) WouldExceed(additions []Source) bool {
	return a.counter.EstimateSources(additions) > a.limit
}

// Estimate returns the estimated token cost of the given sources.
func (a *Allocator) Estimate(sources []Source) int {
	return a.counter.EstimateSources(sources)
}

// Compress reduces sources until they fit the target budget. Order:
//
//  1. retrieved cases are dropped whole, oldest-ranked first; a partial
//     case is misleading
//  2. tool outputs are summarized (head+tail with a marker), then dropped
//  3. older history turns are dropped
//  4. behavior text is dropped
//  5. the latest turn and system instructions are trimmed only as a last
//     resort
//
// The returned slice preserves the original relative order of survivors.
func (a *Allocator) Compress(sources []Source, target int) []Source {
	out := make([]Source, len(sources))
	copy(out, sources)

	if a.counter.EstimateSources(out) <= target {
		return out
	}

	// Pass 1: drop cases entirely, last-ranked first.
	out = a.dropKind(out, SourceCases, target)
	if a.counter.EstimateSources(out) <= target {
		return out
	}

	// Pass 2: summarize tool outputs to a fraction, then drop.
	for i := range out {
		if out[i].Kind != SourceToolOutput {
			continue
		}
		out[i].Content = summarize(out[i].Content, len(out[i].Content)/4)
		if a.counter.EstimateSources(out) <= target {
			return out
		}
	}
	out = a.dropKind(out, SourceToolOutput, target)
	if a.counter.EstimateSources(out) <= target {
		return out
	}

	// Pass 3: drop history turns oldest first, keeping the latest.
	for i := 0; i < len(out); {
		if out[i].Kind == SourceHistory && !out[i].Latest {
			out = append(out[:i], out[i+1:]...)
			if a.counter.EstimateSources(out) <= target {
				return out
			}
			continue
		}
		i++
	}

	// Pass 4: drop behavior text.
	out = a.dropKind(out, SourceBehavior, target)
	if a.counter.EstimateSources(out) <= target {
		return out
	}

	// Last resort: trim the latest turn, then system instructions.
	a.log.Warn().Int("target", target).Msg("compression reached protected sources")
	for _, kind := range []SourceKind{SourceHistory, SourceSystem} {
		for i := range out {
			if out[i].Kind != kind {
				continue
			}
			out[i].Content = summarize(out[i].Content, len(out[i].Content)/2)
			if a.counter.EstimateSources(out) <= target {
				return out
			}
		}
	}
	return out
}

// dropKind removes sources of the given kind from the tail forward until the
// target is met or none remain.
func (a *Allocator) dropKind(sources []Source, kind SourceKind, target int) []Source {
	for i := len(sources) - 1; i >= 0; i-- {
		if a.counter.EstimateSources(sources) <= target {
			return sources
		}
		if sources[i].Kind == kind {
			sources = append(sources[:i], sources[i+1:]...)
		}
	}
	return sources
}

// summarize keeps the head and tail of content with a truncation marker,
// targeting roughly maxLen bytes.
func summarize(content string, maxLen int) string {
	if maxLen < 64 {
		maxLen = 64
	}
	if len(content) <= maxLen {
		return content
	}
	headLen := maxLen * 2 / 5
	tailLen := maxLen * 2 / 5
	removed := len(content) - headLen - tailLen
	return content[:headLen] +
		fmt.Sprintf("\n[... %d bytes summarized away ...]\n", removed) +
		content[len(content)-tailLen:]
}
