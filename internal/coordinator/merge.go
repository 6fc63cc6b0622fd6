package coordinator

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MergeStrategy combines child outputs into one parent-visible text. The
// strategy is supplied by the caller; the coordinator only applies it.
type MergeStrategy interface {
	Merge(results []ChildResult) string
}

// ConcatMerge joins child outputs in dispatch order, labelling each with its
// profile and marking degraded children explicitly.
type ConcatMerge struct {
	Separator string
}

// Merge implements MergeStrategy.
func (m ConcatMerge) Merge(results []ChildResult) string {
	sep := m.Separator
	if sep == "" {
		sep = "\n\n"
	}
	parts := make([]string, 0, len(results))
	for _, r := range results {
		header := fmt.Sprintf("[%s]", r.Profile)
		if r.Degraded {
			header = fmt.Sprintf("[%s - degraded: %s]", r.Profile, degradedReason(r))
		}
		parts = append(parts, header+"\n"+r.Text)
	}
	return strings.Join(parts, sep)
}

// VoteMerge returns the most frequent child output after whitespace
// normalization. Degraded children do not vote. Ties resolve to the earliest
// dispatched child.
type VoteMerge struct{}

// Merge implements MergeStrategy.
func (VoteMerge) Merge(results []ChildResult) string {
	counts := map[string]int{}
	first := map[string]int{}
	for i, r := range results {
		if r.Degraded {
			continue
		}
		key := strings.Join(strings.Fields(r.Text), " ")
		counts[key]++
		if _, seen := first[key]; !seen {
			first[key] = i
		}
	}
	if len(counts) == 0 {
		return ConcatMerge{}.Merge(results)
	}

	winner := ""
	for key, n := range counts {
		if winner == "" || n > counts[winner] || (n == counts[winner] && first[key] < first[winner]) {
			winner = key
		}
	}
	return results[first[winner]].Text
}

// StructuredMerge renders every child output, including degraded ones, as a
// JSON array for downstream aggregation.
type StructuredMerge struct{}

type structuredEntry struct {
	Profile  string `json:"profile"`
	Session  string `json:"session"`
	Text     string `json:"text"`
	Degraded bool   `json:"degraded"`
	Error    string `json:"error,omitempty"`
}

// Merge implements MergeStrategy.
func (StructuredMerge) Merge(results []ChildResult) string {
	entries := make([]structuredEntry, 0, len(results))
	for _, r := range results {
		e := structuredEntry{
			Profile:  r.Profile,
			Session:  r.ChildSessionID,
			Text:     r.Text,
			Degraded: r.Degraded,
		}
		if r.Err != nil {
			e.Error = r.Err.Error()
		}
		entries = append(entries, e)
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return ConcatMerge{}.Merge(results)
	}
	return string(data)
}

func degradedReason(r ChildResult) string {
	if r.Err != nil {
		return r.Err.Error()
	}
	return "partial result"
}
