package tools

import "strings"

// Generic free-text parameter names. A tool whose only parameters come from
// this set has no structure to distinguish it from a catch-all search.
var genericParamNames = map[string]bool{
	"query": true,
	"input": true,
	"text":  true,
	"q":     true,
}

// SpecializationScore measures how narrowly scoped a tool is. Declared
// output fields weigh most, then structured (non-free-text) parameters and
// required fields. Tactical selection uses this to break ties in favor of a
// specialized tool over a generic fallback with a similar description.
func SpecializationScore(t Tool) int {
	score := 2 * len(t.OutputFields())

	schema := t.Parameters()
	properties, _ := schema["properties"].(map[string]any)
	for name := range properties {
		if !genericParamNames[strings.ToLower(name)] {
			score++
		}
	}
	switch required := schema["required"].(type) {
	case []string:
		score += len(required)
	case []any:
		score += len(required)
	}
	return score
}

// IsGeneric reports whether a tool is a catch-all: no declared output fields
// and at most one free-text parameter.
func IsGeneric(t Tool) bool {
	if len(t.OutputFields()) > 0 {
		return false
	}
	schema := t.Parameters()
	properties, _ := schema["properties"].(map[string]any)
	if len(properties) > 1 {
		return false
	}
	for name := range properties {
		if !genericParamNames[strings.ToLower(name)] {
			return false
		}
	}
	return true
}

// Parameter name pairs recognized as an explicit date range.
var dateRangeAliases = [][2]string{
	{"start_date", "end_date"},
	{"date_from", "date_to"},
	{"from", "to"},
	{"since", "until"},
	{"start", "end"},
}

// DateRangeParams returns the names of the tool's declared date-range
// parameters, if any. Resolved relative-date values must be bound to these
// parameters; only when a tool declares none does the engine fall back to a
// literal-date query through a generic tool.
func DateRangeParams(t Tool) (startField, endField string, ok bool) {
	schema := t.Parameters()
	properties, _ := schema["properties"].(map[string]any)
	if len(properties) == 0 {
		return "", "", false
	}
	for _, pair := range dateRangeAliases {
		if _, hasStart := properties[pair[0]]; !hasStart {
			continue
		}
		if _, hasEnd := properties[pair[1]]; !hasEnd {
			continue
		}
		return pair[0], pair[1], true
	}
	return "", "", false
}
