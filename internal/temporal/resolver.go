// Package temporal resolves relative time expressions in user turns to
// concrete date ranges, so tactical tool selection can bind them to declared
// date-range parameters instead of falling back to literal-date queries.
package temporal

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Range is a resolved, inclusive date range.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DateLayout is the wire format used when binding resolved dates to tool
// arguments.
const DateLayout = "2006-01-02"

// StartString returns the range start formatted for tool arguments.
func (r Range) StartString() string { return r.Start.Format(DateLayout) }

// EndString returns the range end formatted for tool arguments.
func (r Range) EndString() string { return r.End.Format(DateLayout) }

var (
	pastNPattern = regexp.MustCompile(`(?i)\b(?:past|last|previous)\s+(\d+)\s+(day|week|month|year)s?\b`)
	lastOne      = regexp.MustCompile(`(?i)\blast\s+(day|week|month|year)\b`)
	thisOne      = regexp.MustCompile(`(?i)\bthis\s+(week|month|year)\b`)
)

// Resolve scans text for a relative time expression and, when one is found,
// returns the concrete range it denotes relative to now. Deterministic for a
// fixed now. The second return value reports whether an expression matched.
func Resolve(text string, now time.Time) (Range, bool) {
	today := truncateDay(now)

	if m := pastNPattern.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return Range{}, false
		}
		return Range{Start: shift(today, m[2], -n), End: today}, true
	}

	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "yesterday"):
		y := today.AddDate(0, 0, -1)
		return Range{Start: y, End: y}, true
	case strings.Contains(lower, "today"):
		return Range{Start: today, End: today}, true
	}

	if m := lastOne.FindStringSubmatch(text); m != nil {
		switch strings.ToLower(m[1]) {
		case "day":
			y := today.AddDate(0, 0, -1)
			return Range{Start: y, End: y}, true
		case "week":
			start := startOfWeek(today).AddDate(0, 0, -7)
			return Range{Start: start, End: start.AddDate(0, 0, 6)}, true
		case "month":
			first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())
			start := first.AddDate(0, -1, 0)
			return Range{Start: start, End: first.AddDate(0, 0, -1)}, true
		case "year":
			start := time.Date(today.Year()-1, 1, 1, 0, 0, 0, 0, today.Location())
			return Range{Start: start, End: time.Date(today.Year()-1, 12, 31, 0, 0, 0, 0, today.Location())}, true
		}
	}

	if m := thisOne.FindStringSubmatch(text); m != nil {
		switch strings.ToLower(m[1]) {
		case "week":
			return Range{Start: startOfWeek(today), End: today}, true
		case "month":
			return Range{Start: time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location()), End: today}, true
		case "year":
			return Range{Start: time.Date(today.Year(), 1, 1, 0, 0, 0, 0, today.Location()), End: today}, true
		}
	}

	return Range{}, false
}

func shift(t time.Time, unit string, n int) time.Time {
	switch strings.ToLower(unit) {
	case "day":
		return t.AddDate(0, 0, n)
	case "week":
		return t.AddDate(0, 0, 7*n)
	case "month":
		return t.AddDate(0, n, 0)
	case "year":
		return t.AddDate(n, 0, 0)
	}
	return t
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// startOfWeek returns the Monday of t's week.
func startOfWeek(t time.Time) time.Time {
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return t.AddDate(0, 0, 1-weekday)
}
