package models

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// DateRange is an inclusive [From, To] window. When To was given as a bare
// date it covers that whole day, so the exclusive upper bound is the next midnight.
type DateRange struct {
	From time.Time
	To   time.Time
	// toWholeDay marks To as a date-only bound.
	toWholeDay bool
}

var rangeSeparators = []string{"..", ",", "/"}

// ParseDateRange accepts "FROM..TO", "FROM,TO", "FROM/TO" or a single day.
// Bounds are YYYY-MM-DD or RFC 3339; date-only values use loc.
func ParseDateRange(raw string, loc *time.Location) (DateRange, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DateRange{}, NewValidationError("date_filter", "is required")
	}
	if loc == nil {
		loc = time.Local
	}

	from, to := raw, raw
	for _, sep := range rangeSeparators {
		if i := strings.Index(raw, sep); i >= 0 {
			from = strings.TrimSpace(raw[:i])
			to = strings.TrimSpace(raw[i+len(sep):])
			break
		}
	}

	fromT, _, err := parseBound(from, loc)
	if err != nil {
		return DateRange{}, NewValidationError("date_filter", fmt.Sprintf("invalid start %q: %v", from, err))
	}
	toT, wholeDay, err := parseBound(to, loc)
	if err != nil {
		return DateRange{}, NewValidationError("date_filter", fmt.Sprintf("invalid end %q: %v", to, err))
	}
	if fromT.After(toT) {
		return DateRange{}, NewValidationError("date_filter", fmt.Sprintf("start %s is after end %s", from, to))
	}
	return DateRange{From: fromT, To: toT, toWholeDay: wholeDay}, nil
}

// DayRange covers the calendar day containing t.
func DayRange(t time.Time) DateRange {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return DateRange{From: start, To: start, toWholeDay: true}
}

// Upper returns the upper bound and whether it is exclusive.
func (r DateRange) Upper() (time.Time, bool) {
	if r.toWholeDay {
		return r.To.AddDate(0, 0, 1), true
	}
	return r.To, false
}

func (r DateRange) String() string {
	if r.toWholeDay {
		return r.From.Format(time.RFC3339) + ".." + r.To.Format(dateLayout)
	}
	return r.From.Format(time.RFC3339) + ".." + r.To.Format(time.RFC3339)
}

func parseBound(s string, loc *time.Location) (time.Time, bool, error) {
	if s == "" {
		return time.Time{}, false, fmt.Errorf("empty bound")
	}
	if t, err := time.ParseInLocation(dateLayout, s, loc); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("expected YYYY-MM-DD or RFC 3339")
	}
	return t, false, nil
}
