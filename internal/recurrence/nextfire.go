package recurrence

import (
	"errors"
	"time"
)

// ErrNoUpcoming indicates no qualifying instant exists within the scan
// horizon. A valid rule always selects at least one weekday, so this is only
// reachable with a zero-value rule.
var ErrNoUpcoming = errors.New("recurrence: no upcoming occurrence")

// scanHorizonDays bounds the forward scan. With at least one weekday
// selected the worst case is seven days out (today's time already passed,
// next selected day a week away), so eight calendar days always terminate.
const scanHorizonDays = 8

// NextAfter computes the first instant strictly after the reference at which
// the rule fires. The instant equal to after is never returned, so a firing
// that just happened is not immediately re-delivered.
//
// The result depends only on (rule, after); no hidden wall clock is read.
func NextAfter(rule Rule, after time.Time) (time.Time, error) {
	if rule.IsZero() {
		return time.Time{}, ErrNoUpcoming
	}

	loc := rule.Location()
	local := after.In(loc)

	for offset := 0; offset < scanHorizonDays; offset++ {
		day := local.AddDate(0, 0, offset)
		candidate := time.Date(day.Year(), day.Month(), day.Day(), rule.Hour(), rule.Minute(), 0, 0, loc)
		if !candidate.After(after) {
			continue
		}
		if rule.Matches(candidate.Weekday()) {
			return candidate, nil
		}
	}

	return time.Time{}, ErrNoUpcoming
}

// UpcomingWithin expands the rule forward from after, returning every firing
// instant within the window, capped at limit. It underpins the
// upcoming-executions query and the expression dry-run preview.
func UpcomingWithin(rule Rule, after time.Time, window time.Duration, limit int) ([]time.Time, error) {
	if limit <= 0 {
		return nil, nil
	}
	end := after.Add(window)
	out := make([]time.Time, 0, limit)

	cursor := after
	for len(out) < limit {
		next, err := NextAfter(rule, cursor)
		if err != nil {
			return out, err
		}
		if next.After(end) {
			break
		}
		out = append(out, next)
		cursor = next
	}
	return out, nil
}
