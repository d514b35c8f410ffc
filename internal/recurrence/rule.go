package recurrence

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Rule is the normalized representation of which days of the week and what
// wall-clock time a schedule fires. A Rule is a value; callers never mutate
// one after construction.
type Rule struct {
	weekdays []time.Weekday
	hour     int
	minute   int
	location *time.Location
}

// NewRule constructs a Rule from explicit parts. At least one weekday must be
// selected and the time must be a valid wall-clock time. When loc is nil the
// system timezone is used.
func NewRule(weekdays []time.Weekday, hour, minute int, loc *time.Location) (Rule, error) {
	days := normalizeWeekdays(weekdays)
	if len(days) == 0 {
		return Rule{}, &ParseError{Reason: ReasonNoDay}
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return Rule{}, &ParseError{Reason: ReasonInvalidTime}
	}
	return Rule{weekdays: days, hour: hour, minute: minute, location: loc}, nil
}

// Weekdays returns the selected days sorted Sunday first, without duplicates.
func (r Rule) Weekdays() []time.Weekday {
	out := make([]time.Weekday, len(r.weekdays))
	copy(out, r.weekdays)
	return out
}

// Hour returns the firing hour in the 24-hour clock.
func (r Rule) Hour() int { return r.hour }

// Minute returns the firing minute.
func (r Rule) Minute() int { return r.minute }

// Location returns the timezone the rule evaluates in. Defaults to the system
// timezone when none was supplied.
func (r Rule) Location() *time.Location {
	if r.location == nil {
		return time.Local
	}
	return r.location
}

// In returns a copy of the rule evaluated in the provided location.
func (r Rule) In(loc *time.Location) Rule {
	r.location = loc
	return r
}

// IsZero reports whether the rule is the uninitialised zero value.
func (r Rule) IsZero() bool {
	return len(r.weekdays) == 0
}

// Matches reports whether the given weekday is selected by the rule.
func (r Rule) Matches(day time.Weekday) bool {
	for _, d := range r.weekdays {
		if d == day {
			return true
		}
	}
	return false
}

// Equal reports whether two rules select the same days and time.
func (r Rule) Equal(other Rule) bool {
	if r.hour != other.hour || r.minute != other.minute {
		return false
	}
	if len(r.weekdays) != len(other.weekdays) {
		return false
	}
	for i := range r.weekdays {
		if r.weekdays[i] != other.weekdays[i] {
			return false
		}
	}
	return true
}

// Expression renders the canonical textual form of the rule. Re-parsing the
// canonical form yields an equal rule.
func (r Rule) Expression() string {
	return fmt.Sprintf("%s at %02d:%02d", canonicalDays(r.weekdays), r.hour, r.minute)
}

// String implements fmt.Stringer using the canonical expression form.
func (r Rule) String() string {
	return r.Expression()
}

func canonicalDays(days []time.Weekday) string {
	switch {
	case isEveryDay(days):
		return "every day"
	case isWeekdays(days):
		return "weekdays"
	case isWeekends(days):
		return "weekends"
	}
	names := make([]string, 0, len(days))
	for _, day := range days {
		names = append(names, strings.ToLower(day.String()))
	}
	return strings.Join(names, " ")
}

func isEveryDay(days []time.Weekday) bool {
	return len(days) == 7
}

func isWeekdays(days []time.Weekday) bool {
	if len(days) != 5 {
		return false
	}
	for _, day := range days {
		if day == time.Saturday || day == time.Sunday {
			return false
		}
	}
	return true
}

func isWeekends(days []time.Weekday) bool {
	return len(days) == 2 && days[0] == time.Sunday && days[1] == time.Saturday
}

func normalizeWeekdays(days []time.Weekday) []time.Weekday {
	seen := make(map[time.Weekday]struct{}, len(days))
	result := make([]time.Weekday, 0, len(days))
	for _, day := range days {
		if day < time.Sunday || day > time.Saturday {
			continue
		}
		if _, ok := seen[day]; ok {
			continue
		}
		seen[day] = struct{}{}
		result = append(result, day)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}
