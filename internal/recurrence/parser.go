package recurrence

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ParseReason identifies why an expression failed to parse.
type ParseReason string

const (
	// ReasonEmpty indicates the expression was empty or whitespace only.
	ReasonEmpty ParseReason = "empty_expression"
	// ReasonNoDay indicates no day keyword was detected.
	ReasonNoDay ParseReason = "no_day_detected"
	// ReasonNoTime indicates no time pattern was detected.
	ReasonNoTime ParseReason = "no_time_detected"
	// ReasonInvalidTime indicates a time pattern was found but is out of range.
	ReasonInvalidTime ParseReason = "invalid_time"
	// ReasonAmbiguousTime indicates a bare hour without an AM/PM qualifier.
	ReasonAmbiguousTime ParseReason = "ambiguous_time"
	// ReasonTooLong indicates the expression exceeds the accepted length.
	ReasonTooLong ParseReason = "expression_too_long"
)

// ParseError reports a rejected schedule expression. Parsing is
// all-or-nothing; no partial rule is ever produced alongside a ParseError.
type ParseError struct {
	Expression string
	Reason     ParseReason
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}
	if e.Expression == "" {
		return fmt.Sprintf("recurrence: parse failed: %s", e.Reason)
	}
	return fmt.Sprintf("recurrence: parse failed for %q: %s", e.Expression, e.Reason)
}

// MaxExpressionLength bounds accepted schedule expressions.
const MaxExpressionLength = 500

var (
	// clockPattern matches H, H:MM and HH:MM tokens, with an optional
	// attached am/pm suffix ("9pm", "9:30am").
	clockPattern = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?(am|pm)?$`)
	meridiem     = map[string]bool{"am": true, "pm": true}
)

// dayKeywords maps recognised day tokens to the weekdays they select.
var dayKeywords = map[string][]time.Weekday{
	"sunday":    {time.Sunday},
	"sun":       {time.Sunday},
	"monday":    {time.Monday},
	"mon":       {time.Monday},
	"tuesday":   {time.Tuesday},
	"tue":       {time.Tuesday},
	"tues":      {time.Tuesday},
	"wednesday": {time.Wednesday},
	"wed":       {time.Wednesday},
	"thursday":  {time.Thursday},
	"thu":       {time.Thursday},
	"thur":      {time.Thursday},
	"thurs":     {time.Thursday},
	"friday":    {time.Friday},
	"fri":       {time.Friday},
	"saturday":  {time.Saturday},
	"sat":       {time.Saturday},
	"weekday":   {time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
	"weekdays":  {time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
	"weekend":   {time.Sunday, time.Saturday},
	"weekends":  {time.Sunday, time.Saturday},
	"daily":     allWeekdays(),
}

func allWeekdays() []time.Weekday {
	return []time.Weekday{
		time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
		time.Thursday, time.Friday, time.Saturday,
	}
}

// Tokenize lowercases the expression and splits it into scanning tokens.
// Colons are preserved so clock tokens survive intact. The action sublanguage
// shares this tokenizer so day, time and action scanning stay consistent.
func Tokenize(expression string) []string {
	lowered := strings.ToLower(expression)
	return strings.FieldsFunc(lowered, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '\r', ',', ';', '.', '(', ')':
			return true
		}
		return false
	})
}

// Parse converts a bounded natural-language schedule expression into a Rule.
//
// Day keywords (exact names, abbreviations, "weekdays", "weekends",
// "every day", "daily") merge into a deduplicated day set. The first clock
// pattern wins; a missing or out-of-range time fails the parse. A bare hour
// with no AM/PM qualifier and no minutes is rejected as ambiguous rather
// than guessed. Parsing depends only on the expression text, never on the
// locale or the current clock.
func Parse(expression string) (Rule, error) {
	trimmed := strings.TrimSpace(expression)
	if trimmed == "" {
		return Rule{}, &ParseError{Expression: expression, Reason: ReasonEmpty}
	}
	if len(trimmed) > MaxExpressionLength {
		return Rule{}, &ParseError{Expression: trimmed[:32] + "...", Reason: ReasonTooLong}
	}

	tokens := Tokenize(trimmed)

	days := scanDays(tokens)
	if len(days) == 0 {
		return Rule{}, &ParseError{Expression: trimmed, Reason: ReasonNoDay}
	}

	hour, minute, reason := scanClock(tokens)
	if reason != "" {
		return Rule{}, &ParseError{Expression: trimmed, Reason: reason}
	}

	return NewRule(days, hour, minute, nil)
}

func scanDays(tokens []string) []time.Weekday {
	days := make([]time.Weekday, 0, 7)
	for i, token := range tokens {
		if selected, ok := dayKeywords[token]; ok {
			days = append(days, selected...)
			continue
		}
		// "every day" spans two tokens.
		if token == "every" && i+1 < len(tokens) && tokens[i+1] == "day" {
			days = append(days, allWeekdays()...)
		}
	}
	return normalizeWeekdays(days)
}

// scanClock finds the first clock token and resolves it against a trailing
// am/pm token when the suffix is not attached. It returns a non-empty reason
// on failure.
func scanClock(tokens []string) (hour, minute int, reason ParseReason) {
	sawBareHour := false
	for i, token := range tokens {
		m := clockPattern.FindStringSubmatch(token)
		if m == nil {
			continue
		}
		h, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		hasMinutes := m[2] != ""
		mins := 0
		if hasMinutes {
			if mins, err = strconv.Atoi(m[2]); err != nil {
				continue
			}
		}

		suffix := m[3]
		if suffix == "" && i+1 < len(tokens) && meridiem[tokens[i+1]] {
			suffix = tokens[i+1]
		}

		switch suffix {
		case "am", "pm":
			if h < 1 || h > 12 || mins > 59 {
				return 0, 0, ReasonInvalidTime
			}
			if suffix == "pm" && h != 12 {
				h += 12
			}
			if suffix == "am" && h == 12 {
				h = 0
			}
			return h, mins, ""
		default:
			if !hasMinutes {
				// A bare digit without minutes or a qualifier could be a
				// 12-hour or 24-hour reading; refuse to guess. Bare digits
				// also show up as zone numbers in action text, so only
				// digits not preceded by "zone" count as an ambiguous time.
				if h <= 23 && (i == 0 || tokens[i-1] != "zone") {
					sawBareHour = true
				}
				continue
			}
			if h > 23 || mins > 59 {
				return 0, 0, ReasonInvalidTime
			}
			return h, mins, ""
		}
	}
	if sawBareHour {
		return 0, 0, ReasonAmbiguousTime
	}
	return 0, 0, ReasonNoTime
}
