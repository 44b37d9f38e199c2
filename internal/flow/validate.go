package flow

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// ValidationResult maps a field or slot name to a user-facing message.
// An empty result means the step is valid.
type ValidationResult map[string]string

// OK reports whether no errors were recorded.
func (r ValidationResult) OK() bool { return len(r) == 0 }

// Validate evaluates every rule of the step against fields and checks that
// every non-optional slot is staged. It is pure: the same inputs always give
// the same result, and nothing is remembered between calls.
func Validate(step *Step, fields map[string]string, staged map[string]bool, now time.Time) ValidationResult {
	res := ValidationResult{}
	for _, fd := range step.Fields {
		value := fields[fd.Name]
		for _, r := range fd.Rules {
			if !r.passes(value, fields, now) {
				res[fd.Name] = r.Message
				break
			}
		}
	}
	for _, sl := range step.Slots {
		if sl.Optional || staged[sl.Name] {
			continue
		}
		msg := sl.Message
		if msg == "" {
			msg = sl.Label + " is required"
		}
		res[sl.Name] = msg
	}
	return res
}

func (r *Rule) passes(value string, fields map[string]string, now time.Time) bool {
	trimmed := strings.TrimSpace(value)
	if r.Kind == RuleRequired {
		return trimmed != ""
	}
	if r.Kind == RuleEquals {
		return value == fields[r.Field]
	}
	// Format rules leave emptiness to the required rule.
	if trimmed == "" {
		return true
	}

	switch r.Kind {
	case RulePattern:
		return r.re != nil && r.re.MatchString(value)
	case RuleMinLength:
		return utf8.RuneCountInString(trimmed) >= r.Value
	case RulePositive:
		n, err := strconv.ParseFloat(trimmed, 64)
		return err == nil && n > 0
	case RuleMinAge:
		born, err := time.Parse(time.DateOnly, trimmed)
		if err != nil {
			return false
		}
		return Age(born, now) >= r.Value
	case RuleRange:
		n, err := strconv.Atoi(trimmed)
		return err == nil && n >= r.Value && n <= r.Max
	case RuleOneOf:
		_, ok := r.allowed[trimmed]
		return ok
	}
	return false
}

// Age returns the completed years between born and now.
func Age(born, now time.Time) int {
	years := now.Year() - born.Year()
	if now.Month() < born.Month() || (now.Month() == born.Month() && now.Day() < born.Day()) {
		years--
	}
	return years
}
