package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// ParseRule builds an expander for an RRULE body (no RRULE: prefix, no
// DTSTART — the anchor is supplied by the caller).
func ParseRule(rule string, dtstart time.Time) (*rrule.RRule, error) {
	upper := strings.ToUpper(rule)
	for _, freq := range []string{"SECONDLY", "MINUTELY"} {
		if strings.Contains(upper, "FREQ="+freq) {
			return nil, fmt.Errorf("FREQ=%s is not supported", freq)
		}
	}

	opt, err := rrule.StrToROption(rule)
	if err != nil {
		return nil, fmt.Errorf("invalid recurrence rule: %w", err)
	}
	opt.Dtstart = dtstart.UTC()

	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("invalid recurrence rule: %w", err)
	}
	return r, nil
}

// Expand returns the rule's occurrences in [from, to], endpoints included.
func Expand(rule string, dtstart, from, to time.Time) ([]time.Time, error) {
	r, err := ParseRule(rule, dtstart)
	if err != nil {
		return nil, err
	}
	return r.Between(from.UTC(), to.UTC(), true), nil
}

// AmendRuleUntil rewrites a rule so the series ends the day before the
// given occurrence date. COUNT is dropped (mutually exclusive with UNTIL).
// The UNTIL value is the last second of the preceding day, which keeps the
// bound unambiguous for sub-day frequencies.
func AmendRuleUntil(rule, occurrenceDate string) (string, error) {
	day, err := time.Parse("2006-01-02", occurrenceDate)
	if err != nil {
		return "", fmt.Errorf("invalid occurrence date %q: %w", occurrenceDate, err)
	}
	until := day.AddDate(0, 0, -1).Format("20060102") + "T235959Z"

	var parts []string
	for _, part := range strings.Split(rule, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key := strings.ToUpper(part)
		if strings.HasPrefix(key, "COUNT=") || strings.HasPrefix(key, "UNTIL=") {
			continue
		}
		parts = append(parts, part)
	}
	parts = append(parts, "UNTIL="+until)
	return strings.Join(parts, ";"), nil
}
