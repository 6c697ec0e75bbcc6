package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cyp0633/libhorizon/storage"
)

// ErrInvalidRule is wrapped by every rule validation failure.
var ErrInvalidRule = errors.New("invalid recurrence rule")

var weekdayCodes = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

var codeOfWeekday = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// DayFilter is one parsed byDay entry. Ordinal 0 matches every such weekday;
// a positive ordinal counts from the start of the month, a negative one from the end.
type DayFilter struct {
	Weekday time.Weekday
	Ordinal int
}

func (f DayFilter) String() string {
	if f.Ordinal == 0 {
		return codeOfWeekday[f.Weekday]
	}
	return strconv.Itoa(f.Ordinal) + codeOfWeekday[f.Weekday]
}

// ParseDay parses "MO", "1MO", "+2TU" or "-1FR".
func ParseDay(s string) (DayFilter, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) < 2 {
		return DayFilter{}, fmt.Errorf("%w: bad weekday %q", ErrInvalidRule, s)
	}
	wd, ok := weekdayCodes[s[len(s)-2:]]
	if !ok {
		return DayFilter{}, fmt.Errorf("%w: bad weekday %q", ErrInvalidRule, s)
	}
	f := DayFilter{Weekday: wd}
	if prefix := s[:len(s)-2]; prefix != "" {
		n, err := strconv.Atoi(prefix)
		if err != nil || n == 0 || n < -5 || n > 5 {
			return DayFilter{}, fmt.Errorf("%w: bad ordinal in %q", ErrInvalidRule, s)
		}
		f.Ordinal = n
	}
	return f, nil
}

// ParseDays parses every byDay entry, skipping malformed ones.
func ParseDays(days []string) []DayFilter {
	out := make([]DayFilter, 0, len(days))
	for _, d := range days {
		if f, err := ParseDay(d); err == nil {
			out = append(out, f)
		}
	}
	return out
}

func knownFrequency(f storage.Frequency) bool {
	switch f {
	case storage.Daily, storage.Weekly, storage.Monthly, storage.Yearly:
		return true
	}
	return false
}

// ValidateRule reports every problem of a rule at once.
func ValidateRule(rule storage.RecurrenceRule) error {
	var problems []string

	if !knownFrequency(storage.Frequency(strings.ToUpper(string(rule.Frequency)))) {
		problems = append(problems, fmt.Sprintf("unsupported frequency %q", rule.Frequency))
	}
	if rule.Interval < 0 {
		problems = append(problems, "interval must be at least 1")
	}
	if rule.Count < 0 {
		problems = append(problems, "count must not be negative")
	}
	for _, d := range rule.ByDay {
		if _, err := ParseDay(d); err != nil {
			problems = append(problems, fmt.Sprintf("byDay %q is malformed", d))
		}
	}
	for _, d := range rule.ByMonthDay {
		if d == 0 || d < -31 || d > 31 {
			problems = append(problems, fmt.Sprintf("byMonthDay %d out of range", d))
		}
	}
	for _, m := range rule.ByMonth {
		if m < 1 || m > 12 {
			problems = append(problems, fmt.Sprintf("byMonth %d out of range", m))
		}
	}
	if rule.RecurrenceEndDate != nil && !rule.RecurrenceStartDate.IsZero() &&
		rule.RecurrenceEndDate.Before(rule.RecurrenceStartDate) {
		problems = append(problems, "recurrence end date precedes start date")
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidRule, strings.Join(problems, "; "))
}

// NormalizeRule returns a copy of rule ready for expansion. When both count
// and an end date are present, count wins and the end date is dropped.
func NormalizeRule(rule storage.RecurrenceRule) storage.RecurrenceRule {
	out := rule
	out.Frequency = storage.Frequency(strings.ToUpper(strings.TrimSpace(string(rule.Frequency))))
	if out.Interval < 1 {
		out.Interval = 1
	}
	if out.Count < 0 {
		out.Count = 0
	}
	if out.Count > 0 {
		out.RecurrenceEndDate = nil
	}
	if len(rule.ByDay) > 0 {
		out.ByDay = make([]string, len(rule.ByDay))
		for i, d := range rule.ByDay {
			out.ByDay[i] = strings.ToUpper(strings.TrimSpace(d))
		}
	}
	return out
}
