package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/cyp0633/libhorizon/storage"
	"github.com/teambition/rrule-go"
)

// rrule-go numbers weekdays from Monday.
var rruleWeekdays = [...]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// ParseRRule converts an RFC 5545 RRULE value ("FREQ=WEEKLY;BYDAY=MO,WE")
// into rule fields. The optional "RRULE:" prefix is accepted.
func ParseRRule(value string) (storage.RecurrenceRule, error) {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "RRULE:")

	opt, err := rrule.StrToROption(value)
	if err != nil {
		return storage.RecurrenceRule{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	freq := storage.Frequency(opt.Freq.String())
	if !knownFrequency(freq) {
		return storage.RecurrenceRule{}, fmt.Errorf("%w: unsupported frequency %s", ErrInvalidRule, freq)
	}

	rule := storage.RecurrenceRule{
		Frequency:  freq,
		Interval:   opt.Interval,
		Count:      opt.Count,
		ByMonthDay: opt.Bymonthday,
		ByMonth:    opt.Bymonth,
	}
	if rule.Interval < 1 {
		rule.Interval = 1
	}
	if !opt.Until.IsZero() {
		until := opt.Until.UTC()
		rule.RecurrenceEndDate = &until
	}
	for _, wd := range opt.Byweekday {
		f := DayFilter{Weekday: time.Weekday((wd.Day() + 1) % 7), Ordinal: wd.N()}
		rule.ByDay = append(rule.ByDay, f.String())
	}
	rule.RRule = opt.RRuleString()
	return rule, nil
}

// FormatRRule renders rule as an RRULE value.
func FormatRRule(rule storage.RecurrenceRule) (string, error) {
	opt, err := toROption(rule)
	if err != nil {
		return "", err
	}
	return opt.RRuleString(), nil
}

func toROption(rule storage.RecurrenceRule) (*rrule.ROption, error) {
	rule = NormalizeRule(rule)
	if err := ValidateRule(rule); err != nil {
		return nil, err
	}
	freq, err := rrule.StrToFreq(string(rule.Frequency))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	opt := &rrule.ROption{
		Freq:       freq,
		Interval:   rule.Interval,
		Count:      rule.Count,
		Bymonthday: rule.ByMonthDay,
		Bymonth:    rule.ByMonth,
	}
	if rule.RecurrenceEndDate != nil {
		opt.Until = rule.RecurrenceEndDate.UTC()
	}
	for _, f := range ParseDays(rule.ByDay) {
		wd := rruleWeekdays[f.Weekday]
		if f.Ordinal != 0 {
			wd = wd.Nth(f.Ordinal)
		}
		opt.Byweekday = append(opt.Byweekday, wd)
	}
	return opt, nil
}

// ReferenceExpand expands rule with rrule-go between from and to inclusive.
// It serves as an RFC 5545 oracle for rules both engines interpret alike.
func ReferenceExpand(rule storage.RecurrenceRule, start time.Time, from, to time.Time) ([]time.Time, error) {
	opt, err := toROption(rule)
	if err != nil {
		return nil, err
	}
	opt.Dtstart = start
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return r.Between(from, to, true), nil
}
