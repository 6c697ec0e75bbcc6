package recurrence

import (
	"slices"
	"time"

	"github.com/cyp0633/libhorizon/storage"
)

// Upper bounds for the probing loops inside Next. They only matter for
// rules that can never match, where the caller's iteration cap takes over.
const (
	maxScanDays    = 4000
	maxPeriodProbe = 128
)

// Series binds a normalized rule to the start of its first occurrence.
// All calendar math happens in the series location, so an occurrence keeps
// its wall clock time across DST changes.
type Series struct {
	rule     storage.RecurrenceRule
	anchor   time.Time
	loc      *time.Location
	interval int

	days      []DayFilter
	monthDays []int
	months    []int
}

// NewSeries normalizes rule and anchors it at start, interpreted in loc
// (UTC when nil). Start is truncated to millisecond precision.
func NewSeries(rule storage.RecurrenceRule, start time.Time, loc *time.Location) *Series {
	if loc == nil {
		loc = time.UTC
	}
	rule = NormalizeRule(rule)
	return &Series{
		rule:      rule,
		anchor:    start.Truncate(time.Millisecond).In(loc),
		loc:       loc,
		interval:  rule.Interval,
		days:      ParseDays(rule.ByDay),
		monthDays: rule.ByMonthDay,
		months:    rule.ByMonth,
	}
}

// Start is the first candidate of the series.
func (s *Series) Start() time.Time { return s.anchor }

// Rule is the normalized rule the series expands.
func (s *Series) Rule() storage.RecurrenceRule { return s.rule }

// Accepts reports whether c is an occurrence date of the series. Only the
// calendar date of c is inspected, not its time of day.
func (s *Series) Accepts(c time.Time) bool {
	c = c.In(s.loc)
	if c.Before(s.anchor) {
		return false
	}
	if end := s.rule.RecurrenceEndDate; end != nil && c.After(*end) {
		return false
	}

	switch s.rule.Frequency {
	case storage.Weekly:
		if s.weekIndex(c)%s.interval != 0 {
			return false
		}
		if len(s.days) == 0 {
			return c.Weekday() == s.anchor.Weekday()
		}
		for _, f := range s.days {
			if f.Weekday == c.Weekday() {
				return true
			}
		}
		return false

	case storage.Monthly:
		if s.monthIndex(c)%s.interval != 0 {
			return false
		}
		switch {
		case len(s.days) > 0:
			return s.matchesDays(c)
		case len(s.monthDays) > 0:
			return s.matchesMonthDay(c)
		default:
			return c.Day() == s.anchor.Day()
		}

	case storage.Yearly:
		if (c.Year()-s.anchor.Year())%s.interval != 0 {
			return false
		}
		if len(s.months) > 0 && !slices.Contains(s.months, int(c.Month())) {
			return false
		}
		switch {
		case len(s.monthDays) > 0:
			return s.matchesMonthDay(c)
		case len(s.days) > 0:
			return s.matchesDays(c)
		case len(s.months) > 0:
			return c.Day() == s.anchor.Day()
		default:
			return c.Month() == s.anchor.Month() && c.Day() == s.anchor.Day()
		}

	default:
		return (dayNumber(c)-dayNumber(s.anchor))%s.interval == 0
	}
}

// Next returns the candidate following c. Rules with day level filters step
// to the next date passing them; the others advance by whole periods.
// Unknown frequencies step daily.
func (s *Series) Next(c time.Time) time.Time {
	c = c.In(s.loc)

	switch s.rule.Frequency {
	case storage.Weekly:
		if len(s.days) == 0 {
			return c.AddDate(0, 0, 7*s.interval)
		}
		return s.scan(c)

	case storage.Monthly:
		if len(s.days) == 1 && s.days[0].Ordinal != 0 {
			return s.nextNthWeekday(c, s.days[0])
		}
		if len(s.days) > 0 || len(s.monthDays) > 0 {
			return s.scan(c)
		}
		return s.nextMonthly(c)

	case storage.Yearly:
		if len(s.days) > 0 || len(s.monthDays) > 0 {
			return s.scan(c)
		}
		if len(s.months) > 0 {
			return s.nextInMonths(c)
		}
		return s.nextYearly(c)

	default:
		return c.AddDate(0, 0, s.interval)
	}
}

// at builds a date in the series location at the anchor's time of day.
// Out of range days normalize like time.Date does.
func (s *Series) at(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, s.anchor.Hour(), s.anchor.Minute(), s.anchor.Second(), s.anchor.Nanosecond(), s.loc)
}

func (s *Series) matchesDays(c time.Time) bool {
	for _, f := range s.days {
		if f.Weekday != c.Weekday() {
			continue
		}
		if f.Ordinal == 0 || ordinalOf(c, f.Ordinal < 0) == f.Ordinal {
			return true
		}
	}
	return false
}

func (s *Series) matchesMonthDay(c time.Time) bool {
	last := daysIn(c.Year(), c.Month())
	for _, d := range s.monthDays {
		if d > 0 && c.Day() == d {
			return true
		}
		if d < 0 && c.Day() == last+d+1 {
			return true
		}
	}
	return false
}

// scan walks day by day, skipping whole periods the interval rules out.
func (s *Series) scan(c time.Time) time.Time {
	d := c
	for i := 0; i < maxScanDays; i++ {
		d = s.advanceDay(d)
		if end := s.rule.RecurrenceEndDate; end != nil && d.After(*end) {
			return d
		}
		if s.Accepts(d) {
			return d
		}
	}
	return d
}

func (s *Series) advanceDay(d time.Time) time.Time {
	y, m, day := d.Date()
	n := s.at(y, m, day+1)

	switch s.rule.Frequency {
	case storage.Weekly:
		if k := s.weekIndex(n); k%s.interval != 0 {
			monday := s.at(n.Year(), n.Month(), n.Day()-mondayOffset(n))
			n = monday.AddDate(0, 0, 7*(s.interval-k%s.interval))
		}
	case storage.Monthly:
		if k := s.monthIndex(n); k%s.interval != 0 {
			n = s.at(s.anchor.Year(), s.anchor.Month()+time.Month(k+s.interval-k%s.interval), 1)
		}
	case storage.Yearly:
		if k := n.Year() - s.anchor.Year(); k%s.interval != 0 {
			n = s.at(n.Year()+s.interval-k%s.interval, time.January, 1)
		} else if len(s.months) > 0 && !slices.Contains(s.months, int(n.Month())) {
			n = s.at(n.Year(), n.Month()+1, 1)
		}
	}
	return n
}

// nextNthWeekday finds the next date after c that is the f.Ordinal-th
// f.Weekday of an active month. The month of c is tried first.
func (s *Series) nextNthWeekday(c time.Time, f DayFilter) time.Time {
	k := s.monthIndex(c)
	if k < 0 {
		k = 0
	}
	if r := k % s.interval; r != 0 {
		k += s.interval - r
	}
	for i := 0; i < maxPeriodProbe; i, k = i+1, k+s.interval {
		first := s.at(s.anchor.Year(), s.anchor.Month()+time.Month(k), 1)
		if t, ok := s.nthWeekday(first.Year(), first.Month(), f); ok && t.After(c) {
			return t
		}
	}
	return c.AddDate(0, s.interval, 0)
}

func (s *Series) nthWeekday(year int, month time.Month, f DayFilter) (time.Time, bool) {
	last := daysIn(year, month)
	var day int
	if f.Ordinal > 0 {
		first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Weekday()
		day = 1 + (int(f.Weekday)-int(first)+7)%7 + (f.Ordinal-1)*7
	} else {
		lastWd := time.Date(year, month, last, 0, 0, 0, 0, time.UTC).Weekday()
		day = last - (int(lastWd)-int(f.Weekday)+7)%7 + (f.Ordinal+1)*7
	}
	if day < 1 || day > last {
		return time.Time{}, false
	}
	return s.at(year, month, day), true
}

// nextMonthly keeps the anchor's day of month, skipping months without it.
func (s *Series) nextMonthly(c time.Time) time.Time {
	k := s.monthIndex(c)
	for i := 0; i < maxPeriodProbe; i++ {
		k += s.interval
		t := s.at(s.anchor.Year(), s.anchor.Month()+time.Month(k), s.anchor.Day())
		if t.Day() == s.anchor.Day() {
			return t
		}
	}
	return c.AddDate(0, s.interval, 0)
}

// nextYearly keeps the anchor's month and day, so Feb 29 only recurs in leap years.
func (s *Series) nextYearly(c time.Time) time.Time {
	k := c.Year() - s.anchor.Year()
	for i := 0; i < maxPeriodProbe; i++ {
		k += s.interval
		t := s.at(s.anchor.Year()+k, s.anchor.Month(), s.anchor.Day())
		if t.Day() == s.anchor.Day() {
			return t
		}
	}
	return c.AddDate(s.interval, 0, 0)
}

// nextInMonths steps month by month through the listed months of active years.
func (s *Series) nextInMonths(c time.Time) time.Time {
	k := s.monthIndex(c)
	for i := 0; i < 12*maxPeriodProbe; i++ {
		k++
		t := s.at(s.anchor.Year(), s.anchor.Month()+time.Month(k), s.anchor.Day())
		if t.Day() != s.anchor.Day() {
			continue
		}
		if (t.Year()-s.anchor.Year())%s.interval != 0 || !slices.Contains(s.months, int(t.Month())) {
			continue
		}
		return t
	}
	return c.AddDate(s.interval, 0, 0)
}

func (s *Series) monthIndex(t time.Time) int {
	return (t.Year()-s.anchor.Year())*12 + int(t.Month()) - int(s.anchor.Month())
}

func (s *Series) weekIndex(t time.Time) int {
	return ((dayNumber(t) - mondayOffset(t)) - (dayNumber(s.anchor) - mondayOffset(s.anchor))) / 7
}

// dayNumber counts calendar days since the epoch for the date of t in its own location.
func dayNumber(t time.Time) int {
	y, m, d := t.Date()
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

func mondayOffset(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ordinalOf returns which occurrence of its weekday c is within its month,
// counted from the start (1, 2, ...) or from the end (-1, -2, ...).
func ordinalOf(c time.Time, fromEnd bool) int {
	if fromEnd {
		return -((daysIn(c.Year(), c.Month())-c.Day())/7 + 1)
	}
	return (c.Day()-1)/7 + 1
}
