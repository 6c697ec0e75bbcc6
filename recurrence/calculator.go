package recurrence

import (
	"time"

	"github.com/cyp0633/libhorizon/internal/logx"
	"github.com/cyp0633/libhorizon/storage"
)

// Occurrence is one calculated, not yet persisted, instance of a series.
type Occurrence struct {
	OriginalStartTime time.Time
	ActualStartTime   time.Time
	ActualEndTime     time.Time
	IsCancelled       bool
	SequenceNumber    int
	TotalCount        *int
}

// Config bounds the expansion loop.
type Config struct {
	// MaxIterationsBounded caps candidates evaluated for series with a count or end date.
	MaxIterationsBounded int
	// MaxIterationsUnbounded caps candidates evaluated for never ending series.
	MaxIterationsUnbounded int
}

// DefaultConfig provides the production iteration caps.
var DefaultConfig = Config{
	MaxIterationsBounded:   1000,
	MaxIterationsUnbounded: 10000,
}

// Calculator expands recurrence rules into occurrences.
type Calculator struct {
	cfg   Config
	log   logx.Logger
	cache *PreviewCache
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithConfig sets the iteration caps. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(c *Calculator) {
		if cfg.MaxIterationsBounded > 0 {
			c.cfg.MaxIterationsBounded = cfg.MaxIterationsBounded
		}
		if cfg.MaxIterationsUnbounded > 0 {
			c.cfg.MaxIterationsUnbounded = cfg.MaxIterationsUnbounded
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logx.Logger) Option {
	return func(c *Calculator) {
		c.log = log
	}
}

// WithPreviewCache memoizes Preview results.
func WithPreviewCache(cache *PreviewCache) Option {
	return func(c *Calculator) {
		c.cache = cache
	}
}

// NewCalculator creates a calculator with DefaultConfig and a no-op logger.
func NewCalculator(opts ...Option) *Calculator {
	c := &Calculator{cfg: DefaultConfig, log: logx.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	return c
}

// Calculate runs a default calculator.
func Calculate(rule storage.RecurrenceRule, tpl storage.Template, windowStart, windowEnd time.Time, exceptions []storage.Exception) []Occurrence {
	return NewCalculator().Calculate(rule, tpl, windowStart, windowEnd, exceptions)
}

// Calculate expands rule from the template start and returns the occurrences
// whose original start lies in [windowStart, windowEnd]. Sequence numbers count
// from the first occurrence of the series, so they do not depend on the window.
//
// A template without start or end time yields no occurrences and a warning.
func (c *Calculator) Calculate(rule storage.RecurrenceRule, tpl storage.Template, windowStart, windowEnd time.Time, exceptions []storage.Exception) []Occurrence {
	if tpl.StartAt.IsZero() || tpl.EndAt.IsZero() {
		c.log.Warn("template is missing start or end time, skipping expansion",
			logx.String("template_id", tpl.ID),
			logx.String("organization_id", tpl.OrganizationID))
		return nil
	}

	s := NewSeries(rule, tpl.StartAt, c.location(tpl))
	rule = s.Rule()
	duration := tpl.Duration()

	overrides := make(map[storage.InstanceKey]storage.ExceptionOverrides, len(exceptions))
	for _, e := range exceptions {
		if e.RecurringEventID != "" && e.RecurringEventID != tpl.ID {
			continue
		}
		overrides[storage.NewInstanceKey(tpl.ID, e.InstanceStartTime)] = e.Overrides
	}


	limit := c.cfg.MaxIterationsUnbounded
	if rule.Bounded() {
		limit = c.cfg.MaxIterationsBounded
	}

	var (
		out []Occurrence
		seq int
		cur = s.Start()
		i   int
	)
	for ; i < limit; i++ {
		if cur.After(windowEnd) {
			break
		}
		if end := rule.RecurrenceEndDate; end != nil && cur.After(*end) {
			break
		}
		if rule.Count > 0 && seq >= rule.Count {
			break
		}
		if s.Accepts(cur) {
			seq++
			if !cur.Before(windowStart) {
				occ := Occurrence{
					OriginalStartTime: cur.UTC(),
					ActualStartTime:   cur.UTC(),
					ActualEndTime:     cur.Add(duration).UTC(),
					SequenceNumber:    seq,
					TotalCount:        countOf(rule),
				}
				if o, ok := overrides[storage.NewInstanceKey(tpl.ID, cur)]; ok {
					applyOverrides(&occ, o)
				}
				out = append(out, occ)
			}
		}
		cur = s.Next(cur)
	}
	if i == limit {
		c.log.Debug("iteration cap reached",
			logx.String("template_id", tpl.ID),
			logx.Int("limit", limit),
			logx.Int("emitted", len(out)))
	}
	return out
}

func applyOverrides(occ *Occurrence, o storage.ExceptionOverrides) {
	if v, ok := o.StartAt.Get(); ok {
		occ.ActualStartTime = v.UTC()
	}
	if v, ok := o.EndAt.Get(); ok {
		occ.ActualEndTime = v.UTC()
	}
	if v, ok := o.IsCancelled.Get(); ok {
		occ.IsCancelled = v
	}
}

// Preview returns up to n upcoming occurrences starting at or after from,
// ignoring exceptions.
func (c *Calculator) Preview(rule storage.RecurrenceRule, tpl storage.Template, from time.Time, n int) []Occurrence {
	if n <= 0 {
		return nil
	}
	if c.cache != nil {
		if hit, ok := c.cache.Get(rule, tpl, from, n); ok {
			return hit
		}
	}

	// A year per requested occurrence covers every frequency; the count and
	// iteration caps end the walk long before that for dense rules.
	all := c.Calculate(rule, tpl, from, from.AddDate(n*rule.Interval+n, 0, 0), nil)
	if len(all) > n {
		all = all[:n]
	}
	if c.cache != nil {
		c.cache.Set(rule, tpl, from, n, all)
	}
	return all
}

func (c *Calculator) location(tpl storage.Template) *time.Location {
	if tpl.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tpl.Timezone)
	if err != nil {
		c.log.Warn("unknown template timezone, using UTC",
			logx.String("template_id", tpl.ID),
			logx.String("timezone", tpl.Timezone),
			logx.Err(err))
		return time.UTC
	}
	return loc
}

// countOf returns a fresh copy of the rule count for each occurrence, or nil
// when the series is not count bounded.
func countOf(rule storage.RecurrenceRule) *int {
	if rule.Count <= 0 {
		return nil
	}
	n := rule.Count
	return &n
}
