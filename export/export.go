// Package export renders resolved instances as calendar feeds.
package export

import (
	"time"

	"github.com/cyp0633/libhorizon/resolve"
)

const defaultProductID = "-//libhorizon//Instance Feed//EN"

type options struct {
	productID string
	now       func() time.Time
}

// Option configures an export.
type Option func(*options)

// WithProductID sets the PRODID of the generated calendar.
func WithProductID(id string) Option {
	return func(o *options) { o.productID = id }
}

// WithClock sets the fallback DTSTAMP source for instances without timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{productID: defaultProductID, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func stamp(r resolve.ResolvedInstance, o options) time.Time {
	switch {
	case !r.LastUpdatedAt.IsZero():
		return r.LastUpdatedAt.UTC()
	case !r.GeneratedAt.IsZero():
		return r.GeneratedAt.UTC()
	default:
		return o.now().UTC()
	}
}

func status(r resolve.ResolvedInstance) string {
	if r.IsCancelled {
		return "CANCELLED"
	}
	return "CONFIRMED"
}

func class(r resolve.ResolvedInstance) string {
	if r.IsPublic {
		return "PUBLIC"
	}
	return "PRIVATE"
}

// dates returns the calendar days of an all-day instance in its own zone.
// The end is exclusive and at least one day after the start.
func dates(r resolve.ResolvedInstance) (time.Time, time.Time) {
	loc := time.UTC
	if r.Timezone != "" {
		if l, err := time.LoadLocation(r.Timezone); err == nil {
			loc = l
		}
	}
	day := func(t time.Time) time.Time {
		y, m, d := t.In(loc).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	start, end := day(r.ActualStartTime), day(r.ActualEndTime)
	if !end.After(start) {
		end = start.AddDate(0, 0, 1)
	}
	return start, end
}
