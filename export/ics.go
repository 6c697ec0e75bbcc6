package export

import (
	"fmt"
	"io"

	"github.com/cyp0633/libhorizon/resolve"
	"github.com/emersion/go-ical"
)

// Calendar builds a VCALENDAR with one VEVENT per instance. Each event keeps
// the series id as UID and its original start as RECURRENCE-ID, so clients
// see the instances as members of one series.
func Calendar(instances []resolve.ResolvedInstance, opts ...Option) *ical.Calendar {
	o := buildOptions(opts)

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, o.productID)
	cal.Props.SetText(ical.PropVersion, "2.0")

	for _, r := range instances {
		event := ical.NewEvent()
		event.Props.SetText(ical.PropUID, r.BaseRecurringEventID)
		event.Props.SetDateTime(ical.PropDateTimeStamp, stamp(r, o))
		event.Props.SetDateTime(ical.PropRecurrenceID, r.OriginalInstanceStartTime.UTC())

		if r.AllDay {
			start, end := dates(r)
			event.Props.SetDate(ical.PropDateTimeStart, start)
			event.Props.SetDate(ical.PropDateTimeEnd, end)
		} else {
			event.Props.SetDateTime(ical.PropDateTimeStart, r.ActualStartTime.UTC())
			event.Props.SetDateTime(ical.PropDateTimeEnd, r.ActualEndTime.UTC())
		}

		event.Props.SetText(ical.PropSummary, r.Name)
		if r.Description != "" {
			event.Props.SetText(ical.PropDescription, r.Description)
		}
		if r.Location != "" {
			event.Props.SetText(ical.PropLocation, r.Location)
		}
		event.Props.SetText(ical.PropStatus, status(r))
		event.Props.SetText(ical.PropClass, class(r))
		if !r.CreatedAt.IsZero() {
			event.Props.SetDateTime(ical.PropCreated, r.CreatedAt.UTC())
		}

		cal.Children = append(cal.Children, event.Component)
	}
	return cal
}

// WriteICS writes instances as an iCalendar stream.
func WriteICS(w io.Writer, instances []resolve.ResolvedInstance, opts ...Option) error {
	if err := ical.NewEncoder(w).Encode(Calendar(instances, opts...)); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	return nil
}
