package export

import (
	"fmt"
	"io"
	"time"

	"github.com/beevik/etree"
	"github.com/cyp0633/libhorizon/resolve"
)

// XCalNamespace is the RFC 6321 namespace.
const XCalNamespace = "urn:ietf:params:xml:ns:icalendar-2.0"

const (
	xcalDateTime = "2006-01-02T15:04:05Z"
	xcalDate     = "2006-01-02"
)

// XCal builds the xCal document of instances.
func XCal(instances []resolve.ResolvedInstance, opts ...Option) *etree.Document {
	o := buildOptions(opts)

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("icalendar")
	root.CreateAttr("xmlns", XCalNamespace)

	vcal := root.CreateElement("vcalendar")
	props := vcal.CreateElement("properties")
	textProp(props, "prodid", o.productID)
	textProp(props, "version", "2.0")

	components := vcal.CreateElement("components")
	for _, r := range instances {
		vevent := components.CreateElement("vevent")
		p := vevent.CreateElement("properties")

		textProp(p, "uid", r.BaseRecurringEventID)
		dateTimeProp(p, "dtstamp", stamp(r, o))
		dateTimeProp(p, "recurrence-id", r.OriginalInstanceStartTime)
		if r.AllDay {
			start, end := dates(r)
			valueProp(p, "dtstart", "date", start.Format(xcalDate))
			valueProp(p, "dtend", "date", end.Format(xcalDate))
		} else {
			dateTimeProp(p, "dtstart", r.ActualStartTime)
			dateTimeProp(p, "dtend", r.ActualEndTime)
		}
		textProp(p, "summary", r.Name)
		if r.Description != "" {
			textProp(p, "description", r.Description)
		}
		if r.Location != "" {
			textProp(p, "location", r.Location)
		}
		textProp(p, "status", status(r))
		textProp(p, "class", class(r))
	}
	return doc
}

// WriteXCal writes instances as an indented xCal document.
func WriteXCal(w io.Writer, instances []resolve.ResolvedInstance, opts ...Option) error {
	doc := XCal(instances, opts...)
	doc.Indent(2)
	if _, err := doc.WriteTo(w); err != nil {
		return fmt.Errorf("write xcal: %w", err)
	}
	return nil
}

func textProp(parent *etree.Element, name, value string) {
	valueProp(parent, name, "text", value)
}

func dateTimeProp(parent *etree.Element, name string, t time.Time) {
	valueProp(parent, name, "date-time", t.UTC().Format(xcalDateTime))
}

func valueProp(parent *etree.Element, name, kind, value string) {
	parent.CreateElement(name).CreateElement(kind).SetText(value)
}
