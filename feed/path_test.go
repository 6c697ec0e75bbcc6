package feed

import (
	"testing"
)

func TestParsePath(t *testing.T) {
	testCases := []struct {
		name       string
		path       string
		wantErr    bool
		wantOrg    string
		wantSeries string
		wantFormat Format
	}{
		{"empty path", "", true, "", "", FormatICS},
		{"organization ics", "/o/org-1/instances.ics", false, "org-1", "", FormatICS},
		{"organization xcal", "o/org-1/instances.xml", false, "org-1", "", FormatXCal},
		{"series ics", "/o/org-1/series/standup.ics", false, "org-1", "standup", FormatICS},
		{"series with dots", "/o/org-1/series/v1.2.xml", false, "org-1", "v1.2", FormatXCal},
		{"unknown extension", "/o/org-1/instances.json", true, "", "", FormatICS},
		{"wrong feed name", "/o/org-1/events.ics", true, "", "", FormatICS},
		{"missing series name", "/o/org-1/series/.ics", true, "", "", FormatICS},
		{"wrong prefix", "/u/org-1/instances.ics", true, "", "", FormatICS},
		{"too many segments", "/o/org-1/series/a/b.ics", true, "", "", FormatICS},
		{"organization only", "/o/org-1", true, "", "", FormatICS},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := ParsePath(tc.path)
			if (err != nil) != tc.wantErr {
				t.Errorf("ParsePath(%q) error = %v, wantErr %v", tc.path, err, tc.wantErr)
				return
			}
			if err != nil {
				return
			}
			if p.OrganizationID != tc.wantOrg {
				t.Errorf("OrganizationID = %q, want %q", p.OrganizationID, tc.wantOrg)
			}
			if p.SeriesID != tc.wantSeries {
				t.Errorf("SeriesID = %q, want %q", p.SeriesID, tc.wantSeries)
			}
			if p.Format != tc.wantFormat {
				t.Errorf("Format = %v, want %v", p.Format, tc.wantFormat)
			}
		})
	}
}

func TestPathString(t *testing.T) {
	tests := []struct {
		path Path
		want string
	}{
		{Path{OrganizationID: "org-1"}, "/o/org-1/instances.ics"},
		{Path{OrganizationID: "org-1", Format: FormatXCal}, "/o/org-1/instances.xml"},
		{Path{OrganizationID: "org-1", SeriesID: "s"}, "/o/org-1/series/s.ics"},
	}
	for _, tt := range tests {
		if got := tt.path.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
		round, err := ParsePath(tt.want)
		if err != nil || *round != tt.path {
			t.Errorf("ParsePath(%q) = %v, %v", tt.want, round, err)
		}
	}
}

func TestFormat(t *testing.T) {
	if FormatICS.ContentType() != MimeTypeCalendar {
		t.Errorf("ics content type = %q", FormatICS.ContentType())
	}
	if FormatXCal.ContentType() != MimeTypeXCal {
		t.Errorf("xcal content type = %q", FormatXCal.ContentType())
	}
	if Format(9).String() != "unknown" {
		t.Errorf("unexpected name %q", Format(9).String())
	}
}
