package feed

import (
	"fmt"
	"strings"
)

// Format is the rendering of a feed.
type Format int

const (
	FormatICS Format = iota
	FormatXCal
)

// String returns the file extension of the format.
func (f Format) String() string {
	switch f {
	case FormatICS:
		return "ics"
	case FormatXCal:
		return "xml"
	default:
		return "unknown"
	}
}

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	if f == FormatXCal {
		return MimeTypeXCal
	}
	return MimeTypeCalendar
}

// Path is a parsed feed path. SeriesID is empty for organization feeds.
type Path struct {
	OrganizationID string
	SeriesID       string
	Format         Format
}

// String returns the canonical form of the path.
func (p *Path) String() string {
	if p.SeriesID != "" {
		return fmt.Sprintf("/o/%s/series/%s.%s", p.OrganizationID, p.SeriesID, p.Format)
	}
	return fmt.Sprintf("/o/%s/instances.%s", p.OrganizationID, p.Format)
}

// ParsePath parses a feed path:
//
//	/o/<org>/instances.ics|xml
//	/o/<org>/series/<series>.ics|xml
func ParsePath(path string) (*Path, error) {
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 || parts[0] != "o" {
		return nil, fmt.Errorf("invalid path format")
	}
	orgID := parts[1]
	if orgID == "" {
		return nil, fmt.Errorf("invalid organization ID")
	}

	switch {
	case len(parts) == 3:
		format, err := parseFormat(parts[2], "instances")
		if err != nil {
			return nil, err
		}
		return &Path{OrganizationID: orgID, Format: format}, nil

	case len(parts) == 4 && parts[2] == "series":
		name := parts[3]
		dot := strings.LastIndexByte(name, '.')
		if dot <= 0 {
			return nil, fmt.Errorf("invalid series feed name")
		}
		format, err := parseFormat(name, name[:dot])
		if err != nil {
			return nil, err
		}
		return &Path{OrganizationID: orgID, SeriesID: name[:dot], Format: format}, nil

	default:
		return nil, fmt.Errorf("invalid path format")
	}
}

func parseFormat(name, base string) (Format, error) {
	switch name {
	case base + ".ics":
		return FormatICS, nil
	case base + ".xml":
		return FormatXCal, nil
	default:
		return 0, fmt.Errorf("unsupported feed %q", name)
	}
}
