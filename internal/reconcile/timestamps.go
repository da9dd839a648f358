package reconcile

import (
	"fmt"
	"time"
)

// DisplayLayout is the short day/month hour:minute label used on chart axes
const DisplayLayout = "02/01, 15:04"

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses the ISO-8601 variants produced by the market API.
// Timestamps without a zone are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// FormatTimestamp renders t as the canonical UTC key of a TimePoint
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// FormatDisplay renders the axis label of t in loc (UTC when nil)
func FormatDisplay(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DisplayLayout)
}
