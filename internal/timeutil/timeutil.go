package timeutil

import (
	"fmt"
	"time"
)

// ISOFormat is the wire format for UTC instants: no sub-second precision,
// trailing Z.
const ISOFormat = "2006-01-02T15:04:05Z"

// FormatISO renders an instant as a UTC ISO-8601 string.
func FormatISO(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(ISOFormat)
}

// FormatLocalISO renders an instant in the given location with its offset.
func FormatLocalISO(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Truncate(time.Second).Format("2006-01-02T15:04:05-07:00")
}

// LoadLocation resolves an IANA timezone name, reporting an error for
// anything the tz database does not know.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return nil, fmt.Errorf("empty timezone name")
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

// LocationOrUTC loads a location and falls back to UTC when the name is
// unknown. Used where a bad stored name must not break serving.
func LocationOrUTC(name string) *time.Location {
	loc, err := LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SameLocalDate reports whether two instants fall on the same calendar date
// in the given location.
func SameLocalDate(a, b time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// StartOfDay returns midnight of the instant's date in the location.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
