// Package timeutil provides timezone-aware "what day is it" helpers for the
// schedule read side. Schedules are stored as civil dates (00:00 UTC), while
// "today" depends on where the students are, so every helper takes a Zone.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"time"
)

// DefaultZoneName is used when no timezone is configured.
const DefaultZoneName = "Europe/Moscow"

// Common date/time formats.
const (
	// FormatDate is the standard date format (YYYY-MM-DD).
	FormatDate = "2006-01-02"
	// FormatTime is the standard time format (HH:MM).
	FormatTime = "15:04"
	// FormatRussianDate is the Russian date format (DD.MM.YYYY).
	FormatRussianDate = "02.01.2006"
)

// Zone wraps the location that defines calendar days for clients.
type Zone struct {
	loc *time.Location
	now func() time.Time
}

// LoadZone loads an IANA zone. An empty name means DefaultZoneName.
// A "+05:00" style offset is accepted for hosts without tzdata.
func LoadZone(name string) (*Zone, error) {
	if name == "" {
		name = DefaultZoneName
	}

	if loc, ok := parseOffset(name); ok {
		return NewZone(loc), nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: load zone %q: %w", name, err)
	}
	return NewZone(loc), nil
}

// NewZone wraps loc. nil means UTC.
func NewZone(loc *time.Location) *Zone {
	if loc == nil {
		loc = time.UTC
	}
	return &Zone{loc: loc, now: time.Now}
}

// WithClock returns a copy of z that reads the current time from now.
func (z *Zone) WithClock(now func() time.Time) *Zone {
	return &Zone{loc: z.loc, now: now}
}

// Location returns the underlying location.
func (z *Zone) Location() *time.Location {
	return z.loc
}

// Now returns the current time in the zone.
func (z *Zone) Now() time.Time {
	return z.now().In(z.loc)
}

// Today returns today's civil date (00:00 UTC) as seen in the zone.
func (z *Zone) Today() time.Time {
	return z.CivilDate(z.now())
}

// Tomorrow returns the civil date after Today.
func (z *Zone) Tomorrow() time.Time {
	return z.Today().AddDate(0, 0, 1)
}

// CivilDate converts an instant into the calendar day it falls on in the zone.
func (z *Zone) CivilDate(t time.Time) time.Time {
	local := t.In(z.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// ─────────────────────────────────────────────────────────────────────────────
// Civil date helpers (no zone involved)
// ─────────────────────────────────────────────────────────────────────────────

// StartOfWeek returns the Monday of the civil date's week.
func StartOfWeek(date time.Time) time.Time {
	weekday := int(date.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	return date.AddDate(0, 0, -(weekday - 1))
}

// WeekRange returns [start, start+6].
func WeekRange(start time.Time) (from, to time.Time) {
	return start, start.AddDate(0, 0, 6)
}

// ParseDate parses YYYY-MM-DD into a civil date.
func ParseDate(value string) (time.Time, error) {
	t, err := time.ParseInLocation(FormatDate, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("timeutil: invalid date %q, want YYYY-MM-DD", value)
	}
	return t, nil
}

// FormatDateStr formats a civil date as YYYY-MM-DD.
func FormatDateStr(date time.Time) string {
	return date.Format(FormatDate)
}

// FormatRussian formats a civil date as DD.MM.YYYY.
func FormatRussian(date time.Time) string {
	return date.Format(FormatRussianDate)
}

// WeekdayNameRu returns the Russian name for a weekday.
func WeekdayNameRu(date time.Time) string {
	switch date.Weekday() {
	case time.Monday:
		return "Понедельник"
	case time.Tuesday:
		return "Вторник"
	case time.Wednesday:
		return "Среда"
	case time.Thursday:
		return "Четверг"
	case time.Friday:
		return "Пятница"
	case time.Saturday:
		return "Суббота"
	case time.Sunday:
		return "Воскресенье"
	default:
		return ""
	}
}

// parseOffset accepts "+05:00", "-03:30", "UTC+3".
func parseOffset(s string) (*time.Location, bool) {
	if len(s) > 3 && s[:3] == "UTC" {
		s = s[3:]
	}
	if s == "" || (s[0] != '+' && s[0] != '-') {
		return nil, false
	}

	var hours, minutes int
	if _, err := fmt.Sscanf(s[1:], "%d:%d", &hours, &minutes); err != nil {
		if _, err := fmt.Sscanf(s[1:], "%d", &hours); err != nil {
			return nil, false
		}
		minutes = 0
	}
	if hours > 14 || minutes < 0 || minutes > 59 {
		return nil, false
	}

	offset := hours*3600 + minutes*60
	if s[0] == '-' {
		offset = -offset
	}
	return time.FixedZone(s, offset), true
}
