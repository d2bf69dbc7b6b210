// Package calendar converts academic-calendar notation into concrete dates
// and times of day. All functions are pure: dates are civil dates carried as
// time.Time at 00:00 UTC.
package calendar

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// ErrFormat is matched by every FormatError via errors.Is.
var ErrFormat = errors.New("calendar: invalid format")

// FormatError describes a string that does not follow the expected notation.
type FormatError struct {
	Field string // "academic_year", "time_range", "time"
	Value string
	Err   error // optional cause (e.g. strconv error)
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("calendar: invalid %s %q: %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("calendar: invalid %s %q", e.Field, e.Value)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Is reports ErrFormat so callers can branch without a type assertion.
func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// ══════════════════════════════════════════════════════════════════════════════
// DATES
// ══════════════════════════════════════════════════════════════════════════════

// Date returns the civil date y-m-d at 00:00 UTC.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Truncate drops the clock part of t, keeping its calendar day in t's location.
func Truncate(t time.Time) time.Time {
	return Date(t.Year(), t.Month(), t.Day())
}

// ParseAcademicYear разбирает строку вида "2024/2025".
func ParseAcademicYear(s string) (start, end int, err error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return 0, 0, &FormatError{Field: "academic_year", Value: s}
	}

	start, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, &FormatError{Field: "academic_year", Value: s, Err: err}
	}
	end, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, &FormatError{Field: "academic_year", Value: s, Err: err}
	}

	return start, end, nil
}

// SemesterStart returns the first teaching day of a semester.
// Autumn semesters ("осен" in the label) start on 1 September of yearStart,
// all others on 10 February of yearEnd. A Sunday start shifts to Monday.
func SemesterStart(yearStart, yearEnd int, label string) time.Time {
	var start time.Time
	if strings.Contains(strings.ToLower(label), "осен") {
		start = Date(yearStart, time.September, 1)
	} else {
		start = Date(yearEnd, time.February, 10)
	}

	if start.Weekday() == time.Sunday {
		start = start.AddDate(0, 0, 1)
	}
	return start
}

var dayOffsets = map[string]int{
	"пн": 0,
	"вт": 1,
	"ср": 2,
	"чт": 3,
	"пт": 4,
	"сб": 5,
	"вс": 6,
}

// DayOffset maps a short Russian weekday token to its offset from Monday.
// The second result is false when the token is unknown; the offset is then 0.
func DayOffset(token string) (int, bool) {
	offset, ok := dayOffsets[strings.ToLower(strings.TrimSpace(token))]
	return offset, ok
}

// LessonDate computes start + (week-1)*7 + offset(day). Unknown day tokens
// fall back to Monday.
func LessonDate(semesterStart time.Time, week int, dayName string) time.Time {
	offset, _ := DayOffset(dayName)
	return semesterStart.AddDate(0, 0, (week-1)*7+offset)
}

// WeekDates returns the inclusive seven-day window of a semester week.
func WeekDates(semesterStart time.Time, week int) (from, to time.Time) {
	from = semesterStart.AddDate(0, 0, (week-1)*7)
	return from, from.AddDate(0, 0, 6)
}

// WeekNumber is the 1-based semester week containing date. Dates before the
// semester start yield values below 1.
func WeekNumber(semesterStart, date time.Time) int {
	days := int(Truncate(date).Sub(Truncate(semesterStart)).Hours() / 24)
	if days < 0 {
		return -((-days-1)/7)
	}
	return days/7 + 1
}

// ══════════════════════════════════════════════════════════════════════════════
// TIME OF DAY
// ══════════════════════════════════════════════════════════════════════════════

// TimeOfDay is a wall-clock time without date or zone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// NewTimeOfDay validates the components.
func NewTimeOfDay(hour, minute int) (TimeOfDay, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return TimeOfDay{}, &FormatError{Field: "time", Value: fmt.Sprintf("%d:%d", hour, minute)}
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

// Minutes since midnight.
func (t TimeOfDay) Minutes() int { return t.Hour*60 + t.Minute }

func (t TimeOfDay) Before(other TimeOfDay) bool { return t.Minutes() < other.Minutes() }

// String formats as "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseTimeOfDay accepts "HH:MM" or "HH.MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	return parseClock(strings.ReplaceAll(strings.TrimSpace(s), ":", "."), s)
}

// ParseTimeRange разбирает интервал пары: "09.00-10.30" или "09:00-10:30".
func ParseTimeRange(s string) (start, end TimeOfDay, err error) {
	normalized := strings.ReplaceAll(s, ":", ".")
	halves := strings.Split(normalized, "-")
	if len(halves) != 2 {
		return TimeOfDay{}, TimeOfDay{}, &FormatError{Field: "time_range", Value: s}
	}

	if start, err = parseClock(halves[0], s); err != nil {
		return TimeOfDay{}, TimeOfDay{}, err
	}
	if end, err = parseClock(halves[1], s); err != nil {
		return TimeOfDay{}, TimeOfDay{}, err
	}
	return start, end, nil
}

func parseClock(part, original string) (TimeOfDay, error) {
	pieces := strings.Split(strings.TrimSpace(part), ".")
	if len(pieces) != 2 {
		return TimeOfDay{}, &FormatError{Field: "time_range", Value: original}
	}

	hour, err := strconv.Atoi(strings.TrimSpace(pieces[0]))
	if err != nil {
		return TimeOfDay{}, &FormatError{Field: "time_range", Value: original, Err: err}
	}
	minute, err := strconv.Atoi(strings.TrimSpace(pieces[1]))
	if err != nil {
		return TimeOfDay{}, &FormatError{Field: "time_range", Value: original, Err: err}
	}

	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return TimeOfDay{}, &FormatError{Field: "time_range", Value: original}
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}
