package schedapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// FLEXIBLE SCALARS
// The source is inconsistent: numeric fields arrive as numbers or strings and
// keys arrive in snake_case or camelCase.
// ══════════════════════════════════════════════════════════════════════════════

// FlexString accepts a JSON string, number or null.
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*s = ""
	case len(data) > 0 && data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = FlexString(v)
	case len(data) > 0 && (data[0] == '-' || (data[0] >= '0' && data[0] <= '9')):
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*s = FlexString(n.String())
	default:
		return fmt.Errorf("flex string: unsupported value %s", data)
	}
	return nil
}

func (s FlexString) String() string { return string(s) }

// FlexInt accepts a JSON number or a numeric string.
type FlexInt int64

func (i *FlexInt) UnmarshalJSON(data []byte) error {
	var s FlexString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	if s == "" {
		*i = 0
		return nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(s)), 10, 64)
	if err != nil {
		return fmt.Errorf("flex int: %w", err)
	}
	*i = FlexInt(n)
	return nil
}

// fields is a JSON object whose keys may come under several aliases.
type fields map[string]json.RawMessage

// pick decodes the first non-null alias into dst. Missing keys leave dst untouched.
func (f fields) pick(dst any, aliases ...string) error {
	for _, key := range aliases {
		raw, ok := f[key]
		if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
		return nil
	}
	return nil
}

// has reports whether any alias is present (even as null).
func (f fields) has(aliases ...string) bool {
	for _, key := range aliases {
		if _, ok := f[key]; ok {
			return true
		}
	}
	return false
}

func decodeFields(data []byte) (fields, error) {
	var f fields
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("expected json object")
	}
	return f, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PAGINATION
// ══════════════════════════════════════════════════════════════════════════════

// PageableDTO is the Spring "pageable" block.
type PageableDTO struct {
	PageNumber int `json:"pageNumber"`
	PageSize   int `json:"pageSize"`
	Offset     int `json:"offset"`
}

// PageDTO is a Spring-style page envelope.
type PageDTO[T any] struct {
	Content       []T
	Pageable      *PageableDTO
	TotalElements int
	TotalPages    int
	Last          bool
	Number        int
	Size          int
}

func (p *PageDTO[T]) UnmarshalJSON(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}

	if !f.has("content") {
		return fmt.Errorf("page: missing content")
	}
	return firstErr(
		f.pick(&p.Content, "content"),
		f.pick(&p.Pageable, "pageable"),
		f.pick(&p.TotalElements, "totalElements", "total_elements"),
		f.pick(&p.TotalPages, "totalPages", "total_pages"),
		f.pick(&p.Last, "last"),
		f.pick(&p.Number, "number"),
		f.pick(&p.Size, "size"),
	)
}

// IsLastPage reports the end of pagination.
func (p *PageDTO[T]) IsLastPage() bool {
	return p.Last || len(p.Content) == 0 || (p.TotalPages > 0 && p.Number+1 >= p.TotalPages)
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULE DTOs
// ══════════════════════════════════════════════════════════════════════════════

// ScheduleSummaryDTO is one entry of the schedule listing.
type ScheduleSummaryDTO struct {
	ID           FlexInt
	Name         string
	AcademicYear string
	SemesterType string
}

func (d *ScheduleSummaryDTO) UnmarshalJSON(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}
	if !f.has("id") {
		return fmt.Errorf("schedule summary: missing id")
	}
	return firstErr(
		f.pick(&d.ID, "id"),
		f.pick(&d.Name, "name", "fileName", "file_name", "title"),
		f.pick(&d.AcademicYear, "academicYear", "academic_year"),
		f.pick(&d.SemesterType, "semesterType", "semester_type"),
	)
}

// HeaderDTO is one element of the xlsx header list.
type HeaderDTO struct {
	AcademicYear string
	SemesterType string
}

func (d *HeaderDTO) UnmarshalJSON(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}
	return firstErr(
		f.pick(&d.AcademicYear, "academicYear", "academic_year"),
		f.pick(&d.SemesterType, "semesterType", "semester_type"),
	)
}

// LessonDTO is one schedule row.
type LessonDTO struct {
	Speciality      FlexString
	CourseNumber    FlexString
	GroupStream     FlexString
	StudyGroup      FlexString
	Subgroup        FlexString
	WeekNumber      FlexString
	DayName         FlexString
	PairTime        FlexString
	LessonType      FlexString
	SubjectName     FlexString
	LectorName      FlexString
	LocationAddress FlexString
	AuditoryNumber  FlexString
}

func (d *LessonDTO) UnmarshalJSON(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}
	return firstErr(
		f.pick(&d.Speciality, "speciality", "specialty"),
		f.pick(&d.CourseNumber, "courseNumber", "course_number"),
		f.pick(&d.GroupStream, "groupStream", "group_stream"),
		f.pick(&d.StudyGroup, "studyGroup", "study_group"),
		f.pick(&d.Subgroup, "subgroup", "subGroup", "sub_group"),
		f.pick(&d.WeekNumber, "weekNumber", "week_number"),
		f.pick(&d.DayName, "dayName", "day_name"),
		f.pick(&d.PairTime, "pairTime", "pair_time"),
		f.pick(&d.LessonType, "lessonType", "lesson_type"),
		f.pick(&d.SubjectName, "subjectName", "subject_name"),
		f.pick(&d.LectorName, "lectorName", "lector_name"),
		f.pick(&d.LocationAddress, "locationAddress", "location_address"),
		f.pick(&d.AuditoryNumber, "auditoryNumber", "auditory_number"),
	)
}

// ScheduleDetailDTO is the full schedule payload.
type ScheduleDetailDTO struct {
	ID      FlexInt
	Headers []HeaderDTO
	Lessons []LessonDTO
}

var (
	headerAliases = []string{"xlsxHeaderDto", "xlsx_header_dto"}
	lessonAliases = []string{"scheduleLessonDtoList", "schedule_lesson_dto_list"}
)

func (d *ScheduleDetailDTO) UnmarshalJSON(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}
	if !f.has(lessonAliases...) && !f.has(headerAliases...) {
		return fmt.Errorf("schedule detail: neither header nor lesson list present")
	}
	return firstErr(
		f.pick(&d.ID, "id"),
		f.pick(&d.Headers, headerAliases...),
		f.pick(&d.Lessons, lessonAliases...),
	)
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
