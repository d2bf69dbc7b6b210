package schedapi

import (
	"strings"

	"github.com/unischedule/schedule-sync/internal/domain/schedule"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAPPER - DTO to domain raw types
// ══════════════════════════════════════════════════════════════════════════════

// Mapper converts source DTOs into the domain's raw types so the parser never
// sees the wire format.
type Mapper struct{}

// NewMapper creates a new Mapper instance.
func NewMapper() *Mapper {
	return &Mapper{}
}

// SummaryFromDTO converts a listing entry.
func (m *Mapper) SummaryFromDTO(dto ScheduleSummaryDTO) schedule.ScheduleSummary {
	return schedule.ScheduleSummary{
		ID:           int64(dto.ID),
		Name:         strings.TrimSpace(dto.Name),
		AcademicYear: strings.TrimSpace(dto.AcademicYear),
		SemesterType: strings.TrimSpace(dto.SemesterType),
	}
}

// SummariesFromDTO converts a listing page.
func (m *Mapper) SummariesFromDTO(dtos []ScheduleSummaryDTO) []schedule.ScheduleSummary {
	out := make([]schedule.ScheduleSummary, 0, len(dtos))
	for _, dto := range dtos {
		out = append(out, m.SummaryFromDTO(dto))
	}
	return out
}

// ScheduleFromDTO converts a detail payload. fallbackID is used when the
// payload carries no id of its own. Values are copied verbatim; trimming and
// validation belong to the parser.
func (m *Mapper) ScheduleFromDTO(dto *ScheduleDetailDTO, fallbackID int64) *schedule.RawSchedule {
	if dto == nil {
		return nil
	}

	id := int64(dto.ID)
	if id == 0 {
		id = fallbackID
	}

	raw := &schedule.RawSchedule{
		ID:      id,
		Headers: make([]schedule.RawHeader, 0, len(dto.Headers)),
		Lessons: make([]schedule.RawLesson, 0, len(dto.Lessons)),
	}
	for _, h := range dto.Headers {
		raw.Headers = append(raw.Headers, schedule.RawHeader{
			AcademicYear: h.AcademicYear,
			SemesterType: h.SemesterType,
		})
	}
	for _, l := range dto.Lessons {
		raw.Lessons = append(raw.Lessons, m.lessonFromDTO(l))
	}
	return raw
}

func (m *Mapper) lessonFromDTO(l LessonDTO) schedule.RawLesson {
	return schedule.RawLesson{
		Speciality:   l.Speciality.String(),
		CourseNumber: l.CourseNumber.String(),
		Stream:       l.GroupStream.String(),
		StudyGroup:   l.StudyGroup.String(),
		Subgroup:     l.Subgroup.String(),
		WeekNumber:   l.WeekNumber.String(),
		DayName:      l.DayName.String(),
		PairTime:     l.PairTime.String(),
		LessonType:   l.LessonType.String(),
		SubjectName:  l.SubjectName.String(),
		LectorName:   l.LectorName.String(),
		Address:      l.LocationAddress.String(),
		Auditory:     l.AuditoryNumber.String(),
	}
}
