// Package schedule содержит доменную модель расписания:
// Speciality → Group → Subgroup → Lesson.
// Здесь нет зависимостей от хранилища или транспорта.
package schedule

import (
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/unischedule/schedule-sync/internal/domain/calendar"
	"github.com/unischedule/schedule-sync/internal/domain/speciality"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// EducationLevel - уровень образования специальности.
type EducationLevel = speciality.Level

const (
	LevelBachelor   = speciality.LevelBachelor
	LevelSpecialist = speciality.LevelSpecialist
	LevelMaster     = speciality.LevelMaster
	LevelResidency  = speciality.LevelResidency
)

// LessonType - тип занятия.
type LessonType string

const (
	// LessonTypeLecture - лекционное занятие (значение по умолчанию).
	LessonTypeLecture LessonType = "lecture"
	// LessonTypeSeminar - семинарское занятие.
	LessonTypeSeminar LessonType = "seminar"
)

// IsValid проверяет, что тип занятия известен.
func (t LessonType) IsValid() bool {
	return t == LessonTypeLecture || t == LessonTypeSeminar
}

// ParseLessonType: пустая строка → лекция; содержит "семинар" → семинар;
// всё остальное → лекция.
func ParseLessonType(raw string) LessonType {
	if raw == "" {
		return LessonTypeLecture
	}
	if strings.Contains(strings.ToLower(raw), "семинар") {
		return LessonTypeSeminar
	}
	return LessonTypeLecture
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTITIES
// ══════════════════════════════════════════════════════════════════════════════

// Speciality - направление подготовки. Идентичность: FullName.
type Speciality struct {
	ID        int64
	Code      string
	FullName  string
	CleanName string
	Level     *EducationLevel
}

// EffectiveLevel возвращает уровень, считая отсутствующий бакалавриатом.
func (s *Speciality) EffectiveLevel() EducationLevel {
	if s.Level == nil {
		return LevelBachelor
	}
	return *s.Level
}

// Group - учебная группа. Идентичность: (SpecialityID, CourseNumber, Stream, Name).
type Group struct {
	ID           int64
	SpecialityID int64
	CourseNumber int
	Stream       string
	Name         string
}

// Subgroup - подгруппа. Идентичность: (GroupID, Name).
type Subgroup struct {
	ID      int64
	GroupID int64
	Name    string
}

// Lesson - одно занятие подгруппы.
// Идентичность (и ключ upsert): (SubgroupID, Date, StartTime, Subject).
type Lesson struct {
	ID         int64
	SubgroupID int64
	Subject    string
	LessonType LessonType
	Date       time.Time
	StartTime  calendar.TimeOfDay
	EndTime    calendar.TimeOfDay
	Teacher    *string
	Address    *string
	Room       *string
}

// ══════════════════════════════════════════════════════════════════════════════
// PARSED (NOT YET PERSISTED) VALUES
// ══════════════════════════════════════════════════════════════════════════════

// ParsedLesson - занятие, готовое к записи, без суррогатных ключей.
type ParsedLesson struct {
	Subject    string
	LessonType LessonType
	Date       time.Time
	StartTime  calendar.TimeOfDay
	EndTime    calendar.TimeOfDay
	Teacher    *string
	Address    *string
	Room       *string
}

// DedupKey - (дата, начало, casefold(subject)).
type DedupKey struct {
	Date    time.Time
	Start   calendar.TimeOfDay
	Subject string
}

// Key возвращает ключ дедупликации занятия.
func (l ParsedLesson) Key() DedupKey {
	return DedupKey{
		Date:    l.Date,
		Start:   l.StartTime,
		Subject: foldSubject(l.Subject),
	}
}

// ToLesson привязывает разобранное занятие к подгруппе.
func (l ParsedLesson) ToLesson(subgroupID int64) Lesson {
	return Lesson{
		SubgroupID: subgroupID,
		Subject:    l.Subject,
		LessonType: l.LessonType,
		Date:       l.Date,
		StartTime:  l.StartTime,
		EndTime:    l.EndTime,
		Teacher:    l.Teacher,
		Address:    l.Address,
		Room:       l.Room,
	}
}

// GroupKey - ключ группировки строк расписания.
type GroupKey struct {
	Speciality   string
	CourseNumber int
	Stream       string
	Group        string
	Subgroup     string
}

// GroupSchedule - разобранное расписание одной подгруппы вместе с
// атрибутами специальности и группы.
type GroupSchedule struct {
	SpecialityCode      string
	SpecialityFullName  string
	SpecialityCleanName string
	SpecialityLevel     EducationLevel
	CourseNumber        int
	Stream              string
	GroupName           string
	SubgroupName        string
	Outcome             Outcome
}

// Lessons - сокращение для Outcome.Parsed.
func (g *GroupSchedule) Lessons() []ParsedLesson {
	return g.Outcome.Parsed
}

// Key возвращает ключ группировки.
func (g *GroupSchedule) Key() GroupKey {
	return GroupKey{
		Speciality:   g.SpecialityFullName,
		CourseNumber: g.CourseNumber,
		Stream:       g.Stream,
		Group:        g.GroupName,
		Subgroup:     g.SubgroupName,
	}
}

// Speciality строит сущность специальности (без ID).
func (g *GroupSchedule) Speciality() Speciality {
	level := g.SpecialityLevel
	return Speciality{
		Code:      g.SpecialityCode,
		FullName:  g.SpecialityFullName,
		CleanName: g.SpecialityCleanName,
		Level:     &level,
	}
}

// Outcome - результат разбора строк одной подгруппы.
type Outcome struct {
	Parsed  []ParsedLesson
	Skipped []RowSkip
}

// ParsedSchedule - результат разбора одного расписания.
type ParsedSchedule struct {
	Groups      []GroupSchedule
	SkippedRows int

	// Rejected - строки, не попавшие ни в одну подгруппу (только в Strict).
	Rejected []RowSkip
}

// LessonCount - общее число занятий после дедупликации.
func (p *ParsedSchedule) LessonCount() int {
	n := 0
	for i := range p.Groups {
		n += len(p.Groups[i].Outcome.Parsed)
	}
	return n
}

// Caser хранит состояние, поэтому создаётся на каждый вызов.
func foldSubject(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}
