package schedule

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/unischedule/schedule-sync/internal/domain/calendar"
	"github.com/unischedule/schedule-sync/internal/domain/speciality"
)

// ══════════════════════════════════════════════════════════════════════════════
// PARSER
// Чистый разбор сырого расписания в группы подгрупп с занятиями.
// Никакого доступа к хранилищу.
// ══════════════════════════════════════════════════════════════════════════════

// Parser превращает RawSchedule в ParsedSchedule.
type Parser struct {
	logger *slog.Logger

	// Strict превращает мягкие подстановки (неизвестный день недели → пн,
	// пустая подгруппа → "{группа}A") в пропуск строки.
	Strict bool
}

// NewParser создаёт парсер. nil logger → slog.Default().
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// RowResult - результат разбора одной строки: либо занятие, либо пропуск.
type RowResult struct {
	Lesson ParsedLesson
	Skip   *RowSkip
}

// Skipped сообщает, была ли строка пропущена.
func (r RowResult) Skipped() bool { return r.Skip != nil }

type indexedRow struct {
	index int
	row   RawLesson
}

// Parse разбирает расписание.
//
// Фатальные для всего расписания ошибки: ErrMissingHeader,
// *calendar.FormatError (учебный год), *InvalidDataError (номер курса).
// Ошибки отдельных строк не прерывают разбор: строка пропускается и
// попадает в Outcome.Skipped своей подгруппы.
func (p *Parser) Parse(raw *RawSchedule) (*ParsedSchedule, error) {
	if raw == nil || len(raw.Lessons) == 0 {
		return &ParsedSchedule{}, nil
	}
	if len(raw.Headers) == 0 {
		return nil, ErrMissingHeader
	}

	header := raw.Headers[0]
	yearStart, yearEnd, err := calendar.ParseAcademicYear(header.AcademicYear)
	if err != nil {
		return nil, err
	}
	semesterStart := calendar.SemesterStart(yearStart, yearEnd, header.SemesterType)

	// ─────────────────────────────────────────────────────────────────────────
	// 1. Группировка строк с сохранением порядка первого появления
	// ─────────────────────────────────────────────────────────────────────────

	var (
		order    []GroupKey
		buckets  = make(map[GroupKey][]indexedRow)
		rejected []RowSkip
	)

	for i, row := range raw.Lessons {
		course, err := strconv.Atoi(strings.TrimSpace(row.CourseNumber))
		if err != nil {
			return nil, &InvalidDataError{Field: "course number", Value: row.CourseNumber, Err: err}
		}

		group := strings.TrimSpace(row.StudyGroup)
		subgroup := strings.TrimSpace(row.Subgroup)
		if subgroup == "" {
			if p.Strict {
				skip := RowSkip{Index: i, Subject: strings.TrimSpace(row.SubjectName), Reason: "blank subgroup"}
				p.logSkip(raw.ID, skip)
				rejected = append(rejected, skip)
				continue
			}
			subgroup = group + "A"
		} else {
			subgroup = strings.ToUpper(subgroup)
		}

		key := GroupKey{
			Speciality:   strings.TrimSpace(row.Speciality),
			CourseNumber: course,
			Stream:       strings.TrimSpace(row.Stream),
			Group:        group,
			Subgroup:     subgroup,
		}
		if _, seen := buckets[key]; !seen {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], indexedRow{index: i, row: row})
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. Разбор каждой подгруппы
	// ─────────────────────────────────────────────────────────────────────────

	result := &ParsedSchedule{
		Groups:      make([]GroupSchedule, 0, len(order)),
		SkippedRows: len(rejected),
		Rejected:    rejected,
	}
	for _, key := range order {
		group := p.parseGroup(raw.ID, key, buckets[key], semesterStart)
		result.SkippedRows += len(group.Outcome.Skipped)
		result.Groups = append(result.Groups, group)
	}

	return result, nil
}

func (p *Parser) parseGroup(scheduleID int64, key GroupKey, rows []indexedRow, semesterStart time.Time) GroupSchedule {
	spec := speciality.Parse(key.Speciality)

	var (
		outcome  Outcome
		position = make(map[DedupKey]int)
	)

	for _, r := range rows {
		res := p.ParseRow(r.index, r.row, semesterStart)
		if res.Skipped() {
			p.logSkip(scheduleID, *res.Skip)
			outcome.Skipped = append(outcome.Skipped, *res.Skip)
			continue
		}

		// последняя запись побеждает, позиция - от первой
		k := res.Lesson.Key()
		if idx, ok := position[k]; ok {
			outcome.Parsed[idx] = res.Lesson
			continue
		}
		position[k] = len(outcome.Parsed)
		outcome.Parsed = append(outcome.Parsed, res.Lesson)
	}

	return GroupSchedule{
		SpecialityCode:      spec.Code,
		SpecialityFullName:  key.Speciality,
		SpecialityCleanName: spec.CleanName,
		SpecialityLevel:     spec.Level,
		CourseNumber:        key.CourseNumber,
		Stream:              key.Stream,
		GroupName:           key.Group,
		SubgroupName:        key.Subgroup,
		Outcome:             outcome,
	}
}

// ParseRow разбирает одну строку относительно начала семестра.
func (p *Parser) ParseRow(index int, row RawLesson, semesterStart time.Time) RowResult {
	subject := strings.TrimSpace(row.SubjectName)
	skip := func(reason string, err error) RowResult {
		return RowResult{Skip: &RowSkip{Index: index, Subject: subject, Reason: reason, Err: err}}
	}

	week, err := strconv.Atoi(strings.TrimSpace(row.WeekNumber))
	if err != nil {
		return skip(fmt.Sprintf("invalid week number %q", row.WeekNumber), err)
	}

	if _, known := calendar.DayOffset(row.DayName); !known {
		if p.Strict {
			return skip(fmt.Sprintf("unknown day %q", row.DayName), nil)
		}
		p.logger.Debug("unknown day name, using monday",
			slog.String("day_name", row.DayName),
			slog.Int("row", index),
		)
	}
	date := calendar.LessonDate(semesterStart, week, row.DayName)

	start, end, err := calendar.ParseTimeRange(row.PairTime)
	if err != nil {
		return skip(fmt.Sprintf("invalid pair time %q", row.PairTime), err)
	}
	if !start.Before(end) {
		return skip(fmt.Sprintf("pair time %q does not increase", row.PairTime), nil)
	}

	return RowResult{Lesson: ParsedLesson{
		Subject:    subject,
		LessonType: ParseLessonType(row.LessonType),
		Date:       date,
		StartTime:  start,
		EndTime:    end,
		Teacher:    optional(row.LectorName),
		Address:    optional(row.Address),
		Room:       optional(row.Auditory),
	}}
}

func (p *Parser) logSkip(scheduleID int64, skip RowSkip) {
	attrs := []any{
		slog.Int64("schedule_id", scheduleID),
		slog.Int("row", skip.Index),
		slog.String("subject", skip.Subject),
		slog.String("reason", skip.Reason),
	}
	if skip.Err != nil {
		attrs = append(attrs, slog.String("error", skip.Err.Error()))
	}
	p.logger.Warn("skipping lesson due to parse error", attrs...)
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
