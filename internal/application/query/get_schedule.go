// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/unischedule/schedule-sync/internal/domain/schedule"
	"github.com/unischedule/schedule-sync/pkg/logger"
	"github.com/unischedule/schedule-sync/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET SCHEDULE QUERY
// Занятия подгруппы за день или неделю. "Сегодня" и "завтра" считаются
// в часовом поясе студентов, а не сервера.
// ══════════════════════════════════════════════════════════════════════════════

// LessonDTO - занятие в ответе клиенту.
type LessonDTO struct {
	ID         int64   `json:"id"`
	Subject    string  `json:"subject"`
	LessonType string  `json:"lesson_type"`
	Date       string  `json:"date"`
	Weekday    string  `json:"weekday"`
	StartTime  string  `json:"start_time"`
	EndTime    string  `json:"end_time"`
	Teacher    *string `json:"teacher,omitempty"`
	Address    *string `json:"address,omitempty"`
	Room       *string `json:"room,omitempty"`
}

// ScheduleDTO - занятия подгруппы за период [From, To].
type ScheduleDTO struct {
	SubgroupID int64       `json:"subgroup_id"`
	From       string      `json:"from"`
	To         string      `json:"to"`
	Lessons    []LessonDTO `json:"lessons"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Dependencies
// ─────────────────────────────────────────────────────────────────────────────

// LessonCache кэширует списки занятий. Реализация: redis.ScheduleCache.
type LessonCache interface {
	GetLessons(ctx context.Context, subgroupID int64, from, to time.Time) ([]schedule.Lesson, bool, error)
	SetLessons(ctx context.Context, subgroupID int64, from, to time.Time, lessons []schedule.Lesson) error
}

// ─────────────────────────────────────────────────────────────────────────────
// Handler
// ─────────────────────────────────────────────────────────────────────────────

// GetScheduleHandler обрабатывает запросы расписания.
type GetScheduleHandler struct {
	reader schedule.Reader
	cache  LessonCache // optional
	zone   *timeutil.Zone
	logger *slog.Logger
}

// NewGetScheduleHandler создаёт обработчик. cache может быть nil,
// zone nil → UTC.
func NewGetScheduleHandler(reader schedule.Reader, cache LessonCache, zone *timeutil.Zone, log *slog.Logger) *GetScheduleHandler {
	if zone == nil {
		zone = timeutil.NewZone(nil)
	}
	return &GetScheduleHandler{
		reader: reader,
		cache:  cache,
		zone:   zone,
		logger: logger.OrDefault(log).With(logger.Component("schedule_query")),
	}
}

// ForDate - занятия за день, по времени начала.
func (h *GetScheduleHandler) ForDate(ctx context.Context, subgroupID int64, date time.Time) (*ScheduleDTO, error) {
	date = civil(date)
	return h.load(ctx, subgroupID, date, date)
}

// ForWeek - занятия за weekStart..weekStart+6 по (дата, начало).
func (h *GetScheduleHandler) ForWeek(ctx context.Context, subgroupID int64, weekStart time.Time) (*ScheduleDTO, error) {
	from, to := timeutil.WeekRange(civil(weekStart))
	return h.load(ctx, subgroupID, from, to)
}

// Today - занятия на сегодня в часовом поясе сервиса.
func (h *GetScheduleHandler) Today(ctx context.Context, subgroupID int64) (*ScheduleDTO, error) {
	return h.ForDate(ctx, subgroupID, h.zone.Today())
}

// Tomorrow - занятия на завтра.
func (h *GetScheduleHandler) Tomorrow(ctx context.Context, subgroupID int64) (*ScheduleDTO, error) {
	return h.ForDate(ctx, subgroupID, h.zone.Tomorrow())
}

// CurrentWeek - неделя (пн-вс), в которую попадает сегодня.
func (h *GetScheduleHandler) CurrentWeek(ctx context.Context, subgroupID int64) (*ScheduleDTO, error) {
	return h.ForWeek(ctx, subgroupID, timeutil.StartOfWeek(h.zone.Today()))
}

func (h *GetScheduleHandler) load(ctx context.Context, subgroupID int64, from, to time.Time) (*ScheduleDTO, error) {
	if subgroupID <= 0 {
		return nil, fmt.Errorf("subgroup id %d: %w", subgroupID, schedule.ErrSubgroupNotFound)
	}

	if h.cache != nil {
		lessons, hit, err := h.cache.GetLessons(ctx, subgroupID, from, to)
		if err != nil {
			h.logger.Warn("lesson cache read failed", logger.SubgroupID(subgroupID), logger.Err(err))
		}
		if hit {
			return toScheduleDTO(subgroupID, from, to, lessons), nil
		}
	}

	if _, err := h.reader.SubgroupByID(ctx, subgroupID); err != nil {
		return nil, err
	}

	var (
		lessons []schedule.Lesson
		err     error
	)
	if from.Equal(to) {
		lessons, err = h.reader.LessonsOnDate(ctx, subgroupID, from)
	} else {
		lessons, err = h.reader.LessonsInRange(ctx, subgroupID, from, to)
	}
	if err != nil {
		return nil, fmt.Errorf("load lessons of subgroup %d: %w", subgroupID, err)
	}

	if h.cache != nil {
		if err := h.cache.SetLessons(ctx, subgroupID, from, to, lessons); err != nil {
			h.logger.Warn("lesson cache write failed", logger.SubgroupID(subgroupID), logger.Err(err))
		}
	}

	return toScheduleDTO(subgroupID, from, to, lessons), nil
}

func toScheduleDTO(subgroupID int64, from, to time.Time, lessons []schedule.Lesson) *ScheduleDTO {
	dto := &ScheduleDTO{
		SubgroupID: subgroupID,
		From:       timeutil.FormatDateStr(from),
		To:         timeutil.FormatDateStr(to),
		Lessons:    make([]LessonDTO, 0, len(lessons)),
	}
	for _, l := range lessons {
		dto.Lessons = append(dto.Lessons, LessonDTO{
			ID:         l.ID,
			Subject:    l.Subject,
			LessonType: string(l.LessonType),
			Date:       timeutil.FormatDateStr(l.Date),
			Weekday:    timeutil.WeekdayNameRu(l.Date),
			StartTime:  l.StartTime.String(),
			EndTime:    l.EndTime.String(),
			Teacher:    l.Teacher,
			Address:    l.Address,
			Room:       l.Room,
		})
	}
	return dto
}

// civil отбрасывает время, сохраняя календарный день.
func civil(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
