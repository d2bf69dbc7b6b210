package query

import (
	"context"
	"log/slog"

	"github.com/unischedule/schedule-sync/internal/domain/schedule"
	"github.com/unischedule/schedule-sync/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// BROWSE GROUPS QUERY
// Навигация: специальность → курс → поток → группа → подгруппа.
// ══════════════════════════════════════════════════════════════════════════════

// SpecialityDTO - специальность в ответе клиенту.
type SpecialityDTO struct {
	ID        int64  `json:"id"`
	Code      string `json:"code"`
	FullName  string `json:"full_name"`
	CleanName string `json:"clean_name"`
	Level     string `json:"level"`
}

// GroupDTO - учебная группа.
type GroupDTO struct {
	ID           int64  `json:"id"`
	SpecialityID int64  `json:"speciality_id"`
	CourseNumber int    `json:"course_number"`
	Stream       string `json:"stream"`
	Name         string `json:"name"`
}

// SubgroupDTO - подгруппа.
type SubgroupDTO struct {
	ID      int64  `json:"id"`
	GroupID int64  `json:"group_id"`
	Name    string `json:"name"`
}

// SpecialityCache кэширует список специальностей.
type SpecialityCache interface {
	GetSpecialities(ctx context.Context) ([]schedule.Speciality, bool, error)
	SetSpecialities(ctx context.Context, specialities []schedule.Speciality) error
}

// BrowseGroupsHandler обрабатывает навигационные запросы.
type BrowseGroupsHandler struct {
	reader schedule.Reader
	cache  SpecialityCache // optional
	logger *slog.Logger
}

// NewBrowseGroupsHandler создаёт обработчик. cache может быть nil.
func NewBrowseGroupsHandler(reader schedule.Reader, cache SpecialityCache, log *slog.Logger) *BrowseGroupsHandler {
	return &BrowseGroupsHandler{
		reader: reader,
		cache:  cache,
		logger: logger.OrDefault(log).With(logger.Component("browse_query")),
	}
}

// Specialities - все специальности по clean_name.
func (h *BrowseGroupsHandler) Specialities(ctx context.Context) ([]SpecialityDTO, error) {
	if h.cache != nil {
		cached, hit, err := h.cache.GetSpecialities(ctx)
		if err != nil {
			h.logger.Warn("speciality cache read failed", logger.Err(err))
		}
		if hit {
			return toSpecialityDTOs(cached), nil
		}
	}

	specialities, err := h.reader.ListSpecialities(ctx)
	if err != nil {
		return nil, err
	}

	if h.cache != nil {
		if err := h.cache.SetSpecialities(ctx, specialities); err != nil {
			h.logger.Warn("speciality cache write failed", logger.Err(err))
		}
	}
	return toSpecialityDTOs(specialities), nil
}

// Courses - номера курсов специальности по возрастанию.
// Неизвестная специальность → schedule.ErrSpecialityNotFound.
func (h *BrowseGroupsHandler) Courses(ctx context.Context, specialityID int64) ([]int, error) {
	if _, err := h.reader.SpecialityByID(ctx, specialityID); err != nil {
		return nil, err
	}
	courses, err := h.reader.DistinctCourses(ctx, specialityID)
	if err != nil {
		return nil, err
	}
	return nonNil(courses), nil
}

// Streams - потоки курса по возрастанию.
func (h *BrowseGroupsHandler) Streams(ctx context.Context, specialityID int64, course int) ([]string, error) {
	if _, err := h.reader.SpecialityByID(ctx, specialityID); err != nil {
		return nil, err
	}
	streams, err := h.reader.DistinctStreams(ctx, specialityID, course)
	if err != nil {
		return nil, err
	}
	return nonNil(streams), nil
}

// Groups - группы потока по имени.
func (h *BrowseGroupsHandler) Groups(ctx context.Context, specialityID int64, course int, stream string) ([]GroupDTO, error) {
	groups, err := h.reader.GroupsByStructure(ctx, specialityID, course, stream)
	if err != nil {
		return nil, err
	}
	out := make([]GroupDTO, 0, len(groups))
	for _, g := range groups {
		out = append(out, GroupDTO{
			ID:           g.ID,
			SpecialityID: g.SpecialityID,
			CourseNumber: g.CourseNumber,
			Stream:       g.Stream,
			Name:         g.Name,
		})
	}
	return out, nil
}

// Subgroups - подгруппы группы по имени.
// Неизвестная группа → schedule.ErrGroupNotFound.
func (h *BrowseGroupsHandler) Subgroups(ctx context.Context, groupID int64) ([]SubgroupDTO, error) {
	if _, err := h.reader.GroupByID(ctx, groupID); err != nil {
		return nil, err
	}
	subgroups, err := h.reader.SubgroupsByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	out := make([]SubgroupDTO, 0, len(subgroups))
	for _, s := range subgroups {
		out = append(out, SubgroupDTO{ID: s.ID, GroupID: s.GroupID, Name: s.Name})
	}
	return out, nil
}

func toSpecialityDTOs(in []schedule.Speciality) []SpecialityDTO {
	out := make([]SpecialityDTO, 0, len(in))
	for i := range in {
		s := &in[i]
		out = append(out, SpecialityDTO{
			ID:        s.ID,
			Code:      s.Code,
			FullName:  s.FullName,
			CleanName: s.CleanName,
			Level:     s.EffectiveLevel().String(),
		})
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
