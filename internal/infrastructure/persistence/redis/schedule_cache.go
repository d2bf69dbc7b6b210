package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/unischedule/schedule-sync/internal/domain/schedule"
)

// TTLLessons is the default TTL of cached lesson lists.
const TTLLessons = 30 * time.Minute

const (
	segmentLessons      = "lessons"
	segmentSpecialities = "specialities"
)

// ScheduleCache caches read-side lesson lists. Keys:
//
//	{prefix}lessons:{subgroup_id}:{from}:{to}
//	{prefix}specialities
type ScheduleCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewScheduleCache creates a new ScheduleCache; ttl <= 0 means TTLLessons.
func NewScheduleCache(cache *Cache, ttl time.Duration) *ScheduleCache {
	if ttl <= 0 {
		ttl = TTLLessons
	}
	return &ScheduleCache{cache: cache, ttl: ttl}
}

// LessonsKey builds the cache key of a subgroup's lessons in [from, to].
func (s *ScheduleCache) LessonsKey(subgroupID int64, from, to time.Time) string {
	return s.cache.Key(segmentLessons,
		strconv.FormatInt(subgroupID, 10),
		from.Format("2006-01-02"),
		to.Format("2006-01-02"))
}

// GetLessons returns (lessons, true, nil) on a hit and (nil, false, nil) on a miss.
func (s *ScheduleCache) GetLessons(ctx context.Context, subgroupID int64, from, to time.Time) ([]schedule.Lesson, bool, error) {
	var lessons []schedule.Lesson
	err := s.cache.Get(ctx, s.LessonsKey(subgroupID, from, to), &lessons)
	if errors.Is(err, ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return lessons, true, nil
}

// SetLessons caches a lesson list. Empty lists are cached too.
func (s *ScheduleCache) SetLessons(ctx context.Context, subgroupID int64, from, to time.Time, lessons []schedule.Lesson) error {
	if lessons == nil {
		lessons = []schedule.Lesson{}
	}
	return s.cache.Set(ctx, s.LessonsKey(subgroupID, from, to), lessons, s.ttl)
}

// GetSpecialities returns the cached speciality list.
func (s *ScheduleCache) GetSpecialities(ctx context.Context) ([]schedule.Speciality, bool, error) {
	var out []schedule.Speciality
	err := s.cache.Get(ctx, s.cache.Key(segmentSpecialities), &out)
	if errors.Is(err, ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// SetSpecialities caches the speciality list.
func (s *ScheduleCache) SetSpecialities(ctx context.Context, specialities []schedule.Speciality) error {
	if specialities == nil {
		specialities = []schedule.Speciality{}
	}
	return s.cache.Set(ctx, s.cache.Key(segmentSpecialities), specialities, s.ttl)
}

// InvalidateSchedules drops every cached read after a synchronization.
func (s *ScheduleCache) InvalidateSchedules(ctx context.Context) error {
	if _, err := s.cache.DeleteByPattern(ctx, s.cache.Key(segmentLessons)+":*"); err != nil {
		return fmt.Errorf("invalidate lessons: %w", err)
	}
	if err := s.cache.Delete(ctx, s.cache.Key(segmentSpecialities)); err != nil {
		return fmt.Errorf("invalidate specialities: %w", err)
	}
	return nil
}
