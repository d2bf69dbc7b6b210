package query

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unischedule/schedule-sync/internal/domain/calendar"
	"github.com/unischedule/schedule-sync/internal/domain/schedule"
	"github.com/unischedule/schedule-sync/internal/infrastructure/persistence/sqlite"
	"github.com/unischedule/schedule-sync/pkg/logger"
	"github.com/unischedule/schedule-sync/pkg/timeutil"
)

type memCache struct {
	lessons      map[string][]schedule.Lesson
	specialities []schedule.Speciality
	gets, sets   int
	failReads    bool
}

func newMemCache() *memCache {
	return &memCache{lessons: map[string][]schedule.Lesson{}}
}

func key(id int64, from, to time.Time) string {
	return fmt.Sprintf("%d:%s:%s", id, from.Format("2006-01-02"), to.Format("2006-01-02"))
}

func (c *memCache) GetLessons(_ context.Context, id int64, from, to time.Time) ([]schedule.Lesson, bool, error) {
	c.gets++
	if c.failReads {
		return nil, false, errors.New("cache down")
	}
	l, ok := c.lessons[key(id, from, to)]
	return l, ok, nil
}

func (c *memCache) SetLessons(_ context.Context, id int64, from, to time.Time, lessons []schedule.Lesson) error {
	c.sets++
	c.lessons[key(id, from, to)] = lessons
	return nil
}

func (c *memCache) GetSpecialities(context.Context) ([]schedule.Speciality, bool, error) {
	return c.specialities, c.specialities != nil, nil
}

func (c *memCache) SetSpecialities(_ context.Context, s []schedule.Speciality) error {
	c.specialities = s
	return nil
}

type ids struct {
	speciality, group, subgroup int64
}

// seedStore writes one speciality with two groups; group 101 has lessons
// on Mon 2025-09-01, Tue 2025-09-02 and Mon 2025-09-08.
func seedStore(t *testing.T) (*sqlite.ScheduleStore, ids) {
	t.Helper()
	db, err := sqlite.Open(context.Background(), sqlite.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := sqlite.NewScheduleStore(db)

	var out ids
	err = store.WithinTx(context.Background(), func(ctx context.Context, w schedule.Writer) error {
		var err error
		if out.speciality, err = w.UpsertSpeciality(ctx, &schedule.Speciality{
			Code: "33.05.01", FullName: "33.05.01 Фармация (специалитет)", CleanName: "Фармация",
		}); err != nil {
			return err
		}
		if out.group, err = w.UpsertGroup(ctx, &schedule.Group{SpecialityID: out.speciality, CourseNumber: 2, Stream: "1", Name: "201"}); err != nil {
			return err
		}
		if _, err = w.UpsertGroup(ctx, &schedule.Group{SpecialityID: out.speciality, CourseNumber: 1, Stream: "1", Name: "101"}); err != nil {
			return err
		}
		if out.subgroup, err = w.UpsertSubgroup(ctx, &schedule.Subgroup{GroupID: out.group, Name: "201A"}); err != nil {
			return err
		}
		mk := func(subject string, date time.Time, hour int) schedule.ParsedLesson {
			return schedule.ParsedLesson{
				Subject: subject, LessonType: schedule.LessonTypeLecture, Date: date,
				StartTime: calendar.TimeOfDay{Hour: hour}, EndTime: calendar.TimeOfDay{Hour: hour + 1, Minute: 30},
			}
		}
		_, err = w.UpsertLessons(ctx, out.subgroup, []schedule.ParsedLesson{
			mk("Химия", calendar.Date(2025, 9, 1), 11),
			mk("Анатомия", calendar.Date(2025, 9, 1), 9),
			mk("Физика", calendar.Date(2025, 9, 2), 9),
			mk("Химия", calendar.Date(2025, 9, 8), 9),
		})
		return err
	})
	require.NoError(t, err)
	return store, out
}

func TestGetSchedule_ForDateAndWeek(t *testing.T) {
	store, ids := seedStore(t)
	h := NewGetScheduleHandler(store, nil, nil, logger.Discard())
	ctx := context.Background()

	day, err := h.ForDate(ctx, ids.subgroup, time.Date(2025, 9, 1, 15, 4, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2025-09-01", day.From)
	assert.Equal(t, "2025-09-01", day.To)
	require.Len(t, day.Lessons, 2)
	assert.Equal(t, "Анатомия", day.Lessons[0].Subject)
	assert.Equal(t, "09:00", day.Lessons[0].StartTime)
	assert.Equal(t, "10:30", day.Lessons[0].EndTime)
	assert.Equal(t, "Понедельник", day.Lessons[0].Weekday)
	assert.Equal(t, "lecture", day.Lessons[0].LessonType)

	week, err := h.ForWeek(ctx, ids.subgroup, calendar.Date(2025, 9, 1))
	require.NoError(t, err)
	assert.Equal(t, "2025-09-07", week.To)
	require.Len(t, week.Lessons, 3)
	assert.Equal(t, "2025-09-02", week.Lessons[2].Date)

	empty, err := h.ForDate(ctx, ids.subgroup, calendar.Date(2025, 9, 3))
	require.NoError(t, err)
	assert.NotNil(t, empty.Lessons)
	assert.Empty(t, empty.Lessons)

	_, err = h.ForDate(ctx, 999, calendar.Date(2025, 9, 1))
	assert.ErrorIs(t, err, schedule.ErrSubgroupNotFound)
	_, err = h.ForDate(ctx, 0, calendar.Date(2025, 9, 1))
	assert.ErrorIs(t, err, schedule.ErrSubgroupNotFound)
}

func TestGetSchedule_TodayUsesZone(t *testing.T) {
	store, ids := seedStore(t)

	zone, err := timeutil.LoadZone("+05:00")
	require.NoError(t, err)
	// Sunday 2025-08-31 20:00 UTC is Monday 01:00 at UTC+5
	zone = zone.WithClock(func() time.Time { return time.Date(2025, 8, 31, 20, 0, 0, 0, time.UTC) })

	h := NewGetScheduleHandler(store, nil, zone, logger.Discard())
	ctx := context.Background()

	today, err := h.Today(ctx, ids.subgroup)
	require.NoError(t, err)
	assert.Equal(t, "2025-09-01", today.From)
	assert.Len(t, today.Lessons, 2)

	tomorrow, err := h.Tomorrow(ctx, ids.subgroup)
	require.NoError(t, err)
	assert.Equal(t, "2025-09-02", tomorrow.From)
	assert.Len(t, tomorrow.Lessons, 1)

	week, err := h.CurrentWeek(ctx, ids.subgroup)
	require.NoError(t, err)
	assert.Equal(t, "2025-09-01", week.From)
	assert.Len(t, week.Lessons, 3)
}

func TestGetSchedule_Cache(t *testing.T) {
	store, ids := seedStore(t)
	cache := newMemCache()
	h := NewGetScheduleHandler(store, cache, nil, logger.Discard())
	ctx := context.Background()
	date := calendar.Date(2025, 9, 1)

	first, err := h.ForDate(ctx, ids.subgroup, date)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)

	second, err := h.ForDate(ctx, ids.subgroup, date)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)
	assert.Equal(t, first, second)

	// a broken cache falls back to the store
	cache.failReads = true
	third, err := h.ForDate(ctx, ids.subgroup, date)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestBrowseGroups(t *testing.T) {
	store, ids := seedStore(t)
	cache := newMemCache()
	h := NewBrowseGroupsHandler(store, cache, logger.Discard())
	ctx := context.Background()

	specs, err := h.Specialities(ctx)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "Фармация", specs[0].CleanName)
	assert.Equal(t, "bachelor", specs[0].Level)
	assert.NotNil(t, cache.specialities)

	courses, err := h.Courses(ctx, ids.speciality)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, courses)

	streams, err := h.Streams(ctx, ids.speciality, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, streams)

	none, err := h.Streams(ctx, ids.speciality, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{}, none)

	groups, err := h.Groups(ctx, ids.speciality, 2, "1")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "201", groups[0].Name)

	subgroups, err := h.Subgroups(ctx, ids.group)
	require.NoError(t, err)
	require.Len(t, subgroups, 1)
	assert.Equal(t, "201A", subgroups[0].Name)

	_, err = h.Courses(ctx, 999)
	assert.ErrorIs(t, err, schedule.ErrSpecialityNotFound)
	_, err = h.Subgroups(ctx, 999)
	assert.ErrorIs(t, err, schedule.ErrGroupNotFound)
}
