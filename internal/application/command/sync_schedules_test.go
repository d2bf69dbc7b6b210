package command

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unischedule/schedule-sync/internal/domain/schedule"
	"github.com/unischedule/schedule-sync/internal/infrastructure/persistence/sqlite"
	"github.com/unischedule/schedule-sync/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUBS
// ══════════════════════════════════════════════════════════════════════════════

type stubSource struct {
	mu      sync.Mutex
	list    []schedule.ScheduleSummary
	listErr error
	details map[int64]*schedule.RawSchedule
	errs    map[int64]error
	fetched []int64
}

func (s *stubSource) ListSchedules(context.Context) ([]schedule.ScheduleSummary, error) {
	return s.list, s.listErr
}

func (s *stubSource) GetScheduleDetails(_ context.Context, id int64) (*schedule.RawSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = append(s.fetched, id)
	if err := s.errs[id]; err != nil {
		return nil, err
	}
	return s.details[id], nil
}

type stubCache struct{ calls atomic.Int32 }

func (c *stubCache) InvalidateSchedules(context.Context) error {
	c.calls.Add(1)
	return nil
}

type stubLocker struct {
	held     bool
	err      error
	released bool
}

func (l *stubLocker) TryLock(context.Context, string, time.Duration) (func(context.Context) error, bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	l.held = true
	return func(context.Context) error {
		l.held = false
		l.released = true
		return nil
	}, true, nil
}

// failingStore fails every UpsertLessons call after the parents were written.
type failingStore struct {
	schedule.Store
}

type failingWriter struct {
	schedule.Writer
}

func (s failingStore) WithinTx(ctx context.Context, fn func(context.Context, schedule.Writer) error) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, w schedule.Writer) error {
		return fn(ctx, failingWriter{w})
	})
}

func (failingWriter) UpsertLessons(context.Context, int64, []schedule.ParsedLesson) (int, error) {
	return 0, errors.New("disk full")
}

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

func row(subgroup, subject, day string) schedule.RawLesson {
	return schedule.RawLesson{
		Speciality:   "31.05.01 лечебное дело (специалитет)",
		CourseNumber: "1",
		Stream:       "1",
		StudyGroup:   "101",
		Subgroup:     subgroup,
		WeekNumber:   "1",
		DayName:      day,
		PairTime:     "09.00-10.30",
		LessonType:   "лекционного",
		SubjectName:  subject,
	}
}

func raw(id int64, lessons ...schedule.RawLesson) *schedule.RawSchedule {
	return &schedule.RawSchedule{
		ID:      id,
		Headers: []schedule.RawHeader{{AcademicYear: "2025/2026", SemesterType: "осенний"}},
		Lessons: lessons,
	}
}

func summaries(ids ...int64) []schedule.ScheduleSummary {
	out := make([]schedule.ScheduleSummary, 0, len(ids))
	for _, id := range ids {
		out = append(out, schedule.ScheduleSummary{ID: id})
	}
	return out
}

type env struct {
	db     *sqlite.DB
	store  *sqlite.ScheduleStore
	runs   *sqlite.SyncRunRepository
	source *stubSource
	cache  *stubCache
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := sqlite.Open(context.Background(), sqlite.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	badYear := raw(2, row("a", "Физика", "вт"))
	badYear.Headers[0].AcademicYear = "2025-2026"

	return &env{
		db:    db,
		store: sqlite.NewScheduleStore(db),
		runs:  sqlite.NewSyncRunRepository(db),
		source: &stubSource{
			list: summaries(1, 2, 3, 4),
			details: map[int64]*schedule.RawSchedule{
				1: raw(1, row("a", "Анатомия", "пн"), row("a", "Химия", "вт")),
				2: badYear,
				// 3: unusable payload → nil
				4: raw(4, row("b", "Анатомия", "ср")),
			},
		},
		cache: &stubCache{},
	}
}

func (e *env) handler(locker Locker, concurrency int) *SyncSchedulesHandler {
	return NewSyncSchedulesHandler(e.source, e.store, e.runs, e.cache, locker, SyncSchedulesConfig{
		Concurrency: concurrency,
		Logger:      logger.Discard(),
	})
}

// countStored walks the browse queries and counts subgroups and lessons.
func countStored(t *testing.T, store *sqlite.ScheduleStore) (specialities, subgroups, lessons int) {
	t.Helper()
	ctx := context.Background()
	from := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	specs, err := store.ListSpecialities(ctx)
	require.NoError(t, err)
	for _, sp := range specs {
		courses, err := store.DistinctCourses(ctx, sp.ID)
		require.NoError(t, err)
		for _, c := range courses {
			streams, err := store.DistinctStreams(ctx, sp.ID, c)
			require.NoError(t, err)
			for _, st := range streams {
				groups, err := store.GroupsByStructure(ctx, sp.ID, c, st)
				require.NoError(t, err)
				for _, g := range groups {
					subs, err := store.SubgroupsByGroup(ctx, g.ID)
					require.NoError(t, err)
					for _, sg := range subs {
						ls, err := store.LessonsInRange(ctx, sg.ID, from, to)
						require.NoError(t, err)
						lessons += len(ls)
					}
					subgroups += len(subs)
				}
			}
		}
	}
	return len(specs), subgroups, lessons
}

// ══════════════════════════════════════════════════════════════════════════════
// SyncAll
// ══════════════════════════════════════════════════════════════════════════════

func TestSyncAll_IsolatesFailures(t *testing.T) {
	for _, concurrency := range []int{1, 3} {
		e := newEnv(t)
		ctx := context.Background()

		res, err := e.handler(nil, concurrency).SyncAll(ctx, SyncAllCommand{Trigger: TriggerScheduler})
		require.NoError(t, err)

		assert.Equal(t, 4, res.Total)
		assert.Equal(t, 2, res.Succeeded)
		assert.Equal(t, 2, res.Failed)
		assert.Equal(t, 3, res.Lessons)
		assert.NotEmpty(t, res.RunID)

		require.Len(t, res.Schedules, 2)
		assert.Equal(t, int64(1), res.Schedules[0].ScheduleID)
		assert.Equal(t, int64(4), res.Schedules[1].ScheduleID)

		require.Len(t, res.Failures, 2)
		assert.Equal(t, int64(2), res.Failures[0].ScheduleID)
		assert.Equal(t, int64(3), res.Failures[1].ScheduleID)
		assert.ErrorIs(t, res.Failures[1], schedule.ErrScheduleNotFound)
		assert.Equal(t, "failed to fetch schedule 3", res.Failures[1].Message)

		specs, subgroups, lessons := countStored(t, e.store)
		assert.Equal(t, 1, specs)
		assert.Equal(t, 2, subgroups)
		assert.Equal(t, 3, lessons)

		assert.Equal(t, int32(1), e.cache.calls.Load())

		runs, err := e.runs.Latest(ctx, 5)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, res.RunID, runs[0].ID)
		assert.Equal(t, schedule.SyncRunPartial, runs[0].Status)
		assert.Equal(t, TriggerScheduler, runs[0].Trigger)
		assert.Equal(t, 3, runs[0].Lessons)
		require.Len(t, runs[0].Failures, 2)
		assert.Equal(t, int64(2), runs[0].Failures[0].ScheduleID)
	}
}

func TestSyncAll_Idempotent(t *testing.T) {
	e := newEnv(t)
	h := e.handler(nil, 1)
	ctx := context.Background()

	_, err := h.SyncAll(ctx, SyncAllCommand{})
	require.NoError(t, err)
	specs1, subs1, lessons1 := countStored(t, e.store)

	second, err := h.SyncAll(ctx, SyncAllCommand{})
	require.NoError(t, err)
	assert.Equal(t, 3, second.Lessons)

	specs2, subs2, lessons2 := countStored(t, e.store)
	assert.Equal(t, specs1, specs2)
	assert.Equal(t, subs1, subs2)
	assert.Equal(t, lessons1, lessons2)

	runs, err := e.runs.Latest(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestSyncAll_ListingFailure(t *testing.T) {
	e := newEnv(t)
	e.source.listErr = errors.New("connection refused")
	ctx := context.Background()

	res, err := e.handler(nil, 1).SyncAll(ctx, SyncAllCommand{Trigger: TriggerHTTP})
	require.Error(t, err)

	var syncErr *schedule.SyncError
	require.True(t, errors.As(err, &syncErr))
	assert.Equal(t, int64(0), syncErr.ScheduleID)
	assert.Equal(t, "failed to list schedules", syncErr.Message)

	require.NotNil(t, res)
	assert.Zero(t, res.Total)
	assert.Empty(t, e.source.fetched)
	assert.Zero(t, e.cache.calls.Load())

	runs, err := e.runs.Latest(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, schedule.SyncRunFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "connection refused")
}

func TestSyncAll_NoSuccessSkipsInvalidation(t *testing.T) {
	e := newEnv(t)
	e.source.list = summaries(2, 3)

	res, err := e.handler(nil, 1).SyncAll(context.Background(), SyncAllCommand{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed)
	assert.Zero(t, e.cache.calls.Load())
}

func TestSyncAll_Lock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	held := &stubLocker{held: true}
	_, err := e.handler(held, 1).SyncAll(ctx, SyncAllCommand{})
	assert.ErrorIs(t, err, schedule.ErrSyncInProgress)
	assert.Empty(t, e.source.fetched)

	free := &stubLocker{}
	_, err = e.handler(free, 1).SyncAll(ctx, SyncAllCommand{})
	require.NoError(t, err)
	assert.True(t, free.released)
	assert.False(t, free.held)

	// lock backend down: the run still happens
	broken := &stubLocker{err: errors.New("redis: connection refused")}
	res, err := e.handler(broken, 1).SyncAll(ctx, SyncAllCommand{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
}

func TestSyncAll_CancelledContext(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := e.handler(nil, 1).SyncAll(ctx, SyncAllCommand{})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, res.Total, res.Succeeded+res.Failed)
}

// ══════════════════════════════════════════════════════════════════════════════
// SyncSingle
// ══════════════════════════════════════════════════════════════════════════════

func TestSyncSingle(t *testing.T) {
	e := newEnv(t)
	h := e.handler(nil, 1)
	ctx := context.Background()

	res, err := h.SyncSingle(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.ScheduleID)
	assert.Equal(t, 1, res.Groups)
	assert.Equal(t, 2, res.Lessons)

	_, err = h.SyncSingle(ctx, 2)
	var syncErr *schedule.SyncError
	require.True(t, errors.As(err, &syncErr))
	assert.Equal(t, int64(2), syncErr.ScheduleID)
	assert.Equal(t, "failed to parse schedule 2", syncErr.Message)

	e.source.errs = map[int64]error{5: errors.New("status 500")}
	_, err = h.SyncSingle(ctx, 5)
	require.True(t, errors.As(err, &syncErr))
	assert.Equal(t, "failed to fetch schedule 5", syncErr.Message)
	assert.Contains(t, err.Error(), "status 500")
}

func TestSyncSingle_RollsBackOnPersistError(t *testing.T) {
	e := newEnv(t)
	h := NewSyncSchedulesHandler(e.source, failingStore{e.store}, nil, nil, nil, SyncSchedulesConfig{
		Logger: logger.Discard(),
	})

	_, err := h.SyncSingle(context.Background(), 1)
	var syncErr *schedule.SyncError
	require.True(t, errors.As(err, &syncErr))
	assert.Equal(t, "failed to persist schedule 1", syncErr.Message)
	assert.Contains(t, err.Error(), "disk full")

	specs, subgroups, _ := countStored(t, e.store)
	assert.Zero(t, specs)
	assert.Zero(t, subgroups)
}
