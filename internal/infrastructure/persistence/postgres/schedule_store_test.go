package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unischedule/schedule-sync/internal/domain/calendar"
	"github.com/unischedule/schedule-sync/internal/domain/schedule"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONVERSION
// ══════════════════════════════════════════════════════════════════════════════

func TestTimeOfDayRoundTrip(t *testing.T) {
	for _, tod := range []calendar.TimeOfDay{{Hour: 0, Minute: 0}, {Hour: 9, Minute: 0}, {Hour: 23, Minute: 59}} {
		pg := timeOfDayToPG(tod)
		assert.True(t, pg.Valid)
		assert.Equal(t, tod, timeOfDayFromPG(pg))
	}

	assert.Equal(t, int64(9*60+30)*60_000_000, timeOfDayToPG(calendar.TimeOfDay{Hour: 9, Minute: 30}).Microseconds)
	// seconds are dropped
	assert.Equal(t, calendar.TimeOfDay{Hour: 10, Minute: 40},
		timeOfDayFromPG(pgtype.Time{Microseconds: (10*3600 + 40*60 + 59) * 1_000_000, Valid: true}))
}

func TestDateToPG(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	d := dateToPG(time.Date(2025, 9, 1, 23, 30, 0, 0, loc))
	assert.True(t, d.Valid)
	assert.Equal(t, calendar.Date(2025, 9, 1), d.Time)
}

func TestLevelConversion(t *testing.T) {
	assert.Nil(t, levelToDB(nil))
	assert.Nil(t, levelFromDB(nil))

	master := schedule.LevelMaster
	v := levelToDB(&master)
	require.NotNil(t, v)
	assert.Equal(t, "master", *v)
	assert.Equal(t, &master, levelFromDB(v))

	junk := "doctorate"
	assert.Nil(t, levelFromDB(&junk))
}

func TestUpsertStatements(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		conflict string
		updates  []string
	}{
		{"speciality", upsertSpecialitySQL, "ON CONFLICT (full_name)", []string{"code = EXCLUDED.code", "clean_name", "level"}},
		{"group", upsertGroupSQL, "ON CONFLICT (speciality_id, course_number, stream, name)", nil},
		{"subgroup", upsertSubgroupSQL, "ON CONFLICT (group_id, name)", nil},
		{"lesson", upsertLessonSQL, "ON CONFLICT (subgroup_id, date, start_time, subject)",
			[]string{"end_time = EXCLUDED.end_time", "lesson_type", "teacher", "address", "room"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, tt.sql, tt.conflict)
			for _, col := range tt.updates {
				assert.Contains(t, tt.sql, col)
			}
		})
	}

	assert.NotContains(t, upsertLessonSQL, "RETURNING")
	assert.Contains(t, upsertSpecialitySQL, "RETURNING id")
}

func TestMigrationsCoverSchema(t *testing.T) {
	migrations := GetMigrations()
	require.Len(t, migrations, 2)
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.DownSQL)
	}

	up := migrations[0].UpSQL
	for _, table := range []string{"specialities", "groups", "subgroups", "lessons"} {
		assert.Contains(t, up, "CREATE TABLE IF NOT EXISTS "+table)
	}
	assert.Contains(t, up, "UNIQUE (subgroup_id, date, start_time, subject)")
	assert.Contains(t, up, "idx_lessons_subgroup_date")
	assert.True(t, strings.Contains(migrations[1].UpSQL, "sync_runs"))
}

// ══════════════════════════════════════════════════════════════════════════════
// LIVE DATABASE
// ══════════════════════════════════════════════════════════════════════════════

// openTestConnection connects to SCHEDSYNC_TEST_DATABASE_URL and migrates it.
// Tests that need a server are skipped when the variable is unset.
func openTestConnection(t *testing.T) *Connection {
	t.Helper()

	url := os.Getenv("SCHEDSYNC_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("SCHEDSYNC_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	conn, err := NewConnectionFromURL(ctx, url, Config{MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	_, err = NewMigrator(conn).Migrate(ctx)
	require.NoError(t, err)
	_, err = conn.Exec(ctx, `TRUNCATE lessons, subgroups, groups, specialities, sync_runs RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return conn
}

func TestScheduleStore_UpsertIsIdempotent(t *testing.T) {
	conn := openTestConnection(t)
	store := NewScheduleStore(conn)
	ctx := context.Background()

	room := "214"
	lessons := []schedule.ParsedLesson{
		{Subject: "Анатомия", LessonType: schedule.LessonTypeLecture, Date: calendar.Date(2025, 9, 15),
			StartTime: calendar.TimeOfDay{Hour: 9}, EndTime: calendar.TimeOfDay{Hour: 10, Minute: 30}, Room: &room},
		{Subject: "Химия", LessonType: schedule.LessonTypeSeminar, Date: calendar.Date(2025, 9, 15),
			StartTime: calendar.TimeOfDay{Hour: 10, Minute: 40}, EndTime: calendar.TimeOfDay{Hour: 12, Minute: 10}},
	}

	var subgroupID int64
	persist := func() {
		err := store.WithinTx(ctx, func(ctx context.Context, w schedule.Writer) error {
			level := schedule.LevelSpecialist
			spID, err := w.UpsertSpeciality(ctx, &schedule.Speciality{
				Code: "31.05.01", FullName: "31.05.01 Лечебное дело", CleanName: "Лечебное дело", Level: &level,
			})
			if err != nil {
				return err
			}
			gID, err := w.UpsertGroup(ctx, &schedule.Group{SpecialityID: spID, CourseNumber: 1, Stream: "1", Name: "101"})
			if err != nil {
				return err
			}
			subgroupID, err = w.UpsertSubgroup(ctx, &schedule.Subgroup{GroupID: gID, Name: "101A"})
			if err != nil {
				return err
			}
			_, err = w.UpsertLessons(ctx, subgroupID, lessons)
			return err
		})
		require.NoError(t, err)
	}

	persist()
	firstID := subgroupID
	persist()
	assert.Equal(t, firstID, subgroupID)

	got, err := store.LessonsOnDate(ctx, subgroupID, calendar.Date(2025, 9, 15))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Анатомия", got[0].Subject)
	assert.Equal(t, calendar.TimeOfDay{Hour: 10, Minute: 30}, got[0].EndTime)
	require.NotNil(t, got[0].Room)
	assert.Equal(t, "214", *got[0].Room)
	assert.Nil(t, got[1].Teacher)

	courses, err := store.DistinctCourses(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, courses)
}

func TestScheduleStore_RollbackOnError(t *testing.T) {
	conn := openTestConnection(t)
	store := NewScheduleStore(conn)
	ctx := context.Background()

	err := store.WithinTx(ctx, func(ctx context.Context, w schedule.Writer) error {
		if _, err := w.UpsertSpeciality(ctx, &schedule.Speciality{FullName: "Фармация", CleanName: "Фармация"}); err != nil {
			return err
		}
		_, err := w.UpsertGroup(ctx, &schedule.Group{SpecialityID: 999, CourseNumber: 1, Stream: "1", Name: "x"})
		return err
	})
	assert.ErrorIs(t, err, schedule.ErrSpecialityNotFound)

	specialities, err := store.ListSpecialities(ctx)
	require.NoError(t, err)
	assert.Empty(t, specialities)

	_, err = store.SubgroupByID(ctx, 1)
	assert.ErrorIs(t, err, schedule.ErrSubgroupNotFound)
}

func TestSyncRunRepository_Live(t *testing.T) {
	conn := openTestConnection(t)
	repo := NewSyncRunRepository(conn)
	ctx := context.Background()

	run := &schedule.SyncRun{
		ID:        uuid.NewString(),
		Trigger:   "cli",
		Status:    schedule.SyncRunRunning,
		StartedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, repo.Start(ctx, run))

	run.Total, run.Succeeded, run.Failed = 2, 1, 1
	run.Failures = []schedule.SyncFailure{{ScheduleID: 7, Message: "failed to fetch schedule 7"}}
	run.Complete(run.StartedAt.Add(time.Second), nil)
	require.NoError(t, repo.Finish(ctx, run))

	runs, err := repo.Latest(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, schedule.SyncRunPartial, runs[0].Status)
	assert.Equal(t, run.Failures, runs[0].Failures)
	assert.Equal(t, time.Second, runs[0].Duration())
}
