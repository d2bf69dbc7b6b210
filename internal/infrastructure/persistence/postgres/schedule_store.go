package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/unischedule/schedule-sync/internal/domain/calendar"
	"github.com/unischedule/schedule-sync/internal/domain/schedule"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULE STORE
// ══════════════════════════════════════════════════════════════════════════════

// ScheduleStore implements schedule.Store for PostgreSQL.
type ScheduleStore struct {
	conn *Connection
}

// NewScheduleStore creates a new ScheduleStore.
func NewScheduleStore(conn *Connection) *ScheduleStore {
	return &ScheduleStore{conn: conn}
}

var _ schedule.Store = (*ScheduleStore)(nil)

// WithinTx runs fn in a read-committed transaction.
func (s *ScheduleStore) WithinTx(ctx context.Context, fn func(ctx context.Context, w schedule.Writer) error) error {
	return s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		return fn(ctx, newScheduleWriter(tx))
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// By ID
// ─────────────────────────────────────────────────────────────────────────────

const selectSpecialitySQL = `
	SELECT id, code, full_name, clean_name, level
	FROM specialities
`

// SpecialityByID returns a speciality by ID.
func (s *ScheduleStore) SpecialityByID(ctx context.Context, id int64) (*schedule.Speciality, error) {
	row := s.conn.QueryRow(ctx, selectSpecialitySQL+` WHERE id = $1`, id)
	sp, err := scanSpeciality(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, schedule.ErrSpecialityNotFound
		}
		return nil, fmt.Errorf("failed to get speciality %d: %w", id, err)
	}
	return sp, nil
}

// GroupByID returns a group by ID.
func (s *ScheduleStore) GroupByID(ctx context.Context, id int64) (*schedule.Group, error) {
	query := `
		SELECT id, speciality_id, course_number, stream, name
		FROM groups
		WHERE id = $1
	`

	var g schedule.Group
	err := s.conn.QueryRow(ctx, query, id).Scan(&g.ID, &g.SpecialityID, &g.CourseNumber, &g.Stream, &g.Name)
	if err != nil {
		if IsNoRows(err) {
			return nil, schedule.ErrGroupNotFound
		}
		return nil, fmt.Errorf("failed to get group %d: %w", id, err)
	}
	return &g, nil
}

// SubgroupByID returns a subgroup by ID.
func (s *ScheduleStore) SubgroupByID(ctx context.Context, id int64) (*schedule.Subgroup, error) {
	query := `SELECT id, group_id, name FROM subgroups WHERE id = $1`

	var sg schedule.Subgroup
	err := s.conn.QueryRow(ctx, query, id).Scan(&sg.ID, &sg.GroupID, &sg.Name)
	if err != nil {
		if IsNoRows(err) {
			return nil, schedule.ErrSubgroupNotFound
		}
		return nil, fmt.Errorf("failed to get subgroup %d: %w", id, err)
	}
	return &sg, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Lessons
// ─────────────────────────────────────────────────────────────────────────────

const selectLessonSQL = `
	SELECT id, subgroup_id, subject, lesson_type, date, start_time, end_time,
		   teacher, address, room
	FROM lessons
`

// LessonsOnDate returns the subgroup's lessons for one day ordered by start time.
func (s *ScheduleStore) LessonsOnDate(ctx context.Context, subgroupID int64, date time.Time) ([]schedule.Lesson, error) {
	query := selectLessonSQL + `
		WHERE subgroup_id = $1 AND date = $2
		ORDER BY start_time, id
	`

	rows, err := s.conn.Query(ctx, query, subgroupID, dateToPG(date))
	if err != nil {
		return nil, fmt.Errorf("failed to query lessons: %w", err)
	}
	return scanLessons(rows)
}

// LessonsInRange returns lessons with from <= date <= to.
func (s *ScheduleStore) LessonsInRange(ctx context.Context, subgroupID int64, from, to time.Time) ([]schedule.Lesson, error) {
	query := selectLessonSQL + `
		WHERE subgroup_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date, start_time, id
	`

	rows, err := s.conn.Query(ctx, query, subgroupID, dateToPG(from), dateToPG(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query lessons: %w", err)
	}
	return scanLessons(rows)
}

// ─────────────────────────────────────────────────────────────────────────────
// Browse
// ─────────────────────────────────────────────────────────────────────────────

// ListSpecialities returns all specialities ordered by clean name.
func (s *ScheduleStore) ListSpecialities(ctx context.Context) ([]schedule.Speciality, error) {
	rows, err := s.conn.Query(ctx, selectSpecialitySQL+` ORDER BY clean_name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query specialities: %w", err)
	}
	defer rows.Close()

	var out []schedule.Speciality
	for rows.Next() {
		sp, err := scanSpeciality(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan speciality: %w", err)
		}
		out = append(out, *sp)
	}
	return out, rows.Err()
}

// DistinctCourses returns course numbers of a speciality in ascending order.
func (s *ScheduleStore) DistinctCourses(ctx context.Context, specialityID int64) ([]int, error) {
	query := `
		SELECT DISTINCT course_number
		FROM groups
		WHERE speciality_id = $1
		ORDER BY course_number
	`

	rows, err := s.conn.Query(ctx, query, specialityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query courses: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int])
}

// DistinctStreams returns the streams of a course in ascending order.
func (s *ScheduleStore) DistinctStreams(ctx context.Context, specialityID int64, course int) ([]string, error) {
	query := `
		SELECT DISTINCT stream
		FROM groups
		WHERE speciality_id = $1 AND course_number = $2
		ORDER BY stream
	`

	rows, err := s.conn.Query(ctx, query, specialityID, course)
	if err != nil {
		return nil, fmt.Errorf("failed to query streams: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// GroupsByStructure returns the groups of a stream ordered by name.
func (s *ScheduleStore) GroupsByStructure(ctx context.Context, specialityID int64, course int, stream string) ([]schedule.Group, error) {
	query := `
		SELECT id, speciality_id, course_number, stream, name
		FROM groups
		WHERE speciality_id = $1 AND course_number = $2 AND stream = $3
		ORDER BY name
	`

	rows, err := s.conn.Query(ctx, query, specialityID, course, stream)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (schedule.Group, error) {
		var g schedule.Group
		err := row.Scan(&g.ID, &g.SpecialityID, &g.CourseNumber, &g.Stream, &g.Name)
		return g, err
	})
}

// SubgroupsByGroup returns the subgroups of a group ordered by name.
func (s *ScheduleStore) SubgroupsByGroup(ctx context.Context, groupID int64) ([]schedule.Subgroup, error) {
	query := `SELECT id, group_id, name FROM subgroups WHERE group_id = $1 ORDER BY name`

	rows, err := s.conn.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query subgroups: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (schedule.Subgroup, error) {
		var sg schedule.Subgroup
		err := row.Scan(&sg.ID, &sg.GroupID, &sg.Name)
		return sg, err
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SCANNING & CONVERSION
// ══════════════════════════════════════════════════════════════════════════════

func scanSpeciality(row pgx.Row) (*schedule.Speciality, error) {
	var (
		sp    schedule.Speciality
		level *string
	)
	if err := row.Scan(&sp.ID, &sp.Code, &sp.FullName, &sp.CleanName, &level); err != nil {
		return nil, err
	}
	sp.Level = levelFromDB(level)
	return &sp, nil
}

func scanLessons(rows pgx.Rows) ([]schedule.Lesson, error) {
	defer rows.Close()

	var lessons []schedule.Lesson
	for rows.Next() {
		var (
			l          schedule.Lesson
			lessonType string
			date       pgtype.Date
			start, end pgtype.Time
		)
		err := rows.Scan(
			&l.ID,
			&l.SubgroupID,
			&l.Subject,
			&lessonType,
			&date,
			&start,
			&end,
			&l.Teacher,
			&l.Address,
			&l.Room,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lesson: %w", err)
		}

		l.LessonType = schedule.LessonType(lessonType)
		l.Date = calendar.Truncate(date.Time)
		l.StartTime = timeOfDayFromPG(start)
		l.EndTime = timeOfDayFromPG(end)
		lessons = append(lessons, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lessons: %w", err)
	}
	return lessons, nil
}

func dateToPG(d time.Time) pgtype.Date {
	return pgtype.Date{Time: calendar.Truncate(d), Valid: true}
}

const microsPerMinute = int64(time.Minute / time.Microsecond)

func timeOfDayToPG(t calendar.TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t.Minutes()) * microsPerMinute, Valid: true}
}

func timeOfDayFromPG(t pgtype.Time) calendar.TimeOfDay {
	minutes := int(t.Microseconds / microsPerMinute)
	return calendar.TimeOfDay{Hour: minutes / 60, Minute: minutes % 60}
}

func levelToDB(level *schedule.EducationLevel) *string {
	if level == nil {
		return nil
	}
	v := level.String()
	return &v
}

func levelFromDB(v *string) *schedule.EducationLevel {
	if v == nil {
		return nil
	}
	level := schedule.EducationLevel(*v)
	if !level.IsValid() {
		return nil
	}
	return &level
}
