package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/unischedule/schedule-sync/internal/domain/calendar"
	"github.com/unischedule/schedule-sync/internal/domain/schedule"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ScheduleStore implements schedule.Store on SQLite.
type ScheduleStore struct {
	db *DB
}

// NewScheduleStore creates a new ScheduleStore.
func NewScheduleStore(db *DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

var _ schedule.Store = (*ScheduleStore)(nil)

// WithinTx runs fn in one transaction.
func (s *ScheduleStore) WithinTx(ctx context.Context, fn func(ctx context.Context, w schedule.Writer) error) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		return fn(ctx, &scheduleWriter{q: tx})
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// WRITER
// ══════════════════════════════════════════════════════════════════════════════

type scheduleWriter struct {
	q querier
}

func (w *scheduleWriter) UpsertSpeciality(ctx context.Context, sp *schedule.Speciality) (int64, error) {
	var id int64
	err := w.q.QueryRowContext(ctx,
		`INSERT INTO specialities(code, full_name, clean_name, level) VALUES(?,?,?,?)
		 ON CONFLICT(full_name) DO UPDATE SET
		   code=excluded.code, clean_name=excluded.clean_name, level=excluded.level
		 RETURNING id`,
		sp.Code, sp.FullName, sp.CleanName, levelToDB(sp.Level),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert speciality %q: %w", sp.FullName, err)
	}
	sp.ID = id
	return id, nil
}

func (w *scheduleWriter) UpsertGroup(ctx context.Context, g *schedule.Group) (int64, error) {
	var id int64
	err := w.q.QueryRowContext(ctx,
		`INSERT INTO groups(speciality_id, course_number, stream, name) VALUES(?,?,?,?)
		 ON CONFLICT(speciality_id, course_number, stream, name) DO UPDATE SET name=excluded.name
		 RETURNING id`,
		g.SpecialityID, g.CourseNumber, g.Stream, g.Name,
	).Scan(&id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, fmt.Errorf("group %q: %w", g.Name, schedule.ErrSpecialityNotFound)
		}
		return 0, fmt.Errorf("upsert group %q: %w", g.Name, err)
	}
	g.ID = id
	return id, nil
}

func (w *scheduleWriter) UpsertSubgroup(ctx context.Context, sg *schedule.Subgroup) (int64, error) {
	var id int64
	err := w.q.QueryRowContext(ctx,
		`INSERT INTO subgroups(group_id, name) VALUES(?,?)
		 ON CONFLICT(group_id, name) DO UPDATE SET name=excluded.name
		 RETURNING id`,
		sg.GroupID, sg.Name,
	).Scan(&id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, fmt.Errorf("subgroup %q: %w", sg.Name, schedule.ErrGroupNotFound)
		}
		return 0, fmt.Errorf("upsert subgroup %q: %w", sg.Name, err)
	}
	sg.ID = id
	return id, nil
}

func (w *scheduleWriter) UpsertLessons(ctx context.Context, subgroupID int64, lessons []schedule.ParsedLesson) (int, error) {
	written := 0
	for _, l := range lessons {
		_, err := w.q.ExecContext(ctx,
			`INSERT INTO lessons(subgroup_id, subject, lesson_type, date, start_time, end_time, teacher, address, room)
			 VALUES(?,?,?,?,?,?,?,?,?)
			 ON CONFLICT(subgroup_id, date, start_time, subject) DO UPDATE SET
			   end_time=excluded.end_time, lesson_type=excluded.lesson_type,
			   teacher=excluded.teacher, address=excluded.address, room=excluded.room`,
			subgroupID, l.Subject, string(l.LessonType), l.Date.Format(dateLayout),
			l.StartTime.String(), l.EndTime.String(), l.Teacher, l.Address, l.Room,
		)
		if err != nil {
			if isForeignKeyViolation(err) {
				return written, fmt.Errorf("lesson %q: %w", l.Subject, schedule.ErrSubgroupNotFound)
			}
			return written, fmt.Errorf("upsert lesson %q on %s: %w", l.Subject, l.Date.Format(dateLayout), err)
		}
		written++
	}
	return written, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// READER
// ══════════════════════════════════════════════════════════════════════════════

func (s *ScheduleStore) SpecialityByID(ctx context.Context, id int64) (*schedule.Speciality, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT id, code, full_name, clean_name, level FROM specialities WHERE id = ?`, id)
	sp, err := scanSpeciality(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schedule.ErrSpecialityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get speciality %d: %w", id, err)
	}
	return sp, nil
}

func (s *ScheduleStore) GroupByID(ctx context.Context, id int64) (*schedule.Group, error) {
	var g schedule.Group
	err := s.db.db.QueryRowContext(ctx,
		`SELECT id, speciality_id, course_number, stream, name FROM groups WHERE id = ?`, id,
	).Scan(&g.ID, &g.SpecialityID, &g.CourseNumber, &g.Stream, &g.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schedule.ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group %d: %w", id, err)
	}
	return &g, nil
}

func (s *ScheduleStore) SubgroupByID(ctx context.Context, id int64) (*schedule.Subgroup, error) {
	var sg schedule.Subgroup
	err := s.db.db.QueryRowContext(ctx,
		`SELECT id, group_id, name FROM subgroups WHERE id = ?`, id,
	).Scan(&sg.ID, &sg.GroupID, &sg.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schedule.ErrSubgroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subgroup %d: %w", id, err)
	}
	return &sg, nil
}

const selectLessons = `SELECT id, subgroup_id, subject, lesson_type, date, start_time, end_time, teacher, address, room FROM lessons`

func (s *ScheduleStore) LessonsOnDate(ctx context.Context, subgroupID int64, date time.Time) ([]schedule.Lesson, error) {
	rows, err := s.db.db.QueryContext(ctx,
		selectLessons+` WHERE subgroup_id = ? AND date = ? ORDER BY start_time, id`,
		subgroupID, date.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("query lessons: %w", err)
	}
	return scanLessons(rows)
}

func (s *ScheduleStore) LessonsInRange(ctx context.Context, subgroupID int64, from, to time.Time) ([]schedule.Lesson, error) {
	rows, err := s.db.db.QueryContext(ctx,
		selectLessons+` WHERE subgroup_id = ? AND date BETWEEN ? AND ? ORDER BY date, start_time, id`,
		subgroupID, from.Format(dateLayout), to.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("query lessons: %w", err)
	}
	return scanLessons(rows)
}

func (s *ScheduleStore) ListSpecialities(ctx context.Context) ([]schedule.Speciality, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT id, code, full_name, clean_name, level FROM specialities ORDER BY clean_name, id`)
	if err != nil {
		return nil, fmt.Errorf("query specialities: %w", err)
	}
	defer rows.Close()

	var out []schedule.Speciality
	for rows.Next() {
		sp, err := scanSpeciality(rows)
		if err != nil {
			return nil, fmt.Errorf("scan speciality: %w", err)
		}
		out = append(out, *sp)
	}
	return out, rows.Err()
}

func (s *ScheduleStore) DistinctCourses(ctx context.Context, specialityID int64) ([]int, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT DISTINCT course_number FROM groups WHERE speciality_id = ? ORDER BY course_number`, specialityID)
	if err != nil {
		return nil, fmt.Errorf("query courses: %w", err)
	}
	return collect(rows, func(r *sql.Rows) (int, error) {
		var n int
		err := r.Scan(&n)
		return n, err
	})
}

func (s *ScheduleStore) DistinctStreams(ctx context.Context, specialityID int64, course int) ([]string, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT DISTINCT stream FROM groups WHERE speciality_id = ? AND course_number = ? ORDER BY stream`,
		specialityID, course)
	if err != nil {
		return nil, fmt.Errorf("query streams: %w", err)
	}
	return collect(rows, func(r *sql.Rows) (string, error) {
		var v string
		err := r.Scan(&v)
		return v, err
	})
}

func (s *ScheduleStore) GroupsByStructure(ctx context.Context, specialityID int64, course int, stream string) ([]schedule.Group, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT id, speciality_id, course_number, stream, name FROM groups
		 WHERE speciality_id = ? AND course_number = ? AND stream = ? ORDER BY name`,
		specialityID, course, stream)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	return collect(rows, func(r *sql.Rows) (schedule.Group, error) {
		var g schedule.Group
		err := r.Scan(&g.ID, &g.SpecialityID, &g.CourseNumber, &g.Stream, &g.Name)
		return g, err
	})
}

func (s *ScheduleStore) SubgroupsByGroup(ctx context.Context, groupID int64) ([]schedule.Subgroup, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT id, group_id, name FROM subgroups WHERE group_id = ? ORDER BY name`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query subgroups: %w", err)
	}
	return collect(rows, func(r *sql.Rows) (schedule.Subgroup, error) {
		var sg schedule.Subgroup
		err := r.Scan(&sg.ID, &sg.GroupID, &sg.Name)
		return sg, err
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSpeciality(row rowScanner) (*schedule.Speciality, error) {
	var (
		sp    schedule.Speciality
		level sql.NullString
	)
	if err := row.Scan(&sp.ID, &sp.Code, &sp.FullName, &sp.CleanName, &level); err != nil {
		return nil, err
	}
	if level.Valid {
		lv := schedule.EducationLevel(level.String)
		if lv.IsValid() {
			sp.Level = &lv
		}
	}
	return &sp, nil
}

func scanLessons(rows *sql.Rows) ([]schedule.Lesson, error) {
	defer rows.Close()

	var out []schedule.Lesson
	for rows.Next() {
		var (
			l                      schedule.Lesson
			lessonType, date       string
			start, end             string
			teacher, address, room sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.SubgroupID, &l.Subject, &lessonType, &date, &start, &end, &teacher, &address, &room); err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}

		d, err := time.Parse(dateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("lesson %d date: %w", l.ID, err)
		}
		if l.StartTime, err = calendar.ParseTimeOfDay(start); err != nil {
			return nil, fmt.Errorf("lesson %d start: %w", l.ID, err)
		}
		if l.EndTime, err = calendar.ParseTimeOfDay(end); err != nil {
			return nil, fmt.Errorf("lesson %d end: %w", l.ID, err)
		}

		l.Date = d
		l.LessonType = schedule.LessonType(lessonType)
		l.Teacher = nullable(teacher)
		l.Address = nullable(address)
		l.Room = nullable(room)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lessons: %w", err)
	}
	return out, nil
}

func collect[T any](rows *sql.Rows, scan func(*sql.Rows) (T, error)) ([]T, error) {
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func nullable(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func levelToDB(level *schedule.EducationLevel) any {
	if level == nil {
		return nil
	}
	return level.String()
}
