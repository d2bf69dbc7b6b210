package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/unischedule/schedule-sync/internal/domain/schedule"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPSERT STATEMENTS
// Each upsert returns the surviving row id. DO UPDATE on a no-op column keeps
// RETURNING working when the row already exists.
// ══════════════════════════════════════════════════════════════════════════════

const upsertSpecialitySQL = `
	INSERT INTO specialities (code, full_name, clean_name, level)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (full_name) DO UPDATE SET
		code = EXCLUDED.code,
		clean_name = EXCLUDED.clean_name,
		level = EXCLUDED.level
	RETURNING id
`

const upsertGroupSQL = `
	INSERT INTO groups (speciality_id, course_number, stream, name)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (speciality_id, course_number, stream, name) DO UPDATE SET
		name = EXCLUDED.name
	RETURNING id
`

const upsertSubgroupSQL = `
	INSERT INTO subgroups (group_id, name)
	VALUES ($1, $2)
	ON CONFLICT (group_id, name) DO UPDATE SET
		name = EXCLUDED.name
	RETURNING id
`

const upsertLessonSQL = `
	INSERT INTO lessons (
		subgroup_id, subject, lesson_type, date, start_time, end_time,
		teacher, address, room
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (subgroup_id, date, start_time, subject) DO UPDATE SET
		end_time = EXCLUDED.end_time,
		lesson_type = EXCLUDED.lesson_type,
		teacher = EXCLUDED.teacher,
		address = EXCLUDED.address,
		room = EXCLUDED.room
`

// ══════════════════════════════════════════════════════════════════════════════
// WRITER
// ══════════════════════════════════════════════════════════════════════════════

// scheduleWriter implements schedule.Writer on top of a transaction.
type scheduleWriter struct {
	q Querier
}

func newScheduleWriter(q Querier) *scheduleWriter {
	return &scheduleWriter{q: q}
}

var _ schedule.Writer = (*scheduleWriter)(nil)

func (w *scheduleWriter) UpsertSpeciality(ctx context.Context, s *schedule.Speciality) (int64, error) {
	var id int64
	err := w.q.QueryRow(ctx, upsertSpecialitySQL,
		s.Code,
		s.FullName,
		s.CleanName,
		levelToDB(s.Level),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert speciality %q: %w", s.FullName, err)
	}
	s.ID = id
	return id, nil
}

func (w *scheduleWriter) UpsertGroup(ctx context.Context, g *schedule.Group) (int64, error) {
	var id int64
	err := w.q.QueryRow(ctx, upsertGroupSQL,
		g.SpecialityID,
		g.CourseNumber,
		g.Stream,
		g.Name,
	).Scan(&id)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return 0, fmt.Errorf("group %q: %w", g.Name, schedule.ErrSpecialityNotFound)
		}
		return 0, fmt.Errorf("failed to upsert group %q: %w", g.Name, err)
	}
	g.ID = id
	return id, nil
}

func (w *scheduleWriter) UpsertSubgroup(ctx context.Context, s *schedule.Subgroup) (int64, error) {
	var id int64
	err := w.q.QueryRow(ctx, upsertSubgroupSQL, s.GroupID, s.Name).Scan(&id)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return 0, fmt.Errorf("subgroup %q: %w", s.Name, schedule.ErrGroupNotFound)
		}
		return 0, fmt.Errorf("failed to upsert subgroup %q: %w", s.Name, err)
	}
	s.ID = id
	return id, nil
}

// UpsertLessons sends one statement per lesson in a single pgx batch.
// Separate statements avoid the "cannot affect row a second time" error a
// multi-row INSERT ... ON CONFLICT raises on duplicate keys.
func (w *scheduleWriter) UpsertLessons(ctx context.Context, subgroupID int64, lessons []schedule.ParsedLesson) (int, error) {
	if len(lessons) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, l := range lessons {
		batch.Queue(upsertLessonSQL,
			subgroupID,
			l.Subject,
			string(l.LessonType),
			dateToPG(l.Date),
			timeOfDayToPG(l.StartTime),
			timeOfDayToPG(l.EndTime),
			l.Teacher,
			l.Address,
			l.Room,
		)
	}

	results := w.q.SendBatch(ctx, batch)
	written := 0
	for i := range lessons {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return written, fmt.Errorf("failed to upsert lesson %q on %s: %w",
				lessons[i].Subject, lessons[i].Date.Format("2006-01-02"), err)
		}
		written++
	}

	if err := results.Close(); err != nil {
		return written, fmt.Errorf("failed to close lesson batch: %w", err)
	}
	return written, nil
}
