package schedule

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Контракт хранилища. Реализации: infrastructure/persistence/postgres и
// infrastructure/persistence/sqlite.
// ══════════════════════════════════════════════════════════════════════════════

// Writer - операции записи внутри одной транзакции.
// Все методы - upsert по естественному ключу сущности и возвращают её ID.
type Writer interface {
	// UpsertSpeciality вставляет специальность или обновляет code, clean_name,
	// level по ключу full_name.
	UpsertSpeciality(ctx context.Context, s *Speciality) (int64, error)

	// UpsertGroup - ключ (speciality_id, course_number, stream, name).
	UpsertGroup(ctx context.Context, g *Group) (int64, error)

	// UpsertSubgroup - ключ (group_id, name).
	UpsertSubgroup(ctx context.Context, s *Subgroup) (int64, error)

	// UpsertLessons пакетно пишет занятия подгруппы. Ключ
	// (subgroup_id, date, start_time, subject); при конфликте обновляются
	// end_time, lesson_type, teacher, address, room.
	// Возвращает число записанных строк.
	UpsertLessons(ctx context.Context, subgroupID int64, lessons []ParsedLesson) (int, error)
}

// Reader - операции чтения для клиентов расписания.
type Reader interface {
	// ─────────────────────────────────────────────────────────────────────────
	// By ID
	// ─────────────────────────────────────────────────────────────────────────

	// SpecialityByID возвращает ErrSpecialityNotFound, если записи нет.
	SpecialityByID(ctx context.Context, id int64) (*Speciality, error)
	// GroupByID возвращает ErrGroupNotFound, если записи нет.
	GroupByID(ctx context.Context, id int64) (*Group, error)
	// SubgroupByID возвращает ErrSubgroupNotFound, если записи нет.
	SubgroupByID(ctx context.Context, id int64) (*Subgroup, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Lessons
	// ─────────────────────────────────────────────────────────────────────────

	// LessonsOnDate - занятия подгруппы за день, по start_time.
	LessonsOnDate(ctx context.Context, subgroupID int64, date time.Time) ([]Lesson, error)
	// LessonsInRange - занятия в [from, to] включительно, по (date, start_time).
	LessonsInRange(ctx context.Context, subgroupID int64, from, to time.Time) ([]Lesson, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Browse
	// ─────────────────────────────────────────────────────────────────────────

	// ListSpecialities - все специальности, по clean_name.
	ListSpecialities(ctx context.Context) ([]Speciality, error)
	// DistinctCourses - номера курсов специальности по возрастанию.
	DistinctCourses(ctx context.Context, specialityID int64) ([]int, error)
	// DistinctStreams - потоки курса по возрастанию.
	DistinctStreams(ctx context.Context, specialityID int64, course int) ([]string, error)
	// GroupsByStructure - группы потока, по имени.
	GroupsByStructure(ctx context.Context, specialityID int64, course int, stream string) ([]Group, error)
	// SubgroupsByGroup - подгруппы группы, по имени.
	SubgroupsByGroup(ctx context.Context, groupID int64) ([]Subgroup, error)
}

// Store - хранилище расписания целиком.
type Store interface {
	Reader

	// WithinTx выполняет fn в одной транзакции: commit при nil,
	// rollback при ошибке или панике.
	WithinTx(ctx context.Context, fn func(ctx context.Context, w Writer) error) error
}

// SyncRunRepository хранит журнал запусков синхронизации.
type SyncRunRepository interface {
	// Start записывает начало запуска.
	Start(ctx context.Context, run *SyncRun) error
	// Finish обновляет запись итогами запуска.
	Finish(ctx context.Context, run *SyncRun) error
	// Latest возвращает последние запуски, новые первыми.
	Latest(ctx context.Context, limit int) ([]SyncRun, error)
}
