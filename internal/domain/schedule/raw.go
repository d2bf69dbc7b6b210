package schedule

// RawSchedule - расписание в том виде, в каком его отдаёт источник,
// уже отвязанное от формата передачи (JSON-алиасы разрешены маппером).
type RawSchedule struct {
	ID      int64
	Headers []RawHeader
	Lessons []RawLesson
}

// RawHeader - шапка расписания: учебный год и семестр.
type RawHeader struct {
	AcademicYear string // "2024/2025"
	SemesterType string // "осенний" / "весенний"
}

// RawLesson - одна строка расписания. Числовые поля остаются строками:
// их разбор и ошибки принадлежат парсеру.
type RawLesson struct {
	Speciality   string
	CourseNumber string
	Stream       string
	StudyGroup   string
	Subgroup     string
	WeekNumber   string
	DayName      string
	PairTime     string
	LessonType   string
	SubjectName  string
	LectorName   string
	Address      string
	Auditory     string
}

// ScheduleSummary - элемент списка расписаний источника.
type ScheduleSummary struct {
	ID           int64
	Name         string
	AcademicYear string
	SemesterType string
}
