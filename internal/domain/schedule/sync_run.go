package schedule

import "time"

// SyncRunStatus - состояние запуска синхронизации.
type SyncRunStatus string

const (
	SyncRunRunning   SyncRunStatus = "running"
	SyncRunCompleted SyncRunStatus = "completed"
	SyncRunPartial   SyncRunStatus = "partial" // часть расписаний упала
	SyncRunFailed    SyncRunStatus = "failed"  // упал листинг
)

// SyncRun - запись журнала синхронизации.
type SyncRun struct {
	ID          string // uuid
	Trigger     string // "startup", "scheduler", "http", "cli"
	Status      SyncRunStatus
	StartedAt   time.Time
	FinishedAt  *time.Time
	Total       int
	Succeeded   int
	Failed      int
	Lessons     int
	SkippedRows int
	Failures    []SyncFailure
	Error       string
}

// SyncFailure - сбой одного расписания в рамках запуска.
type SyncFailure struct {
	ScheduleID int64  `json:"schedule_id"`
	Message    string `json:"message"`
}

// Duration - длительность завершённого запуска.
func (r *SyncRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Complete фиксирует итог запуска по числу сбоев.
func (r *SyncRun) Complete(at time.Time, listingErr error) {
	r.FinishedAt = &at
	switch {
	case listingErr != nil:
		r.Status = SyncRunFailed
		r.Error = listingErr.Error()
	case r.Failed > 0:
		r.Status = SyncRunPartial
	default:
		r.Status = SyncRunCompleted
	}
}
