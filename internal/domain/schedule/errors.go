package schedule

import (
	"errors"
	"fmt"

	"github.com/unischedule/schedule-sync/internal/domain/shared"
)

const domainName = "schedule"

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrMissingHeader - в расписании есть строки, но нет шапки.
	ErrMissingHeader = errors.New("schedule has no header information")

	// ErrInvalidData - базовая ошибка для InvalidDataError.
	ErrInvalidData = fmt.Errorf("invalid schedule data: %w", shared.ErrInvalidInput)

	// ErrScheduleNotFound - источник не вернул расписание.
	ErrScheduleNotFound = fmt.Errorf("schedule: %w", shared.ErrNotFound)

	// ErrSpecialityNotFound, ErrGroupNotFound, ErrSubgroupNotFound - чтение по ID.
	ErrSpecialityNotFound = fmt.Errorf("speciality: %w", shared.ErrNotFound)
	ErrGroupNotFound      = fmt.Errorf("group: %w", shared.ErrNotFound)
	ErrSubgroupNotFound   = fmt.Errorf("subgroup: %w", shared.ErrNotFound)

	// ErrSyncInProgress - другой процесс уже выполняет полную синхронизацию.
	ErrSyncInProgress = fmt.Errorf("schedule sync: %w", shared.ErrInProgress)
)

// InvalidDataError - строка нарушает обязательное поле, и разбор всего
// расписания прерывается (например, нечисловой номер курса).
type InvalidDataError struct {
	Field string
	Value string
	Err   error
}

func (e *InvalidDataError) Error() string {
	return fmt.Sprintf("invalid %s: %q", e.Field, e.Value)
}

func (e *InvalidDataError) Unwrap() error { return e.Err }

func (e *InvalidDataError) Is(target error) bool { return target == ErrInvalidData }

// SyncError - синхронизация одного расписания (или листинга) не удалась.
// Оборачивает причину: ошибку транспорта, парсера или хранилища.
type SyncError struct {
	ScheduleID int64 // 0, если упал листинг
	Message    string
	Err        error
}

// NewSyncError создаёт ошибку синхронизации.
func NewSyncError(scheduleID int64, message string, err error) *SyncError {
	return &SyncError{ScheduleID: scheduleID, Message: message, Err: err}
}

func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *SyncError) Unwrap() error { return e.Err }

// AsDomainError представляет ошибку в общем формате домена.
func (e *SyncError) AsDomainError() *shared.DomainError {
	return shared.WrapError(domainName, "Sync", shared.ErrExternalService, e.Message, e.Err)
}

// RowSkip описывает строку, пропущенную при разборе.
type RowSkip struct {
	Index   int // позиция строки во входном расписании
	Subject string
	Reason  string
	Err     error
}

func (s RowSkip) Error() string {
	return fmt.Sprintf("row %d (%s): %s", s.Index, s.Subject, s.Reason)
}
