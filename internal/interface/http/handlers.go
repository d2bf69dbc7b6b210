package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/unischedule/schedule-sync/internal/application/command"
	"github.com/unischedule/schedule-sync/internal/domain/schedule"
	"github.com/unischedule/schedule-sync/internal/domain/shared"
	"github.com/unischedule/schedule-sync/internal/infrastructure/scheduler"
	"github.com/unischedule/schedule-sync/pkg/logger"
	"github.com/unischedule/schedule-sync/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH ENDPOINTS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{"healthy": true, "version": s.config.Version}, nil)
		return
	}

	status := s.deps.Health.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status, nil)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"}, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULE ENDPOINTS
// ══════════════════════════════════════════════════════════════════════════════

// GET /api/v1/subgroups/{id}/lessons?date=today|tomorrow|YYYY-MM-DD
func (s *Server) handleLessons(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_id", "Subgroup id must be a positive integer")
		return
	}

	date, relative, err := parseDay(r.URL.Query().Get("date"))
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_date", "Date must be today, tomorrow or YYYY-MM-DD")
		return
	}

	ctx := r.Context()
	var dto any
	switch relative {
	case "today":
		dto, err = s.deps.Schedule.Today(ctx, id)
	case "tomorrow":
		dto, err = s.deps.Schedule.Tomorrow(ctx, id)
	default:
		dto, err = s.deps.Schedule.ForDate(ctx, id, date)
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto, nil)
}

// GET /api/v1/subgroups/{id}/week?start=YYYY-MM-DD
// Любая дата внутри недели сдвигается на её понедельник.
func (s *Server) handleWeek(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_id", "Subgroup id must be a positive integer")
		return
	}

	var (
		dto any
		err error
	)
	if start := r.URL.Query().Get("start"); start != "" {
		date, perr := timeutil.ParseDate(start)
		if perr != nil {
			writeJSONError(w, r, http.StatusBadRequest, "invalid_date", "Start must be YYYY-MM-DD")
			return
		}
		dto, err = s.deps.Schedule.ForWeek(r.Context(), id, timeutil.StartOfWeek(date))
	} else {
		dto, err = s.deps.Schedule.CurrentWeek(r.Context(), id)
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// BROWSE ENDPOINTS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleSpecialities(w http.ResponseWriter, r *http.Request) {
	specs, err := s.deps.Browse.Specialities(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, specs, &ResponseMeta{TotalCount: len(specs)})
}

func (s *Server) handleCourses(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_id", "Speciality id must be a positive integer")
		return
	}
	courses, err := s.deps.Browse.Courses(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, courses, nil)
}

func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	course, err := strconv.Atoi(r.PathValue("course"))
	if !ok || err != nil || course <= 0 {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_id", "Speciality id and course must be positive integers")
		return
	}
	streams, err := s.deps.Browse.Streams(r.Context(), id, course)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, streams, nil)
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	course, err := strconv.Atoi(r.PathValue("course"))
	if !ok || err != nil || course <= 0 {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_id", "Speciality id and course must be positive integers")
		return
	}
	groups, err := s.deps.Browse.Groups(r.Context(), id, course, r.PathValue("stream"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, groups, &ResponseMeta{TotalCount: len(groups)})
}

func (s *Server) handleSubgroups(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_id", "Group id must be a positive integer")
		return
	}
	subgroups, err := s.deps.Browse.Subgroups(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, subgroups, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN ENDPOINTS
// ══════════════════════════════════════════════════════════════════════════════

// POST /api/v1/sync[?wait=true]
//
// По умолчанию запуск уходит в фон и ответ 202. С wait=true ответ содержит
// итог прогона.
func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	cmd := command.SyncAllCommand{
		Trigger:       command.TriggerHTTP,
		CorrelationID: getRequestID(r.Context()),
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		result, err := s.deps.Sync.SyncAll(r.Context(), cmd)
		if err != nil {
			if result != nil && !errors.Is(err, schedule.ErrSyncInProgress) {
				// листинг упал, но журнал прогона уже есть
				writeJSON(w, r, http.StatusBadGateway, toSyncAllDTO(result), nil)
				return
			}
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, toSyncAllDTO(result), nil)
		return
	}

	if !s.syncing.CompareAndSwap(false, true) {
		writeJSONError(w, r, http.StatusConflict, "sync_in_progress", "A full sync is already running")
		return
	}

	log := logger.FromContext(r.Context())
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		defer s.syncing.Store(false)

		result, err := s.deps.Sync.SyncAll(s.bgCtx, cmd)
		if err != nil {
			log.Warn("background sync failed", logger.Err(err))
			return
		}
		log.Info("background sync finished",
			logger.RunID(result.RunID),
			slog.Int("succeeded", result.Succeeded),
			slog.Int("failed", result.Failed),
		)
	}()

	writeJSON(w, r, http.StatusAccepted, map[string]string{
		"status":         "accepted",
		"correlation_id": cmd.CorrelationID,
	}, nil)
}

// POST /api/v1/sync/{id}
func (s *Server) handleSyncSingle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_id", "Schedule id must be a positive integer")
		return
	}

	result, err := s.deps.Sync.SyncSingle(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toSyncSingleDTO(*result), nil)
}

// SyncSingleDTO - итог синхронизации одного расписания.
type SyncSingleDTO struct {
	ScheduleID  int64  `json:"schedule_id"`
	Groups      int    `json:"groups"`
	Lessons     int    `json:"lessons"`
	SkippedRows int    `json:"skipped_rows"`
	Duration    string `json:"duration"`
}

// SyncAllDTO - итог полного прогона.
type SyncAllDTO struct {
	RunID       string                 `json:"run_id"`
	Trigger     string                 `json:"trigger"`
	Total       int                    `json:"total"`
	Succeeded   int                    `json:"succeeded"`
	Failed      int                    `json:"failed"`
	Lessons     int                    `json:"lessons"`
	SkippedRows int                    `json:"skipped_rows"`
	Duration    string                 `json:"duration"`
	Schedules   []SyncSingleDTO        `json:"schedules"`
	Failures    []schedule.SyncFailure `json:"failures"`
}

func toSyncSingleDTO(r command.SyncSingleResult) SyncSingleDTO {
	return SyncSingleDTO{
		ScheduleID:  r.ScheduleID,
		Groups:      r.Groups,
		Lessons:     r.Lessons,
		SkippedRows: r.SkippedRows,
		Duration:    r.Duration.Round(time.Millisecond).String(),
	}
}

func toSyncAllDTO(r *command.SyncAllResult) SyncAllDTO {
	dto := SyncAllDTO{
		RunID:       r.RunID,
		Trigger:     r.Trigger,
		Total:       r.Total,
		Succeeded:   r.Succeeded,
		Failed:      r.Failed,
		Lessons:     r.Lessons,
		SkippedRows: r.SkippedRows,
		Duration:    r.Duration.Round(time.Millisecond).String(),
		Schedules:   make([]SyncSingleDTO, 0, len(r.Schedules)),
		Failures:    make([]schedule.SyncFailure, 0, len(r.Failures)),
	}
	for _, s := range r.Schedules {
		dto.Schedules = append(dto.Schedules, toSyncSingleDTO(s))
	}
	for _, f := range r.Failures {
		dto.Failures = append(dto.Failures, schedule.SyncFailure{ScheduleID: f.ScheduleID, Message: f.Error()})
	}
	return dto
}

// SyncRunDTO - запись журнала синхронизаций.
type SyncRunDTO struct {
	ID          string                 `json:"id"`
	Trigger     string                 `json:"trigger"`
	Status      string                 `json:"status"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  *time.Time             `json:"finished_at,omitempty"`
	Duration    string                 `json:"duration,omitempty"`
	Total       int                    `json:"total"`
	Succeeded   int                    `json:"succeeded"`
	Failed      int                    `json:"failed"`
	Lessons     int                    `json:"lessons"`
	SkippedRows int                    `json:"skipped_rows"`
	Failures    []schedule.SyncFailure `json:"failures,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// GET /api/v1/sync/runs?limit=20
func (s *Server) handleSyncRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	runs, err := s.deps.Runs.Latest(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	out := make([]SyncRunDTO, 0, len(runs))
	for i := range runs {
		run := &runs[i]
		dto := SyncRunDTO{
			ID:          run.ID,
			Trigger:     run.Trigger,
			Status:      string(run.Status),
			StartedAt:   run.StartedAt,
			FinishedAt:  run.FinishedAt,
			Total:       run.Total,
			Succeeded:   run.Succeeded,
			Failed:      run.Failed,
			Lessons:     run.Lessons,
			SkippedRows: run.SkippedRows,
			Failures:    run.Failures,
			Error:       run.Error,
		}
		if run.FinishedAt != nil {
			dto.Duration = run.Duration().Round(time.Millisecond).String()
		}
		out = append(out, dto)
	}
	writeJSON(w, r, http.StatusOK, out, &ResponseMeta{TotalCount: len(out)})
}

// JobDTO - состояние задачи планировщика.
type JobDTO struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Schedule    string     `json:"schedule"`
	Running     bool       `json:"running"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	RunCount    int64      `json:"run_count"`
	FailCount   int64      `json:"fail_count"`
	LastError   string     `json:"last_error,omitempty"`
}

// GET /api/v1/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.deps.Jobs.ListJobs()
	out := make([]JobDTO, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobDTO(j))
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"jobs":    out,
		"metrics": s.deps.Jobs.Metrics(),
	}, nil)
}

// JobResultDTO - один запуск задачи.
type JobResultDTO struct {
	JobName     string    `json:"job_name"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	Manual      bool      `json:"manual"`
}

// GET /api/v1/jobs/history?limit=
func (s *Server) handleJobHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	history := s.deps.Jobs.GetHistory(limit)
	out := make([]JobResultDTO, 0, len(history))
	// новые первыми
	for i := len(history) - 1; i >= 0; i-- {
		res := history[i]
		dto := JobResultDTO{
			JobName:     res.JobName,
			StartedAt:   res.StartedAt,
			CompletedAt: res.CompletedAt,
			DurationMs:  res.Duration.Milliseconds(),
			Success:     res.Success,
			Manual:      res.Manual,
		}
		if res.Error != nil {
			dto.Error = res.Error.Error()
		}
		out = append(out, dto)
	}
	writeJSON(w, r, http.StatusOK, out, &ResponseMeta{TotalCount: len(out)})
}

// POST /api/v1/jobs/{name}/run
// Задача выполняется в фоне; ответ 202 сразу после запуска.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	info, err := s.deps.Jobs.GetJobInfo(name)
	if errors.Is(err, scheduler.ErrJobNotFound) {
		writeJSONError(w, r, http.StatusNotFound, "job_not_found", "Job "+name+" is not registered")
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if info.Running {
		writeJSONError(w, r, http.StatusConflict, "job_running", "Job "+name+" is already running")
		return
	}

	log := logger.FromContext(r.Context()).With(slog.String("job", name))
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if _, err := s.deps.Jobs.RunNow(s.bgCtx, name); err != nil {
			log.Warn("manual job run failed", logger.Err(err))
			return
		}
		log.Info("manual job run finished")
	}()

	writeJSON(w, r, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"job":    name,
	}, nil)
}

func toJobDTO(j scheduler.JobInfo) JobDTO {
	dto := JobDTO{
		Name:        j.Name,
		Description: j.Description,
		Schedule:    j.Schedule,
		Running:     j.Running,
		RunCount:    j.RunCount,
		FailCount:   j.FailCount,
	}
	if !j.LastRun.IsZero() {
		t := j.LastRun
		dto.LastRun = &t
	}
	if !j.NextRun.IsZero() {
		t := j.NextRun
		dto.NextRun = &t
	}
	if j.LastResult != nil && j.LastResult.Error != nil {
		dto.LastError = j.LastResult.Error.Error()
	}
	return dto
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var syncErr *schedule.SyncError
	switch {
	case errors.Is(err, schedule.ErrSyncInProgress):
		writeJSONError(w, r, http.StatusConflict, "sync_in_progress", "A full sync is already running")
	case shared.IsNotFound(err):
		writeJSONError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &syncErr):
		writeJSONError(w, r, http.StatusBadGateway, "sync_failed", syncErr.Error())
	case errors.Is(err, r.Context().Err()) && r.Context().Err() != nil:
		// клиент ушёл, ответ уже никто не прочитает
		logger.FromContext(r.Context()).Debug("request cancelled", logger.Err(err))
	default:
		logger.FromContext(r.Context()).Error("request failed", logger.Err(err))
		writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}
