// Package command contains write operations (CQRS - Commands).
// Commands change the state of the system: here, pulling schedules from the
// source API and writing them into the store.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/unischedule/schedule-sync/internal/domain/schedule"
	"github.com/unischedule/schedule-sync/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC SCHEDULES COMMAND
// Listing → (Fetching → Parsing → Persisting)* → Done.
// Один упавший элемент не прерывает прогон.
// ══════════════════════════════════════════════════════════════════════════════

// Trigger values recorded in the sync run journal.
const (
	TriggerStartup   = "startup"
	TriggerScheduler = "scheduler"
	TriggerHTTP      = "http"
	TriggerCLI       = "cli"
)

// LockResource is the name of the distributed lock guarding SyncAll.
const LockResource = "sync_all"

// SyncAllCommand triggers synchronization of every schedule the source lists.
type SyncAllCommand struct {
	// Trigger is stored in the run journal ("scheduler", "http", ...).
	Trigger string

	// CorrelationID for tracing.
	CorrelationID string
}

// SyncSingleResult contains the result of one schedule's synchronization.
type SyncSingleResult struct {
	ScheduleID  int64
	Groups      int
	Lessons     int
	SkippedRows int
	Duration    time.Duration
}

// SyncAllResult contains the result of a full run.
type SyncAllResult struct {
	// RunID is the uuid of the sync_runs record.
	RunID   string
	Trigger string

	Total       int
	Succeeded   int
	Failed      int
	Lessons     int
	SkippedRows int

	// Schedules holds per-schedule stats of successful schedules, in listing order.
	Schedules []SyncSingleResult

	// Failures holds one SyncError per failed schedule, in listing order.
	Failures []*schedule.SyncError

	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// ScheduleSource is the upstream schedule API.
type ScheduleSource interface {
	// ListSchedules returns every schedule summary.
	ListSchedules(ctx context.Context) ([]schedule.ScheduleSummary, error)

	// GetScheduleDetails returns (nil, nil) when the payload is unusable.
	GetScheduleDetails(ctx context.Context, id int64) (*schedule.RawSchedule, error)
}

// CacheInvalidator drops read-side caches after a sync.
type CacheInvalidator interface {
	InvalidateSchedules(ctx context.Context) error
}

// Locker hands out non-blocking distributed locks.
type Locker interface {
	TryLock(ctx context.Context, resource string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// SyncSchedulesConfig contains configuration for the handler.
type SyncSchedulesConfig struct {
	// Concurrency is how many schedules are processed at once. Default 1.
	Concurrency int

	// LockTTL bounds how long a crashed worker can hold the sync lock.
	LockTTL time.Duration

	// Parser overrides the default (lenient) parser.
	Parser *schedule.Parser

	Logger *slog.Logger

	// Now is injectable for tests.
	Now func() time.Time
}

// SyncSchedulesHandler handles SyncAll and SyncSingle.
type SyncSchedulesHandler struct {
	source ScheduleSource
	store  schedule.Store
	runs   schedule.SyncRunRepository // optional
	cache  CacheInvalidator           // optional
	locker Locker                     // optional

	parser      *schedule.Parser
	concurrency int
	lockTTL     time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewSyncSchedulesHandler creates a new handler. runs, cache and locker may be nil.
func NewSyncSchedulesHandler(
	source ScheduleSource,
	store schedule.Store,
	runs schedule.SyncRunRepository,
	cache CacheInvalidator,
	locker Locker,
	config SyncSchedulesConfig,
) *SyncSchedulesHandler {
	log := logger.OrDefault(config.Logger).With(logger.Component("sync"))

	concurrency := config.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	lockTTL := config.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Minute
	}

	parser := config.Parser
	if parser == nil {
		parser = schedule.NewParser(log)
	}

	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &SyncSchedulesHandler{
		source:      source,
		store:       store,
		runs:        runs,
		cache:       cache,
		locker:      locker,
		parser:      parser,
		concurrency: concurrency,
		lockTTL:     lockTTL,
		logger:      log,
		now:         now,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// SyncAll
// ─────────────────────────────────────────────────────────────────────────────

// SyncAll synchronizes every listed schedule.
//
// A listing failure returns a *schedule.SyncError together with the (empty)
// result. Per-schedule failures are collected in the result and are not
// returned as an error. schedule.ErrSyncInProgress means another worker holds
// the lock.
func (h *SyncSchedulesHandler) SyncAll(ctx context.Context, cmd SyncAllCommand) (*SyncAllResult, error) {
	if cmd.Trigger == "" {
		cmd.Trigger = TriggerCLI
	}

	if h.locker != nil {
		unlock, ok, err := h.locker.TryLock(ctx, LockResource, h.lockTTL)
		switch {
		case err != nil:
			// Redis down: run unlocked
			h.logger.Warn("sync lock unavailable, running unlocked", logger.Err(err))
		case !ok:
			return nil, schedule.ErrSyncInProgress
		default:
			defer func() {
				if err := unlock(context.WithoutCancel(ctx)); err != nil {
					h.logger.Warn("failed to release sync lock", logger.Err(err))
				}
			}()
		}
	}

	result := &SyncAllResult{
		RunID:     uuid.NewString(),
		Trigger:   cmd.Trigger,
		StartedAt: h.now(),
	}
	log := h.logger.With(logger.RunID(result.RunID), "trigger", cmd.Trigger)
	if cmd.CorrelationID != "" {
		log = log.With("correlation_id", cmd.CorrelationID)
	}

	run := &schedule.SyncRun{
		ID:        result.RunID,
		Trigger:   cmd.Trigger,
		Status:    schedule.SyncRunRunning,
		StartedAt: result.StartedAt,
	}
	h.startRun(ctx, log, run)

	log.Info("schedule sync started")

	summaries, err := h.source.ListSchedules(ctx)
	if err != nil {
		syncErr := schedule.NewSyncError(0, "failed to list schedules", err)
		h.complete(result)
		run.Complete(result.CompletedAt, syncErr)
		h.finishRun(ctx, log, run)
		log.Error("schedule listing failed", logger.Err(err), logger.Latency(result.Duration))
		return result, syncErr
	}

	result.Total = len(summaries)
	h.syncMany(ctx, summaries, result)
	h.complete(result)

	if len(result.Failures) > 0 {
		ids := make([]int64, 0, len(result.Failures))
		for _, f := range result.Failures {
			ids = append(ids, f.ScheduleID)
		}
		log.Warn("some schedules failed to sync",
			"failed", result.Failed,
			"schedule_ids", ids,
		)
		for _, f := range result.Failures {
			log.Debug("schedule sync failure", logger.ScheduleID(f.ScheduleID), logger.Err(f))
		}
	}

	if result.Succeeded > 0 && h.cache != nil {
		if err := h.cache.InvalidateSchedules(ctx); err != nil {
			log.Warn("failed to invalidate schedule cache", logger.Err(err))
		}
	}

	run.Total = result.Total
	run.Succeeded = result.Succeeded
	run.Failed = result.Failed
	run.Lessons = result.Lessons
	run.SkippedRows = result.SkippedRows
	for _, f := range result.Failures {
		run.Failures = append(run.Failures, schedule.SyncFailure{ScheduleID: f.ScheduleID, Message: f.Error()})
	}
	run.Complete(result.CompletedAt, nil)
	h.finishRun(ctx, log, run)

	log.Info("schedule sync finished",
		"status", string(run.Status),
		"total", result.Total,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"lessons", result.Lessons,
		"skipped_rows", result.SkippedRows,
		logger.Latency(result.Duration),
	)

	return result, nil
}

// syncMany runs SyncSingle over summaries with at most h.concurrency in flight.
func (h *SyncSchedulesHandler) syncMany(ctx context.Context, summaries []schedule.ScheduleSummary, result *SyncAllResult) {
	type item struct {
		index int
		res   *SyncSingleResult
		err   error
	}

	sem := make(chan struct{}, h.concurrency)
	results := make(chan item, len(summaries))
	outcomes := make([]item, len(summaries))

	launched := 0
dispatch:
	for i, s := range summaries {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		}
		launched++

		go func(i int, id int64) {
			defer func() { <-sem }()
			res, err := h.SyncSingle(ctx, id)
			results <- item{index: i, res: res, err: err}
		}(i, s.ID)
	}

	for n := 0; n < launched; n++ {
		r := <-results
		outcomes[r.index] = r
	}
	for i := launched; i < len(summaries); i++ {
		outcomes[i] = item{index: i, err: schedule.NewSyncError(summaries[i].ID, "sync cancelled", ctx.Err())}
	}

	for i, o := range outcomes {
		if o.err != nil {
			result.Failed++
			result.Failures = append(result.Failures, asSyncError(summaries[i].ID, o.err))
			continue
		}
		result.Succeeded++
		result.Lessons += o.res.Lessons
		result.SkippedRows += o.res.SkippedRows
		result.Schedules = append(result.Schedules, *o.res)
	}
}

func (h *SyncSchedulesHandler) complete(result *SyncAllResult) {
	result.CompletedAt = h.now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
}

// ─────────────────────────────────────────────────────────────────────────────
// SyncSingle
// ─────────────────────────────────────────────────────────────────────────────

// SyncSingle fetches, parses and persists one schedule in one transaction.
// Every failure is returned as *schedule.SyncError.
func (h *SyncSchedulesHandler) SyncSingle(ctx context.Context, scheduleID int64) (*SyncSingleResult, error) {
	started := h.now()
	log := h.logger.With(logger.ScheduleID(scheduleID))

	raw, err := h.source.GetScheduleDetails(ctx, scheduleID)
	if err != nil {
		return nil, schedule.NewSyncError(scheduleID, fmt.Sprintf("failed to fetch schedule %d", scheduleID), err)
	}
	if raw == nil {
		return nil, schedule.NewSyncError(scheduleID, fmt.Sprintf("failed to fetch schedule %d", scheduleID), schedule.ErrScheduleNotFound)
	}

	parsed, err := h.parser.Parse(raw)
	if err != nil {
		return nil, schedule.NewSyncError(scheduleID, fmt.Sprintf("failed to parse schedule %d", scheduleID), err)
	}

	var lessons int
	err = h.store.WithinTx(ctx, func(ctx context.Context, w schedule.Writer) error {
		n, err := persistSchedule(ctx, w, parsed)
		lessons = n
		return err
	})
	if err != nil {
		return nil, schedule.NewSyncError(scheduleID, fmt.Sprintf("failed to persist schedule %d", scheduleID), err)
	}

	res := &SyncSingleResult{
		ScheduleID:  scheduleID,
		Groups:      len(parsed.Groups),
		Lessons:     lessons,
		SkippedRows: parsed.SkippedRows,
		Duration:    h.now().Sub(started),
	}

	log.Info("schedule synced",
		"groups", res.Groups,
		"lessons", res.Lessons,
		"skipped_rows", res.SkippedRows,
		logger.Latency(res.Duration),
	)
	return res, nil
}

// persistSchedule writes speciality → group → subgroup → lessons for each
// parsed subgroup and returns the number of lesson rows written.
func persistSchedule(ctx context.Context, w schedule.Writer, parsed *schedule.ParsedSchedule) (int, error) {
	total := 0
	for i := range parsed.Groups {
		g := &parsed.Groups[i]

		sp := g.Speciality()
		specialityID, err := w.UpsertSpeciality(ctx, &sp)
		if err != nil {
			return total, fmt.Errorf("upsert speciality %q: %w", sp.FullName, err)
		}

		groupID, err := w.UpsertGroup(ctx, &schedule.Group{
			SpecialityID: specialityID,
			CourseNumber: g.CourseNumber,
			Stream:       g.Stream,
			Name:         g.GroupName,
		})
		if err != nil {
			return total, fmt.Errorf("upsert group %q: %w", g.GroupName, err)
		}

		subgroupID, err := w.UpsertSubgroup(ctx, &schedule.Subgroup{GroupID: groupID, Name: g.SubgroupName})
		if err != nil {
			return total, fmt.Errorf("upsert subgroup %q: %w", g.SubgroupName, err)
		}

		n, err := w.UpsertLessons(ctx, subgroupID, g.Lessons())
		if err != nil {
			return total, fmt.Errorf("upsert lessons of subgroup %q: %w", g.SubgroupName, err)
		}
		total += n
	}
	return total, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Run journal
// Ошибки журнала не роняют синхронизацию.
// ─────────────────────────────────────────────────────────────────────────────

func (h *SyncSchedulesHandler) startRun(ctx context.Context, log *slog.Logger, run *schedule.SyncRun) {
	if h.runs == nil {
		return
	}
	if err := h.runs.Start(ctx, run); err != nil {
		log.Warn("failed to record sync run start", logger.Err(err))
	}
}

func (h *SyncSchedulesHandler) finishRun(ctx context.Context, log *slog.Logger, run *schedule.SyncRun) {
	if h.runs == nil {
		return
	}
	if err := h.runs.Finish(context.WithoutCancel(ctx), run); err != nil {
		log.Warn("failed to record sync run result", logger.Err(err))
	}
}

func asSyncError(scheduleID int64, err error) *schedule.SyncError {
	var syncErr *schedule.SyncError
	if errors.As(err, &syncErr) {
		return syncErr
	}
	return schedule.NewSyncError(scheduleID, fmt.Sprintf("failed to sync schedule %d", scheduleID), err)
}
