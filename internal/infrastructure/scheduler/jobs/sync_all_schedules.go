// Package jobs contains the scheduled jobs of the schedule service.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unischedule/schedule-sync/internal/application/command"
	"github.com/unischedule/schedule-sync/internal/domain/schedule"
	"github.com/unischedule/schedule-sync/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC ALL SCHEDULES JOB
// ══════════════════════════════════════════════════════════════════════════════

// SyncAllSchedulesJobName is the registered name of the job.
const SyncAllSchedulesJobName = "sync_all_schedules"

// Syncer runs a full synchronization. Implemented by command.SyncSchedulesHandler.
type Syncer interface {
	SyncAll(ctx context.Context, cmd command.SyncAllCommand) (*command.SyncAllResult, error)
}

// SyncAllSchedulesConfig contains configuration for the sync job.
type SyncAllSchedulesConfig struct {
	// Timeout is the maximum duration of one full run.
	Timeout time.Duration
}

// DefaultSyncAllSchedulesConfig returns sensible defaults.
func DefaultSyncAllSchedulesConfig() SyncAllSchedulesConfig {
	return SyncAllSchedulesConfig{Timeout: 30 * time.Minute}
}

// SyncAllSchedulesJob pulls every schedule from the source API.
//
// A run is a failure only when the listing fails: individual schedule
// failures are recorded in the run journal and in LastRunStats.
type SyncAllSchedulesJob struct {
	syncer Syncer
	logger *slog.Logger
	config SyncAllSchedulesConfig

	lastStats atomic.Pointer[command.SyncAllResult]
}

// NewSyncAllSchedulesJob creates a new sync job.
func NewSyncAllSchedulesJob(syncer Syncer, log *slog.Logger, config SyncAllSchedulesConfig) *SyncAllSchedulesJob {
	if config.Timeout <= 0 {
		config.Timeout = DefaultSyncAllSchedulesConfig().Timeout
	}
	return &SyncAllSchedulesJob{
		syncer: syncer,
		logger: logger.OrDefault(log).With("job", SyncAllSchedulesJobName),
		config: config,
	}
}

// Name returns the job name.
func (j *SyncAllSchedulesJob) Name() string {
	return SyncAllSchedulesJobName
}

// Description returns a human-readable description.
func (j *SyncAllSchedulesJob) Description() string {
	return "Synchronizes every schedule from the source API into the store"
}

// Run executes the job on behalf of the scheduler.
func (j *SyncAllSchedulesJob) Run(ctx context.Context) error {
	return j.RunWithTrigger(ctx, command.TriggerScheduler)
}

// RunWithTrigger executes a full run recorded under trigger.
// A run skipped because another worker holds the lock is not an error.
func (j *SyncAllSchedulesJob) RunWithTrigger(ctx context.Context, trigger string) error {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	result, err := j.syncer.SyncAll(ctx, command.SyncAllCommand{Trigger: trigger})
	if errors.Is(err, schedule.ErrSyncInProgress) {
		j.logger.Info("sync already running elsewhere, skipping")
		return nil
	}
	if result != nil {
		j.lastStats.Store(result)
	}
	if err != nil {
		return fmt.Errorf("sync_all_schedules: %w", err)
	}
	return nil
}

// LastRunStats returns the result of the last completed run, or nil.
func (j *SyncAllSchedulesJob) LastRunStats() *command.SyncAllResult {
	return j.lastStats.Load()
}
