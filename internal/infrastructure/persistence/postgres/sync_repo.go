package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/unischedule/schedule-sync/internal/domain/schedule"
)

// SyncRunRepository implements schedule.SyncRunRepository for PostgreSQL.
type SyncRunRepository struct {
	conn *Connection
}

// NewSyncRunRepository creates a new SyncRunRepository.
func NewSyncRunRepository(conn *Connection) *SyncRunRepository {
	return &SyncRunRepository{conn: conn}
}

var _ schedule.SyncRunRepository = (*SyncRunRepository)(nil)

// Start inserts the run in its initial state.
func (r *SyncRunRepository) Start(ctx context.Context, run *schedule.SyncRun) error {
	query := `
		INSERT INTO sync_runs (id, trigger, status, started_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.conn.Exec(ctx, query, run.ID, run.Trigger, string(run.Status), run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to start sync run: %w", err)
	}
	return nil
}

// Finish stores the totals of a completed run.
func (r *SyncRunRepository) Finish(ctx context.Context, run *schedule.SyncRun) error {
	query := `
		UPDATE sync_runs SET
			status = $1,
			finished_at = $2,
			total = $3,
			succeeded = $4,
			failed = $5,
			lessons = $6,
			skipped_rows = $7,
			failures = $8,
			error = $9
		WHERE id = $10
	`

	failures, err := marshalFailures(run.Failures)
	if err != nil {
		return err
	}

	result, err := r.conn.Exec(ctx, query,
		string(run.Status),
		run.FinishedAt,
		run.Total,
		run.Succeeded,
		run.Failed,
		run.Lessons,
		run.SkippedRows,
		failures,
		run.Error,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish sync run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("sync run %s: %w", run.ID, pgx.ErrNoRows)
	}
	return nil
}

// Latest returns the most recent runs, newest first.
func (r *SyncRunRepository) Latest(ctx context.Context, limit int) ([]schedule.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, trigger, status, started_at, finished_at, total, succeeded,
			   failed, lessons, skipped_rows, failures, error
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT $1
	`

	rows, err := r.conn.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []schedule.SyncRun
	for rows.Next() {
		var (
			run          schedule.SyncRun
			id, status   string
			failuresJSON []byte
		)
		err := rows.Scan(
			&id,
			&run.Trigger,
			&status,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Total,
			&run.Succeeded,
			&run.Failed,
			&run.Lessons,
			&run.SkippedRows,
			&failuresJSON,
			&run.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}

		run.ID = id
		run.Status = schedule.SyncRunStatus(status)
		if len(failuresJSON) > 0 {
			if err := json.Unmarshal(failuresJSON, &run.Failures); err != nil {
				return nil, fmt.Errorf("failed to decode failures of run %s: %w", id, err)
			}
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func marshalFailures(failures []schedule.SyncFailure) ([]byte, error) {
	if failures == nil {
		failures = []schedule.SyncFailure{}
	}
	b, err := json.Marshal(failures)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal failures: %w", err)
	}
	return b, nil
}
