package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/unischedule/schedule-sync/internal/domain/schedule"
)

// SyncRunRepository implements schedule.SyncRunRepository on SQLite.
type SyncRunRepository struct {
	db *DB
}

// NewSyncRunRepository creates a new SyncRunRepository.
func NewSyncRunRepository(db *DB) *SyncRunRepository {
	return &SyncRunRepository{db: db}
}

var _ schedule.SyncRunRepository = (*SyncRunRepository)(nil)

func (r *SyncRunRepository) Start(ctx context.Context, run *schedule.SyncRun) error {
	_, err := r.db.db.ExecContext(ctx,
		`INSERT INTO sync_runs(id, trigger, status, started_at) VALUES(?,?,?,?)`,
		run.ID, run.Trigger, string(run.Status), formatTimestamp(run.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("start sync run: %w", err)
	}
	return nil
}

func (r *SyncRunRepository) Finish(ctx context.Context, run *schedule.SyncRun) error {
	failures := run.Failures
	if failures == nil {
		failures = []schedule.SyncFailure{}
	}
	failuresJSON, err := json.Marshal(failures)
	if err != nil {
		return fmt.Errorf("marshal failures: %w", err)
	}

	var finishedAt any
	if run.FinishedAt != nil {
		finishedAt = formatTimestamp(*run.FinishedAt)
	}

	res, err := r.db.db.ExecContext(ctx,
		`UPDATE sync_runs SET status=?, finished_at=?, total=?, succeeded=?, failed=?,
		   lessons=?, skipped_rows=?, failures=?, error=?
		 WHERE id=?`,
		string(run.Status), finishedAt, run.Total, run.Succeeded, run.Failed,
		run.Lessons, run.SkippedRows, string(failuresJSON), run.Error, run.ID,
	)
	if err != nil {
		return fmt.Errorf("finish sync run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sync run %s: %w", run.ID, sql.ErrNoRows)
	}
	return nil
}

func (r *SyncRunRepository) Latest(ctx context.Context, limit int) ([]schedule.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.db.QueryContext(ctx,
		`SELECT id, trigger, status, started_at, finished_at, total, succeeded, failed,
		        lessons, skipped_rows, failures, error
		 FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []schedule.SyncRun
	for rows.Next() {
		var (
			run               schedule.SyncRun
			status, startedAt string
			finishedAt        sql.NullString
			failuresJSON      string
		)
		err := rows.Scan(&run.ID, &run.Trigger, &status, &startedAt, &finishedAt,
			&run.Total, &run.Succeeded, &run.Failed, &run.Lessons, &run.SkippedRows,
			&failuresJSON, &run.Error)
		if err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}

		run.Status = schedule.SyncRunStatus(status)
		if run.StartedAt, err = parseTimestamp(startedAt); err != nil {
			return nil, fmt.Errorf("sync run %s started_at: %w", run.ID, err)
		}
		if finishedAt.Valid {
			t, err := parseTimestamp(finishedAt.String)
			if err != nil {
				return nil, fmt.Errorf("sync run %s finished_at: %w", run.ID, err)
			}
			run.FinishedAt = &t
		}
		if err := json.Unmarshal([]byte(failuresJSON), &run.Failures); err != nil {
			return nil, fmt.Errorf("sync run %s failures: %w", run.ID, err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
