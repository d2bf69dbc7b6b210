package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// ErrMigrationFailed indicates a migration failure.
var ErrMigrationFailed = errors.New("postgres: migration failed")

// migrationLockID is the pg_advisory_xact_lock key; several workers starting
// at once apply each migration exactly once.
const migrationLockID int64 = 0x5c4ed5c

// Migration is one embedded schema change.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// Migrator applies embedded migrations in version order.
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

// NewMigrator creates a migrator over GetMigrations().
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: GetMigrations()}
}

// Migrate applies every pending migration, each in its own transaction
// under an advisory lock. Returns how many were applied.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if _, err := m.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`); err != nil {
		return 0, fmt.Errorf("%w: create schema_migrations: %v", ErrMigrationFailed, err)
	}

	applied := 0
	for _, mig := range m.migrations {
		if mig.UpSQL == "" {
			return applied, fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}

		done := false
		err := m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
				return err
			}

			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, mig.Version,
			).Scan(&exists); err != nil {
				return err
			}
			if exists {
				return nil
			}

			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name,
			); err != nil {
				return err
			}
			done = true
			return nil
		})
		if err != nil {
			return applied, fmt.Errorf("%w: version %d (%s): %v", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
		if done {
			applied++
		}
	}
	return applied, nil
}

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_schedule", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_sync_runs", UpSQL: migration002Up, DownSQL: migration002Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE SCHEDULE
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create schedule tables
-- Version: 001

CREATE TABLE IF NOT EXISTS specialities (
    id BIGSERIAL PRIMARY KEY,
    code VARCHAR(10) NOT NULL DEFAULT '',
    full_name VARCHAR(350) NOT NULL,
    clean_name VARCHAR(256) NOT NULL,
    level VARCHAR(20),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT uq_specialities_full_name UNIQUE (full_name),
    CONSTRAINT valid_level CHECK (level IS NULL OR level IN ('bachelor', 'specialist', 'master', 'residency'))
);

CREATE TABLE IF NOT EXISTS groups (
    id BIGSERIAL PRIMARY KEY,
    speciality_id BIGINT NOT NULL REFERENCES specialities(id) ON DELETE CASCADE,
    course_number INTEGER NOT NULL,
    stream VARCHAR(10) NOT NULL,
    name VARCHAR(20) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT uq_groups_structure UNIQUE (speciality_id, course_number, stream, name)
);

CREATE INDEX IF NOT EXISTS idx_groups_speciality_course ON groups(speciality_id, course_number);

CREATE TABLE IF NOT EXISTS subgroups (
    id BIGSERIAL PRIMARY KEY,
    group_id BIGINT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
    name VARCHAR(20) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT uq_subgroups_group_name UNIQUE (group_id, name)
);

CREATE TABLE IF NOT EXISTS lessons (
    id BIGSERIAL PRIMARY KEY,
    subgroup_id BIGINT NOT NULL REFERENCES subgroups(id) ON DELETE CASCADE,
    subject VARCHAR(255) NOT NULL,
    lesson_type VARCHAR(20) NOT NULL,
    date DATE NOT NULL,
    start_time TIME NOT NULL,
    end_time TIME NOT NULL,
    teacher VARCHAR(255),
    address VARCHAR(255),
    room VARCHAR(100),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT uq_lessons_slot UNIQUE (subgroup_id, date, start_time, subject),
    CONSTRAINT valid_lesson_type CHECK (lesson_type IN ('lecture', 'seminar')),
    CONSTRAINT valid_lesson_time CHECK (start_time < end_time)
);

CREATE INDEX IF NOT EXISTS idx_lessons_subgroup_date ON lessons(subgroup_id, date);

CREATE OR REPLACE FUNCTION touch_updated_at()
RETURNS TRIGGER AS $$
BEGIN
    NEW.updated_at = NOW();
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_specialities_updated_at ON specialities;
CREATE TRIGGER trg_specialities_updated_at
    BEFORE UPDATE ON specialities
    FOR EACH ROW
    EXECUTE FUNCTION touch_updated_at();

DROP TRIGGER IF EXISTS trg_lessons_updated_at ON lessons;
CREATE TRIGGER trg_lessons_updated_at
    BEFORE UPDATE ON lessons
    FOR EACH ROW
    EXECUTE FUNCTION touch_updated_at();
`

const migration001Down = `
DROP TRIGGER IF EXISTS trg_lessons_updated_at ON lessons;
DROP TRIGGER IF EXISTS trg_specialities_updated_at ON specialities;
DROP FUNCTION IF EXISTS touch_updated_at();
DROP TABLE IF EXISTS lessons;
DROP TABLE IF EXISTS subgroups;
DROP TABLE IF EXISTS groups;
DROP TABLE IF EXISTS specialities;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE SYNC RUNS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create sync_runs table
-- Version: 002

CREATE TABLE IF NOT EXISTS sync_runs (
    id UUID PRIMARY KEY,
    trigger VARCHAR(30) NOT NULL,
    status VARCHAR(20) NOT NULL,
    started_at TIMESTAMP WITH TIME ZONE NOT NULL,
    finished_at TIMESTAMP WITH TIME ZONE,
    total INTEGER NOT NULL DEFAULT 0,
    succeeded INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    lessons INTEGER NOT NULL DEFAULT 0,
    skipped_rows INTEGER NOT NULL DEFAULT 0,
    failures JSONB NOT NULL DEFAULT '[]'::jsonb,
    error TEXT NOT NULL DEFAULT '',

    CONSTRAINT valid_run_status CHECK (status IN ('running', 'completed', 'partial', 'failed'))
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at DESC);
`

const migration002Down = `
DROP TABLE IF EXISTS sync_runs;
`
