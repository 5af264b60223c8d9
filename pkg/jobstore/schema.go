package jobstore

import (
	"context"
	"database/sql"
	"fmt"
)

const SchemaVersion = 1

// Migrate creates (or upgrades) the job schema in-place.
func Migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS jobs (
			job_id TEXT PRIMARY KEY,
			task_ref TEXT NOT NULL,
			process_id TEXT NOT NULL,
			-- service_id is set only for jobs running on a remote provider.
			service_id TEXT,
			is_workflow INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			progress REAL NOT NULL DEFAULT 0,
			message TEXT,
			created TEXT NOT NULL,
			started TEXT,
			finished TEXT,
			user_id TEXT,
			access TEXT NOT NULL,
			-- notification holds the opaque write-time transform of the contact.
			notification TEXT,
			accept_language TEXT,
			execute_async INTEGER NOT NULL DEFAULT 0,
			context_id TEXT,
			tags TEXT NOT NULL DEFAULT '[]',
			payload TEXT NOT NULL DEFAULT '{}'
		);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_process ON jobs(process_id);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_service ON jobs(service_id);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_user ON jobs(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}
	if current != SchemaVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version=? WHERE id=1`, SchemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
