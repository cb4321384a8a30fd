package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for the archive tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS job_results (
		run_id       TEXT NOT NULL,
		job_id       INTEGER NOT NULL,
		type         TEXT NOT NULL,
		worker       TEXT NOT NULL DEFAULT '',
		output       TEXT NOT NULL DEFAULT 'null',
		queued_at    TEXT NOT NULL,
		completed_at TEXT NOT NULL,
		retired_at   TEXT NOT NULL,
		PRIMARY KEY (run_id, job_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_results_type ON job_results(type)`,
	`CREATE INDEX IF NOT EXISTS idx_job_results_retired_at ON job_results(retired_at)`,
}

// columnAdditions are applied after the base schema. SQLite has no
// ADD COLUMN IF NOT EXISTS, so each one is checked against table_info.
var columnAdditions = []struct {
	table    string
	column   string
	alterSQL string
}{
	{
		table:    "job_results",
		column:   "output_bytes",
		alterSQL: "ALTER TABLE job_results ADD COLUMN output_bytes INTEGER NOT NULL DEFAULT 0",
	},
}

// migrate brings the archive schema up to date. It is safe to run repeatedly.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	for _, add := range columnAdditions {
		if err := addColumnIfNotExists(ctx, db, add.table, add.column, add.alterSQL); err != nil {
			return err
		}
	}
	return nil
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, column) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
