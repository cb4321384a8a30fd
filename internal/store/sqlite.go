package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/me/jobsys/pkg/model"

	_ "modernc.org/sqlite"
)

// timeFormat keeps a fixed fraction width so stored timestamps sort
// lexically in time order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements ResultStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	runID  string
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath. Results
// are recorded under runID; an empty runID gets a generated one.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath, runID string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	if runID == "" {
		runID = uuid.New().String()
	}
	return &SQLiteStore{
		db:     db,
		runID:  runID,
		logger: logger.With("component", "store", "run_id", runID),
	}, nil
}

// RunID identifies the results written through this store.
func (s *SQLiteStore) RunID() string { return s.runID }

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// Archive records a retired job. Archiving the same job twice keeps the
// latest record.
func (s *SQLiteStore) Archive(ctx context.Context, rec model.ArchivedJob) error {
	s.logger.Debug("sql", "op", "upsert", "table", "job_results", "job_id", rec.ID)

	output := string(rec.Output)
	if len(rec.Output) == 0 {
		output = "null"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_results (run_id, job_id, type, worker, output, output_bytes, queued_at, completed_at, retired_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, job_id) DO UPDATE SET
		   type = excluded.type, worker = excluded.worker, output = excluded.output,
		   output_bytes = excluded.output_bytes, queued_at = excluded.queued_at,
		   completed_at = excluded.completed_at, retired_at = excluded.retired_at`,
		s.runID, rec.ID, rec.Type, rec.Worker, output, len(rec.Output),
		rec.QueuedAt.UTC().Format(timeFormat),
		rec.CompletedAt.UTC().Format(timeFormat),
		rec.RetiredAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("archive job %d: %w", rec.ID, err)
	}
	return nil
}

// GetResult returns the archived record of job id from this run, or nil
// if it was never archived.
func (s *SQLiteStore) GetResult(ctx context.Context, id int) (*Result, error) {
	s.logger.Debug("sql", "op", "get", "table", "job_results", "job_id", id)

	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, job_id, type, worker, output, output_bytes, queued_at, completed_at, retired_at
		 FROM job_results WHERE run_id = ? AND job_id = ?`, s.runID, id)
	r, err := scanResult(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListResults returns archived results of this run, most recently retired
// first, and the total matching count.
func (s *SQLiteStore) ListResults(ctx context.Context, opts model.ListOptions) ([]*Result, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "job_results", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	where := "WHERE run_id = ?"
	args := []any{s.runID}
	if opts.Type != "" {
		where += " AND type = ?"
		args = append(args, opts.Type)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_results `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, job_id, type, worker, output, output_bytes, queued_at, completed_at, retired_at
		 FROM job_results `+where+` ORDER BY retired_at DESC, job_id DESC LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(row scanner) (*Result, error) {
	var r Result
	var output, queuedAt, completedAt, retiredAt string
	if err := row.Scan(&r.RunID, &r.ID, &r.Type, &r.Worker, &output, &r.OutputBytes,
		&queuedAt, &completedAt, &retiredAt); err != nil {
		return nil, err
	}
	if !json.Valid([]byte(output)) {
		return nil, fmt.Errorf("job %d: stored output is not valid JSON", r.ID)
	}
	r.Output = json.RawMessage(output)
	r.QueuedAt, _ = time.Parse(time.RFC3339Nano, queuedAt)
	r.CompletedAt, _ = time.Parse(time.RFC3339Nano, completedAt)
	r.RetiredAt, _ = time.Parse(time.RFC3339Nano, retiredAt)
	return &r, nil
}
