package store

import (
	"context"

	"github.com/me/jobsys/pkg/model"
)

// ResultStore archives retired jobs. It is write-once history for
// operators; the scheduler never reads it back.
type ResultStore interface {
	Archive(ctx context.Context, rec model.ArchivedJob) error
	GetResult(ctx context.Context, id int) (*Result, error)
	ListResults(ctx context.Context, opts model.ListOptions) ([]*Result, int, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// Result is an archived job as stored, tagged with the daemon run that
// produced it. Job IDs restart at zero on every run.
type Result struct {
	model.ArchivedJob
	RunID       string `json:"run_id"`
	OutputBytes int    `json:"output_bytes"`
}
