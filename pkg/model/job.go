package model

import (
	"encoding/json"
	"time"
)

// HistoryEntry is the ledger record for one submitted job.
type HistoryEntry struct {
	ID     int             `json:"id"`
	Type   string          `json:"type"`
	Status JobStatus       `json:"status"`
	Worker string          `json:"worker,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`

	QueuedAt    time.Time  `json:"queued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RetiredAt   *time.Time `json:"retired_at,omitempty"`
}

// Summary is a point-in-time view of the whole history.
type Summary struct {
	Total  int               `json:"total"`
	Counts map[JobStatus]int `json:"counts"`
	Jobs   []HistoryEntry    `json:"jobs"`
}

// JobRequest is the boundary shape for submitting a job by type name.
// Channels and Dependencies, when set, override the universal fields found
// in Input.
type JobRequest struct {
	Type         string          `json:"type"`
	Input        json.RawMessage `json:"input,omitempty"`
	Channels     *ChannelMask    `json:"channels,omitempty"`
	Dependencies []int           `json:"dependencies,omitempty"`
}

// SubmitResponse is returned after a successful submission.
type SubmitResponse struct {
	ID     int       `json:"id"`
	Type   string    `json:"type"`
	Status JobStatus `json:"status"`
}

// ArchivedJob is the record handed to result sinks when a job is retired.
type ArchivedJob struct {
	ID          int             `json:"id"`
	Type        string          `json:"type"`
	Worker      string          `json:"worker,omitempty"`
	Output      json.RawMessage `json:"output"`
	QueuedAt    time.Time       `json:"queued_at"`
	CompletedAt time.Time       `json:"completed_at"`
	RetiredAt   time.Time       `json:"retired_at"`
}
