package model

import (
	"fmt"
	"strings"
)

// JobStatus represents the lifecycle state of a Job as recorded in history.
type JobStatus int

const (
	JobStatusNeverSeen JobStatus = iota
	JobStatusQueued
	JobStatusRunning
	JobStatusCompleted
	JobStatusRetired

	numJobStatuses
)

var jobStatusNames = [numJobStatuses]string{
	JobStatusNeverSeen: "NEVER_SEEN",
	JobStatusQueued:    "QUEUED",
	JobStatusRunning:   "RUNNING",
	JobStatusCompleted: "COMPLETED",
	JobStatusRetired:   "RETIRED",
}

// AllJobStatuses lists every status in lifecycle order.
func AllJobStatuses() []JobStatus {
	return []JobStatus{
		JobStatusNeverSeen,
		JobStatusQueued,
		JobStatusRunning,
		JobStatusCompleted,
		JobStatusRetired,
	}
}

// String returns the string representation of the job status.
func (s JobStatus) String() string {
	if s < 0 || s >= numJobStatuses {
		return fmt.Sprintf("JobStatus(%d)", int(s))
	}
	return jobStatusNames[s]
}

// IsFinished returns true once the job's output is available (COMPLETED or RETIRED).
func (s JobStatus) IsFinished() bool {
	return s == JobStatusCompleted || s == JobStatusRetired
}

// ValidJobTransitions defines the allowed state transitions for Jobs.
// The lifecycle is strictly linear.
var ValidJobTransitions = map[JobStatus]JobStatus{
	JobStatusNeverSeen: JobStatusQueued,
	JobStatusQueued:    JobStatusRunning,
	JobStatusRunning:   JobStatusCompleted,
	JobStatusCompleted: JobStatusRetired,
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	allowed, ok := ValidJobTransitions[s]
	return ok && allowed == next
}

// MarshalText encodes the status as its upper-case name.
func (s JobStatus) MarshalText() ([]byte, error) {
	if s < 0 || s >= numJobStatuses {
		return nil, fmt.Errorf("invalid job status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes an upper-case (or lower-case) status name.
func (s *JobStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseJobStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseJobStatus converts a status name to a JobStatus.
func ParseJobStatus(name string) (JobStatus, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for i, n := range jobStatusNames {
		if n == name {
			return JobStatus(i), nil
		}
	}
	return JobStatusNeverSeen, fmt.Errorf("unknown job status %q", name)
}
