package model

// WorkerState represents the lifecycle state of a Worker goroutine.
type WorkerState string

const (
	WorkerStateRunning  WorkerState = "running"
	WorkerStateStopping WorkerState = "stopping"
	WorkerStateStopped  WorkerState = "stopped"
)

// ValidWorkerTransitions defines the allowed state transitions for Workers.
var ValidWorkerTransitions = map[WorkerState][]WorkerState{
	WorkerStateRunning:  {WorkerStateStopping},
	WorkerStateStopping: {WorkerStateStopped},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s WorkerState) CanTransitionTo(next WorkerState) bool {
	for _, allowed := range ValidWorkerTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// WorkerInfo describes a worker in the pool.
type WorkerInfo struct {
	Name         string      `json:"name"`
	ChannelMask  ChannelMask `json:"channel_mask"`
	State        WorkerState `json:"state"`
	JobsExecuted int64       `json:"jobs_executed"`
	CurrentJob   *int        `json:"current_job,omitempty"`
}

// WorkerRequest is the boundary shape for creating a worker or changing its mask.
type WorkerRequest struct {
	Name     string `json:"name,omitempty"`
	Channels string `json:"channels"`
}
