package jobsystem

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/me/jobsys/pkg/model"
)

// history is the authoritative ledger of every job ever submitted. It is
// only ever locked last, so it may be taken while a set lock is held.
type history struct {
	mu      sync.RWMutex
	entries map[int]*model.HistoryEntry
	order   []int
	counts  map[model.JobStatus]int
	now     func() time.Time
}

func newHistory(now func() time.Time) *history {
	return &history{
		entries: make(map[int]*model.HistoryEntry),
		counts:  make(map[model.JobStatus]int),
		now:     now,
	}
}

// add records a new QUEUED entry.
func (h *history) add(id int, typeName string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if e, ok := h.entries[id]; ok {
		return fmt.Errorf("job %d is %s: %w", id, e.Status, ErrAlreadySubmitted)
	}
	h.entries[id] = &model.HistoryEntry{
		ID:       id,
		Type:     typeName,
		Status:   model.JobStatusQueued,
		QueuedAt: h.now(),
	}
	h.order = append(h.order, id)
	h.counts[model.JobStatusQueued]++
	return nil
}

func (h *history) known(id int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.entries[id]
	return ok
}

func (h *history) status(id int) model.JobStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if e, ok := h.entries[id]; ok {
		return e.Status
	}
	return model.JobStatusNeverSeen
}

// allCompleted reports whether every id is COMPLETED, judged against a
// single consistent snapshot.
func (h *history) allCompleted(ids []int) bool {
	if len(ids) == 0 {
		return true
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range ids {
		e, ok := h.entries[id]
		if !ok || e.Status != model.JobStatusCompleted {
			return false
		}
	}
	return true
}

// transition must be called with h.mu held for writing.
func (h *history) transition(id int, to model.JobStatus) (*model.HistoryEntry, error) {
	e, ok := h.entries[id]
	if !ok {
		return nil, &model.InvalidTransitionError{ID: id, From: model.JobStatusNeverSeen, To: to}
	}
	if !e.Status.CanTransitionTo(to) {
		return nil, &model.InvalidTransitionError{ID: id, From: e.Status, To: to}
	}
	h.counts[e.Status]--
	h.counts[to]++
	e.Status = to
	return e, nil
}

func (h *history) markRunning(id int, worker string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, err := h.transition(id, model.JobStatusRunning)
	if err != nil {
		return err
	}
	now := h.now()
	e.StartedAt = &now
	e.Worker = worker
	return nil
}

// markCompleted flips the status and publishes the output in one step.
func (h *history) markCompleted(id int, output []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, err := h.transition(id, model.JobStatusCompleted)
	if err != nil {
		return err
	}
	now := h.now()
	e.CompletedAt = &now
	e.Output = bytes.Clone(output)
	return nil
}

// markRetired flips the status and returns the archival record.
func (h *history) markRetired(id int) (model.ArchivedJob, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, err := h.transition(id, model.JobStatusRetired)
	if err != nil {
		return model.ArchivedJob{}, err
	}
	now := h.now()
	e.RetiredAt = &now

	rec := model.ArchivedJob{
		ID:        e.ID,
		Type:      e.Type,
		Worker:    e.Worker,
		Output:    bytes.Clone(e.Output),
		QueuedAt:  e.QueuedAt,
		RetiredAt: now,
	}
	if e.CompletedAt != nil {
		rec.CompletedAt = *e.CompletedAt
	}
	return rec, nil
}

// output returns the recorded result once the job is COMPLETED or RETIRED.
func (h *history) output(id int) (model.JobStatus, []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.entries[id]
	if !ok {
		return model.JobStatusNeverSeen, nil
	}
	if !e.Status.IsFinished() {
		return e.Status, nil
	}
	return e.Status, bytes.Clone(e.Output)
}

func (h *history) entry(id int) (model.HistoryEntry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.entries[id]
	if !ok {
		return model.HistoryEntry{}, false
	}
	return copyEntry(e), true
}

func (h *history) summary() model.Summary {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := model.Summary{
		Total:  len(h.order),
		Counts: make(map[model.JobStatus]int, len(h.counts)),
		Jobs:   make([]model.HistoryEntry, 0, len(h.order)),
	}
	for _, st := range model.AllJobStatuses() {
		if st != model.JobStatusNeverSeen {
			s.Counts[st] = h.counts[st]
		}
	}
	for _, id := range h.order {
		s.Jobs = append(s.Jobs, copyEntry(h.entries[id]))
	}
	return s
}

func copyEntry(e *model.HistoryEntry) model.HistoryEntry {
	c := *e
	c.Output = bytes.Clone(e.Output)
	return c
}
