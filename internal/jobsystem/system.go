// Package jobsystem is a concurrent job scheduler. Jobs are submitted into
// a queued set, claimed FIFO by workers whose channel mask overlaps the
// job's once every dependency has COMPLETED, and finally retired by the
// owner, which runs each job's OnRetire hook exactly once.
//
// Locks are always acquired in the order queued, running, completed,
// history. The history lock is never held while taking another.
package jobsystem

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/me/jobsys/internal/metrics"
	"github.com/me/jobsys/pkg/model"
)

// Sink receives the archival record of every retired job.
type Sink interface {
	Archive(ctx context.Context, rec model.ArchivedJob) error
}

// System owns the job sets, the history ledger, the type registry and the
// worker pool.
type System struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	registry *Registry
	history  *history
	sinks    []Sink

	idleMin       time.Duration
	idleMax       time.Duration
	retireTimeout time.Duration
	strict        bool
	now           func() time.Time

	nextID atomic.Int64

	queuedMu sync.Mutex
	queued   []Job

	runningMu sync.Mutex
	running   map[int]Job

	completedMu sync.Mutex
	completed   []Job

	// changed is closed and replaced whenever a job is submitted,
	// completes or retires.
	changedMu sync.Mutex
	changed   chan struct{}

	workersMu sync.Mutex
	workers   map[string]*Worker
	closed    atomic.Bool

	execCtx    context.Context
	cancelExec context.CancelFunc
}

// New creates an empty System with no workers.
func New(logger *slog.Logger, opts ...Option) *System {
	s := &System{
		logger:        logger.With("component", "jobsystem"),
		idleMin:       DefaultIdleMin,
		idleMax:       DefaultIdleMax,
		retireTimeout: DefaultRetireTimeout,
		strict:        true,
		now:           time.Now,
		running:       make(map[int]Job),
		changed:       make(chan struct{}),
		workers:       make(map[string]*Worker),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(nil)
	}
	s.registry = NewRegistry(logger)
	s.history = newHistory(s.now)
	s.execCtx, s.cancelExec = context.WithCancel(context.Background())
	return s
}

// Logger returns the system logger, for job kinds that log.
func (s *System) Logger() *slog.Logger { return s.logger }

// RegisterType installs a factory under name.
func (s *System) RegisterType(name string, f Factory) error {
	return s.registry.Register(name, f)
}

// Types lists the registered job type names.
func (s *System) Types() []string { return s.registry.Types() }

// NewBase allocates a fresh ID and returns a Base for a job of typeName.
// The mask defaults to ChannelAll.
func (s *System) NewBase(typeName string) *Base {
	return &Base{
		id:       int(s.nextID.Add(1) - 1),
		typeName: typeName,
		channels: model.ChannelAll,
	}
}

// CreateJob builds a job of the named type from its serialized input. The
// universal fields jobChannels and dependencies are applied to the Base
// before the factory sees the input.
func (s *System) CreateJob(typeName string, input json.RawMessage) (Job, error) {
	return s.createJob(typeName, input, nil, nil)
}

func (s *System) createJob(typeName string, input json.RawMessage, channels *model.ChannelMask, deps []int) (Job, error) {
	factory, ok := s.registry.Lookup(typeName)
	if !ok {
		s.logger.Warn("job type not found", "type", typeName)
		return nil, fmt.Errorf("create job %q: %w", typeName, ErrUnknownType)
	}

	fields, err := parseUniversal(input)
	if err != nil {
		return nil, fmt.Errorf("create job %q: %w", typeName, err)
	}
	if channels != nil {
		fields.Channels = channels
	}
	if deps != nil {
		fields.Dependencies = deps
	}

	base := s.NewBase(typeName)
	if fields.Channels != nil {
		base.SetChannelMask(*fields.Channels)
	}
	for _, dep := range fields.Dependencies {
		base.AddDependency(dep)
	}
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}

	job, err := factory(base, input)
	if err != nil {
		return nil, fmt.Errorf("create job %q: %w", typeName, err)
	}
	if job == nil || job.ID() != base.ID() {
		return nil, fmt.Errorf("create job %q: factory must return a job built on the supplied base", typeName)
	}
	return job, nil
}

// Submit places job in the queued set and records it as QUEUED.
func (s *System) Submit(job Job) error {
	if job == nil {
		return ErrNilJob
	}
	if s.closed.Load() {
		s.metrics.Rejected.WithLabelValues("shutdown").Inc()
		return fmt.Errorf("submit job %d: %w", job.ID(), ErrShutdown)
	}
	if s.strict {
		for _, dep := range job.Dependencies() {
			if dep != job.ID() && !s.history.known(dep) {
				s.metrics.Rejected.WithLabelValues("unknown_dependency").Inc()
				return fmt.Errorf("submit job %d: dependency %d: %w", job.ID(), dep, ErrUnknownDependency)
			}
		}
	}
	if err := s.history.add(job.ID(), job.Type()); err != nil {
		s.metrics.Rejected.WithLabelValues("duplicate").Inc()
		return fmt.Errorf("submit: %w", err)
	}

	s.queuedMu.Lock()
	s.queued = append(s.queued, job)
	s.queuedMu.Unlock()

	s.metrics.Submitted.WithLabelValues(job.Type()).Inc()
	s.metrics.Jobs.WithLabelValues(model.JobStatusQueued.String()).Inc()
	s.logger.Debug("job submitted", "job_id", job.ID(), "type", job.Type(),
		"channels", job.ChannelMask(), "dependencies", job.Dependencies())
	s.notify()
	return nil
}

// SubmitRequest creates a job from req and submits it, returning its ID.
func (s *System) SubmitRequest(req model.JobRequest) (int, error) {
	job, err := s.createJob(req.Type, req.Input, req.Channels, req.Dependencies)
	if err != nil {
		return -1, err
	}
	if err := s.Submit(job); err != nil {
		return -1, err
	}
	return job.ID(), nil
}

// ClaimJob removes and returns the oldest queued job that mask may run and
// whose dependencies have all COMPLETED, or nil when none qualifies.
func (s *System) ClaimJob(mask model.ChannelMask) Job {
	return s.claim(mask, "")
}

func (s *System) claim(mask model.ChannelMask, worker string) Job {
	s.queuedMu.Lock()
	defer s.queuedMu.Unlock()

	for i, job := range s.queued {
		if !job.ChannelMask().Overlaps(mask) {
			continue
		}
		if !s.history.allCompleted(job.Dependencies()) {
			continue
		}
		s.queued = slices.Delete(s.queued, i, i+1)
		s.markRunning(job, worker)
		return job
	}
	return nil
}

func (s *System) markRunning(job Job, worker string) {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()

	s.running[job.ID()] = job
	if err := s.history.markRunning(job.ID(), worker); err != nil {
		s.logger.Error("history out of step on claim", "job_id", job.ID(), "error", err)
	}
	s.metrics.Claimed.WithLabelValues(job.Type(), worker).Inc()
	s.metrics.Jobs.WithLabelValues(model.JobStatusQueued.String()).Dec()
	s.metrics.Jobs.WithLabelValues(model.JobStatusRunning.String()).Inc()
}

// OnJobCompleted moves job from the running set to the completed set and
// publishes its output. A job that is not running is ignored.
func (s *System) OnJobCompleted(job Job) {
	if job == nil {
		return
	}
	if !s.removeRunning(job.ID()) {
		s.logger.Warn("completion reported for job that is not running", "job_id", job.ID())
		return
	}
	s.markCompleted(job)

	s.metrics.Completed.WithLabelValues(job.Type()).Inc()
	s.metrics.Jobs.WithLabelValues(model.JobStatusRunning.String()).Dec()
	s.metrics.Jobs.WithLabelValues(model.JobStatusCompleted.String()).Inc()
	s.logger.Debug("job completed", "job_id", job.ID(), "type", job.Type())
	s.notify()
}

func (s *System) removeRunning(id int) bool {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	if _, ok := s.running[id]; !ok {
		return false
	}
	delete(s.running, id)
	return true
}

// markCompleted holds the completed lock across the history update so a
// concurrent RetireAll cannot finalize the job before it reads COMPLETED.
func (s *System) markCompleted(job Job) {
	s.completedMu.Lock()
	defer s.completedMu.Unlock()

	s.completed = append(s.completed, job)
	if err := s.history.markCompleted(job.ID(), job.Output()); err != nil {
		s.logger.Error("history out of step on completion", "job_id", job.ID(), "error", err)
	}
}

// RetireOne waits until job id is COMPLETED, then runs its OnRetire hook,
// marks it RETIRED and hands it to the sinks. It fails with ErrNotRetirable
// for jobs that were never submitted or are already retired, and with
// ErrRetireTimeout when ctx or the configured retire timeout expires first.
//
// Dependencies are satisfied only by COMPLETED jobs. Retiring a job before
// all of its dependants have been claimed leaves those dependants queued
// forever.
func (s *System) RetireOne(ctx context.Context, id int) error {
	if s.retireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.retireTimeout)
		defer cancel()
	}

	for {
		wait := s.changedCh()

		switch st := s.history.status(id); st {
		case model.JobStatusNeverSeen, model.JobStatusRetired:
			s.logger.Warn("retire requested for job not awaiting retirement", "job_id", id, "status", st)
			return fmt.Errorf("retire job %d (%s): %w", id, st, ErrNotRetirable)
		case model.JobStatusCompleted:
			if job := s.takeCompleted(id); job != nil {
				s.finalize(context.WithoutCancel(ctx), job)
				return nil
			}
			// Another retirer owns the job; wait for its RETIRED transition.
		}

		select {
		case <-wait:
		case <-ctx.Done():
			return fmt.Errorf("retire job %d: %w: %w", id, ErrRetireTimeout, ctx.Err())
		}
	}
}

func (s *System) takeCompleted(id int) Job {
	s.completedMu.Lock()
	defer s.completedMu.Unlock()
	for i, job := range s.completed {
		if job.ID() == id {
			s.completed = slices.Delete(s.completed, i, i+1)
			return job
		}
	}
	return nil
}

// RetireAll retires every job currently in the completed set and returns
// how many were retired. Jobs completing during the call are left for the
// next call. Cancelling ctx does not abandon a drain in progress: every
// drained job is finalized and archived. As with RetireOne, dependants not
// yet claimed starve once their dependencies are retired.
func (s *System) RetireAll(ctx context.Context) int {
	s.completedMu.Lock()
	drained := s.completed
	s.completed = nil
	s.completedMu.Unlock()

	// The jobs are already out of the completed set; finish them all.
	ctx = context.WithoutCancel(ctx)
	for _, job := range drained {
		s.finalize(ctx, job)
	}
	if len(drained) > 0 {
		s.logger.Info("retired completed jobs", "count", len(drained))
	}
	return len(drained)
}

func (s *System) finalize(ctx context.Context, job Job) {
	if err := runOnRetire(ctx, job); err != nil {
		s.logger.Error("retire hook failed", "job_id", job.ID(), "type", job.Type(), "error", err)
	}

	rec, err := s.history.markRetired(job.ID())
	if err != nil {
		s.logger.Error("history out of step on retire", "job_id", job.ID(), "error", err)
		return
	}
	for _, sink := range s.sinks {
		if err := sink.Archive(ctx, rec); err != nil {
			s.logger.Error("archive retired job", "job_id", job.ID(), "error", err)
		}
	}

	s.metrics.Retired.WithLabelValues(job.Type()).Inc()
	s.metrics.Jobs.WithLabelValues(model.JobStatusCompleted.String()).Dec()
	s.metrics.Jobs.WithLabelValues(model.JobStatusRetired.String()).Inc()
	s.logger.Debug("job retired", "job_id", job.ID(), "type", job.Type())
	s.notify()
}

func runOnRetire(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in OnRetire: %v", r)
		}
	}()
	return job.OnRetire(ctx)
}

// Status returns the lifecycle status of id; NEVER_SEEN for unknown IDs.
func (s *System) Status(id int) model.JobStatus {
	return s.history.status(id)
}

// Output returns the recorded output of id once it is COMPLETED or RETIRED.
func (s *System) Output(id int) (json.RawMessage, bool) {
	st, out := s.history.output(id)
	if !st.IsFinished() {
		return nil, false
	}
	return out, true
}

// Entry returns a copy of the history record for id.
func (s *System) Entry(id int) (model.HistoryEntry, bool) {
	return s.history.entry(id)
}

// Summary returns the per-status counts and every history entry in
// submission order.
func (s *System) Summary() model.Summary {
	return s.history.summary()
}

// Pending returns the number of jobs in the queued, running and completed
// sets, in that order.
func (s *System) Pending() (queued, running, completed int) {
	s.queuedMu.Lock()
	queued = len(s.queued)
	s.queuedMu.Unlock()

	s.runningMu.Lock()
	running = len(s.running)
	s.runningMu.Unlock()

	s.completedMu.Lock()
	completed = len(s.completed)
	s.completedMu.Unlock()
	return queued, running, completed
}

func (s *System) changedCh() <-chan struct{} {
	s.changedMu.Lock()
	defer s.changedMu.Unlock()
	return s.changed
}

func (s *System) notify() {
	s.changedMu.Lock()
	defer s.changedMu.Unlock()
	close(s.changed)
	s.changed = make(chan struct{})
}

