package jobsystem

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/me/jobsys/pkg/model"
)

// Worker is a goroutine that repeatedly claims a job whose channel mask
// overlaps its own, executes it and reports completion.
type Worker struct {
	name   string
	sys    *System
	logger *slog.Logger

	mask     atomic.Uint32
	executed atomic.Int64
	current  atomic.Int64

	mu    sync.Mutex
	state model.WorkerState

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newWorker(sys *System, name string, mask model.ChannelMask) *Worker {
	w := &Worker{
		name:   name,
		sys:    sys,
		logger: sys.logger.With("component", "worker", "worker", name),
		state:  model.WorkerStateRunning,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	w.mask.Store(uint32(mask))
	w.current.Store(-1)
	return w
}

// Name returns the worker's unique name.
func (w *Worker) Name() string { return w.name }

// ChannelMask returns the mask used for the next claim attempt.
func (w *Worker) ChannelMask() model.ChannelMask {
	return model.ChannelMask(w.mask.Load())
}

// SetChannelMask replaces the mask. It takes effect on the next claim; a
// job already executing is unaffected.
func (w *Worker) SetChannelMask(mask model.ChannelMask) {
	w.mask.Store(uint32(mask))
}

// Info returns a snapshot of the worker.
func (w *Worker) Info() model.WorkerInfo {
	w.mu.Lock()
	state := w.state
	w.mu.Unlock()

	info := model.WorkerInfo{
		Name:         w.name,
		ChannelMask:  w.ChannelMask(),
		State:        state,
		JobsExecuted: w.executed.Load(),
	}
	if id := w.current.Load(); id >= 0 {
		cur := int(id)
		info.CurrentJob = &cur
	}
	return info
}

func (w *Worker) setState(next model.WorkerState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.state.CanTransitionTo(next) {
		return
	}
	w.state = next
}

// run is the claim loop. Between unsuccessful claims it sleeps with an
// exponential backoff, waking early when the system reports a change.
func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)
	defer w.setState(model.WorkerStateStopped)

	w.logger.Info("worker started", "channels", w.ChannelMask())
	idle := w.sys.idleMin

	for {
		select {
		case <-w.stopCh:
			w.logger.Info("worker stopped", "jobs_executed", w.executed.Load())
			return
		default:
		}

		changed := w.sys.changedCh()
		job := w.sys.claim(w.ChannelMask(), w.name)
		if job == nil {
			timer := time.NewTimer(idle)
			select {
			case <-w.stopCh:
				timer.Stop()
				w.logger.Info("worker stopped", "jobs_executed", w.executed.Load())
				return
			case <-changed:
				timer.Stop()
			case <-timer.C:
				idle = min(idle*2, w.sys.idleMax)
			}
			continue
		}

		idle = w.sys.idleMin
		w.execute(ctx, job)
		w.sys.OnJobCompleted(job)
	}
}

// execute runs job.Execute, converting a panic into a failure output so the
// job still reaches COMPLETED.
func (w *Worker) execute(ctx context.Context, job Job) {
	w.current.Store(int64(job.ID()))
	defer w.current.Store(-1)

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job panicked", "job_id", job.ID(), "type", job.Type(),
				"panic", r, "stack", string(debug.Stack()))
			if setter, ok := job.(outputSetter); ok {
				_ = setter.SetOutput(FailureOutput{Status: "failure", Error: fmt.Sprintf("panic: %v", r)})
			}
		}
		w.executed.Add(1)
		w.sys.metrics.Duration.WithLabelValues(job.Type()).Observe(time.Since(start).Seconds())
	}()

	w.logger.Debug("executing job", "job_id", job.ID(), "type", job.Type())
	job.Execute(ctx)
}

// signalStop asks the loop to exit after its current job.
func (w *Worker) signalStop() {
	w.stopOnce.Do(func() {
		w.setState(model.WorkerStateStopping)
		close(w.stopCh)
	})
}

// Done is closed once the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} { return w.doneCh }
