package jobsystem

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/me/jobsys/pkg/model"
)

// CreateWorker starts a worker named name that claims jobs overlapping
// mask. An empty name is replaced with a generated one; the effective name
// is returned.
func (s *System) CreateWorker(name string, mask model.ChannelMask) (string, error) {
	if name == "" {
		name = "worker-" + uuid.New().String()[:8]
	}

	s.workersMu.Lock()
	defer s.workersMu.Unlock()

	if s.closed.Load() {
		return "", fmt.Errorf("create worker %q: %w", name, ErrShutdown)
	}
	if _, exists := s.workers[name]; exists {
		return "", fmt.Errorf("create worker %q: %w", name, ErrWorkerExists)
	}

	w := newWorker(s, name, mask)
	s.workers[name] = w
	go w.run(s.execCtx)
	return name, nil
}

// RemoveWorker stops the named worker and waits for it to finish its
// current job, or for ctx to end.
func (s *System) RemoveWorker(ctx context.Context, name string) error {
	s.workersMu.Lock()
	w, ok := s.workers[name]
	if ok {
		delete(s.workers, name)
	}
	s.workersMu.Unlock()

	if !ok {
		return fmt.Errorf("remove worker %q: %w", name, ErrWorkerNotFound)
	}

	w.signalStop()
	select {
	case <-w.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("remove worker %q: %w", name, ctx.Err())
	}
}

// SetWorkerChannelMask changes the mask of a running worker.
func (s *System) SetWorkerChannelMask(name string, mask model.ChannelMask) error {
	s.workersMu.Lock()
	defer s.workersMu.Unlock()

	w, ok := s.workers[name]
	if !ok {
		return fmt.Errorf("set channels of worker %q: %w", name, ErrWorkerNotFound)
	}
	w.SetChannelMask(mask)
	s.logger.Info("worker channels changed", "worker", name, "channels", mask)
	return nil
}

// Workers returns a snapshot of the pool sorted by name.
func (s *System) Workers() []model.WorkerInfo {
	s.workersMu.Lock()
	defer s.workersMu.Unlock()

	infos := make([]model.WorkerInfo, 0, len(s.workers))
	for _, w := range s.workers {
		infos = append(infos, w.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Shutdown refuses further submissions and workers, signals every worker to
// stop after its current job and waits for them. If ctx ends first the
// execution context handed to running jobs is cancelled and Shutdown keeps
// waiting for the workers to observe it.
func (s *System) Shutdown(ctx context.Context) error {
	s.closed.Store(true)

	s.workersMu.Lock()
	workers := make([]*Worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	clear(s.workers)
	s.workersMu.Unlock()

	for _, w := range workers {
		w.signalStop()
	}

	done := make(chan struct{})
	go func() {
		for _, w := range workers {
			<-w.Done()
		}
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown deadline reached, cancelling running jobs")
		s.cancelExec()
		<-done
		err = fmt.Errorf("shutdown: %w", ctx.Err())
	}
	s.cancelExec()
	s.logger.Info("job system stopped", "workers", len(workers))
	return err
}
