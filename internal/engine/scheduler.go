package engine

import (
	"log/slog"
	"sync"
)

// Scheduler is the bounded FIFO admission queue. At most max tasks hold a
// permit (Running or Paused); the rest wait in enqueue order. Permits are
// released strictly on terminal transitions, so a paused task keeps its
// slot.
type Scheduler struct {
	logger *slog.Logger

	mu      sync.Mutex
	max     int
	running int
	queue   []*Task

	// launch starts supervision of an admitted task in a new goroutine.
	launch func(*Task)
}

// NewScheduler creates a scheduler with the given concurrency cap.
func NewScheduler(maxConcurrency int, logger *slog.Logger) *Scheduler {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger: logger.With(slog.String("component", "scheduler")),
		max:    maxConcurrency,
	}
}

// SetLaunch installs the admission callback. Must be set before Enqueue.
func (s *Scheduler) SetLaunch(launch func(*Task)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.launch = launch
}

// Enqueue appends a queued task and admits it immediately if a permit is
// free.
func (s *Scheduler) Enqueue(task *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task.release = s.Release
	s.queue = append(s.queue, task)
	s.admitLocked()
}

// Release returns one permit and admits the oldest queued task, if any.
// Called exactly once per admitted task, on its terminal transition (or
// immediately on cancel).
func (s *Scheduler) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running > 0 {
		s.running--
	}
	s.admitLocked()
}

// RemoveQueued pops a task from the waiting queue by id. Returns nil when
// the task is not queued (already admitted or unknown). Consumes no
// permit.
func (s *Scheduler) RemoveQueued(id string) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, task := range s.queue {
		if task.ID == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return task
		}
	}
	return nil
}

// SetMax changes the concurrency cap. Raising it admits waiting tasks up
// to the new cap before returning; lowering it never preempts running
// tasks — admission simply stops until they drain.
func (s *Scheduler) SetMax(n int) {
	if n < 1 {
		n = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("max concurrency changed",
		slog.Int("from", s.max),
		slog.Int("to", n),
	)
	s.max = n
	s.admitLocked()
}

// Max returns the current concurrency cap.
func (s *Scheduler) Max() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.max
}

// RunningCount returns the number of outstanding permits.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// QueuedCount returns the number of waiting tasks.
func (s *Scheduler) QueuedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// admitLocked promotes queued tasks while permits are free. Caller holds
// the mutex.
func (s *Scheduler) admitLocked() {
	for s.running < s.max && len(s.queue) > 0 {
		task := s.queue[0]
		s.queue = s.queue[1:]
		s.running++

		s.logger.Debug("admitting task",
			slog.String("task_id", task.ID),
			slog.Int("running", s.running),
			slog.Int("queued", len(s.queue)),
		)

		go s.launch(task)
	}
}
