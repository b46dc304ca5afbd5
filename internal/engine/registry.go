package engine

import (
	"sort"
	"sync"
	"time"
)

// Registry is the process-wide map from task id to task handle. All
// lookups go through it; a task is present until the caller drops it or
// the process terminates.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task)}
}

// Add registers a task. Duplicate ids are rejected.
func (r *Registry) Add(task *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[task.ID]; exists {
		return ErrDuplicateTask
	}
	r.tasks[task.ID] = task
	return nil
}

// Get returns the task with the given id.
func (r *Registry) Get(id string) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// Has reports whether a task with the given id exists.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tasks[id]
	return ok
}

// Drop removes a terminal task from the registry.
func (r *Registry) Drop(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if !task.Status().IsTerminal() {
		return ErrTaskActive
	}
	delete(r.tasks, id)
	return nil
}

// List returns all tasks, ordered by enqueue time.
func (r *Registry) List() []*Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := make([]*Task, 0, len(r.tasks))
	for _, task := range r.tasks {
		tasks = append(tasks, task)
	}
	sortTasksByEnqueueTime(tasks)
	return tasks
}

// Snapshots returns snapshots of all tasks, ordered by enqueue time.
func (r *Registry) Snapshots() []Snapshot {
	tasks := r.List()
	snaps := make([]Snapshot, 0, len(tasks))
	for _, task := range tasks {
		snaps = append(snaps, task.Snapshot())
	}
	return snaps
}

// DropStaleTerminal removes terminal tasks whose completion is older than
// the retention window. Returns the number of tasks removed.
func (r *Registry) DropStaleTerminal(retention time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-retention)
	removed := 0
	for id, task := range r.tasks {
		task.mu.Lock()
		stale := task.status.IsTerminal() && !task.completedAt.IsZero() && task.completedAt.Before(cutoff)
		task.mu.Unlock()
		if stale {
			delete(r.tasks, id)
			removed++
		}
	}
	return removed
}

// sortTasksByEnqueueTime orders tasks oldest first, id as tiebreak.
func sortTasksByEnqueueTime(tasks []*Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].EnqueuedAt.Equal(tasks[j].EnqueuedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].EnqueuedAt.Before(tasks[j].EnqueuedAt)
	})
}
