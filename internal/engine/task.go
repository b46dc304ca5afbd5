package engine

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/convertworks/convertd/internal/ffmpeg"
	"github.com/convertworks/convertd/internal/media"
)

// Status is the lifecycle state of a task.
type Status int

// Task statuses. Terminal statuses are sticky until the task is dropped
// from the registry.
const (
	StatusQueued Status = iota
	StatusRunning
	StatusPaused
	StatusCompleted
	StatusErrored
	StatusCancelled
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	case StatusErrored:
		return "errored"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal returns true once the task can never run again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusErrored || s == StatusCancelled
}

// Task is one user-requested conversion. Identity and configuration are
// immutable; runtime state is guarded by the task's mutex and mutated
// only through the registry-owned handle methods.
type Task struct {
	ID         string
	SourcePath string
	OutputName string
	Config     media.Config
	Meta       *ffmpeg.SourceMetadata
	Plan       *media.Plan
	EnqueuedAt time.Time

	mu          sync.Mutex
	status      Status
	progress    float64
	speed       float64
	errMsg      string
	startedAt   time.Time
	completedAt time.Time
	pid         int
	cancelled   bool // cancel requested, regardless of current status
	lastPercent int  // last published progress percent, for event-rate capping

	logs *LogRing

	// release returns the scheduler permit; guarded by releaseOnce so the
	// immediate release on cancel and the terminal release cannot double
	// count.
	release     func()
	releaseOnce sync.Once
}

// NewTask creates a queued task.
func NewTask(id, sourcePath, outputName string, cfg media.Config, meta *ffmpeg.SourceMetadata, plan *media.Plan, logCapacity int) *Task {
	return &Task{
		ID:          id,
		SourcePath:  sourcePath,
		OutputName:  outputName,
		Config:      cfg,
		Meta:        meta,
		Plan:        plan,
		EnqueuedAt:  time.Now(),
		status:      StatusQueued,
		lastPercent: -1,
		logs:        NewLogRing(logCapacity),
	}
}

// Status returns the current status.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Progress returns the current progress in [0.0, 1.0].
func (t *Task) Progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// Logs returns the task's log ring.
func (t *Task) Logs() *LogRing { return t.logs }

// releaseSlot returns the scheduler permit exactly once.
func (t *Task) releaseSlot() {
	t.releaseOnce.Do(func() {
		if t.release != nil {
			t.release()
		}
	})
}

// markStarted transitions Queued → Running.
func (t *Task) markStarted(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusRunning
	if t.startedAt.IsZero() {
		t.startedAt = time.Now()
	}
	t.pid = pid
}

// setPid records the child process id for the current pass.
func (t *Task) setPid(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pid = pid
}

// updateProgress raises the task progress (never lowers it) and reports
// whether the rounded percentage changed since the last report.
func (t *Task) updateProgress(fraction, speed float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if fraction > t.progress {
		t.progress = fraction
	}
	t.speed = speed

	percent := int(t.progress * 100)
	if percent != t.lastPercent {
		t.lastPercent = percent
		return true
	}
	return false
}

// markTerminal moves the task into a terminal status. The first terminal
// transition wins; later calls are ignored so exactly one terminal event
// is ever emitted.
func (t *Task) markTerminal(status Status, errMsg string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status.IsTerminal() {
		return false
	}
	t.status = status
	t.errMsg = errMsg
	t.completedAt = time.Now()
	t.pid = 0
	if status == StatusCompleted {
		t.progress = 1.0
	}
	return true
}

// requestCancel flags the task as cancelled and returns its status at the
// moment of the request along with the child pid, for signal delivery.
func (t *Task) requestCancel() (Status, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
	return t.status, t.pid
}

// cancelRequested reports whether cancel was requested.
func (t *Task) cancelRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// setPaused transitions Running → Paused. Returns the pid to suspend, or
// 0 when the task is not in a pausable state.
func (t *Task) setPaused() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusRunning || t.pid == 0 {
		return 0
	}
	t.status = StatusPaused
	return t.pid
}

// setResumed transitions Paused → Running. Returns the pid to resume, or
// 0 when the task is not paused.
func (t *Task) setResumed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusPaused || t.pid == 0 {
		return 0
	}
	t.status = StatusRunning
	return t.pid
}

// Snapshot is an immutable view of task state for UI queries.
type Snapshot struct {
	ID          string     `json:"id"`
	SourcePath  string     `json:"source_path"`
	OutputPath  string     `json:"output_path"`
	Status      string     `json:"status"`
	Progress    float64    `json:"progress"`
	Speed       float64    `json:"speed,omitempty"`
	Error       string     `json:"error,omitempty"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RecentLogs  []string   `json:"recent_logs,omitempty"`
	PID         int        `json:"pid,omitempty"`
	CPUPercent  float64    `json:"cpu_percent,omitempty"`
	MemoryMB    float64    `json:"memory_mb,omitempty"`
}

// Snapshot captures the current task state. For running tasks it samples
// the child's CPU and memory usage.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	snap := Snapshot{
		ID:         t.ID,
		SourcePath: t.SourcePath,
		OutputPath: t.Plan.OutputPath,
		Status:     t.status.String(),
		Progress:   t.progress,
		Speed:      t.speed,
		Error:      t.errMsg,
		EnqueuedAt: t.EnqueuedAt,
		PID:        t.pid,
	}
	if !t.startedAt.IsZero() {
		started := t.startedAt
		snap.StartedAt = &started
	}
	if !t.completedAt.IsZero() {
		completed := t.completedAt
		snap.CompletedAt = &completed
	}
	pid := t.pid
	t.mu.Unlock()

	snap.RecentLogs = t.logs.Tail(20)

	if pid > 0 {
		if proc, err := process.NewProcess(int32(pid)); err == nil {
			if cpu, err := proc.CPUPercent(); err == nil {
				snap.CPUPercent = cpu
			}
			if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
				snap.MemoryMB = float64(mem.RSS) / (1024 * 1024)
			}
		}
	}

	return snap
}
