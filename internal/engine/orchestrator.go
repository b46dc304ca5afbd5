package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/convertworks/convertd/internal/events"
	"github.com/convertworks/convertd/internal/ffmpeg"
	"github.com/convertworks/convertd/internal/media"
)

// Recorder receives terminal task outcomes, e.g. for the history ledger.
type Recorder interface {
	Record(snapshot Snapshot)
}

// Options configures the orchestrator.
type Options struct {
	MaxConcurrency int
	LogRingSize    int
	Recorder       Recorder
}

// Orchestrator is the command surface the UI collaborator calls. All
// calls return after the state transition is registered; progress is
// communicated exclusively via the event bus.
type Orchestrator struct {
	logger   *slog.Logger
	bins     *ffmpeg.Binaries
	prober   *ffmpeg.Prober
	scanner  *ffmpeg.CapabilityScanner
	bus      *events.Bus
	registry *Registry
	sched    *Scheduler
	sup      *Supervisor
	recorder Recorder

	logRingSize int

	probeMu    sync.Mutex
	probeCache map[string]*ffmpeg.SourceMetadata
}

// NewOrchestrator wires the engine together.
func NewOrchestrator(
	bins *ffmpeg.Binaries,
	prober *ffmpeg.Prober,
	scanner *ffmpeg.CapabilityScanner,
	bus *events.Bus,
	sup *Supervisor,
	opts Options,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.LogRingSize < 1 {
		opts.LogRingSize = 2048
	}

	o := &Orchestrator{
		logger:      logger.With(slog.String("component", "orchestrator")),
		bins:        bins,
		prober:      prober,
		scanner:     scanner,
		bus:         bus,
		registry:    NewRegistry(),
		sched:       NewScheduler(opts.MaxConcurrency, logger),
		sup:         sup,
		recorder:    opts.Recorder,
		logRingSize: opts.LogRingSize,
		probeCache:  make(map[string]*ffmpeg.SourceMetadata),
	}

	o.sched.SetLaunch(func(task *Task) {
		o.sup.Run(context.Background(), task)
		task.releaseSlot()
		if o.recorder != nil {
			o.recorder.Record(task.Snapshot())
		}
	})

	return o
}

// Probe returns the source metadata for a file, cached per path.
func (o *Orchestrator) Probe(ctx context.Context, path string) (*ffmpeg.SourceMetadata, error) {
	o.probeMu.Lock()
	if meta, ok := o.probeCache[path]; ok {
		o.probeMu.Unlock()
		return meta, nil
	}
	o.probeMu.Unlock()

	meta, err := o.prober.Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	o.probeMu.Lock()
	o.probeCache[path] = meta
	o.probeMu.Unlock()
	return meta, nil
}

// AvailableEncoders reports the hardware encoders linked into the FFmpeg
// sidecar. The scan runs once and is cached for the process lifetime.
func (o *Orchestrator) AvailableEncoders(ctx context.Context) (ffmpeg.AvailableEncoders, error) {
	return o.scanner.Detect(ctx)
}

// Queue validates the request, builds the argument vector once
// (fail-fast), and submits the task to the scheduler. Configuration
// errors are returned synchronously and never produce a task.
func (o *Orchestrator) Queue(ctx context.Context, id, sourcePath, outputName string, rawConfig json.RawMessage) error {
	if id == "" {
		return fmt.Errorf("%w: empty task id", media.ErrConfigInvalid)
	}
	if o.registry.Has(id) {
		return ErrDuplicateTask
	}

	cfg, err := media.Parse(rawConfig)
	if err != nil {
		return err
	}

	meta, err := o.Probe(ctx, sourcePath)
	if err != nil {
		return err
	}

	outputPath := buildOutputPath(sourcePath, outputName, cfg.Container)
	plan, err := media.Build(meta, *cfg, outputPath)
	if err != nil {
		return err
	}

	// Refuse hardware encoders the local FFmpeg build cannot provide.
	normalized := plan.Config()
	if normalized.VideoCodec.IsHardware() && !plan.Hints.AudioOnly {
		avail, err := o.scanner.Detect(ctx)
		if err != nil {
			return err
		}
		if !avail.Has(string(normalized.VideoCodec)) {
			return fmt.Errorf("%w: encoder %s is not available in this ffmpeg build",
				media.ErrConfigInvalid, normalized.VideoCodec)
		}
	}

	task := NewTask(id, sourcePath, outputName, normalized, meta, plan, o.logRingSize)
	if err := o.registry.Add(task); err != nil {
		return err
	}
	o.sched.Enqueue(task)

	o.logger.Info("task queued",
		slog.String("task_id", id),
		slog.String("source", sourcePath),
		slog.String("output", outputPath),
	)
	return nil
}

// Pause suspends a running task's child process. No-op when the task is
// not running.
func (o *Orchestrator) Pause(id string) error {
	task, err := o.registry.Get(id)
	if err != nil {
		return err
	}
	return o.sup.Pause(task)
}

// Resume continues a paused task. No-op when the task is not paused.
func (o *Orchestrator) Resume(id string) error {
	task, err := o.registry.Get(id)
	if err != nil {
		return err
	}
	return o.sup.Resume(task)
}

// Cancel terminates a task. A queued task is dropped synchronously and
// consumes no permit; a running task is signalled and reaches its
// terminal state when the OS confirms exit. The scheduler slot is
// released immediately, not on process-gone. Idempotent.
func (o *Orchestrator) Cancel(id string) error {
	task, err := o.registry.Get(id)
	if err != nil {
		return err
	}

	if removed := o.sched.RemoveQueued(id); removed != nil {
		removed.requestCancel()
		if removed.markTerminal(StatusCancelled, "") {
			o.bus.Publish(events.Event{TaskID: id, Type: events.TypeCancelled})
			if o.recorder != nil {
				o.recorder.Record(removed.Snapshot())
			}
		}
		return nil
	}

	if task.Status().IsTerminal() {
		return nil
	}

	task.releaseSlot()
	o.sup.Cancel(task)
	return nil
}

// Get returns a snapshot of one task.
func (o *Orchestrator) Get(id string) (Snapshot, error) {
	task, err := o.registry.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return task.Snapshot(), nil
}

// List returns snapshots of all registered tasks.
func (o *Orchestrator) List() []Snapshot {
	return o.registry.Snapshots()
}

// Drop removes a terminal task from the registry.
func (o *Orchestrator) Drop(id string) error {
	return o.registry.Drop(id)
}

// MaxConcurrency returns the scheduler's concurrency cap.
func (o *Orchestrator) MaxConcurrency() int {
	return o.sched.Max()
}

// SetMaxConcurrency changes the concurrency cap at runtime. Raising it
// admits waiting tasks immediately; lowering it never preempts running
// tasks.
func (o *Orchestrator) SetMaxConcurrency(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: max concurrency must be at least 1", media.ErrConfigInvalid)
	}
	o.sched.SetMax(n)
	return nil
}

// Registry exposes the task registry to maintenance jobs.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// buildOutputPath derives the output file path: the output name stem (or
// the source stem with a suffix) next to the source, with the container's
// extension.
func buildOutputPath(sourcePath, outputName string, container media.Container) string {
	dir := filepath.Dir(sourcePath)
	stem := outputName
	if stem == "" {
		base := filepath.Base(sourcePath)
		stem = strings.TrimSuffix(base, filepath.Ext(base)) + "-converted"
	}
	return filepath.Join(dir, stem+"."+string(container))
}
