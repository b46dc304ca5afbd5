package engine

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/convertworks/convertd/internal/events"
	"github.com/convertworks/convertd/internal/ffmpeg"
	"github.com/convertworks/convertd/internal/proc"
	"github.com/convertworks/convertd/pkg/timecode"
)

// Supervisor owns the FFmpeg children of running tasks: it spawns them,
// streams stderr into progress and log events, and delivers
// pause/resume/cancel signals.
type Supervisor struct {
	bins        *ffmpeg.Binaries
	ctl         proc.Controller
	bus         *events.Bus
	logger      *slog.Logger
	cancelGrace time.Duration
}

// NewSupervisor creates a supervisor.
func NewSupervisor(bins *ffmpeg.Binaries, ctl proc.Controller, bus *events.Bus, logger *slog.Logger, cancelGrace time.Duration) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cancelGrace <= 0 {
		cancelGrace = 2 * time.Second
	}
	return &Supervisor{
		bins:        bins,
		ctl:         ctl,
		bus:         bus,
		logger:      logger.With(slog.String("component", "supervisor")),
		cancelGrace: cancelGrace,
	}
}

// passSpan maps a pass's local progress onto the task's overall [0,1]
// range. A two-pass normalization reports [0,0.5) for the measurement and
// [0.5,1.0] for the encode.
type passSpan struct {
	base float64
	span float64
}

// Run drives a task to a terminal state: spawn, stream stderr, wait,
// classify. For two-pass loudness normalization it runs the measurement
// and encode passes back to back.
func (s *Supervisor) Run(ctx context.Context, task *Task) {
	logger := s.logger.With(slog.String("task_id", task.ID))

	task.markStarted(0)
	s.bus.Publish(events.Event{TaskID: task.ID, Type: events.TypeStarted})

	plan := task.Plan
	if !plan.Hints.TwoPass {
		err := s.runPass(ctx, logger, task, plan.Args, passSpan{0, 1}, nil)
		s.finish(logger, task, err)
		return
	}

	collector := &ffmpeg.LoudnormCollector{}
	if err := s.runPass(ctx, logger, task, plan.MeasureArgs(), passSpan{0, 0.5}, collector); err != nil {
		s.finish(logger, task, err)
		return
	}
	// A cancel that lands between passes terminates the run here; the
	// second pass is never spawned.
	if task.cancelRequested() {
		s.finish(logger, task, nil)
		return
	}

	stats, err := collector.Stats()
	if err != nil {
		// Fall back to single-pass normalization rather than failing the
		// whole conversion over a missing measurement block.
		logger.Warn("loudnorm measurement missing, using single-pass normalization",
			slog.String("error", err.Error()),
		)
		stats = nil
	}

	err = s.runPass(ctx, logger, task, plan.EncodeArgs(stats), passSpan{0.5, 0.5}, nil)
	s.finish(logger, task, err)
}

// runPass spawns one FFmpeg child and streams its stderr until exit.
func (s *Supervisor) runPass(ctx context.Context, logger *slog.Logger, task *Task, args []string, span passSpan, collector *ffmpeg.LoudnormCollector) error {
	cmd := exec.Command(s.bins.FFmpegPath, args...)

	// Stdin stays open for the child's lifetime: FFmpeg treats EOF there
	// as an interactive quit, and cancellation is signal-based instead.
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &SpawnError{Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		return &SpawnError{Err: err}
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return &SpawnError{Err: err}
	}
	defer stdin.Close()

	pid := cmd.Process.Pid
	task.setPid(pid)
	logger.Debug("ffmpeg started",
		slog.Int("pid", pid),
		slog.Float64("pass_base", span.base),
	)

	// A cancel may have arrived between Start and setPid; deliver the
	// signal it could not send.
	if task.cancelRequested() {
		_ = s.ctl.Terminate(pid)
		s.scheduleKill(task, pid)
	}

	duration := effectiveDuration(task)
	parser := ffmpeg.NewProgressParser()
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(ffmpeg.ScanLinesCR)

	for scanner.Scan() {
		line := scanner.Text()
		if collector != nil {
			collector.Feed(line)
		}

		update := parser.ParseLine(line)
		switch update.Kind {
		case ffmpeg.KindProgress:
			if duration <= 0 {
				continue // unknown duration: logs only
			}
			ratio := float64(update.OutTime) / float64(duration)
			if ratio < 0 {
				ratio = 0
			}
			// Hold just under the pass ceiling until progress=end.
			if ratio > 0.999 {
				ratio = 0.999
			}
			fraction := span.base + ratio*span.span
			if task.updateProgress(fraction, update.Speed) {
				s.bus.Publish(events.Event{
					TaskID:   task.ID,
					Type:     events.TypeProgress,
					Progress: task.Progress(),
				})
			}

		case ffmpeg.KindEnd:
			if duration <= 0 {
				continue
			}
			fraction := span.base + span.span
			// Only the final pass reaches its ceiling; an earlier pass
			// holds just under it.
			if fraction < 1 {
				fraction = span.base + 0.999*span.span
			}
			if task.updateProgress(fraction, update.Speed) {
				s.bus.Publish(events.Event{
					TaskID:   task.ID,
					Type:     events.TypeProgress,
					Progress: task.Progress(),
				})
			}

		case ffmpeg.KindLog:
			task.logs.Append(line)
			s.bus.Publish(events.Event{
				TaskID: task.ID,
				Type:   events.TypeLog,
				Line:   line,
			})
		}
	}

	// A broken stderr pipe mid-run means we can no longer supervise the
	// child; force it down before collecting the exit status.
	if scanErr := scanner.Err(); scanErr != nil {
		logger.Warn("stderr read failed, killing child",
			slog.Int("pid", pid),
			slog.String("error", scanErr.Error()),
		)
		_ = s.ctl.Kill(pid)
	}

	waitErr := cmd.Wait()
	task.setPid(0)

	if waitErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return &RuntimeError{ExitCode: exitCode, Tail: task.logs.Tail(10)}
	}

	return nil
}

// finish moves the task to its terminal state and emits the single
// terminal event. Exit code 0 is Completed only when no cancel was
// requested; once a cancel has been requested every outcome, including an
// exit 0 that raced it, is Cancelled, not Errored. Partial outputs are
// removed on any non-Completed outcome; the log ring is preserved for
// inspection.
func (s *Supervisor) finish(logger *slog.Logger, task *Task, err error) {
	var status Status
	var msg string

	switch {
	case err == nil && !task.cancelRequested():
		status = StatusCompleted
	case err == nil:
		status = StatusCancelled
	case task.cancelRequested():
		status = StatusCancelled
	default:
		status = StatusErrored
		msg = err.Error()
	}

	if !task.markTerminal(status, msg) {
		return
	}

	event := events.Event{TaskID: task.ID}
	switch status {
	case StatusCompleted:
		event.Type = events.TypeCompleted
		event.OutputPath = task.Plan.OutputPath
		logger.Info("conversion completed", slog.String("output", task.Plan.OutputPath))
	case StatusCancelled:
		event.Type = events.TypeCancelled
		os.Remove(task.Plan.OutputPath)
		logger.Info("conversion cancelled")
	default:
		event.Type = events.TypeError
		event.Error = msg
		os.Remove(task.Plan.OutputPath)
		logger.Error("conversion failed", slog.String("error", msg))
	}

	s.bus.Publish(event)
}

// Pause suspends the task's child process. Running tasks only; anything
// else is a no-op. A paused task keeps its scheduler slot.
func (s *Supervisor) Pause(task *Task) error {
	pid := task.setPaused()
	if pid == 0 {
		return nil
	}

	if err := s.ctl.Suspend(pid); err != nil {
		task.setResumed()
		return err
	}

	s.logger.Info("task paused",
		slog.String("task_id", task.ID),
		slog.Int("pid", pid),
	)
	return nil
}

// Resume continues a paused child process. Paused tasks only.
func (s *Supervisor) Resume(task *Task) error {
	pid := task.setResumed()
	if pid == 0 {
		return nil
	}

	if err := s.ctl.Resume(pid); err != nil {
		return err
	}

	s.logger.Info("task resumed",
		slog.String("task_id", task.ID),
		slog.Int("pid", pid),
	)
	return nil
}

// Cancel requests termination of a running or paused task: terminate,
// then kill after the grace window. A paused child is resumed first so
// the signal can take effect. Idempotent.
func (s *Supervisor) Cancel(task *Task) {
	status, pid := task.requestCancel()

	switch status {
	case StatusPaused:
		if pid > 0 {
			_ = s.ctl.Resume(pid)
			_ = s.ctl.Terminate(pid)
			s.scheduleKill(task, pid)
		}
	case StatusRunning:
		if pid > 0 {
			_ = s.ctl.Terminate(pid)
			s.scheduleKill(task, pid)
		}
	}
}

// scheduleKill escalates to SIGKILL when the child outlives the grace
// window.
func (s *Supervisor) scheduleKill(task *Task, pid int) {
	grace := s.cancelGrace
	time.AfterFunc(grace, func() {
		if !task.Status().IsTerminal() {
			s.logger.Warn("cancel grace expired, killing",
				slog.String("task_id", task.ID),
				slog.Int("pid", pid),
			)
			_ = s.ctl.Kill(pid)
		}
	})
}

// effectiveDuration returns the expected output duration: the probed
// container duration narrowed by the configured trim window. Zero means
// unknown; progress then stays at 0.
func effectiveDuration(task *Task) time.Duration {
	total := task.Meta.Duration()

	var start, end time.Duration
	if task.Config.StartTime != "" {
		if d, err := timecode.Parse(task.Config.StartTime); err == nil {
			start = d
		}
	}
	if task.Config.EndTime != "" {
		if d, err := timecode.Parse(task.Config.EndTime); err == nil {
			end = d
		}
	}

	switch {
	case end > 0 && end > start:
		return end - start
	case start > 0 && total > start:
		return total - start
	default:
		return total
	}
}
