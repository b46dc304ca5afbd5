package engine

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/convertworks/convertd/internal/events"
	"github.com/convertworks/convertd/internal/ffmpeg"
	"github.com/convertworks/convertd/internal/media"
	"github.com/convertworks/convertd/internal/proc"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// writeScript writes an executable shell script acting as a fake sidecar.
func writeScript(t *testing.T, content string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake sidecar scripts require a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+content), 0o755))
	return path
}

// completingScript emits two progress records for a 60s source and exits 0.
const completingScript = `printf 'out_time_us=30000000\nprogress=continue\n' >&2
printf 'out_time_us=60000000\nprogress=end\n' >&2
exit 0
`

// sleepingScript reports early progress then blocks until signalled.
const sleepingScript = `printf 'out_time_us=6000000\nprogress=continue\n' >&2
exec sleep 60
`

// failingScript prints diagnostics and exits non-zero.
const failingScript = `printf 'Error while opening encoder for output stream\n' >&2
printf 'Conversion failed!\n' >&2
exit 1
`

// testMeta is a 60-second 1080p source with one audio track.
func testMeta() *ffmpeg.SourceMetadata {
	return &ffmpeg.SourceMetadata{
		Path:            "/media/in.mp4",
		Container:       "mov,mp4,m4a,3gp,3g2,mj2",
		DurationSeconds: 60,
		Video:           &ffmpeg.VideoStream{Codec: "h264", Width: 1920, Height: 1080, FrameRate: 30},
		AudioTracks:     []ffmpeg.AudioTrack{{Index: 0, Codec: "aac", Channels: 2}},
	}
}

func testConfig(t *testing.T) media.Config {
	t.Helper()
	cfg, err := media.Parse([]byte(`{}`))
	require.NoError(t, err)
	return *cfg
}

// newTestTask builds a task whose output lands in a temp dir.
func newTestTask(t *testing.T, id string, cfg media.Config) *Task {
	t.Helper()
	meta := testMeta()
	plan, err := media.Build(meta, cfg, filepath.Join(t.TempDir(), "out.mp4"))
	require.NoError(t, err)
	return NewTask(id, meta.Path, "out", plan.Config(), meta, plan, 64)
}

// newTestSupervisor wires a supervisor around a fake ffmpeg script.
func newTestSupervisor(t *testing.T, script string, bus *events.Bus) *Supervisor {
	t.Helper()
	bins := &ffmpeg.Binaries{FFmpegPath: writeScript(t, script)}
	return NewSupervisor(bins, proc.NewController(), bus, testLogger(), 500*time.Millisecond)
}

// collectUntilTerminal drains events for the given task until its
// terminal event arrives.
func collectUntilTerminal(t *testing.T, sub *events.Subscriber, taskID string, timeout time.Duration) []events.Event {
	t.Helper()

	var got []events.Event
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-sub.Events:
			if ev.TaskID != taskID {
				continue
			}
			got = append(got, ev)
			if ev.Type.IsTerminal() {
				return got
			}
		case <-deadline:
			t.Fatalf("no terminal event for %s within %v (got %d events)", taskID, timeout, len(got))
		}
	}
}
