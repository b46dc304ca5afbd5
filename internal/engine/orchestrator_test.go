package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convertworks/convertd/internal/events"
	"github.com/convertworks/convertd/internal/ffmpeg"
	"github.com/convertworks/convertd/internal/media"
	"github.com/convertworks/convertd/internal/proc"
)

// fakeProbeScript prints a 60-second source with video and audio. It also
// appends a line to a counter file so tests can assert call counts.
func fakeProbeScript(counterPath string) string {
	return fmt.Sprintf(`echo probed >> %s
cat <<'EOF'
{
  "streams": [
    {"index": 0, "codec_name": "h264", "codec_type": "video", "width": 1920, "height": 1080, "avg_frame_rate": "30/1"},
    {"index": 1, "codec_name": "aac", "codec_type": "audio", "channels": 2, "sample_rate": "48000"}
  ],
  "format": {"format_name": "mov,mp4,m4a,3gp,3g2,3gp2,mj2", "duration": "60.000000"}
}
EOF
`, counterPath)
}

type memoryRecorder struct {
	mu      sync.Mutex
	records []Snapshot
}

func (r *memoryRecorder) Record(snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, snap)
}

func (r *memoryRecorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.records...)
}

type orchestratorFixture struct {
	orch       *Orchestrator
	bus        *events.Bus
	sub        *events.Subscriber
	recorder   *memoryRecorder
	probeCount string
}

func newOrchestratorFixture(t *testing.T, ffmpegScript string, maxConcurrency int) *orchestratorFixture {
	t.Helper()

	dir := t.TempDir()
	counter := filepath.Join(dir, "probe-count")

	bins := &ffmpeg.Binaries{
		FFmpegPath:  writeScript(t, ffmpegScript),
		FFprobePath: writeScript(t, fakeProbeScript(counter)),
	}

	bus := events.NewBus(1024)
	t.Cleanup(bus.Close)
	sub := bus.Subscribe()

	recorder := &memoryRecorder{}
	sup := NewSupervisor(bins, proc.NewController(), bus, testLogger(), 500*time.Millisecond)
	orch := NewOrchestrator(
		bins,
		ffmpeg.NewProber(bins.FFprobePath),
		ffmpeg.NewCapabilityScanner(bins.FFmpegPath),
		bus,
		sup,
		Options{MaxConcurrency: maxConcurrency, LogRingSize: 64, Recorder: recorder},
		testLogger(),
	)

	return &orchestratorFixture{
		orch:       orch,
		bus:        bus,
		sub:        sub,
		recorder:   recorder,
		probeCount: counter,
	}
}

func (f *orchestratorFixture) queue(t *testing.T, id string) {
	t.Helper()
	src := filepath.Join(t.TempDir(), id+".mp4")
	require.NoError(t, f.orch.Queue(context.Background(), id, src, "", json.RawMessage(`{}`)))
}

func TestOrchestratorQueueToCompletion(t *testing.T) {
	f := newOrchestratorFixture(t, completingScript, 2)

	f.queue(t, "t1")

	got := collectUntilTerminal(t, f.sub, "t1", 10*time.Second)
	assert.Equal(t, events.TypeStarted, got[0].Type)
	assert.Equal(t, events.TypeCompleted, got[len(got)-1].Type)

	snap, err := f.orch.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, "completed", snap.Status)
	assert.Equal(t, 1.0, snap.Progress)
	assert.Contains(t, snap.OutputPath, "-converted.mp4")

	// The terminal outcome reaches the recorder.
	require.Eventually(t, func() bool {
		return len(f.recorder.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "t1", f.recorder.all()[0].ID)
}

func TestOrchestratorRejectsDuplicateIDs(t *testing.T) {
	f := newOrchestratorFixture(t, sleepingScript, 1)

	f.queue(t, "t1")
	src := filepath.Join(t.TempDir(), "other.mp4")
	err := f.orch.Queue(context.Background(), "t1", src, "", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrDuplicateTask)

	require.NoError(t, f.orch.Cancel("t1"))
}

func TestOrchestratorRejectsInvalidConfigSynchronously(t *testing.T) {
	f := newOrchestratorFixture(t, completingScript, 1)

	src := filepath.Join(t.TempDir(), "x.mp4")
	err := f.orch.Queue(context.Background(), "bad", src, "", json.RawMessage(`{"unknownOption": 1}`))
	assert.ErrorIs(t, err, media.ErrConfigInvalid)

	// No task was produced.
	_, err = f.orch.Get("bad")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestOrchestratorCancelQueuedTask(t *testing.T) {
	f := newOrchestratorFixture(t, sleepingScript, 1)

	f.queue(t, "running")
	f.queue(t, "waiting")

	// Wait for the first task to hold the only slot.
	require.Eventually(t, func() bool {
		snap, err := f.orch.Get("running")
		return err == nil && snap.Status == "running"
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, f.orch.Cancel("waiting"))

	snap, err := f.orch.Get("waiting")
	require.NoError(t, err)
	assert.Equal(t, "cancelled", snap.Status)

	// The queued task never spawned: its event stream is exactly one
	// Cancelled terminal event, no Started.
	got := collectUntilTerminal(t, f.sub, "waiting", 2*time.Second)
	require.Len(t, got, 1)
	assert.Equal(t, events.TypeCancelled, got[0].Type)
	assert.Zero(t, snap.PID)

	require.NoError(t, f.orch.Cancel("running"))
}

func TestOrchestratorCancelCascade(t *testing.T) {
	// Cancel a running task: the next queued task is admitted within the
	// grace window and unrelated tasks are unaffected.
	f := newOrchestratorFixture(t, sleepingScript, 2)

	f.queue(t, "a")
	f.queue(t, "b")
	f.queue(t, "c")

	require.Eventually(t, func() bool {
		a, _ := f.orch.Get("a")
		b, _ := f.orch.Get("b")
		return a.Status == "running" && b.Status == "running"
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, f.orch.Cancel("a"))

	require.Eventually(t, func() bool {
		c, _ := f.orch.Get("c")
		return c.Status == "running"
	}, 3*time.Second, 10*time.Millisecond)

	b, _ := f.orch.Get("b")
	assert.Equal(t, "running", b.Status)

	// Exactly one terminal event for a.
	got := collectUntilTerminal(t, f.sub, "a", 3*time.Second)
	terminal := 0
	for _, ev := range got {
		if ev.Type.IsTerminal() {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)

	require.NoError(t, f.orch.Cancel("b"))
	require.NoError(t, f.orch.Cancel("c"))
}

func TestOrchestratorFIFOFairness(t *testing.T) {
	// A completes -> C starts; B completes -> D starts; D never before C.
	// Durations are staggered so the two releases cannot race.
	script := `case "$*" in
  *a.mp4*) sleep 0.2 ;;
  *b.mp4*) sleep 0.8 ;;
  *) sleep 0.2 ;;
esac
printf 'progress=end\n' >&2
exit 0
`
	f := newOrchestratorFixture(t, script, 2)

	for _, id := range []string{"a", "b", "c", "d"} {
		f.queue(t, id)
	}

	var started []string
	deadline := time.After(15 * time.Second)
	for len(started) < 4 {
		select {
		case ev := <-f.sub.Events:
			if ev.Type == events.TypeStarted {
				started = append(started, ev.TaskID)
			}
		case <-deadline:
			t.Fatalf("only %v started in time", started)
		}
	}

	// The first two admissions race between goroutines, so only the set
	// is guaranteed; strict FIFO holds between queue-time neighbors that
	// wait for a slot.
	assert.ElementsMatch(t, []string{"a", "b"}, started[:2])
	assert.Equal(t, "c", started[2])
	assert.Equal(t, "d", started[3])
}

func TestOrchestratorConcurrencyBound(t *testing.T) {
	script := `sleep 0.2
printf 'progress=end\n' >&2
exit 0
`
	f := newOrchestratorFixture(t, script, 2)

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		f.queue(t, id)
	}

	// Sample the running count until everything drains; it must never
	// exceed the cap.
	require.Eventually(t, func() bool {
		running := 0
		terminalCount := 0
		for _, snap := range f.orch.List() {
			switch snap.Status {
			case "running", "paused":
				running++
			case "completed", "errored", "cancelled":
				terminalCount++
			}
		}
		assert.LessOrEqual(t, running, 2, "running tasks exceed max concurrency")
		return terminalCount == 5
	}, 20*time.Second, 20*time.Millisecond)
}

func TestOrchestratorSetMaxConcurrency(t *testing.T) {
	f := newOrchestratorFixture(t, sleepingScript, 1)

	assert.Equal(t, 1, f.orch.MaxConcurrency())
	assert.Error(t, f.orch.SetMaxConcurrency(0))

	for _, id := range []string{"a", "b", "c"} {
		f.queue(t, id)
	}

	require.Eventually(t, func() bool {
		a, _ := f.orch.Get("a")
		return a.Status == "running"
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, f.orch.SetMaxConcurrency(3))
	assert.Equal(t, 3, f.orch.MaxConcurrency())

	require.Eventually(t, func() bool {
		running := 0
		for _, snap := range f.orch.List() {
			if snap.Status == "running" {
				running++
			}
		}
		return running == 3
	}, 3*time.Second, 10*time.Millisecond)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, f.orch.Cancel(id))
	}
}

func TestOrchestratorProbeCaching(t *testing.T) {
	f := newOrchestratorFixture(t, completingScript, 1)

	src := filepath.Join(t.TempDir(), "cached.mp4")
	_, err := f.orch.Probe(context.Background(), src)
	require.NoError(t, err)
	_, err = f.orch.Probe(context.Background(), src)
	require.NoError(t, err)

	data, err := os.ReadFile(f.probeCount)
	require.NoError(t, err)
	assert.Equal(t, "probed\n", string(data), "second probe must hit the cache")
}

func TestOrchestratorDropLifecycle(t *testing.T) {
	f := newOrchestratorFixture(t, sleepingScript, 1)

	f.queue(t, "t1")
	require.Eventually(t, func() bool {
		snap, _ := f.orch.Get("t1")
		return snap.Status == "running"
	}, 3*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, f.orch.Drop("t1"), ErrTaskActive)

	require.NoError(t, f.orch.Cancel("t1"))
	require.Eventually(t, func() bool {
		snap, _ := f.orch.Get("t1")
		return snap.Status == "cancelled"
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, f.orch.Drop("t1"))
	_, err := f.orch.Get("t1")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	// The id can be reused after the drop.
	f.queue(t, "t1")
	require.NoError(t, f.orch.Cancel("t1"))
}
