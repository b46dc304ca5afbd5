package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// launchRecorder captures admission order without running anything.
type launchRecorder struct {
	mu    sync.Mutex
	order []string
}

func (r *launchRecorder) launch(task *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, task.ID)
}

func (r *launchRecorder) admitted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func waitForAdmissions(t *testing.T, r *launchRecorder, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(r.admitted()) >= n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSchedulerAdmitsUpToMax(t *testing.T) {
	rec := &launchRecorder{}
	s := NewScheduler(2, testLogger())
	s.SetLaunch(rec.launch)

	for _, id := range []string{"a", "b", "c", "d"} {
		s.Enqueue(newTestTask(t, id, testConfig(t)))
	}

	waitForAdmissions(t, rec, 2)
	// The two initial admissions record concurrently; only the set is
	// deterministic.
	assert.ElementsMatch(t, []string{"a", "b"}, rec.admitted())
	assert.Equal(t, 2, s.RunningCount())
	assert.Equal(t, 2, s.QueuedCount())
}

func TestSchedulerFIFOOnRelease(t *testing.T) {
	rec := &launchRecorder{}
	s := NewScheduler(2, testLogger())
	s.SetLaunch(rec.launch)

	for _, id := range []string{"a", "b", "c", "d"} {
		s.Enqueue(newTestTask(t, id, testConfig(t)))
	}
	waitForAdmissions(t, rec, 2)

	s.Release() // a slot frees -> c starts
	waitForAdmissions(t, rec, 3)
	s.Release() // b slot frees -> d starts
	waitForAdmissions(t, rec, 4)

	admitted := rec.admitted()
	assert.ElementsMatch(t, []string{"a", "b"}, admitted[:2])
	assert.Equal(t, "c", admitted[2])
	assert.Equal(t, "d", admitted[3])
}

func TestSchedulerRaiseMaxAdmitsWaiting(t *testing.T) {
	rec := &launchRecorder{}
	s := NewScheduler(1, testLogger())
	s.SetLaunch(rec.launch)

	for _, id := range []string{"a", "b", "c"} {
		s.Enqueue(newTestTask(t, id, testConfig(t)))
	}
	waitForAdmissions(t, rec, 1)
	assert.Equal(t, 2, s.QueuedCount())

	s.SetMax(3)
	waitForAdmissions(t, rec, 3)
	assert.Equal(t, 0, s.QueuedCount())
	assert.Equal(t, 3, s.RunningCount())
}

func TestSchedulerLowerMaxNeverPreempts(t *testing.T) {
	rec := &launchRecorder{}
	s := NewScheduler(2, testLogger())
	s.SetLaunch(rec.launch)

	s.Enqueue(newTestTask(t, "a", testConfig(t)))
	s.Enqueue(newTestTask(t, "b", testConfig(t)))
	s.Enqueue(newTestTask(t, "c", testConfig(t)))
	waitForAdmissions(t, rec, 2)

	s.SetMax(1)
	assert.Equal(t, 2, s.RunningCount(), "running tasks keep their permits")

	// One release leaves one running at the new cap; the queue waits.
	s.Release()
	time.Sleep(50 * time.Millisecond)
	assert.ElementsMatch(t, []string{"a", "b"}, rec.admitted())

	// Draining below the cap admits again.
	s.Release()
	waitForAdmissions(t, rec, 3)
	assert.Equal(t, "c", rec.admitted()[2])
}

func TestSchedulerRemoveQueued(t *testing.T) {
	rec := &launchRecorder{}
	s := NewScheduler(1, testLogger())
	s.SetLaunch(rec.launch)

	s.Enqueue(newTestTask(t, "a", testConfig(t)))
	s.Enqueue(newTestTask(t, "b", testConfig(t)))
	s.Enqueue(newTestTask(t, "c", testConfig(t)))
	waitForAdmissions(t, rec, 1)

	removed := s.RemoveQueued("b")
	require.NotNil(t, removed)
	assert.Equal(t, "b", removed.ID)
	assert.Equal(t, 1, s.QueuedCount())

	// Already admitted or unknown ids are not in the queue.
	assert.Nil(t, s.RemoveQueued("a"))
	assert.Nil(t, s.RemoveQueued("zz"))

	// The cancelled task never runs; c is next.
	s.Release()
	waitForAdmissions(t, rec, 2)
	assert.Equal(t, []string{"a", "c"}, rec.admitted())
}

func TestSchedulerPausedTaskKeepsPermit(t *testing.T) {
	// Permits are released strictly on terminal transitions; the
	// scheduler has no pause concept, so nothing is admitted while a
	// paused task holds its slot.
	rec := &launchRecorder{}
	s := NewScheduler(1, testLogger())
	s.SetLaunch(rec.launch)

	s.Enqueue(newTestTask(t, "a", testConfig(t)))
	s.Enqueue(newTestTask(t, "b", testConfig(t)))
	waitForAdmissions(t, rec, 1)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"a"}, rec.admitted())
	assert.Equal(t, 1, s.RunningCount())
}
