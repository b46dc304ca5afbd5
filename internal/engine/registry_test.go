package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAddAndGet(t *testing.T) {
	reg := NewRegistry()
	task := newTestTask(t, "t1", testConfig(t))

	require.NoError(t, reg.Add(task))

	got, err := reg.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, task, got)

	_, err = reg.Get("missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Add(newTestTask(t, "t1", testConfig(t))))

	err := reg.Add(newTestTask(t, "t1", testConfig(t)))
	assert.ErrorIs(t, err, ErrDuplicateTask)
}

func TestRegistryDropRequiresTerminal(t *testing.T) {
	reg := NewRegistry()
	task := newTestTask(t, "t1", testConfig(t))
	require.NoError(t, reg.Add(task))

	assert.ErrorIs(t, reg.Drop("t1"), ErrTaskActive)

	task.markTerminal(StatusCompleted, "")
	require.NoError(t, reg.Drop("t1"))
	assert.False(t, reg.Has("t1"))

	assert.ErrorIs(t, reg.Drop("t1"), ErrTaskNotFound)
}

func TestRegistryListOrdersByEnqueueTime(t *testing.T) {
	reg := NewRegistry()

	a := newTestTask(t, "a", testConfig(t))
	a.EnqueuedAt = time.Now().Add(-2 * time.Minute)
	b := newTestTask(t, "b", testConfig(t))
	b.EnqueuedAt = time.Now().Add(-1 * time.Minute)

	require.NoError(t, reg.Add(b))
	require.NoError(t, reg.Add(a))

	tasks := reg.List()
	require.Len(t, tasks, 2)
	assert.Equal(t, "a", tasks[0].ID)
	assert.Equal(t, "b", tasks[1].ID)
}

func TestRegistryDropStaleTerminal(t *testing.T) {
	reg := NewRegistry()

	stale := newTestTask(t, "stale", testConfig(t))
	stale.markTerminal(StatusCompleted, "")
	stale.mu.Lock()
	stale.completedAt = time.Now().Add(-time.Hour)
	stale.mu.Unlock()

	fresh := newTestTask(t, "fresh", testConfig(t))
	fresh.markTerminal(StatusErrored, "boom")

	active := newTestTask(t, "active", testConfig(t))

	require.NoError(t, reg.Add(stale))
	require.NoError(t, reg.Add(fresh))
	require.NoError(t, reg.Add(active))

	removed := reg.DropStaleTerminal(30 * time.Minute)
	assert.Equal(t, 1, removed)
	assert.False(t, reg.Has("stale"))
	assert.True(t, reg.Has("fresh"))
	assert.True(t, reg.Has("active"))
}
