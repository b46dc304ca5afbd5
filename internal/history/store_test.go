package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convertworks/convertd/internal/engine"
)

func openTestStore(t *testing.T, limit int) *Store {
	t.Helper()
	store, err := Open(":memory:", limit)
	require.NoError(t, err)
	return store
}

func snapshot(id, status string, finished time.Time) engine.Snapshot {
	started := finished.Add(-time.Minute)
	return engine.Snapshot{
		ID:          id,
		SourcePath:  "/media/" + id + ".mp4",
		OutputPath:  "/media/" + id + "-converted.mp4",
		Status:      status,
		StartedAt:   &started,
		CompletedAt: &finished,
	}
}

func TestStoreRecordAndRecent(t *testing.T) {
	store := openTestStore(t, 100)

	now := time.Now()
	store.Record(snapshot("a", "completed", now.Add(-2*time.Minute)))
	store.Record(snapshot("b", "errored", now.Add(-time.Minute)))
	store.Record(snapshot("c", "cancelled", now))

	records, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Newest first.
	assert.Equal(t, "c", records[0].TaskID)
	assert.Equal(t, "b", records[1].TaskID)
	assert.Equal(t, "a", records[2].TaskID)
	assert.Equal(t, "errored", records[1].Status)
}

func TestStoreIgnoresNonTerminal(t *testing.T) {
	store := openTestStore(t, 100)

	store.Record(engine.Snapshot{ID: "x", Status: "running"})
	store.Record(engine.Snapshot{ID: "y", Status: "queued"})

	records, err := store.Recent(10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStoreTrimsBeyondLimit(t *testing.T) {
	store := openTestStore(t, 3)

	now := time.Now()
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		store.Record(snapshot(id, "completed", now.Add(time.Duration(i)*time.Second)))
	}

	records, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// The oldest two were dropped.
	assert.Equal(t, "e", records[0].TaskID)
	assert.Equal(t, "c", records[2].TaskID)
}
