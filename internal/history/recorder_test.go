package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/orrn/catspool/internal/core"
	"github.com/orrn/catspool/internal/db"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	require.NoError(t, db.Init(db.Config{Path: filepath.Join(t.TempDir(), "history.db")}))
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
}

func TestApplyJobLifecycle(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	require.NoError(t, Apply(ctx, core.JobEvent{Type: core.JobQueued, JobID: "j1", Time: now}))
	job, err := db.Jobs.GetJobByID(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, db.JobStatusQueued, job.Status)

	require.NoError(t, Apply(ctx, core.JobEvent{Type: core.JobStarted, JobID: "j1", Width: 384, Height: 100, Bytes: 5000, Time: now.Add(time.Second)}))
	job, err = db.Jobs.GetJobByID(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, db.JobStatusPrinting, job.Status)
	assert.Equal(t, 384, job.Width)
	assert.Equal(t, 5000, job.PayloadBytes)
	require.NotNil(t, job.StartedAt)

	require.NoError(t, Apply(ctx, core.JobEvent{Type: core.JobCompleted, JobID: "j1", Bytes: 5000, Chunks: 28, Time: now.Add(2 * time.Second)}))
	job, err = db.Jobs.GetJobByID(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, db.JobStatusCompleted, job.Status)
	assert.Equal(t, 28, job.Chunks)
	require.NotNil(t, job.CompletedAt)

	counters, err := db.Counters.GetCounters(ctx, now, now)
	require.NoError(t, err)
	require.Len(t, counters, 1)
	assert.Equal(t, "2026-03-14", counters[0].Date)
	assert.Equal(t, int64(1), counters[0].Jobs)
	assert.Equal(t, int64(5000), counters[0].Bytes)
}

func TestApplyTerminalEvents(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, Apply(ctx, core.JobEvent{Type: core.JobDropped, JobID: "d", Reason: "queue full"}))
	require.NoError(t, Apply(ctx, core.JobEvent{Type: core.JobQueued, JobID: "f"}))
	require.NoError(t, Apply(ctx, core.JobEvent{Type: core.JobFailed, JobID: "f", Reason: "empty image"}))
	require.NoError(t, Apply(ctx, core.JobEvent{Type: core.JobQueued, JobID: "a"}))
	require.NoError(t, Apply(ctx, core.JobEvent{Type: core.JobAborted, JobID: "a", Reason: "stopped"}))

	tests := []struct {
		id     string
		status string
		reason string
	}{
		{"d", db.JobStatusDropped, "queue full"},
		{"f", db.JobStatusFailed, "empty image"},
		{"a", db.JobStatusAborted, "stopped"},
	}
	for _, tt := range tests {
		job, err := db.Jobs.GetJobByID(ctx, tt.id)
		require.NoError(t, err, tt.id)
		assert.Equal(t, tt.status, job.Status, tt.id)
		assert.Equal(t, tt.reason, job.Reason, tt.id)
		assert.NotNil(t, job.CompletedAt, tt.id)
	}
}

func TestRecorderWritesAsynchronously(t *testing.T) {
	setupTestDB(t)
	r := NewRecorder(zaptest.NewLogger(t), 16)
	r.Start()

	r.StateChanged(core.StateDisconnected, core.StateDiscovering)
	r.JobEvent(core.JobEvent{Type: core.JobQueued, JobID: "async", Time: time.Now()})
	r.Stop()

	ctx := context.Background()
	changes, err := db.StateLog.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "disconnected", changes[0].From)
	assert.Equal(t, "discovering", changes[0].To)

	job, err := db.Jobs.GetJobByID(ctx, "async")
	require.NoError(t, err)
	assert.Equal(t, db.JobStatusQueued, job.Status)
}

func TestRecorderDropsWhenFull(t *testing.T) {
	r := NewRecorder(zaptest.NewLogger(t), 1)
	r.JobEvent(core.JobEvent{Type: core.JobQueued, JobID: "1"})
	r.JobEvent(core.JobEvent{Type: core.JobQueued, JobID: "2"})
	assert.Len(t, r.queue, 1)
}
