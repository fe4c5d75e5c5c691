package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	require.NoError(t, Init(Config{Path: filepath.Join(t.TempDir(), "test.db")}))
	t.Cleanup(func() {
		require.NoError(t, Close())
	})
}

func TestInitIsIdempotent(t *testing.T) {
	setupTestDB(t)
	first := GetDB()
	require.NoError(t, Init(Config{Path: filepath.Join(t.TempDir(), "other.db")}))
	assert.Same(t, first, GetDB())
}

func TestMigrationsRecorded(t *testing.T) {
	setupTestDB(t)
	var n int
	require.NoError(t, GetDB().QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n))
	assert.Equal(t, 1, n)

	require.NoError(t, runMigrations(GetDB(), migrationsFS))
	require.NoError(t, GetDB().QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestOperationsRequireInit(t *testing.T) {
	_, err := Jobs.GetJobByID(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestJobLifecycle(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, Jobs.CreateJob(ctx, &PrintJob{ID: "a", Status: JobStatusQueued, CreatedAt: created}))
	// A second insert for the same id is ignored.
	require.NoError(t, Jobs.CreateJob(ctx, &PrintJob{ID: "a", Status: JobStatusDropped, CreatedAt: created}))

	j, err := Jobs.GetJobByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, JobStatusQueued, j.Status)
	assert.True(t, created.Equal(j.CreatedAt))
	assert.Nil(t, j.StartedAt)
	assert.Nil(t, j.CompletedAt)

	started := created.Add(time.Second)
	require.NoError(t, Jobs.MarkStarted(ctx, "a", 384, 100, 5000, started))
	finished := started.Add(3 * time.Second)
	require.NoError(t, Jobs.MarkFinished(ctx, "a", JobStatusCompleted, "", 28, finished))

	j, err = Jobs.GetJobByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, j.Status)
	assert.Equal(t, 384, j.Width)
	assert.Equal(t, 100, j.Height)
	assert.Equal(t, 5000, j.PayloadBytes)
	assert.Equal(t, 28, j.Chunks)
	require.NotNil(t, j.StartedAt)
	require.NotNil(t, j.CompletedAt)
	assert.True(t, finished.Equal(*j.CompletedAt))

	_, err = Jobs.GetJobByID(ctx, "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestListAndCountJobs(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, status := range []string{JobStatusCompleted, JobStatusFailed, JobStatusCompleted, JobStatusQueued} {
		require.NoError(t, Jobs.CreateJob(ctx, &PrintJob{
			ID:        string(rune('a' + i)),
			Status:    status,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := Jobs.ListJobs(ctx, JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "d", all[0].ID)

	asc, err := Jobs.ListJobs(ctx, JobFilter{OrderDir: "asc", Limit: 2})
	require.NoError(t, err)
	require.Len(t, asc, 2)
	assert.Equal(t, "a", asc[0].ID)

	completed, err := Jobs.ListJobs(ctx, JobFilter{Status: JobStatusCompleted})
	require.NoError(t, err)
	assert.Len(t, completed, 2)

	counts, err := Jobs.CountJobsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"completed": 2, "failed": 1, "queued": 1}, counts)
}

func TestAbortUnfinished(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, Jobs.CreateJob(ctx, &PrintJob{ID: "q", Status: JobStatusQueued}))
	require.NoError(t, Jobs.CreateJob(ctx, &PrintJob{ID: "p", Status: JobStatusQueued}))
	require.NoError(t, Jobs.MarkStarted(ctx, "p", 384, 1, 10, time.Now()))
	require.NoError(t, Jobs.CreateJob(ctx, &PrintJob{ID: "c", Status: JobStatusCompleted}))

	n, err := Jobs.AbortUnfinished(ctx, "restart")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	j, err := Jobs.GetJobByID(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, JobStatusAborted, j.Status)
	assert.Equal(t, "restart", j.Reason)
}

func TestJobsForArchival(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()

	require.NoError(t, Jobs.CreateJob(ctx, &PrintJob{ID: "old", Status: JobStatusQueued, CreatedAt: old}))
	require.NoError(t, Jobs.MarkFinished(ctx, "old", JobStatusCompleted, "", 1, old))
	require.NoError(t, Jobs.CreateJob(ctx, &PrintJob{ID: "new", Status: JobStatusQueued}))
	require.NoError(t, Jobs.MarkFinished(ctx, "new", JobStatusCompleted, "", 1, recent))
	require.NoError(t, Jobs.CreateJob(ctx, &PrintJob{ID: "stuck", Status: JobStatusQueued, CreatedAt: old}))

	jobs, err := Jobs.GetJobsForArchival(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "old", jobs[0].ID)
}

func TestSettings(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	_, err := Settings.GetSetting(ctx, "jwt_secret")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	require.NoError(t, Settings.SetSetting(ctx, "jwt_secret", "one"))
	require.NoError(t, Settings.SetSetting(ctx, "jwt_secret", "two"))
	s, err := Settings.GetSetting(ctx, "jwt_secret")
	require.NoError(t, err)
	assert.Equal(t, "two", s.Value)

	require.NoError(t, Settings.DeleteSetting(ctx, "jwt_secret"))
	_, err = Settings.GetSetting(ctx, "jwt_secret")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestStateLogAndCounters(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, StateLog.Record(ctx, "disconnected", "discovering", now))
	require.NoError(t, StateLog.Record(ctx, "discovering", "connecting", now))
	changes, err := StateLog.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "connecting", changes[0].To)

	require.NoError(t, Counters.IncrementDailyCounter(ctx, now, 100))
	require.NoError(t, Counters.IncrementDailyCounter(ctx, now, 50))
	counters, err := Counters.GetCounters(ctx, now.Add(-24*time.Hour), now.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, counters, 1)
	assert.Equal(t, int64(2), counters[0].Jobs)
	assert.Equal(t, int64(150), counters[0].Bytes)
}
