package archive

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/orrn/catspool/internal/db"
)

func setupArchiver(t *testing.T, now time.Time) *Archiver {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, db.Init(db.Config{Path: filepath.Join(dir, "main.db")}))
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	a, err := NewArchiver(ArchiveConfig{ArchivePath: filepath.Join(dir, "archives"), ArchiveDays: 30}, zaptest.NewLogger(t))
	require.NoError(t, err)
	a.now = func() time.Time { return now }
	return a
}

func finishedJob(t *testing.T, id, status string, at time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.Jobs.CreateJob(ctx, &db.PrintJob{ID: id, Status: db.JobStatusQueued, CreatedAt: at}))
	if status != db.JobStatusQueued {
		require.NoError(t, db.Jobs.MarkFinished(ctx, id, status, "", 3, at))
	}
}

func TestRunArchiveMovesOldTerminalJobs(t *testing.T) {
	now := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)
	a := setupArchiver(t, now)
	ctx := context.Background()

	old := now.AddDate(0, 0, -45)
	finishedJob(t, "old-done", db.JobStatusCompleted, old)
	finishedJob(t, "old-failed", db.JobStatusFailed, old)
	finishedJob(t, "old-queued", db.JobStatusQueued, old)
	finishedJob(t, "recent", db.JobStatusCompleted, now.AddDate(0, 0, -2))

	n, err := a.RunArchive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = db.Jobs.GetJobByID(ctx, "old-done")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	_, err = db.Jobs.GetJobByID(ctx, "old-queued")
	assert.NoError(t, err)
	_, err = db.Jobs.GetJobByID(ctx, "recent")
	assert.NoError(t, err)

	archived, err := db.Archive.GetArchiveJobs(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, archived, 2)
	for _, rec := range archived {
		assert.Equal(t, "archive_2026_05.db", rec.ArchiveFile)
	}

	archiveDB, err := sql.Open("sqlite3", filepath.Join(a.GetArchivePath(), "archive_2026_05.db"))
	require.NoError(t, err)
	defer archiveDB.Close()
	var count int
	require.NoError(t, archiveDB.QueryRow("SELECT COUNT(*) FROM print_jobs").Scan(&count))
	assert.Equal(t, 2, count)

	info, err := a.GetArchiveInfo(ctx, "archive_2026_05.db")
	require.NoError(t, err)
	assert.Equal(t, 2, info.JobCount)
	assert.Equal(t, "2026_05", info.DateRange)

	n, err = a.RunArchive(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListAndDeleteArchives(t *testing.T) {
	now := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)
	a := setupArchiver(t, now)
	ctx := context.Background()

	finishedJob(t, "x", db.JobStatusCompleted, now.AddDate(0, -2, 0))
	_, err := a.RunArchive(ctx)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(a.GetArchivePath(), "notes.txt"), []byte("hi"), 0644))

	list, err := a.ListArchives()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "archive_2026_05.db", list[0].Filename)

	require.NoError(t, a.DeleteArchive(ctx, "archive_2026_05.db"))
	list, err = a.ListArchives()
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.ErrorIs(t, a.DeleteArchive(ctx, "archive_2026_05.db"), ErrArchiveNotFound)
	assert.ErrorIs(t, a.DeleteArchive(ctx, "../main.db"), ErrArchiveNotFound)
	_, err = a.GetArchiveInfo(ctx, "archive_../../x.db")
	assert.ErrorIs(t, err, ErrArchiveNotFound)
}

func TestArchiveDays(t *testing.T) {
	a := setupArchiver(t, time.Now())
	assert.Equal(t, 30, a.GetArchiveDays())
	a.SetArchiveDays(7)
	assert.Equal(t, 7, a.GetArchiveDays())
}
