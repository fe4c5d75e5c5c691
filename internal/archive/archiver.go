package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/orrn/catspool/internal/db"
)

var ErrArchiveNotFound = errors.New("archive not found")

type Archiver struct {
	archivePath string
	archiveDays int
	interval    time.Duration
	now         func() time.Time
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	mu          sync.Mutex
	logger      *zap.Logger
}

type ArchiveFile struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	JobCount  int       `json:"job_count"`
	DateRange string    `json:"date_range"`
}

type ArchiveConfig struct {
	ArchivePath string
	ArchiveDays int
	Interval    time.Duration
}

func NewArchiver(config ArchiveConfig, logger *zap.Logger) (*Archiver, error) {
	if config.ArchivePath == "" {
		config.ArchivePath = "./data/archives"
	}
	if config.ArchiveDays <= 0 {
		config.ArchiveDays = 30
	}
	if config.Interval <= 0 {
		config.Interval = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(config.ArchivePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &Archiver{
		archivePath: config.ArchivePath,
		archiveDays: config.ArchiveDays,
		interval:    config.Interval,
		now:         time.Now,
		stopCh:      make(chan struct{}),
		logger:      logger.Named("archive"),
	}, nil
}

func (a *Archiver) Start() {
	a.wg.Add(1)
	go a.runPeriodic()
}

func (a *Archiver) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
	})
	a.wg.Wait()
}

func (a *Archiver) runPeriodic() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			n, err := a.RunArchive(context.Background())
			if err != nil {
				a.logger.Error("archive run failed", zap.Error(err))
				continue
			}
			if n > 0 {
				a.logger.Info("archived jobs", zap.Int("count", n))
			}
		}
	}
}

// RunArchive moves finished jobs older than the retention window into the
// archive database for the current month and returns how many were moved.
func (a *Archiver) RunArchive(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	cutoff := now.AddDate(0, 0, -a.archiveDays)

	jobs, err := db.Jobs.GetJobsForArchival(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to get jobs for archival: %w", err)
	}

	if len(jobs) == 0 {
		return 0, nil
	}

	filename := fmt.Sprintf("archive_%s.db", now.Format("2006_01"))
	archiveDB, err := openOrCreateArchiveDB(filepath.Join(a.archivePath, filename))
	if err != nil {
		return 0, fmt.Errorf("failed to create archive database: %w", err)
	}
	defer archiveDB.Close()

	tx, err := archiveDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin archive transaction: %w", err)
	}

	for _, job := range jobs {
		if err := insertJobToArchive(ctx, tx, job); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("failed to insert job to archive: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO archive_metadata (id, archived_at, source_database)
		VALUES (1, ?, 'main')
	`, now.UTC()); err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to update archive metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit archive transaction: %w", err)
	}

	for _, job := range jobs {
		if err := db.Jobs.DeleteJob(ctx, job.ID); err != nil {
			return 0, fmt.Errorf("failed to delete archived job: %w", err)
		}
		if err := db.Archive.CreateArchiveJob(ctx, &db.ArchiveJob{OriginalJobID: job.ID, ArchiveFile: filename}); err != nil {
			return 0, fmt.Errorf("failed to record archive job: %w", err)
		}
	}

	return len(jobs), nil
}

func openOrCreateArchiveDB(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(`
		CREATE TABLE IF NOT EXISTS print_jobs (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			width INTEGER NOT NULL DEFAULT 0,
			height INTEGER NOT NULL DEFAULT 0,
			payload_bytes INTEGER NOT NULL DEFAULT 0,
			chunks INTEGER NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			started_at DATETIME,
			completed_at DATETIME
		);

		CREATE TABLE IF NOT EXISTS archive_metadata (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			archived_at DATETIME,
			source_database TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_archive_jobs_completed_at ON print_jobs(completed_at);
		CREATE INDEX IF NOT EXISTS idx_archive_jobs_status ON print_jobs(status);
	`)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return conn, nil
}

func insertJobToArchive(ctx context.Context, tx *sql.Tx, job *db.PrintJob) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO print_jobs (id, status, width, height, payload_bytes, chunks, reason, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.Status, job.Width, job.Height, job.PayloadBytes, job.Chunks,
		job.Reason, job.CreatedAt, job.StartedAt, job.CompletedAt)
	return err
}

func (a *Archiver) ListArchives() ([]*ArchiveFile, error) {
	files, err := os.ReadDir(a.archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var archives []*ArchiveFile
	for _, file := range files {
		if file.IsDir() || !isArchiveName(file.Name()) {
			continue
		}

		info, err := file.Info()
		if err != nil {
			continue
		}

		archives = append(archives, &ArchiveFile{
			Filename:  file.Name(),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
			DateRange: dateRange(file.Name()),
		})
	}

	return archives, nil
}

func (a *Archiver) GetArchiveInfo(ctx context.Context, filename string) (*ArchiveFile, error) {
	if !isArchiveName(filename) {
		return nil, ErrArchiveNotFound
	}

	info, err := os.Stat(filepath.Join(a.archivePath, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrArchiveNotFound
		}
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	archiveFile := &ArchiveFile{
		Filename:  filename,
		Size:      info.Size(),
		CreatedAt: info.ModTime(),
		DateRange: dateRange(filename),
	}

	if n, err := db.Archive.CountByFile(ctx, filename); err == nil {
		archiveFile.JobCount = n
	}

	return archiveFile, nil
}

func (a *Archiver) DeleteArchive(ctx context.Context, filename string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !isArchiveName(filename) {
		return ErrArchiveNotFound
	}

	filePath := filepath.Join(a.archivePath, filename)
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return ErrArchiveNotFound
	}

	if err := os.Remove(filePath); err != nil {
		return fmt.Errorf("failed to delete archive: %w", err)
	}

	n, err := db.Archive.DeleteByFile(ctx, filename)
	if err != nil {
		return err
	}
	a.logger.Info("archive deleted", zap.String("file", filename), zap.Int64("jobs", n))
	return nil
}

func (a *Archiver) SetArchiveDays(days int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archiveDays = days
}

func (a *Archiver) GetArchiveDays() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.archiveDays
}

func (a *Archiver) GetArchivePath() string {
	return a.archivePath
}

// isArchiveName rejects anything that could escape the archive directory.
func isArchiveName(name string) bool {
	return strings.HasPrefix(name, "archive_") &&
		strings.HasSuffix(name, ".db") &&
		filepath.Base(name) == name
}

func dateRange(name string) string {
	return strings.TrimSuffix(strings.TrimPrefix(name, "archive_"), ".db")
}
