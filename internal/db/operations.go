package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type JobOperations struct{}

func (o *JobOperations) CreateJob(ctx context.Context, j *PrintJob) error {
	conn := GetDB()
	if conn == nil {
		return ErrNotInitialized
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	j.CreatedAt = j.CreatedAt.UTC()
	_, err := conn.ExecContext(ctx, InsertJob, j.ID, j.Status, j.Reason, j.CreatedAt, utcPtr(j.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (o *JobOperations) MarkStarted(ctx context.Context, id string, width, height, payloadBytes int, at time.Time) error {
	conn := GetDB()
	if conn == nil {
		return ErrNotInitialized
	}
	_, err := conn.ExecContext(ctx, UpdateJobStarted, width, height, payloadBytes, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark job started: %w", err)
	}
	return nil
}

func (o *JobOperations) MarkFinished(ctx context.Context, id, status, reason string, chunks int, at time.Time) error {
	conn := GetDB()
	if conn == nil {
		return ErrNotInitialized
	}
	_, err := conn.ExecContext(ctx, UpdateJobFinished, status, reason, chunks, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark job finished: %w", err)
	}
	return nil
}

func (o *JobOperations) AbortUnfinished(ctx context.Context, reason string) (int64, error) {
	conn := GetDB()
	if conn == nil {
		return 0, ErrNotInitialized
	}
	res, err := conn.ExecContext(ctx, AbortUnfinishedJobs, reason, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to abort unfinished jobs: %w", err)
	}
	return res.RowsAffected()
}

func (o *JobOperations) GetJobByID(ctx context.Context, id string) (*PrintJob, error) {
	conn := GetDB()
	if conn == nil {
		return nil, ErrNotInitialized
	}
	j := &PrintJob{}
	err := conn.QueryRowContext(ctx, GetJobByID, id).Scan(
		&j.ID, &j.Status, &j.Width, &j.Height, &j.PayloadBytes, &j.Chunks,
		&j.Reason, &j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

func (o *JobOperations) ListJobs(ctx context.Context, filter JobFilter) ([]*PrintJob, error) {
	conn := GetDB()
	if conn == nil {
		return nil, ErrNotInitialized
	}

	var conditions []string
	var args []interface{}

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.FromDate != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.FromDate.UTC())
	}
	if filter.ToDate != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, filter.ToDate.UTC())
	}

	orderDir := "DESC"
	if strings.EqualFold(filter.OrderDir, "asc") {
		orderDir = "ASC"
	}

	query := "SELECT " + jobColumns + " FROM print_jobs"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at %s, id %s", orderDir, orderDir)

	limit := 100
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (o *JobOperations) CountJobsByStatus(ctx context.Context) (map[string]int64, error) {
	conn := GetDB()
	if conn == nil {
		return nil, ErrNotInitialized
	}
	rows, err := conn.QueryContext(ctx, CountJobsByStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (o *JobOperations) GetJobsForArchival(ctx context.Context, before time.Time) ([]*PrintJob, error) {
	conn := GetDB()
	if conn == nil {
		return nil, ErrNotInitialized
	}
	rows, err := conn.QueryContext(ctx, GetJobsForArchival, before.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to get jobs for archival: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (o *JobOperations) DeleteJob(ctx context.Context, id string) error {
	conn := GetDB()
	if conn == nil {
		return ErrNotInitialized
	}
	if _, err := conn.ExecContext(ctx, DeleteJob, id); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func scanJobs(rows *sql.Rows) ([]*PrintJob, error) {
	var jobs []*PrintJob
	for rows.Next() {
		j := &PrintJob{}
		if err := rows.Scan(
			&j.ID, &j.Status, &j.Width, &j.Height, &j.PayloadBytes, &j.Chunks,
			&j.Reason, &j.CreatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func utcPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

type SettingsOperations struct{}

func (o *SettingsOperations) GetSetting(ctx context.Context, key string) (*Setting, error) {
	conn := GetDB()
	if conn == nil {
		return nil, ErrNotInitialized
	}
	s := &Setting{Key: key}
	err := conn.QueryRowContext(ctx, GetSetting, key).Scan(&s.Value, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}
	return s, nil
}

func (o *SettingsOperations) SetSetting(ctx context.Context, key, value string) error {
	conn := GetDB()
	if conn == nil {
		return ErrNotInitialized
	}
	if _, err := conn.ExecContext(ctx, SetSetting, key, value); err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

func (o *SettingsOperations) DeleteSetting(ctx context.Context, key string) error {
	conn := GetDB()
	if conn == nil {
		return ErrNotInitialized
	}
	if _, err := conn.ExecContext(ctx, DeleteSetting, key); err != nil {
		return fmt.Errorf("failed to delete setting: %w", err)
	}
	return nil
}

type StateLogOperations struct{}

func (o *StateLogOperations) Record(ctx context.Context, from, to string, at time.Time) error {
	conn := GetDB()
	if conn == nil {
		return ErrNotInitialized
	}
	if _, err := conn.ExecContext(ctx, InsertStateChange, from, to, at.UTC()); err != nil {
		return fmt.Errorf("failed to record state change: %w", err)
	}
	return nil
}

func (o *StateLogOperations) Recent(ctx context.Context, limit int) ([]*StateChange, error) {
	conn := GetDB()
	if conn == nil {
		return nil, ErrNotInitialized
	}
	rows, err := conn.QueryContext(ctx, ListStateChanges, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list state changes: %w", err)
	}
	defer rows.Close()

	var changes []*StateChange
	for rows.Next() {
		c := &StateChange{}
		if err := rows.Scan(&c.ID, &c.From, &c.To, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan state change: %w", err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

type CounterOperations struct{}

func (o *CounterOperations) IncrementDailyCounter(ctx context.Context, date time.Time, bytes int) error {
	conn := GetDB()
	if conn == nil {
		return ErrNotInitialized
	}
	_, err := conn.ExecContext(ctx, IncrementPrintCounter, date.UTC().Format("2006-01-02"), bytes)
	if err != nil {
		return fmt.Errorf("failed to increment daily counter: %w", err)
	}
	return nil
}

func (o *CounterOperations) GetCounters(ctx context.Context, from, to time.Time) ([]*PrintCounter, error) {
	conn := GetDB()
	if conn == nil {
		return nil, ErrNotInitialized
	}
	rows, err := conn.QueryContext(ctx, GetPrintCountersByDateRange,
		from.UTC().Format("2006-01-02"), to.UTC().Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to get counters: %w", err)
	}
	defer rows.Close()

	var counters []*PrintCounter
	for rows.Next() {
		c := &PrintCounter{}
		if err := rows.Scan(&c.Date, &c.Jobs, &c.Bytes); err != nil {
			return nil, fmt.Errorf("failed to scan counter: %w", err)
		}
		counters = append(counters, c)
	}
	return counters, rows.Err()
}

type ArchiveOperations struct{}

func (o *ArchiveOperations) CreateArchiveJob(ctx context.Context, a *ArchiveJob) error {
	conn := GetDB()
	if conn == nil {
		return ErrNotInitialized
	}
	result, err := conn.ExecContext(ctx, InsertArchiveJob, a.OriginalJobID, a.ArchiveFile)
	if err != nil {
		return fmt.Errorf("failed to create archive job: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get archive job id: %w", err)
	}
	a.ID = id
	return nil
}

func (o *ArchiveOperations) GetArchiveJobs(ctx context.Context, limit, offset int) ([]*ArchiveJob, error) {
	conn := GetDB()
	if conn == nil {
		return nil, ErrNotInitialized
	}
	rows, err := conn.QueryContext(ctx, ListArchiveJobs, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get archive jobs: %w", err)
	}
	defer rows.Close()

	var archives []*ArchiveJob
	for rows.Next() {
		a := &ArchiveJob{}
		if err := rows.Scan(&a.ID, &a.OriginalJobID, &a.ArchiveFile, &a.ArchivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan archive job: %w", err)
		}
		archives = append(archives, a)
	}
	return archives, rows.Err()
}

func (o *ArchiveOperations) CountByFile(ctx context.Context, file string) (int, error) {
	conn := GetDB()
	if conn == nil {
		return 0, ErrNotInitialized
	}
	var n int
	if err := conn.QueryRowContext(ctx, CountArchiveJobsByFile, file).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count archive jobs: %w", err)
	}
	return n, nil
}

// DeleteByFile forgets every job recorded as living in file.
func (o *ArchiveOperations) DeleteByFile(ctx context.Context, file string) (int64, error) {
	conn := GetDB()
	if conn == nil {
		return 0, ErrNotInitialized
	}
	res, err := conn.ExecContext(ctx, DeleteArchiveJobsByFile, file)
	if err != nil {
		return 0, fmt.Errorf("failed to delete archive jobs: %w", err)
	}
	return res.RowsAffected()
}

var (
	Jobs     = &JobOperations{}
	Settings = &SettingsOperations{}
	StateLog = &StateLogOperations{}
	Counters = &CounterOperations{}
	Archive  = &ArchiveOperations{}
)
