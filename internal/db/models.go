package db

import (
	"time"
)

const (
	JobStatusQueued    = "queued"
	JobStatusPrinting  = "printing"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusDropped   = "dropped"
	JobStatusAborted   = "aborted"
)

// TerminalStatuses are the statuses a job never leaves.
var TerminalStatuses = []string{JobStatusCompleted, JobStatusFailed, JobStatusDropped, JobStatusAborted}

type PrintJob struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	Width        int        `json:"width"`
	Height       int        `json:"height"`
	PayloadBytes int        `json:"payload_bytes"`
	Chunks       int        `json:"chunks"`
	Reason       string     `json:"reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
}

type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

type StateChange struct {
	ID        int64     `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	CreatedAt time.Time `json:"created_at"`
}

type PrintCounter struct {
	Date  string `json:"date"`
	Jobs  int64  `json:"jobs"`
	Bytes int64  `json:"bytes"`
}

type ArchiveJob struct {
	ID            int64     `json:"id"`
	OriginalJobID string    `json:"original_job_id"`
	ArchiveFile   string    `json:"archive_file"`
	ArchivedAt    time.Time `json:"archived_at"`
}

type JobFilter struct {
	Status   string
	FromDate *time.Time
	ToDate   *time.Time
	OrderDir string
	Limit    int
	Offset   int
}
