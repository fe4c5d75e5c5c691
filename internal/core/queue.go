package core

import (
	"image"
	"time"
)

const DefaultMaxQueuedJobs = 10

// PrintJob is an image waiting for the printer.
type PrintJob struct {
	ID          string
	Image       image.Image
	SubmittedAt time.Time
}

// JobQueue is a bounded FIFO of print jobs. It is not safe for concurrent
// use; the controller loop owns it.
type JobQueue struct {
	jobs     []*PrintJob
	capacity int
}

func NewJobQueue(capacity int) *JobQueue {
	if capacity < 1 {
		capacity = DefaultMaxQueuedJobs
	}
	return &JobQueue{capacity: capacity}
}

// Push appends job unless the queue is full.
func (q *JobQueue) Push(job *PrintJob) bool {
	if len(q.jobs) >= q.capacity {
		return false
	}
	q.jobs = append(q.jobs, job)
	return true
}

func (q *JobQueue) Pop() (*PrintJob, bool) {
	if len(q.jobs) == 0 {
		return nil, false
	}
	job := q.jobs[0]
	q.jobs[0] = nil
	q.jobs = q.jobs[1:]
	return job, true
}

func (q *JobQueue) Len() int {
	return len(q.jobs)
}

func (q *JobQueue) Cap() int {
	return q.capacity
}

func (q *JobQueue) IDs() []string {
	ids := make([]string, len(q.jobs))
	for i, job := range q.jobs {
		ids[i] = job.ID
	}
	return ids
}

// Clear empties the queue and returns what was dropped.
func (q *JobQueue) Clear() []*PrintJob {
	dropped := q.jobs
	q.jobs = nil
	return dropped
}

// CurrentJob is the single transfer in flight.
type CurrentJob struct {
	ID        string
	Width     int
	Height    int
	StartedAt time.Time

	payload []byte
	offset  int
	mtu     int
	stage   TransferState
	chunks  int
}

func newCurrentJob(id string, payload []byte, mtu int) *CurrentJob {
	return &CurrentJob{
		ID:      id,
		payload: payload,
		mtu:     mtu,
		stage:   TransferIdle,
	}
}

func (j *CurrentJob) Stage() TransferState {
	return j.stage
}

// advanceTo moves the job to the next stage. Repeating the current stage is
// a no-op and any other move is refused.
func (j *CurrentJob) advanceTo(s TransferState) bool {
	if s == j.stage {
		return true
	}
	if s != j.stage+1 {
		return false
	}
	j.stage = s
	return true
}

// nextChunk slices at most mtu bytes from the send offset. It returns nil
// once the payload is exhausted.
func (j *CurrentJob) nextChunk() []byte {
	if j.offset >= len(j.payload) {
		return nil
	}
	end := j.offset + j.mtu
	if end > len(j.payload) {
		end = len(j.payload)
	}
	chunk := j.payload[j.offset:end]
	j.offset = end
	j.chunks++
	return chunk
}

func (j *CurrentJob) Offset() int {
	return j.offset
}

func (j *CurrentJob) Total() int {
	return len(j.payload)
}

func (j *CurrentJob) progress() *JobProgress {
	return &JobProgress{
		ID:     j.ID,
		Stage:  j.stage,
		Offset: j.offset,
		Total:  len(j.payload),
	}
}
