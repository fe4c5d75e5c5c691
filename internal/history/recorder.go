// Package history persists controller events into the job history tables.
package history

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/catspool/internal/core"
	"github.com/orrn/catspool/internal/db"
)

const defaultQueueSize = 256

type record struct {
	state *stateRecord
	job   *core.JobEvent
}

type stateRecord struct {
	from, to core.ConnectionState
	at       time.Time
}

// Recorder is a core.Observer that writes job and state transitions to
// sqlite on its own goroutine so the controller loop never waits on disk.
type Recorder struct {
	queue    chan record
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *zap.Logger
}

func NewRecorder(logger *zap.Logger, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		queue:  make(chan record, queueSize),
		stopCh: make(chan struct{}),
		logger: logger.Named("history"),
	}
}

func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop flushes records already queued and waits for the writer to exit.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	r.wg.Wait()
}

func (r *Recorder) StateChanged(from, to core.ConnectionState) {
	r.enqueue(record{state: &stateRecord{from: from, to: to, at: time.Now()}})
}

func (r *Recorder) JobEvent(ev core.JobEvent) {
	r.enqueue(record{job: &ev})
}

func (r *Recorder) enqueue(rec record) {
	select {
	case r.queue <- rec:
	default:
		r.logger.Warn("history queue full, dropping record")
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case rec := <-r.queue:
			r.write(rec)
		case <-r.stopCh:
			for {
				select {
				case rec := <-r.queue:
					r.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(rec record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if rec.state != nil {
		if err := db.StateLog.Record(ctx, rec.state.from.String(), rec.state.to.String(), rec.state.at); err != nil {
			r.logger.Error("failed to record state change", zap.Error(err))
		}
		return
	}

	if err := Apply(ctx, *rec.job); err != nil {
		r.logger.Error("failed to record job event",
			zap.String("job_id", rec.job.JobID),
			zap.String("event", string(rec.job.Type)),
			zap.Error(err),
		)
	}
}

// Apply writes a single job event to the history tables.
func Apply(ctx context.Context, ev core.JobEvent) error {
	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}

	switch ev.Type {
	case core.JobQueued:
		return db.Jobs.CreateJob(ctx, &db.PrintJob{
			ID:        ev.JobID,
			Status:    db.JobStatusQueued,
			CreatedAt: at,
		})
	case core.JobDropped:
		return db.Jobs.CreateJob(ctx, &db.PrintJob{
			ID:          ev.JobID,
			Status:      db.JobStatusDropped,
			Reason:      ev.Reason,
			CreatedAt:   at,
			CompletedAt: &at,
		})
	case core.JobStarted:
		return db.Jobs.MarkStarted(ctx, ev.JobID, ev.Width, ev.Height, ev.Bytes, at)
	case core.JobCompleted:
		if err := db.Jobs.MarkFinished(ctx, ev.JobID, db.JobStatusCompleted, "", ev.Chunks, at); err != nil {
			return err
		}
		return db.Counters.IncrementDailyCounter(ctx, at, ev.Bytes)
	case core.JobFailed:
		return db.Jobs.MarkFinished(ctx, ev.JobID, db.JobStatusFailed, ev.Reason, ev.Chunks, at)
	case core.JobAborted:
		return db.Jobs.MarkFinished(ctx, ev.JobID, db.JobStatusAborted, ev.Reason, ev.Chunks, at)
	}
	return nil
}
