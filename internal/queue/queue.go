// Package queue is the bounded in-process task queue that feeds picture
// jobs to a fixed pool of workers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/picflow/internal/status"
	"github.com/kiranshivaraju/picflow/internal/store"
	"github.com/kiranshivaraju/picflow/pkg/models"
	"golang.org/x/sync/semaphore"
)

// ErrQueueClosed is returned by Enqueue after Shutdown.
var ErrQueueClosed = errors.New("queue is closed")

const (
	DefaultWorkers  = 4
	DefaultCapacity = 10000
)

// Processor runs one job. Workers call it concurrently.
type Processor interface {
	Process(ctx context.Context, job models.ProcessingJob) error
}

// PictureStore is the persistence the queue needs.
type PictureStore interface {
	GetPicture(ctx context.Context, id int64) (*models.Picture, error)
	UpdatePicture(ctx context.Context, id int64, opts ...store.PictureUpdateOption) error
	ListPicturesByStatus(ctx context.Context, statuses ...models.ProcessingStatus) ([]*models.Picture, error)
}

// SourceChecker reports whether an original is still on its backend.
type SourceChecker interface {
	SourceExists(ctx context.Context, backend, token string) (bool, error)
}

// StatusMirror receives the status records the queue writes itself:
// Pending on enqueue and failures decided outside the processor.
type StatusMirror interface {
	SetPictureStatus(ctx context.Context, rec models.ProcessingStatusRecord, ttl time.Duration) error
}

// Option configures a Queue.
type Option func(*Queue)

// WithWorkers sets the pool size and the number of in-flight permits.
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithCapacity sets how many jobs may wait before Enqueue blocks.
func WithCapacity(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithJobTimeout bounds each job. Zero means no limit.
func WithJobTimeout(d time.Duration) Option {
	return func(q *Queue) {
		q.jobTimeout = d
	}
}

// WithStatusMirror copies queue-side status changes to m, kept for ttl.
func WithStatusMirror(m StatusMirror, ttl time.Duration) Option {
	return func(q *Queue) {
		q.mirror = m
		if ttl > 0 {
			q.statusTTL = ttl
		}
	}
}

// Queue is a bounded FIFO of processing jobs served by a fixed worker pool.
// Jobs start in submission order; completion order is unspecified.
type Queue struct {
	processor  Processor
	statuses   *status.Table
	store      PictureStore
	sources    SourceChecker
	log        *slog.Logger
	workers    int
	capacity   int
	jobTimeout time.Duration
	mirror     StatusMirror
	statusTTL  time.Duration

	jobs    chan models.ProcessingJob
	permits *semaphore.Weighted

	// jobCtx is the parent of every job context. It is cancelled when the
	// shutdown grace period runs out.
	jobCtx    context.Context
	cancelJob context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once
	quit      chan struct{}
	wg        sync.WaitGroup
}

// New creates the queue and starts its workers.
func New(processor Processor, statuses *status.Table, st PictureStore, sources SourceChecker, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		processor: processor,
		statuses:  statuses,
		store:     st,
		sources:   sources,
		log:       logger.With("component", "queue"),
		workers:   DefaultWorkers,
		capacity:  DefaultCapacity,
		statusTTL: 24 * time.Hour,
		quit:      make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	q.jobs = make(chan models.ProcessingJob, q.capacity)
	q.permits = semaphore.NewWeighted(int64(q.workers))
	q.jobCtx, q.cancelJob = context.WithCancel(context.Background())
	q.start()
	return q
}

// start launches the worker pool. Repeated calls are no-ops.
func (q *Queue) start() {
	q.startOnce.Do(func() {
		q.wg.Add(q.workers)
		for i := 0; i < q.workers; i++ {
			go q.worker(i + 1)
		}
		q.log.Info("worker pool started", "workers", q.workers, "capacity", q.capacity)
	})
}

// Enqueue records the picture as Pending and queues a job for it. It blocks
// while the queue is full until space frees up, ctx is done or the queue
// shuts down.
func (q *Queue) Enqueue(ctx context.Context, pictureID int64, originalPath string) (uuid.UUID, error) {
	if q.Closed() {
		return uuid.Nil, ErrQueueClosed
	}
	q.start()

	job := models.ProcessingJob{
		ID:           uuid.New(),
		PictureID:    pictureID,
		OriginalPath: originalPath,
		CreatedAt:    time.Now().UTC(),
	}
	name := filepath.Base(originalPath)

	pic, err := q.store.GetPicture(ctx, pictureID)
	if err != nil {
		q.log.Warn("could not resolve picture owner", "picture_id", pictureID, "error", err)
	} else {
		job.UserID = pic.UserID
		if pic.Name != "" {
			name = pic.Name
		}
	}

	pending := models.ProcessingStatusRecord{
		PictureID: pictureID,
		JobID:     job.ID,
		Name:      name,
		UserID:    job.UserID,
		Status:    models.StatusPending,
		CreatedAt: job.CreatedAt,
	}
	q.statuses.Track(pending)
	q.mirrorStatus(ctx, pending)
	if err := q.store.UpdatePicture(ctx, pictureID, store.WithProcessingState(models.StatusPending, 0)); err != nil {
		q.log.Warn("failed to persist pending status", "picture_id", pictureID, "error", err)
	}

	select {
	case q.jobs <- job:
		return job.ID, nil
	default:
	}

	q.log.Warn("queue full, enqueue blocking", "picture_id", pictureID, "capacity", q.capacity)
	select {
	case q.jobs <- job:
		return job.ID, nil
	case <-q.quit:
		return uuid.Nil, ErrQueueClosed
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	}
}

// mirrorStatus copies rec to the status mirror, if any. Failures are logged.
func (q *Queue) mirrorStatus(ctx context.Context, rec models.ProcessingStatusRecord) {
	if q.mirror == nil {
		return
	}
	if err := q.mirror.SetPictureStatus(ctx, rec, q.statusTTL); err != nil {
		q.log.Warn("failed to mirror status", "picture_id", rec.PictureID, "status", rec.Status, "error", err)
	}
}

// GetUserTasks returns the user's Pending and Processing jobs, newest first.
func (q *Queue) GetUserTasks(userID int64) []models.ProcessingStatusRecord {
	return q.statuses.ListByUser(userID)
}

// GetPictureStatus returns the status of the picture's most recent job in
// this process, if any.
func (q *Queue) GetPictureStatus(pictureID int64) (models.ProcessingStatusRecord, bool) {
	return q.statuses.Get(pictureID)
}

// Len returns the number of jobs waiting for a worker.
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Workers returns the pool size.
func (q *Queue) Workers() int {
	return q.workers
}

// Closed reports whether Shutdown has been called.
func (q *Queue) Closed() bool {
	select {
	case <-q.quit:
		return true
	default:
		return false
	}
}

// Shutdown stops accepting jobs and waits for in-flight jobs until ctx is
// done. Jobs still queued keep their Pending row for the next restore.
// Jobs running when ctx expires are cancelled and stay in Processing.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.stopOnce.Do(func() {
		close(q.quit)
		q.log.Info("queue shutting down", "queued", len(q.jobs))
	})

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancelJob()
		q.log.Info("queue drained")
		return nil
	case <-ctx.Done():
		q.cancelJob()
		q.log.Warn("shutdown grace period expired, abandoning in-flight jobs")
		return fmt.Errorf("queue shutdown: %w", ctx.Err())
	}
}
