package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/kiranshivaraju/picflow/internal/store"
	"github.com/kiranshivaraju/picflow/pkg/models"
)

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	log := q.log.With("worker_id", id)

	for {
		select {
		case <-q.quit:
			return
		case job := <-q.jobs:
			if q.Closed() {
				log.Info("queue closed, leaving job pending", "picture_id", job.PictureID, "job_id", job.ID)
				return
			}
			q.run(log, job)
		}
	}
}

// run executes one job while holding a permit. A panic or error from the
// processor never escapes; the worker moves on to the next job.
func (q *Queue) run(log *slog.Logger, job models.ProcessingJob) {
	if err := q.permits.Acquire(q.jobCtx, 1); err != nil {
		return
	}
	defer q.permits.Release(1)

	ctx := q.jobCtx
	if q.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.jobTimeout)
		defer cancel()
	}

	log = log.With("picture_id", job.PictureID, "job_id", job.ID)
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("worker recovered from panic", "panic", rec, "stack", string(debug.Stack()))
			q.markFailed(job.PictureID, fmt.Sprintf("panic: %v", rec))
		}
	}()

	log.Debug("job started")
	if err := q.processor.Process(ctx, job); err != nil {
		log.Warn("job finished with error", "error", err)
		return
	}
	log.Debug("job finished")
}

// markFailed is the worker-level fallback for processors that panic
// without reporting their own failure.
func (q *Queue) markFailed(pictureID int64, msg string) {
	progress := 0
	if rec, ok := q.statuses.Get(pictureID); ok {
		progress = rec.Progress
	}
	q.statuses.Update(pictureID, models.StatusFailed, progress, msg)

	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()
	err := q.store.UpdatePicture(ctx, pictureID,
		store.WithProcessingState(models.StatusFailed, progress),
		store.WithProcessingError(msg))
	if err != nil {
		q.log.Error("failed to persist failure status", "picture_id", pictureID, "error", err)
	}
	if rec, ok := q.statuses.Get(pictureID); ok {
		q.mirrorStatus(ctx, rec)
	}
}
