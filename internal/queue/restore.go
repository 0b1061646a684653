package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/picflow/internal/pipeline"
	"github.com/kiranshivaraju/picflow/internal/storage"
	"github.com/kiranshivaraju/picflow/internal/store"
	"github.com/kiranshivaraju/picflow/pkg/models"
)

const reportTimeout = 5 * time.Second

// RestoreResult counts what RestoreUnfinished did.
type RestoreResult struct {
	Restored int
	Failed   int
	// Skipped rows could not be checked and were left untouched.
	Skipped int
}

// RestoreUnfinished re-enqueues pictures left Pending or Processing by a
// previous run. Pictures whose original is gone, or whose backend is no
// longer configured, are marked Failed instead. Call once at startup.
func (q *Queue) RestoreUnfinished(ctx context.Context) (RestoreResult, error) {
	var res RestoreResult

	pics, err := q.store.ListPicturesByStatus(ctx, models.StatusPending, models.StatusProcessing)
	if err != nil {
		return res, fmt.Errorf("list unfinished pictures: %w", err)
	}

	for _, pic := range pics {
		exists, err := q.sources.SourceExists(ctx, pic.StorageBackend, pic.OriginalPath)
		switch {
		case errors.Is(err, storage.ErrUnknownBackend):
			exists = false
		case err != nil:
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			q.log.Warn("could not check original, leaving picture for next restore",
				"picture_id", pic.ID, "backend", pic.StorageBackend, "error", err)
			res.Skipped++
			continue
		}

		if !exists {
			msg := fmt.Sprintf("%s: %s", pipeline.ErrOriginalNotFound, pic.OriginalPath)
			err := q.store.UpdatePicture(ctx, pic.ID,
				store.WithProcessingState(models.StatusFailed, pic.ProcessingProgress),
				store.WithProcessingError(msg))
			if err != nil {
				return res, fmt.Errorf("mark picture %d failed: %w", pic.ID, err)
			}
			q.reportRestoreFailure(ctx, pic, msg)
			q.log.Warn("original missing, picture marked failed", "picture_id", pic.ID, "path", pic.OriginalPath)
			res.Failed++
			continue
		}

		if _, err := q.Enqueue(ctx, pic.ID, pic.OriginalPath); err != nil {
			return res, fmt.Errorf("restore picture %d: %w", pic.ID, err)
		}
		res.Restored++
	}

	q.log.Info("unfinished pictures restored",
		"restored", res.Restored, "failed", res.Failed, "skipped", res.Skipped)
	return res, nil
}

// reportRestoreFailure records a restore-time failure in the status table
// and the mirror, replacing whatever a previous run left there.
func (q *Queue) reportRestoreFailure(ctx context.Context, pic *models.Picture, msg string) {
	q.statuses.Track(models.ProcessingStatusRecord{
		PictureID: pic.ID,
		Name:      pic.Name,
		UserID:    pic.UserID,
		Progress:  pic.ProcessingProgress,
	})
	q.statuses.Update(pic.ID, models.StatusFailed, pic.ProcessingProgress, msg)
	if rec, ok := q.statuses.Get(pic.ID); ok {
		q.mirrorStatus(ctx, rec)
	}
}
