package pipeline

import (
	"context"
	"time"

	"github.com/kiranshivaraju/picflow/internal/store"
	"github.com/kiranshivaraju/picflow/pkg/models"
)

// advance records a transition on every status sink. The status table and
// the picture row are required; the cache mirror and events are best effort.
func (p *Pipeline) advance(ctx context.Context, r *jobRun, st models.ProcessingStatus, progress int, opts ...store.PictureUpdateOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.report(ctx, r, st, progress, "", opts...); err != nil {
		return err
	}
	r.progress = progress
	return nil
}

// fail marks the job Failed. It runs after the job's context may have
// expired, so the writes get their own deadline.
func (p *Pipeline) fail(ctx context.Context, r *jobRun, cause error) {
	r.log.Error("picture processing failed", "progress", r.progress, "error", cause)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.reportTimeout)
	defer cancel()

	if err := p.report(ctx, r, models.StatusFailed, r.progress, cause.Error()); err != nil {
		r.log.Error("failed to persist failure status", "error", err)
	}
}

func (p *Pipeline) report(ctx context.Context, r *jobRun, st models.ProcessingStatus, progress int, errMsg string, opts ...store.PictureUpdateOption) error {
	if p.statuses != nil {
		p.statuses.Update(r.job.PictureID, st, progress, errMsg)
	}

	updates := make([]store.PictureUpdateOption, 0, len(opts)+2)
	updates = append(updates, store.WithProcessingState(st, progress))
	if errMsg != "" {
		updates = append(updates, store.WithProcessingError(errMsg))
	}
	updates = append(updates, opts...)
	if err := p.store.UpdatePicture(ctx, r.job.PictureID, updates...); err != nil {
		return err
	}

	rec := p.snapshot(r, st, progress, errMsg)
	if p.cache != nil {
		if err := p.cache.SetPictureStatus(ctx, rec, p.statusTTL); err != nil {
			r.log.Warn("status cache write failed", "error", err)
		}
	}
	ev := models.ProcessingEvent{
		PictureID:  r.job.PictureID,
		JobID:      r.job.ID,
		UserID:     r.owner,
		Status:     st,
		Progress:   rec.Progress,
		Error:      errMsg,
		OccurredAt: time.Now().UTC(),
	}
	if err := p.events.Publish(ctx, ev); err != nil {
		r.log.Warn("status event publish failed", "error", err)
	}
	return nil
}

// snapshot prefers the status table's record, which holds the display name
// and creation time, and builds one from the job when the picture is untracked.
func (p *Pipeline) snapshot(r *jobRun, st models.ProcessingStatus, progress int, errMsg string) models.ProcessingStatusRecord {
	if p.statuses != nil {
		if rec, ok := p.statuses.Get(r.job.PictureID); ok && rec.JobID == r.job.ID {
			return rec
		}
	}
	rec := models.ProcessingStatusRecord{
		PictureID: r.job.PictureID,
		JobID:     r.job.ID,
		UserID:    r.owner,
		Status:    st,
		Progress:  progress,
		Error:     errMsg,
		CreatedAt: r.job.CreatedAt,
	}
	if r.picture != nil {
		rec.Name = r.picture.Name
	}
	if st.IsTerminal() {
		now := time.Now().UTC()
		rec.CompletedAt = &now
	}
	return rec
}
