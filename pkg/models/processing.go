package models

import (
	"time"

	"github.com/google/uuid"
)

// ProcessingJob is one unit of queued work. It is immutable once enqueued.
type ProcessingJob struct {
	ID           uuid.UUID `json:"id"`
	PictureID    int64     `json:"picture_id"`
	OriginalPath string    `json:"original_path"`
	UserID       *int64    `json:"user_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ProcessingStatusRecord is the in-memory view of a picture's current job.
type ProcessingStatusRecord struct {
	PictureID   int64            `json:"picture_id"`
	JobID       uuid.UUID        `json:"job_id"`
	Name        string           `json:"name"`
	UserID      *int64           `json:"user_id,omitempty"`
	Status      ProcessingStatus `json:"status"`
	Progress    int              `json:"progress"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// ProcessingEvent is published on every status transition of a job.
type ProcessingEvent struct {
	PictureID  int64            `json:"picture_id"`
	JobID      uuid.UUID        `json:"job_id"`
	UserID     *int64           `json:"user_id,omitempty"`
	Status     ProcessingStatus `json:"status"`
	Progress   int              `json:"progress"`
	Error      string           `json:"error,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}
