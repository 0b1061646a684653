// Package models contains shared data models used across the PicFlow codebase.
package models

import (
	"time"
)

// ProcessingStatus is the lifecycle state of a picture's processing job.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "Pending"
	StatusProcessing ProcessingStatus = "Processing"
	StatusCompleted  ProcessingStatus = "Completed"
	StatusFailed     ProcessingStatus = "Failed"
)

// IsTerminal reports whether no further transitions can happen for the job.
func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsActive reports whether the job is still queued or running.
func (s ProcessingStatus) IsActive() bool {
	return s == StatusPending || s == StatusProcessing
}

// Picture is the persisted picture row. The pipeline fills the derived
// fields (thumbnail, EXIF, capture time, embedding, tags) stage by stage.
type Picture struct {
	ID                 int64            `db:"id"                  json:"id"`
	UserID             *int64           `db:"user_id"             json:"user_id,omitempty"`
	Name               string           `db:"name"                json:"name"`
	Description        string           `db:"description"         json:"description"`
	OriginalPath       string           `db:"original_path"       json:"original_path"`
	ThumbnailPath      *string          `db:"thumbnail_path"      json:"thumbnail_path,omitempty"`
	StorageBackend     string           `db:"storage_backend"     json:"storage_backend"`
	ContentType        string           `db:"content_type"        json:"content_type"`
	FileSize           int64            `db:"file_size"           json:"file_size"`
	Exif               *ExifInfo        `db:"exif"                json:"exif,omitempty"`
	TakenAt            *time.Time       `db:"taken_at"            json:"taken_at,omitempty"`
	Embedding          []float32        `db:"embedding"           json:"-"`
	ProcessingStatus   ProcessingStatus `db:"processing_status"   json:"processing_status"`
	ProcessingProgress int              `db:"processing_progress" json:"processing_progress"`
	ProcessingError    *string          `db:"processing_error"    json:"processing_error,omitempty"`
	CreatedAt          time.Time        `db:"created_at"          json:"created_at"`
	UpdatedAt          time.Time        `db:"updated_at"          json:"updated_at"`
}

// Tag is a case-insensitively unique label attached to pictures and users.
type Tag struct {
	ID          int64     `db:"id"          json:"id"`
	Name        string    `db:"name"        json:"name"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at"  json:"created_at"`
}

// ExifInfo is the subset of EXIF attributes kept on a picture.
// Error carries a non-fatal extraction failure.
type ExifInfo struct {
	Make             string   `json:"make,omitempty"`
	Model            string   `json:"model,omitempty"`
	Software         string   `json:"software,omitempty"`
	ExposureTime     string   `json:"exposure_time,omitempty"`
	FNumber          *float64 `json:"f_number,omitempty"`
	ISO              *int     `json:"iso,omitempty"`
	FocalLength      *float64 `json:"focal_length,omitempty"`
	Flash            string   `json:"flash,omitempty"`
	MeteringMode     string   `json:"metering_mode,omitempty"`
	WhiteBalance     string   `json:"white_balance,omitempty"`
	DateTimeOriginal string   `json:"date_time_original,omitempty"`
	Latitude         *float64 `json:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty"`
	Error            string   `json:"error,omitempty"`
}
