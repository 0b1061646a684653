// Package status holds the in-memory processing status of pictures.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/kiranshivaraju/picflow/pkg/models"
)

// Table maps picture IDs to the status of their most recent job.
// It is safe for concurrent use; readers always get copies.
type Table struct {
	mu      sync.RWMutex
	records map[int64]*models.ProcessingStatusRecord
	now     func() time.Time
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{
		records: make(map[int64]*models.ProcessingStatusRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Track starts a record for a newly enqueued job, replacing any record
// left by a previous job for the same picture.
func (t *Table) Track(rec models.ProcessingStatusRecord) {
	if rec.Status == "" {
		rec.Status = models.StatusPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = t.now()
	}
	rec.Progress = clampProgress(rec.Progress)
	rec.CompletedAt = nil

	t.mu.Lock()
	t.records[rec.PictureID] = &rec
	t.mu.Unlock()
}

// Update applies a transition reported by the worker running the picture's job.
// It returns false when the picture is unknown or its record is already terminal.
// Progress never moves backwards while the job is running.
func (t *Table) Update(pictureID int64, st models.ProcessingStatus, progress int, errMsg string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[pictureID]
	if !ok || rec.Status.IsTerminal() {
		return false
	}

	progress = clampProgress(progress)
	if st != models.StatusFailed && progress < rec.Progress {
		progress = rec.Progress
	}

	rec.Status = st
	rec.Progress = progress
	rec.Error = errMsg
	if st.IsTerminal() {
		done := t.now()
		rec.CompletedAt = &done
	}
	return true
}

// Get returns a copy of the picture's record.
func (t *Table) Get(pictureID int64) (models.ProcessingStatusRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[pictureID]
	if !ok {
		return models.ProcessingStatusRecord{}, false
	}
	return *rec, true
}

// ListByUser returns the user's Pending and Processing records, newest first.
func (t *Table) ListByUser(userID int64) []models.ProcessingStatusRecord {
	t.mu.RLock()
	out := make([]models.ProcessingStatusRecord, 0)
	for _, rec := range t.records {
		if rec.UserID == nil || *rec.UserID != userID || !rec.Status.IsActive() {
			continue
		}
		out = append(out, *rec)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].PictureID > out[j].PictureID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// CountByStatus returns how many records currently have the given status.
func (t *Table) CountByStatus(st models.ProcessingStatus) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, rec := range t.records {
		if rec.Status == st {
			n++
		}
	}
	return n
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
