package status_test

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/picflow/internal/status"
	"github.com/kiranshivaraju/picflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userID(id int64) *int64 { return &id }

func track(tbl *status.Table, pictureID int64, owner *int64, createdAt time.Time) uuid.UUID {
	jobID := uuid.New()
	tbl.Track(models.ProcessingStatusRecord{
		PictureID: pictureID,
		JobID:     jobID,
		Name:      "photo.jpg",
		UserID:    owner,
		CreatedAt: createdAt,
	})
	return jobID
}

// --- Track / Get ---

func TestTrack_CreatesPendingRecord(t *testing.T) {
	tbl := status.NewTable()
	jobID := track(tbl, 42, userID(1), time.Time{})

	rec, ok := tbl.Get(42)
	require.True(t, ok)
	assert.Equal(t, jobID, rec.JobID)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, 0, rec.Progress)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.Nil(t, rec.CompletedAt)
}

func TestGet_UnknownPicture(t *testing.T) {
	tbl := status.NewTable()
	_, ok := tbl.Get(99)
	assert.False(t, ok)
}

func TestGet_ReturnsCopy(t *testing.T) {
	tbl := status.NewTable()
	track(tbl, 1, nil, time.Time{})

	rec, _ := tbl.Get(1)
	rec.Progress = 77

	again, _ := tbl.Get(1)
	assert.Equal(t, 0, again.Progress)
}

func TestTrack_ResetsTerminalRecord(t *testing.T) {
	tbl := status.NewTable()
	track(tbl, 5, nil, time.Time{})
	require.True(t, tbl.Update(5, models.StatusFailed, 30, "boom"))

	newJob := track(tbl, 5, nil, time.Time{})

	rec, ok := tbl.Get(5)
	require.True(t, ok)
	assert.Equal(t, newJob, rec.JobID)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, 0, rec.Progress)
	assert.Empty(t, rec.Error)
	assert.Nil(t, rec.CompletedAt)
}

// --- Update ---

func TestUpdate_ProgressNeverDecreases(t *testing.T) {
	tbl := status.NewTable()
	track(tbl, 1, nil, time.Time{})

	require.True(t, tbl.Update(1, models.StatusProcessing, 50, ""))
	require.True(t, tbl.Update(1, models.StatusProcessing, 20, ""))

	rec, _ := tbl.Get(1)
	assert.Equal(t, 50, rec.Progress)
}

func TestUpdate_ClampsProgress(t *testing.T) {
	tbl := status.NewTable()
	track(tbl, 1, nil, time.Time{})

	tbl.Update(1, models.StatusProcessing, 150, "")
	rec, _ := tbl.Get(1)
	assert.Equal(t, 100, rec.Progress)
}

func TestUpdate_TerminalSetsCompletedAt(t *testing.T) {
	tbl := status.NewTable()
	track(tbl, 1, nil, time.Time{})

	require.True(t, tbl.Update(1, models.StatusCompleted, 100, ""))
	rec, _ := tbl.Get(1)
	assert.Equal(t, models.StatusCompleted, rec.Status)
	require.NotNil(t, rec.CompletedAt)
}

func TestUpdate_NoTransitionOutOfTerminal(t *testing.T) {
	tbl := status.NewTable()
	track(tbl, 1, nil, time.Time{})
	require.True(t, tbl.Update(1, models.StatusCompleted, 100, ""))

	assert.False(t, tbl.Update(1, models.StatusProcessing, 10, ""))
	assert.False(t, tbl.Update(1, models.StatusFailed, 10, "late"))

	rec, _ := tbl.Get(1)
	assert.Equal(t, models.StatusCompleted, rec.Status)
	assert.Empty(t, rec.Error)
}

func TestUpdate_FailedKeepsMessage(t *testing.T) {
	tbl := status.NewTable()
	track(tbl, 7, nil, time.Time{})
	tbl.Update(7, models.StatusProcessing, 10, "")

	require.True(t, tbl.Update(7, models.StatusFailed, 10, "original file not found: /tmp/x.jpg"))
	rec, _ := tbl.Get(7)
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "/tmp/x.jpg")
}

func TestUpdate_UnknownPicture(t *testing.T) {
	tbl := status.NewTable()
	assert.False(t, tbl.Update(1, models.StatusProcessing, 10, ""))
}

// --- ListByUser ---

func TestListByUser_ActiveOnlyNewestFirst(t *testing.T) {
	tbl := status.NewTable()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	track(tbl, 1, userID(10), base)
	track(tbl, 2, userID(10), base.Add(time.Minute))
	track(tbl, 3, userID(10), base.Add(2*time.Minute))
	track(tbl, 4, userID(20), base.Add(3*time.Minute))
	track(tbl, 5, nil, base.Add(4*time.Minute))

	tbl.Update(2, models.StatusProcessing, 40, "")
	tbl.Update(3, models.StatusCompleted, 100, "")

	recs := tbl.ListByUser(10)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(2), recs[0].PictureID)
	assert.Equal(t, int64(1), recs[1].PictureID)
}

func TestListByUser_Empty(t *testing.T) {
	tbl := status.NewTable()
	recs := tbl.ListByUser(1)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestCountByStatus(t *testing.T) {
	tbl := status.NewTable()
	track(tbl, 1, nil, time.Time{})
	track(tbl, 2, nil, time.Time{})
	track(tbl, 3, nil, time.Time{})
	tbl.Update(1, models.StatusProcessing, 10, "")
	tbl.Update(2, models.StatusProcessing, 10, "")

	assert.Equal(t, 2, tbl.CountByStatus(models.StatusProcessing))
	assert.Equal(t, 1, tbl.CountByStatus(models.StatusPending))
}

// --- Concurrency ---

func TestTable_ConcurrentAccess(t *testing.T) {
	tbl := status.NewTable()
	for i := int64(0); i < 50; i++ {
		track(tbl, i, userID(1), time.Time{})
	}

	var wg sync.WaitGroup
	for i := int64(0); i < 50; i++ {
		wg.Add(2)
		go func(id int64) {
			defer wg.Done()
			for p := 0; p <= 100; p += 10 {
				tbl.Update(id, models.StatusProcessing, p, "")
			}
			tbl.Update(id, models.StatusCompleted, 100, "")
		}(i)
		go func() {
			defer wg.Done()
			_ = tbl.ListByUser(1)
			_, _ = tbl.Get(0)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, tbl.CountByStatus(models.StatusCompleted))
	assert.Empty(t, tbl.ListByUser(1))
}
