package handler

import (
	"context"
	"log/slog"
	"net/http"

	mw "github.com/kiranshivaraju/picflow/internal/api/middleware"
	"github.com/kiranshivaraju/picflow/internal/api/response"
	"github.com/kiranshivaraju/picflow/pkg/models"
)

// TaskReader reads the in-memory status of processing jobs.
type TaskReader interface {
	GetUserTasks(userID int64) []models.ProcessingStatusRecord
	GetPictureStatus(pictureID int64) (models.ProcessingStatusRecord, bool)
}

// StatusMirror is the shared status copy, consulted when this process has
// no record of the picture (e.g. after a restart or on another replica).
type StatusMirror interface {
	GetPictureStatus(ctx context.Context, pictureID int64) (*models.ProcessingStatusRecord, bool, error)
}

// NewStatusHandler returns an http.HandlerFunc for
// GET /api/v1/pictures/{pictureID}/status.
func NewStatusHandler(tasks TaskReader, mirror StatusMirror) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, response.CodeInvalidToken, "Missing user", nil)
			return
		}

		pictureID, ok := pictureIDParam(w, r)
		if !ok {
			return
		}

		rec, found := tasks.GetPictureStatus(pictureID)
		if !found && mirror != nil {
			cached, hit, err := mirror.GetPictureStatus(r.Context(), pictureID)
			if err != nil {
				slog.Warn("status mirror read failed", "picture_id", pictureID, "error", err)
			} else if hit {
				rec, found = *cached, true
			}
		}

		// Other users' pictures, and records with no owner, are reported as missing.
		if !found || rec.UserID == nil || *rec.UserID != userID {
			response.Error(w, http.StatusNotFound, response.CodeNotFound, "No processing status for picture", nil)
			return
		}

		response.JSON(w, rec)
	}
}

// NewTasksHandler returns an http.HandlerFunc for GET /api/v1/tasks.
// It lists the caller's Pending and Processing jobs, newest first.
func NewTasksHandler(tasks TaskReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, response.CodeInvalidToken, "Missing user", nil)
			return
		}

		response.List(w, tasks.GetUserTasks(userID))
	}
}
