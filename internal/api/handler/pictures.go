package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/picflow/internal/api/middleware"
	"github.com/kiranshivaraju/picflow/internal/api/response"
	"github.com/kiranshivaraju/picflow/internal/picture"
	"github.com/kiranshivaraju/picflow/internal/queue"
)

// multipartMemory is how much of a multipart body is kept in memory before
// spilling to temp files.
const multipartMemory = 8 << 20

// PictureService is the interface the picture handlers depend on.
type PictureService interface {
	Upload(ctx context.Context, p picture.UploadParams) (*picture.UploadResult, error)
	Reprocess(ctx context.Context, userID, pictureID int64) (*picture.UploadResult, error)
}

// NewUploadHandler returns an http.HandlerFunc for POST /api/v1/pictures.
// The body is multipart with a "file" part and an optional "description".
func NewUploadHandler(svc PictureService, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, response.CodeInvalidToken, "Missing user", nil)
			return
		}

		if maxBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, response.CodeInvalidRequest,
					"File exceeds the maximum upload size", map[string]any{"max_bytes": tooLarge.Limit})
				return
			}
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Body must be multipart/form-data", nil)
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "file is required", nil)
			return
		}
		defer file.Close()

		res, err := svc.Upload(r.Context(), picture.UploadParams{
			UserID:      userID,
			Filename:    header.Filename,
			Description: r.FormValue("description"),
			Size:        header.Size,
			Body:        file,
		})
		if err != nil {
			writePictureError(w, r, err)
			return
		}

		response.Accepted(w, res)
	}
}

// NewReprocessHandler returns an http.HandlerFunc for
// POST /api/v1/pictures/{pictureID}/reprocess.
func NewReprocessHandler(svc PictureService) http.HandlerFunc {
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

		res, err := svc.Reprocess(r.Context(), userID, pictureID)
		if err != nil {
			writePictureError(w, r, err)
			return
		}

		response.Accepted(w, res)
	}
}

func writePictureError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, picture.ErrInvalidUpload):
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, err.Error(), nil)
	case errors.Is(err, picture.ErrNotFound):
		response.Error(w, http.StatusNotFound, response.CodeNotFound, "Picture not found", nil)
	case errors.Is(err, picture.ErrForbidden):
		response.Error(w, http.StatusForbidden, response.CodeForbidden, "Picture belongs to another user", nil)
	case errors.Is(err, picture.ErrInProgress):
		response.Error(w, http.StatusConflict, response.CodeConflict, "Picture is already being processed", nil)
	case errors.Is(err, queue.ErrQueueClosed):
		response.Error(w, http.StatusServiceUnavailable, response.CodeUnavailable, "Server is shutting down", nil)
	default:
		slog.Error("picture request failed", "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Failed to process request", nil)
	}
}

// pictureIDParam parses the {pictureID} URL parameter, writing a 400 on failure.
func pictureIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "pictureID"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "pictureID must be a positive integer", nil)
		return 0, false
	}
	return id, true
}
