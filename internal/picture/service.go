// Package picture accepts uploads and resubmissions and hands them to the
// processing queue.
package picture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/picflow/internal/storage"
	"github.com/kiranshivaraju/picflow/internal/store"
	"github.com/kiranshivaraju/picflow/pkg/models"
)

var (
	ErrNotFound      = errors.New("picture not found")
	ErrForbidden     = errors.New("picture belongs to another user")
	ErrInProgress    = errors.New("picture is already being processed")
	ErrInvalidUpload = errors.New("invalid upload")
)

// sniffLen is how much of an upload is read to detect its type.
const sniffLen = 3072

// Enqueuer queues a processing job for a stored picture.
type Enqueuer interface {
	Enqueue(ctx context.Context, pictureID int64, originalPath string) (uuid.UUID, error)
}

// PictureStore is the persistence the service needs.
type PictureStore interface {
	CreatePicture(ctx context.Context, p *models.Picture) error
	GetPicture(ctx context.Context, id int64) (*models.Picture, error)
}

// Service creates picture rows for uploads and queues their processing.
type Service struct {
	store   PictureStore
	storage *storage.Registry
	queue   Enqueuer
	log     *slog.Logger
}

func NewService(st PictureStore, reg *storage.Registry, q Enqueuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   st,
		storage: reg,
		queue:   q,
		log:     logger.With("component", "picture"),
	}
}

// UploadParams describes one uploaded file.
type UploadParams struct {
	UserID      int64
	Filename    string
	Description string
	Size        int64
	Body        io.Reader
}

// UploadResult identifies the stored picture and its processing job.
type UploadResult struct {
	PictureID int64     `json:"picture_id"`
	JobID     uuid.UUID `json:"job_id"`
}

// Upload saves the original on the default backend, creates the picture
// row in Pending and enqueues it. Only image content is accepted.
func (s *Service) Upload(ctx context.Context, p UploadParams) (*UploadResult, error) {
	name := filepath.Base(strings.TrimSpace(p.Filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, fmt.Errorf("%w: file name is required", ErrInvalidUpload)
	}
	if p.Body == nil {
		return nil, fmt.Errorf("%w: file is empty", ErrInvalidUpload)
	}

	body := bufio.NewReaderSize(p.Body, sniffLen)
	head, err := body.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(head) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrInvalidUpload)
	}
	mtype := mimetype.Detect(head)
	contentType := mtype.String()
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%w: unsupported content type %s", ErrInvalidUpload, contentType)
	}

	backend := s.storage.Default()
	token, err := backend.Save(ctx, body, name, contentType)
	if err != nil {
		return nil, fmt.Errorf("save original: %w", err)
	}

	pic := &models.Picture{
		UserID:           &p.UserID,
		Name:             name,
		Description:      p.Description,
		OriginalPath:     token,
		StorageBackend:   backend.Name(),
		ContentType:      contentType,
		FileSize:         p.Size,
		ProcessingStatus: models.StatusPending,
	}
	if err := s.store.CreatePicture(ctx, pic); err != nil {
		if delErr := backend.Delete(ctx, token); delErr != nil {
			s.log.Warn("failed to remove orphaned original", "token", token, "error", delErr)
		}
		return nil, fmt.Errorf("create picture: %w", err)
	}

	jobID, err := s.queue.Enqueue(ctx, pic.ID, token)
	if err != nil {
		// The row stays Pending and is picked up by the next restore.
		return nil, fmt.Errorf("enqueue picture %d: %w", pic.ID, err)
	}

	s.log.Info("picture uploaded", "picture_id", pic.ID, "job_id", jobID,
		"user_id", p.UserID, "content_type", contentType, "backend", backend.Name())
	return &UploadResult{PictureID: pic.ID, JobID: jobID}, nil
}

// Reprocess queues a new job for a picture the user owns. Pictures that are
// still Pending or Processing are rejected with ErrInProgress.
func (s *Service) Reprocess(ctx context.Context, userID, pictureID int64) (*UploadResult, error) {
	pic, err := s.store.GetPicture(ctx, pictureID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get picture: %w", err)
	}
	if pic.UserID == nil || *pic.UserID != userID {
		return nil, ErrForbidden
	}
	if pic.ProcessingStatus.IsActive() {
		return nil, ErrInProgress
	}

	jobID, err := s.queue.Enqueue(ctx, pic.ID, pic.OriginalPath)
	if err != nil {
		return nil, fmt.Errorf("enqueue picture %d: %w", pic.ID, err)
	}
	s.log.Info("picture resubmitted", "picture_id", pic.ID, "job_id", jobID, "user_id", userID)
	return &UploadResult{PictureID: pic.ID, JobID: jobID}, nil
}
