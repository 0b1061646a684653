package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/picflow/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, username string) (*models.User, error)
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	CreatePicture(ctx context.Context, p *models.Picture) error
	GetPicture(ctx context.Context, id int64) (*models.Picture, error)
	ListPicturesByStatus(ctx context.Context, statuses ...models.ProcessingStatus) ([]*models.Picture, error)
	UpdatePicture(ctx context.Context, id int64, opts ...PictureUpdateOption) error

	ListTagNames(ctx context.Context) ([]string, error)
	FindTagByName(ctx context.Context, name string) (*models.Tag, error)
	CreateTag(ctx context.Context, name, description string) (*models.Tag, error)
	AttachTagToPicture(ctx context.Context, pictureID, tagID int64) error
	AttachTagToUser(ctx context.Context, userID, tagID int64) error
	ListPictureTags(ctx context.Context, pictureID int64) ([]*models.Tag, error)
}

type pictureUpdateParams struct {
	Status        *models.ProcessingStatus
	Progress      *int
	ErrorMessage  *string
	ThumbnailPath *string
	Exif          *models.ExifInfo
	TakenAt       *time.Time
	ClearTakenAt  bool
	Name          *string
	Description   *string
	Embedding     []float32
}

func (p *pictureUpdateParams) empty() bool {
	return p.Status == nil && p.Progress == nil && p.ErrorMessage == nil &&
		p.ThumbnailPath == nil && p.Exif == nil && p.TakenAt == nil && !p.ClearTakenAt &&
		p.Name == nil && p.Description == nil && p.Embedding == nil
}

type PictureUpdateOption func(*pictureUpdateParams)

// WithProcessingState sets status and progress. Unless WithProcessingError
// is also given, a non-failed status clears any previous error.
func WithProcessingState(status models.ProcessingStatus, progress int) PictureUpdateOption {
	return func(p *pictureUpdateParams) {
		p.Status = &status
		p.Progress = &progress
	}
}

func WithProcessingError(msg string) PictureUpdateOption {
	return func(p *pictureUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithThumbnailPath(path string) PictureUpdateOption {
	return func(p *pictureUpdateParams) {
		p.ThumbnailPath = &path
	}
}

func WithExif(info models.ExifInfo) PictureUpdateOption {
	return func(p *pictureUpdateParams) {
		p.Exif = &info
	}
}

// WithTakenAt sets the capture time; nil clears it.
func WithTakenAt(t *time.Time) PictureUpdateOption {
	return func(p *pictureUpdateParams) {
		if t == nil {
			p.ClearTakenAt = true
			return
		}
		p.TakenAt = t
	}
}

func WithName(name string) PictureUpdateOption {
	return func(p *pictureUpdateParams) {
		p.Name = &name
	}
}

func WithDescription(desc string) PictureUpdateOption {
	return func(p *pictureUpdateParams) {
		p.Description = &desc
	}
}

func WithEmbedding(vec []float32) PictureUpdateOption {
	return func(p *pictureUpdateParams) {
		p.Embedding = vec
	}
}

// ApplyPictureUpdate applies opts to an in-memory picture with the same
// semantics UpdatePicture has on the row. It reports whether any field was set.
func ApplyPictureUpdate(p *models.Picture, opts ...PictureUpdateOption) bool {
	var params pictureUpdateParams
	for _, o := range opts {
		o(&params)
	}
	if params.empty() {
		return false
	}

	if params.Status != nil {
		p.ProcessingStatus = *params.Status
		if params.ErrorMessage == nil && *params.Status != models.StatusFailed {
			p.ProcessingError = nil
		}
	}
	if params.Progress != nil {
		p.ProcessingProgress = *params.Progress
	}
	if params.ErrorMessage != nil {
		msg := *params.ErrorMessage
		p.ProcessingError = &msg
	}
	if params.ThumbnailPath != nil {
		path := *params.ThumbnailPath
		p.ThumbnailPath = &path
	}
	if params.Exif != nil {
		info := *params.Exif
		p.Exif = &info
	}
	if params.ClearTakenAt {
		p.TakenAt = nil
	} else if params.TakenAt != nil {
		t := *params.TakenAt
		p.TakenAt = &t
	}
	if params.Name != nil {
		p.Name = *params.Name
	}
	if params.Description != nil {
		p.Description = *params.Description
	}
	if params.Embedding != nil {
		p.Embedding = append([]float32(nil), params.Embedding...)
	}
	return true
}
