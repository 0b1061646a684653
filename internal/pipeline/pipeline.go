// Package pipeline runs one picture processing job end to end: staging the
// original, thumbnail and EXIF extraction, AI annotation, embedding and tag
// materialization. Every stage is persisted as it completes.
package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/kiranshivaraju/picflow/internal/ai"
	"github.com/kiranshivaraju/picflow/internal/events"
	"github.com/kiranshivaraju/picflow/internal/metadata"
	"github.com/kiranshivaraju/picflow/internal/status"
	"github.com/kiranshivaraju/picflow/internal/storage"
	"github.com/kiranshivaraju/picflow/internal/store"
	"github.com/kiranshivaraju/picflow/pkg/models"
)

// ErrOriginalNotFound means the original file is gone from its backend.
var ErrOriginalNotFound = errors.New("original file not found")

// Progress checkpoints, in the order stages reach them.
const (
	ProgressStarted     = 0
	ProgressStaged      = 10
	ProgressThumbnail   = 20
	ProgressExif        = 30
	ProgressDescribed   = 50
	ProgressEmbedded    = 60
	ProgressCandidates  = 70
	ProgressSuggested   = 80
	ProgressMaterialize = 90
	ProgressCompleted   = 100
)

// PictureStore is the persistence the pipeline needs.
type PictureStore interface {
	GetPicture(ctx context.Context, id int64) (*models.Picture, error)
	UpdatePicture(ctx context.Context, id int64, opts ...store.PictureUpdateOption) error
	ListTagNames(ctx context.Context) ([]string, error)
	FindTagByName(ctx context.Context, name string) (*models.Tag, error)
	CreateTag(ctx context.Context, name, description string) (*models.Tag, error)
	AttachTagToPicture(ctx context.Context, pictureID, tagID int64) error
	AttachTagToUser(ctx context.Context, userID, tagID int64) error
}

// StatusMirror receives a copy of every status record. Usually Redis.
type StatusMirror interface {
	SetPictureStatus(ctx context.Context, rec models.ProcessingStatusRecord, ttl time.Duration) error
}

// Dependencies are the collaborators of a Pipeline. Cache and Events are optional.
type Dependencies struct {
	Store     PictureStore
	Storage   *storage.Registry
	Extractor *metadata.Extractor
	Annotator models.Annotator
	Statuses  *status.Table
	Cache     StatusMirror
	Events    events.Publisher
	Logger    *slog.Logger
	StatusTTL time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithAllowNewTags controls whether the annotator may introduce tag names
// outside the existing vocabulary. Uploads run with new tags allowed.
func WithAllowNewTags(allow bool) Option {
	return func(p *Pipeline) {
		p.allowNewTags = allow
	}
}

// WithReportTimeout bounds the status writes made after a job has failed.
func WithReportTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.reportTimeout = d
		}
	}
}

// Pipeline processes picture jobs. It is safe for concurrent use by workers.
type Pipeline struct {
	store         PictureStore
	storage       *storage.Registry
	extractor     *metadata.Extractor
	annotator     models.Annotator
	statuses      *status.Table
	cache         StatusMirror
	events        events.Publisher
	log           *slog.Logger
	statusTTL     time.Duration
	allowNewTags  bool
	reportTimeout time.Duration
}

// New creates a Pipeline.
func New(deps Dependencies, opts ...Option) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pub := deps.Events
	if pub == nil {
		pub = events.NopPublisher{}
	}
	extractor := deps.Extractor
	if extractor == nil {
		extractor = metadata.NewExtractor(metadata.DefaultPolicy())
	}
	ttl := deps.StatusTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	p := &Pipeline{
		store:         deps.Store,
		storage:       deps.Storage,
		extractor:     extractor,
		annotator:     deps.Annotator,
		statuses:      deps.Statuses,
		cache:         deps.Cache,
		events:        pub,
		log:           logger.With("component", "pipeline"),
		statusTTL:     ttl,
		allowNewTags:  true,
		reportTimeout: 5 * time.Second,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// jobRun carries the state of one job through the stages.
type jobRun struct {
	job      models.ProcessingJob
	picture  *models.Picture
	owner    *int64
	progress int
	staged   *stagedFile
	log      *slog.Logger
}

// Process runs every stage for job. Any error or panic marks the picture
// Failed with the error text, except when ctx was cancelled: then the
// picture stays in Processing so the next restore picks it up.
// The returned error is informational; the status sinks are already updated.
func (p *Pipeline) Process(ctx context.Context, job models.ProcessingJob) (err error) {
	r := &jobRun{
		job:   job,
		owner: job.UserID,
		log:   p.log.With("picture_id", job.PictureID, "job_id", job.ID),
	}
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic processing picture %d: %v", job.PictureID, rec)
			r.log.Error("pipeline panic", "panic", rec, "stack", string(debug.Stack()))
		}
		r.staged.cleanup(r.log)

		if err == nil {
			r.log.Info("picture processed", "duration_ms", time.Since(start).Milliseconds())
			return
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			r.log.Warn("processing interrupted, picture left in Processing",
				"progress", r.progress, "error", err)
			return
		}
		p.fail(ctx, r, err)
	}()

	err = p.run(ctx, r)
	return err
}

func (p *Pipeline) run(ctx context.Context, r *jobRun) error {
	pic, err := p.store.GetPicture(ctx, r.job.PictureID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("picture %d not found", r.job.PictureID)
		}
		return fmt.Errorf("load picture %d: %w", r.job.PictureID, err)
	}
	r.picture = pic
	if r.owner == nil {
		r.owner = pic.UserID
	}
	if err := p.advance(ctx, r, models.StatusProcessing, ProgressStarted); err != nil {
		return err
	}

	// 1. Stage the original locally.
	originalPath := r.job.OriginalPath
	if originalPath == "" {
		originalPath = pic.OriginalPath
	}
	backend, err := p.storage.Get(pic.StorageBackend)
	if err != nil {
		return fmt.Errorf("stage picture %d: %w", pic.ID, err)
	}
	r.staged, err = stage(ctx, backend, originalPath)
	if err != nil {
		return err
	}
	if err := p.advance(ctx, r, models.StatusProcessing, ProgressStaged); err != nil {
		return err
	}

	// 2. Thumbnail.
	thumb, err := p.extractor.Thumbnail(r.staged.path)
	if err != nil {
		if errors.Is(err, metadata.ErrSourceNotFound) {
			return fmt.Errorf("%w: %s", ErrOriginalNotFound, originalPath)
		}
		return fmt.Errorf("generate thumbnail: %w", err)
	}
	thumbToken, err := backend.Save(ctx, bytes.NewReader(thumb.Data), thumbnailName(originalPath, thumb.Extension), thumb.ContentType)
	if err != nil {
		return fmt.Errorf("save thumbnail: %w", err)
	}
	r.log.Debug("thumbnail saved", "token", thumbToken, "quality", thumb.Quality,
		"width", thumb.Width, "height", thumb.Height, "passes", thumb.Passes)
	if err := p.advance(ctx, r, models.StatusProcessing, ProgressThumbnail,
		store.WithThumbnailPath(thumbToken)); err != nil {
		return err
	}

	// 3-4. EXIF and capture time.
	info, takenAt := p.extractor.Exif(r.staged.path)
	if info.Error != "" {
		r.log.Info("exif incomplete", "reason", info.Error)
	}
	if err := p.advance(ctx, r, models.StatusProcessing, ProgressExif,
		store.WithExif(info), store.WithTakenAt(takenAt)); err != nil {
		return err
	}

	// 5. Title and description.
	img := models.EncodedImage{
		Base64:      base64.StdEncoding.EncodeToString(thumb.Data),
		ContentType: thumb.ContentType,
	}
	title, description, err := p.describe(ctx, r, img, originalPath)
	if err != nil {
		return err
	}
	if err := p.advance(ctx, r, models.StatusProcessing, ProgressDescribed,
		store.WithName(title), store.WithDescription(description)); err != nil {
		return err
	}

	// 6. Embedding.
	vec, err := p.annotator.Embed(ctx, fmt.Sprintf("%s. %s", title, description))
	if err != nil {
		return fmt.Errorf("embed picture text: %w", err)
	}
	if err := p.advance(ctx, r, models.StatusProcessing, ProgressEmbedded,
		store.WithEmbedding(vec)); err != nil {
		return err
	}

	// 7. Tag candidates.
	candidates, err := p.store.ListTagNames(ctx)
	if err != nil {
		return fmt.Errorf("list tag candidates: %w", err)
	}
	if err := p.advance(ctx, r, models.StatusProcessing, ProgressCandidates); err != nil {
		return err
	}

	// 8. Tag suggestions.
	names, err := p.annotator.SuggestTags(ctx, img, candidates, p.allowNewTags)
	switch {
	case errors.Is(err, ai.ErrInvalidResponse):
		r.log.Warn("unusable tag suggestions, continuing without tags", "error", err)
		names = nil
	case err != nil:
		return fmt.Errorf("suggest tags: %w", err)
	}
	names = ai.NormalizeTags(names, candidates, p.allowNewTags)
	if err := p.advance(ctx, r, models.StatusProcessing, ProgressSuggested); err != nil {
		return err
	}

	// 9. Tag materialization.
	for _, name := range names {
		if err := p.materializeTag(ctx, pic.ID, r.owner, name); err != nil {
			return err
		}
	}
	if err := p.advance(ctx, r, models.StatusProcessing, ProgressMaterialize); err != nil {
		return err
	}

	// 10. Finalize.
	return p.advance(ctx, r, models.StatusCompleted, ProgressCompleted)
}

// describe asks for a title and description, falling back to the file name
// and the existing description when the annotator returns nothing usable.
func (p *Pipeline) describe(ctx context.Context, r *jobRun, img models.EncodedImage, originalPath string) (string, string, error) {
	desc, err := p.annotator.DescribeImage(ctx, img)
	if err != nil {
		if !errors.Is(err, ai.ErrInvalidResponse) {
			return "", "", fmt.Errorf("describe picture: %w", err)
		}
		r.log.Warn("unusable description, using fallback", "error", err)
		desc = models.ImageDescription{}
	}

	title := strings.TrimSpace(desc.Title)
	if title == "" {
		title = fallbackTitle(r.picture.Name, originalPath)
	}
	description := strings.TrimSpace(desc.Description)
	if description == "" {
		description = r.picture.Description
	}
	return title, description, nil
}

// materializeTag finds or creates the tag case-insensitively and attaches
// it to the picture and its owner. Both attachments are idempotent.
func (p *Pipeline) materializeTag(ctx context.Context, pictureID int64, owner *int64, name string) error {
	tag, err := p.store.FindTagByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		tag, err = p.store.CreateTag(ctx, name, "")
		if errors.Is(err, store.ErrDuplicateKey) {
			// Another worker created it first.
			tag, err = p.store.FindTagByName(ctx, name)
		}
	}
	if err != nil {
		return fmt.Errorf("materialize tag %q: %w", name, err)
	}

	if err := p.store.AttachTagToPicture(ctx, pictureID, tag.ID); err != nil {
		return fmt.Errorf("attach tag %q to picture: %w", name, err)
	}
	if owner != nil {
		if err := p.store.AttachTagToUser(ctx, *owner, tag.ID); err != nil {
			return fmt.Errorf("attach tag %q to user: %w", name, err)
		}
	}
	return nil
}

// fallbackTitle is the uploaded file name without its extension.
func fallbackTitle(name, originalPath string) string {
	base := strings.TrimSpace(name)
	if base == "" {
		base = filepath.Base(originalPath)
	}
	if stem := strings.TrimSuffix(base, filepath.Ext(base)); stem != "" {
		return stem
	}
	return base
}

func thumbnailName(originalPath, ext string) string {
	base := filepath.Base(originalPath)
	return "thumb_" + strings.TrimSuffix(base, filepath.Ext(base)) + ext
}
