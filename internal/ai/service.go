package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kiranshivaraju/picflow/internal/ai/schema"
	"github.com/kiranshivaraju/picflow/pkg/models"
)

// MaxTags is the most tags the service returns for one picture.
const MaxTags = schema.MaxTags

const (
	maxTitleBytes       = 200
	maxDescriptionBytes = 4000
	maxTagBytes         = 100
)

// AnnotationService wraps a provider with per-call timeouts, result
// normalization and embedding validation. It implements models.Annotator.
type AnnotationService struct {
	provider   models.Annotator
	timeout    time.Duration
	dimensions int
	log        *slog.Logger
}

// NewAnnotationService creates a new AnnotationService. A zero timeout
// disables the per-call deadline; zero dimensions accepts any length.
func NewAnnotationService(provider models.Annotator, timeout time.Duration, dimensions int, logger *slog.Logger) *AnnotationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnnotationService{
		provider:   provider,
		timeout:    timeout,
		dimensions: dimensions,
		log:        logger.With("component", "annotation", "provider", provider.Name()),
	}
}

func (s *AnnotationService) Name() string { return s.provider.Name() }

// DescribeImage returns a trimmed title and description.
func (s *AnnotationService) DescribeImage(ctx context.Context, img models.EncodedImage) (models.ImageDescription, error) {
	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	d, err := s.provider.DescribeImage(callCtx, img)
	if err != nil {
		err = s.classify(ctx, err)
		s.log.Warn("describe image failed", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return models.ImageDescription{}, err
	}

	d.Title = truncateString(strings.TrimSpace(d.Title), maxTitleBytes)
	d.Description = truncateString(strings.TrimSpace(d.Description), maxDescriptionBytes)
	s.log.Debug("describe image", "title", d.Title, "elapsed_ms", time.Since(start).Milliseconds())
	return d, nil
}

// Embed returns the embedding of text. A vector that is empty, non-finite or
// of the wrong length is reported as ErrInvalidResponse.
func (s *AnnotationService) Embed(ctx context.Context, text string) ([]float32, error) {
	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	vec, err := s.provider.Embed(callCtx, text)
	if err != nil {
		err = s.classify(ctx, err)
		s.log.Warn("embed failed", "error", err)
		return nil, err
	}
	if err := schema.CheckEmbedding(vec, s.dimensions); err != nil {
		return nil, err
	}
	return vec, nil
}

// SuggestTags returns at most MaxTags distinct tag names. Names matching a
// candidate case-insensitively take the candidate's spelling. Without
// allowNew, names outside candidates are dropped.
func (s *AnnotationService) SuggestTags(ctx context.Context, img models.EncodedImage, candidates []string, allowNew bool) ([]string, error) {
	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	raw, err := s.provider.SuggestTags(callCtx, img, candidates, allowNew)
	if err != nil {
		err = s.classify(ctx, err)
		s.log.Warn("suggest tags failed", "error", err)
		return nil, err
	}

	tags := NormalizeTags(raw, candidates, allowNew)
	if len(tags) < len(raw) {
		s.log.Debug("tags normalized", "suggested", len(raw), "kept", len(tags))
	}
	return tags, nil
}

// NormalizeTags trims, de-duplicates case-insensitively and caps tag names.
func NormalizeTags(raw, candidates []string, allowNew bool) []string {
	known := make(map[string]string, len(candidates))
	for _, c := range candidates {
		known[strings.ToLower(c)] = c
	}

	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, min(len(raw), MaxTags))
	for _, t := range raw {
		if len(out) == MaxTags {
			break
		}
		t = truncateString(strings.TrimSpace(t), maxTagBytes)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		if c, ok := known[key]; ok {
			t = c
		} else if !allowNew {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

func (s *AnnotationService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// classify reports a per-call deadline as ErrInferenceTimeout while leaving
// cancellation of the caller's context visible as such.
func (s *AnnotationService) classify(parent context.Context, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%w: %v", parent.Err(), err)
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrInferenceTimeout) {
		return fmt.Errorf("%w: after %s", ErrInferenceTimeout, s.timeout)
	}
	return schema.ClassifyError(err)
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}

var _ models.Annotator = (*AnnotationService)(nil)
