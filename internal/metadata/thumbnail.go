// Package metadata derives thumbnails, EXIF attributes and capture times
// from local image files. It does no network or database access.
package metadata

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"os"

	"github.com/disintegration/imaging"
	"github.com/kiranshivaraju/picflow/internal/config"

	// Register the WebP decoder with image.Decode.
	_ "golang.org/x/image/webp"
)

// ErrSourceNotFound is returned when the source image does not exist.
var ErrSourceNotFound = errors.New("source image not found")

const (
	largeSourceQuality  = 65
	mediumSourceQuality = 70
	smallSourceQuality  = 75

	secondPassQualityStep = 15
	minJPEGQuality        = 40
)

// Policy controls thumbnail dimensions and the size-based JPEG quality.
type Policy struct {
	MaxDimension int
	BaseQuality  int
	SmallBytes   int64
	MediumBytes  int64
	LargeBytes   int64
}

// DefaultPolicy returns a 500px policy with 1/5/10MB quality thresholds.
func DefaultPolicy() Policy {
	return Policy{
		MaxDimension: 500,
		BaseQuality:  85,
		SmallBytes:   1 << 20,
		MediumBytes:  5 << 20,
		LargeBytes:   10 << 20,
	}
}

// PolicyFromConfig builds a Policy from the thumbnail configuration.
func PolicyFromConfig(cfg config.ThumbnailConfig) Policy {
	return Policy{
		MaxDimension: cfg.MaxDimension,
		BaseQuality:  cfg.BaseQuality,
		SmallBytes:   cfg.SmallBytes,
		MediumBytes:  cfg.MediumBytes,
		LargeBytes:   cfg.LargeBytes,
	}
}

// QualityFor returns the JPEG quality for a source of the given size in bytes.
func (p Policy) QualityFor(size int64) int {
	q := p.BaseQuality
	switch {
	case size > p.LargeBytes:
		q = min(q, largeSourceQuality)
	case size > p.MediumBytes:
		q = min(q, mediumSourceQuality)
	case size > p.SmallBytes:
		q = min(q, smallSourceQuality)
	}
	return q
}

// Thumbnail is an encoded, metadata-free thumbnail.
type Thumbnail struct {
	Data        []byte
	Format      imaging.Format
	ContentType string
	Extension   string
	// Quality is the JPEG quality used for the final pass; 0 for PNG.
	Quality    int
	Width      int
	Height     int
	SourceSize int64
	Passes     int
}

// Thumbnailer generates thumbnails according to a Policy.
type Thumbnailer struct {
	policy Policy
}

// NewThumbnailer creates a Thumbnailer. Zero policy fields fall back to DefaultPolicy.
func NewThumbnailer(p Policy) *Thumbnailer {
	def := DefaultPolicy()
	if p.MaxDimension <= 0 {
		p.MaxDimension = def.MaxDimension
	}
	if p.BaseQuality <= 0 || p.BaseQuality > 100 {
		p.BaseQuality = def.BaseQuality
	}
	if p.SmallBytes <= 0 && p.MediumBytes <= 0 && p.LargeBytes <= 0 {
		p.SmallBytes, p.MediumBytes, p.LargeBytes = def.SmallBytes, def.MediumBytes, def.LargeBytes
	}
	return &Thumbnailer{policy: p}
}

// Policy returns the effective policy.
func (t *Thumbnailer) Policy() Policy { return t.policy }

// Generate decodes the image at path, fits it within the policy's maximum
// dimension and re-encodes it without metadata. PNG sources stay PNG with
// maximum compression; everything else becomes JPEG. If the first pass is
// not smaller than the source, one more pass is made with stronger settings.
func (t *Thumbnailer) Generate(path string) (*Thumbnail, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("stat source image: %w", err)
	}

	src, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}

	format := imaging.JPEG
	if f, err := imaging.FormatFromFilename(path); err == nil && f == imaging.PNG {
		format = imaging.PNG
	}

	maxDim := t.policy.MaxDimension
	quality := t.policy.QualityFor(info.Size())

	thumb, err := encodeThumbnail(src, format, maxDim, quality)
	if err != nil {
		return nil, err
	}
	thumb.Passes = 1

	if int64(len(thumb.Data)) >= info.Size() {
		switch format {
		case imaging.PNG:
			maxDim = maxDim * 3 / 4
		default:
			quality = max(quality-secondPassQualityStep, minJPEGQuality)
		}
		if second, err := encodeThumbnail(src, format, maxDim, quality); err == nil && len(second.Data) < len(thumb.Data) {
			thumb = second
		}
		thumb.Passes = 2
	}

	thumb.SourceSize = info.Size()
	return thumb, nil
}

func encodeThumbnail(src image.Image, format imaging.Format, maxDim, quality int) (*Thumbnail, error) {
	img := imaging.Fit(src, maxDim, maxDim, imaging.Lanczos)
	b := img.Bounds()

	var buf bytes.Buffer
	thumb := &Thumbnail{Format: format, Width: b.Dx(), Height: b.Dy()}

	switch format {
	case imaging.PNG:
		if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression)); err != nil {
			return nil, fmt.Errorf("encode png thumbnail: %w", err)
		}
		thumb.ContentType = "image/png"
		thumb.Extension = ".png"
	default:
		if !img.Opaque() {
			bg := imaging.New(b.Dx(), b.Dy(), color.White)
			img = imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
		}
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, fmt.Errorf("encode jpeg thumbnail: %w", err)
		}
		thumb.ContentType = "image/jpeg"
		thumb.Extension = ".jpg"
		thumb.Quality = quality
	}

	thumb.Data = buf.Bytes()
	return thumb, nil
}
