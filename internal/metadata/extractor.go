package metadata

import (
	"time"

	"github.com/kiranshivaraju/picflow/pkg/models"
)

// Extractor derives thumbnails and EXIF data from local files.
type Extractor struct {
	thumbnailer *Thumbnailer
	location    *time.Location
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithLocation sets the zone EXIF capture times are interpreted in.
// Defaults to time.Local.
func WithLocation(loc *time.Location) ExtractorOption {
	return func(e *Extractor) {
		if loc != nil {
			e.location = loc
		}
	}
}

// NewExtractor creates an Extractor using the given thumbnail policy.
func NewExtractor(p Policy, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		thumbnailer: NewThumbnailer(p),
		location:    time.Local,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Thumbnail generates the thumbnail for the image at path.
func (e *Extractor) Thumbnail(path string) (*Thumbnail, error) {
	return e.thumbnailer.Generate(path)
}

// Exif reads EXIF attributes and derives the capture time, if any.
func (e *Extractor) Exif(path string) (models.ExifInfo, *time.Time) {
	info := ReadExif(path)
	return info, CaptureTime(info.DateTimeOriginal, e.location)
}
