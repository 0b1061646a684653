package models

import "context"

// Annotator is the core interface that all AI integrations must implement.
// Never call specific AI providers directly; always inject this interface.
type Annotator interface {
	// DescribeImage produces a short title and a description of an image.
	DescribeImage(ctx context.Context, img EncodedImage) (ImageDescription, error)
	// Embed returns a text embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)
	// SuggestTags returns tag names for an image. Candidates is the existing
	// vocabulary; allowNew permits names outside of it.
	SuggestTags(ctx context.Context, img EncodedImage, candidates []string, allowNew bool) ([]string, error)
	// Name returns the provider identifier (e.g., "ollama", "openai").
	Name() string
}

// EncodedImage is a base64 image payload sent to an AI provider.
type EncodedImage struct {
	Base64      string
	ContentType string
}

// ImageDescription is the validated output of DescribeImage.
type ImageDescription struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}
