package mock

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/kiranshivaraju/picflow/internal/ai/schema"
	"github.com/kiranshivaraju/picflow/pkg/models"
)

// DefaultDimensions is the embedding length of NewMockProvider.
const DefaultDimensions = 8

// MockProvider satisfies models.Annotator for testing and local runs.
type MockProvider struct {
	Name_           string
	Dimensions      int
	DescribeFunc    func(ctx context.Context, img models.EncodedImage) (models.ImageDescription, error)
	EmbedFunc       func(ctx context.Context, text string) ([]float32, error)
	SuggestTagsFunc func(ctx context.Context, img models.EncodedImage, candidates []string, allowNew bool) ([]string, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) DescribeImage(ctx context.Context, img models.EncodedImage) (models.ImageDescription, error) {
	if m.DescribeFunc != nil {
		return m.DescribeFunc(ctx, img)
	}
	return models.ImageDescription{}, nil
}

func (m *MockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return nil, nil
}

func (m *MockProvider) SuggestTags(ctx context.Context, img models.EncodedImage, candidates []string, allowNew bool) ([]string, error) {
	if m.SuggestTagsFunc != nil {
		return m.SuggestTagsFunc(ctx, img, candidates, allowNew)
	}
	return nil, nil
}

// NewMockProvider returns a MockProvider with deterministic responses.
// Embeddings are derived from the text so equal inputs give equal vectors.
func NewMockProvider() *MockProvider {
	m := &MockProvider{Name_: "mock", Dimensions: DefaultDimensions}
	m.DescribeFunc = func(_ context.Context, _ models.EncodedImage) (models.ImageDescription, error) {
		return models.ImageDescription{
			Title:       "Mock title",
			Description: "Mock description of the picture",
		}, nil
	}
	m.EmbedFunc = func(_ context.Context, text string) ([]float32, error) {
		return Vector(text, m.Dimensions), nil
	}
	m.SuggestTagsFunc = func(_ context.Context, _ models.EncodedImage, candidates []string, allowNew bool) ([]string, error) {
		tags := make([]string, 0, 2)
		if len(candidates) > 0 {
			tags = append(tags, candidates[0])
		}
		if allowNew || len(candidates) == 0 {
			tags = append(tags, "mock")
		}
		return tags, nil
	}
	return m
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		DescribeFunc: func(_ context.Context, _ models.EncodedImage) (models.ImageDescription, error) {
			return models.ImageDescription{}, err
		},
		EmbedFunc: func(_ context.Context, _ string) ([]float32, error) {
			return nil, err
		},
		SuggestTagsFunc: func(_ context.Context, _ models.EncodedImage, _ []string, _ bool) ([]string, error) {
			return nil, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		DescribeFunc: func(ctx context.Context, _ models.EncodedImage) (models.ImageDescription, error) {
			<-ctx.Done()
			return models.ImageDescription{}, schema.ErrInferenceTimeout
		},
		EmbedFunc: func(ctx context.Context, _ string) ([]float32, error) {
			<-ctx.Done()
			return nil, schema.ErrInferenceTimeout
		},
		SuggestTagsFunc: func(ctx context.Context, _ models.EncodedImage, _ []string, _ bool) ([]string, error) {
			<-ctx.Done()
			return nil, schema.ErrInferenceTimeout
		},
	}
}

// Vector derives a unit-range vector of length dims from text.
func Vector(text string, dims int) []float32 {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	vec := make([]float32, dims)
	for i := range vec {
		h := fnv.New32a()
		h.Write([]byte{byte(i)})
		h.Write([]byte(strings.ToLower(text)))
		vec[i] = float32(h.Sum32()%2000)/1000 - 1
	}
	return vec
}

// Compile-time check that MockProvider implements Annotator.
var _ models.Annotator = (*MockProvider)(nil)
