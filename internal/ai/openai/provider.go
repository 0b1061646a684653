package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/picflow/internal/ai/schema"
	"github.com/kiranshivaraju/picflow/internal/config"
	"github.com/kiranshivaraju/picflow/pkg/models"
)

const DefaultBaseURL = "https://api.openai.com/v1"

// Provider implements models.Annotator against the OpenAI chat/completions
// and embeddings APIs. Any server speaking the same protocol works.
type Provider struct {
	name           string
	baseURL        string
	apiKey         string
	model          string
	embeddingModel string
	client         *http.Client
	log            *slog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithName overrides the provider name reported by Name.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.log = l }
}

func NewProvider(cfg config.OpenAIConfig, opts ...Option) *Provider {
	p := &Provider{
		name:           "openai",
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		client:         &http.Client{Timeout: 120 * time.Second},
		log:            slog.Default(),
	}
	if p.baseURL == "" {
		p.baseURL = DefaultBaseURL
	}
	for _, o := range opts {
		o(p)
	}
	p.log = p.log.With("component", "ai", "provider", p.name)
	return p
}

func (p *Provider) Name() string { return p.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
	Temperature    float64        `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *Provider) DescribeImage(ctx context.Context, img models.EncodedImage) (models.ImageDescription, error) {
	content, err := p.chat(ctx, schema.DescribeSystemPrompt, schema.DescribeUserPrompt, img)
	if err != nil {
		return models.ImageDescription{}, err
	}
	return schema.ParseDescription(content)
}

func (p *Provider) SuggestTags(ctx context.Context, img models.EncodedImage, candidates []string, allowNew bool) ([]string, error) {
	content, err := p.chat(ctx, schema.TagsSystemPrompt(candidates, allowNew), schema.TagsUserPrompt, img)
	if err != nil {
		return nil, err
	}
	return schema.ParseTags(content)
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	body := map[string]any{
		"model": p.embeddingModel,
		"input": text,
	}
	raw, err := schema.SendJSON(ctx, p.client, p.baseURL+"/embeddings", body, p.headers(), p.log)
	if err != nil {
		return nil, fmt.Errorf("embeddings request: %w", err)
	}

	var resp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode embeddings response: %v", schema.ErrInvalidResponse, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: no embedding in response", schema.ErrInvalidResponse)
	}
	return resp.Data[0].Embedding, nil
}

func (p *Provider) chat(ctx context.Context, system, user string, img models.EncodedImage) (string, error) {
	req := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: user},
				{Type: "image_url", ImageURL: &imageURL{URL: schema.DataURL(img.ContentType, img.Base64)}},
			}},
		},
		ResponseFormat: map[string]any{"type": "json_object"},
	}

	raw, err := schema.SendJSON(ctx, p.client, p.baseURL+"/chat/completions", req, p.headers(), p.log)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}

	var cc chatResponse
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", fmt.Errorf("%w: decode chat response: %v", schema.ErrInvalidResponse, err)
	}
	if len(cc.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", schema.ErrInvalidResponse)
	}
	return cc.Choices[0].Message.Content, nil
}

func (p *Provider) headers() map[string]string {
	if p.apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + p.apiKey}
}

var _ models.Annotator = (*Provider)(nil)
