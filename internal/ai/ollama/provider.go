package ollama

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

// Provider implements models.Annotator using Ollama's native API.
type Provider struct {
	cfg    config.OllamaConfig
	client *http.Client
	log    *slog.Logger
}

func NewProvider(cfg config.OllamaConfig) *Provider {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: 5 * time.Minute},
		log:    slog.Default().With("component", "ai", "provider", "ollama"),
	}
}

// WithHTTPClient replaces the HTTP client and returns p.
func (p *Provider) WithHTTPClient(c *http.Client) *Provider {
	p.client = c
	return p
}

func (p *Provider) Name() string { return "ollama" }

type message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
	Format   string    `json:"format"`
	Stream   bool      `json:"stream"`
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
		"model": p.cfg.EmbeddingModel,
		"input": text,
	}
	raw, err := schema.SendJSON(ctx, p.client, p.cfg.BaseURL+"/api/embed", body, nil, p.log)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}

	var resp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode embed response: %v", schema.ErrInvalidResponse, err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embedding in response", schema.ErrInvalidResponse)
	}
	return resp.Embeddings[0], nil
}

func (p *Provider) chat(ctx context.Context, system, user string, img models.EncodedImage) (string, error) {
	req := chatRequest{
		Model: p.cfg.Model,
		Messages: []message{
			{Role: "system", Content: system},
			{Role: "user", Content: user, Images: []string{img.Base64}},
		},
		Format: "json",
		Stream: false,
	}

	raw, err := schema.SendJSON(ctx, p.client, p.cfg.BaseURL+"/api/chat", req, nil, p.log)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}

	var resp struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("%w: decode chat response: %v", schema.ErrInvalidResponse, err)
	}
	return resp.Message.Content, nil
}

var _ models.Annotator = (*Provider)(nil)
