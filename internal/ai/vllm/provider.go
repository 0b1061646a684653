package vllm

import (
	"github.com/kiranshivaraju/picflow/internal/ai/openai"
	"github.com/kiranshivaraju/picflow/internal/config"
	"github.com/kiranshivaraju/picflow/pkg/models"
)

// Provider implements models.Annotator using vLLM's OpenAI-compatible server.
type Provider struct {
	*openai.Provider
}

func NewProvider(cfg config.VLLMConfig, opts ...openai.Option) *Provider {
	opts = append([]openai.Option{openai.WithName("vllm")}, opts...)
	return &Provider{
		Provider: openai.NewProvider(config.OpenAIConfig{
			BaseURL:        cfg.BaseURL,
			Model:          cfg.Model,
			EmbeddingModel: cfg.EmbeddingModel,
		}, opts...),
	}
}

var _ models.Annotator = (*Provider)(nil)
