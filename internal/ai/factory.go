package ai

import (
	"fmt"

	"github.com/kiranshivaraju/picflow/internal/ai/mock"
	"github.com/kiranshivaraju/picflow/internal/ai/ollama"
	"github.com/kiranshivaraju/picflow/internal/ai/openai"
	"github.com/kiranshivaraju/picflow/internal/ai/vllm"
	"github.com/kiranshivaraju/picflow/internal/config"
	"github.com/kiranshivaraju/picflow/pkg/models"
)

// NewProvider constructs the appropriate AI provider based on config.
// Called once at server startup.
func NewProvider(cfg config.AIConfig) (models.Annotator, error) {
	switch cfg.Provider {
	case "ollama":
		return ollama.NewProvider(cfg.Ollama), nil
	case "vllm":
		return vllm.NewProvider(cfg.VLLM), nil
	case "openai":
		return openai.NewProvider(cfg.OpenAI), nil
	case "mock":
		p := mock.NewMockProvider()
		if cfg.EmbeddingDimensions > 0 {
			p.Dimensions = cfg.EmbeddingDimensions
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of ollama, vllm, openai, mock", cfg.Provider)
	}
}
