package ai

import "github.com/kiranshivaraju/picflow/internal/ai/schema"

// Re-exported so callers can match provider failures without importing schema.
var (
	ErrProviderUnavailable = schema.ErrProviderUnavailable
	ErrInferenceTimeout    = schema.ErrInferenceTimeout
	ErrInvalidResponse     = schema.ErrInvalidResponse
)
