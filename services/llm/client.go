package llm

import "context"

type GenerationOptions struct {
	Model       string   `json:"model,omitempty"`
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`

	// TimeoutMs bounds the provider call. 0 leaves the caller's context
	// in charge.
	TimeoutMs int `json:"timeout_ms,omitempty"`
}

// Client defines the standard interface for any model backend.
type Client interface {
	GenerateResponse(ctx context.Context, systemPrompt, userPrompt string, opts GenerationOptions) (string, error)
}
