// Package llm provides completion and embedding clients for the answer
// pipeline. Both backends return plain text; prompts ask for JSON and the
// caller repairs whatever comes back.
package llm

import "context"

// GenerationParams tunes a single completion call.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// CompletionClient defines the standard interface for any completion backend.
type CompletionClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// EmbeddingClient defines the standard interface for any embedding backend.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
