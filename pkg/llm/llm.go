// Package llm defines the client interfaces for the external generative and
// embedding model services the engine depends on.
package llm

import "context"

// CompletionRequest carries one generative-model call.
type CompletionRequest struct {
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Completer produces text from a prompt payload. Used for both triage
// (constrained-label output) and answer generation (free text).
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Embedder maps text to fixed-length numeric vectors. The dimension is
// constant for the lifetime of any index built from it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
