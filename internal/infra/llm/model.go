package llm

import (
	"context"

	"github.com/yanqian/faq-pipeline/pkg/metrics"
)

// ChatRequest is a single-turn prompt.
type ChatRequest struct {
	System    string
	Prompt    string
	MaxTokens int
	// JSON asks providers that support it for a JSON object response.
	JSON bool
}

// ChatResponse is the model's text plus what it cost.
type ChatResponse struct {
	Text  string
	Usage metrics.TokenUsage
}

// ChatModel is a provider-neutral completion endpoint.
type ChatModel interface {
	Complete(ctx context.Context, req ChatRequest) (ChatResponse, error)
}
