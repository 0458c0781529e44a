package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/yanqian/faq-pipeline/internal/domain/faq"
	"github.com/yanqian/faq-pipeline/internal/infra/llm/chatgpt"
)

// Truncator bounds embedding input.
type Truncator interface {
	Truncate(text string) string
}

// ChatGPTEmbedder calls the OpenAI-compatible embeddings API.
type ChatGPTEmbedder struct {
	client     *chatgpt.Client
	model      string
	dimensions int
	budget     Truncator
	logger     *slog.Logger
}

// NewChatGPTEmbedder constructs an embedder. dimensions is forwarded to
// models that support shortened vectors; zero keeps the model default.
func NewChatGPTEmbedder(client *chatgpt.Client, model string, dimensions int, budget Truncator, logger *slog.Logger) *ChatGPTEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatGPTEmbedder{
		client:     client,
		model:      strings.TrimSpace(model),
		dimensions: dimensions,
		budget:     budget,
		logger:     logger.With("component", "embedding.chatgpt"),
	}
}

// Embed requests one vector for text.
func (e *ChatGPTEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("cannot embed empty text")
	}
	if e.budget != nil {
		text = e.budget.Truncate(text)
	}
	resp, err := e.client.CreateEmbedding(ctx, chatgpt.EmbeddingRequest{
		Model:      e.model,
		Input:      []string{text},
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) != 1 {
		e.logger.Warn("embedding result count mismatch", "expected", 1, "got", len(resp.Data))
		return nil, fmt.Errorf("embedding response carried %d vectors", len(resp.Data))
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	copy(vec, resp.Data[0].Embedding)
	return vec, nil
}

var _ faq.Embedder = (*ChatGPTEmbedder)(nil)
