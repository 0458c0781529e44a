package llm

import (
	"context"
	"strings"

	"github.com/yanqian/faq-pipeline/internal/infra/llm/chatgpt"
	"github.com/yanqian/faq-pipeline/pkg/metrics"
)

// ChatGPTModel adapts the ChatGPT client to ChatModel.
type ChatGPTModel struct {
	client      *chatgpt.Client
	model       string
	temperature float32
}

// NewChatGPTModel constructs the adapter.
func NewChatGPTModel(client *chatgpt.Client, model string, temperature float32) *ChatGPTModel {
	return &ChatGPTModel{client: client, model: model, temperature: temperature}
}

func (m *ChatGPTModel) Complete(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	payload := chatgpt.ChatCompletionRequest{
		Model:       m.model,
		Temperature: m.temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.System != "" {
		payload.Messages = append(payload.Messages, chatgpt.Message{Role: "system", Content: req.System})
	}
	payload.Messages = append(payload.Messages, chatgpt.Message{Role: "user", Content: req.Prompt})
	if req.JSON {
		payload.ResponseFormat = &chatgpt.ResponseFormat{Type: "json_object"}
	}
	resp, err := m.client.CreateChatCompletion(ctx, payload)
	if err != nil {
		return ChatResponse{}, err
	}
	out := ChatResponse{Usage: metrics.TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}}
	if len(resp.Choices) > 0 {
		out.Text = strings.TrimSpace(resp.Choices[0].Message.Content)
	}
	return out, nil
}

var _ ChatModel = (*ChatGPTModel)(nil)
