package llm

import (
	"context"
	"strings"
)

// EchoModel returns a canned response without external calls. It keeps the
// pipeline runnable in development when no provider key is configured.
type EchoModel struct{}

// Complete answers JSON requests with an empty extraction and echoes the
// prompt otherwise.
func (EchoModel) Complete(_ context.Context, req ChatRequest) (ChatResponse, error) {
	if req.JSON {
		return ChatResponse{Text: `{"hasQuestions":false,"questions":[],"overallConfidence":0,"reasoning":"echo model"}`}, nil
	}
	return ChatResponse{Text: strings.TrimSpace(req.Prompt)}, nil
}

var _ ChatModel = EchoModel{}
