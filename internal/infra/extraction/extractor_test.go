package extraction

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yanqian/faq-pipeline/internal/domain/batch"
	"github.com/yanqian/faq-pipeline/internal/domain/faq"
	"github.com/yanqian/faq-pipeline/internal/infra/llm"
	"github.com/yanqian/faq-pipeline/pkg/metrics"
)

type stubModel struct {
	text string
	err  error
	last llm.ChatRequest
}

func (s *stubModel) Complete(_ context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	s.last = req
	if s.err != nil {
		return llm.ChatResponse{}, s.err
	}
	return llm.ChatResponse{Text: s.text, Usage: metrics.TokenUsage{PromptTokens: 10, TotalTokens: 12}}, nil
}

func TestExtractParsesFencedJSON(t *testing.T) {
	model := &stubModel{text: "```json\n{\"hasQuestions\":true,\"questions\":[{\"question\":\"How do I reset my password?\",\"answer\":null,\"confidence\":0.9}],\"overallConfidence\":0.9,\"reasoning\":\"asks\"}\n```"}
	extractor := NewExtractor(model, 0)

	result, err := extractor.Extract(context.Background(), batch.ExtractionRequest{
		Subject:       "Login",
		Body:          "How do I reset my password?",
		ThreadContext: "previous note",
	})
	require.NoError(t, err)
	require.True(t, result.HasQuestions)
	require.Len(t, result.Questions, 1)
	require.Nil(t, result.Questions[0].Answer)
	require.Equal(t, 12, result.Usage.TotalTokens)
	require.True(t, model.last.JSON)
	require.Contains(t, model.last.Prompt, "Subject: Login")
	require.Contains(t, model.last.Prompt, "previous note")
}

func TestExtractMissingFlagDecodesAsFalse(t *testing.T) {
	extractor := NewExtractor(&stubModel{text: `{"questions":[{"question":"q","confidence":0.5}]}`}, 0)
	result, err := extractor.Extract(context.Background(), batch.ExtractionRequest{Body: "x"})
	require.NoError(t, err)
	require.False(t, result.HasQuestions)
}

func TestExtractRejectsMalformedOutput(t *testing.T) {
	cases := map[string]string{
		"empty":    "  ",
		"prose":    "Sure! The customer asks about passwords.",
		"truncate": `{"hasQuestions":true,"questions":[`,
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			result, err := NewExtractor(&stubModel{text: text}, 0).Extract(context.Background(), batch.ExtractionRequest{Body: "x"})
			require.Error(t, err)
			require.Equal(t, 12, result.Usage.TotalTokens)
		})
	}
}

func TestExtractPropagatesModelError(t *testing.T) {
	boom := errors.New("rate limited")
	_, err := NewExtractor(&stubModel{err: boom}, 0).Extract(context.Background(), batch.ExtractionRequest{Body: "x"})
	require.ErrorIs(t, err, boom)
}

func TestConsolidatorBuildsPrompt(t *testing.T) {
	model := &stubModel{text: "  Use the reset link on the login page.  "}
	answer, err := NewConsolidator(model, 0).Consolidate(context.Background(), faq.ConsolidationRequest{
		Questions: []string{"How do I reset my password?", "Forgot password"},
		Answers:   []string{"Use the reset link."},
	})
	require.NoError(t, err)
	require.Equal(t, "Use the reset link on the login page.", answer)
	require.False(t, model.last.JSON)
	require.True(t, strings.HasPrefix(model.last.Prompt, "Questions:\n1. How do I reset my password?"))
	require.Contains(t, model.last.Prompt, "Answers given by support:\n1. Use the reset link.")
}

func TestConsolidatorRejectsEmptyRequest(t *testing.T) {
	model := &stubModel{text: "unused"}
	_, err := NewConsolidator(model, 0).Consolidate(context.Background(), faq.ConsolidationRequest{})
	require.Error(t, err)
	require.Empty(t, model.last.Prompt)
}
