package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/yanqian/faq-pipeline/internal/domain/faq"
	"github.com/yanqian/faq-pipeline/internal/infra/llm"
)

const consolidationSystemPrompt = `You write FAQ answers for a customer support knowledge base.
You receive several phrasings of the same customer question and the answers support gave.
Write one clear, self-contained answer in plain text that covers every phrasing.
Use only facts present in the given answers. If no answers are given, write a short answer that tells the customer to contact support.`

// Consolidator merges the answers of a question cluster into one.
type Consolidator struct {
	model     llm.ChatModel
	maxTokens int
}

// NewConsolidator constructs the consolidator.
func NewConsolidator(model llm.ChatModel, maxTokens int) *Consolidator {
	if maxTokens <= 0 {
		maxTokens = 800
	}
	return &Consolidator{model: model, maxTokens: maxTokens}
}

func (c *Consolidator) Consolidate(ctx context.Context, req faq.ConsolidationRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	resp, err := c.model.Complete(ctx, llm.ChatRequest{
		System:    consolidationSystemPrompt,
		Prompt:    buildConsolidationPrompt(req),
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

func buildConsolidationPrompt(req faq.ConsolidationRequest) string {
	var b strings.Builder
	b.WriteString("Questions:\n")
	for i, q := range req.Questions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.TrimSpace(q))
	}
	if len(req.Answers) > 0 {
		b.WriteString("\nAnswers given by support:\n")
		for i, a := range req.Answers {
			fmt.Fprintf(&b, "%d. %s\n", i+1, strings.TrimSpace(a))
		}
	}
	return strings.TrimSpace(b.String())
}

var _ faq.AnswerConsolidator = (*Consolidator)(nil)
