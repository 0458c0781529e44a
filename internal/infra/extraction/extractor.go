package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yanqian/faq-pipeline/internal/domain/batch"
	"github.com/yanqian/faq-pipeline/internal/infra/llm"
)

const extractionSystemPrompt = `You read customer support emails and list the questions the customer is asking.
Only include questions written by the customer, not by support staff.
If the email thread already contains a support answer to a question, include it as "answer", otherwise use null.
Give each question a confidence between 0 and 1 that it is a genuine customer question.
Respond ONLY with minified JSON of this shape: {"hasQuestions":boolean,"questions":[{"question":string,"answer":string|null,"confidence":number}],"overallConfidence":number,"reasoning":string}.`

// Extractor asks a chat model for the questions in one email.
type Extractor struct {
	model     llm.ChatModel
	maxTokens int
}

// NewExtractor constructs the extractor.
func NewExtractor(model llm.ChatModel, maxTokens int) *Extractor {
	if maxTokens <= 0 {
		maxTokens = 1500
	}
	return &Extractor{model: model, maxTokens: maxTokens}
}

func (e *Extractor) Extract(ctx context.Context, req batch.ExtractionRequest) (batch.ExtractionResult, error) {
	resp, err := e.model.Complete(ctx, llm.ChatRequest{
		System:    extractionSystemPrompt,
		Prompt:    buildExtractionPrompt(req),
		MaxTokens: e.maxTokens,
		JSON:      true,
	})
	if err != nil {
		return batch.ExtractionResult{}, err
	}
	result, err := parseExtraction(resp.Text)
	result.Usage = resp.Usage
	if err != nil {
		return result, err
	}
	return result, nil
}

func buildExtractionPrompt(req batch.ExtractionRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\n\n", strings.TrimSpace(req.Subject))
	b.WriteString("Email body:\n")
	b.WriteString(strings.TrimSpace(req.Body))
	if thread := strings.TrimSpace(req.ThreadContext); thread != "" {
		b.WriteString("\n\nEarlier messages in the thread:\n")
		b.WriteString(thread)
	}
	return b.String()
}

// parseExtraction decodes the model output, tolerating markdown fences.
func parseExtraction(raw string) (batch.ExtractionResult, error) {
	sanitized := stripFences(raw)
	if sanitized == "" {
		return batch.ExtractionResult{}, fmt.Errorf("empty extraction response")
	}
	var result batch.ExtractionResult
	if err := json.Unmarshal([]byte(sanitized), &result); err != nil {
		return batch.ExtractionResult{}, fmt.Errorf("decode extraction response: %w", err)
	}
	return result, nil
}

func stripFences(raw string) string {
	sanitized := strings.TrimSpace(raw)
	sanitized = strings.TrimPrefix(sanitized, "```json")
	sanitized = strings.TrimSuffix(sanitized, "```")
	sanitized = strings.Trim(sanitized, "`")
	sanitized = strings.TrimSpace(strings.TrimPrefix(sanitized, "json"))
	return sanitized
}

var _ batch.Extractor = (*Extractor)(nil)
