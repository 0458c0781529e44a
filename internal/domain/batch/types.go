package batch

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/yanqian/faq-pipeline/pkg/metrics"
)

// State is the processor lifecycle.
type State string

const (
	StateIdle           State = "idle"
	StateProcessing     State = "processing"
	StateCompleted      State = "completed"
	StateCircuitTripped State = "circuit_tripped"
	StateAborted        State = "aborted"
)

// Email is one queued support email.
type Email struct {
	ID            int64
	Subject       string
	Body          string
	BodyKey       string
	ThreadContext string
	Processed     bool
	ReceivedAt    time.Time
}

// Outcome is recorded when an email is marked processed.
type Outcome struct {
	QuestionCount int
	Err           string
}

// NewQuestion is an extracted question ready to be persisted.
type NewQuestion struct {
	Text               string
	Answer             *string
	Confidence         float64
	IsCustomerQuestion bool
}

// ExtractionRequest is sent to the question extractor.
type ExtractionRequest struct {
	Subject       string
	Body          string
	ThreadContext string
}

// ExtractedQuestion is one question returned by the extractor.
type ExtractedQuestion struct {
	Question   string  `json:"question"`
	Answer     *string `json:"answer"`
	Confidence float64 `json:"confidence"`
}

// ExtractionResult is the extractor response. A missing hasQuestions
// decodes to false.
type ExtractionResult struct {
	HasQuestions      bool                `json:"hasQuestions"`
	Questions         []ExtractedQuestion `json:"questions"`
	OverallConfidence float64             `json:"overallConfidence"`
	Reasoning         string              `json:"reasoning"`
	Usage             metrics.TokenUsage  `json:"-"`
}

var errMalformedExtraction = errors.New("malformed extraction response")

// Validate rejects responses that claim questions without any question
// text or that carry non-finite confidences. Out-of-range confidences are
// left for Normalize to clamp.
func (r ExtractionResult) Validate() error {
	if !validConfidence(r.OverallConfidence) {
		return fmt.Errorf("%w: overallConfidence %v", errMalformedExtraction, r.OverallConfidence)
	}
	if !r.HasQuestions {
		return nil
	}
	withText := 0
	for i, q := range r.Questions {
		if !validConfidence(q.Confidence) {
			return fmt.Errorf("%w: question %d confidence %v", errMalformedExtraction, i, q.Confidence)
		}
		if strings.TrimSpace(q.Question) != "" {
			withText++
		}
	}
	if withText == 0 {
		return fmt.Errorf("%w: hasQuestions set without question text", errMalformedExtraction)
	}
	return nil
}

// Normalize drops empty and duplicate questions, trims text and clamps
// confidences into [0, 1]. Questions are ignored entirely when HasQuestions
// is false.
func (r ExtractionResult) Normalize() ExtractionResult {
	out := r
	out.OverallConfidence = clampConfidence(r.OverallConfidence)
	out.Questions = nil
	if !r.HasQuestions {
		return out
	}
	seen := make(map[string]struct{}, len(r.Questions))
	for _, q := range r.Questions {
		text := strings.TrimSpace(q.Question)
		key := questionKey(text)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		q.Question = text
		q.Confidence = clampConfidence(q.Confidence)
		if q.Answer != nil {
			answer := strings.TrimSpace(*q.Answer)
			if answer == "" {
				q.Answer = nil
			} else {
				q.Answer = &answer
			}
		}
		out.Questions = append(out.Questions, q)
	}
	out.HasQuestions = len(out.Questions) > 0
	return out
}

func validConfidence(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clampConfidence(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

// questionKey lowercases text and folds punctuation and whitespace runs into
// single spaces so near-identical phrasings in one email collapse.
func questionKey(q string) string {
	lowered := strings.ToLower(strings.TrimSpace(q))
	var builder strings.Builder
	builder.Grow(len(lowered))
	lastSpace := true
	for _, r := range lowered {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			builder.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			builder.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(builder.String())
}

// Progress is a periodic snapshot emitted during a run.
type Progress struct {
	Current        int    `json:"current"`
	Total          int    `json:"total"`
	Processed      int    `json:"processed"`
	QuestionsFound int    `json:"questionsFound"`
	Errors         int    `json:"errors"`
	Label          string `json:"label"`
}

// Summary describes a finished or stopped run.
type Summary struct {
	State             State              `json:"state"`
	Completed         bool               `json:"completed"`
	StopReason        string             `json:"stopReason,omitempty"`
	Total             int                `json:"total"`
	Attempted         int                `json:"attempted"`
	Processed         int                `json:"processed"`
	Skipped           int                `json:"skipped"`
	Failed            int                `json:"failed"`
	QuestionsFound    int                `json:"questionsFound"`
	ConsecutiveErrors int                `json:"consecutiveErrors"`
	PressureReclaims  int                `json:"pressureReclaims"`
	PeakMemoryBytes   uint64             `json:"peakMemoryBytes"`
	Usage             metrics.TokenUsage `json:"usage"`
	StartedAt         time.Time          `json:"startedAt"`
	FinishedAt        time.Time          `json:"finishedAt"`
}

// MemorySample is one reading of process memory against its ceiling.
type MemorySample struct {
	UsedBytes  uint64
	LimitBytes uint64
}

// Ratio reports used/limit, or 0 when no limit is known.
func (m MemorySample) Ratio() float64 {
	if m.LimitBytes == 0 {
		return 0
	}
	return float64(m.UsedBytes) / float64(m.LimitBytes)
}
