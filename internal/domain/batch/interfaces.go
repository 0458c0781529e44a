package batch

import (
	"context"
	"io"
)

// EmailRepository reads the email queue and records processing outcomes.
type EmailRepository interface {
	ListUnprocessed(ctx context.Context, limit int) ([]Email, error)
	IsProcessed(ctx context.Context, id int64) (bool, error)
	MarkProcessed(ctx context.Context, id int64, outcome Outcome) error
}

// QuestionSink persists extracted questions for an email.
type QuestionSink interface {
	SaveQuestions(ctx context.Context, emailID int64, questions []NewQuestion) ([]int64, error)
}

// Extractor detects questions in an email.
type Extractor interface {
	Extract(ctx context.Context, req ExtractionRequest) (ExtractionResult, error)
}

// BodyStore streams email bodies kept outside the database.
type BodyStore interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// ResourceMonitor samples process memory and can ask the runtime to give
// memory back.
type ResourceMonitor interface {
	Sample() MemorySample
	Reclaim()
}

// TextBudget shortens text to a model-specific budget.
type TextBudget interface {
	Truncate(text string) string
}

// Observer receives run events synchronously from the processing loop.
type Observer interface {
	Progress(p Progress)
	Completed(summary Summary)
	Fatal(reason string, summary Summary)
}

// Observers fans events out to every observer in order.
type Observers []Observer

func (o Observers) Progress(p Progress) {
	for _, obs := range o {
		obs.Progress(p)
	}
}

func (o Observers) Completed(summary Summary) {
	for _, obs := range o {
		obs.Completed(summary)
	}
}

func (o Observers) Fatal(reason string, summary Summary) {
	for _, obs := range o {
		obs.Fatal(reason, summary)
	}
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) Progress(Progress) {}
func (NopObserver) Completed(Summary) {}
func (NopObserver) Fatal(string, Summary) {}
