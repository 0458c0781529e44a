package queue

import (
	"context"

	"github.com/yanqian/faq-pipeline/internal/domain/pipeline"
)

// Handler executes one delivered job.
type Handler func(ctx context.Context, name string, payload map[string]any)

// WorkerQueue delivers jobs to a handler until Start's context ends.
type WorkerQueue interface {
	pipeline.JobQueue
	SetHandler(handler Handler)
	Start(ctx context.Context) error
}

func asPayload(payload any) map[string]any {
	typed, ok := payload.(map[string]any)
	if !ok {
		typed = map[string]any{}
	}
	return typed
}
