package pipeline

import (
	"context"
	"time"

	"github.com/yanqian/faq-pipeline/internal/domain/batch"
	"github.com/yanqian/faq-pipeline/internal/domain/faq"
)

// JobName is the queue job that triggers a pipeline run.
const JobName = "pipeline.run"

// Stage names the step a run is in.
type Stage string

const (
	StageQueued   Stage = "queued"
	StageExtract  Stage = "extract"
	StageBackfill Stage = "backfill"
	StageGenerate Stage = "generate"
	StageDone     Stage = "done"
	StageFailed   Stage = "failed"
)

// RunRequest selects which steps a run executes.
type RunRequest struct {
	RunID          string `json:"runId,omitempty"`
	SkipExtraction bool   `json:"skipExtraction"`
	SkipGeneration bool   `json:"skipGeneration"`
}

// Status is the snapshot of the latest run.
type Status struct {
	RunID      string                `json:"runId"`
	Running    bool                  `json:"running"`
	Stage      Stage                 `json:"stage"`
	Progress   *batch.Progress       `json:"progress,omitempty"`
	Batch      *batch.Summary        `json:"batch,omitempty"`
	Backfill   *faq.BackfillReport   `json:"backfill,omitempty"`
	Generation *faq.GenerationReport `json:"generation,omitempty"`
	Error      string                `json:"error,omitempty"`
	StartedAt  time.Time             `json:"startedAt"`
	FinishedAt *time.Time            `json:"finishedAt,omitempty"`
	UpdatedAt  time.Time             `json:"updatedAt"`
}

// RunLock guarantees a single writer across processes.
type RunLock interface {
	Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	Refresh(ctx context.Context, owner string, ttl time.Duration) error
	Release(ctx context.Context, owner string) error
	Held(ctx context.Context) (bool, error)
}

// StatusStore persists the latest run snapshot.
type StatusStore interface {
	SaveStatus(ctx context.Context, status Status) error
	LoadStatus(ctx context.Context) (Status, bool, error)
}

// JobQueue dispatches run triggers to a worker.
type JobQueue interface {
	Enqueue(ctx context.Context, name string, payload any) error
}

// BatchRunner processes one batch of unprocessed emails.
type BatchRunner interface {
	Run(ctx context.Context, observer batch.Observer) (batch.Summary, error)
}

// Config tunes the orchestration.
type Config struct {
	LockTTL          time.Duration
	ProgressLogEvery int
}

func (c Config) withDefaults() Config {
	if c.LockTTL <= 0 {
		c.LockTTL = 15 * time.Minute
	}
	if c.ProgressLogEvery <= 0 {
		c.ProgressLogEvery = 10
	}
	return c
}
