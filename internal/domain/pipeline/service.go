package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yanqian/faq-pipeline/internal/domain/batch"
	"github.com/yanqian/faq-pipeline/internal/domain/faq"
	apperrors "github.com/yanqian/faq-pipeline/pkg/errors"
	"github.com/yanqian/faq-pipeline/pkg/util"
)

// ErrRunInProgress is returned while another run holds the lock.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// Service runs extraction, backfill and FAQ generation as one unit.
type Service interface {
	Run(ctx context.Context, req RunRequest) (Status, error)
	Trigger(ctx context.Context, req RunRequest) (Status, error)
	Status(ctx context.Context) (Status, error)
	HandleJob(ctx context.Context, name string, payload map[string]any)
}

type service struct {
	cfg       Config
	processor BatchRunner
	faqs      faq.Service
	lock      RunLock
	status    StatusStore
	queue     JobQueue
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// NewService wires the orchestration.
func NewService(cfg Config, processor BatchRunner, faqs faq.Service, lock RunLock, status StatusStore, queue JobQueue, logger *slog.Logger) Service {
	return &service{
		cfg:       cfg.withDefaults(),
		processor: processor,
		faqs:      faqs,
		lock:      lock,
		status:    status,
		queue:     queue,
		logger:    logger.With("component", "pipeline.service"),
		now:       util.NowUTC,
		newID:     uuid.NewString,
	}
}

func (s *service) Trigger(ctx context.Context, req RunRequest) (Status, error) {
	held, err := s.lock.Held(ctx)
	if err != nil {
		return Status{}, apperrors.Wrap(apperrors.CodeStore, "failed to inspect run lock", err)
	}
	if held {
		return Status{}, apperrors.Wrap(apperrors.CodeRunInProgress, "a pipeline run is already active", ErrRunInProgress)
	}
	if req.RunID == "" {
		req.RunID = s.newID()
	}
	now := s.now()
	queued := Status{RunID: req.RunID, Stage: StageQueued, StartedAt: now, UpdatedAt: now}
	if err := s.queue.Enqueue(ctx, JobName, requestPayload(req)); err != nil {
		return Status{}, apperrors.Wrap(apperrors.CodeStore, "failed to enqueue pipeline run", err)
	}
	s.logger.Info("pipeline run queued", "runId", req.RunID)
	return queued, nil
}

func (s *service) HandleJob(ctx context.Context, name string, payload map[string]any) {
	if name != JobName {
		s.logger.Warn("ignoring unknown job", "job", name)
		return
	}
	req := requestFromPayload(payload)
	if _, err := s.Run(ctx, req); err != nil {
		s.logger.Error("pipeline job failed", "runId", req.RunID, "error", err)
	}
}

func (s *service) Status(ctx context.Context) (Status, error) {
	status, ok, err := s.status.LoadStatus(ctx)
	if err != nil {
		return Status{}, apperrors.Wrap(apperrors.CodeStore, "failed to load pipeline status", err)
	}
	if !ok {
		return Status{Stage: StageDone}, nil
	}
	return status, nil
}

func (s *service) Run(ctx context.Context, req RunRequest) (Status, error) {
	if req.RunID == "" {
		req.RunID = s.newID()
	}
	acquired, err := s.lock.Acquire(ctx, req.RunID, s.cfg.LockTTL)
	if err != nil {
		return Status{}, apperrors.Wrap(apperrors.CodeStore, "failed to acquire run lock", err)
	}
	if !acquired {
		return Status{}, apperrors.Wrap(apperrors.CodeRunInProgress, "a pipeline run is already active", ErrRunInProgress)
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx), req.RunID); err != nil {
			s.logger.Warn("failed to release run lock", "runId", req.RunID, "error", err)
		}
	}()

	logger := s.logger.With("runId", req.RunID)
	tracker := &statusTracker{svc: s, ctx: ctx, owner: req.RunID}
	tracker.status = Status{RunID: req.RunID, Running: true, Stage: StageExtract, StartedAt: s.now()}
	tracker.save()
	logger.Info("pipeline run started", "skipExtraction", req.SkipExtraction, "skipGeneration", req.SkipGeneration)

	if !req.SkipExtraction {
		observers := batch.Observers{tracker, newProgressLogger(logger, s.cfg.ProgressLogEvery)}
		summary, err := s.processor.Run(ctx, observers)
		tracker.update(func(st *Status) { st.Batch = &summary })
		if err != nil {
			return tracker.fail(err), err
		}
	}

	tracker.update(func(st *Status) { st.Stage = StageBackfill })
	backfill, err := s.faqs.Backfill(ctx)
	tracker.update(func(st *Status) { st.Backfill = &backfill })
	if err != nil {
		return tracker.fail(err), err
	}

	if !req.SkipGeneration {
		tracker.update(func(st *Status) { st.Stage = StageGenerate })
		report, err := s.faqs.Generate(ctx)
		tracker.update(func(st *Status) { st.Generation = &report })
		if err != nil {
			return tracker.fail(err), err
		}
	}

	final := tracker.finish(StageDone, "")
	logger.Info("pipeline run finished")
	return final, nil
}

// statusTracker persists snapshots and keeps the lock alive while the batch
// processor reports progress.
type statusTracker struct {
	svc    *service
	ctx    context.Context
	owner  string
	mu     sync.Mutex
	status Status
}

func (t *statusTracker) Progress(p batch.Progress) {
	t.update(func(st *Status) { st.Progress = &p })
	if err := t.svc.lock.Refresh(t.ctx, t.owner, t.svc.cfg.LockTTL); err != nil {
		t.svc.logger.Warn("failed to refresh run lock", "runId", t.owner, "error", err)
	}
}

func (t *statusTracker) Completed(summary batch.Summary) {
	t.update(func(st *Status) { st.Batch = &summary })
}

func (t *statusTracker) Fatal(reason string, summary batch.Summary) {
	t.update(func(st *Status) {
		st.Batch = &summary
		st.Error = reason
	})
}

func (t *statusTracker) update(fn func(st *Status)) {
	t.mu.Lock()
	fn(&t.status)
	t.mu.Unlock()
	t.save()
}

func (t *statusTracker) fail(err error) Status {
	return t.finish(StageFailed, err.Error())
}

func (t *statusTracker) finish(stage Stage, message string) Status {
	t.mu.Lock()
	now := t.svc.now()
	t.status.Running = false
	t.status.Stage = stage
	if message != "" {
		t.status.Error = message
	}
	t.status.FinishedAt = &now
	t.mu.Unlock()
	t.save()
	return t.snapshot()
}

func (t *statusTracker) snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *statusTracker) save() {
	t.mu.Lock()
	t.status.UpdatedAt = t.svc.now()
	snapshot := t.status
	t.mu.Unlock()
	if err := t.svc.status.SaveStatus(context.WithoutCancel(t.ctx), snapshot); err != nil {
		t.svc.logger.Warn("failed to save pipeline status", "runId", t.owner, "error", err)
	}
}

func requestPayload(req RunRequest) map[string]any {
	return map[string]any{
		"runId":          req.RunID,
		"skipExtraction": req.SkipExtraction,
		"skipGeneration": req.SkipGeneration,
	}
}

func requestFromPayload(payload map[string]any) RunRequest {
	var req RunRequest
	if v, ok := payload["runId"].(string); ok {
		req.RunID = v
	}
	if v, ok := payload["skipExtraction"].(bool); ok {
		req.SkipExtraction = v
	}
	if v, ok := payload["skipGeneration"].(bool); ok {
		req.SkipGeneration = v
	}
	return req
}
