package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/yanqian/faq-pipeline/internal/domain/clustering"
	apperrors "github.com/yanqian/faq-pipeline/pkg/errors"
	"github.com/yanqian/faq-pipeline/pkg/metrics"
	"github.com/yanqian/faq-pipeline/pkg/util"
)

var (
	// ErrCircuitTripped stops a run after too many item failures.
	ErrCircuitTripped = errors.New("circuit breaker tripped")
	// ErrMemoryCritical stops a run before the process runs out of memory.
	ErrMemoryCritical = errors.New("memory usage above critical mark")
	// ErrItemTimeout marks an extraction that did not answer in time.
	ErrItemTimeout = errors.New("extraction timed out")
	// ErrProgrammer marks configuration bugs. They stop the run and are
	// never counted as item failures.
	ErrProgrammer = errors.New("programmer error")
)

// Option customises a Processor.
type Option func(*Processor)

// WithBodyStore lets the processor stream bodies that are not stored inline.
func WithBodyStore(store BodyStore) Option {
	return func(p *Processor) { p.bodies = store }
}

// WithResourceMonitor enables memory governance.
func WithResourceMonitor(monitor ResourceMonitor) Option {
	return func(p *Processor) { p.monitor = monitor }
}

// WithTextBudget applies a token budget after character truncation.
func WithTextBudget(budget TextBudget) Option {
	return func(p *Processor) { p.budget = budget }
}

// Processor extracts questions from queued emails one at a time under
// memory, error and time bounds.
type Processor struct {
	cfg       Config
	emails    EmailRepository
	questions QuestionSink
	extractor Extractor
	bodies    BodyStore
	monitor   ResourceMonitor
	budget    TextBudget
	limiter   *rate.Limiter
	logger    *slog.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewProcessor builds a Processor.
func NewProcessor(cfg Config, emails EmailRepository, questions QuestionSink, extractor Extractor, logger *slog.Logger, opts ...Option) *Processor {
	cfg = cfg.withDefaults()
	p := &Processor{
		cfg:       cfg,
		emails:    emails,
		questions: questions,
		extractor: extractor,
		logger:    logger.With("component", "batch.processor"),
		now:       util.NowUTC,
		sleep:     sleepContext,
	}
	if cfg.RequestsPerMinute > 0 {
		p.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// runState holds every counter of one Run call.
type runState struct {
	state          State
	total          int
	attempted      int
	processed      int
	skipped        int
	failed         int
	questionsFound int
	reclaims       int
	peakMemory     uint64
	usage          metrics.TokenUsage
	breaker        *breaker
	startedAt      time.Time
}

func (r *runState) summary(finishedAt time.Time, reason string) Summary {
	return Summary{
		State:             r.state,
		Completed:         r.state == StateCompleted,
		StopReason:        reason,
		Total:             r.total,
		Attempted:         r.attempted,
		Processed:         r.processed,
		Skipped:           r.skipped,
		Failed:            r.failed,
		QuestionsFound:    r.questionsFound,
		ConsecutiveErrors: r.breaker.consecutive,
		PressureReclaims:  r.reclaims,
		PeakMemoryBytes:   r.peakMemory,
		Usage:             r.usage,
		StartedAt:         r.startedAt,
		FinishedAt:        finishedAt,
	}
}

// Run processes one batch of unprocessed emails. It returns a non-nil error
// only when the run stopped early; the summary then carries partial counts.
func (p *Processor) Run(ctx context.Context, observer Observer) (Summary, error) {
	if observer == nil {
		observer = NopObserver{}
	}
	run := &runState{
		state:     StateIdle,
		breaker:   newBreaker(p.cfg.MaxConsecutiveErrors, p.cfg.MaxTotalErrors),
		startedAt: p.now(),
	}

	emails, err := p.emails.ListUnprocessed(ctx, p.cfg.BatchSize)
	if err != nil {
		return p.stop(run, observer, StateAborted, "email queue unavailable",
			apperrors.Wrap(apperrors.CodeStore, "failed to list unprocessed emails", err))
	}
	run.total = len(emails)
	run.state = StateProcessing
	p.logger.Info("batch run started", "emails", run.total)

	for i, email := range emails {
		if err := ctx.Err(); err != nil {
			return p.stop(run, observer, StateAborted, "run cancelled", err)
		}
		if i > 0 && i%p.cfg.MemoryCheckEvery == 0 {
			if err := p.checkPressure(ctx, run); err != nil {
				if ctx.Err() != nil {
					return p.stop(run, observer, StateAborted, "run cancelled", ctx.Err())
				}
				return p.stop(run, observer, StateAborted, "memory critical", err)
			}
		}

		if err := p.processItem(ctx, run, email); err != nil {
			if ctx.Err() != nil {
				return p.stop(run, observer, StateAborted, "run cancelled", ctx.Err())
			}
			if isProgrammerError(err) {
				return p.stop(run, observer, StateAborted, "configuration error", err)
			}
		}

		observer.Progress(Progress{
			Current:        i + 1,
			Total:          run.total,
			Processed:      run.processed,
			QuestionsFound: run.questionsFound,
			Errors:         run.failed,
			Label:          util.TruncateRunes(util.CollapseSpaces(email.Subject), 80),
		})

		if tripped, reason := run.breaker.tripped(); tripped {
			return p.stop(run, observer, StateCircuitTripped, reason,
				apperrors.Wrap(apperrors.CodeCircuitTripped, reason, ErrCircuitTripped))
		}
	}

	p.samplePeak(run)
	run.state = StateCompleted
	summary := run.summary(p.now(), "")
	observer.Completed(summary)
	p.logger.Info("batch run completed",
		"emails", summary.Total,
		"processed", summary.Processed,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"questions", summary.QuestionsFound,
	)
	return summary, nil
}

func (p *Processor) stop(run *runState, observer Observer, state State, reason string, err error) (Summary, error) {
	run.state = state
	summary := run.summary(p.now(), reason)
	observer.Fatal(reason, summary)
	p.logger.Error("batch run stopped",
		"state", state,
		"reason", reason,
		"attempted", summary.Attempted,
		"failed", summary.Failed,
		"error", err,
	)
	return summary, err
}

// processItem handles one email. Item failures are recorded on the email
// and in the run counters; the returned error is informational except for
// cancellation and programmer errors.
func (p *Processor) processItem(ctx context.Context, run *runState, email Email) error {
	if email.Processed {
		run.skipped++
		return nil
	}
	done, err := p.emails.IsProcessed(ctx, email.ID)
	if err != nil {
		p.logger.Warn("processed check failed", "email_id", email.ID, "error", err)
	} else if done {
		run.skipped++
		return nil
	}

	run.attempted++
	found, usage, err := p.extractAndStore(ctx, email)
	run.usage = run.usage.Add(usage)
	if err != nil {
		if ctx.Err() != nil || isProgrammerError(err) {
			return err
		}
		run.failed++
		run.breaker.recordFailure()
		p.logger.Warn("email processing failed", "email_id", email.ID, "error", err)
		p.markProcessed(ctx, email.ID, Outcome{Err: util.TruncateRunes(err.Error(), p.cfg.MaxErrorChars)})
		return err
	}

	run.processed++
	run.questionsFound += found
	run.breaker.recordSuccess()
	p.markProcessed(ctx, email.ID, Outcome{QuestionCount: found})
	return nil
}

func (p *Processor) markProcessed(ctx context.Context, id int64, outcome Outcome) {
	if err := p.emails.MarkProcessed(ctx, id, outcome); err != nil {
		p.logger.Warn("mark processed failed", "email_id", id, "error", err)
	}
}

func (p *Processor) extractAndStore(ctx context.Context, email Email) (int, metrics.TokenUsage, error) {
	body, err := p.loadBody(ctx, email)
	if err != nil {
		return 0, metrics.TokenUsage{}, apperrors.Wrap(apperrors.CodeExtractionFailed, "failed to load email body", err)
	}
	body = util.TruncateRunes(body, p.cfg.MaxBodyChars)
	if p.budget != nil {
		body = p.budget.Truncate(body)
	}
	req := ExtractionRequest{
		Subject:       util.TruncateRunes(strings.TrimSpace(email.Subject), 500),
		Body:          body,
		ThreadContext: util.TruncateRunes(email.ThreadContext, p.cfg.MaxThreadChars),
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return 0, metrics.TokenUsage{}, err
		}
	}

	result, err := p.extract(ctx, req)
	if err != nil {
		return 0, result.Usage, apperrors.Wrap(apperrors.CodeExtractionFailed, "question extraction failed", err)
	}
	if err := result.Validate(); err != nil {
		return 0, result.Usage, apperrors.Wrap(apperrors.CodeExtractionFailed, "question extraction failed", err)
	}
	result = result.Normalize()
	if !result.HasQuestions {
		return 0, result.Usage, nil
	}

	questions := make([]NewQuestion, 0, len(result.Questions))
	for _, q := range result.Questions {
		nq := NewQuestion{
			Text:               util.TruncateRunes(q.Question, p.cfg.MaxQuestionChars),
			Confidence:         q.Confidence,
			IsCustomerQuestion: true,
		}
		if q.Answer != nil {
			answer := util.TruncateRunes(*q.Answer, p.cfg.MaxAnswerChars)
			nq.Answer = &answer
		}
		questions = append(questions, nq)
	}
	if _, err := p.questions.SaveQuestions(ctx, email.ID, questions); err != nil {
		return 0, result.Usage, apperrors.Wrap(apperrors.CodeStore, "failed to save questions", err)
	}
	return len(questions), result.Usage, nil
}

// extract calls the extractor under the item timeout. The call runs on its
// own goroutine so an extractor that ignores its context cannot hold the run.
func (p *Processor) extract(ctx context.Context, req ExtractionRequest) (ExtractionResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.ItemTimeout)
	defer cancel()

	type reply struct {
		result ExtractionResult
		err    error
	}
	replies := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				replies <- reply{err: fmt.Errorf("extractor panic: %v", r)}
			}
		}()
		result, err := p.extractor.Extract(callCtx, req)
		replies <- reply{result: result, err: err}
	}()

	select {
	case r := <-replies:
		if r.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return r.result, fmt.Errorf("%w after %s: %v", ErrItemTimeout, p.cfg.ItemTimeout, r.err)
		}
		return r.result, r.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return ExtractionResult{}, err
		}
		return ExtractionResult{}, fmt.Errorf("%w after %s", ErrItemTimeout, p.cfg.ItemTimeout)
	}
}

func (p *Processor) loadBody(ctx context.Context, email Email) (string, error) {
	if email.Body != "" || email.BodyKey == "" {
		return email.Body, nil
	}
	if p.bodies == nil {
		return "", fmt.Errorf("email %d body stored at %q but no body store configured", email.ID, email.BodyKey)
	}
	reader, err := p.bodies.Open(ctx, email.BodyKey)
	if err != nil {
		return "", err
	}
	defer reader.Close()
	// UTF-8 needs at most four bytes per rune.
	data, err := io.ReadAll(io.LimitReader(reader, int64(p.cfg.MaxBodyChars)*4))
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(data), ""), nil
}

// checkPressure samples memory. Above the high-water mark it asks the
// runtime to reclaim memory and pauses; above the critical mark it fails.
func (p *Processor) checkPressure(ctx context.Context, run *runState) error {
	if p.monitor == nil {
		return nil
	}
	sample := p.sampleMemory(run)
	ratio := sample.Ratio()
	switch {
	case ratio >= p.cfg.CriticalRatio:
		return apperrors.Wrap(apperrors.CodeMemoryCritical,
			fmt.Sprintf("memory at %.0f%% of %d bytes", ratio*100, sample.LimitBytes), ErrMemoryCritical)
	case ratio >= p.cfg.HighWaterRatio:
		run.reclaims++
		p.logger.Warn("memory pressure, reclaiming", "used_bytes", sample.UsedBytes, "limit_bytes", sample.LimitBytes)
		p.monitor.Reclaim()
		return p.sleep(ctx, p.cfg.PressurePause)
	}
	return nil
}

func (p *Processor) sampleMemory(run *runState) MemorySample {
	sample := p.monitor.Sample()
	if sample.UsedBytes > run.peakMemory {
		run.peakMemory = sample.UsedBytes
	}
	return sample
}

// samplePeak takes one reading after the last item so batches shorter than
// MemoryCheckEvery still report their peak. It never aborts finished work.
func (p *Processor) samplePeak(run *runState) {
	if p.monitor == nil || run.total == 0 {
		return
	}
	sample := p.sampleMemory(run)
	if sample.Ratio() >= p.cfg.HighWaterRatio {
		p.logger.Warn("memory pressure at batch end", "used_bytes", sample.UsedBytes, "limit_bytes", sample.LimitBytes)
	}
}

func isProgrammerError(err error) bool {
	return errors.Is(err, ErrProgrammer) || errors.Is(err, clustering.ErrDimensionMismatch)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
