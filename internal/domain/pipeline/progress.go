package pipeline

import (
	"log/slog"
	"time"

	"github.com/yanqian/faq-pipeline/internal/domain/batch"
)

// progressLogger logs batch progress every N items with a throughput estimate.
type progressLogger struct {
	logger       *slog.Logger
	every        int
	lastReported int
	startedAt    time.Time
	now          func() time.Time
}

func newProgressLogger(logger *slog.Logger, every int) *progressLogger {
	return &progressLogger{logger: logger, every: every, startedAt: time.Now(), now: time.Now}
}

func (l *progressLogger) Progress(p batch.Progress) {
	if p.Current-l.lastReported < l.every && p.Current != p.Total {
		return
	}
	l.lastReported = p.Current
	elapsed := l.now().Sub(l.startedAt)
	var rate float64
	if elapsed > 0 {
		rate = float64(p.Current) / elapsed.Seconds()
	}
	var eta time.Duration
	if rate > 0 && p.Total > p.Current {
		eta = time.Duration(float64(p.Total-p.Current)/rate) * time.Second
	}
	l.logger.Info("batch progress",
		"current", p.Current,
		"total", p.Total,
		"processed", p.Processed,
		"questions", p.QuestionsFound,
		"errors", p.Errors,
		"perSecond", rate,
		"eta", eta.Round(time.Second).String(),
	)
}

func (l *progressLogger) Completed(batch.Summary) {}

func (l *progressLogger) Fatal(reason string, summary batch.Summary) {
	l.logger.Warn("batch halted", "reason", reason, "attempted", summary.Attempted, "failed", summary.Failed)
}
