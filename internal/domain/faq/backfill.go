package faq

import (
	"context"
	"fmt"

	"github.com/yanqian/faq-pipeline/internal/domain/clustering"
	apperrors "github.com/yanqian/faq-pipeline/pkg/errors"
)

// Backfill attaches embeddings, and a default confidence when none was
// recorded, to customer questions the extraction step stored without one.
func (s *service) Backfill(ctx context.Context) (BackfillReport, error) {
	var report BackfillReport
	if s.embedder == nil {
		return report, nil
	}
	questions, err := s.repo.ListMissingEmbeddings(ctx, s.cfg.BackfillLimit)
	if err != nil {
		return report, apperrors.Wrap(apperrors.CodeStore, "failed to load questions without embeddings", err)
	}
	report.Scanned = len(questions)

	for _, q := range questions {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		vector, err := s.embedder.Embed(ctx, q.Text)
		if err != nil {
			report.Failed++
			s.logger.Warn("question embedding failed", "question_id", q.ID, "error", err)
			continue
		}
		if len(vector) == 0 {
			report.Failed++
			s.logger.Warn("question embedding empty", "question_id", q.ID)
			continue
		}
		if s.cfg.EmbeddingDimension > 0 && len(vector) != s.cfg.EmbeddingDimension {
			err := fmt.Errorf("%w: got %d values, configured %d", clustering.ErrDimensionMismatch, len(vector), s.cfg.EmbeddingDimension)
			return report, apperrors.Wrap(apperrors.CodeDimensionMismatch, "embedding model and configured dimension disagree", err)
		}
		confidence := q.Confidence
		if confidence <= 0 {
			confidence = s.cfg.DefaultConfidence
		}
		if err := s.repo.UpdateQuestionEmbedding(ctx, q.ID, vector, confidence); err != nil {
			report.Failed++
			s.logger.Warn("question embedding not saved", "question_id", q.ID, "error", err)
			continue
		}
		report.Embedded++
	}

	if report.Scanned > 0 {
		s.logger.Info("embedding backfill finished", "scanned", report.Scanned, "embedded", report.Embedded, "failed", report.Failed)
	}
	return report, nil
}
