package faq_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yanqian/faq-pipeline/internal/domain/clustering"
	"github.com/yanqian/faq-pipeline/internal/domain/faq"
	"github.com/yanqian/faq-pipeline/internal/infra/faqrepo"
	apperrors "github.com/yanqian/faq-pipeline/pkg/errors"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

type stubConsolidator struct {
	calls  []faq.ConsolidationRequest
	failOn string
}

func (s *stubConsolidator) Consolidate(_ context.Context, req faq.ConsolidationRequest) (string, error) {
	s.calls = append(s.calls, req)
	if s.failOn != "" && strings.Contains(strings.Join(req.Questions, "|"), s.failOn) {
		return "", errors.New("model overloaded")
	}
	return "Answer for: " + req.Questions[0], nil
}

type stubEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (s stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	vec, ok := s.vectors[text]
	if !ok {
		return nil, errors.New("no vector")
	}
	return vec, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func answer(s string) *string { return &s }

func seedPasswordScenario(repo *faqrepo.MemoryRepository) {
	repo.InsertQuestion(faq.Question{ID: 1, Text: "How do I reset my password?", Answer: answer("Use the reset link."), Confidence: 0.9, IsCustomerQuestion: true, Embedding: []float32{1, 0.1, 0}, CreatedAt: t0})
	repo.InsertQuestion(faq.Question{ID: 2, Text: "How can I change my password?", Answer: answer("Go to settings."), Confidence: 0.85, IsCustomerQuestion: true, Embedding: []float32{0.95, 0.15, 0.02}, CreatedAt: t0.Add(time.Minute)})
	repo.InsertQuestion(faq.Question{ID: 3, Text: "What is your return policy?", Confidence: 0.8, IsCustomerQuestion: true, Embedding: []float32{0, 0.2, 1}, CreatedAt: t0.Add(2 * time.Minute)})
}

func newService(repo faq.Repository, answers faq.AnswerConsolidator, cfg faq.Config, opts ...clustering.Option) faq.Service {
	return faq.NewService(cfg, repo, clustering.NewClusterer(0.8, opts...), answers, nil, testLogger())
}

func membershipsOf(t *testing.T, repo faq.Repository, groupID int64) map[int64]faq.Membership {
	t.Helper()
	rows, err := repo.ListMemberships(context.Background(), []int64{groupID})
	require.NoError(t, err)
	out := make(map[int64]faq.Membership, len(rows))
	for _, r := range rows {
		out[r.QuestionID] = r
	}
	return out
}

func requireCountsMatchAssociations(t *testing.T, repo faq.Repository) {
	t.Helper()
	groups, err := repo.ListGroups(context.Background(), faq.GroupFilter{})
	require.NoError(t, err)
	for _, g := range groups {
		rows := membershipsOf(t, repo, g.ID)
		require.Equal(t, len(rows), g.QuestionCount, "group %d", g.ID)
		reps := 0
		for _, r := range rows {
			if r.IsRepresentative {
				reps++
			}
		}
		require.Equal(t, 1, reps, "group %d must have one representative", g.ID)
	}
}

func TestGeneratePasswordScenario(t *testing.T) {
	repo := faqrepo.NewMemoryRepository()
	seedPasswordScenario(repo)
	answers := &stubConsolidator{}
	svc := newService(repo, answers, faq.Config{MinQuestionCount: 1, AutoPublishThreshold: 2})

	report, err := svc.Generate(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, report.QuestionsConsidered)
	require.Equal(t, 2, report.Clusters)
	require.Equal(t, 2, report.Created)

	groups, err := repo.ListGroups(context.Background(), faq.GroupFilter{})
	require.NoError(t, err)
	require.Len(t, groups, 2)

	password := groups[0]
	require.Equal(t, "How do I reset my password", password.Title)
	require.Equal(t, "How do I reset my password?", password.RepresentativeQuestion)
	require.Equal(t, "Answer for: How do I reset my password?", password.ConsolidatedAnswer)
	require.Equal(t, 2, password.QuestionCount)
	require.InDelta(t, 0.875, password.AvgConfidence, 1e-9)
	require.InDelta(t, 1.75, password.FrequencyScore, 1e-9)
	require.True(t, password.IsPublished)

	rows := membershipsOf(t, repo, password.ID)
	require.True(t, rows[1].IsRepresentative)
	require.Equal(t, 1.0, rows[1].SimilarityScore)
	require.False(t, rows[2].IsRepresentative)
	require.Greater(t, rows[2].SimilarityScore, 0.99)
	require.Less(t, rows[2].SimilarityScore, 1.0)

	returns := groups[1]
	require.Equal(t, 1, returns.QuestionCount)
	require.False(t, returns.IsPublished)

	require.Equal(t, []string{"Use the reset link.", "Go to settings."}, answers.calls[0].Answers)
	requireCountsMatchAssociations(t, repo)
}

func TestGenerateIsIdempotent(t *testing.T) {
	repo := faqrepo.NewMemoryRepository()
	seedPasswordScenario(repo)
	answers := &stubConsolidator{}
	svc := newService(repo, answers, faq.Config{MinQuestionCount: 1})

	_, err := svc.Generate(context.Background())
	require.NoError(t, err)
	before, err := repo.ListGroups(context.Background(), faq.GroupFilter{})
	require.NoError(t, err)
	calls := len(answers.calls)

	report, err := svc.Generate(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.Created)
	require.Zero(t, report.Updated)
	require.Equal(t, 2, report.Unchanged)
	require.Empty(t, report.TouchedGroups)
	require.Len(t, answers.calls, calls)

	after, err := repo.ListGroups(context.Background(), faq.GroupFilter{})
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func planar(degrees float64) []float32 {
	rad := degrees * math.Pi / 180
	return []float32{float32(math.Cos(rad)), float32(math.Sin(rad)), 0}
}

func TestGenerateIsIdempotentWhenCentroidDrifts(t *testing.T) {
	// B misses A on its own but clears the threshold against the A+C
	// centroid, so it has to be settled in the first run.
	repo := faqrepo.NewMemoryRepository()
	repo.InsertQuestion(faq.Question{ID: 1, Text: "Where is my order?", Confidence: 0.9, IsCustomerQuestion: true, Embedding: planar(0), CreatedAt: t0})
	repo.InsertQuestion(faq.Question{ID: 2, Text: "Has my parcel shipped?", Confidence: 0.8, IsCustomerQuestion: true, Embedding: planar(40), CreatedAt: t0.Add(time.Minute)})
	repo.InsertQuestion(faq.Question{ID: 3, Text: "Can I track my order?", Confidence: 0.7, IsCustomerQuestion: true, Embedding: planar(19), CreatedAt: t0.Add(2 * time.Minute)})
	answers := &stubConsolidator{}
	svc := newService(repo, answers, faq.Config{})

	first, err := svc.Generate(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first.Created)
	require.Zero(t, first.BelowMinimum)

	before, err := repo.ListGroups(context.Background(), faq.GroupFilter{})
	require.NoError(t, err)
	require.Len(t, before, 1)
	require.Equal(t, 3, before[0].QuestionCount)
	rows := membershipsOf(t, repo, before[0].ID)
	require.True(t, rows[1].IsRepresentative)
	require.GreaterOrEqual(t, rows[2].SimilarityScore, 0.8)
	calls := len(answers.calls)

	second, err := svc.Generate(context.Background())
	require.NoError(t, err)
	require.Zero(t, second.Created)
	require.Zero(t, second.Updated)
	require.Equal(t, 1, second.Unchanged)
	require.Len(t, answers.calls, calls)

	after, err := repo.ListGroups(context.Background(), faq.GroupFilter{})
	require.NoError(t, err)
	require.Equal(t, before, after)
	requireCountsMatchAssociations(t, repo)
}

func TestGenerateKeepsDistantSingletonPending(t *testing.T) {
	repo := faqrepo.NewMemoryRepository()
	repo.InsertQuestion(faq.Question{ID: 1, Text: "Where is my order?", Confidence: 0.9, IsCustomerQuestion: true, Embedding: planar(0), CreatedAt: t0})
	repo.InsertQuestion(faq.Question{ID: 2, Text: "Can I track my order?", Confidence: 0.7, IsCustomerQuestion: true, Embedding: planar(10), CreatedAt: t0.Add(time.Minute)})
	repo.InsertQuestion(faq.Question{ID: 3, Text: "Do you sell gift cards?", Confidence: 0.8, IsCustomerQuestion: true, Embedding: planar(80), CreatedAt: t0.Add(2 * time.Minute)})
	svc := newService(repo, &stubConsolidator{}, faq.Config{})

	first, err := svc.Generate(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first.Created)
	require.Equal(t, 1, first.BelowMinimum)

	second, err := svc.Generate(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, second.Unchanged)
	require.Equal(t, 1, second.BelowMinimum)
	require.Zero(t, second.Updated)
}

func TestGenerateUpdatesExistingGroup(t *testing.T) {
	repo := faqrepo.NewMemoryRepository()
	seedPasswordScenario(repo)
	answers := &stubConsolidator{}
	svc := newService(repo, answers, faq.Config{MinQuestionCount: 1, AutoPublishThreshold: 3})

	_, err := svc.Generate(context.Background())
	require.NoError(t, err)
	repo.InsertQuestion(faq.Question{ID: 4, Text: "Password reset email never arrived?", Confidence: 0.6, IsCustomerQuestion: true, Embedding: []float32{0.98, 0.12, 0.01}, CreatedAt: t0.Add(time.Hour)})

	report, err := svc.Generate(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Updated)
	require.Equal(t, 1, report.Unchanged)
	require.Equal(t, 1, report.Published)

	groups, err := repo.ListGroups(context.Background(), faq.GroupFilter{PublishedOnly: true})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, 3, groups[0].QuestionCount)
	require.InDelta(t, (0.9+0.85+0.6)/3*3, groups[0].FrequencyScore, 1e-9)
	require.Equal(t, "How do I reset my password?", groups[0].RepresentativeQuestion)

	rows := membershipsOf(t, repo, groups[0].ID)
	require.Len(t, rows, 3)
	require.True(t, rows[1].IsRepresentative)
	require.False(t, rows[4].IsRepresentative)
	requireCountsMatchAssociations(t, repo)
}

func TestGenerateMovesRepresentative(t *testing.T) {
	repo := faqrepo.NewMemoryRepository()
	seedPasswordScenario(repo)
	svc := newService(repo, &stubConsolidator{}, faq.Config{MinQuestionCount: 1})

	_, err := svc.Generate(context.Background())
	require.NoError(t, err)
	repo.InsertQuestion(faq.Question{ID: 5, Text: "How do I reset a forgotten password?", Confidence: 0.99, IsCustomerQuestion: true, Embedding: []float32{1, 0.11, 0}, CreatedAt: t0.Add(time.Hour)})

	_, err = svc.Generate(context.Background())
	require.NoError(t, err)

	groups, err := repo.ListGroups(context.Background(), faq.GroupFilter{})
	require.NoError(t, err)
	password := groups[0]
	require.Equal(t, "How do I reset a forgotten password?", password.RepresentativeQuestion)
	require.Equal(t, "How do I reset a forgotten password", password.Title)

	rows := membershipsOf(t, repo, password.ID)
	require.True(t, rows[5].IsRepresentative)
	require.Equal(t, 1.0, rows[5].SimilarityScore)
	require.False(t, rows[1].IsRepresentative)
	require.Greater(t, rows[1].SimilarityScore, 0.99)
	requireCountsMatchAssociations(t, repo)
}

func TestGenerateSkipsFailingCluster(t *testing.T) {
	repo := faqrepo.NewMemoryRepository()
	seedPasswordScenario(repo)
	svc := newService(repo, &stubConsolidator{failOn: "password"}, faq.Config{MinQuestionCount: 1})

	report, err := svc.Generate(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, 1, report.Created)

	groups, err := repo.ListGroups(context.Background(), faq.GroupFilter{})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, "What is your return policy?", groups[0].RepresentativeQuestion)

	// The skipped cluster is picked up once the consolidator recovers.
	retry := newService(repo, &stubConsolidator{}, faq.Config{MinQuestionCount: 1})
	report, err = retry.Generate(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Created)
	require.Equal(t, 1, report.Unchanged)
}

func TestGenerateHonoursMinimumQuestionCount(t *testing.T) {
	repo := faqrepo.NewMemoryRepository()
	seedPasswordScenario(repo)
	svc := newService(repo, &stubConsolidator{}, faq.Config{MinQuestionCount: 2})

	report, err := svc.Generate(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Created)
	require.Equal(t, 1, report.BelowMinimum)
}

func TestGenerateFiltersIneligibleQuestions(t *testing.T) {
	repo := faqrepo.NewMemoryRepository()
	seedPasswordScenario(repo)
	repo.InsertQuestion(faq.Question{ID: 6, Text: "Thanks?", Confidence: 0.2, IsCustomerQuestion: true, Embedding: []float32{0, 1, 0}})
	repo.InsertQuestion(faq.Question{ID: 7, Text: "Internal note?", Confidence: 0.9, IsCustomerQuestion: false, Embedding: []float32{0, 1, 0}})
	repo.InsertQuestion(faq.Question{ID: 8, Text: "No vector yet?", Confidence: 0.9, IsCustomerQuestion: true})
	svc := newService(repo, &stubConsolidator{}, faq.Config{MinQuestionCount: 1, MinConfidence: 0.5})

	report, err := svc.Generate(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, report.QuestionsConsidered)
}

func TestGenerateMergesConvergingGroups(t *testing.T) {
	repo := faqrepo.NewMemoryRepository()
	seedPasswordScenario(repo)
	ctx := context.Background()

	// Two groups that were created apart but now describe the same topic.
	var first, second faq.Group
	err := repo.WithinTx(ctx, func(tx faq.GroupTx) error {
		var err error
		if first, err = tx.CreateGroup(ctx, faq.Group{Title: "Reset password"}); err != nil {
			return err
		}
		if second, err = tx.CreateGroup(ctx, faq.Group{Title: "Change password"}); err != nil {
			return err
		}
		if err := tx.UpsertMemberships(ctx, []faq.Membership{
			{QuestionID: 1, GroupID: first.ID, SimilarityScore: 1, IsRepresentative: true},
			{QuestionID: 2, GroupID: second.ID, SimilarityScore: 1, IsRepresentative: true},
		}); err != nil {
			return err
		}
		return nil
	})
	require.NoError(t, err)

	svc := newService(repo, &stubConsolidator{}, faq.Config{MinQuestionCount: 1}, clustering.WithSeedMerging(true))
	report, err := svc.Generate(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Merged)
	require.Equal(t, 1, report.Updated)

	_, found, err := repo.GetGroup(ctx, second.ID)
	require.NoError(t, err)
	require.False(t, found)

	survivor, found, err := repo.GetGroup(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 2, survivor.QuestionCount)
	rows := membershipsOf(t, repo, first.ID)
	require.True(t, rows[1].IsRepresentative)
	require.False(t, rows[2].IsRepresentative)
	requireCountsMatchAssociations(t, repo)
}

func TestGenerateRejectsMixedDimensions(t *testing.T) {
	repo := faqrepo.NewMemoryRepository()
	seedPasswordScenario(repo)
	repo.InsertQuestion(faq.Question{ID: 9, Text: "Short vector?", Confidence: 0.95, IsCustomerQuestion: true, Embedding: []float32{1, 0}})
	svc := newService(repo, &stubConsolidator{}, faq.Config{MinQuestionCount: 1})

	_, err := svc.Generate(context.Background())
	require.ErrorIs(t, err, clustering.ErrDimensionMismatch)
	require.True(t, apperrors.IsCode(err, apperrors.CodeDimensionMismatch))
}

func TestBackfillAttachesEmbeddings(t *testing.T) {
	repo := faqrepo.NewMemoryRepository()
	repo.InsertQuestion(faq.Question{ID: 1, Text: "Where is my parcel?", IsCustomerQuestion: true})
	repo.InsertQuestion(faq.Question{ID: 2, Text: "Unknown text?", Confidence: 0.4, IsCustomerQuestion: true})
	embedder := stubEmbedder{vectors: map[string][]float32{"Where is my parcel?": {0.1, 0.2, 0.3}}}
	svc := faq.NewService(faq.Config{EmbeddingDimension: 3, DefaultConfidence: 0.65}, repo, clustering.NewClusterer(0.8), &stubConsolidator{}, embedder, testLogger())

	report, err := svc.Backfill(context.Background())
	require.NoError(t, err)
	require.Equal(t, faq.BackfillReport{Scanned: 2, Embedded: 1, Failed: 1}, report)

	ready, err := repo.ListClusterable(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	require.Equal(t, 0.65, ready[0].Confidence)
}

func TestBackfillDimensionMismatchIsFatal(t *testing.T) {
	repo := faqrepo.NewMemoryRepository()
	repo.InsertQuestion(faq.Question{ID: 1, Text: "Where is my parcel?", IsCustomerQuestion: true})
	embedder := stubEmbedder{vectors: map[string][]float32{"Where is my parcel?": {0.1, 0.2}}}
	svc := faq.NewService(faq.Config{EmbeddingDimension: 3}, repo, clustering.NewClusterer(0.8), &stubConsolidator{}, embedder, testLogger())

	_, err := svc.Backfill(context.Background())
	require.ErrorIs(t, err, clustering.ErrDimensionMismatch)
}
