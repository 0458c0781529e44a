package faq

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/yanqian/faq-pipeline/internal/domain/clustering"
	apperrors "github.com/yanqian/faq-pipeline/pkg/errors"
	"github.com/yanqian/faq-pipeline/pkg/util"
)

var errEmptyConsolidation = errors.New("consolidation requires at least one question")

// Service consolidates clustered questions into FAQ groups.
type Service interface {
	Generate(ctx context.Context) (GenerationReport, error)
	Backfill(ctx context.Context) (BackfillReport, error)
	ListGroups(ctx context.Context, filter GroupFilter) ([]Group, error)
}

type service struct {
	cfg       Config
	repo      Repository
	clusterer *clustering.Clusterer
	answers   AnswerConsolidator
	embedder  Embedder
	logger    *slog.Logger
	now       func() time.Time
}

// NewService wires up FAQ generation. embedder may be nil, which disables Backfill.
func NewService(cfg Config, repo Repository, clusterer *clustering.Clusterer, answers AnswerConsolidator, embedder Embedder, logger *slog.Logger) Service {
	return &service{
		cfg:       cfg.withDefaults(),
		repo:      repo,
		clusterer: clusterer,
		answers:   answers,
		embedder:  embedder,
		logger:    logger.With("component", "faq.service"),
		now:       util.NowUTC,
	}
}

type outcome int

const (
	outcomeCreated outcome = iota
	outcomeUpdated
	outcomeUnchanged
	outcomeBelowMinimum
)

// generation is the state shared by the clusters of one Generate call.
type generation struct {
	questions   map[int64]Question
	assigned    map[int64]int64
	similarity  map[int64]float64
	represented map[int64]int64
}

func (s *service) Generate(ctx context.Context) (GenerationReport, error) {
	var report GenerationReport

	questions, err := s.repo.ListClusterable(ctx, s.cfg.MinConfidence)
	if err != nil {
		return report, apperrors.Wrap(apperrors.CodeStore, "failed to load clusterable questions", err)
	}
	report.QuestionsConsidered = len(questions)
	if len(questions) == 0 {
		return report, nil
	}

	state := generation{
		questions:   make(map[int64]Question, len(questions)),
		similarity:  make(map[int64]float64),
		represented: make(map[int64]int64),
	}
	ids := make([]int64, 0, len(questions))
	for _, q := range questions {
		state.questions[q.ID] = q
		ids = append(ids, q.ID)
	}

	state.assigned, err = s.repo.FindGroupsByQuestions(ctx, ids)
	if err != nil {
		return report, apperrors.Wrap(apperrors.CodeStore, "failed to load associations", err)
	}
	groupIDs := distinctSorted(state.assigned)
	if len(groupIDs) > 0 {
		rows, err := s.repo.ListMemberships(ctx, groupIDs)
		if err != nil {
			return report, apperrors.Wrap(apperrors.CodeStore, "failed to load memberships", err)
		}
		for _, row := range rows {
			state.similarity[row.QuestionID] = row.SimilarityScore
			if row.IsRepresentative {
				state.represented[row.GroupID] = row.QuestionID
			}
		}
	}

	seeds, pending := s.partition(questions, state)
	clusters, err := s.settle(seeds, pending)
	if err != nil {
		if errors.Is(err, clustering.ErrDimensionMismatch) {
			return report, apperrors.Wrap(apperrors.CodeDimensionMismatch, "clustering rejected embeddings", err)
		}
		return report, apperrors.Wrap(apperrors.CodeInvalidInput, "clustering failed", err)
	}
	report.Clusters = len(clusters)

	touched := make(map[int64]struct{})
	for _, cluster := range clusters {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		result, groupID, merged, err := s.reconcile(ctx, cluster, state)
		if err != nil {
			report.Failed++
			s.logger.Warn("faq cluster skipped", "questions", cluster.IDs(), "error", err)
			continue
		}
		switch result {
		case outcomeCreated:
			report.Created++
		case outcomeUpdated:
			report.Updated++
		case outcomeUnchanged:
			report.Unchanged++
		case outcomeBelowMinimum:
			report.BelowMinimum++
		}
		report.Merged += merged
		if result == outcomeCreated || result == outcomeUpdated {
			touched[groupID] = struct{}{}
		}
	}

	if len(touched) == 0 {
		return report, nil
	}
	report.TouchedGroups = sortedKeys(touched)
	refreshed, err := s.repo.RefreshGroupStats(ctx, report.TouchedGroups)
	if err != nil {
		return report, apperrors.Wrap(apperrors.CodeStore, "failed to refresh group statistics", err)
	}
	for _, group := range refreshed {
		if !s.publishable(group) {
			continue
		}
		group.IsPublished = true
		group.UpdatedAt = s.now()
		if err := s.repo.WithinTx(ctx, func(tx GroupTx) error { return tx.UpdateGroup(ctx, group) }); err != nil {
			s.logger.Warn("faq publish failed", "group_id", group.ID, "error", err)
			continue
		}
		report.Published++
	}

	s.logger.Info("faq generation finished",
		"questions", report.QuestionsConsidered,
		"clusters", report.Clusters,
		"created", report.Created,
		"updated", report.Updated,
		"merged", report.Merged,
		"unchanged", report.Unchanged,
		"failed", report.Failed,
	)
	return report, nil
}

// partition turns already associated questions into seeds keyed by group
// and returns the rest for fresh clustering.
func (s *service) partition(questions []Question, state generation) ([]clustering.Seed, []clustering.Item) {
	seedMembers := make(map[int64][]clustering.Member)
	var pending []clustering.Item
	for _, q := range questions {
		item := toItem(q)
		groupID, ok := state.assigned[q.ID]
		if !ok {
			pending = append(pending, item)
			continue
		}
		seedMembers[groupID] = append(seedMembers[groupID], clustering.Member{Item: item, Similarity: state.similarity[q.ID]})
	}
	seeds := make([]clustering.Seed, 0, len(seedMembers))
	for groupID, members := range seedMembers {
		seeds = append(seeds, clustering.Seed{Key: groupID, Members: members})
	}
	sort.Slice(seeds, func(i, j int) bool { return seeds[i].Key < seeds[j].Key })
	return seeds, pending
}

// settle clusters pending questions, then re-offers the questions left in
// below-minimum clusters to the clusters that will be written, until none of
// them joins. The result is what the next run over the same questions would
// compute, so repeated runs find nothing to change. Clusters formed in this
// run carry provisional keys between rounds; they are stripped before
// returning.
func (s *service) settle(seeds []clustering.Seed, pending []clustering.Item) ([]clustering.Cluster, error) {
	nextKey := int64(1)
	for _, seed := range seeds {
		if seed.Key >= nextKey {
			nextKey = seed.Key + 1
		}
	}
	provisional := make(map[int64]struct{})

	for {
		clusters, err := s.clusterer.Cluster(seeds, pending)
		if err != nil {
			return nil, err
		}

		offered := make(map[int64]struct{}, len(pending))
		for _, item := range pending {
			offered[item.ID] = struct{}{}
		}
		kept := make([]clustering.Seed, 0, len(clusters))
		var leftover []clustering.Item
		joined := 0
		for _, cluster := range clusters {
			if len(cluster.SeedKeys) == 0 && len(cluster.Members) < s.cfg.MinQuestionCount {
				leftover = append(leftover, cluster.Items()...)
				continue
			}
			key := nextKey
			if len(cluster.SeedKeys) > 0 {
				key = cluster.SeedKeys[0]
			} else {
				provisional[key] = struct{}{}
				nextKey++
			}
			kept = append(kept, clustering.Seed{Key: key, Members: cluster.Members})
			for _, m := range cluster.Members {
				if _, ok := offered[m.ID]; ok {
					joined++
				}
			}
		}

		if joined == 0 || len(leftover) == 0 {
			return stripKeys(clusters, provisional), nil
		}
		seeds, pending = kept, leftover
	}
}

func stripKeys(clusters []clustering.Cluster, provisional map[int64]struct{}) []clustering.Cluster {
	if len(provisional) == 0 {
		return clusters
	}
	for i := range clusters {
		var keys []int64
		for _, key := range clusters[i].SeedKeys {
			if _, ok := provisional[key]; !ok {
				keys = append(keys, key)
			}
		}
		clusters[i].SeedKeys = keys
	}
	return clusters
}

// reconcile applies one cluster to the stored groups and reports what
// happened, the group it landed in and how many groups were merged away.
func (s *service) reconcile(ctx context.Context, cluster clustering.Cluster, state generation) (outcome, int64, int, error) {
	existing := make(map[int64]struct{})
	for _, key := range cluster.SeedKeys {
		existing[key] = struct{}{}
	}
	for _, id := range cluster.IDs() {
		if groupID, ok := state.assigned[id]; ok {
			existing[groupID] = struct{}{}
		}
	}
	if len(existing) == 0 {
		result, groupID, err := s.create(ctx, cluster, state)
		return result, groupID, 0, err
	}
	groups := sortedKeys(existing)
	return s.update(ctx, cluster, groups[0], groups[1:], state)
}

func (s *service) create(ctx context.Context, cluster clustering.Cluster, state generation) (outcome, int64, error) {
	if len(cluster.Members) < s.cfg.MinQuestionCount {
		return outcomeBelowMinimum, 0, nil
	}
	rep, _ := clustering.SelectRepresentative(cluster.Items())
	repQuestion := state.questions[rep.ID]

	answer, err := s.consolidate(ctx, cluster, rep.ID, state)
	if err != nil {
		return 0, 0, err
	}

	count, avg := memberStats(cluster)
	now := s.now()
	group := Group{
		Title:                   deriveTitle(repQuestion.Text, s.cfg.MaxTitleLength),
		RepresentativeQuestion:  repQuestion.Text,
		ConsolidatedAnswer:      answer,
		QuestionCount:           count,
		AvgConfidence:           avg,
		FrequencyScore:          FrequencyScore(count, avg),
		RepresentativeEmbedding: rep.Embedding,
		IsPublished:             s.cfg.AutoPublishThreshold > 0 && count >= s.cfg.AutoPublishThreshold,
		Category:                s.cfg.DefaultCategory,
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	err = s.repo.WithinTx(ctx, func(tx GroupTx) error {
		created, err := tx.CreateGroup(ctx, group)
		if err != nil {
			return err
		}
		group.ID = created.ID
		rows := make([]Membership, 0, len(cluster.Members))
		for _, m := range cluster.Members {
			rows = append(rows, membershipRow(m, group.ID, rep.ID))
		}
		if err := tx.UpsertMemberships(ctx, rows); err != nil {
			return err
		}
		_, err = tx.RecountGroup(ctx, group.ID)
		return err
	})
	if err != nil {
		return 0, 0, apperrors.Wrap(apperrors.CodeStore, "create group transaction failed", err)
	}
	s.logger.Info("faq group created", "group_id", group.ID, "questions", count, "published", group.IsPublished)
	return outcomeCreated, group.ID, nil
}

func (s *service) update(ctx context.Context, cluster clustering.Cluster, survivor int64, absorbed []int64, state generation) (outcome, int64, int, error) {
	var added []clustering.Member
	for _, m := range cluster.Members {
		if _, ok := state.assigned[m.ID]; !ok {
			added = append(added, m)
		}
	}
	if len(added) == 0 && len(absorbed) == 0 {
		return outcomeUnchanged, survivor, 0, nil
	}

	group, found, err := s.repo.GetGroup(ctx, survivor)
	if err != nil {
		return 0, 0, 0, apperrors.Wrap(apperrors.CodeStore, "failed to load group", err)
	}
	if !found {
		return 0, 0, 0, apperrors.Wrap(apperrors.CodeStore, "group vanished before update", nil)
	}

	rep, _ := clustering.SelectRepresentative(cluster.Items())
	repQuestion := state.questions[rep.ID]
	answer, err := s.consolidate(ctx, cluster, rep.ID, state)
	if err != nil {
		return 0, 0, 0, err
	}

	rows := make([]Membership, 0, len(added)+len(absorbed)+2)
	for _, m := range added {
		rows = append(rows, membershipRow(m, survivor, rep.ID))
	}
	// Previous representatives of the survivor and of absorbed groups are
	// demoted and re-measured against the new representative.
	for _, groupID := range append([]int64{survivor}, absorbed...) {
		previous, ok := state.represented[groupID]
		if !ok || previous == rep.ID {
			continue
		}
		sim := state.similarity[previous]
		if q, ok := state.questions[previous]; ok && len(q.Embedding) == len(rep.Embedding) {
			if measured, err := clustering.Cosine(q.Embedding, rep.Embedding); err == nil {
				sim = measured
			}
		}
		rows = append(rows, Membership{QuestionID: previous, GroupID: survivor, SimilarityScore: sim})
	}
	if _, wasMember := state.assigned[rep.ID]; wasMember && state.represented[survivor] != rep.ID {
		rows = append(rows, Membership{QuestionID: rep.ID, GroupID: survivor, SimilarityScore: 1, IsRepresentative: true})
	}

	group.RepresentativeQuestion = repQuestion.Text
	group.RepresentativeEmbedding = rep.Embedding
	group.Title = deriveTitle(repQuestion.Text, s.cfg.MaxTitleLength)
	group.ConsolidatedAnswer = answer
	group.UpdatedAt = s.now()

	err = s.repo.WithinTx(ctx, func(tx GroupTx) error {
		if len(absorbed) > 0 {
			if err := tx.MoveMemberships(ctx, absorbed, survivor); err != nil {
				return err
			}
		}
		if err := tx.UpsertMemberships(ctx, rows); err != nil {
			return err
		}
		if len(absorbed) > 0 {
			if err := tx.DeleteGroups(ctx, absorbed); err != nil {
				return err
			}
		}
		recounted, err := tx.RecountGroup(ctx, survivor)
		if err != nil {
			return err
		}
		group.QuestionCount = recounted.QuestionCount
		group.AvgConfidence = recounted.AvgConfidence
		group.FrequencyScore = recounted.FrequencyScore
		return tx.UpdateGroup(ctx, group)
	})
	if err != nil {
		return 0, 0, 0, apperrors.Wrap(apperrors.CodeStore, "update group transaction failed", err)
	}
	s.logger.Info("faq group updated", "group_id", survivor, "added", len(added), "absorbed", absorbed)
	return outcomeUpdated, survivor, len(absorbed), nil
}

// consolidate asks the external consolidator for one answer covering the
// cluster. The representative question leads the list.
func (s *service) consolidate(ctx context.Context, cluster clustering.Cluster, repID int64, state generation) (string, error) {
	req := ConsolidationRequest{}
	seenAnswers := make(map[string]struct{})
	addQuestion := func(id int64) {
		q := state.questions[id]
		req.Questions = append(req.Questions, q.Text)
		if q.Answer == nil {
			return
		}
		answer := strings.TrimSpace(*q.Answer)
		if answer == "" {
			return
		}
		if _, dup := seenAnswers[answer]; dup {
			return
		}
		seenAnswers[answer] = struct{}{}
		req.Answers = append(req.Answers, answer)
	}
	addQuestion(repID)
	for _, id := range cluster.IDs() {
		if id != repID {
			addQuestion(id)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ConsolidationTimeout)
	defer cancel()
	answer, err := s.answers.Consolidate(callCtx, req)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeConsolidationFailed, "answer consolidation failed", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", apperrors.Wrap(apperrors.CodeConsolidationFailed, "answer consolidation returned empty text", nil)
	}
	return answer, nil
}

func (s *service) publishable(group Group) bool {
	return !group.IsPublished && s.cfg.AutoPublishThreshold > 0 && group.QuestionCount >= s.cfg.AutoPublishThreshold
}

func (s *service) ListGroups(ctx context.Context, filter GroupFilter) ([]Group, error) {
	groups, err := s.repo.ListGroups(ctx, filter)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStore, "failed to list faq groups", err)
	}
	return groups, nil
}

func membershipRow(m clustering.Member, groupID, repID int64) Membership {
	if m.ID == repID {
		return Membership{QuestionID: m.ID, GroupID: groupID, SimilarityScore: 1, IsRepresentative: true}
	}
	return Membership{QuestionID: m.ID, GroupID: groupID, SimilarityScore: m.Similarity}
}

func memberStats(cluster clustering.Cluster) (int, float64) {
	if len(cluster.Members) == 0 {
		return 0, 0
	}
	var sum float64
	for _, m := range cluster.Members {
		sum += m.Confidence
	}
	return len(cluster.Members), sum / float64(len(cluster.Members))
}

// FrequencyScore is the one ranking formula, shared with repositories that
// recompute statistics.
func FrequencyScore(count int, avgConfidence float64) float64 {
	return float64(count) * avgConfidence
}

func toItem(q Question) clustering.Item {
	return clustering.Item{ID: q.ID, Embedding: q.Embedding, Confidence: q.Confidence, CreatedAt: q.CreatedAt}
}

func distinctSorted(m map[int64]int64) []int64 {
	set := make(map[int64]struct{}, len(m))
	for _, v := range m {
		set[v] = struct{}{}
	}
	return sortedKeys(set)
}

func sortedKeys(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
