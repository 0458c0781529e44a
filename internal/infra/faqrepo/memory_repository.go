package faqrepo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yanqian/faq-pipeline/internal/domain/batch"
	"github.com/yanqian/faq-pipeline/internal/domain/faq"
	"github.com/yanqian/faq-pipeline/pkg/util"
)

type membershipKey struct {
	questionID int64
	groupID    int64
}

// MemoryRepository keeps questions, groups and associations in memory for
// tests and local runs. Transactions hold the write lock, so fn passed to
// WithinTx must not call back into the repository.
type MemoryRepository struct {
	mu             sync.RWMutex
	nextQuestionID int64
	nextGroupID    int64

	questions   map[int64]faq.Question
	groups      map[int64]faq.Group
	memberships map[membershipKey]faq.Membership
	now         func() time.Time
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		nextQuestionID: 1,
		nextGroupID:    1,
		questions:      make(map[int64]faq.Question),
		groups:         make(map[int64]faq.Group),
		memberships:    make(map[membershipKey]faq.Membership),
		now:            util.NowUTC,
	}
}

// InsertQuestion stores q as-is, assigning an id when it has none.
func (r *MemoryRepository) InsertQuestion(q faq.Question) faq.Question {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q.ID == 0 {
		q.ID = r.nextQuestionID
	}
	if q.ID >= r.nextQuestionID {
		r.nextQuestionID = q.ID + 1
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = r.now()
	}
	q.Embedding = cloneVector(q.Embedding)
	r.questions[q.ID] = q
	return q
}

// SaveQuestions implements batch.QuestionSink.
func (r *MemoryRepository) SaveQuestions(_ context.Context, emailID int64, questions []batch.NewQuestion) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(questions))
	for _, nq := range questions {
		id := r.nextQuestionID
		r.nextQuestionID++
		r.questions[id] = faq.Question{
			ID:                 id,
			EmailID:            emailID,
			Text:               nq.Text,
			Answer:             nq.Answer,
			Confidence:         nq.Confidence,
			IsCustomerQuestion: nq.IsCustomerQuestion,
			CreatedAt:          r.now(),
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *MemoryRepository) ListClusterable(_ context.Context, minConfidence float64) ([]faq.Question, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []faq.Question
	for _, q := range r.questions {
		if q.IsCustomerQuestion && len(q.Embedding) > 0 && q.Confidence >= minConfidence {
			out = append(out, q)
		}
	}
	sortQuestions(out)
	return out, nil
}

func (r *MemoryRepository) ListMissingEmbeddings(_ context.Context, limit int) ([]faq.Question, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []faq.Question
	for _, q := range r.questions {
		if q.IsCustomerQuestion && len(q.Embedding) == 0 {
			out = append(out, q)
		}
	}
	sortQuestions(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) UpdateQuestionEmbedding(_ context.Context, id int64, embedding []float32, confidence float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.questions[id]
	if !ok {
		return fmt.Errorf("question %d not found", id)
	}
	q.Embedding = cloneVector(embedding)
	q.Confidence = confidence
	r.questions[id] = q
	return nil
}

func (r *MemoryRepository) FindGroupsByQuestions(_ context.Context, questionIDs []int64) (map[int64]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wanted := make(map[int64]struct{}, len(questionIDs))
	for _, id := range questionIDs {
		wanted[id] = struct{}{}
	}
	out := make(map[int64]int64)
	for key := range r.memberships {
		if _, ok := wanted[key.questionID]; !ok {
			continue
		}
		// A question in several groups resolves to the oldest one.
		if current, ok := out[key.questionID]; !ok || key.groupID < current {
			out[key.questionID] = key.groupID
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListMemberships(_ context.Context, groupIDs []int64) ([]faq.Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wanted := make(map[int64]struct{}, len(groupIDs))
	for _, id := range groupIDs {
		wanted[id] = struct{}{}
	}
	var out []faq.Membership
	for key, row := range r.memberships {
		if _, ok := wanted[key.groupID]; ok {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GroupID != out[j].GroupID {
			return out[i].GroupID < out[j].GroupID
		}
		return out[i].QuestionID < out[j].QuestionID
	})
	return out, nil
}

func (r *MemoryRepository) GetGroup(_ context.Context, id int64) (faq.Group, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[id]
	return cloneGroup(g), ok, nil
}

func (r *MemoryRepository) ListGroups(_ context.Context, filter faq.GroupFilter) ([]faq.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]faq.Group, 0, len(r.groups))
	for _, g := range r.groups {
		if filter.PublishedOnly && !g.IsPublished {
			continue
		}
		out = append(out, cloneGroup(g))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FrequencyScore != out[j].FrequencyScore {
			return out[i].FrequencyScore > out[j].FrequencyScore
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// WithinTx runs fn against a copy of the group state and swaps it in only
// when fn succeeds.
func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(tx faq.GroupTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memoryTx{
		questions:   r.questions,
		groups:      make(map[int64]faq.Group, len(r.groups)),
		memberships: make(map[membershipKey]faq.Membership, len(r.memberships)),
		nextGroupID: r.nextGroupID,
		now:         r.now,
	}
	for id, g := range r.groups {
		tx.groups[id] = g
	}
	for key, row := range r.memberships {
		tx.memberships[key] = row
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.groups = tx.groups
	r.memberships = tx.memberships
	r.nextGroupID = tx.nextGroupID
	return nil
}

func (r *MemoryRepository) RefreshGroupStats(_ context.Context, groupIDs []int64) ([]faq.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]faq.Group, 0, len(groupIDs))
	for _, id := range groupIDs {
		g, ok := r.groups[id]
		if !ok {
			continue
		}
		g = applyStats(g, r.questions, r.memberships, r.now())
		r.groups[id] = g
		out = append(out, cloneGroup(g))
	}
	return out, nil
}

type memoryTx struct {
	questions   map[int64]faq.Question
	groups      map[int64]faq.Group
	memberships map[membershipKey]faq.Membership
	nextGroupID int64
	now         func() time.Time
}

func (t *memoryTx) CreateGroup(_ context.Context, group faq.Group) (faq.Group, error) {
	group.ID = t.nextGroupID
	t.nextGroupID++
	if group.CreatedAt.IsZero() {
		group.CreatedAt = t.now()
	}
	if group.UpdatedAt.IsZero() {
		group.UpdatedAt = group.CreatedAt
	}
	group = cloneGroup(group)
	t.groups[group.ID] = group
	return cloneGroup(group), nil
}

func (t *memoryTx) UpdateGroup(_ context.Context, group faq.Group) error {
	if _, ok := t.groups[group.ID]; !ok {
		return fmt.Errorf("group %d not found", group.ID)
	}
	t.groups[group.ID] = cloneGroup(group)
	return nil
}

func (t *memoryTx) UpsertMemberships(_ context.Context, rows []faq.Membership) error {
	for _, row := range rows {
		if _, ok := t.groups[row.GroupID]; !ok {
			return fmt.Errorf("group %d not found", row.GroupID)
		}
		if _, ok := t.questions[row.QuestionID]; !ok {
			return fmt.Errorf("question %d not found", row.QuestionID)
		}
		if row.IsRepresentative {
			t.clearRepresentative(row.GroupID)
		}
		t.memberships[membershipKey{questionID: row.QuestionID, groupID: row.GroupID}] = row
	}
	return nil
}

func (t *memoryTx) MoveMemberships(_ context.Context, from []int64, to int64) error {
	if _, ok := t.groups[to]; !ok {
		return fmt.Errorf("group %d not found", to)
	}
	source := make(map[int64]struct{}, len(from))
	for _, id := range from {
		source[id] = struct{}{}
	}
	for key, row := range t.memberships {
		if _, ok := source[key.groupID]; !ok {
			continue
		}
		delete(t.memberships, key)
		target := membershipKey{questionID: key.questionID, groupID: to}
		if _, exists := t.memberships[target]; exists {
			continue
		}
		row.GroupID = to
		row.IsRepresentative = false
		t.memberships[target] = row
	}
	return nil
}

func (t *memoryTx) DeleteGroups(_ context.Context, ids []int64) error {
	for _, id := range ids {
		delete(t.groups, id)
		for key := range t.memberships {
			if key.groupID == id {
				delete(t.memberships, key)
			}
		}
	}
	return nil
}

func (t *memoryTx) RecountGroup(_ context.Context, id int64) (faq.Group, error) {
	g, ok := t.groups[id]
	if !ok {
		return faq.Group{}, errors.New("group not found")
	}
	g = applyStats(g, t.questions, t.memberships, t.now())
	t.groups[id] = g
	return cloneGroup(g), nil
}

func (t *memoryTx) clearRepresentative(groupID int64) {
	for key, row := range t.memberships {
		if key.groupID == groupID && row.IsRepresentative {
			row.IsRepresentative = false
			t.memberships[key] = row
		}
	}
}

func applyStats(g faq.Group, questions map[int64]faq.Question, memberships map[membershipKey]faq.Membership, now time.Time) faq.Group {
	count := 0
	var sum float64
	for key := range memberships {
		if key.groupID != g.ID {
			continue
		}
		count++
		sum += questions[key.questionID].Confidence
	}
	avg := 0.0
	if count > 0 {
		avg = sum / float64(count)
	}
	g.QuestionCount = count
	g.AvgConfidence = avg
	g.FrequencyScore = faq.FrequencyScore(count, avg)
	g.UpdatedAt = now
	return g
}

func sortQuestions(qs []faq.Question) {
	sort.Slice(qs, func(i, j int) bool { return qs[i].ID < qs[j].ID })
}

func cloneGroup(g faq.Group) faq.Group {
	g.RepresentativeEmbedding = cloneVector(g.RepresentativeEmbedding)
	if g.Tags != nil {
		g.Tags = append([]string(nil), g.Tags...)
	}
	return g
}

func cloneVector(v []float32) []float32 {
	if v == nil {
		return nil
	}
	return append([]float32(nil), v...)
}

var (
	_ faq.Repository     = (*MemoryRepository)(nil)
	_ batch.QuestionSink = (*MemoryRepository)(nil)
)
