package emailrepo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yanqian/faq-pipeline/internal/domain/batch"
	"github.com/yanqian/faq-pipeline/internal/domain/inbox"
	"github.com/yanqian/faq-pipeline/pkg/util"
)

type emailRecord struct {
	email         batch.Email
	processedAt   time.Time
	questionCount int
	failure       string
}

// MemoryRepository keeps the email queue in process memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	nextID int64
	emails map[int64]*emailRecord
	now    func() time.Time
}

// NewMemoryRepository constructs an empty queue.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{nextID: 1, emails: make(map[int64]*emailRecord), now: util.NowUTC}
}

// InsertEmail implements inbox.EmailWriter.
func (r *MemoryRepository) InsertEmail(_ context.Context, email batch.Email) (batch.Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	email.ID = r.nextID
	r.nextID++
	if email.ReceivedAt.IsZero() {
		email.ReceivedAt = r.now()
	}
	email.Processed = false
	r.emails[email.ID] = &emailRecord{email: email}
	return email, nil
}

// ListUnprocessed returns the oldest unprocessed emails first.
func (r *MemoryRepository) ListUnprocessed(_ context.Context, limit int) ([]batch.Email, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]batch.Email, 0, len(r.emails))
	for _, rec := range r.emails {
		if !rec.email.Processed {
			out = append(out, rec.email)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.Before(out[j].ReceivedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) IsProcessed(_ context.Context, id int64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.emails[id]
	if !ok {
		return false, fmt.Errorf("email %d not found", id)
	}
	return rec.email.Processed, nil
}

func (r *MemoryRepository) MarkProcessed(_ context.Context, id int64, outcome batch.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.emails[id]
	if !ok {
		return fmt.Errorf("email %d not found", id)
	}
	rec.email.Processed = true
	rec.processedAt = r.now()
	rec.questionCount = outcome.QuestionCount
	rec.failure = outcome.Err
	return nil
}

// Outcome returns what was recorded for id.
func (r *MemoryRepository) Outcome(id int64) (batch.Outcome, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.emails[id]
	if !ok || !rec.email.Processed {
		return batch.Outcome{}, false
	}
	return batch.Outcome{QuestionCount: rec.questionCount, Err: rec.failure}, true
}

var (
	_ batch.EmailRepository = (*MemoryRepository)(nil)
	_ inbox.EmailWriter     = (*MemoryRepository)(nil)
)
