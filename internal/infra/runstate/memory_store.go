package runstate

import (
	"context"
	"sync"
	"time"

	"github.com/yanqian/faq-pipeline/internal/domain/pipeline"
)

// MemoryStore is an in-process run lock and status store for tests and
// single-instance deployments.
type MemoryStore struct {
	mu        sync.Mutex
	owner     string
	expiresAt time.Time
	status    *pipeline.Status
	now       func() time.Time
}

// NewMemoryStore constructs a store backed by process memory.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// Acquire implements pipeline.RunLock.
func (s *MemoryStore) Acquire(_ context.Context, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heldLocked() && s.owner != owner {
		return false, nil
	}
	s.owner = owner
	s.expiresAt = s.expiry(ttl)
	return true, nil
}

// Refresh extends the lease when owner still holds it.
func (s *MemoryStore) Refresh(_ context.Context, owner string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.heldLocked() || s.owner != owner {
		return ErrLockLost
	}
	s.expiresAt = s.expiry(ttl)
	return nil
}

// Release drops the lock if owner holds it.
func (s *MemoryStore) Release(_ context.Context, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner == owner {
		s.owner = ""
		s.expiresAt = time.Time{}
	}
	return nil
}

// Held reports whether any owner holds an unexpired lock.
func (s *MemoryStore) Held(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heldLocked(), nil
}

// SaveStatus implements pipeline.StatusStore.
func (s *MemoryStore) SaveStatus(_ context.Context, status pipeline.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = &status
	return nil
}

// LoadStatus returns the latest snapshot.
func (s *MemoryStore) LoadStatus(context.Context) (pipeline.Status, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == nil {
		return pipeline.Status{}, false, nil
	}
	return *s.status, true, nil
}

func (s *MemoryStore) heldLocked() bool {
	if s.owner == "" {
		return false
	}
	return s.expiresAt.IsZero() || s.now().Before(s.expiresAt)
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

var (
	_ pipeline.RunLock     = (*MemoryStore)(nil)
	_ pipeline.StatusStore = (*MemoryStore)(nil)
)
