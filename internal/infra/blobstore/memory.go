package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/yanqian/faq-pipeline/internal/domain/batch"
	"github.com/yanqian/faq-pipeline/internal/domain/inbox"
)

// ErrNotFound is returned for unknown keys.
var ErrNotFound = errors.New("blob not found")

// MemoryStore keeps bodies in memory. Useful for tests and local dev.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore constructs the store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

var (
	_ batch.BodyStore  = (*MemoryStore)(nil)
	_ inbox.BlobWriter = (*MemoryStore)(nil)
	_ batch.BodyStore  = (*R2Store)(nil)
	_ inbox.BlobWriter = (*R2Store)(nil)
)
