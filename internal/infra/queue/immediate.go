package queue

import (
	"context"
	"sync"
)

// ImmediateQueue runs the handler in-process on enqueue.
type ImmediateQueue struct {
	mu       sync.RWMutex
	handler  Handler
	inflight sync.WaitGroup
}

// NewImmediateQueue constructs the queue.
func NewImmediateQueue(handler Handler) *ImmediateQueue {
	return &ImmediateQueue{handler: handler}
}

// SetHandler replaces the handler used for queued jobs.
func (q *ImmediateQueue) SetHandler(handler Handler) {
	q.mu.Lock()
	q.handler = handler
	q.mu.Unlock()
}

// Enqueue invokes the handler asynchronously. The job outlives the caller's
// request, so cancellation is detached.
func (q *ImmediateQueue) Enqueue(ctx context.Context, name string, payload any) error {
	q.mu.RLock()
	handler := q.handler
	q.mu.RUnlock()
	if handler == nil {
		return nil
	}
	typed := asPayload(payload)
	jobCtx := context.WithoutCancel(ctx)
	q.inflight.Add(1)
	go func() {
		defer q.inflight.Done()
		handler(jobCtx, name, typed)
	}()
	return nil
}

// Start blocks until ctx ends, then waits for running jobs.
func (q *ImmediateQueue) Start(ctx context.Context) error {
	<-ctx.Done()
	q.inflight.Wait()
	return nil
}

var _ WorkerQueue = (*ImmediateQueue)(nil)
