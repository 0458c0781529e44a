package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/valkey-io/valkey-go"
)

type jobEnvelope struct {
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload"`
}

// ValkeyQueue persists jobs in a Valkey list so a separate worker process
// can consume them.
type ValkeyQueue struct {
	client      valkey.Client
	queueKey    string
	logger      *slog.Logger
	pollTimeout time.Duration

	mu      sync.RWMutex
	handler Handler
}

// NewValkeyQueue constructs a Valkey-backed queue.
func NewValkeyQueue(client valkey.Client, queueKey string, logger *slog.Logger) *ValkeyQueue {
	if queueKey == "" {
		queueKey = "faq-pipeline:jobs"
	}
	return &ValkeyQueue{
		client:      client,
		queueKey:    queueKey,
		logger:      logger.With("component", "queue.valkey"),
		pollTimeout: 5 * time.Second,
	}
}

// SetHandler sets the handler used by Start.
func (q *ValkeyQueue) SetHandler(handler Handler) {
	q.mu.Lock()
	q.handler = handler
	q.mu.Unlock()
}

// Enqueue pushes a job onto the queue.
func (q *ValkeyQueue) Enqueue(ctx context.Context, name string, payload any) error {
	encoded, err := json.Marshal(jobEnvelope{Name: name, Payload: asPayload(payload)})
	if err != nil {
		return err
	}
	cmd := q.client.B().Lpush().Key(q.queueKey).Element(string(encoded)).Build()
	return q.client.Do(ctx, cmd).Error()
}

// Start pops jobs and runs them one at a time until ctx ends.
func (q *ValkeyQueue) Start(ctx context.Context) error {
	q.logger.Info("queue worker started", "key", q.queueKey)
	for {
		if ctx.Err() != nil {
			q.logger.Info("queue worker stopped")
			return nil
		}
		job, ok := q.pop(ctx)
		if !ok {
			continue
		}
		q.mu.RLock()
		handler := q.handler
		q.mu.RUnlock()
		if handler == nil {
			q.logger.Warn("dropping job without handler", "job", job.Name)
			continue
		}
		handler(ctx, job.Name, job.Payload)
	}
}

func (q *ValkeyQueue) pop(ctx context.Context) (jobEnvelope, bool) {
	resp := q.client.Do(ctx, q.client.B().Brpop().Key(q.queueKey).Timeout(q.pollTimeout.Seconds()).Build())
	values, err := resp.ToArray()
	if err != nil {
		if !valkey.IsValkeyNil(err) && ctx.Err() == nil {
			q.logger.Warn("valkey queue pop failed", "error", err)
			// Back off so a down server does not spin the loop.
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		return jobEnvelope{}, false
	}
	if len(values) < 2 {
		return jobEnvelope{}, false
	}
	raw, err := values[1].ToString()
	if err != nil {
		q.logger.Warn("valkey queue payload decode failed", "error", err)
		return jobEnvelope{}, false
	}
	var job jobEnvelope
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		q.logger.Warn("valkey queue unmarshal failed", "error", err)
		return jobEnvelope{}, false
	}
	return job, true
}

var _ WorkerQueue = (*ValkeyQueue)(nil)
