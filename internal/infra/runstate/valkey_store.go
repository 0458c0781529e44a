package runstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/yanqian/faq-pipeline/internal/domain/pipeline"
)

// ErrLockLost is returned when the lease expired or moved to another owner.
var ErrLockLost = errors.New("run lock lost")

var (
	releaseScript = valkey.NewLuaScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)
	refreshScript = valkey.NewLuaScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// ValkeyStore shares the run lock and status snapshot between processes.
type ValkeyStore struct {
	client valkey.Client
	prefix string
}

// NewValkeyStore constructs a store backed by Valkey.
func NewValkeyStore(client valkey.Client, prefix string) *ValkeyStore {
	if prefix == "" {
		prefix = "faq-pipeline"
	}
	return &ValkeyStore{client: client, prefix: prefix}
}

// Acquire sets the lock key only when it is absent.
func (s *ValkeyStore) Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	cmd := s.client.B().Set().Key(s.lockKey()).Value(owner).Nx().PxMilliseconds(leaseMillis(ttl)).Build()
	err := s.client.Do(ctx, cmd).Error()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *ValkeyStore) Refresh(ctx context.Context, owner string, ttl time.Duration) error {
	resp := refreshScript.Exec(ctx, s.client, []string{s.lockKey()}, []string{owner, fmt.Sprint(leaseMillis(ttl))})
	n, err := resp.AsInt64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

func (s *ValkeyStore) Release(ctx context.Context, owner string) error {
	return releaseScript.Exec(ctx, s.client, []string{s.lockKey()}, []string{owner}).Error()
}

func (s *ValkeyStore) Held(ctx context.Context) (bool, error) {
	n, err := s.client.Do(ctx, s.client.B().Exists().Key(s.lockKey()).Build()).AsInt64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *ValkeyStore) SaveStatus(ctx context.Context, status pipeline.Status) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return s.client.Do(ctx, s.client.B().Set().Key(s.statusKey()).Value(string(payload)).Build()).Error()
}

func (s *ValkeyStore) LoadStatus(ctx context.Context) (pipeline.Status, bool, error) {
	payload, err := s.client.Do(ctx, s.client.B().Get().Key(s.statusKey()).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return pipeline.Status{}, false, nil
		}
		return pipeline.Status{}, false, err
	}
	var status pipeline.Status
	if err := json.Unmarshal([]byte(payload), &status); err != nil {
		return pipeline.Status{}, false, err
	}
	return status, true, nil
}

func (s *ValkeyStore) lockKey() string {
	return fmt.Sprintf("%s:run:lock", s.prefix)
}

func (s *ValkeyStore) statusKey() string {
	return fmt.Sprintf("%s:run:status", s.prefix)
}

func leaseMillis(ttl time.Duration) int64 {
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl.Milliseconds()
}

var (
	_ pipeline.RunLock     = (*ValkeyStore)(nil)
	_ pipeline.StatusStore = (*ValkeyStore)(nil)
)
