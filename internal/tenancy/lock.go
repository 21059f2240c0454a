package tenancy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another holder owns the tenant lock.
var ErrLocked = errors.New("tenant lock held")

// Locker serialises work per tenant. Acquire never blocks waiting for the
// holder; it fails fast with ErrLocked.
type Locker interface {
	Acquire(ctx context.Context, shop string) (release func(), err error)
}

// MemoryLocker guards tenants within one process.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]struct{}{}}
}

func (m *MemoryLocker) Acquire(_ context.Context, shop string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[shop]; ok {
		return nil, ErrLocked
	}
	m.held[shop] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, shop)
			m.mu.Unlock()
		})
	}, nil
}

// RedisLocker guards tenants across processes with a redislock lease.
type RedisLocker struct {
	locker *redislock.Client
	ttl    time.Duration
}

// NewRedisLocker leases locks for ttl; it should outlive the longest sync.
func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration) *RedisLocker {
	return &RedisLocker{locker: redislock.New(rdb), ttl: ttl}
}

func LockKey(shop string) string {
	return fmt.Sprintf("lock:sync:%s", shop)
}

func (r *RedisLocker) Acquire(ctx context.Context, shop string) (func(), error) {
	lock, err := r.locker.Obtain(ctx, LockKey(shop), r.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, fmt.Errorf("obtain tenant lock: %w", err)
	}
	return func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}, nil
}
