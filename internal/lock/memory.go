package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLock is the single-process Locker used when no Redis is configured.
type MemoryLock struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

func NewMemoryLock() *MemoryLock {
	return &MemoryLock{
		held:  make(map[string]time.Time),
		clock: time.Now,
	}
}

func (m *MemoryLock) Lock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if until, ok := m.held[key]; ok && now.Before(until) {
		return false, nil
	}

	m.held[key] = now.Add(ttl)

	return true, nil
}

func (m *MemoryLock) Unlock(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.held, key)
	m.mu.Unlock()

	return nil
}
