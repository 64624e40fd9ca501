// Package lock refuses overlapping exports for the same client session.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLocked is returned when the key is already held.
var ErrLocked = errors.New("lock already held")

// UnlockFunc releases a held lock.
type UnlockFunc func(ctx context.Context) error

// Locker acquires a lock without waiting. ttl bounds how long a lock survives
// a crashed holder; implementations without expiry may ignore it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

// Memory is a process-local Locker.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

func (m *Memory) TryLock(_ context.Context, key string, _ time.Duration) (UnlockFunc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return nil, ErrLocked
	}
	m.held[key] = struct{}{}
	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
		return nil
	}, nil
}
