// Package lock provides per-workload mutual exclusion for deployment runs.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrLocked is returned when the key is already held.
var ErrLocked = errors.New("lock: already held")

// Locker hands out exclusive, non-blocking locks keyed by string.
type Locker interface {
	// TryLock acquires key or returns ErrLocked. The returned function releases it.
	TryLock(ctx context.Context, key string) (func(), error)
	Close() error
}

type memoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemory returns a process-local Locker.
func NewMemory() Locker {
	return &memoryLocker{held: make(map[string]struct{})}
}

func (l *memoryLocker) TryLock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, ErrLocked
	}
	l.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

func (l *memoryLocker) Close() error { return nil }
