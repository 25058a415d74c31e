// Package lock provides non-blocking single-flight locks keyed by name.
package lock

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrLocked is returned by TryLock when the key is already held.
var ErrLocked = errors.New("lock is held by another run")

// UnlockFunc releases a lock obtained from TryLock. It is safe to call more
// than once.
type UnlockFunc func(ctx context.Context) error

// Locker hands out exclusive locks without waiting.
type Locker interface {
	TryLock(ctx context.Context, key string) (UnlockFunc, error)
}

// Local is an in-process Locker backed by one weighted semaphore per key.
type Local struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

func NewLocal() *Local {
	return &Local{sems: make(map[string]*semaphore.Weighted)}
}

func (l *Local) TryLock(_ context.Context, key string) (UnlockFunc, error) {
	l.mu.Lock()

	sem, ok := l.sems[key]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.sems[key] = sem
	}

	l.mu.Unlock()

	if !sem.TryAcquire(1) {
		return nil, ErrLocked
	}

	var once sync.Once

	return func(context.Context) error {
		once.Do(func() { sem.Release(1) })

		return nil
	}, nil
}
