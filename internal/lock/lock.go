// Package lock serializes work on a single mailbox, either inside one
// process or across processes sharing a Redis instance.
package lock

import (
	"context"
	"sync"
)

// Release gives a held lock back. Calling it more than once is a no-op.
type Release func()

// Locker hands out exclusive locks keyed by an arbitrary string
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// Local is an in-process Locker built on one-slot channels
type Local struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocal creates an in-process locker
func NewLocal() *Local {
	return &Local{slots: make(map[string]chan struct{})}
}

// Acquire blocks until key is free or ctx is done
func (l *Local) Acquire(ctx context.Context, key string) (Release, error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-slot }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
