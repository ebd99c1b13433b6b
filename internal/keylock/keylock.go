// Package keylock provides mutual exclusion by key.
//
// Callers locking the same key are serialized; callers locking different
// keys never wait on each other. Waiting respects context cancellation.
// Once no caller holds or waits for a key, the key is forgotten.
package keylock

import (
	"context"
	"sync"
)

// Locker serializes work by key. The zero value is ready to use.
type Locker[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*lock
}

type lock struct {
	sem  chan struct{}
	refs int
}

// Lock blocks until key is held or ctx is done. On success the returned
// function releases the key and must be called exactly once.
func (l *Locker[K]) Lock(ctx context.Context, key K) (func(), error) {
	k := l.acquire(key)

	select {
	case k.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, k)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-k.sem
			l.release(key, k)
		})
	}, nil
}

func (l *Locker[K]) acquire(key K) *lock {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[K]*lock)
	}
	k, ok := l.locks[key]
	if !ok {
		k = &lock{sem: make(chan struct{}, 1)}
		l.locks[key] = k
	}
	k.refs++
	return k
}

func (l *Locker[K]) release(key K, k *lock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k.refs--
	if k.refs == 0 {
		delete(l.locks, key)
	}
}

// Len reports how many keys are currently held or waited on.
func (l *Locker[K]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
