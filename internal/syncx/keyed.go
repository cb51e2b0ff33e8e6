// Package syncx holds small concurrency helpers shared by the engine.
package syncx

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// KeyedMutex serializes work per key. Unlike sync.Mutex, Lock gives up when
// the context is done.
type KeyedMutex[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*keyedEntry
}

type keyedEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func NewKeyedMutex[K comparable]() *KeyedMutex[K] {
	return &KeyedMutex[K]{locks: make(map[K]*keyedEntry)}
}

// Lock blocks until key is free or ctx is done. The returned func releases it.
func (m *KeyedMutex[K]) Lock(ctx context.Context, key K) (func(), error) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &keyedEntry{sem: semaphore.NewWeighted(1)}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		m.release(key, e, false)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.release(key, e, true) })
	}, nil
}

// TryLock takes key only if it is free right now.
func (m *KeyedMutex[K]) TryLock(key K) (func(), bool) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &keyedEntry{sem: semaphore.NewWeighted(1)}
		m.locks[key] = e
	}
	if !e.sem.TryAcquire(1) {
		if !ok {
			delete(m.locks, key)
		}
		m.mu.Unlock()
		return nil, false
	}
	e.refs++
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { m.release(key, e, true) })
	}, true
}

func (m *KeyedMutex[K]) release(key K, e *keyedEntry, held bool) {
	if held {
		e.sem.Release(1)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}

// Len reports how many keys are currently held or awaited.
func (m *KeyedMutex[K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
