// Package keylock provides per-key mutual exclusion with context-aware
// acquisition. Callers that cannot acquire immediately queue on the key's
// channel rather than overwriting each other; an expired context surfaces
// as an error the caller can map to a retryable conflict.
package keylock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// KeyLock serializes work per key. A key's lock is a 1-slot channel; FIFO
// fairness follows from the runtime's channel wait queue.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*entry

	// Metrics
	acquired  int64
	timeouts  int64
	contended int64
}

type entry struct {
	ch   chan struct{}
	refs int
}

// New creates an empty key lock.
func New() *KeyLock {
	return &KeyLock{locks: make(map[string]*entry)}
}

// Acquire blocks until the key's lock is held or the context ends. The
// returned release function must be called exactly once.
func (k *KeyLock) Acquire(ctx context.Context, key string) (func(), error) {
	if key == "" {
		return nil, fmt.Errorf("lock key is required")
	}

	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		atomic.AddInt64(&k.acquired, 1)
		return func() { k.release(key, e) }, nil
	default:
		atomic.AddInt64(&k.contended, 1)
	}

	select {
	case e.ch <- struct{}{}:
		atomic.AddInt64(&k.acquired, 1)
		return func() { k.release(key, e) }, nil
	case <-ctx.Done():
		atomic.AddInt64(&k.timeouts, 1)
		k.unref(key, e)
		return nil, fmt.Errorf("waiting for lock on %q: %w", key, ctx.Err())
	}
}

// TryAcquire takes the lock only if it is immediately free.
func (k *KeyLock) TryAcquire(key string) (func(), bool) {
	if key == "" {
		return nil, false
	}

	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		atomic.AddInt64(&k.acquired, 1)
		return func() { k.release(key, e) }, true
	default:
		k.unref(key, e)
		return nil, false
	}
}

func (k *KeyLock) release(key string, e *entry) {
	<-e.ch
	k.unref(key, e)
}

// unref drops a reference and deletes the key's entry once unused, so the
// map does not grow with every prescription ever touched.
func (k *KeyLock) unref(key string, e *entry) {
	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

// Stats reports cumulative acquisition counters.
type Stats struct {
	Acquired  int64
	Timeouts  int64
	Contended int64
	LiveKeys  int
}

// Stats returns current counters.
func (k *KeyLock) Stats() Stats {
	k.mu.Lock()
	live := len(k.locks)
	k.mu.Unlock()
	return Stats{
		Acquired:  atomic.LoadInt64(&k.acquired),
		Timeouts:  atomic.LoadInt64(&k.timeouts),
		Contended: atomic.LoadInt64(&k.contended),
		LiveKeys:  live,
	}
}
