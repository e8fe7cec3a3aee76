package services

import (
	"context"
	"slices"
	"sync"

	"golang.org/x/sync/semaphore"
)

// KeyLock serializes work per key. Each key maps to a weighted semaphore of
// size one that is dropped once nobody holds or waits for it.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*keyEntry
}

type keyEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func NewKeyLock() *KeyLock {
	return &KeyLock{locks: make(map[string]*keyEntry)}
}

// Lock acquires every key in sorted order so that callers locking
// overlapping sets cannot deadlock. The returned function releases them all.
func (l *KeyLock) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	held := make([]string, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.release(held[i])
		}
	}

	for _, k := range keys {
		e := l.acquireEntry(k)
		if err := e.sem.Acquire(ctx, 1); err != nil {
			l.dropEntry(k)
			release()
			return nil, err
		}
		held = append(held, k)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *KeyLock) acquireEntry(key string) *keyEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok {
		e = &keyEntry{sem: semaphore.NewWeighted(1)}
		l.locks[key] = e
	}
	e.refs++
	return e
}

func (l *KeyLock) release(key string) {
	l.mu.Lock()
	e := l.locks[key]
	l.mu.Unlock()
	e.sem.Release(1)
	l.dropEntry(key)
}

func (l *KeyLock) dropEntry(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// Len returns the number of keys currently held or waited on.
func (l *KeyLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func scheduleKey(id string) string { return "schedule:" + id }

func accountKey(id string) string { return "account:" + id }
