package statemachine

import (
	"context"
	"sync"
	"time"
)

// UnlockFunc releases a lock acquired by a Locker.
type UnlockFunc func(ctx context.Context) error

// Locker provides mutual exclusion per entity field. The engine takes the lock
// keyed by LockKey around the whole transition when a locker is configured.
type Locker interface {
	// Lock blocks until the key is acquired or ctx is done. The ttl bounds how long
	// a crashed holder can keep the key; local implementations may ignore it.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

// LocalLocker is an in-process Locker for single-instance deployments and tests.
// A key's slot lives only while someone holds or waits on it.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*localSlot
}

type localSlot struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates an in-process keyed locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*localSlot)}
}

// Len returns the number of keys currently held or awaited.
func (l *LocalLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

func (l *LocalLocker) acquire(key string) *localSlot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		s = &localSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *LocalLocker) release(key string, s *localSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// Lock implements Locker. The ttl is ignored.
func (l *LocalLocker) Lock(ctx context.Context, key string, _ time.Duration) (UnlockFunc, error) {
	s := l.acquire(key)

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-s.ch
			l.release(key, s)
		})
		return nil
	}, nil
}
