// Package locker serializes work on a single key, in process or across
// replicas through redis.
package locker

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrNotObtained = errors.New("lock_not_obtained")
	ErrEmptyKey    = errors.New("lock_key_empty")
)

// Release gives a lock back. It is safe to call more than once.
type Release func()

// Locker grants exclusive access to a key. Lock waits until the lock is free
// or ctx is done; TryLock fails fast with ErrNotObtained.
type Locker interface {
	Lock(ctx context.Context, key string) (Release, error)
	TryLock(ctx context.Context, key string) (Release, error)
}

// DocumentKey is the lock key of a compliance document.
func DocumentKey(id string) string {
	return "compliance:document:" + id
}

// JobKey is the lock key of a scheduler job.
func JobKey(name string) string {
	return "compliance:job:" + name
}

// Local is an in-process keyed mutex.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

func (l *Local) Lock(ctx context.Context, key string) (Release, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	s := l.acquireSlot(key)
	select {
	case s.ch <- struct{}{}:
		return l.releaser(key, s), nil
	case <-ctx.Done():
		l.dropSlot(key, s)
		return nil, ctx.Err()
	}
}

func (l *Local) TryLock(_ context.Context, key string) (Release, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	s := l.acquireSlot(key)
	select {
	case s.ch <- struct{}{}:
		return l.releaser(key, s), nil
	default:
		l.dropSlot(key, s)
		return nil, ErrNotObtained
	}
}

func (l *Local) acquireSlot(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *Local) dropSlot(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *Local) releaser(key string, s *slot) Release {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.dropSlot(key, s)
		})
	}
}
