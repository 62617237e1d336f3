// Package lock serializes refreshes of the same dashboard.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EagleChen/mapmutex"
)

// ErrNotAcquired is returned when a lock could not be taken before the context ended
var ErrNotAcquired = errors.New("lock not acquired")

// Locker grants exclusive access per key
type Locker interface {
	// Acquire blocks until the key is held or ctx ends. The returned func releases it.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// KeyedMutex is an in-process Locker backed by a map of mutexes
type KeyedMutex struct {
	m *mapmutex.Mutex
}

// NewKeyedMutex creates an in-process locker. Each TryLock round retries with
// jittered backoff capped at 50ms so context cancellation is observed promptly.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		m: mapmutex.NewCustomizedMapMutex(20, 5e7, 1e3, 1.5, 0.2),
	}
}

// Acquire takes the key's mutex
func (k *KeyedMutex) Acquire(ctx context.Context, key string) (func(), error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, err)
		}
		if k.m.TryLock(key) {
			return func() { k.m.Unlock(key) }, nil
		}
	}
}

// Chain acquires every locker in order and releases them in reverse
type Chain []Locker

// Acquire takes all locks or none
func (c Chain) Acquire(ctx context.Context, key string) (func(), error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, l := range c {
		release, err := l.Acquire(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

// Nop never blocks
type Nop struct{}

// Acquire returns immediately
func (Nop) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}

// sleepCtx waits d or until ctx ends
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
