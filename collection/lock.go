package collection

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"
)

// rwLock is a reader/writer lock with bounded-timeout acquisition, built on
// a weighted semaphore: readers take one unit, a writer takes all of them.
// Acquisition respects both the caller's context and the configured bound,
// so a stuck writer surfaces as ErrLockTimeout instead of blocking forever.
type rwLock struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

const maxReaders = 1 << 30

func newRWLock(timeout time.Duration) *rwLock {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &rwLock{sem: semaphore.NewWeighted(maxReaders), timeout: timeout}
}

func (l *rwLock) acquire(ctx context.Context, weight int64) error {
	if ctx == nil {
		ctx = context.Background()
	}
	tctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.sem.Acquire(tctx, weight); err != nil {
		// Distinguish the caller's deadline from the lock bound.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return ErrLockTimeout
		}
		return err
	}
	return nil
}

// RLock acquires a read lock.
func (l *rwLock) RLock(ctx context.Context) error { return l.acquire(ctx, 1) }

// RUnlock releases a read lock.
func (l *rwLock) RUnlock() { l.sem.Release(1) }

// Lock acquires the exclusive write lock.
func (l *rwLock) Lock(ctx context.Context) error { return l.acquire(ctx, maxReaders) }

// Unlock releases the write lock.
func (l *rwLock) Unlock() { l.sem.Release(maxReaders) }
