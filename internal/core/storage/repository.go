// Package storage defines the coordination primitives the pipeline relies on:
// per-stage watermarks and the TTL lease lock serializing pipeline runs.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrLockLost is returned by LockHandle.Refresh when the stored holder no
// longer matches: the lease expired and another process took the lock over.
var ErrLockLost = errors.New("job lock lost to another holder")

// WatermarkStore persists the last fully-processed instant per pipeline stage.
// Any read/write failure is fatal to the current pipeline run; proceeding on a
// stale watermark risks double-counting or gaps.
type WatermarkStore interface {
	// Get returns the stored watermark, persisting and returning def when the
	// stage has none yet.
	Get(ctx context.Context, name string, def time.Time) (time.Time, error)

	// Set upserts the watermark. Callers invoke it only after the stage's
	// writes are durably committed.
	Set(ctx context.Context, name string, t time.Time) error
}

// LockHandle is a held lease on a named job lock.
type LockHandle interface {
	// Refresh extends the lease by the original TTL from now. Fails with
	// ErrLockLost if the lock has been reassigned since acquisition.
	Refresh(ctx context.Context) error

	// Release ends the lease by expiring it and clearing the holder. A lock
	// already reassigned to someone else is left untouched, not an error.
	Release(ctx context.Context) error

	// HolderID returns the opaque token identifying this acquisition.
	HolderID() string

	// ExpiresAt returns the lease expiry as of the last acquire/refresh.
	ExpiresAt() time.Time
}

// JobLocker hands out TTL lease locks. A crashed holder's lock self-expires.
type JobLocker interface {
	// Acquire attempts to take the named lock. Returns (nil, false, nil) when
	// a valid holder already exists - contention is an expected outcome, not
	// an error.
	Acquire(ctx context.Context, name string, ttl time.Duration) (LockHandle, bool, error)
}
