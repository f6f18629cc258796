package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/bizi-lab/stationpulse/internal/core/storage"
)

// JobLockAdapter implements storage.JobLocker with a TTL lease row per lock
// name. A crashed holder's lease self-expires; release keeps the row around
// with an expired lease so re-acquisition is a plain conditional upsert.
type JobLockAdapter struct {
	db *sql.DB
}

// NewJobLockAdapter creates a lock store sharing the given connection.
func NewJobLockAdapter(db *sql.DB) *JobLockAdapter {
	return &JobLockAdapter{db: db}
}

// Acquire attempts the conditional upsert. Zero rows affected means a valid
// holder exists and the caller should skip this tick.
func (a *JobLockAdapter) Acquire(ctx context.Context, name string, ttl time.Duration) (storage.LockHandle, bool, error) {
	now := time.Now().UTC()
	holderID := fmt.Sprintf("%d-%s", os.Getpid(), uuid.NewString())
	heldUntil := now.Add(ttl)

	result, err := a.db.ExecContext(ctx, queryAcquireLock, name, now, heldUntil, holderID)
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %q: %w", name, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %q: rows affected: %w", name, err)
	}
	if affected == 0 {
		return nil, false, nil
	}

	slog.Debug("[JobLock] Acquired", "name", name, "holder", holderID, "held_until", heldUntil)
	return &lockHandle{
		db:        a.db,
		name:      name,
		holderID:  holderID,
		ttl:       ttl,
		heldUntil: heldUntil,
	}, true, nil
}

type lockHandle struct {
	db        *sql.DB
	name      string
	holderID  string
	ttl       time.Duration
	heldUntil time.Time
}

// Refresh extends the lease by the acquisition TTL from now, conditioned on
// the stored holder still being us.
func (h *lockHandle) Refresh(ctx context.Context) error {
	now := time.Now().UTC()
	heldUntil := now.Add(h.ttl)

	result, err := h.db.ExecContext(ctx, queryRefreshLock, h.name, now, heldUntil, h.holderID)
	if err != nil {
		return fmt.Errorf("refresh lock %q: %w", h.name, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("refresh lock %q: rows affected: %w", h.name, err)
	}
	if affected == 0 {
		return fmt.Errorf("refresh lock %q: %w", h.name, storage.ErrLockLost)
	}

	h.heldUntil = heldUntil
	return nil
}

// Release expires the lease and clears the holder. If the lock was already
// reassigned after our lease lapsed, the conditional update touches nothing
// and that is fine.
func (h *lockHandle) Release(ctx context.Context) error {
	if _, err := h.db.ExecContext(ctx, queryReleaseLock, h.name, h.holderID); err != nil {
		return fmt.Errorf("release lock %q: %w", h.name, err)
	}
	slog.Debug("[JobLock] Released", "name", h.name, "holder", h.holderID)
	return nil
}

func (h *lockHandle) HolderID() string {
	return h.holderID
}

func (h *lockHandle) ExpiresAt() time.Time {
	return h.heldUntil
}
