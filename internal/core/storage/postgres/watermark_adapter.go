package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// WatermarkAdapter implements storage.WatermarkStore on PostgreSQL.
type WatermarkAdapter struct {
	db *sql.DB
}

// NewWatermarkAdapter creates a watermark store sharing the given connection.
func NewWatermarkAdapter(db *sql.DB) *WatermarkAdapter {
	return &WatermarkAdapter{db: db}
}

// Get returns the stage's watermark, lazily persisting def on first read.
func (a *WatermarkAdapter) Get(ctx context.Context, name string, def time.Time) (time.Time, error) {
	var last time.Time
	err := a.db.QueryRowContext(ctx, queryGetWatermark, name).Scan(&last)
	if err == nil {
		return last.UTC(), nil
	}
	if err != sql.ErrNoRows {
		return time.Time{}, fmt.Errorf("get watermark %q: %w", name, err)
	}

	if _, err := a.db.ExecContext(ctx, queryInitWatermark, name, def.UTC(), time.Now().UTC()); err != nil {
		return time.Time{}, fmt.Errorf("init watermark %q: %w", name, err)
	}
	return def.UTC(), nil
}

// Set upserts the stage's watermark.
func (a *WatermarkAdapter) Set(ctx context.Context, name string, t time.Time) error {
	if _, err := a.db.ExecContext(ctx, querySetWatermark, name, t.UTC(), time.Now().UTC()); err != nil {
		return fmt.Errorf("set watermark %q: %w", name, err)
	}
	return nil
}

// setWatermarkTx advances a watermark inside the caller's transaction, so the
// cursor commits atomically with the rows it accounts for.
func setWatermarkTx(ctx context.Context, tx *sql.Tx, name string, t time.Time) error {
	if _, err := tx.ExecContext(ctx, querySetWatermark, name, t.UTC(), time.Now().UTC()); err != nil {
		return fmt.Errorf("set watermark %q: %w", name, err)
	}
	return nil
}
