package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bizi-lab/stationpulse/internal/collector"
)

// SampleAdapter persists collector output: station metadata upserts and raw
// availability samples.
type SampleAdapter struct {
	db *sql.DB
}

// NewSampleAdapter creates a sample store sharing the given connection.
func NewSampleAdapter(db *sql.DB) *SampleAdapter {
	return &SampleAdapter{db: db}
}

// UpsertStations refreshes station metadata in one transaction.
func (a *SampleAdapter) UpsertStations(ctx context.Context, stations []collector.Station) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert stations: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, queryUpsertStation)
	if err != nil {
		return fmt.Errorf("upsert stations: prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, st := range stations {
		if _, err := stmt.ExecContext(ctx, st.ID, st.Name, st.Lat, st.Lon, st.Capacity, now); err != nil {
			return fmt.Errorf("upsert stations: station %s: %w", st.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("upsert stations: commit: %w", err)
	}
	return nil
}

// InsertSamples writes raw samples in one transaction and reports how many
// rows were actually stored. Duplicate (station, instant) pairs are dropped
// by the statement, so inserted can be lower than len(samples).
func (a *SampleAdapter) InsertSamples(ctx context.Context, samples []collector.Sample) (int64, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("insert samples: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, queryInsertSample)
	if err != nil {
		return 0, fmt.Errorf("insert samples: prepare: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, s := range samples {
		res, err := stmt.ExecContext(ctx, s.StationID, s.BikesAvailable, s.AnchorsFree, s.RecordedAt)
		if err != nil {
			return inserted, fmt.Errorf("insert samples: station %s: %w", s.StationID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("insert samples: rows affected: %w", err)
		}
		inserted += affected
	}

	if err := tx.Commit(); err != nil {
		return inserted, fmt.Errorf("insert samples: commit: %w", err)
	}
	return inserted, nil
}
