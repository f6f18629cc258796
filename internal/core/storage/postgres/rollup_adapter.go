package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/bizi-lab/stationpulse/internal/analytics"
)

// RollupAdapter implements the analytics store: first-tier rollups as
// set-based SQL, derived-tier upserts, retention deletes and compaction.
// Every write path that accounts for input rows commits its watermark in the
// same transaction as the rows - the atomicity contract that makes a crashed
// run safe to repeat.
type RollupAdapter struct {
	db *sql.DB
}

// NewRollupAdapter creates a rollup store sharing the given connection.
func NewRollupAdapter(db *sql.DB) *RollupAdapter {
	return &RollupAdapter{db: db}
}

// RunHourlyRollup aggregates raw samples in (watermark, cutoff] into hourly
// buckets and advances the hourly watermark to the newest processed sample -
// not to cutoff, so samples that were merely absent at query time are picked
// up by the next run without reprocessing closed hours.
func (a *RollupAdapter) RunHourlyRollup(ctx context.Context, watermark, cutoff time.Time) (analytics.RollupResult, error) {
	return a.runSampleRollup(ctx, "hourly", queryUpsertHourlyRollup, analytics.WatermarkHourly, watermark, cutoff)
}

// RunDailyRollup is the hourly rollup's shape at day granularity, gated by its
// own watermark and delay.
func (a *RollupAdapter) RunDailyRollup(ctx context.Context, watermark, cutoff time.Time) (analytics.RollupResult, error) {
	return a.runSampleRollup(ctx, "daily", queryUpsertDailyRollup, analytics.WatermarkDaily, watermark, cutoff)
}

func (a *RollupAdapter) runSampleRollup(
	ctx context.Context,
	stage string,
	upsertQuery string,
	watermarkName string,
	watermark, cutoff time.Time,
) (analytics.RollupResult, error) {
	result := analytics.RollupResult{Watermark: watermark, Cutoff: cutoff}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("%s rollup: begin tx: %w", stage, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := tx.QueryRowContext(ctx, queryCountSamplesInRange, watermark, cutoff).Scan(&result.ProcessedCount); err != nil {
		return result, fmt.Errorf("%s rollup: count samples: %w", stage, err)
	}
	if result.ProcessedCount == 0 {
		// Nothing new: leave the watermark untouched.
		return result, nil
	}

	res, err := tx.ExecContext(ctx, upsertQuery, watermark, cutoff, time.Now().UTC())
	if err != nil {
		return result, fmt.Errorf("%s rollup: upsert buckets: %w", stage, err)
	}
	result.UpsertedCount, err = res.RowsAffected()
	if err != nil {
		return result, fmt.Errorf("%s rollup: rows affected: %w", stage, err)
	}

	var maxRecorded sql.NullTime
	if err := tx.QueryRowContext(ctx, queryMaxSampleInRange, watermark, cutoff).Scan(&maxRecorded); err != nil {
		return result, fmt.Errorf("%s rollup: max recorded_at: %w", stage, err)
	}
	if maxRecorded.Valid {
		result.Watermark = maxRecorded.Time.UTC()
		if err := setWatermarkTx(ctx, tx, watermarkName, result.Watermark); err != nil {
			return result, fmt.Errorf("%s rollup: %w", stage, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("%s rollup: commit: %w", stage, err)
	}

	slog.Info("[Rollup] First-tier rollup committed",
		"stage", stage,
		"processed", result.ProcessedCount,
		"upserted", result.UpsertedCount,
		"watermark", result.Watermark,
		"cutoff", cutoff,
	)
	return result, nil
}

// RunRankingRollup re-aggregates churn rankings over (windowStart, windowEnd]
// in one statement. The ranking watermark advances to windowEnd only when at
// least one station row was written, in the same transaction.
func (a *RollupAdapter) RunRankingRollup(ctx context.Context, watermark, windowStart, windowEnd time.Time) (analytics.RollupResult, error) {
	result := analytics.RollupResult{Watermark: watermark, Cutoff: windowEnd}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("ranking rollup: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := tx.QueryRowContext(ctx, queryCountHourlyInRange, windowStart, windowEnd).Scan(&result.ProcessedCount); err != nil {
		return result, fmt.Errorf("ranking rollup: count hourly rows: %w", err)
	}

	res, err := tx.ExecContext(ctx, queryUpsertRankingRollup, windowStart, windowEnd, time.Now().UTC())
	if err != nil {
		return result, fmt.Errorf("ranking rollup: upsert rankings: %w", err)
	}
	result.UpsertedCount, err = res.RowsAffected()
	if err != nil {
		return result, fmt.Errorf("ranking rollup: rows affected: %w", err)
	}

	if result.UpsertedCount > 0 {
		result.Watermark = windowEnd
		if err := setWatermarkTx(ctx, tx, analytics.WatermarkRanking, windowEnd); err != nil {
			return result, fmt.Errorf("ranking rollup: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("ranking rollup: commit: %w", err)
	}
	return result, nil
}

// ListHourlyStats returns hourly buckets with bucket_start in (windowStart,
// windowEnd], the input of the pattern/heatmap/alert stages.
func (a *RollupAdapter) ListHourlyStats(ctx context.Context, windowStart, windowEnd time.Time) ([]analytics.HourlyStat, error) {
	rows, err := a.db.QueryContext(ctx, queryListHourlyInRange, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("list hourly stats: %w", err)
	}
	defer rows.Close()

	var stats []analytics.HourlyStat
	for rows.Next() {
		var s analytics.HourlyStat
		if err := rows.Scan(
			&s.StationID, &s.BucketStart,
			&s.BikesMin, &s.BikesMax, &s.BikesAvg,
			&s.AnchorsMin, &s.AnchorsMax, &s.AnchorsAvg,
			&s.OccupancyAvg, &s.SampleCount,
		); err != nil {
			return nil, fmt.Errorf("list hourly stats: scan row: %w", err)
		}
		s.BucketStart = s.BucketStart.UTC()
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list hourly stats: iterate rows: %w", err)
	}
	return stats, nil
}

// UpsertPatternCells writes the pattern cells and advances the pattern
// watermark to windowEnd in one transaction. Callers only invoke it with a
// non-empty cell set; an empty window must not consume watermark progress.
func (a *RollupAdapter) UpsertPatternCells(ctx context.Context, cells []analytics.PatternCell, windowEnd time.Time) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pattern upsert: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, queryUpsertPatternCell)
	if err != nil {
		return fmt.Errorf("pattern upsert: prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range cells {
		if _, err := stmt.ExecContext(ctx,
			c.StationID, string(c.DayType), c.Hour,
			c.BikesAvg, c.AnchorsAvg, c.OccupancyAvg, c.SampleCount,
		); err != nil {
			return fmt.Errorf("pattern upsert: cell (%s,%s,%d): %w", c.StationID, c.DayType, c.Hour, err)
		}
	}

	if err := setWatermarkTx(ctx, tx, analytics.WatermarkPattern, windowEnd); err != nil {
		return fmt.Errorf("pattern upsert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pattern upsert: commit: %w", err)
	}
	return nil
}

// UpsertHeatmapCells is UpsertPatternCells keyed by local day-of-week.
func (a *RollupAdapter) UpsertHeatmapCells(ctx context.Context, cells []analytics.HeatmapCell, windowEnd time.Time) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("heatmap upsert: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, queryUpsertHeatmapCell)
	if err != nil {
		return fmt.Errorf("heatmap upsert: prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range cells {
		if _, err := stmt.ExecContext(ctx,
			c.StationID, c.DayOfWeek, c.Hour,
			c.BikesAvg, c.AnchorsAvg, c.OccupancyAvg, c.SampleCount,
		); err != nil {
			return fmt.Errorf("heatmap upsert: cell (%s,%d,%d): %w", c.StationID, c.DayOfWeek, c.Hour, err)
		}
	}

	if err := setWatermarkTx(ctx, tx, analytics.WatermarkHeatmap, windowEnd); err != nil {
		return fmt.Errorf("heatmap upsert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("heatmap upsert: commit: %w", err)
	}
	return nil
}

// DeactivateActiveAlerts flips every active alert off. Runs once per pipeline
// tick before the alert rollup, so alerts that no longer qualify simply stay
// deactivated.
func (a *RollupAdapter) DeactivateActiveAlerts(ctx context.Context) (int64, error) {
	res, err := a.db.ExecContext(ctx, queryDeactivateAlerts)
	if err != nil {
		return 0, fmt.Errorf("deactivate alerts: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate alerts: rows affected: %w", err)
	}
	return affected, nil
}

// InsertAlerts upserts fresh active alert rows and advances the alert
// watermark to windowEnd in one transaction.
func (a *RollupAdapter) InsertAlerts(ctx context.Context, alerts []analytics.Alert, windowEnd time.Time) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("alert insert: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, queryUpsertAlert)
	if err != nil {
		return fmt.Errorf("alert insert: prepare: %w", err)
	}
	defer stmt.Close()

	for _, al := range alerts {
		if _, err := stmt.ExecContext(ctx,
			al.StationID, string(al.Type), al.Severity, al.MetricValue,
			al.WindowHours, al.GeneratedAt, al.IsActive,
		); err != nil {
			return fmt.Errorf("alert insert: (%s,%s): %w", al.StationID, al.Type, err)
		}
	}

	if err := setWatermarkTx(ctx, tx, analytics.WatermarkAlert, windowEnd); err != nil {
		return fmt.Errorf("alert insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("alert insert: commit: %w", err)
	}
	return nil
}

// DeleteSamplesBefore purges raw samples older than cutoff.
func (a *RollupAdapter) DeleteSamplesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return a.deleteBefore(ctx, queryDeleteSamplesBefore, "samples", cutoff)
}

// DeleteHourlyBefore purges hourly buckets older than cutoff.
func (a *RollupAdapter) DeleteHourlyBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return a.deleteBefore(ctx, queryDeleteHourlyBefore, "hourly stats", cutoff)
}

// DeleteAlertsBefore purges alerts generated before cutoff.
func (a *RollupAdapter) DeleteAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return a.deleteBefore(ctx, queryDeleteAlertsBefore, "alerts", cutoff)
}

func (a *RollupAdapter) deleteBefore(ctx context.Context, query, tier string, cutoff time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention delete %s: %w", tier, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("retention delete %s: rows affected: %w", tier, err)
	}
	return affected, nil
}

// Vacuum runs storage compaction. VACUUM cannot run inside a transaction, so
// it executes directly on the pool.
func (a *RollupAdapter) Vacuum(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}
