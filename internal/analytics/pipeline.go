package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bizi-lab/stationpulse/internal/core/storage"
)

// ErrPipelineBusy is returned when another process holds the pipeline lock.
// Callers treat it as "skip this tick", never as a failure.
var ErrPipelineBusy = errors.New("analytics pipeline lock is held by another process")

// RollupStore is everything the pipeline needs from storage. The postgres
// adapters implement it; tests substitute fakes.
type RollupStore interface {
	RunHourlyRollup(ctx context.Context, watermark, cutoff time.Time) (RollupResult, error)
	RunDailyRollup(ctx context.Context, watermark, cutoff time.Time) (RollupResult, error)
	RunRankingRollup(ctx context.Context, watermark, windowStart, windowEnd time.Time) (RollupResult, error)
	ListHourlyStats(ctx context.Context, windowStart, windowEnd time.Time) ([]HourlyStat, error)
	UpsertPatternCells(ctx context.Context, cells []PatternCell, windowEnd time.Time) error
	UpsertHeatmapCells(ctx context.Context, cells []HeatmapCell, windowEnd time.Time) error
	DeactivateActiveAlerts(ctx context.Context) (int64, error)
	InsertAlerts(ctx context.Context, alerts []Alert, windowEnd time.Time) error
	DeleteSamplesBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteHourlyBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Vacuum(ctx context.Context) error
}

// Pipeline runs the full rollup cascade under a single lease lock: hourly,
// then the derived tier (ranking, patterns, heatmap, alerts), then daily,
// retention and periodic compaction. Any process may host it; the lock makes
// concurrent deployments safe.
type Pipeline struct {
	locker     storage.JobLocker
	watermarks storage.WatermarkStore
	store      RollupStore
	cfg        Config
	state      *JobState

	now func() time.Time
}

// NewPipeline wires the rollup cascade.
func NewPipeline(locker storage.JobLocker, watermarks storage.WatermarkStore, store RollupStore, cfg Config) *Pipeline {
	return &Pipeline{
		locker:     locker,
		watermarks: watermarks,
		store:      store,
		cfg:        cfg,
		state:      NewJobState("analytics-pipeline"),
		now:        time.Now,
	}
}

// State exposes the pipeline's run tracking for the status endpoint.
func (p *Pipeline) State() *JobState {
	return p.state
}

// HourlyCutoff returns the newest instant the hourly rollup may process: the
// start of the last hour that had fully closed HourlyDelay ago, minus a
// millisecond so the boundary instant itself stays in the next bucket.
func (p *Pipeline) HourlyCutoff(now time.Time) time.Time {
	return now.UTC().Add(-p.cfg.HourlyDelay).Truncate(time.Hour).Add(-time.Millisecond)
}

// DailyCutoff is HourlyCutoff at day granularity with the longer daily delay.
func (p *Pipeline) DailyCutoff(now time.Time) time.Time {
	t := now.UTC().Add(-p.cfg.DailyDelay)
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.Add(-time.Millisecond)
}

// Run executes one pipeline tick. Returns ErrPipelineBusy without doing any
// work when the lock is held elsewhere.
func (p *Pipeline) Run(ctx context.Context) error {
	lock, acquired, err := p.locker.Acquire(ctx, PipelineLockName, p.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("pipeline: acquire lock: %w", err)
	}
	if !acquired {
		slog.Info("[Pipeline] Lock held elsewhere, skipping tick")
		return ErrPipelineBusy
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			slog.Error("[Pipeline] Lock release failed", "error", err)
		}
	}()

	started := p.now().UTC()
	p.state.RecordStart(started)
	slog.Info("[Pipeline] Tick started", "holder", lock.HolderID())

	if err := p.runStages(ctx, lock, started); err != nil {
		p.state.RecordFailure(p.now().UTC(), err)
		return err
	}

	finished := p.now().UTC()
	p.state.RecordSuccess(finished)
	slog.Info("[Pipeline] Tick complete", "duration", finished.Sub(started))
	return nil
}

func (p *Pipeline) runStages(ctx context.Context, lock storage.LockHandle, now time.Time) error {
	hourlyRes, err := p.runHourly(ctx, now)
	if err != nil {
		return err
	}
	if err := p.refresh(ctx, lock, "hourly"); err != nil {
		return err
	}

	// The derived tier reads hourly buckets, so there is nothing new to
	// derive unless the hourly stage actually processed samples.
	if hourlyRes.ProcessedCount > 0 {
		windowEnd := p.HourlyCutoff(now)

		if err := p.runRanking(ctx, windowEnd); err != nil {
			return err
		}
		if err := p.refresh(ctx, lock, "ranking"); err != nil {
			return err
		}

		if err := p.runPatterns(ctx, windowEnd); err != nil {
			return err
		}
		if err := p.runHeatmap(ctx, windowEnd); err != nil {
			return err
		}
		if err := p.refresh(ctx, lock, "patterns"); err != nil {
			return err
		}

		// The sweep runs whenever the derived tier does, even when the
		// alert window itself was already covered: anything still scarce
		// re-qualifies below, everything else stays off.
		deactivated, err := p.store.DeactivateActiveAlerts(ctx)
		if err != nil {
			return fmt.Errorf("pipeline: alert stage: %w", err)
		}

		if err := p.runAlerts(ctx, windowEnd, deactivated); err != nil {
			return err
		}
		if err := p.refresh(ctx, lock, "alerts"); err != nil {
			return err
		}
	}

	// Daily, retention and vacuum share the daily gate: at most once per
	// completed civil day, so the table-wide deletes stay off the tick
	// cadence.
	dailyCutoff := p.DailyCutoff(now)
	dailyWatermark, err := p.watermarks.Get(ctx, WatermarkDaily, time.Unix(0, 0).UTC())
	if err != nil {
		return fmt.Errorf("pipeline: daily watermark: %w", err)
	}
	if !dailyCutoff.After(dailyWatermark) {
		slog.Debug("[Pipeline] Daily cutoff not past watermark, skipping daily tier",
			"watermark", dailyWatermark, "cutoff", dailyCutoff)
		return nil
	}

	if err := p.runDaily(ctx, dailyWatermark, dailyCutoff); err != nil {
		return err
	}
	if err := p.refresh(ctx, lock, "daily"); err != nil {
		return err
	}

	if err := p.runRetention(ctx, now); err != nil {
		return err
	}
	if err := p.refresh(ctx, lock, "retention"); err != nil {
		return err
	}

	return p.runVacuum(ctx, now)
}

// refresh extends the lease between stages. A failed refresh means the lease
// may already belong to someone else, so the tick aborts rather than risking
// two concurrent writers.
func (p *Pipeline) refresh(ctx context.Context, lock storage.LockHandle, afterStage string) error {
	if err := lock.Refresh(ctx); err != nil {
		return fmt.Errorf("pipeline: refresh lock after %s stage: %w", afterStage, err)
	}
	return nil
}

func (p *Pipeline) runHourly(ctx context.Context, now time.Time) (RollupResult, error) {
	cutoff := p.HourlyCutoff(now)
	watermark, err := p.watermarks.Get(ctx, WatermarkHourly, time.Unix(0, 0).UTC())
	if err != nil {
		return RollupResult{}, fmt.Errorf("pipeline: hourly watermark: %w", err)
	}
	if !cutoff.After(watermark) {
		slog.Debug("[Pipeline] Hourly cutoff not past watermark, skipping", "watermark", watermark, "cutoff", cutoff)
		return RollupResult{Watermark: watermark, Cutoff: cutoff}, nil
	}

	start := p.now()
	result, err := p.store.RunHourlyRollup(ctx, watermark, cutoff)
	if err != nil {
		return result, fmt.Errorf("pipeline: hourly stage: %w", err)
	}
	slog.Info("[Pipeline] Hourly stage done",
		"processed", result.ProcessedCount,
		"upserted", result.UpsertedCount,
		"watermark", result.Watermark,
		"duration", p.now().Sub(start),
	)
	return result, nil
}

func (p *Pipeline) runDaily(ctx context.Context, watermark, cutoff time.Time) error {
	start := p.now()
	result, err := p.store.RunDailyRollup(ctx, watermark, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: daily stage: %w", err)
	}
	slog.Info("[Pipeline] Daily stage done",
		"processed", result.ProcessedCount,
		"upserted", result.UpsertedCount,
		"watermark", result.Watermark,
		"duration", p.now().Sub(start),
	)
	return nil
}

func (p *Pipeline) runRanking(ctx context.Context, windowEnd time.Time) error {
	watermark, err := p.watermarks.Get(ctx, WatermarkRanking, time.Unix(0, 0).UTC())
	if err != nil {
		return fmt.Errorf("pipeline: ranking watermark: %w", err)
	}
	if !windowEnd.After(watermark) {
		slog.Debug("[Pipeline] Ranking window already processed, skipping", "watermark", watermark, "window_end", windowEnd)
		return nil
	}

	windowStart := windowEnd.AddDate(0, 0, -p.cfg.RankingDays)
	result, err := p.store.RunRankingRollup(ctx, watermark, windowStart, windowEnd)
	if err != nil {
		return fmt.Errorf("pipeline: ranking stage: %w", err)
	}
	slog.Info("[Pipeline] Ranking stage done",
		"hourly_rows", result.ProcessedCount,
		"stations", result.UpsertedCount,
		"window_end", windowEnd,
	)
	return nil
}

func (p *Pipeline) runPatterns(ctx context.Context, windowEnd time.Time) error {
	watermark, err := p.watermarks.Get(ctx, WatermarkPattern, time.Unix(0, 0).UTC())
	if err != nil {
		return fmt.Errorf("pipeline: pattern watermark: %w", err)
	}
	if !windowEnd.After(watermark) {
		return nil
	}

	windowStart := windowEnd.AddDate(0, 0, -p.cfg.RankingDays)
	stats, err := p.store.ListHourlyStats(ctx, windowStart, windowEnd)
	if err != nil {
		return fmt.Errorf("pipeline: pattern stage: %w", err)
	}

	cells := buildPatternCells(stats)
	if len(cells) == 0 {
		slog.Debug("[Pipeline] No pattern cells in window, watermark untouched", "window_end", windowEnd)
		return nil
	}
	if err := p.store.UpsertPatternCells(ctx, cells, windowEnd); err != nil {
		return fmt.Errorf("pipeline: pattern stage: %w", err)
	}
	slog.Info("[Pipeline] Pattern stage done", "cells", len(cells), "window_end", windowEnd)
	return nil
}

func (p *Pipeline) runHeatmap(ctx context.Context, windowEnd time.Time) error {
	watermark, err := p.watermarks.Get(ctx, WatermarkHeatmap, time.Unix(0, 0).UTC())
	if err != nil {
		return fmt.Errorf("pipeline: heatmap watermark: %w", err)
	}
	if !windowEnd.After(watermark) {
		return nil
	}

	windowStart := windowEnd.AddDate(0, 0, -p.cfg.RankingDays)
	stats, err := p.store.ListHourlyStats(ctx, windowStart, windowEnd)
	if err != nil {
		return fmt.Errorf("pipeline: heatmap stage: %w", err)
	}

	cells := buildHeatmapCells(stats)
	if len(cells) == 0 {
		slog.Debug("[Pipeline] No heatmap cells in window, watermark untouched", "window_end", windowEnd)
		return nil
	}
	if err := p.store.UpsertHeatmapCells(ctx, cells, windowEnd); err != nil {
		return fmt.Errorf("pipeline: heatmap stage: %w", err)
	}
	slog.Info("[Pipeline] Heatmap stage done", "cells", len(cells), "window_end", windowEnd)
	return nil
}

// runAlerts raises fresh alerts for the short trailing window. The sweep of
// previously active alerts already happened in runStages; this stage only
// decides what comes back on.
func (p *Pipeline) runAlerts(ctx context.Context, windowEnd time.Time, deactivated int64) error {
	watermark, err := p.watermarks.Get(ctx, WatermarkAlert, time.Unix(0, 0).UTC())
	if err != nil {
		return fmt.Errorf("pipeline: alert watermark: %w", err)
	}
	if !windowEnd.After(watermark) {
		slog.Debug("[Pipeline] Alert window already processed, skipping", "deactivated", deactivated, "window_end", windowEnd)
		return nil
	}

	windowStart := windowEnd.Add(-time.Duration(p.cfg.AlertWindowHours) * time.Hour)
	stats, err := p.store.ListHourlyStats(ctx, windowStart, windowEnd)
	if err != nil {
		return fmt.Errorf("pipeline: alert stage: %w", err)
	}

	alerts := buildAlerts(stats, p.cfg.Thresholds, p.cfg.AlertWindowHours, windowEnd)
	if len(alerts) == 0 {
		slog.Info("[Pipeline] Alert stage done", "deactivated", deactivated, "raised", 0)
		return nil
	}
	if err := p.store.InsertAlerts(ctx, alerts, windowEnd); err != nil {
		return fmt.Errorf("pipeline: alert stage: %w", err)
	}
	slog.Info("[Pipeline] Alert stage done", "deactivated", deactivated, "raised", len(alerts), "window_end", windowEnd)
	return nil
}

func (p *Pipeline) runRetention(ctx context.Context, now time.Time) error {
	result, err := p.applyRetention(ctx, now)
	if err != nil {
		return fmt.Errorf("pipeline: retention stage: %w", err)
	}
	slog.Info("[Pipeline] Retention stage done",
		"samples_deleted", result.SamplesDeleted,
		"hourly_deleted", result.HourlyDeleted,
		"alerts_deleted", result.AlertsDeleted,
	)
	return nil
}

func (p *Pipeline) applyRetention(ctx context.Context, now time.Time) (RetentionResult, error) {
	var result RetentionResult
	var err error

	result.SamplesDeleted, err = p.store.DeleteSamplesBefore(ctx, now.AddDate(0, 0, -p.cfg.RawRetentionDays))
	if err != nil {
		return result, err
	}
	result.HourlyDeleted, err = p.store.DeleteHourlyBefore(ctx, now.AddDate(0, 0, -p.cfg.HourlyRetentionDays))
	if err != nil {
		return result, err
	}
	result.AlertsDeleted, err = p.store.DeleteAlertsBefore(ctx, now.AddDate(0, 0, -p.cfg.AlertRetentionDays))
	if err != nil {
		return result, err
	}
	return result, nil
}

// runVacuum compacts storage at most once per VacuumIntervalDays, tracked by
// its own watermark so the interval survives restarts.
func (p *Pipeline) runVacuum(ctx context.Context, now time.Time) error {
	last, err := p.watermarks.Get(ctx, WatermarkVacuum, time.Unix(0, 0).UTC())
	if err != nil {
		return fmt.Errorf("pipeline: vacuum watermark: %w", err)
	}
	due := last.AddDate(0, 0, p.cfg.VacuumIntervalDays)
	if now.Before(due) {
		return nil
	}

	start := p.now()
	if err := p.store.Vacuum(ctx); err != nil {
		return fmt.Errorf("pipeline: vacuum stage: %w", err)
	}
	if err := p.watermarks.Set(ctx, WatermarkVacuum, now); err != nil {
		return fmt.Errorf("pipeline: vacuum watermark: %w", err)
	}
	slog.Info("[Pipeline] Vacuum done", "duration", p.now().Sub(start))
	return nil
}
