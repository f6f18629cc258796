// Package analytics implements the incremental rollup pipeline: watermark-gated
// cascading aggregation from raw station samples into hourly/daily statistics,
// trailing-window rankings, weekday/weekend patterns, hour-of-week heatmaps and
// scarcity alerts, plus retention and storage compaction.
package analytics

import (
	"time"

	"github.com/bizi-lab/stationpulse/internal/core/localtime"
)

// AlertType identifies the scarcity condition an alert signals.
type AlertType string

const (
	AlertLowBikes   AlertType = "LOW_BIKES"
	AlertLowAnchors AlertType = "LOW_ANCHORS"
)

// Watermark stage names. One row per name in analytics_watermarks.
const (
	WatermarkHourly  = "hourly-rollup"
	WatermarkDaily   = "daily-rollup"
	WatermarkRanking = "ranking-rollup"
	WatermarkPattern = "pattern-rollup"
	WatermarkHeatmap = "heatmap-rollup"
	WatermarkAlert   = "alert-rollup"
	WatermarkVacuum  = "vacuum"
)

// PipelineLockName is the job-lock row serializing the whole pipeline.
const PipelineLockName = "analytics-rollup"

// RollupResult reports one stage run: rows read from the stage's input,
// rows written to its output, and the watermark after the run.
type RollupResult struct {
	ProcessedCount int64
	UpsertedCount  int64
	Watermark      time.Time
	Cutoff         time.Time
}

// HourlyStat is one (station, UTC hour) bucket produced by the hourly rollup.
// BucketStart is always aligned to the top of the hour on the UTC instant
// line, never to local civil time.
type HourlyStat struct {
	StationID    string
	BucketStart  time.Time
	BikesMin     int64
	BikesMax     int64
	BikesAvg     float64
	AnchorsMin   int64
	AnchorsMax   int64
	AnchorsAvg   float64
	OccupancyAvg float64
	SampleCount  int64
}

// PatternCell is a sample-weighted (station, dayType, localHour) average over
// the trailing pattern window.
type PatternCell struct {
	StationID    string
	DayType      localtime.DayType
	Hour         int
	BikesAvg     float64
	AnchorsAvg   float64
	OccupancyAvg float64
	SampleCount  int64
}

// HeatmapCell is the finer-grained sibling of PatternCell, keyed by
// (station, local dayOfWeek 0-6, localHour).
type HeatmapCell struct {
	StationID    string
	DayOfWeek    int
	Hour         int
	BikesAvg     float64
	AnchorsAvg   float64
	OccupancyAvg float64
	SampleCount  int64
}

// RankingEntry is one station's usage-churn summary for a trailing window.
type RankingEntry struct {
	StationID     string
	TurnoverScore float64
	EmptyHours    int64
	FullHours     int64
	TotalHours    int64
	WindowStart   time.Time
	WindowEnd     time.Time
}

// Alert is a threshold breach over the short alert window. Rows are keyed by
// (station, type, windowHours, generatedAt); re-qualifying stations get the
// same key re-activated rather than a new row.
type Alert struct {
	ID          int64
	StationID   string
	Type        AlertType
	Severity    int
	MetricValue float64
	WindowHours int
	GeneratedAt time.Time
	IsActive    bool
}

// RetentionResult reports the per-tier delete counts of one retention pass.
type RetentionResult struct {
	SamplesDeleted int64
	HourlyDeleted  int64
	AlertsDeleted  int64
}

// Config carries the pipeline's windows, delays, thresholds and retention ages.
type Config struct {
	HourlyDelay      time.Duration // ingestion-delay margin before closing an hour
	DailyDelay       time.Duration // margin past UTC midnight before closing a day
	RankingDays      int           // trailing window for ranking/pattern/heatmap
	AlertWindowHours int           // trailing window for alerts
	LockTTL          time.Duration

	Thresholds Thresholds

	RawRetentionDays    int
	HourlyRetentionDays int
	AlertRetentionDays  int
	VacuumIntervalDays  int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		HourlyDelay:         10 * time.Minute,
		DailyDelay:          90 * time.Minute,
		RankingDays:         14,
		AlertWindowHours:    3,
		LockTTL:             55 * time.Minute,
		Thresholds:          DefaultThresholds(),
		RawRetentionDays:    30,
		HourlyRetentionDays: 365,
		AlertRetentionDays:  14,
		VacuumIntervalDays:  7,
	}
}
