package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bizi-lab/stationpulse/internal/core/localtime"
)

func hourlyStat(station string, bucket time.Time, bikesAvg, anchorsAvg, occAvg float64, samples int64) HourlyStat {
	return HourlyStat{
		StationID:    station,
		BucketStart:  bucket,
		BikesAvg:     bikesAvg,
		AnchorsAvg:   anchorsAvg,
		OccupancyAvg: occAvg,
		SampleCount:  samples,
	}
}

func TestBuildPatternCells_WeightedAverage(t *testing.T) {
	// Two Wednesday buckets for the same local hour with different sample
	// counts: (3*10 + 7*20) / 10 = 17.
	b1 := time.Date(2026, 1, 7, 8, 0, 0, 0, time.UTC) // 09:00 CET, Wednesday
	b2 := time.Date(2026, 1, 14, 8, 0, 0, 0, time.UTC)

	cells := buildPatternCells([]HourlyStat{
		hourlyStat("st-1", b1, 10, 2, 0.5, 3),
		hourlyStat("st-1", b2, 20, 4, 0.9, 7),
	})

	require.Len(t, cells, 1)
	require.Equal(t, "st-1", cells[0].StationID)
	require.Equal(t, localtime.DayTypeWeekday, cells[0].DayType)
	require.Equal(t, 9, cells[0].Hour, "bucket hour must map through civil time, not UTC")
	require.InEpsilon(t, 17.0, cells[0].BikesAvg, 1e-9)
	require.InEpsilon(t, 3.4, cells[0].AnchorsAvg, 1e-9)
	require.InEpsilon(t, 0.78, cells[0].OccupancyAvg, 1e-9)
	require.Equal(t, int64(10), cells[0].SampleCount)
}

func TestBuildPatternCells_SplitsWeekdayWeekend(t *testing.T) {
	wed := time.Date(2026, 1, 7, 8, 0, 0, 0, time.UTC)
	sat := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)

	cells := buildPatternCells([]HourlyStat{
		hourlyStat("st-1", wed, 10, 5, 0.5, 4),
		hourlyStat("st-1", sat, 2, 18, 0.1, 4),
	})

	require.Len(t, cells, 2)
	require.Equal(t, localtime.DayTypeWeekday, cells[0].DayType)
	require.Equal(t, localtime.DayTypeWeekend, cells[1].DayType)
	require.Equal(t, 10.0, cells[0].BikesAvg)
	require.Equal(t, 2.0, cells[1].BikesAvg)
}

func TestBuildPatternCells_MergesAcrossDSTOffsetChange(t *testing.T) {
	// 17:00 UTC in winter and 16:00 UTC in summer are both 18:00 local.
	winter := time.Date(2026, 1, 7, 17, 0, 0, 0, time.UTC)  // Wednesday
	summer := time.Date(2026, 7, 8, 16, 0, 0, 0, time.UTC)  // Wednesday
	control := time.Date(2026, 7, 8, 17, 0, 0, 0, time.UTC) // 19:00 local

	cells := buildPatternCells([]HourlyStat{
		hourlyStat("st-1", winter, 4, 4, 0.2, 5),
		hourlyStat("st-1", summer, 8, 8, 0.4, 5),
		hourlyStat("st-1", control, 1, 1, 0.1, 5),
	})

	require.Len(t, cells, 2)
	require.Equal(t, 18, cells[0].Hour)
	require.InEpsilon(t, 6.0, cells[0].BikesAvg, 1e-9)
	require.Equal(t, int64(10), cells[0].SampleCount)
	require.Equal(t, 19, cells[1].Hour)
}

func TestBuildPatternCells_SkipsEmptyBuckets(t *testing.T) {
	b := time.Date(2026, 1, 7, 8, 0, 0, 0, time.UTC)
	cells := buildPatternCells([]HourlyStat{
		hourlyStat("st-1", b, 10, 2, 0.5, 0),
	})
	require.Empty(t, cells)
}

func TestBuildHeatmapCells_KeyedByLocalDayOfWeek(t *testing.T) {
	// Saturday 23:30 local crosses into Sunday in UTC terms only after
	// midnight local; 2026-01-10 22:00 UTC is Saturday 23:00 local.
	sat := time.Date(2026, 1, 10, 22, 0, 0, 0, time.UTC)
	sun := time.Date(2026, 1, 10, 23, 0, 0, 0, time.UTC) // Sunday 00:00 local

	cells := buildHeatmapCells([]HourlyStat{
		hourlyStat("st-2", sat, 6, 6, 0.3, 2),
		hourlyStat("st-2", sun, 9, 9, 0.45, 2),
	})

	require.Len(t, cells, 2)
	require.Equal(t, 0, cells[0].DayOfWeek, "Sunday sorts first")
	require.Equal(t, 0, cells[0].Hour)
	require.Equal(t, 6, cells[1].DayOfWeek)
	require.Equal(t, 23, cells[1].Hour)
}

func TestBuildAlerts_ThresholdsAndSeverity(t *testing.T) {
	now := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	b := now.Add(-time.Hour)
	th := DefaultThresholds()

	alerts := buildAlerts([]HourlyStat{
		hourlyStat("st-critical", b, 1.4, 10, 0.1, 4), // below critical bikes
		hourlyStat("st-low", b, 4.2, 10, 0.2, 4),      // low but not critical
		hourlyStat("st-ok", b, 9.0, 10, 0.5, 4),
		hourlyStat("st-docks", b, 9.0, 1.5, 0.9, 4), // critical anchors
	}, th, 3, now)

	require.Len(t, alerts, 3)

	require.Equal(t, "st-critical", alerts[0].StationID)
	require.Equal(t, AlertLowBikes, alerts[0].Type)
	require.Equal(t, 2, alerts[0].Severity)
	require.InEpsilon(t, 1.4, alerts[0].MetricValue, 1e-9)
	require.Equal(t, 3, alerts[0].WindowHours)
	require.Equal(t, now, alerts[0].GeneratedAt)
	require.True(t, alerts[0].IsActive)

	require.Equal(t, "st-docks", alerts[1].StationID)
	require.Equal(t, AlertLowAnchors, alerts[1].Type)
	require.Equal(t, 2, alerts[1].Severity)

	require.Equal(t, "st-low", alerts[2].StationID)
	require.Equal(t, 1, alerts[2].Severity)
}

func TestBuildAlerts_BoundaryValueDoesNotFire(t *testing.T) {
	now := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	b := now.Add(-time.Hour)
	th := DefaultThresholds()

	// Exactly at the threshold is not below it.
	alerts := buildAlerts([]HourlyStat{
		hourlyStat("st-edge", b, th.LowBikes, th.LowAnchors, 0.4, 4),
	}, th, 3, now)
	require.Empty(t, alerts)
}

func TestBuildAlerts_StationCanRaiseBothTypes(t *testing.T) {
	now := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	b := now.Add(-time.Hour)

	alerts := buildAlerts([]HourlyStat{
		hourlyStat("st-tiny", b, 1.0, 1.0, 0.5, 2),
	}, DefaultThresholds(), 3, now)

	require.Len(t, alerts, 2)
	require.Equal(t, AlertLowBikes, alerts[0].Type)
	require.Equal(t, AlertLowAnchors, alerts[1].Type)
	require.Equal(t, 2, alerts[0].Severity)
	require.Equal(t, 2, alerts[1].Severity)
}
