package analytics

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bizi-lab/stationpulse/internal/core/localtime"
)

// weightedAccumulator merges per-hour averages weighted by their sample
// counts. Sums are kept in decimal so long windows do not drift the way
// repeated float addition does.
type weightedAccumulator struct {
	bikesSum   decimal.Decimal
	anchorsSum decimal.Decimal
	occSum     decimal.Decimal
	samples    int64
}

func (w *weightedAccumulator) add(s HourlyStat) {
	weight := decimal.NewFromInt(s.SampleCount)
	w.bikesSum = w.bikesSum.Add(decimal.NewFromFloat(s.BikesAvg).Mul(weight))
	w.anchorsSum = w.anchorsSum.Add(decimal.NewFromFloat(s.AnchorsAvg).Mul(weight))
	w.occSum = w.occSum.Add(decimal.NewFromFloat(s.OccupancyAvg).Mul(weight))
	w.samples += s.SampleCount
}

func (w *weightedAccumulator) averages() (bikes, anchors, occupancy float64) {
	if w.samples == 0 {
		return 0, 0, 0
	}
	n := decimal.NewFromInt(w.samples)
	return w.bikesSum.Div(n).InexactFloat64(),
		w.anchorsSum.Div(n).InexactFloat64(),
		w.occSum.Div(n).InexactFloat64()
}

type patternKey struct {
	stationID string
	dayType   localtime.DayType
	hour      int
}

// buildPatternCells folds hourly buckets into (station, dayType, localHour)
// averages. Bucket starts are UTC instants; the local hour and day class come
// from the civil-time mapping, so a 18:00 CET bucket and a 18:00 CEST bucket
// land in the same cell even though their UTC hours differ.
func buildPatternCells(stats []HourlyStat) []PatternCell {
	acc := make(map[patternKey]*weightedAccumulator)
	for _, s := range stats {
		if s.SampleCount <= 0 {
			continue
		}
		b := localtime.LocalBucket(s.BucketStart)
		k := patternKey{stationID: s.StationID, dayType: b.DayType, hour: b.Hour}
		a, ok := acc[k]
		if !ok {
			a = &weightedAccumulator{}
			acc[k] = a
		}
		a.add(s)
	}

	cells := make([]PatternCell, 0, len(acc))
	for k, a := range acc {
		bikes, anchors, occ := a.averages()
		cells = append(cells, PatternCell{
			StationID:    k.stationID,
			DayType:      k.dayType,
			Hour:         k.hour,
			BikesAvg:     bikes,
			AnchorsAvg:   anchors,
			OccupancyAvg: occ,
			SampleCount:  a.samples,
		})
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].StationID != cells[j].StationID {
			return cells[i].StationID < cells[j].StationID
		}
		if cells[i].DayType != cells[j].DayType {
			return cells[i].DayType < cells[j].DayType
		}
		return cells[i].Hour < cells[j].Hour
	})
	return cells
}

type heatmapKey struct {
	stationID string
	dayOfWeek int
	hour      int
}

// buildHeatmapCells is buildPatternCells at hour-of-week granularity.
func buildHeatmapCells(stats []HourlyStat) []HeatmapCell {
	acc := make(map[heatmapKey]*weightedAccumulator)
	for _, s := range stats {
		if s.SampleCount <= 0 {
			continue
		}
		b := localtime.LocalBucket(s.BucketStart)
		k := heatmapKey{stationID: s.StationID, dayOfWeek: b.DayOfWeek, hour: b.Hour}
		a, ok := acc[k]
		if !ok {
			a = &weightedAccumulator{}
			acc[k] = a
		}
		a.add(s)
	}

	cells := make([]HeatmapCell, 0, len(acc))
	for k, a := range acc {
		bikes, anchors, occ := a.averages()
		cells = append(cells, HeatmapCell{
			StationID:    k.stationID,
			DayOfWeek:    k.dayOfWeek,
			Hour:         k.hour,
			BikesAvg:     bikes,
			AnchorsAvg:   anchors,
			OccupancyAvg: occ,
			SampleCount:  a.samples,
		})
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].StationID != cells[j].StationID {
			return cells[i].StationID < cells[j].StationID
		}
		if cells[i].DayOfWeek != cells[j].DayOfWeek {
			return cells[i].DayOfWeek < cells[j].DayOfWeek
		}
		return cells[i].Hour < cells[j].Hour
	})
	return cells
}

// buildAlerts evaluates the trailing alert window per station against the
// scarcity thresholds. Severity 2 means critically low, 1 means low.
func buildAlerts(stats []HourlyStat, th Thresholds, windowHours int, generatedAt time.Time) []Alert {
	acc := make(map[string]*weightedAccumulator)
	for _, s := range stats {
		if s.SampleCount <= 0 {
			continue
		}
		a, ok := acc[s.StationID]
		if !ok {
			a = &weightedAccumulator{}
			acc[s.StationID] = a
		}
		a.add(s)
	}

	stationIDs := make([]string, 0, len(acc))
	for id := range acc {
		stationIDs = append(stationIDs, id)
	}
	sort.Strings(stationIDs)

	var alerts []Alert
	for _, id := range stationIDs {
		bikes, anchors, _ := acc[id].averages()

		if bikes < th.LowBikes {
			severity := 1
			if bikes < th.CriticalBikes {
				severity = 2
			}
			alerts = append(alerts, Alert{
				StationID:   id,
				Type:        AlertLowBikes,
				Severity:    severity,
				MetricValue: bikes,
				WindowHours: windowHours,
				GeneratedAt: generatedAt,
				IsActive:    true,
			})
		}
		if anchors < th.LowAnchors {
			severity := 1
			if anchors < th.CriticalAnchors {
				severity = 2
			}
			alerts = append(alerts, Alert{
				StationID:   id,
				Type:        AlertLowAnchors,
				Severity:    severity,
				MetricValue: anchors,
				WindowHours: windowHours,
				GeneratedAt: generatedAt,
				IsActive:    true,
			})
		}
	}
	return alerts
}
