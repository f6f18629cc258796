package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bizi-lab/stationpulse/internal/analytics"
)

// ReadAdapter serves the query side of the API: rankings, patterns, heatmaps
// and active alerts.
type ReadAdapter struct {
	db *sql.DB
}

// NewReadAdapter creates a read store sharing the given connection.
func NewReadAdapter(db *sql.DB) *ReadAdapter {
	return &ReadAdapter{db: db}
}

// LatestRankings returns the most recent ranking window ordered by the given
// sort: "turnover" by churn score, "availability" by problem-hour count.
// Returns an empty slice when no ranking window has been produced yet.
func (a *ReadAdapter) LatestRankings(ctx context.Context, sort string, limit int) ([]analytics.RankingEntry, error) {
	var windowEnd sql.NullTime
	if err := a.db.QueryRowContext(ctx, queryLatestRankingWindowEnd).Scan(&windowEnd); err != nil {
		return nil, fmt.Errorf("latest rankings: find window: %w", err)
	}
	if !windowEnd.Valid {
		return []analytics.RankingEntry{}, nil
	}

	query := queryRankingsByTurnover
	if sort == "availability" {
		query = queryRankingsByAvailability
	}

	rows, err := a.db.QueryContext(ctx, query, windowEnd.Time, limit)
	if err != nil {
		return nil, fmt.Errorf("latest rankings: %w", err)
	}
	defer rows.Close()

	entries := []analytics.RankingEntry{}
	for rows.Next() {
		var e analytics.RankingEntry
		if err := rows.Scan(
			&e.StationID, &e.TurnoverScore,
			&e.EmptyHours, &e.FullHours, &e.TotalHours,
			&e.WindowStart, &e.WindowEnd,
		); err != nil {
			return nil, fmt.Errorf("latest rankings: scan row: %w", err)
		}
		e.WindowStart = e.WindowStart.UTC()
		e.WindowEnd = e.WindowEnd.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("latest rankings: iterate rows: %w", err)
	}
	return entries, nil
}

// PatternsByStation returns a station's weekday/weekend hourly profile.
func (a *ReadAdapter) PatternsByStation(ctx context.Context, stationID string) ([]analytics.PatternCell, error) {
	rows, err := a.db.QueryContext(ctx, queryPatternsByStation, stationID)
	if err != nil {
		return nil, fmt.Errorf("patterns by station: %w", err)
	}
	defer rows.Close()

	cells := []analytics.PatternCell{}
	for rows.Next() {
		var c analytics.PatternCell
		if err := rows.Scan(
			&c.StationID, &c.DayType, &c.Hour,
			&c.BikesAvg, &c.AnchorsAvg, &c.OccupancyAvg, &c.SampleCount,
		); err != nil {
			return nil, fmt.Errorf("patterns by station: scan row: %w", err)
		}
		cells = append(cells, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("patterns by station: iterate rows: %w", err)
	}
	return cells, nil
}

// HeatmapByStation returns a station's hour-of-week occupancy grid.
func (a *ReadAdapter) HeatmapByStation(ctx context.Context, stationID string) ([]analytics.HeatmapCell, error) {
	rows, err := a.db.QueryContext(ctx, queryHeatmapByStation, stationID)
	if err != nil {
		return nil, fmt.Errorf("heatmap by station: %w", err)
	}
	defer rows.Close()

	cells := []analytics.HeatmapCell{}
	for rows.Next() {
		var c analytics.HeatmapCell
		if err := rows.Scan(
			&c.StationID, &c.DayOfWeek, &c.Hour,
			&c.BikesAvg, &c.AnchorsAvg, &c.OccupancyAvg, &c.SampleCount,
		); err != nil {
			return nil, fmt.Errorf("heatmap by station: scan row: %w", err)
		}
		cells = append(cells, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("heatmap by station: iterate rows: %w", err)
	}
	return cells, nil
}

// ActiveAlerts returns currently-active alerts, newest first.
func (a *ReadAdapter) ActiveAlerts(ctx context.Context, limit int) ([]analytics.Alert, error) {
	rows, err := a.db.QueryContext(ctx, queryActiveAlerts, limit)
	if err != nil {
		return nil, fmt.Errorf("active alerts: %w", err)
	}
	defer rows.Close()

	alerts := []analytics.Alert{}
	for rows.Next() {
		var al analytics.Alert
		if err := rows.Scan(
			&al.ID, &al.StationID, &al.Type, &al.Severity,
			&al.MetricValue, &al.WindowHours, &al.GeneratedAt, &al.IsActive,
		); err != nil {
			return nil, fmt.Errorf("active alerts: scan row: %w", err)
		}
		al.GeneratedAt = al.GeneratedAt.UTC()
		alerts = append(alerts, al)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("active alerts: iterate rows: %w", err)
	}
	return alerts, nil
}
