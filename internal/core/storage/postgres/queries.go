package postgres

// SQL for the analytics store. Kept as consts so adapter tests can assert the
// exact statements with sqlmock.

const (
	queryGetWatermark = `SELECT last_processed FROM analytics_watermarks WHERE name = $1`

	queryInitWatermark = `
		INSERT INTO analytics_watermarks (name, last_processed, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO NOTHING
	`

	querySetWatermark = `
		INSERT INTO analytics_watermarks (name, last_processed, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET
			last_processed = EXCLUDED.last_processed,
			updated_at     = EXCLUDED.updated_at
	`

	// queryAcquireLock takes the lock iff no currently-valid holder exists.
	// The row persists across releases; release just expires it, so the
	// conditional upsert sees either an absent row or an expired lease.
	queryAcquireLock = `
		INSERT INTO job_locks (name, locked_at, held_until, holder_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET
			locked_at  = EXCLUDED.locked_at,
			held_until = EXCLUDED.held_until,
			holder_id  = EXCLUDED.holder_id
		WHERE job_locks.held_until IS NULL OR job_locks.held_until <= $2
	`

	queryRefreshLock = `
		UPDATE job_locks
		SET locked_at = $2, held_until = $3
		WHERE name = $1 AND holder_id = $4
	`

	queryReleaseLock = `
		UPDATE job_locks
		SET held_until = to_timestamp(0), holder_id = NULL
		WHERE name = $1 AND holder_id = $2
	`

	queryCountSamplesInRange = `
		SELECT COUNT(*) FROM station_status
		WHERE recorded_at > $1 AND recorded_at <= $2
	`

	queryMaxSampleInRange = `
		SELECT MAX(recorded_at) FROM station_status
		WHERE recorded_at > $1 AND recorded_at <= $2
	`

	// queryUpsertHourlyRollup closes complete UTC hours in one set-based
	// statement. Conflicts overwrite every aggregate field: a re-run of the
	// same hour is a full recompute, not a merge. Stations with capacity <= 0
	// drop out of the occupancy average via the NULL branch of the CASE.
	queryUpsertHourlyRollup = `
		WITH rollup AS (
			SELECT
				ss.station_id,
				date_trunc('hour', ss.recorded_at) AS bucket_start,
				MIN(ss.bikes_available) AS bikes_min,
				MAX(ss.bikes_available) AS bikes_max,
				AVG(ss.bikes_available::double precision) AS bikes_avg,
				MIN(ss.anchors_free) AS anchors_min,
				MAX(ss.anchors_free) AS anchors_max,
				AVG(ss.anchors_free::double precision) AS anchors_avg,
				COALESCE(AVG(
					CASE WHEN st.capacity > 0
						THEN ss.bikes_available::double precision / st.capacity
					END
				), 0) AS occupancy_avg,
				COUNT(*) AS sample_count
			FROM station_status ss
			JOIN stations st ON st.id = ss.station_id
			WHERE ss.recorded_at > $1 AND ss.recorded_at <= $2
			GROUP BY ss.station_id, date_trunc('hour', ss.recorded_at)
		)
		INSERT INTO hourly_station_stats (
			station_id, bucket_start,
			bikes_min, bikes_max, bikes_avg,
			anchors_min, anchors_max, anchors_avg,
			occupancy_avg, sample_count, updated_at
		)
		SELECT
			station_id, bucket_start,
			bikes_min, bikes_max, bikes_avg,
			anchors_min, anchors_max, anchors_avg,
			occupancy_avg, sample_count, $3
		FROM rollup
		ON CONFLICT (station_id, bucket_start) DO UPDATE SET
			bikes_min     = EXCLUDED.bikes_min,
			bikes_max     = EXCLUDED.bikes_max,
			bikes_avg     = EXCLUDED.bikes_avg,
			anchors_min   = EXCLUDED.anchors_min,
			anchors_max   = EXCLUDED.anchors_max,
			anchors_avg   = EXCLUDED.anchors_avg,
			occupancy_avg = EXCLUDED.occupancy_avg,
			sample_count  = EXCLUDED.sample_count,
			updated_at    = EXCLUDED.updated_at
	`

	queryUpsertDailyRollup = `
		WITH rollup AS (
			SELECT
				ss.station_id,
				date_trunc('day', ss.recorded_at) AS bucket_start,
				MIN(ss.bikes_available) AS bikes_min,
				MAX(ss.bikes_available) AS bikes_max,
				AVG(ss.bikes_available::double precision) AS bikes_avg,
				MIN(ss.anchors_free) AS anchors_min,
				MAX(ss.anchors_free) AS anchors_max,
				AVG(ss.anchors_free::double precision) AS anchors_avg,
				COALESCE(AVG(
					CASE WHEN st.capacity > 0
						THEN ss.bikes_available::double precision / st.capacity
					END
				), 0) AS occupancy_avg,
				COUNT(*) AS sample_count
			FROM station_status ss
			JOIN stations st ON st.id = ss.station_id
			WHERE ss.recorded_at > $1 AND ss.recorded_at <= $2
			GROUP BY ss.station_id, date_trunc('day', ss.recorded_at)
		)
		INSERT INTO daily_station_stats (
			station_id, bucket_start,
			bikes_min, bikes_max, bikes_avg,
			anchors_min, anchors_max, anchors_avg,
			occupancy_avg, sample_count, updated_at
		)
		SELECT
			station_id, bucket_start,
			bikes_min, bikes_max, bikes_avg,
			anchors_min, anchors_max, anchors_avg,
			occupancy_avg, sample_count, $3
		FROM rollup
		ON CONFLICT (station_id, bucket_start) DO UPDATE SET
			bikes_min     = EXCLUDED.bikes_min,
			bikes_max     = EXCLUDED.bikes_max,
			bikes_avg     = EXCLUDED.bikes_avg,
			anchors_min   = EXCLUDED.anchors_min,
			anchors_max   = EXCLUDED.anchors_max,
			anchors_avg   = EXCLUDED.anchors_avg,
			occupancy_avg = EXCLUDED.occupancy_avg,
			sample_count  = EXCLUDED.sample_count,
			updated_at    = EXCLUDED.updated_at
	`

	queryCountHourlyInRange = `
		SELECT COUNT(*) FROM hourly_station_stats
		WHERE bucket_start > $1 AND bucket_start <= $2
	`

	// queryUpsertRankingRollup re-aggregates the whole trailing window from
	// scratch: (max-min) turnover as a churn proxy, plus empty-like and
	// full-like hour counts.
	queryUpsertRankingRollup = `
		WITH rollup AS (
			SELECT
				station_id,
				SUM((bikes_max - bikes_min) + (anchors_max - anchors_min))::double precision AS turnover_score,
				SUM(CASE WHEN bikes_avg <= 1 THEN 1 ELSE 0 END) AS empty_hours,
				SUM(CASE WHEN anchors_avg <= 1 THEN 1 ELSE 0 END) AS full_hours,
				COUNT(*) AS total_hours
			FROM hourly_station_stats
			WHERE bucket_start > $1 AND bucket_start <= $2
			GROUP BY station_id
		)
		INSERT INTO station_rankings (
			station_id, turnover_score, empty_hours, full_hours, total_hours,
			window_start, window_end, updated_at
		)
		SELECT
			station_id, turnover_score, empty_hours, full_hours, total_hours,
			$1, $2, $3
		FROM rollup
		ON CONFLICT (station_id, window_start, window_end) DO UPDATE SET
			turnover_score = EXCLUDED.turnover_score,
			empty_hours    = EXCLUDED.empty_hours,
			full_hours     = EXCLUDED.full_hours,
			total_hours    = EXCLUDED.total_hours,
			updated_at     = EXCLUDED.updated_at
	`

	queryListHourlyInRange = `
		SELECT
			station_id, bucket_start,
			bikes_min, bikes_max, bikes_avg,
			anchors_min, anchors_max, anchors_avg,
			occupancy_avg, sample_count
		FROM hourly_station_stats
		WHERE bucket_start > $1 AND bucket_start <= $2
		ORDER BY bucket_start ASC, station_id ASC
	`

	queryUpsertPatternCell = `
		INSERT INTO station_patterns (
			station_id, day_type, hour,
			bikes_avg, anchors_avg, occupancy_avg, sample_count
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (station_id, day_type, hour) DO UPDATE SET
			bikes_avg     = EXCLUDED.bikes_avg,
			anchors_avg   = EXCLUDED.anchors_avg,
			occupancy_avg = EXCLUDED.occupancy_avg,
			sample_count  = EXCLUDED.sample_count
	`

	queryUpsertHeatmapCell = `
		INSERT INTO station_heatmap_cells (
			station_id, day_of_week, hour,
			bikes_avg, anchors_avg, occupancy_avg, sample_count
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (station_id, day_of_week, hour) DO UPDATE SET
			bikes_avg     = EXCLUDED.bikes_avg,
			anchors_avg   = EXCLUDED.anchors_avg,
			occupancy_avg = EXCLUDED.occupancy_avg,
			sample_count  = EXCLUDED.sample_count
	`

	queryDeactivateAlerts = `UPDATE station_alerts SET is_active = FALSE WHERE is_active = TRUE`

	queryUpsertAlert = `
		INSERT INTO station_alerts (
			station_id, alert_type, severity, metric_value,
			window_hours, generated_at, is_active
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (station_id, alert_type, window_hours, generated_at) DO UPDATE SET
			severity     = EXCLUDED.severity,
			metric_value = EXCLUDED.metric_value,
			is_active    = EXCLUDED.is_active
	`

	queryDeleteSamplesBefore = `DELETE FROM station_status WHERE recorded_at < $1`
	queryDeleteHourlyBefore  = `DELETE FROM hourly_station_stats WHERE bucket_start < $1`
	queryDeleteAlertsBefore  = `DELETE FROM station_alerts WHERE generated_at < $1`

	queryLatestRankingWindowEnd = `SELECT MAX(window_end) FROM station_rankings`

	queryRankingsByTurnover = `
		SELECT station_id, turnover_score, empty_hours, full_hours, total_hours, window_start, window_end
		FROM station_rankings
		WHERE window_end = $1
		ORDER BY turnover_score DESC
		LIMIT $2
	`

	queryRankingsByAvailability = `
		SELECT station_id, turnover_score, empty_hours, full_hours, total_hours, window_start, window_end
		FROM station_rankings
		WHERE window_end = $1
		ORDER BY (empty_hours + full_hours) DESC
		LIMIT $2
	`

	queryPatternsByStation = `
		SELECT station_id, day_type, hour, bikes_avg, anchors_avg, occupancy_avg, sample_count
		FROM station_patterns
		WHERE station_id = $1
		ORDER BY day_type ASC, hour ASC
	`

	queryHeatmapByStation = `
		SELECT station_id, day_of_week, hour, bikes_avg, anchors_avg, occupancy_avg, sample_count
		FROM station_heatmap_cells
		WHERE station_id = $1
		ORDER BY day_of_week ASC, hour ASC
	`

	queryActiveAlerts = `
		SELECT id, station_id, alert_type, severity, metric_value, window_hours, generated_at, is_active
		FROM station_alerts
		WHERE is_active = TRUE
		ORDER BY generated_at DESC, id DESC
		LIMIT $1
	`

	queryUpsertStation = `
		INSERT INTO stations (id, name, lat, lon, capacity, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name       = EXCLUDED.name,
			lat        = EXCLUDED.lat,
			lon        = EXCLUDED.lon,
			capacity   = EXCLUDED.capacity,
			updated_at = EXCLUDED.updated_at
	`

	// queryInsertSample rejects duplicate (station, instant) pairs silently;
	// the feed republishes unchanged snapshots between refreshes.
	queryInsertSample = `
		INSERT INTO station_status (station_id, bikes_available, anchors_free, recorded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (station_id, recorded_at) DO NOTHING
	`
)
