package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bizi-lab/stationpulse/internal/core/storage"
)

type fakeLock struct {
	refreshes   int
	released    bool
	failRefresh bool
}

func (l *fakeLock) Refresh(ctx context.Context) error {
	l.refreshes++
	if l.failRefresh {
		return storage.ErrLockLost
	}
	return nil
}

func (l *fakeLock) Release(ctx context.Context) error {
	l.released = true
	return nil
}

func (l *fakeLock) HolderID() string     { return "test-holder" }
func (l *fakeLock) ExpiresAt() time.Time { return time.Now().Add(time.Hour) }

type fakeLocker struct {
	lock       *fakeLock
	contended  bool
	acquireErr error
}

func (f *fakeLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (storage.LockHandle, bool, error) {
	if f.acquireErr != nil {
		return nil, false, f.acquireErr
	}
	if f.contended {
		return nil, false, nil
	}
	return f.lock, true, nil
}

type fakeWatermarks struct {
	marks map[string]time.Time
}

func newFakeWatermarks() *fakeWatermarks {
	return &fakeWatermarks{marks: make(map[string]time.Time)}
}

func (f *fakeWatermarks) Get(ctx context.Context, name string, def time.Time) (time.Time, error) {
	if t, ok := f.marks[name]; ok {
		return t, nil
	}
	f.marks[name] = def
	return def, nil
}

func (f *fakeWatermarks) Set(ctx context.Context, name string, t time.Time) error {
	f.marks[name] = t
	return nil
}

// fakeStore mimics the postgres adapters, including their contract of
// advancing the stage watermark together with the rows.
type fakeStore struct {
	watermarks *fakeWatermarks

	hourlyResult RollupResult
	hourlyErr    error
	hourlyCalls  int

	dailyCalls int

	rankingUpserted int64
	rankingWindows  [][2]time.Time

	hourlyStats  []HourlyStat
	listWindows  [][2]time.Time
	patternCells []PatternCell
	heatmapCells []HeatmapCell

	deactivated    int
	insertedAlerts []Alert
	deleteCutoffs  []time.Time
	vacuumCalls    int
	callOrder      []string
}

func (f *fakeStore) RunHourlyRollup(ctx context.Context, watermark, cutoff time.Time) (RollupResult, error) {
	f.hourlyCalls++
	f.callOrder = append(f.callOrder, "hourly")
	if f.hourlyErr != nil {
		return RollupResult{}, f.hourlyErr
	}
	if f.hourlyResult.ProcessedCount > 0 {
		f.watermarks.marks[WatermarkHourly] = f.hourlyResult.Watermark
	}
	return f.hourlyResult, nil
}

func (f *fakeStore) RunDailyRollup(ctx context.Context, watermark, cutoff time.Time) (RollupResult, error) {
	f.dailyCalls++
	f.callOrder = append(f.callOrder, "daily")
	return RollupResult{Watermark: watermark, Cutoff: cutoff}, nil
}

func (f *fakeStore) RunRankingRollup(ctx context.Context, watermark, windowStart, windowEnd time.Time) (RollupResult, error) {
	f.rankingWindows = append(f.rankingWindows, [2]time.Time{windowStart, windowEnd})
	f.callOrder = append(f.callOrder, "ranking")
	if f.rankingUpserted > 0 {
		f.watermarks.marks[WatermarkRanking] = windowEnd
		return RollupResult{UpsertedCount: f.rankingUpserted, Watermark: windowEnd}, nil
	}
	return RollupResult{Watermark: watermark}, nil
}

func (f *fakeStore) ListHourlyStats(ctx context.Context, windowStart, windowEnd time.Time) ([]HourlyStat, error) {
	f.listWindows = append(f.listWindows, [2]time.Time{windowStart, windowEnd})
	return f.hourlyStats, nil
}

func (f *fakeStore) UpsertPatternCells(ctx context.Context, cells []PatternCell, windowEnd time.Time) error {
	f.patternCells = cells
	f.callOrder = append(f.callOrder, "patterns")
	f.watermarks.marks[WatermarkPattern] = windowEnd
	return nil
}

func (f *fakeStore) UpsertHeatmapCells(ctx context.Context, cells []HeatmapCell, windowEnd time.Time) error {
	f.heatmapCells = cells
	f.callOrder = append(f.callOrder, "heatmap")
	f.watermarks.marks[WatermarkHeatmap] = windowEnd
	return nil
}

func (f *fakeStore) DeactivateActiveAlerts(ctx context.Context) (int64, error) {
	f.deactivated++
	f.callOrder = append(f.callOrder, "deactivate")
	return 2, nil
}

func (f *fakeStore) InsertAlerts(ctx context.Context, alerts []Alert, windowEnd time.Time) error {
	f.insertedAlerts = alerts
	f.callOrder = append(f.callOrder, "alerts")
	f.watermarks.marks[WatermarkAlert] = windowEnd
	return nil
}

func (f *fakeStore) DeleteSamplesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.deleteCutoffs = append(f.deleteCutoffs, cutoff)
	f.callOrder = append(f.callOrder, "retention")
	return 0, nil
}

func (f *fakeStore) DeleteHourlyBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.deleteCutoffs = append(f.deleteCutoffs, cutoff)
	return 0, nil
}

func (f *fakeStore) DeleteAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.deleteCutoffs = append(f.deleteCutoffs, cutoff)
	return 0, nil
}

func (f *fakeStore) Vacuum(ctx context.Context) error {
	f.vacuumCalls++
	f.callOrder = append(f.callOrder, "vacuum")
	return nil
}

func newTestPipeline(t *testing.T, now time.Time) (*Pipeline, *fakeLocker, *fakeWatermarks, *fakeStore) {
	t.Helper()
	locker := &fakeLocker{lock: &fakeLock{}}
	marks := newFakeWatermarks()
	store := &fakeStore{watermarks: marks}
	p := NewPipeline(locker, marks, store, DefaultConfig())
	p.now = func() time.Time { return now }
	return p, locker, marks, store
}

func TestPipeline_CutoffHelpers(t *testing.T) {
	p, _, _, _ := newTestPipeline(t, time.Time{})

	now := time.Date(2026, 3, 1, 14, 5, 0, 0, time.UTC)
	require.Equal(t,
		time.Date(2026, 3, 1, 12, 59, 59, 999000000, time.UTC),
		p.HourlyCutoff(now),
		"14:05 minus 10m delay closes the 12:00 hour at 12:59:59.999")

	require.Equal(t,
		time.Date(2026, 2, 27, 23, 59, 59, 999000000, time.UTC),
		p.DailyCutoff(time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)),
		"01:00 minus 90m delay is still the previous day")
}

func TestPipeline_BusyLockSkipsTick(t *testing.T) {
	now := time.Date(2026, 3, 1, 14, 5, 0, 0, time.UTC)
	p, locker, _, store := newTestPipeline(t, now)
	locker.contended = true

	err := p.Run(context.Background())
	require.ErrorIs(t, err, ErrPipelineBusy)
	require.Zero(t, store.hourlyCalls)
}

func TestPipeline_FullTickRunsAllStages(t *testing.T) {
	now := time.Date(2026, 3, 1, 14, 5, 0, 0, time.UTC)
	p, locker, marks, store := newTestPipeline(t, now)

	windowEnd := p.HourlyCutoff(now)
	store.hourlyResult = RollupResult{
		ProcessedCount: 120,
		UpsertedCount:  10,
		Watermark:      windowEnd.Add(-3 * time.Minute),
	}
	store.rankingUpserted = 5
	store.hourlyStats = []HourlyStat{
		hourlyStat("st-1", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), 1.0, 1.0, 0.05, 6),
	}

	require.NoError(t, p.Run(context.Background()))

	require.Equal(t, 1, store.hourlyCalls)
	require.Len(t, store.rankingWindows, 1)
	require.Equal(t, windowEnd, store.rankingWindows[0][1])
	require.Equal(t, windowEnd.AddDate(0, 0, -14), store.rankingWindows[0][0])

	require.NotEmpty(t, store.patternCells)
	require.NotEmpty(t, store.heatmapCells)
	require.Equal(t, 1, store.deactivated)
	require.NotEmpty(t, store.insertedAlerts, "station below both thresholds must alert")

	// Alert window is hours, not days.
	alertWindow := store.listWindows[len(store.listWindows)-1]
	require.Equal(t, windowEnd.Add(-3*time.Hour), alertWindow[0])

	require.Equal(t, 1, store.dailyCalls)
	require.Len(t, store.deleteCutoffs, 3)
	require.Equal(t, 1, store.vacuumCalls, "vacuum fires on first tick with epoch watermark")
	require.Equal(t, now, marks.marks[WatermarkVacuum])

	require.True(t, locker.lock.released)
	require.GreaterOrEqual(t, locker.lock.refreshes, 5)

	// Deactivation precedes alert insertion.
	deactIdx, alertIdx := -1, -1
	for i, call := range store.callOrder {
		switch call {
		case "deactivate":
			deactIdx = i
		case "alerts":
			alertIdx = i
		}
	}
	require.GreaterOrEqual(t, deactIdx, 0)
	require.Greater(t, alertIdx, deactIdx)

	require.Equal(t, HealthHealthy, p.State().Snapshot().Health)
}

func TestPipeline_NoNewSamplesSkipsDerivedTier(t *testing.T) {
	now := time.Date(2026, 3, 1, 14, 5, 0, 0, time.UTC)
	p, locker, _, store := newTestPipeline(t, now)

	store.hourlyResult = RollupResult{ProcessedCount: 0}

	require.NoError(t, p.Run(context.Background()))

	require.Equal(t, 1, store.hourlyCalls)
	require.Empty(t, store.rankingWindows)
	require.Empty(t, store.listWindows)
	require.Zero(t, store.deactivated)
	require.Equal(t, 1, store.dailyCalls, "first-tier daily still runs")
	require.True(t, locker.lock.released)
}

func TestPipeline_DerivedTierSkipsProcessedWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 14, 5, 0, 0, time.UTC)
	p, _, marks, store := newTestPipeline(t, now)

	windowEnd := p.HourlyCutoff(now)
	store.hourlyResult = RollupResult{ProcessedCount: 30, Watermark: windowEnd}

	// A previous tick already covered this window end.
	marks.marks[WatermarkRanking] = windowEnd
	marks.marks[WatermarkPattern] = windowEnd
	marks.marks[WatermarkHeatmap] = windowEnd
	marks.marks[WatermarkAlert] = windowEnd

	require.NoError(t, p.Run(context.Background()))

	require.Empty(t, store.rankingWindows)
	require.Empty(t, store.listWindows)

	// The stale-alert sweep still runs with the derived tier even though
	// the alert window was already covered; no fresh alerts are raised.
	require.Equal(t, 1, store.deactivated)
	require.Empty(t, store.insertedAlerts)
}

func TestPipeline_ClosedDailyGateSkipsRetentionAndVacuum(t *testing.T) {
	now := time.Date(2026, 3, 1, 14, 5, 0, 0, time.UTC)
	p, locker, marks, store := newTestPipeline(t, now)
	store.hourlyResult = RollupResult{ProcessedCount: 0}

	// This civil day was already rolled up, so the whole daily tier waits.
	marks.marks[WatermarkDaily] = p.DailyCutoff(now)

	require.NoError(t, p.Run(context.Background()))

	require.Equal(t, 1, store.hourlyCalls)
	require.Zero(t, store.dailyCalls)
	require.Empty(t, store.deleteCutoffs, "retention deletes run only behind the daily gate")
	require.Zero(t, store.vacuumCalls)
	require.True(t, locker.lock.released)
}

func TestPipeline_RefreshFailureAbortsTick(t *testing.T) {
	now := time.Date(2026, 3, 1, 14, 5, 0, 0, time.UTC)
	p, locker, _, store := newTestPipeline(t, now)
	locker.lock.failRefresh = true
	store.hourlyResult = RollupResult{ProcessedCount: 10, Watermark: p.HourlyCutoff(now)}

	err := p.Run(context.Background())
	require.ErrorIs(t, err, storage.ErrLockLost)
	require.Equal(t, 1, store.hourlyCalls)
	require.Empty(t, store.rankingWindows, "no stage may run after a failed refresh")
	require.Zero(t, store.dailyCalls)
	require.True(t, locker.lock.released, "release is unconditional")
	require.Equal(t, 1, p.State().Snapshot().ConsecutiveFailures)
}

func TestPipeline_StageErrorRecordsFailure(t *testing.T) {
	now := time.Date(2026, 3, 1, 14, 5, 0, 0, time.UTC)
	p, locker, _, store := newTestPipeline(t, now)
	store.hourlyErr = errors.New("deadlock detected")

	err := p.Run(context.Background())
	require.Error(t, err)
	require.ErrorContains(t, err, "hourly stage")
	require.True(t, locker.lock.released)

	snap := p.State().Snapshot()
	require.Equal(t, 1, snap.ConsecutiveFailures)
	require.Contains(t, snap.LastError, "deadlock detected")
}

func TestPipeline_VacuumWaitsForInterval(t *testing.T) {
	now := time.Date(2026, 3, 1, 14, 5, 0, 0, time.UTC)
	p, _, marks, store := newTestPipeline(t, now)
	store.hourlyResult = RollupResult{ProcessedCount: 0}

	// Vacuumed three days ago: the seven-day interval has not elapsed.
	marks.marks[WatermarkVacuum] = now.AddDate(0, 0, -3)

	require.NoError(t, p.Run(context.Background()))
	require.Zero(t, store.vacuumCalls)
	require.Equal(t, now.AddDate(0, 0, -3), marks.marks[WatermarkVacuum])
}
