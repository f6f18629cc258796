package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bizi-lab/stationpulse/internal/analytics"
)

// SampleStore is the persistence the collector needs.
type SampleStore interface {
	UpsertStations(ctx context.Context, stations []Station) error
	InsertSamples(ctx context.Context, samples []Sample) (int64, error)
}

// Service polls the feed on an interval and persists snapshots.
type Service struct {
	client   *Client
	store    SampleStore
	interval time.Duration
	state    *analytics.JobState
}

// NewService wires the collector.
func NewService(client *Client, store SampleStore, interval time.Duration) *Service {
	return &Service{
		client:   client,
		store:    store,
		interval: interval,
		state:    analytics.NewJobState("collector"),
	}
}

// State exposes the collector's run tracking for the status endpoint.
func (s *Service) State() *analytics.JobState {
	return s.state
}

// CollectOnce fetches one snapshot and persists it. Exposed for the manual
// trigger endpoint as well as the scheduler.
func (s *Service) CollectOnce(ctx context.Context) (stations int, inserted int64, err error) {
	started := time.Now().UTC()
	s.state.RecordStart(started)

	snap, err := s.client.Fetch(ctx)
	if err != nil {
		s.state.RecordFailure(time.Now().UTC(), err)
		return 0, 0, fmt.Errorf("collector: fetch snapshot: %w", err)
	}

	if err := s.store.UpsertStations(ctx, snap.Stations); err != nil {
		s.state.RecordFailure(time.Now().UTC(), err)
		return 0, 0, fmt.Errorf("collector: persist stations: %w", err)
	}

	inserted, err = s.store.InsertSamples(ctx, snap.Samples)
	if err != nil {
		s.state.RecordFailure(time.Now().UTC(), err)
		return 0, 0, fmt.Errorf("collector: persist samples: %w", err)
	}

	finished := time.Now().UTC()
	s.state.RecordSuccess(finished)
	slog.Info("[Collector] Snapshot persisted",
		"stations", len(snap.Stations),
		"samples", len(snap.Samples),
		"inserted", inserted,
		"duration", finished.Sub(started),
	)
	return len(snap.Stations), inserted, nil
}

// Start polls until the context is cancelled, beginning with an immediate
// collection so a fresh deployment has data right away.
func (s *Service) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("[Collector] Starting feed collector", "interval", s.interval)

	s.collect(ctx)

	for {
		select {
		case <-ticker.C:
			s.collect(ctx)
		case <-ctx.Done():
			slog.Info("[Collector] Stopping (context cancelled)")
			return nil
		}
	}
}

func (s *Service) collect(ctx context.Context) {
	if _, _, err := s.CollectOnce(ctx); err != nil {
		slog.Error("[Collector] Collection failed", "error", err)
	}
}
