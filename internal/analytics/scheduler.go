package analytics

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Scheduler drives the pipeline on a fixed interval. It is stateless across
// ticks: watermarks in the database decide what each tick actually does, so
// overlapping deployments and restarts need no coordination beyond the lock.
type Scheduler struct {
	interval time.Duration
	pipeline *Pipeline
}

// NewScheduler creates a periodic driver for the pipeline.
func NewScheduler(interval time.Duration, pipeline *Pipeline) *Scheduler {
	return &Scheduler{interval: interval, pipeline: pipeline}
}

// Start runs ticks until the context is cancelled. An initial tick fires
// immediately to catch up after downtime.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("[Scheduler] Starting analytics scheduler", "interval", s.interval)

	s.tick(ctx)

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			slog.Info("[Scheduler] Stopping (context cancelled)")
			return nil
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if err := s.pipeline.Run(ctx); err != nil {
		if errors.Is(err, ErrPipelineBusy) {
			return
		}
		slog.Error("[Scheduler] Pipeline tick failed", "error", err)
	}
}
