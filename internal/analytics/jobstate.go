package analytics

import (
	"sync"
	"time"
)

// Health classifies a job by its recent failure streak.
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	HealthDown     Health = "down"
)

const (
	degradedFailureStreak = 3
	downFailureStreak     = 5
)

// JobState tracks one periodic job's run history behind a mutex. It is owned
// by whoever constructs the job and handed to the status endpoint read-only
// via Snapshot.
type JobState struct {
	mu sync.Mutex

	name                string
	lastStartedAt       time.Time
	lastSucceededAt     time.Time
	lastFailedAt        time.Time
	lastError           string
	lastDuration        time.Duration
	runCount            int64
	successCount        int64
	consecutiveFailures int
}

// JobSnapshot is a point-in-time copy of a JobState.
type JobSnapshot struct {
	Name                string        `json:"name"`
	Health              Health        `json:"health"`
	LastStartedAt       time.Time     `json:"last_started_at"`
	LastSucceededAt     time.Time     `json:"last_succeeded_at"`
	LastFailedAt        time.Time     `json:"last_failed_at,omitzero"`
	LastError           string        `json:"last_error,omitempty"`
	LastDuration        time.Duration `json:"last_duration_ms"`
	RunCount            int64         `json:"run_count"`
	SuccessCount        int64         `json:"success_count"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
}

// NewJobState creates tracking state for the named job.
func NewJobState(name string) *JobState {
	return &JobState{name: name}
}

// RecordStart marks a run as begun.
func (j *JobState) RecordStart(at time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lastStartedAt = at.UTC()
	j.runCount++
}

// RecordSuccess marks the current run as finished cleanly.
func (j *JobState) RecordSuccess(at time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lastSucceededAt = at.UTC()
	j.lastDuration = at.Sub(j.lastStartedAt)
	j.lastError = ""
	j.successCount++
	j.consecutiveFailures = 0
}

// RecordFailure marks the current run as failed.
func (j *JobState) RecordFailure(at time.Time, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lastFailedAt = at.UTC()
	j.lastDuration = at.Sub(j.lastStartedAt)
	if err != nil {
		j.lastError = err.Error()
	}
	j.consecutiveFailures++
}

// Snapshot returns a consistent copy with the derived health class.
func (j *JobState) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	health := HealthHealthy
	switch {
	case j.consecutiveFailures >= downFailureStreak:
		health = HealthDown
	case j.consecutiveFailures >= degradedFailureStreak:
		health = HealthDegraded
	}

	return JobSnapshot{
		Name:                j.name,
		Health:              health,
		LastStartedAt:       j.lastStartedAt,
		LastSucceededAt:     j.lastSucceededAt,
		LastFailedAt:        j.lastFailedAt,
		LastError:           j.lastError,
		LastDuration:        j.lastDuration,
		RunCount:            j.runCount,
		SuccessCount:        j.successCount,
		ConsecutiveFailures: j.consecutiveFailures,
	}
}
