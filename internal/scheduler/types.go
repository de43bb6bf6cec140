// Package scheduler runs Hayden's periodic jobs: the once-a-minute
// reminder poll and the daily article digest. Jobs are registered by
// name on a robfig/cron schedule and can also be triggered by hand.
package scheduler

import (
	"context"
	"time"
)

// JobFunc is the body of a scheduled job. now is the fire time in the
// scheduler's location.
type JobFunc func(ctx context.Context, now time.Time) error

// Execution represents a single run of a job.
type Execution struct {
	ID          string          `json:"id"` // UUIDv7
	Job         string          `json:"job"`
	Manual      bool            `json:"manual,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	Status      ExecutionStatus `json:"status"`
	Result      string          `json:"result,omitempty"` // error text on failure
}

// ExecutionStatus indicates the outcome of an execution.
type ExecutionStatus string

const (
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

// JobStats summarizes one registered job.
type JobStats struct {
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"`
	Next     time.Time  `json:"next,omitzero"`
	Prev     time.Time  `json:"prev,omitzero"`
	Runs     int        `json:"runs"`
	Failures int        `json:"failures"`
	Last     *Execution `json:"last,omitempty"`
}

// Stats is a snapshot of the scheduler.
type Stats struct {
	Running bool       `json:"running"`
	Jobs    []JobStats `json:"jobs"`
}
