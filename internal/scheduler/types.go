// Package scheduler runs named jobs once a day at a fixed local time
// and records every run, so a run missed while the process was down is
// caught up on the next start.
package scheduler

import (
	"context"
	"fmt"
	"time"
)

// Job is the work of one daily run. day is the local calendar day the
// run is for.
type Job func(ctx context.Context, day time.Time) error

// Execution represents a single run of a job.
type Execution struct {
	ID          string          `json:"id"`  // UUIDv7
	Job         string          `json:"job"` // Registered job name
	Day         string          `json:"day"` // YYYY-MM-DD the run is for
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Status      ExecutionStatus `json:"status"`
	Result      string          `json:"result,omitempty"` // "success" or the error
}

// ExecutionStatus indicates the state of an execution.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

// TimeOfDay is a wall-clock time in the scheduler's location.
type TimeOfDay struct {
	Hour, Minute int
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("time of day %q: expected HH:MM", s)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// On returns the instant of t on the calendar day of day.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, day.Location())
}

// NextRun returns the first occurrence of t strictly after after, in
// after's location.
func (t TimeOfDay) NextRun(after time.Time) time.Time {
	next := t.On(after)
	if !next.After(after) {
		y, m, d := after.Date()
		next = t.On(time.Date(y, m, d+1, 0, 0, 0, 0, after.Location()))
	}
	return next
}
