package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the harvest_runs status column.
type RunStatus string

// Run statuses persisted in harvest_runs.status.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunAborted   RunStatus = "aborted"
)

// ParseRunStatus validates a persisted status name.
func ParseRunStatus(s string) (RunStatus, error) {
	switch RunStatus(s) {
	case RunRunning, RunCompleted, RunAborted:
		return RunStatus(s), nil
	}
	return "", errors.New("invalid status")
}

// Run models one harvest over an identifier range.
type Run struct {
	ID         uuid.UUID
	StartID    int64
	EndID      int64
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	// LastID is the highest identifier with a recorded outcome.
	LastID       int64
	Attempted    int64
	Succeeded    int64
	Partial      int64
	Failed       int64
	NotFound     int64
	ErrorMessage *string
}

// OutcomeDelta carries counter increments for a run.
type OutcomeDelta struct {
	LastID    int64
	Attempted int64
	Succeeded int64
	Partial   int64
	Failed    int64
	NotFound  int64
}

// Empty reports whether the delta changes nothing.
func (d OutcomeDelta) Empty() bool {
	return d.Attempted == 0
}

// RunRepository persists harvest run progress.
type RunRepository interface {
	// StartRun inserts the run row, or is a no-op if it already exists.
	StartRun(ctx context.Context, runID uuid.UUID, startID, endID int64, at time.Time) error
	// AddOutcomes applies counter deltas to a running row.
	AddOutcomes(ctx context.Context, runID uuid.UUID, delta OutcomeDelta, at time.Time) error
	// FinishRun marks the run finished with the provided status and error.
	FinishRun(ctx context.Context, runID uuid.UUID, at time.Time, status RunStatus, errMsg *string) error
	// GetRun returns a single run or ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs newest first, optionally filtered by status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}
