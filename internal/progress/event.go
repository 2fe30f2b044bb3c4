package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageItemDone   Stage = "ITEM_DONE"
	StageRunDone    Stage = "RUN_DONE"
	StageRunAborted Stage = "RUN_ABORTED"
)

// Terminal reports whether the stage closes a run.
func (s Stage) Terminal() bool {
	return s == StageRunDone || s == StageRunAborted
}

// Event captures one harvest milestone.
type Event struct {
	// RunID identifies the run in 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC emission time.
	TS    time.Time
	Stage Stage
	// StartID and EndID are set on RUN_START.
	StartID int64
	EndID   int64
	// ArticleID, Outcome and Attempts are set on ITEM_DONE.
	ArticleID int64
	Outcome   string
	Attempts  int
	// Dur is the item latency for ITEM_DONE and the run wall time for
	// terminal stages.
	Dur time.Duration
	// Note carries short error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart:
		if e.EndID < e.StartID {
			return fmt.Errorf("run start range %d..%d is inverted", e.StartID, e.EndID)
		}
	case StageItemDone:
		if e.Outcome == "" {
			return errors.New("item done requires outcome")
		}
	case StageRunDone, StageRunAborted:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}
