package harvest

import (
	"context"
	"time"
)

// TimerPauser implements Pauser with a timer that yields early on ctx.Done.
type TimerPauser struct{}

// Pause sleeps for delay unless ctx ends first.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
