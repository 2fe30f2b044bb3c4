package progress

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

// Observer adapts harvester callbacks to progress events. Callbacks for
// runs whose ID is not a UUID are ignored.
type Observer struct {
	emitter Emitter
	now     func() time.Time
}

var _ harvest.Observer = (*Observer)(nil)

// NewObserver returns an Observer publishing to emitter.
func NewObserver(emitter Emitter) *Observer {
	return &Observer{emitter: emitter, now: time.Now}
}

// RunStarted emits RUN_START.
func (o *Observer) RunStarted(runID string, rng harvest.Range) {
	o.emit(runID, Event{Stage: StageRunStart, StartID: rng.Start, EndID: rng.End})
}

// ItemDone emits ITEM_DONE.
func (o *Observer) ItemDone(runID string, out harvest.Outcome) {
	evt := Event{
		Stage:     StageItemDone,
		ArticleID: out.ID,
		Outcome:   string(out.Kind),
		Attempts:  out.Attempts,
		Dur:       out.Duration,
	}
	if out.Err != nil {
		evt.Note = out.Err.Error()
	}
	o.emit(runID, evt)
}

// RunFinished emits RUN_DONE or RUN_ABORTED.
func (o *Observer) RunFinished(runID string, stats harvest.Stats) {
	evt := Event{Stage: StageRunDone, Dur: stats.Elapsed}
	if stats.State == harvest.StateAborted {
		evt.Stage = StageRunAborted
		evt.Note = "aborted at " + strconv.FormatInt(stats.Current, 10)
	}
	o.emit(runID, evt)
}

func (o *Observer) emit(runID string, evt Event) {
	if o == nil || o.emitter == nil {
		return
	}
	id, err := uuid.Parse(runID)
	if err != nil {
		return
	}
	evt.RunID = id
	evt.TS = o.now().UTC()
	o.emitter.Emit(evt)
}
