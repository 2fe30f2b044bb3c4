// Package harvest defines core types shared across subsystems.
package harvest

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"
)

// FetchTimeLayout renders fetch timestamps as ISO-8601 with a fixed
// microsecond width so that lexical and chronological order agree.
const FetchTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Record status values written alongside each record.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// ArticleRecord is one harvested article as written to the result sink.
type ArticleRecord struct {
	ID          string  `json:"id"`
	URL         string  `json:"url"`
	Title       string  `json:"title"`
	Author      string  `json:"author"`
	Content     string  `json:"content"`
	PublishTime string  `json:"publish_time"`
	FetchTime   string  `json:"fetch_time"`
	Summary     *string `json:"summary"`
	Status      string  `json:"status,omitempty"`
}

// NumericID parses the record identifier.
func (r ArticleRecord) NumericID() (int64, error) {
	id, err := strconv.ParseInt(r.ID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse record id %q: %w", r.ID, err)
	}
	return id, nil
}

// SummaryText returns the summary or an empty string when none is set.
func (r ArticleRecord) SummaryText() string {
	if r.Summary == nil {
		return ""
	}
	return *r.Summary
}

// RawArticle is the unparsed page returned by a Fetcher.
type RawArticle struct {
	ID         int64
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Headless   bool
}

// Extracted holds the structured fields located in a page.
type Extracted struct {
	Title       string
	Author      string
	PublishTime string
	Body        string
}

// Summary is the output of a Summarizer. Degraded is set when the local
// heuristic produced the text instead of the remote model.
type Summary struct {
	Text     string
	Degraded bool
	Reason   error
}

// Range is an inclusive identifier range plus the pause between requests.
type Range struct {
	Start int64
	End   int64
	Delay time.Duration
}

// Validate enforces start <= end and a non-negative delay.
func (r Range) Validate() error {
	if r.Start < 0 {
		return fmt.Errorf("%w: start must be >= 0", ErrInvalidRange)
	}
	if r.Start > r.End {
		return fmt.Errorf("%w: start %d > end %d", ErrInvalidRange, r.Start, r.End)
	}
	if r.Delay < 0 {
		return fmt.Errorf("%w: delay must be >= 0", ErrInvalidRange)
	}
	return nil
}

// Len returns the number of identifiers in the range, saturating at
// math.MaxInt64.
func (r Range) Len() int64 {
	if r.End < r.Start {
		return 0
	}
	if r.Start == 0 && r.End == math.MaxInt64 {
		return math.MaxInt64
	}
	return r.End - r.Start + 1
}

// Contains reports whether id lies inside the range.
func (r Range) Contains(id int64) bool {
	return id >= r.Start && id <= r.End
}

// OutcomeKind tags the result of processing a single identifier.
type OutcomeKind string

// Outcome kinds recorded per identifier.
const (
	OutcomeSuccess         OutcomeKind = "success"
	OutcomeNotFound        OutcomeKind = "not_found"
	OutcomeFetchError      OutcomeKind = "fetch_error"
	OutcomeParseError      OutcomeKind = "parse_error"
	OutcomeSummaryDegraded OutcomeKind = "summary_degraded"
	OutcomeWriteError      OutcomeKind = "write_error"
)

// Failed reports whether the kind counts as a failure in Stats.
func (k OutcomeKind) Failed() bool {
	switch k {
	case OutcomeNotFound, OutcomeFetchError, OutcomeParseError, OutcomeWriteError:
		return true
	default:
		return false
	}
}

// Outcome is the tagged result of one iteration. Record is populated for
// OutcomeSuccess, OutcomeSummaryDegraded and OutcomeWriteError; Err carries
// the reason for every non-success kind.
type Outcome struct {
	Kind     OutcomeKind
	ID       int64
	Record   *ArticleRecord
	Err      error
	Attempts int
	Duration time.Duration
}

// State is the lifecycle state of a harvest run.
type State string

// Run states. A run never returns to StateRunning once it has finished.
const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
)

// Stats accumulates per-run counters.
type Stats struct {
	RunID       string        `json:"run_id,omitempty"`
	State       State         `json:"state"`
	Start       int64         `json:"start"`
	End         int64         `json:"end"`
	Current     int64         `json:"current"`
	Attempted   int64         `json:"attempted"`
	Succeeded   int64         `json:"succeeded"`
	Failed      int64         `json:"failed"`
	Partial     int64         `json:"partial"`
	NotFound    int64         `json:"not_found"`
	FetchErrors int64         `json:"fetch_errors"`
	ParseErrors int64         `json:"parse_errors"`
	WriteErrors int64         `json:"write_errors"`
	Retries     int64         `json:"retries"`
	Elapsed     time.Duration `json:"elapsed_ns"`
}

// SuccessRate is the share of attempted identifiers that produced a record,
// degraded or not.
func (s Stats) SuccessRate() float64 {
	if s.Attempted == 0 {
		return 0
	}
	return float64(s.Succeeded+s.Partial) / float64(s.Attempted)
}

// Progress returns the completed share of the range in [0, 1].
func (s Stats) Progress() float64 {
	total := Range{Start: s.Start, End: s.End}.Len()
	if total <= 0 {
		return 0
	}
	return float64(s.Attempted) / float64(total)
}

func (s *Stats) record(o Outcome) {
	s.Attempted++
	s.Current = o.ID
	if o.Attempts > 1 {
		s.Retries += int64(o.Attempts - 1)
	}
	switch o.Kind {
	case OutcomeSuccess:
		s.Succeeded++
	case OutcomeSummaryDegraded:
		s.Partial++
	case OutcomeNotFound:
		s.Failed++
		s.NotFound++
	case OutcomeFetchError:
		s.Failed++
		s.FetchErrors++
	case OutcomeParseError:
		s.Failed++
		s.ParseErrors++
	case OutcomeWriteError:
		s.Failed++
		s.WriteErrors++
	}
}
