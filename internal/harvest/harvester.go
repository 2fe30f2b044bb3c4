package harvest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/clock/system"
)

// DefaultMaxLength is the summary length used when Config.MaxLength is unset.
const DefaultMaxLength = 200

// Config controls Harvester behavior.
type Config struct {
	// MaxLength bounds summary length in characters.
	MaxLength int
	// SnapshotPrefix is the blob path prefix for raw pages that failed to parse.
	SnapshotPrefix string
	// SnapshotContentType is recorded on stored raw pages.
	SnapshotContentType string
}

// Option customizes optional collaborators.
type Option func(*Harvester)

// WithClock overrides the clock used for fetch timestamps.
func WithClock(c Clock) Option {
	return func(h *Harvester) {
		if c != nil {
			h.clock = c
		}
	}
}

// WithPauser overrides how the harvester sleeps between identifiers.
func WithPauser(p Pauser) Option {
	return func(h *Harvester) {
		if p != nil {
			h.pauser = p
		}
	}
}

// WithRetryPolicy enables retries of transport failures.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(h *Harvester) {
		if p != nil {
			h.retry = p
		}
	}
}

// WithIDGenerator sets the run ID source.
func WithIDGenerator(g IDGenerator) Option {
	return func(h *Harvester) {
		h.idGen = g
	}
}

// WithObserver registers a progress observer.
func WithObserver(o Observer) Option {
	return func(h *Harvester) {
		h.observer = o
	}
}

// WithSnapshots stores raw pages that fail extraction.
func WithSnapshots(store BlobStore) Option {
	return func(h *Harvester) {
		h.snapshots = store
	}
}

// Harvester drives Fetcher, Extractor, Summarizer and Appender across an
// identifier range, one identifier at a time.
type Harvester struct {
	fetcher    Fetcher
	extractor  Extractor
	summarizer Summarizer
	cfg        Config

	clock     Clock
	pauser    Pauser
	retry     RetryPolicy
	idGen     IDGenerator
	observer  Observer
	snapshots BlobStore
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
	stats   Stats
}

// New constructs a Harvester.
func New(
	fetcher Fetcher,
	extractor Extractor,
	summarizer Summarizer,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) (*Harvester, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if extractor == nil {
		return nil, errors.New("extractor is required")
	}
	if summarizer == nil {
		return nil, errors.New("summarizer is required")
	}
	if cfg.MaxLength == 0 {
		cfg.MaxLength = DefaultMaxLength
	}
	if cfg.SnapshotPrefix == "" {
		cfg.SnapshotPrefix = "raw"
	}
	if cfg.SnapshotContentType == "" {
		cfg.SnapshotContentType = "text/html; charset=utf-8"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Harvester{
		fetcher:    fetcher,
		extractor:  extractor,
		summarizer: summarizer,
		cfg:        cfg,
		clock:      system.NewMonotonic(system.New()),
		pauser:     TimerPauser{},
		retry:      NoRetry{},
		logger:     logger.Named("harvester"),
		stats:      Stats{State: StateIdle},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// State reports the lifecycle state of the most recent run.
func (h *Harvester) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats.State
}

// Snapshot returns a copy of the current run statistics.
func (h *Harvester) Snapshot() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// Run harvests every identifier in rng in ascending order and appends the
// results to sink. Per-item failures are recorded and never stop the loop.
// Cancelling ctx aborts the run; the partial stats are returned with ctx.Err().
func (h *Harvester) Run(ctx context.Context, rng Range, sink Appender) (Stats, error) {
	if err := rng.Validate(); err != nil {
		return Stats{}, err
	}
	if sink == nil {
		return Stats{}, errors.New("sink is required")
	}
	runID := h.newRunID()
	if err := h.begin(runID, rng); err != nil {
		return Stats{}, err
	}
	start := time.Now()
	logger := h.logger.With(zap.String("run_id", runID))
	logger.Info("harvest started",
		zap.Int64("start", rng.Start),
		zap.Int64("end", rng.End),
		zap.Duration("delay", rng.Delay),
	)
	if h.observer != nil {
		h.observer.RunStarted(runID, rng)
	}

	var runErr error
	// The loop exits on id == rng.End rather than id > rng.End so that an
	// End of math.MaxInt64 cannot wrap.
	for id := rng.Start; ; id++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		outcome := h.process(ctx, id, sink)
		h.recordOutcome(logger, runID, outcome)
		if id == rng.End {
			break
		}
		h.pauser.Pause(ctx, rng.Delay)
	}

	final := h.finish(runErr, time.Since(start))
	logger.Info("harvest finished",
		zap.String("state", string(final.State)),
		zap.Int64("attempted", final.Attempted),
		zap.Int64("succeeded", final.Succeeded),
		zap.Int64("failed", final.Failed),
		zap.Int64("partial", final.Partial),
		zap.Float64("success_rate", final.SuccessRate()),
		zap.Duration("elapsed", final.Elapsed),
	)
	if h.observer != nil {
		h.observer.RunFinished(runID, final)
	}
	if runErr != nil {
		return final, fmt.Errorf("harvest aborted at %d: %w", final.Current, runErr)
	}
	return final, nil
}

// Process runs the pipeline for a single identifier and appends the record
// to sink when one is produced. It does not touch run statistics.
func (h *Harvester) Process(ctx context.Context, id int64, sink Appender) Outcome {
	return h.process(ctx, id, sink)
}

func (h *Harvester) begin(runID string, rng Range) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrRunInProgress
	}
	h.running = true
	h.stats = Stats{
		RunID:   runID,
		State:   StateRunning,
		Start:   rng.Start,
		End:     rng.End,
		Current: rng.Start,
	}
	return nil
}

func (h *Harvester) finish(runErr error, elapsed time.Duration) Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = false
	h.stats.Elapsed = elapsed
	if runErr != nil {
		h.stats.State = StateAborted
	} else {
		h.stats.State = StateCompleted
	}
	return h.stats
}

func (h *Harvester) recordOutcome(logger *zap.Logger, runID string, o Outcome) {
	h.mu.Lock()
	h.stats.record(o)
	h.mu.Unlock()

	fields := []zap.Field{
		zap.Int64("id", o.ID),
		zap.String("outcome", string(o.Kind)),
		zap.Duration("dur", o.Duration),
	}
	if o.Attempts > 1 {
		fields = append(fields, zap.Int("attempts", o.Attempts))
	}
	if o.Err != nil {
		fields = append(fields, zap.Error(o.Err))
	}
	switch o.Kind {
	case OutcomeSuccess:
		logger.Info("article harvested", fields...)
	case OutcomeSummaryDegraded:
		logger.Warn("article harvested with fallback summary", fields...)
	case OutcomeNotFound:
		logger.Debug("article not found", fields...)
	case OutcomeFetchError, OutcomeParseError:
		logger.Warn("article failed", fields...)
	case OutcomeWriteError:
		logger.Error("article not written", fields...)
	}
	if h.observer != nil {
		h.observer.ItemDone(runID, o)
	}
}

func (h *Harvester) process(ctx context.Context, id int64, sink Appender) Outcome {
	started := time.Now()
	outcome := h.processItem(ctx, id, sink)
	outcome.ID = id
	outcome.Duration = time.Since(started)
	return outcome
}

func (h *Harvester) processItem(ctx context.Context, id int64, sink Appender) Outcome {
	raw, attempts, err := h.fetch(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Outcome{Kind: OutcomeNotFound, Err: err, Attempts: attempts}
		}
		return Outcome{Kind: OutcomeFetchError, Err: err, Attempts: attempts}
	}
	fetchedAt := h.clock.Now()

	fields, err := h.extractor.Extract(raw)
	if err != nil {
		h.storeSnapshot(ctx, id, raw.Body)
		return Outcome{Kind: OutcomeParseError, Err: err, Attempts: attempts}
	}

	summary := h.summarizer.Summarize(ctx, fields.Body, h.cfg.MaxLength)
	rec := buildRecord(id, raw, fields, summary, fetchedAt)
	kind := OutcomeSuccess
	if summary.Degraded {
		kind = OutcomeSummaryDegraded
	}

	if sink != nil {
		if err := sink.Append(ctx, rec); err != nil {
			return Outcome{
				Kind:     OutcomeWriteError,
				Record:   &rec,
				Err:      fmt.Errorf("append record: %w", err),
				Attempts: attempts,
			}
		}
	}
	return Outcome{Kind: kind, Record: &rec, Err: summary.Reason, Attempts: attempts}
}

func (h *Harvester) fetch(ctx context.Context, id int64) (RawArticle, int, error) {
	attempt := 0
	for {
		attempt++
		raw, err := h.fetcher.Fetch(ctx, id)
		if err == nil {
			return raw, attempt, nil
		}
		if errors.Is(err, ErrNotFound) || ctx.Err() != nil || !h.retry.ShouldRetry(err, attempt) {
			return RawArticle{}, attempt, err
		}
		wait := h.retry.Backoff(attempt)
		h.logger.Debug("retrying fetch",
			zap.Int64("id", id),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		h.pauser.Pause(ctx, wait)
	}
}

func (h *Harvester) storeSnapshot(ctx context.Context, id int64, body []byte) {
	if h.snapshots == nil || len(body) == 0 {
		return
	}
	key := path.Join(h.cfg.SnapshotPrefix, strconv.FormatInt(id, 10)+".html")
	uri, err := h.snapshots.PutObject(ctx, key, h.cfg.SnapshotContentType, bytes.NewReader(body))
	if err != nil {
		h.logger.Warn("snapshot store failed", zap.Int64("id", id), zap.Error(err))
		return
	}
	h.logger.Debug("raw page stored", zap.Int64("id", id), zap.String("uri", uri))
}

func (h *Harvester) newRunID() string {
	if h.idGen == nil {
		return ""
	}
	id, err := h.idGen.NewID()
	if err != nil {
		h.logger.Warn("run id generation failed", zap.Error(err))
		return ""
	}
	return id
}

func buildRecord(id int64, raw RawArticle, fields Extracted, summary Summary, fetchedAt time.Time) ArticleRecord {
	rec := ArticleRecord{
		ID:          strconv.FormatInt(id, 10),
		URL:         raw.URL,
		Title:       fields.Title,
		Author:      fields.Author,
		Content:     fields.Body,
		PublishTime: fields.PublishTime,
		FetchTime:   fetchedAt.UTC().Format(FetchTimeLayout),
		Status:      StatusOK,
	}
	if summary.Text != "" {
		text := summary.Text
		rec.Summary = &text
	}
	if summary.Degraded {
		rec.Status = StatusDegraded
	}
	return rec
}
