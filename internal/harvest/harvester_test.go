package harvest

import (
	"context"
	"errors"
	"math"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-harvester/internal/clock/system"
	"github.com/JakeFAU/article-harvester/internal/storage/memory"
)

type scriptedFetcher struct {
	mu       sync.Mutex
	calls    []int64
	missing  map[int64]bool
	failures map[int64]int
	block    chan struct{}
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{missing: map[int64]bool{}, failures: map[int64]int{}}
}

func (f *scriptedFetcher) Fetch(ctx context.Context, id int64) (RawArticle, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	block := f.block
	remaining := f.failures[id]
	if remaining > 0 {
		f.failures[id] = remaining - 1
	}
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return RawArticle{}, &TransportError{Err: ctx.Err()}
		}
	}
	if f.missing[id] {
		return RawArticle{}, ErrNotFound
	}
	if remaining > 0 {
		return RawArticle{}, &TransportError{StatusCode: 503, Err: errors.New("service unavailable")}
	}
	return RawArticle{
		ID:         id,
		URL:        URLTemplate{}.URL(id),
		StatusCode: 200,
		Body:       []byte("<html>" + strconv.FormatInt(id, 10) + "</html>"),
	}, nil
}

func (f *scriptedFetcher) Calls() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.calls...)
}

type scriptedExtractor struct {
	broken map[int64]bool
}

func (e scriptedExtractor) Extract(raw RawArticle) (Extracted, error) {
	if e.broken[raw.ID] {
		return Extracted{}, &ParseError{Field: "body", Reason: "no content container"}
	}
	id := strconv.FormatInt(raw.ID, 10)
	return Extracted{
		Title:       "title " + id,
		Author:      "author " + id,
		PublishTime: "2024-01-01",
		Body:        "第一句话。第二句话。body " + id,
	}, nil
}

type stubSummarizer struct {
	degrade bool
}

func (s stubSummarizer) Summarize(_ context.Context, body string, maxLength int) Summary {
	runes := []rune(body)
	if len(runes) > maxLength {
		runes = runes[:maxLength]
	}
	if s.degrade {
		return Summary{Text: string(runes), Degraded: true, Reason: errors.New("remote unavailable")}
	}
	return Summary{Text: "summary: " + string(runes)}
}

type memorySink struct {
	mu      sync.Mutex
	records []ArticleRecord
	failOn  map[string]bool
	after   func(ArticleRecord)
}

func (s *memorySink) Append(_ context.Context, rec ArticleRecord) error {
	s.mu.Lock()
	if s.failOn[rec.ID] {
		s.mu.Unlock()
		return errors.New("disk full")
	}
	s.records = append(s.records, rec)
	after := s.after
	s.mu.Unlock()
	if after != nil {
		after(rec)
	}
	return nil
}

func (s *memorySink) Scan(fn func(ArticleRecord) error) error {
	s.mu.Lock()
	records := append([]ArticleRecord(nil), s.records...)
	s.mu.Unlock()
	for _, rec := range records {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *memorySink) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.records))
	for _, rec := range s.records {
		ids = append(ids, rec.ID)
	}
	return ids
}

type recordingPauser struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *recordingPauser) Pause(_ context.Context, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delays = append(p.delays, d)
}

type countingObserver struct {
	mu       sync.Mutex
	started  int
	items    []OutcomeKind
	finished []Stats
}

func (o *countingObserver) RunStarted(string, Range) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *countingObserver) ItemDone(_ string, outcome Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items = append(o.items, outcome.Kind)
}

func (o *countingObserver) RunFinished(_ string, stats Stats) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, stats)
}

type fixedID string

func (f fixedID) NewID() (string, error) { return string(f), nil }

func newTestHarvester(t *testing.T, f Fetcher, e Extractor, s Summarizer, opts ...Option) *Harvester {
	t.Helper()
	opts = append([]Option{WithPauser(&recordingPauser{})}, opts...)
	h, err := New(f, e, s, Config{}, nil, opts...)
	require.NoError(t, err)
	return h
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(nil, scriptedExtractor{}, stubSummarizer{}, Config{}, nil)
	require.Error(t, err)
	_, err = New(newScriptedFetcher(), nil, stubSummarizer{}, Config{}, nil)
	require.Error(t, err)
	_, err = New(newScriptedFetcher(), scriptedExtractor{}, nil, Config{}, nil)
	require.Error(t, err)
}

func TestRunMixedOutcomesScenario(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher()
	fetcher.missing[90002] = true
	extractor := scriptedExtractor{broken: map[int64]bool{90003: true}}
	sink := &memorySink{}
	observer := &countingObserver{}
	h := newTestHarvester(t, fetcher, extractor, stubSummarizer{}, WithObserver(observer), WithIDGenerator(fixedID("run-1")))

	stats, err := h.Run(context.Background(), Range{Start: 90001, End: 90003}, sink)
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.Attempted)
	assert.Equal(t, int64(1), stats.Succeeded)
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(0), stats.Partial)
	assert.Equal(t, int64(1), stats.NotFound)
	assert.Equal(t, int64(1), stats.ParseErrors)
	assert.Equal(t, StateCompleted, stats.State)
	assert.Equal(t, "run-1", stats.RunID)
	assert.InDelta(t, 1.0/3.0, stats.SuccessRate(), 1e-9)

	require.Equal(t, []string{"90001"}, sink.IDs())
	rec := sink.records[0]
	assert.Equal(t, "https://sspai.com/post/90001", rec.URL)
	assert.Equal(t, "title 90001", rec.Title)
	assert.Equal(t, StatusOK, rec.Status)
	require.NotNil(t, rec.Summary)

	assert.Equal(t, 1, observer.started)
	assert.Equal(t, []OutcomeKind{OutcomeSuccess, OutcomeNotFound, OutcomeParseError}, observer.items)
	require.Len(t, observer.finished, 1)
	assert.Equal(t, StateCompleted, h.State())
}

func TestRunNeverFetchesOutsideRange(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher()
	h := newTestHarvester(t, fetcher, scriptedExtractor{}, stubSummarizer{})
	rng := Range{Start: 10, End: 14}

	_, err := h.Run(context.Background(), rng, &memorySink{})
	require.NoError(t, err)

	calls := fetcher.Calls()
	require.Equal(t, []int64{10, 11, 12, 13, 14}, calls)
	for _, id := range calls {
		assert.True(t, rng.Contains(id))
	}
}

func TestRunStopsAtMaxIdentifier(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher()
	h := newTestHarvester(t, fetcher, scriptedExtractor{}, stubSummarizer{})
	rng := Range{Start: math.MaxInt64 - 1, End: math.MaxInt64}

	// The deadline only bounds a regression; a correct run ends after two ids.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stats, err := h.Run(ctx, rng, &memorySink{})
	require.NoError(t, err)

	assert.Equal(t, []int64{math.MaxInt64 - 1, math.MaxInt64}, fetcher.Calls())
	assert.Equal(t, int64(2), stats.Attempted)
	assert.InDelta(t, 1.0, stats.Progress(), 1e-9)
}

func TestRangeLenSaturates(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(math.MaxInt64), Range{Start: 0, End: math.MaxInt64}.Len())
	assert.Equal(t, int64(math.MaxInt64), Range{Start: 1, End: math.MaxInt64}.Len())
	assert.Equal(t, int64(1), Range{Start: math.MaxInt64, End: math.MaxInt64}.Len())
}

func TestRunCountInvariants(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher()
	fetcher.missing[3] = true
	fetcher.missing[8] = true
	fetcher.failures[5] = 10
	extractor := scriptedExtractor{broken: map[int64]bool{6: true}}
	sink := &memorySink{failOn: map[string]bool{"9": true}}
	h := newTestHarvester(t, fetcher, extractor, stubSummarizer{})

	rng := Range{Start: 1, End: 12}
	stats, err := h.Run(context.Background(), rng, sink)
	require.NoError(t, err)

	assert.Equal(t, stats.Attempted, stats.Succeeded+stats.Failed+stats.Partial)
	assert.Equal(t, rng.Len(), stats.Attempted)
	assert.Equal(t, stats.Failed, stats.NotFound+stats.FetchErrors+stats.ParseErrors+stats.WriteErrors)
	assert.Equal(t, int64(1), stats.FetchErrors)
	assert.Equal(t, int64(1), stats.WriteErrors)
	assert.Len(t, sink.IDs(), int(stats.Succeeded+stats.Partial))
}

func TestRunDegradedSummariesStillWritten(t *testing.T) {
	t.Parallel()

	sink := &memorySink{}
	h, err := New(newScriptedFetcher(), scriptedExtractor{}, stubSummarizer{degrade: true},
		Config{MaxLength: 5}, nil, WithPauser(&recordingPauser{}))
	require.NoError(t, err)

	stats, err := h.Run(context.Background(), Range{Start: 1, End: 4}, sink)
	require.NoError(t, err)

	assert.Equal(t, int64(4), stats.Partial)
	assert.Equal(t, int64(0), stats.Succeeded)
	require.Len(t, sink.records, 4)
	for _, rec := range sink.records {
		require.NotNil(t, rec.Summary)
		assert.NotEmpty(t, *rec.Summary)
		assert.LessOrEqual(t, len([]rune(*rec.Summary)), 5)
		assert.Equal(t, StatusDegraded, rec.Status)
	}
}

func TestRunPausesBetweenItems(t *testing.T) {
	t.Parallel()

	pauser := &recordingPauser{}
	h := newTestHarvester(t, newScriptedFetcher(), scriptedExtractor{}, stubSummarizer{}, WithPauser(pauser))

	_, err := h.Run(context.Background(), Range{Start: 1, End: 4, Delay: 3 * time.Second}, &memorySink{})
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second, 3 * time.Second}, pauser.delays)
}

func TestRunPacingWallClock(t *testing.T) {
	t.Parallel()

	h, err := New(newScriptedFetcher(), scriptedExtractor{}, stubSummarizer{}, Config{}, nil)
	require.NoError(t, err)

	const delay = 20 * time.Millisecond
	start := time.Now()
	_, err = h.Run(context.Background(), Range{Start: 1, End: 4, Delay: delay}, &memorySink{})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 3*delay)
}

func TestRunFetchTimesStrictlyIncrease(t *testing.T) {
	t.Parallel()

	frozen := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sink := &memorySink{}
	h := newTestHarvester(t, newScriptedFetcher(), scriptedExtractor{}, stubSummarizer{},
		WithClock(system.NewMonotonic(stoppedClock{at: frozen})))

	_, err := h.Run(context.Background(), Range{Start: 1, End: 5}, sink)
	require.NoError(t, err)

	for i := 1; i < len(sink.records); i++ {
		assert.Less(t, sink.records[i-1].FetchTime, sink.records[i].FetchTime)
	}
}

func TestRunDoesNotRetryByDefault(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher()
	fetcher.failures[1] = 1
	h := newTestHarvester(t, fetcher, scriptedExtractor{}, stubSummarizer{})

	stats, err := h.Run(context.Background(), Range{Start: 1, End: 1}, &memorySink{})
	require.NoError(t, err)

	assert.Equal(t, []int64{1}, fetcher.Calls())
	assert.Equal(t, int64(1), stats.FetchErrors)
	assert.Equal(t, int64(0), stats.Retries)
}

func TestRunRetriesTransportErrorsWhenEnabled(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher()
	fetcher.failures[1] = 2
	fetcher.missing[2] = true
	pauser := &recordingPauser{}
	h := newTestHarvester(t, fetcher, scriptedExtractor{}, stubSummarizer{},
		WithPauser(pauser),
		WithRetryPolicy(NewExponentialRetryPolicy(2, time.Millisecond, 2*time.Millisecond)),
	)

	stats, err := h.Run(context.Background(), Range{Start: 1, End: 2}, &memorySink{})
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 1, 1, 2}, fetcher.Calls())
	assert.Equal(t, int64(1), stats.Succeeded)
	assert.Equal(t, int64(1), stats.NotFound)
	assert.Equal(t, int64(2), stats.Retries)
	assert.Len(t, pauser.delays, 3)
}

func TestRunStoresSnapshotOnParseError(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	h := newTestHarvester(t, newScriptedFetcher(), scriptedExtractor{broken: map[int64]bool{7: true}},
		stubSummarizer{}, WithSnapshots(blobs))

	_, err := h.Run(context.Background(), Range{Start: 7, End: 7}, &memorySink{})
	require.NoError(t, err)

	body, contentType, ok := blobs.Get("raw/7.html")
	require.True(t, ok)
	assert.Equal(t, "<html>7</html>", string(body))
	assert.Equal(t, "text/html; charset=utf-8", contentType)
}

func TestRunAbortsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &memorySink{}
	sink.after = func(rec ArticleRecord) {
		if rec.ID == "3" {
			cancel()
		}
	}
	h := newTestHarvester(t, newScriptedFetcher(), scriptedExtractor{}, stubSummarizer{})

	stats, err := h.Run(ctx, Range{Start: 1, End: 10}, sink)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateAborted, stats.State)
	assert.Equal(t, int64(3), stats.Attempted)
	assert.Equal(t, []string{"1", "2", "3"}, sink.IDs())
	assert.Equal(t, StateAborted, h.State())
}

func TestRunRejectsConcurrentRuns(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher()
	fetcher.block = make(chan struct{})
	h := newTestHarvester(t, fetcher, scriptedExtractor{}, stubSummarizer{})

	done := make(chan error, 1)
	go func() {
		_, err := h.Run(context.Background(), Range{Start: 1, End: 1}, &memorySink{})
		done <- err
	}()
	require.Eventually(t, func() bool { return len(fetcher.Calls()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, StateRunning, h.State())

	_, err := h.Run(context.Background(), Range{Start: 1, End: 1}, &memorySink{})
	require.ErrorIs(t, err, ErrRunInProgress)

	close(fetcher.block)
	require.NoError(t, <-done)
	assert.Equal(t, StateCompleted, h.State())
}

func TestRunRejectsInvalidRange(t *testing.T) {
	t.Parallel()

	h := newTestHarvester(t, newScriptedFetcher(), scriptedExtractor{}, stubSummarizer{})
	_, err := h.Run(context.Background(), Range{Start: 5, End: 4}, &memorySink{})
	require.ErrorIs(t, err, ErrInvalidRange)
	_, err = h.Run(context.Background(), Range{Start: 1, End: 2, Delay: -time.Second}, &memorySink{})
	require.ErrorIs(t, err, ErrInvalidRange)
	assert.Equal(t, StateIdle, h.State())
}

func TestResumeMatchesUninterruptedRun(t *testing.T) {
	t.Parallel()

	fetcherFor := func() *scriptedFetcher {
		f := newScriptedFetcher()
		f.missing[4] = true
		return f
	}
	rng := Range{Start: 1, End: 8}

	full := &memorySink{}
	h := newTestHarvester(t, fetcherFor(), scriptedExtractor{}, stubSummarizer{})
	_, err := h.Run(context.Background(), rng, full)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	partial := &memorySink{}
	partial.after = func(rec ArticleRecord) {
		if rec.ID == "5" {
			cancel()
		}
	}
	h = newTestHarvester(t, fetcherFor(), scriptedExtractor{}, stubSummarizer{})
	_, err = h.Run(ctx, rng, partial)
	require.ErrorIs(t, err, context.Canceled)
	partial.after = nil

	info, err := ScanResume(partial, ResumeStrict)
	require.NoError(t, err)
	next := info.Next(rng.Start)
	require.Equal(t, int64(6), next)

	_, err = h.Run(context.Background(), Range{Start: next, End: rng.End}, partial)
	require.NoError(t, err)

	assert.Equal(t, full.IDs(), partial.IDs())
}

func TestProcessSingleIdentifier(t *testing.T) {
	t.Parallel()

	h := newTestHarvester(t, newScriptedFetcher(), scriptedExtractor{}, stubSummarizer{})
	sink := &memorySink{}
	outcome := h.Process(context.Background(), 42, sink)

	require.Equal(t, OutcomeSuccess, outcome.Kind)
	require.NotNil(t, outcome.Record)
	assert.Equal(t, "42", outcome.Record.ID)
	assert.Equal(t, []string{"42"}, sink.IDs())
	assert.Equal(t, StateIdle, h.State())
}

type stoppedClock struct{ at time.Time }

func (c stoppedClock) Now() time.Time { return c.at }
