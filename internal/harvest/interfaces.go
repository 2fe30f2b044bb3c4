package harvest

import (
	"context"
	"io"
	"time"
)

// Fetcher retrieves the raw page for an identifier. Implementations return
// ErrNotFound for absent articles and *TransportError for everything else
// that goes wrong on the wire. They must not retry.
type Fetcher interface {
	Fetch(ctx context.Context, id int64) (RawArticle, error)
}

// Extractor parses a raw page into structured fields or fails with *ParseError.
type Extractor interface {
	Extract(raw RawArticle) (Extracted, error)
}

// Summarizer derives a summary of at most maxLength characters. It never
// fails; remote failures degrade to a local heuristic.
type Summarizer interface {
	Summarize(ctx context.Context, body string, maxLength int) Summary
}

// Appender is a result sink accepting one record at a time.
type Appender interface {
	Append(ctx context.Context, rec ArticleRecord) error
}

// RecordSource streams previously written records in store order.
type RecordSource interface {
	Scan(fn func(ArticleRecord) error) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// RetryPolicy decides whether a transport failure is retried and how long to
// wait first. attempt is the number of attempts already made.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Pauser blocks for the given delay or until ctx is done.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

// Observer receives run and item notifications. Implementations must not
// block the caller.
type Observer interface {
	RunStarted(runID string, rng Range)
	ItemDone(runID string, outcome Outcome)
	RunFinished(runID string, stats Stats)
}
