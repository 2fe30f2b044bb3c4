package harvest

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks an identifier with no article behind it (HTTP 404 or
	// an empty body). It is an expected outcome and never retried.
	ErrNotFound = errors.New("article not found")
	// ErrInvalidRange is returned when a Range fails validation.
	ErrInvalidRange = errors.New("invalid harvest range")
	// ErrRunInProgress is returned when Run is called while another run on
	// the same Harvester is active.
	ErrRunInProgress = errors.New("harvest run already in progress")
	// ErrUnorderedStore is returned by strict resume scans when the store is
	// not strictly ascending.
	ErrUnorderedStore = errors.New("result store is not strictly ascending")
	// ErrTornRecord marks a final store line that has no newline and does not
	// decode, the trace of a crash in the middle of an append. Every record
	// before it has already been delivered when a scan returns it.
	ErrTornRecord = errors.New("torn final record")
)

// TransportError wraps network and non-404 HTTP failures.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transport error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ParseError reports a page that loaded but did not have the expected shape.
type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.Field, e.Reason)
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsParse reports whether err is a ParseError.
func IsParse(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
