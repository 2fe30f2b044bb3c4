// Package sink implements result sinks: a durable JSONL append stream for
// range harvests, an in-memory collector for batch runs, read primitives for
// existing stores, and batch renderers (JSON array and Markdown report).
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

// JSONL appends one JSON object per line and syncs the file after every
// write, so a crash loses at most the record in flight.
type JSONL struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	dropped int64
}

var _ harvest.Appender = (*JSONL)(nil)

// OpenJSONL opens (or creates) path in append mode.
func OpenJSONL(path string) (*JSONL, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}
	// #nosec G304 -- the output path is operator supplied.
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	dropped, err := truncateTornTail(file)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return &JSONL{path: path, file: file, dropped: dropped}, nil
}

// TornBytes reports how many bytes of an unterminated final line were cut
// when the file was opened.
func (s *JSONL) TornBytes() int64 {
	return s.dropped
}

// truncateTornTail makes the file end in a newline so the next append starts
// on a fresh line. An undecodable tail after the last newline is cut; the
// number of bytes removed is returned.
func truncateTornTail(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat output: %w", err)
	}
	size := info.Size()
	if size == 0 {
		return 0, nil
	}
	const chunk = 4096
	buf := make([]byte, chunk)
	end := size
	for end > 0 {
		start := max(end-chunk, 0)
		n, err := f.ReadAt(buf[:end-start], start)
		if err != nil && int64(n) < end-start {
			return 0, fmt.Errorf("read output tail: %w", err)
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			end = start + int64(i) + 1
			break
		}
		end = start
	}
	if end == size {
		return 0, nil
	}
	complete, err := tailIsRecord(f, end, size)
	if err != nil {
		return 0, err
	}
	if complete {
		// A whole record that only lacks its newline is kept.
		if _, err := f.Write([]byte("\n")); err != nil {
			return 0, fmt.Errorf("terminate last record: %w", err)
		}
		return 0, nil
	}
	if err := f.Truncate(end); err != nil {
		return 0, fmt.Errorf("truncate torn tail: %w", err)
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("sync output: %w", err)
	}
	return size - end, nil
}

// Path returns the file backing the sink.
func (s *JSONL) Path() string {
	return s.path
}

// Append writes rec as a single line and forces it to stable storage.
func (s *JSONL) Append(_ context.Context, rec harvest.ArticleRecord) error {
	line, err := encodeLine(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("jsonl sink is closed")
	}
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("write record %s: %w", rec.ID, err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync output: %w", err)
	}
	return nil
}

// Close releases the underlying file. It is safe to call more than once.
func (s *JSONL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}

// Scan streams the records already written to the sink's file.
func (s *JSONL) Scan(fn func(harvest.ArticleRecord) error) error {
	return ScanFile(s.path, fn)
}

func tailIsRecord(f *os.File, start, size int64) (bool, error) {
	if size-start > maxLineBytes {
		return false, nil
	}
	tail := make([]byte, size-start)
	if n, err := f.ReadAt(tail, start); err != nil && int64(n) < size-start {
		return false, fmt.Errorf("read output tail: %w", err)
	}
	var rec harvest.ArticleRecord
	return json.Unmarshal(tail, &rec) == nil, nil
}

func encodeLine(rec harvest.ArticleRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return nil, fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	return buf.Bytes(), nil
}
