package sink

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

const maxLineBytes = 16 << 20

// File is a read-only view of a JSONL store that satisfies
// harvest.RecordSource. A missing file reads as empty.
type File string

// Scan streams the records in the file.
func (f File) Scan(fn func(harvest.ArticleRecord) error) error {
	return ScanFile(string(f), fn)
}

// ScanFile streams records from the JSONL file at path. A missing file is
// treated as an empty store.
func ScanFile(path string, fn func(harvest.ArticleRecord) error) error {
	// #nosec G304 -- the store path is operator supplied.
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open store: %w", err)
	}
	defer file.Close()
	return Scan(file, fn)
}

// Scan decodes one record per non-blank line of r and hands each to fn in
// order. Decoding stops at the first malformed line or callback error. A
// malformed final line with no trailing newline is a record torn by a crash;
// Scan reports it with harvest.ErrTornRecord after every earlier record has
// been delivered.
func Scan(r io.Reader, fn func(harvest.ArticleRecord) error) error {
	split := &lineSplitter{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	scanner.Split(split.scan)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var rec harvest.ArticleRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			if split.unterminated {
				return fmt.Errorf("line %d: %w: %w", line, harvest.ErrTornRecord, err)
			}
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read store: %w", err)
	}
	return nil
}

// lineSplitter wraps bufio.ScanLines and remembers whether the last token
// ended at EOF without a newline.
type lineSplitter struct {
	unterminated bool
}

func (s *lineSplitter) scan(data []byte, atEOF bool) (int, []byte, error) {
	advance, token, err := bufio.ScanLines(data, atEOF)
	s.unterminated = token != nil && atEOF && bytes.IndexByte(data[:advance], '\n') < 0
	return advance, token, err
}

// ReadAll loads every record from the JSONL file at path. A torn final
// line is skipped.
func ReadAll(path string) ([]harvest.ArticleRecord, error) {
	var out []harvest.ArticleRecord
	err := ScanFile(path, func(rec harvest.ArticleRecord) error {
		out = append(out, rec)
		return nil
	})
	if err != nil && !errors.Is(err, harvest.ErrTornRecord) {
		return nil, err
	}
	return out, nil
}
