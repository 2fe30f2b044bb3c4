package harvest

import (
	"errors"
	"fmt"
)

// ResumePolicy chooses how ScanResume treats stores that break the
// strictly-ascending single-writer precondition.
type ResumePolicy string

// Supported resume policies.
const (
	ResumeWarn   ResumePolicy = "warn"
	ResumeStrict ResumePolicy = "strict"
)

// ResumeInfo summarizes an existing result store.
type ResumeInfo struct {
	Records    int64
	MaxID      int64
	LastID     int64
	OutOfOrder int64
	Duplicates int64
	Invalid    int64
	// Torn counts an unterminated, undecodable final line. It does not make
	// the store unclean because the next open repairs it.
	Torn  int64
	Empty bool
}

// Clean reports whether every identifier was strictly greater than the one
// before it.
func (r ResumeInfo) Clean() bool {
	return r.OutOfOrder == 0 && r.Duplicates == 0 && r.Invalid == 0
}

// Next returns the first identifier still to harvest for a range that starts
// at start: the identifier after the highest one already stored, or start
// itself when the store is empty or entirely below it.
func (r ResumeInfo) Next(start int64) int64 {
	if r.Empty || r.MaxID < start {
		return start
	}
	return r.MaxID + 1
}

// ScanResume walks src once, in constant memory, and records the highest
// identifier along with ordering violations. A repeat of the previous
// identifier counts as a duplicate; any other step backwards counts as out
// of order. Under ResumeStrict a store that is not strictly
// ascending yields ErrUnorderedStore together with the collected info.
func ScanResume(src RecordSource, policy ResumePolicy) (ResumeInfo, error) {
	if src == nil {
		return ResumeInfo{}, errors.New("record source is required")
	}
	info := ResumeInfo{Empty: true}
	err := src.Scan(func(rec ArticleRecord) error {
		id, err := rec.NumericID()
		if err != nil {
			info.Invalid++
			return nil
		}
		info.Records++
		if !info.Empty {
			switch {
			case id == info.LastID:
				info.Duplicates++
			case id < info.LastID:
				info.OutOfOrder++
			}
		}
		if info.Empty || id > info.MaxID {
			info.MaxID = id
		}
		info.LastID = id
		info.Empty = false
		return nil
	})
	switch {
	case errors.Is(err, ErrTornRecord):
		info.Torn++
	case err != nil:
		return info, fmt.Errorf("scan result store: %w", err)
	}
	if policy == ResumeStrict && !info.Clean() {
		return info, fmt.Errorf(
			"%w: %d out of order, %d duplicate, %d invalid ids",
			ErrUnorderedStore, info.OutOfOrder, info.Duplicates, info.Invalid,
		)
	}
	return info, nil
}
