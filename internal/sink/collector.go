package sink

import (
	"context"
	"sync"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

// Collector keeps records in memory, in append order, for batch runs.
type Collector struct {
	mu      sync.Mutex
	records []harvest.ArticleRecord
}

var _ harvest.Appender = (*Collector)(nil)

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Append stores rec.
func (c *Collector) Append(_ context.Context, rec harvest.ArticleRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	return nil
}

// Records returns a copy of the collected records.
func (c *Collector) Records() []harvest.ArticleRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]harvest.ArticleRecord(nil), c.records...)
}

// Len returns the number of collected records.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Scan walks the collected records in order.
func (c *Collector) Scan(fn func(harvest.ArticleRecord) error) error {
	for _, rec := range c.Records() {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}
