package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

// DefaultArticleTable holds mirrored article records.
const DefaultArticleTable = "articles"

// ArticleStore mirrors harvested records into Postgres, upserting by id.
type ArticleStore struct {
	pool  pool
	table string
}

var _ harvest.Appender = (*ArticleStore)(nil)

// NewArticleStore wraps an existing pool. The store takes ownership of p.
func NewArticleStore(p pool, table string) (*ArticleStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	table, err := checkTable(table, DefaultArticleTable)
	if err != nil {
		return nil, err
	}
	return &ArticleStore{pool: p, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *ArticleStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the article table when missing.
func (s *ArticleStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGINT PRIMARY KEY,
	url TEXT NOT NULL,
	title TEXT NOT NULL,
	author TEXT NOT NULL,
	content TEXT NOT NULL,
	publish_time TEXT NOT NULL,
	fetch_time TIMESTAMPTZ NOT NULL,
	summary TEXT,
	status TEXT NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Append upserts rec. A later fetch of the same id replaces the earlier row.
func (s *ArticleStore) Append(ctx context.Context, rec harvest.ArticleRecord) error {
	id, err := rec.NumericID()
	if err != nil {
		return fmt.Errorf("record id: %w", err)
	}
	fetchedAt, err := time.Parse(harvest.FetchTimeLayout, rec.FetchTime)
	if err != nil {
		return fmt.Errorf("record fetch_time: %w", err)
	}
	query, args, err := psql.Insert(s.table).
		Columns("id", "url", "title", "author", "content", "publish_time", "fetch_time", "summary", "status").
		Values(id, rec.URL, rec.Title, rec.Author, rec.Content, rec.PublishTime, fetchedAt, rec.Summary, rec.Status).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
	url = EXCLUDED.url,
	title = EXCLUDED.title,
	author = EXCLUDED.author,
	content = EXCLUDED.content,
	publish_time = EXCLUDED.publish_time,
	fetch_time = EXCLUDED.fetch_time,
	summary = EXCLUDED.summary,
	status = EXCLUDED.status`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert article %d: %w", id, err)
	}
	return nil
}

// MaxID returns the highest mirrored id. ok is false for an empty table.
func (s *ArticleStore) MaxID(ctx context.Context) (int64, bool, error) {
	query, args, err := psql.Select("COALESCE(MAX(id), 0)", "COUNT(*)").From(s.table).ToSql()
	if err != nil {
		return 0, false, fmt.Errorf("build max id: %w", err)
	}
	var maxID, rows int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&maxID, &rows); err != nil {
		return 0, false, fmt.Errorf("query max id: %w", err)
	}
	return maxID, rows > 0, nil
}
