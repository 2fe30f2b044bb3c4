package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/article-harvester/internal/store"
)

// DefaultRunTable holds one row per harvest run.
const DefaultRunTable = "harvest_runs"

var runColumns = []string{
	"id", "start_id", "end_id", "started_at", "finished_at", "status",
	"last_id", "attempted", "succeeded", "partial", "failed", "not_found", "error_message",
}

// RunStore implements store.RunRepository using Postgres.
type RunStore struct {
	pool  pool
	table string
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore wraps an existing pool. The caller keeps ownership of p.
func NewRunStore(p pool, table string) (*RunStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	table, err := checkTable(table, DefaultRunTable)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: p, table: table}, nil
}

// EnsureSchema creates the run table when missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id UUID PRIMARY KEY,
	start_id BIGINT NOT NULL,
	end_id BIGINT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL,
	last_id BIGINT NOT NULL DEFAULT 0,
	attempted BIGINT NOT NULL DEFAULT 0,
	succeeded BIGINT NOT NULL DEFAULT 0,
	partial BIGINT NOT NULL DEFAULT 0,
	failed BIGINT NOT NULL DEFAULT 0,
	not_found BIGINT NOT NULL DEFAULT 0,
	error_message TEXT
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// StartRun inserts a running row. Repeated starts are ignored.
func (s *RunStore) StartRun(ctx context.Context, runID uuid.UUID, startID, endID int64, at time.Time) error {
	query, args, err := psql.Insert(s.table).
		Columns("id", "start_id", "end_id", "started_at", "updated_at", "status").
		Values(runID, startID, endID, at, at, string(store.RunRunning)).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build start run: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// AddOutcomes increments the run counters.
func (s *RunStore) AddOutcomes(ctx context.Context, runID uuid.UUID, d store.OutcomeDelta, at time.Time) error {
	if d.Empty() {
		return nil
	}
	query, args, err := psql.Update(s.table).
		Set("attempted", sq.Expr("attempted + ?", d.Attempted)).
		Set("succeeded", sq.Expr("succeeded + ?", d.Succeeded)).
		Set("partial", sq.Expr("partial + ?", d.Partial)).
		Set("failed", sq.Expr("failed + ?", d.Failed)).
		Set("not_found", sq.Expr("not_found + ?", d.NotFound)).
		Set("last_id", sq.Expr("GREATEST(last_id, ?)", d.LastID)).
		Set("updated_at", at).
		Where(sq.Eq{"id": runID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build add outcomes: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("add outcomes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// FinishRun records the terminal status.
func (s *RunStore) FinishRun(
	ctx context.Context,
	runID uuid.UUID,
	at time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query, args, err := psql.Update(s.table).
		Set("finished_at", at).
		Set("updated_at", at).
		Set("status", string(status)).
		Set("error_message", errMsg).
		Where(sq.Eq{"id": runID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build finish run: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query, args, err := psql.Select(runColumns...).From(s.table).Where(sq.Eq{"id": runID}).ToSql()
	if err != nil {
		return store.Run{}, fmt.Errorf("build get run: %w", err)
	}
	run, err := scanRun(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	builder := psql.Select(runColumns...).From(s.table).OrderBy("started_at DESC")
	if status != nil {
		builder = builder.Where(sq.Eq{"status": string(*status)})
	}
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	if offset > 0 {
		builder = builder.Offset(uint64(offset))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list runs: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run    store.Run
		status string
	)
	err := row.Scan(
		&run.ID,
		&run.StartID,
		&run.EndID,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.LastID,
		&run.Attempted,
		&run.Succeeded,
		&run.Partial,
		&run.Failed,
		&run.NotFound,
		&run.ErrorMessage,
	)
	if err != nil {
		return store.Run{}, err //nolint:wrapcheck // callers wrap with context
	}
	run.Status = store.RunStatus(status)
	return run, nil
}
