package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-harvester/internal/progress"
	"github.com/JakeFAU/article-harvester/internal/store"
)

type mockRunRepo struct {
	mock.Mock
}

func (m *mockRunRepo) StartRun(ctx context.Context, runID uuid.UUID, startID, endID int64, at time.Time) error {
	return m.Called(ctx, runID, startID, endID, at).Error(0)
}

func (m *mockRunRepo) AddOutcomes(ctx context.Context, runID uuid.UUID, d store.OutcomeDelta, at time.Time) error {
	return m.Called(ctx, runID, d, at).Error(0)
}

func (m *mockRunRepo) FinishRun(
	ctx context.Context,
	runID uuid.UUID,
	at time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	return m.Called(ctx, runID, at, status, errMsg).Error(0)
}

func (m *mockRunRepo) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	args := m.Called(ctx, runID)
	return args.Get(0).(store.Run), args.Error(1)
}

func (m *mockRunRepo) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	args := m.Called(ctx, status, limit, offset)
	return args.Get(0).([]store.Run), args.Error(1)
}

func item(runID uuid.UUID, ts time.Time, id int64, outcome string) progress.Event {
	return progress.Event{RunID: runID, TS: ts, Stage: progress.StageItemDone, ArticleID: id, Outcome: outcome, Attempts: 1}
}

func TestStoreSinkFoldsOutcomesBeforeFinish(t *testing.T) {
	t.Parallel()

	repo := &mockRunRepo{}
	sink := NewStoreSink(repo, nil)
	runID := uuid.New()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	var calls []string
	repo.On("StartRun", ctx, runID, int64(1), int64(5), now).
		Run(func(mock.Arguments) { calls = append(calls, "start") }).Return(nil).Once()
	repo.On("AddOutcomes", ctx, runID, store.OutcomeDelta{
		LastID: 5, Attempted: 5, Succeeded: 1, Partial: 1, Failed: 3, NotFound: 1,
	}, now.Add(5*time.Second)).
		Run(func(mock.Arguments) { calls = append(calls, "add") }).Return(nil).Once()
	repo.On("FinishRun", ctx, runID, now.Add(6*time.Second), store.RunCompleted, (*string)(nil)).
		Run(func(mock.Arguments) { calls = append(calls, "finish") }).Return(nil).Once()

	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart, StartID: 1, EndID: 5},
		item(runID, now.Add(1*time.Second), 1, "success"),
		item(runID, now.Add(2*time.Second), 2, "summary_degraded"),
		item(runID, now.Add(3*time.Second), 3, "not_found"),
		item(runID, now.Add(4*time.Second), 4, "fetch_error"),
		item(runID, now.Add(5*time.Second), 5, "write_error"),
		{RunID: runID, TS: now.Add(6 * time.Second), Stage: progress.StageRunDone, Dur: 6 * time.Second},
	}
	require.NoError(t, sink.Consume(ctx, batch))
	require.Equal(t, []string{"start", "add", "finish"}, calls)
	repo.AssertExpectations(t)
}

func TestStoreSinkFlushesOpenRunsAtBatchEnd(t *testing.T) {
	t.Parallel()

	repo := &mockRunRepo{}
	sink := NewStoreSink(repo, nil)
	runID := uuid.New()
	now := time.Now().UTC()

	repo.On("AddOutcomes", mock.Anything, runID, store.OutcomeDelta{LastID: 9, Attempted: 2, Succeeded: 1, Failed: 1},
		now.Add(time.Second)).Return(nil).Once()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		item(runID, now.Add(time.Second), 9, "success"),
		item(runID, now, 8, "parse_error"),
	}))
	repo.AssertExpectations(t)
}

func TestStoreSinkAbortedRunKeepsNote(t *testing.T) {
	t.Parallel()

	repo := &mockRunRepo{}
	sink := NewStoreSink(repo, nil)
	runID := uuid.New()
	now := time.Now().UTC()

	repo.On("FinishRun", mock.Anything, runID, now, store.RunAborted, mock.MatchedBy(func(msg *string) bool {
		return msg != nil && *msg == "aborted at 42"
	})).Return(nil).Once()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunAborted, Note: "aborted at 42"},
	}))
	repo.AssertExpectations(t)
}

func TestStoreSinkErrors(t *testing.T) {
	t.Parallel()

	repo := &mockRunRepo{}
	sink := NewStoreSink(repo, nil)
	runID := uuid.New()
	boom := errors.New("db down")

	repo.On("StartRun", mock.Anything, runID, int64(1), int64(2), mock.Anything).Return(boom).Once()
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunStart, StartID: 1, EndID: 2},
	})
	require.ErrorIs(t, err, boom)

	unknown := uuid.New()
	repo.On("AddOutcomes", mock.Anything, unknown, mock.Anything, mock.Anything).Return(store.ErrNotFound).Once()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		item(unknown, time.Now(), 1, "success"),
	}), "unknown runs are logged, not fatal")
	repo.AssertExpectations(t)
}

func TestNilStoreSink(t *testing.T) {
	t.Parallel()

	var sink *StoreSink
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{}}))
	require.NoError(t, NewStoreSink(nil, nil).Consume(context.Background(), []progress.Event{{}}))
}
