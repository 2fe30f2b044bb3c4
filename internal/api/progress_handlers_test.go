package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/store"
)

type fakeRunRepo struct {
	runs       []store.Run
	err        error
	lastStatus *store.RunStatus
	lastLimit  int
	lastOffset int
}

func (f *fakeRunRepo) StartRun(context.Context, uuid.UUID, int64, int64, time.Time) error { return nil }

func (f *fakeRunRepo) AddOutcomes(context.Context, uuid.UUID, store.OutcomeDelta, time.Time) error {
	return nil
}

func (f *fakeRunRepo) FinishRun(context.Context, uuid.UUID, time.Time, store.RunStatus, *string) error {
	return nil
}

func (f *fakeRunRepo) GetRun(_ context.Context, id uuid.UUID) (store.Run, error) {
	if f.err != nil {
		return store.Run{}, f.err
	}
	for _, r := range f.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return store.Run{}, store.ErrNotFound
}

func (f *fakeRunRepo) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	f.lastStatus, f.lastLimit, f.lastOffset = status, limit, offset
	if f.err != nil {
		return nil, f.err
	}
	return f.runs, nil
}

func sampleRun() store.Run {
	finished := time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)
	return store.Run{
		ID:         uuid.New(),
		StartID:    90001,
		EndID:      90100,
		StartedAt:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt: &finished,
		Status:     store.RunCompleted,
		LastID:     90100,
		Attempted:  100,
		Succeeded:  80,
		Partial:    5,
		Failed:     15,
		NotFound:   10,
	}
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{runs: []store.Run{sampleRun()}}
	srv := NewServer(nil, zap.NewNop(), WithRuns(repo))

	rec := serve(t, srv.Handler(), http.MethodGet, "/v1/runs?status=Completed&limit=9999&offset=2")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, repo.lastStatus)
	assert.Equal(t, store.RunCompleted, *repo.lastStatus)
	assert.Equal(t, maxRunLimit, repo.lastLimit)
	assert.Equal(t, 2, repo.lastOffset)

	var body struct {
		Runs []runDTO `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, int64(80), body.Runs[0].Succeeded)
	assert.Equal(t, "completed", body.Runs[0].Status)
}

func TestListRunsRejectsBadQuery(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, zap.NewNop(), WithRuns(&fakeRunRepo{}))
	for _, target := range []string{"/v1/runs?status=bogus", "/v1/runs?limit=0", "/v1/runs?offset=-1"} {
		rec := serve(t, srv.Handler(), http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestListRunsRepoError(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, zap.NewNop(), WithRuns(&fakeRunRepo{err: errors.New("db down")}))
	rec := serve(t, srv.Handler(), http.MethodGet, "/v1/runs")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRunsUnavailableWithoutRepo(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, zap.NewNop())
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, srv.Handler(), http.MethodGet, "/v1/runs").Code)
	assert.Equal(t, http.StatusServiceUnavailable,
		serve(t, srv.Handler(), http.MethodGet, "/v1/runs/"+uuid.NewString()).Code)
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	run := sampleRun()
	srv := NewServer(nil, zap.NewNop(), WithRuns(&fakeRunRepo{runs: []store.Run{run}}))

	rec := serve(t, srv.Handler(), http.MethodGet, "/v1/runs/"+run.ID.String())
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Run runDTO `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, run.ID.String(), body.Run.ID)
	require.NotNil(t, body.Run.FinishedAt)

	assert.Equal(t, http.StatusNotFound, serve(t, srv.Handler(), http.MethodGet, "/v1/runs/"+uuid.NewString()).Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, srv.Handler(), http.MethodGet, "/v1/runs/not-a-uuid").Code)
}
