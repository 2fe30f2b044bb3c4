package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/harvest"
	"github.com/JakeFAU/article-harvester/internal/metrics"
)

type fixedStats struct{ stats harvest.Stats }

func (f fixedStats) Snapshot() harvest.Stats { return f.stats }

func serve(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, zap.NewNop())
	rec := serve(t, srv.Handler(), http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(t, srv.Handler(), http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)

	failing := NewServer(nil, nil, WithReadiness(func(context.Context) error { return errors.New("db down") }))
	rec = serve(t, failing.Handler(), http.MethodGet, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProgressSnapshot(t *testing.T) {
	t.Parallel()

	stats := harvest.Stats{
		RunID:     "0190b6a4-0000-7000-8000-000000000001",
		State:     harvest.StateRunning,
		Start:     90001,
		End:       90100,
		Current:   90004,
		Attempted: 4,
		Succeeded: 2,
		Partial:   1,
		Failed:    1,
		NotFound:  1,
		Elapsed:   2 * time.Second,
	}
	srv := NewServer(fixedStats{stats: stats}, zap.NewNop())
	rec := serve(t, srv.Handler(), http.MethodGet, "/v1/progress")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "running", body["state"])
	assert.InDelta(t, 90004, body["current"], 1e-9)
	assert.InDelta(t, 0.75, body["success_rate"], 1e-9)
	assert.Equal(t, "2s", body["elapsed"])
}

func TestProgressWithoutHarvester(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, zap.NewNop())
	rec := serve(t, srv.Handler(), http.MethodGet, "/v1/progress")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()

	metrics.Init()
	srv := NewServer(nil, zap.NewNop())
	serve(t, srv.Handler(), http.MethodGet, "/healthz")
	rec := serve(t, srv.Handler(), http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, zap.NewNop())
	h := srv.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := serve(t, h, http.MethodGet, "/")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestRequestIDPropagates(t *testing.T) {
	t.Parallel()

	var seen string
	h := requestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
