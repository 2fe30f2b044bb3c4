package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

func newArticleServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/post/1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Language", r.Header.Get("Accept-Language"))
		w.Header().Set("X-Seen-Agent", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("<html><div class=\"content\"><p>hello</p></div></html>"))
	})
	mux.HandleFunc("/post/2", func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})
	mux.HandleFunc("/post/3", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/post/4", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("/post/5", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchSuccess(t *testing.T) {
	t.Parallel()
	srv := newArticleServer(t)
	f := New(Config{BaseURL: srv.URL})

	raw, err := f.Fetch(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), raw.ID)
	assert.Equal(t, srv.URL+"/post/1", raw.URL)
	assert.Equal(t, http.StatusOK, raw.StatusCode)
	assert.Contains(t, string(raw.Body), "hello")
	assert.Equal(t, "zh-CN,zh;q=0.9,en;q=0.8", raw.Headers.Get("X-Seen-Language"))
	assert.Equal(t, DefaultUserAgent, raw.Headers.Get("X-Seen-Agent"))
	assert.False(t, raw.Headless)

	// Same id again must not be rejected as already visited.
	_, err = f.Fetch(context.Background(), 1)
	require.NoError(t, err)
}

func TestFetchClassification(t *testing.T) {
	t.Parallel()
	srv := newArticleServer(t)
	f := New(Config{BaseURL: srv.URL})

	_, err := f.Fetch(context.Background(), 2)
	require.ErrorIs(t, err, harvest.ErrNotFound)

	_, err = f.Fetch(context.Background(), 3)
	require.ErrorIs(t, err, harvest.ErrNotFound, "empty body counts as missing")

	_, err = f.Fetch(context.Background(), 4)
	var te *harvest.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusInternalServerError, te.StatusCode)
	assert.False(t, errors.Is(err, harvest.ErrNotFound))
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()
	srv := newArticleServer(t)
	f := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})

	_, err := f.Fetch(context.Background(), 5)
	require.Error(t, err)
	assert.True(t, harvest.IsTransport(err))
}

func TestFetchCanceled(t *testing.T) {
	t.Parallel()
	srv := newArticleServer(t)
	f := New(Config{BaseURL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, 5)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, harvest.IsTransport(err))
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{Headers: http.Header{"X-Trace": {"yes"}}})
	state := &fetchState{}
	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, 42, time.Unix(0, 0), state)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))
	assert.Equal(t, "keep-alive", collyReq.Headers.Get("Connection"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://sspai.com/post/42")},
	})
	assert.Equal(t, int64(42), state.result.ID)
	assert.Equal(t, "body", string(state.result.Body))
	assert.Equal(t, "ok", state.result.Headers.Get("X-Resp"))

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("boom"))
	assert.Equal(t, http.StatusBadGateway, state.status)
	require.EqualError(t, state.fetchErr, "boom")
}

func TestClassify(t *testing.T) {
	t.Parallel()
	cause := errors.New("Not Found")
	require.ErrorIs(t, classify("u", http.StatusNotFound, cause), harvest.ErrNotFound)

	gone := classify("u", http.StatusGone, cause)
	require.NotErrorIs(t, gone, harvest.ErrNotFound)
	assert.True(t, harvest.IsTransport(gone))

	err := classify("u", 0, cause)
	require.ErrorIs(t, err, cause)
	assert.True(t, harvest.IsTransport(err))
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
