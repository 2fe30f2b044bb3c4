// Package collyfetcher implements harvest.Fetcher using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/article-harvester/internal/harvest"
	"github.com/JakeFAU/article-harvester/internal/metrics"
)

// DefaultUserAgent mimics a desktop Chrome browser.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// DefaultTimeout bounds a single article request.
const DefaultTimeout = 10 * time.Second

// Config controls collector behavior.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// Headers are added to every request after the browser defaults.
	Headers http.Header
}

// Fetcher implements harvest.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	urls          harvest.URLTemplate
	baseCollector *colly.Collector
}

var _ harvest.Fetcher = (*Fetcher)(nil)

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// fetchState is filled in by collector callbacks for a single visit.
type fetchState struct {
	result   harvest.RawArticle
	status   int
	fetchErr error
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	// Clones share the visited store, so revisits must be allowed for
	// re-fetching the same id across runs.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	return &Fetcher{
		cfg:           cfg,
		urls:          harvest.URLTemplate{Base: cfg.BaseURL},
		baseCollector: c,
	}
}

// Fetch downloads the article page for id.
func (f *Fetcher) Fetch(ctx context.Context, id int64) (harvest.RawArticle, error) {
	url := f.urls.URL(id)
	state := &fetchState{}
	start := time.Now()
	collector := f.buildCollector(id, start, state)

	status, err := f.runCollector(ctx, collector, url, state)
	if err != nil {
		metrics.ObserveFetch(url, "http", status, 0)
		return harvest.RawArticle{}, err
	}
	metrics.ObserveFetch(url, "http", status, len(state.result.Body))
	if len(bytes.TrimSpace(state.result.Body)) == 0 {
		return harvest.RawArticle{}, fmt.Errorf("%s: empty body: %w", url, harvest.ErrNotFound)
	}
	return state.result, nil
}

func (f *Fetcher) buildCollector(id int64, start time.Time, state *fetchState) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.UserAgent = f.cfg.UserAgent
	collector.SetRequestTimeout(f.cfg.Timeout)
	f.configureCollectorHooks(collector, id, start, state)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, id int64, start time.Time, state *fetchState) {
	hooks.OnRequest(func(r *colly.Request) {
		f.setHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		state.status = r.StatusCode
		state.result = harvest.RawArticle{
			ID:         id,
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			state.status = r.StatusCode
		}
		state.fetchErr = err
	})
}

// runCollector returns the observed status code. state must not be read
// after a cancellation because the visit goroutine may still be writing it.
func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, state *fetchState) (int, error) {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return 0, &harvest.TransportError{Err: fmt.Errorf("colly fetch canceled: %w", ctx.Err())}
	case err := <-done:
		if err == nil {
			err = state.fetchErr
		}
		if err == nil {
			return state.status, nil
		}
		return state.status, classify(url, state.status, err)
	}
}

// classify maps a failed visit onto the harvest error taxonomy.
func classify(url string, status int, err error) error {
	if status == http.StatusNotFound {
		return fmt.Errorf("%s: %w", url, harvest.ErrNotFound)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		err = fmt.Errorf("timeout: %w", err)
	}
	return &harvest.TransportError{StatusCode: status, Err: fmt.Errorf("colly visit %s: %w", url, err)}
}

func (f *Fetcher) setHeaders(r *colly.Request) {
	r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	r.Headers.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	r.Headers.Set("Connection", "keep-alive")
	for key, values := range f.cfg.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
