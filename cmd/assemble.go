package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/config"
	"github.com/JakeFAU/article-harvester/internal/extract"
	"github.com/JakeFAU/article-harvester/internal/fetcher/auto"
	collyfetcher "github.com/JakeFAU/article-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/article-harvester/internal/fetcher/headless"
	"github.com/JakeFAU/article-harvester/internal/harvest"
	"github.com/JakeFAU/article-harvester/internal/id/uuid"
	"github.com/JakeFAU/article-harvester/internal/metrics"
	"github.com/JakeFAU/article-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/article-harvester/internal/progress"
	"github.com/JakeFAU/article-harvester/internal/progress/sinks"
	"github.com/JakeFAU/article-harvester/internal/storage/gcs"
	"github.com/JakeFAU/article-harvester/internal/storage/local"
	"github.com/JakeFAU/article-harvester/internal/storage/postgres"
	"github.com/JakeFAU/article-harvester/internal/store"
	"github.com/JakeFAU/article-harvester/internal/summarize"
)

// providerEnv maps provider names to their conventional credential variable.
var providerEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"gemini":    "GEMINI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
}

// resolveAPIKey prefers the configured key and falls back to the provider's
// conventional environment variable.
func resolveAPIKey(sc config.SummarizerConfig, getenv func(string) string) string {
	if key := strings.TrimSpace(sc.APIKey); key != "" {
		return key
	}
	if name, ok := providerEnv[sc.Provider]; ok && getenv != nil {
		return strings.TrimSpace(getenv(name))
	}
	return ""
}

// modelFor keeps an explicitly configured model unless it belongs to a
// different provider family than the one selected.
func modelFor(sc config.SummarizerConfig) string {
	model := strings.TrimSpace(sc.Model)
	switch sc.Provider {
	case "gemini":
		if model == "" || !strings.HasPrefix(model, "gemini") {
			return summarize.DefaultGeminiModel
		}
	case "anthropic":
		if model == "" || !strings.HasPrefix(model, "claude") {
			return summarize.DefaultAnthropicModel
		}
	}
	return model
}

// components owns every collaborator a command needs and how to release them.
type components struct {
	cfg        config.Config
	logger     *zap.Logger
	fetcher    harvest.Fetcher
	extractor  *extract.Extractor
	summarizer *summarize.Summarizer
	snapshots  harvest.BlobStore
	articles   *postgres.ArticleStore
	runs       store.RunRepository
	closers    []func()
}

type assembleOptions struct {
	mirror    bool
	snapshots bool
}

func assemble(ctx context.Context, cfg config.Config, logger *zap.Logger, opts assembleOptions) (*components, error) {
	metrics.Init()
	c := &components{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	fetcher, err := c.buildFetcher()
	if err != nil {
		return nil, err
	}
	c.fetcher = fetcher

	c.extractor, err = extract.New(extract.Config{Format: extract.Format(cfg.Extract.BodyFormat)})
	if err != nil {
		return nil, fmt.Errorf("init extractor: %w", err)
	}

	if err := c.buildSummarizer(ctx); err != nil {
		return nil, err
	}
	if opts.snapshots {
		if err := c.buildSnapshots(ctx); err != nil {
			return nil, err
		}
	}
	if opts.mirror && cfg.Mirror.Enabled() {
		if err := c.buildMirror(ctx); err != nil {
			return nil, err
		}
	}
	ok = true
	return c, nil
}

// Close releases resources in reverse acquisition order.
func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

func (c *components) buildFetcher() (harvest.Fetcher, error) {
	switch c.cfg.Source.Transport {
	case "headless":
		return c.buildHeadless()
	case "auto":
		render, err := c.buildHeadless()
		if err != nil {
			return nil, err
		}
		f, err := auto.New(c.buildHTTP(), render, auto.NewHeuristic(c.cfg.Headless.PromoteThreshold), c.logger)
		if err != nil {
			return nil, fmt.Errorf("init auto fetcher: %w", err)
		}
		return f, nil
	default:
		return c.buildHTTP(), nil
	}
}

func (c *components) buildHTTP() *collyfetcher.Fetcher {
	src := c.cfg.Source
	return collyfetcher.New(collyfetcher.Config{
		BaseURL:   src.BaseURL,
		UserAgent: src.UserAgent,
		Timeout:   src.Timeout,
	})
}

func (c *components) buildHeadless() (*headless.Fetcher, error) {
	src := c.cfg.Source
	f, err := headless.NewChromedp(headless.Config{
		BaseURL:           src.BaseURL,
		MaxParallel:       c.cfg.Headless.MaxParallel,
		UserAgent:         src.UserAgent,
		NavigationTimeout: c.cfg.Headless.NavTimeout,
		Logger:            c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init headless fetcher: %w", err)
	}
	c.closers = append(c.closers, f.Close)
	return f, nil
}

func (c *components) buildSummarizer(ctx context.Context) error {
	sc := c.cfg.Summarizer
	provider, err := c.buildProvider(ctx, sc, resolveAPIKey(sc, os.Getenv))
	if err != nil {
		return err
	}
	var opts []summarize.Option
	if sc.RPS > 0 {
		opts = append(opts, summarize.WithLimiter(ratelimit.New(ratelimit.Config{RPS: sc.RPS, Burst: sc.Burst})))
	}
	c.summarizer = summarize.New(provider, summarize.Config{
		InputBudget: sc.InputBudget,
		MaxTokens:   sc.MaxTokens,
		Temperature: float32(sc.Temperature),
		Timeout:     sc.Timeout,
	}, c.logger, opts...)
	c.logger.Info("summarizer ready",
		zap.String("provider", c.summarizer.ProviderName()),
		zap.String("model", modelFor(sc)),
	)
	return nil
}

// buildProvider returns a nil provider, and therefore heuristic summaries,
// when the provider is "none" or no credential is available.
func (c *components) buildProvider(ctx context.Context, sc config.SummarizerConfig, key string) (summarize.Provider, error) {
	if sc.Provider == "none" {
		return nil, nil
	}
	if key == "" {
		c.logger.Warn("no api key for summarizer provider, using heuristic summaries",
			zap.String("provider", sc.Provider),
			zap.String("env", providerEnv[sc.Provider]),
		)
		return nil, nil
	}
	model := modelFor(sc)
	switch sc.Provider {
	case "openai":
		p, err := summarize.NewOpenAI(summarize.OpenAIConfig{Endpoint: sc.Endpoint, Model: model, APIKey: key})
		if err != nil {
			return nil, fmt.Errorf("init openai provider: %w", err)
		}
		return p, nil
	case "gemini":
		p, err := summarize.NewGemini(ctx, key, model)
		if err != nil {
			return nil, fmt.Errorf("init gemini provider: %w", err)
		}
		c.closers = append(c.closers, func() {
			if err := p.Close(); err != nil {
				c.logger.Warn("close gemini client", zap.Error(err))
			}
		})
		return p, nil
	case "anthropic":
		p, err := summarize.NewAnthropic(key, model)
		if err != nil {
			return nil, fmt.Errorf("init anthropic provider: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown summarizer provider %q", sc.Provider)
	}
}

func (c *components) buildSnapshots(ctx context.Context) error {
	sc := c.cfg.Snapshots
	switch {
	case sc.Dir != "":
		bs, err := local.New(local.Config{BaseDir: sc.Dir})
		if err != nil {
			return fmt.Errorf("init local snapshots: %w", err)
		}
		c.snapshots = bs
	case sc.GCSBucket != "":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		c.closers = append(c.closers, func() {
			if err := client.Close(); err != nil {
				c.logger.Warn("close gcs client", zap.Error(err))
			}
		})
		bs, err := gcs.New(client, gcs.Config{Bucket: sc.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs snapshots: %w", err)
		}
		c.snapshots = bs
	}
	return nil
}

func (c *components) buildMirror(ctx context.Context) error {
	mc := c.cfg.Mirror
	pool, err := postgres.Connect(ctx, postgres.PoolConfig{DSN: mc.DSN, MaxConns: mc.MaxConns})
	if err != nil {
		return err
	}
	articles, err := postgres.NewArticleStore(pool, mc.Table)
	if err != nil {
		pool.Close()
		return err
	}
	c.closers = append(c.closers, articles.Close)
	runs, err := postgres.NewRunStore(pool, mc.RunTable)
	if err != nil {
		return err
	}
	if mc.EnsureSchema {
		if err := articles.EnsureSchema(ctx); err != nil {
			return err
		}
		if err := runs.EnsureSchema(ctx); err != nil {
			return err
		}
	}
	c.articles = articles
	c.runs = runs
	c.logger.Info("postgres mirror enabled", zap.String("table", mc.Table), zap.String("run_table", mc.RunTable))
	return nil
}

// newHarvester builds a Harvester over the components. obs may be nil.
func (c *components) newHarvester(obs harvest.Observer) (*harvest.Harvester, error) {
	hc := c.cfg.Harvest
	opts := []harvest.Option{harvest.WithIDGenerator(uuid.New())}
	if obs != nil {
		opts = append(opts, harvest.WithObserver(obs))
	}
	if c.snapshots != nil {
		opts = append(opts, harvest.WithSnapshots(c.snapshots))
	}
	if hc.Retries > 0 {
		c.logger.Warn("fetch retries enabled; a retried id holds the range back by its backoff",
			zap.Int("retries", hc.Retries),
			zap.Duration("backoff_initial", hc.BackoffInitial),
			zap.Duration("backoff_max", hc.BackoffMax),
		)
		opts = append(opts, harvest.WithRetryPolicy(
			harvest.NewExponentialRetryPolicy(hc.Retries, hc.BackoffInitial, hc.BackoffMax)))
	}
	h, err := harvest.New(c.fetcher, c.extractor, c.summarizer, harvest.Config{
		MaxLength:           c.cfg.Summarizer.MaxLength,
		SnapshotPrefix:      c.cfg.Snapshots.Prefix,
		SnapshotContentType: c.cfg.Snapshots.ContentType,
	}, c.logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("init harvester: %w", err)
	}
	return h, nil
}

var (
	promSinkOnce sync.Once
	promSink     *sinks.PrometheusSink
	errPromSink  error
)

// prometheusSink registers the progress collectors once per process.
func prometheusSink() (*sinks.PrometheusSink, error) {
	promSinkOnce.Do(func() {
		promSink, errPromSink = sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	})
	return promSink, errPromSink
}

// newProgressHub fans harvest events out to the log, Prometheus and, when
// the mirror is enabled, the run table.
func (c *components) newProgressHub() (*progress.Hub, error) {
	hubSinks := []progress.Sink{sinks.NewLogSink(c.logger)}
	ps, err := prometheusSink()
	if err != nil {
		return nil, err
	}
	hubSinks = append(hubSinks, ps)
	if c.runs != nil {
		hubSinks = append(hubSinks, sinks.NewStoreSink(c.runs, c.logger))
	}
	return progress.NewHub(progress.Config{Logger: c.logger}, hubSinks...), nil
}

// closeHub drains the hub with a fresh context so that a cancelled run
// still records its terminal state.
func closeHub(hub *progress.Hub, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), progressCloseTimeout)
	defer cancel()
	if err := hub.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("progress hub close", zap.Error(err))
	}
}
