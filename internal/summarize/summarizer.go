// Package summarize turns article bodies into short summaries. A remote model
// is tried first and a deterministic local heuristic covers every failure.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/harvest"
	"github.com/JakeFAU/article-harvester/internal/metrics"
)

const (
	// DefaultMaxLength is the summary length used when callers pass zero.
	DefaultMaxLength = harvest.DefaultMaxLength
	// DefaultInputBudget bounds how many body runes are sent to a provider.
	DefaultInputBudget = 3000
	// DefaultMaxTokens caps provider output tokens.
	DefaultMaxTokens = 500
	// DefaultTemperature is the sampling temperature sent to providers.
	DefaultTemperature = 0.7
	// DefaultTimeout bounds a single provider call.
	DefaultTimeout = 30 * time.Second
)

// ErrNoProvider marks summaries produced without any remote provider configured.
var ErrNoProvider = errors.New("no summarization provider configured")

// ErrEmptyCompletion is returned when a provider answers with no text.
var ErrEmptyCompletion = errors.New("provider returned an empty completion")

// Provider is a remote text completion backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Limiter throttles provider calls per scope.
type Limiter interface {
	Wait(ctx context.Context, scope string) error
}

// Config tunes remote summarization.
type Config struct {
	InputBudget int
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// Option customizes a Summarizer.
type Option func(*Summarizer)

// WithLimiter throttles provider calls.
func WithLimiter(l Limiter) Option {
	return func(s *Summarizer) {
		s.limiter = l
	}
}

// Summarizer implements harvest.Summarizer.
type Summarizer struct {
	provider Provider
	cfg      Config
	limiter  Limiter
	logger   *zap.Logger
}

var _ harvest.Summarizer = (*Summarizer)(nil)

// New builds a Summarizer. A nil provider yields heuristic-only summaries,
// all of them marked degraded.
func New(provider Provider, cfg Config, logger *zap.Logger, opts ...Option) *Summarizer {
	if cfg.InputBudget <= 0 {
		cfg.InputBudget = DefaultInputBudget
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Summarizer{
		provider: provider,
		cfg:      cfg,
		logger:   logger.Named("summarizer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProviderName reports the configured provider, or "none".
func (s *Summarizer) ProviderName() string {
	if s.provider == nil {
		return "none"
	}
	return s.provider.Name()
}

// Summarize never fails. Remote errors degrade the result to the local heuristic.
func (s *Summarizer) Summarize(ctx context.Context, body string, maxLength int) harvest.Summary {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	if s.provider == nil {
		return s.fallback(body, maxLength, ErrNoProvider, 0)
	}
	start := time.Now()
	text, err := s.remote(ctx, body, maxLength)
	if err != nil {
		return s.fallback(body, maxLength, err, time.Since(start))
	}
	metrics.ObserveSummary(s.provider.Name(), "remote", time.Since(start))
	return harvest.Summary{Text: text}
}

func (s *Summarizer) remote(ctx context.Context, body string, maxLength int) (string, error) {
	name := s.provider.Name()
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, name); err != nil {
			return "", err
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	prompt := BuildPrompt(Clip(body, s.cfg.InputBudget), maxLength, s.cfg.MaxTokens, s.cfg.Temperature)
	out, err := s.provider.Complete(callCtx, prompt)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("%s: %w", name, ErrEmptyCompletion)
	}
	return Clip(out, maxLength), nil
}

func (s *Summarizer) fallback(body string, maxLength int, reason error, elapsed time.Duration) harvest.Summary {
	provider := s.ProviderName()
	if !errors.Is(reason, ErrNoProvider) {
		s.logger.Warn("remote summary failed, using heuristic",
			zap.String("provider", provider),
			zap.Error(reason),
		)
	}
	metrics.ObserveSummary(provider, "fallback", elapsed)
	return harvest.Summary{
		Text:     Heuristic(body, maxLength),
		Degraded: true,
		Reason:   reason,
	}
}
