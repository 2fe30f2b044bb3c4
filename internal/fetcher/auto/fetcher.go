// Package auto fetches articles over plain HTTP and promotes pages that
// only render in a browser to a headless fetcher.
package auto

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

// Detector decides whether a plain response must be re-fetched headless.
type Detector interface {
	NeedsRender(raw harvest.RawArticle) bool
}

// Fetcher implements harvest.Fetcher over a primary and a rendering fetcher.
type Fetcher struct {
	primary  harvest.Fetcher
	render   harvest.Fetcher
	detector Detector
	logger   *zap.Logger
}

// New wires the fetchers. A nil detector uses NewHeuristic(0).
func New(primary, render harvest.Fetcher, detector Detector, logger *zap.Logger) (*Fetcher, error) {
	if primary == nil || render == nil {
		return nil, errors.New("primary and render fetchers are required")
	}
	if detector == nil {
		detector = NewHeuristic(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{primary: primary, render: render, detector: detector, logger: logger.Named("auto_fetcher")}, nil
}

// Fetch tries the primary fetcher first. Errors, including not found, are
// returned as-is; only successful responses that look unrendered are
// re-fetched through the rendering fetcher.
func (f *Fetcher) Fetch(ctx context.Context, id int64) (harvest.RawArticle, error) {
	raw, err := f.primary.Fetch(ctx, id)
	if err != nil || !f.detector.NeedsRender(raw) {
		return raw, err
	}
	f.logger.Debug("promoting to headless", zap.Int64("id", id), zap.Int("body_bytes", len(raw.Body)))
	rendered, err := f.render.Fetch(ctx, id)
	if err != nil {
		return harvest.RawArticle{}, fmt.Errorf("headless promotion: %w", err)
	}
	return rendered, nil
}
