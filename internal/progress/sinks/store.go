package sinks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/harvest"
	"github.com/JakeFAU/article-harvester/internal/progress"
	"github.com/JakeFAU/article-harvester/internal/store"
)

// StoreSink persists run bookkeeping through a store.RunRepository. Item
// outcomes are folded into one counter delta per run and batch.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger.Named("run_store_sink")}
}

type pendingDelta struct {
	delta store.OutcomeDelta
	at    time.Time
}

// Consume applies batch in order. A run's pending delta is written before
// its terminal status.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	pending := make(map[uuid.UUID]*pendingDelta)
	var order []uuid.UUID

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.StartRun(ctx, runID, evt.StartID, evt.EndID, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageItemDone:
			p, ok := pending[runID]
			if !ok {
				p = &pendingDelta{}
				pending[runID] = p
				order = append(order, runID)
			}
			addOutcome(&p.delta, evt)
			if evt.TS.After(p.at) {
				p.at = evt.TS
			}
		case progress.StageRunDone, progress.StageRunAborted:
			if p, ok := pending[runID]; ok {
				if err := s.flushDelta(ctx, runID, p); err != nil {
					return err
				}
				delete(pending, runID)
			}
			if err := s.finish(ctx, runID, evt); err != nil {
				return err
			}
		}
	}
	for _, runID := range order {
		p, ok := pending[runID]
		if !ok {
			continue
		}
		if err := s.flushDelta(ctx, runID, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) flushDelta(ctx context.Context, runID uuid.UUID, p *pendingDelta) error {
	err := s.repo.AddOutcomes(ctx, runID, p.delta, p.at)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("outcomes for unknown run dropped", zap.Stringer("run_id", runID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("add outcomes: %w", err)
	}
	return nil
}

func (s *StoreSink) finish(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	status := store.RunCompleted
	var note *string
	if evt.Stage == progress.StageRunAborted {
		status = store.RunAborted
		if msg := strings.TrimSpace(evt.Note); msg != "" {
			note = &msg
		}
	}
	err := s.repo.FinishRun(ctx, runID, evt.TS, status, note)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("finish for unknown run dropped", zap.Stringer("run_id", runID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

func addOutcome(d *store.OutcomeDelta, evt progress.Event) {
	d.Attempted++
	if evt.ArticleID > d.LastID {
		d.LastID = evt.ArticleID
	}
	switch harvest.OutcomeKind(evt.Outcome) {
	case harvest.OutcomeSuccess:
		d.Succeeded++
	case harvest.OutcomeSummaryDegraded:
		d.Partial++
	case harvest.OutcomeNotFound:
		d.Failed++
		d.NotFound++
	default:
		d.Failed++
	}
}

// Close implements progress.Sink.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
