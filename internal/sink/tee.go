package sink

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/harvest"
	"github.com/JakeFAU/article-harvester/internal/metrics"
)

// TeeSink writes to a primary sink and best-effort mirrors. Only a primary
// failure fails the append.
type TeeSink struct {
	primary harvest.Appender
	mirrors []harvest.Appender
	logger  *zap.Logger
}

// Tee builds a TeeSink. Nil mirrors are skipped.
func Tee(primary harvest.Appender, logger *zap.Logger, mirrors ...harvest.Appender) *TeeSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	kept := make([]harvest.Appender, 0, len(mirrors))
	for _, m := range mirrors {
		if m != nil {
			kept = append(kept, m)
		}
	}
	return &TeeSink{primary: primary, mirrors: kept, logger: logger}
}

// Append writes rec to the primary and then to each mirror.
func (t *TeeSink) Append(ctx context.Context, rec harvest.ArticleRecord) error {
	if err := t.primary.Append(ctx, rec); err != nil {
		return err
	}
	for _, m := range t.mirrors {
		err := m.Append(ctx, rec)
		metrics.ObserveMirrorWrite(err == nil)
		if err != nil {
			t.logger.Warn("mirror append failed", zap.String("id", rec.ID), zap.Error(err))
		}
	}
	return nil
}
