package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/article-harvester/internal/progress"
)

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))
	runID := uuid.New()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunStart, StartID: 1, EndID: 2},
		{RunID: runID, TS: time.Now(), Stage: progress.StageItemDone, ArticleID: 1, Outcome: "fetch_error", Note: "timeout"},
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunDone, Dur: time.Second},
	}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, "timeout", entries[1].ContextMap()["note"])
	assert.Equal(t, runID.String(), entries[2].ContextMap()["run_id"])
}
