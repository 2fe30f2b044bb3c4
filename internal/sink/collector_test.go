package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

func TestCollectorKeepsOrder(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	for _, id := range []string{"3", "1", "2"} {
		require.NoError(t, c.Append(context.Background(), sampleRecord(id)))
	}
	records := c.Records()
	require.Len(t, records, 3)
	assert.Equal(t, "3", records[0].ID)
	assert.Equal(t, "2", records[2].ID)

	records[0].ID = "mutated"
	assert.Equal(t, "3", c.Records()[0].ID)
	assert.Equal(t, 3, c.Len())
}

type failingAppender struct{ err error }

func (f failingAppender) Append(context.Context, harvest.ArticleRecord) error { return f.err }

func TestTeeMirrorFailureDoesNotFailAppend(t *testing.T) {
	t.Parallel()

	primary := NewCollector()
	mirror := NewCollector()
	tee := Tee(primary, zap.NewNop(), failingAppender{err: errors.New("db down")}, nil, mirror)

	require.NoError(t, tee.Append(context.Background(), sampleRecord("1")))
	assert.Equal(t, 1, primary.Len())
	assert.Equal(t, 1, mirror.Len())
}

func TestTeePrimaryFailureFailsAppend(t *testing.T) {
	t.Parallel()

	mirror := NewCollector()
	tee := Tee(failingAppender{err: errors.New("disk full")}, nil, mirror)

	require.Error(t, tee.Append(context.Background(), sampleRecord("1")))
	assert.Equal(t, 0, mirror.Len())
}

func TestWriteJSONArray(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, []harvest.ArticleRecord{sampleRecord("1"), sampleRecord("2")}))
	assert.Contains(t, buf.String(), "\n  {\n")
	assert.Contains(t, buf.String(), "少数派 <标题>")

	var decoded []harvest.ArticleRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)

	buf.Reset()
	require.NoError(t, WriteJSON(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestRenderReport(t *testing.T) {
	t.Parallel()

	first := sampleRecord("90001")
	second := sampleRecord("90002")
	second.Title = ""
	second.Summary = nil
	at := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

	report := RenderReport([]harvest.ArticleRecord{first, second}, at)

	assert.Contains(t, report, "# Article Summary Report")
	assert.Contains(t, report, "Generated: 2024-05-01 12:30:00")
	assert.Contains(t, report, "Articles: 2")
	assert.Contains(t, report, "## 1. 少数派 <标题> 90001")
	assert.Contains(t, report, "**Summary**: 摘要 90001")
	assert.Contains(t, report, "## 2. Untitled")
	assert.Contains(t, report, "(no summary)")
	assert.Contains(t, report, "**Link**: https://sspai.com/post/90002")
}
