package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

func sampleRecord() harvest.ArticleRecord {
	summary := "摘要"
	return harvest.ArticleRecord{
		ID:          "90001",
		URL:         "https://sspai.com/post/90001",
		Title:       "标题",
		Author:      "作者",
		Content:     "正文",
		PublishTime: "2024-01-01",
		FetchTime:   "2024-05-01T10:00:00.000000Z",
		Summary:     &summary,
		Status:      harvest.StatusOK,
	}
}

func TestNewArticleStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewArticleStore(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewArticleStore(mock, "articles; DROP TABLE x")
	require.Error(t, err)

	s, err := NewArticleStore(mock, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultArticleTable, s.table)
}

func TestArticleStoreAppendUpserts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewArticleStore(mock, "articles")
	require.NoError(t, err)

	rec := sampleRecord()
	fetchedAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO articles .* ON CONFLICT \(id\) DO UPDATE SET`).
		WithArgs(int64(90001), rec.URL, rec.Title, rec.Author, rec.Content, rec.PublishTime,
			fetchedAt, rec.Summary, harvest.StatusOK).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Append(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArticleStoreAppendRejectsBadRecords(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s, err := NewArticleStore(mock, "articles")
	require.NoError(t, err)

	rec := sampleRecord()
	rec.ID = "abc"
	require.Error(t, s.Append(context.Background(), rec))

	rec = sampleRecord()
	rec.FetchTime = "yesterday"
	require.Error(t, s.Append(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArticleStoreAppendExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s, err := NewArticleStore(mock, "articles")
	require.NoError(t, err)

	boom := errors.New("connection reset")
	mock.ExpectExec("INSERT INTO articles").WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(boom)

	err = s.Append(context.Background(), sampleRecord())
	require.ErrorIs(t, err, boom)
}

func TestArticleStoreMaxID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s, err := NewArticleStore(mock, "articles")
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT COALESCE\(MAX\(id\), 0\), COUNT\(\*\) FROM articles`).
		WillReturnRows(pgxmock.NewRows([]string{"max", "count"}).AddRow(int64(90003), int64(3)))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(id\), 0\), COUNT\(\*\) FROM articles`).
		WillReturnRows(pgxmock.NewRows([]string{"max", "count"}).AddRow(int64(0), int64(0)))

	maxID, ok, err := s.MaxID(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(90003), maxID)

	_, ok, err = s.MaxID(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArticleStoreEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s, err := NewArticleStore(mock, "mirror")
	require.NoError(t, err)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS mirror`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
