package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/foresight/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

var sourceColNames = []string{
	"id", "tenant_id", "name", "url", "type", "crawl_frequency_mins",
	"filter", "active", "is_test", "last_crawl_at", "last_crawl_status",
	"consecutive_errors", "needs_attention", "created_at", "updated_at",
}

func TestPostgresStore_GetSource(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`FROM sources WHERE id = \$1`).
		WithArgs("src-1").
		WillReturnRows(pgxmock.NewRows(sourceColNames).AddRow(
			"src-1", "t1", "Acme Wire", "https://acme.example/feed", model.SourceTypeRSS, 60,
			[]byte(`{}`), true, false, (*time.Time)(nil), "",
			0, false, now, now,
		))

	src, err := s.GetSource(context.Background(), "src-1")
	require.NoError(t, err)
	assert.Equal(t, "t1", src.TenantID)
	assert.Equal(t, model.SourceTypeRSS, src.Type)
	assert.Nil(t, src.LastCrawlAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSource_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM sources WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetSource(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetSourceActive_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE sources SET active = \$1`).
		WithArgs(false, pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SetSourceActive(context.Background(), "missing", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkArticleStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE articles SET status = \$1, claimed_by = ''`).
		WithArgs("evaluated", "art-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.MarkArticleStatus(context.Background(), "art-1", model.ArticleStatusEvaluated)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ContentHashExists(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT 1 FROM articles WHERE tenant_id = \$1 AND source_id = \$2`).
		WithArgs("t1", "src-1", "hash-a").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))

	exists, err := s.ContentHashExists(context.Background(), "t1", "src-1", "hash-a")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ContentHashExists_Miss(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT 1 FROM articles WHERE tenant_id = \$1 AND content_hash = \$2`).
		WithArgs("t1", "hash-b").
		WillReturnError(pgx.ErrNoRows)

	exists, err := s.ContentHashExistsInTenant(context.Background(), "t1", "hash-b")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimArticle_EmptyQueue(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`UPDATE articles SET claimed_by = \$1`).
		WithArgs("worker-1", now, now.Add(-10*time.Minute)).
		WillReturnError(pgx.ErrNoRows)

	id, ok, err := s.ClaimArticle(context.Background(), "worker-1", now, 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReapArticleClaims(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	mock.ExpectExec(`UPDATE articles SET claimed_by = '', claimed_at = NULL`).
		WithArgs(now.Add(-10 * time.Minute)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	reaped, err := s.ReapArticleClaims(context.Background(), now, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, reaped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ExpirePredictors(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	mock.ExpectExec(`UPDATE predictors SET status = 'expired'`).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	expired, err := s.ExpirePredictors(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, expired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListCrawlRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	started := time.Now().UTC().Add(-time.Hour)
	since := started.Add(-23 * time.Hour)
	completed := started.Add(time.Minute)

	mock.ExpectQuery(`FROM crawl_runs r JOIN sources src ON src\.id = r\.source_id`).
		WithArgs("t1", since, 100).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "source_id", "status", "items_seen", "dedup", "error", "retry_count", "started_at", "completed_at",
		}).AddRow(
			"run-1", "src-1", model.CrawlStatusSuccess, 12,
			[]byte(`{"new":9,"exact_same_source":3}`), "", 0, started, &completed,
		))

	runs, err := s.ListCrawlRuns(context.Background(), "t1", since, 100)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.CrawlStatusSuccess, runs[0].Status)
	assert.Equal(t, 9, runs[0].Dedup.New)
	assert.Equal(t, 3, runs[0].Dedup.ExactSameSource)
	require.NotNil(t, runs[0].CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
