package monitoring

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/foresight/internal/model"
	"github.com/sells-group/foresight/internal/store"
)

func newMonitorStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedMonitorSource(t *testing.T, st *store.SQLiteStore) *model.Source {
	t.Helper()
	src, err := st.CreateSource(context.Background(), model.Source{
		TenantID: "t1", Name: "wire", URL: "https://feed.example/rss",
		Type: model.SourceTypeRSS, CrawlFrequencyMins: 15, Active: true,
	})
	require.NoError(t, err)
	return src
}

func TestCollector_Collect(t *testing.T) {
	st := newMonitorStore(t)
	ctx := context.Background()
	src := seedMonitorSource(t, st)

	_, err := st.CreateCrawlRun(ctx, model.CrawlRun{
		SourceID: src.ID, Status: model.CrawlStatusSuccess, ItemsSeen: 10,
		Dedup: model.DedupCounts{New: 7, ExactSameSource: 2, CrossSource: 1},
	})
	require.NoError(t, err)
	_, err = st.CreateCrawlRun(ctx, model.CrawlRun{
		SourceID: src.ID, Status: model.CrawlStatusFailed, Error: "connection refused",
	})
	require.NoError(t, err)

	_, err = st.CreateArticle(ctx, model.Article{
		TenantID: "t1", SourceID: src.ID, Title: "pending item", ContentHash: "h1",
	})
	require.NoError(t, err)

	snap, err := NewCollector(st, "t1").Collect(ctx, 24)
	require.NoError(t, err)

	assert.Equal(t, 1, snap.SourcesActive)
	assert.Equal(t, 1, snap.ArticlesPending)
	assert.Equal(t, 2, snap.CrawlTotal)
	assert.Equal(t, 1, snap.CrawlFailed)
	assert.InDelta(t, 0.5, snap.CrawlFailRate, 0.001)
	assert.Equal(t, 10, snap.ItemsSeen)
	assert.Equal(t, 7, snap.NewArticles)
	assert.Equal(t, 3, snap.Duplicates)
	assert.Equal(t, 24, snap.LookbackHours)
}

func TestCollector_LookbackExcludesOldRuns(t *testing.T) {
	st := newMonitorStore(t)
	ctx := context.Background()
	src := seedMonitorSource(t, st)

	_, err := st.CreateCrawlRun(ctx, model.CrawlRun{
		SourceID: src.ID, Status: model.CrawlStatusSuccess,
		StartedAt: time.Now().UTC().Add(-48 * time.Hour),
	})
	require.NoError(t, err)
	_, err = st.CreateCrawlRun(ctx, model.CrawlRun{
		SourceID: src.ID, Status: model.CrawlStatusSuccess,
	})
	require.NoError(t, err)

	snap, err := NewCollector(st, "t1").Collect(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.CrawlTotal)
}

func TestCollector_SourcesAttention(t *testing.T) {
	st := newMonitorStore(t)
	ctx := context.Background()
	src := seedMonitorSource(t, st)

	src.ConsecutiveErrors = 3
	src.NeedsAttention = true
	require.NoError(t, st.UpdateSourceHealth(ctx, *src))

	snap, err := NewCollector(st, "t1").Collect(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.SourcesAttention)
}
