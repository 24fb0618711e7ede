package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/foresight/internal/dedup"
	"github.com/sells-group/foresight/internal/ensemble"
	"github.com/sells-group/foresight/internal/fetcher"
	"github.com/sells-group/foresight/internal/lifecycle"
	"github.com/sells-group/foresight/internal/model"
	"github.com/sells-group/foresight/internal/scheduler"
	"github.com/sells-group/foresight/internal/store"
)

type stubFetch struct {
	items []fetcher.Item
	err   error
	calls int
}

func (s *stubFetch) Fetch(_ context.Context, _ model.Source) ([]fetcher.Item, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.items, nil
}

type stubAnalyst struct {
	name       string
	assessment ensemble.Assessment
}

func (s stubAnalyst) Name() string { return s.name }

func (s stubAnalyst) Assess(_ context.Context, _ model.Article, _ model.Target, _ model.Universe) (ensemble.Assessment, error) {
	return s.assessment, nil
}

type fixture struct {
	store *store.SQLiteStore
	fetch *stubFetch
	p     *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	fetch := &stubFetch{}
	sched := scheduler.New(scheduler.Config{BatchSize: 10}, st)
	eng := dedup.New(dedup.DefaultConfig(), st)
	eval := ensemble.New(ensemble.DefaultConfig(), []ensemble.Analyst{
		stubAnalyst{name: "stub", assessment: ensemble.Assessment{
			Direction: model.SentimentBullish, Strength: 7, Confidence: 0.9, Reasoning: "stub",
		}},
	})
	life := lifecycle.New(st, lifecycle.Thresholds{
		MinPredictors: 1, MinCombinedStrength: 1, MinConsensus: 0.5,
	}, nil)

	return &fixture{
		store: st,
		fetch: fetch,
		p:     New(st, sched, fetch, eng, eval, life, "t1"),
	}
}

func (f *fixture) addSource(t *testing.T, filter model.FilterConfig) *model.Source {
	t.Helper()
	src, err := f.store.CreateSource(context.Background(), model.Source{
		TenantID: "t1", Name: "wire", URL: "https://feed.example/rss",
		Type: model.SourceTypeRSS, CrawlFrequencyMins: 15, Active: true, Filter: filter,
	})
	require.NoError(t, err)
	return src
}

func (f *fixture) rewindCrawl(t *testing.T, sourceID string) {
	t.Helper()
	src, err := f.store.GetSource(context.Background(), sourceID)
	require.NoError(t, err)
	past := time.Now().UTC().Add(-2 * time.Hour)
	src.LastCrawlAt = &past
	require.NoError(t, f.store.UpdateSourceHealth(context.Background(), *src))
}

func TestCrawlPass_IngestsNewArticles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.addSource(t, model.FilterConfig{})
	f.fetch.items = []fetcher.Item{
		{Title: "Acme beats earnings estimates", Body: "Quarterly revenue above expectations for Acme Corp."},
		{Title: "Widget demand slows down sharply", Body: "Analysts see softening demand across the widget sector."},
	}

	summary, err := f.p.CrawlPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sources)
	assert.Equal(t, 2, summary.ItemsSeen)
	assert.Equal(t, 2, summary.NewArticles)
	assert.Equal(t, 0, summary.Dedup.Total())

	// Same items again are caught at layer 1.
	f.rewindCrawl(t, src.ID)
	summary, err = f.p.CrawlPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.NewArticles)
	assert.Equal(t, 2, summary.Dedup.ExactSameSource)
}

func TestCrawlPass_SourceNotDueSkipped(t *testing.T) {
	f := newFixture(t)
	f.addSource(t, model.FilterConfig{})
	f.fetch.items = []fetcher.Item{{Title: "first pass item", Body: "body text"}}

	_, err := f.p.CrawlPass(context.Background())
	require.NoError(t, err)

	// Freshly crawled source is not due.
	summary, err := f.p.CrawlPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Sources)
	assert.Equal(t, 1, f.fetch.calls)
}

func TestCrawlPass_FilterApplied(t *testing.T) {
	f := newFixture(t)
	f.addSource(t, model.FilterConfig{KeywordsInclude: []string{"acme"}})
	f.fetch.items = []fetcher.Item{
		{Title: "Acme announces new product line", Body: "details"},
		{Title: "Unrelated sports news", Body: "local league"},
	}

	summary, err := f.p.CrawlPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ItemsSeen)
	assert.Equal(t, 1, summary.NewArticles)
}

func TestCrawlPass_FetchFailureFlagsSource(t *testing.T) {
	f := newFixture(t)
	src := f.addSource(t, model.FilterConfig{})
	f.fetch.err = eris.New("connection refused")

	for i := 0; i < scheduler.AttentionThreshold; i++ {
		summary, err := f.p.CrawlPass(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Failed)
		f.rewindCrawl(t, src.ID)
	}

	got, err := f.store.GetSource(context.Background(), src.ID)
	require.NoError(t, err)
	assert.True(t, got.NeedsAttention)
	assert.GreaterOrEqual(t, got.ConsecutiveErrors, scheduler.AttentionThreshold)
}

func seedEvalWorld(t *testing.T, f *fixture) (*model.Source, *model.Target) {
	t.Helper()
	ctx := context.Background()

	src := f.addSource(t, model.FilterConfig{})
	u, err := f.store.CreateUniverse(ctx, model.Universe{
		TenantID: "t1", Name: "tech", Domain: model.DomainStocks, Risk: model.RiskBalanced,
	})
	require.NoError(t, err)
	target, _, err := f.store.CreateTarget(ctx, model.Target{
		UniverseID: u.ID, Symbol: "ACME", Name: "Acme Corp",
	})
	require.NoError(t, err)
	_, err = f.store.UpsertSubscription(ctx, model.Subscription{SourceID: src.ID, TargetID: target.ID})
	require.NoError(t, err)
	_, err = f.store.CreateAnalyst(ctx, model.Analyst{
		TenantID: "t1", Name: "stub", Scope: model.ScopeGlobal, Weight: 1, Tier: 1, Enabled: true,
	})
	require.NoError(t, err)
	return src, target
}

func TestEvaluateArticle_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src, target := seedEvalWorld(t, f)

	article, err := f.store.CreateArticle(ctx, model.Article{
		TenantID: "t1", SourceID: src.ID,
		Title: "Acme beats earnings estimates", ContentHash: "h1",
	})
	require.NoError(t, err)

	require.NoError(t, f.p.EvaluateArticle(ctx, article.ID))

	got, err := f.store.GetArticle(ctx, article.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ArticleStatusEvaluated, got.Status)

	active, err := f.store.ListPredictions(ctx, store.PredictionFilter{
		TargetID: target.ID, Status: model.PredictionActive,
	})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, model.OutcomeUp, active[0].Direction)
	assert.Equal(t, 1, active[0].PredictorCount)
}

func TestEvaluateArticle_NoSubscriptionsSkips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.addSource(t, model.FilterConfig{})

	article, err := f.store.CreateArticle(ctx, model.Article{
		TenantID: "t1", SourceID: src.ID, Title: "orphan item", ContentHash: "h2",
	})
	require.NoError(t, err)

	require.NoError(t, f.p.EvaluateArticle(ctx, article.ID))

	got, err := f.store.GetArticle(ctx, article.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ArticleStatusSkipped, got.Status)
}

func TestEvaluateArticle_RespectsTestBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, target := seedEvalWorld(t, f)

	// A test source subscribed to the same production target.
	testSrc, err := f.store.CreateSource(ctx, model.Source{
		TenantID: "t1", Name: "sandbox", URL: "https://sandbox.example/rss",
		Type: model.SourceTypeRSS, CrawlFrequencyMins: 15, Active: true, IsTest: true,
	})
	require.NoError(t, err)
	_, err = f.store.UpsertSubscription(ctx, model.Subscription{SourceID: testSrc.ID, TargetID: target.ID})
	require.NoError(t, err)

	article, err := f.store.CreateArticle(ctx, model.Article{
		TenantID: "t1", SourceID: testSrc.ID,
		Title: "Acme beats earnings estimates", ContentHash: "h3", IsTest: true,
	})
	require.NoError(t, err)

	require.NoError(t, f.p.EvaluateArticle(ctx, article.ID))

	// Test article never evaluated against the production target.
	got, err := f.store.GetArticle(ctx, article.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ArticleStatusSkipped, got.Status)

	active, err := f.store.ListPredictions(ctx, store.PredictionFilter{
		TargetID: target.ID, Status: model.PredictionActive,
	})
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestEvaluateArticle_MirrorTargetFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	testSrc, err := f.store.CreateSource(ctx, model.Source{
		TenantID: "t1", Name: "sandbox", URL: "https://sandbox.example/rss",
		Type: model.SourceTypeRSS, CrawlFrequencyMins: 15, Active: true, IsTest: true,
	})
	require.NoError(t, err)
	u, err := f.store.CreateUniverse(ctx, model.Universe{
		TenantID: "t1", Name: "tech", Domain: model.DomainStocks, Risk: model.RiskBalanced,
	})
	require.NoError(t, err)
	_, mirror, err := f.store.CreateTarget(ctx, model.Target{
		UniverseID: u.ID, Symbol: "ACME", Name: "Acme Corp",
	})
	require.NoError(t, err)
	_, err = f.store.UpsertSubscription(ctx, model.Subscription{SourceID: testSrc.ID, TargetID: mirror.ID})
	require.NoError(t, err)
	_, err = f.store.CreateAnalyst(ctx, model.Analyst{
		TenantID: "t1", Name: "stub", Scope: model.ScopeGlobal, Weight: 1, Tier: 1, Enabled: true,
	})
	require.NoError(t, err)

	article, err := f.store.CreateArticle(ctx, model.Article{
		TenantID: "t1", SourceID: testSrc.ID,
		Title: "Acme beats earnings estimates", ContentHash: "h4", IsTest: true,
	})
	require.NoError(t, err)

	require.NoError(t, f.p.EvaluateArticle(ctx, article.ID))

	active, err := f.store.ListPredictions(ctx, store.PredictionFilter{
		TargetID: mirror.ID, Status: model.PredictionActive,
	})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, active[0].IsTest)
}
