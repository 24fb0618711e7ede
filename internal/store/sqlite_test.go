package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/foresight/internal/isolation"
	"github.com/sells-group/foresight/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedSource(t *testing.T, st *SQLiteStore, isTest bool) *model.Source {
	t.Helper()
	src, err := st.CreateSource(context.Background(), model.Source{
		TenantID:           "t1",
		Name:               "wire",
		URL:                "https://feed.example/rss",
		Type:               model.SourceTypeRSS,
		CrawlFrequencyMins: 15,
		Active:             true,
		IsTest:             isTest,
	})
	require.NoError(t, err)
	return src
}

func seedUniverse(t *testing.T, st *SQLiteStore) *model.Universe {
	t.Helper()
	u, err := st.CreateUniverse(context.Background(), model.Universe{
		TenantID: "t1", Name: "tech", Domain: model.DomainStocks, Risk: model.RiskBalanced,
	})
	require.NoError(t, err)
	return u
}

func seedTarget(t *testing.T, st *SQLiteStore, universeID string) (*model.Target, *model.Target) {
	t.Helper()
	target, mirror, err := st.CreateTarget(context.Background(), model.Target{
		UniverseID: universeID, Symbol: "ACME", Name: "Acme Corp",
	})
	require.NoError(t, err)
	return target, mirror
}

func seedArticle(t *testing.T, st *SQLiteStore, src *model.Source, hash string) *model.Article {
	t.Helper()
	a, err := st.CreateArticle(context.Background(), model.Article{
		TenantID:    "t1",
		SourceID:    src.ID,
		Title:       "Acme beats estimates " + hash,
		ContentHash: hash,
		IsTest:      src.IsTest,
	})
	require.NoError(t, err)
	return a
}

func seedAnalyst(t *testing.T, st *SQLiteStore) *model.Analyst {
	t.Helper()
	a, err := st.CreateAnalyst(context.Background(), model.Analyst{
		TenantID: "t1", Name: "momentum", Scope: model.ScopeGlobal, Weight: 1, Tier: 1, Enabled: true,
	})
	require.NoError(t, err)
	return a
}

// --- Sources ---

func TestSQLite_Source_CreateGetRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	src := seedSource(t, st, false)

	got, err := st.GetSource(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Equal(t, src.URL, got.URL)
	assert.Equal(t, 15, got.CrawlFrequencyMins)
	assert.True(t, got.Active)
	assert.Nil(t, got.LastCrawlAt)
}

func TestSQLite_Source_InvalidFrequencyRejected(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.CreateSource(context.Background(), model.Source{
		TenantID: "t1", URL: "https://x.example", Type: model.SourceTypeRSS, CrawlFrequencyMins: 7,
	})
	assert.Error(t, err)
}

func TestSQLite_DueSources_ExcludesFreshAndTest(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	never := seedSource(t, st, false)
	testSrc := seedSource(t, st, true)

	fresh := seedSource(t, st, false)
	now := time.Now().UTC()
	fresh.LastCrawlAt = &now
	require.NoError(t, st.UpdateSourceHealth(ctx, *fresh))

	due, err := st.DueSources(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, never.ID, due[0].ID)
	assert.NotEqual(t, testSrc.ID, due[0].ID)
}

func TestSQLite_DueSources_OverdueReturned(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	src := seedSource(t, st, false)

	past := time.Now().UTC().Add(-2 * time.Hour)
	src.LastCrawlAt = &past
	require.NoError(t, st.UpdateSourceHealth(ctx, *src))

	due, err := st.DueSources(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, src.ID, due[0].ID)
}

// --- Targets and mirrors ---

func TestSQLite_CreateTarget_AutoMirror(t *testing.T) {
	st := newTestSQLiteStore(t)
	u := seedUniverse(t, st)
	target, mirror := seedTarget(t, st, u.ID)

	assert.False(t, target.IsTest)
	assert.True(t, mirror.IsTest)
	assert.Equal(t, "T_ACME", mirror.Symbol)
	assert.Equal(t, target.ID, mirror.MirrorOfID)

	got, err := st.GetTargetBySymbol(context.Background(), u.ID, "T_ACME")
	require.NoError(t, err)
	assert.True(t, got.IsTest)
}

func TestSQLite_CreateTarget_MirrorPrefixRejected(t *testing.T) {
	st := newTestSQLiteStore(t)
	u := seedUniverse(t, st)

	_, _, err := st.CreateTarget(context.Background(), model.Target{
		UniverseID: u.ID, Symbol: "T_FAKE",
	})
	require.Error(t, err)
	assert.True(t, isolation.IsViolation(err))
}

// --- Articles ---

func TestSQLite_CreateArticle_IdempotentOnHash(t *testing.T) {
	st := newTestSQLiteStore(t)
	src := seedSource(t, st, false)

	first := seedArticle(t, st, src, "hash-a")
	second, err := st.CreateArticle(context.Background(), model.Article{
		TenantID: "t1", SourceID: src.ID, Title: "replayed", ContentHash: "hash-a",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	exists, err := st.ContentHashExistsInTenant(context.Background(), "t1", "hash-a")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSQLite_CreateArticle_TestSourceGuard(t *testing.T) {
	st := newTestSQLiteStore(t)
	src := seedSource(t, st, true)

	_, err := st.CreateArticle(context.Background(), model.Article{
		TenantID: "t1", SourceID: src.ID, Title: "leak", ContentHash: "h", IsTest: false,
	})
	require.Error(t, err)
	assert.True(t, isolation.IsViolation(err))
}

func TestSQLite_CreateArticle_SyntheticMustBeTest(t *testing.T) {
	st := newTestSQLiteStore(t)
	src := seedSource(t, st, false)

	_, err := st.CreateArticle(context.Background(), model.Article{
		TenantID: "t1", SourceID: src.ID, Title: "synthetic", ContentHash: "h2",
		IsSynthetic: true, IsTest: false,
	})
	require.Error(t, err)
	assert.True(t, isolation.IsViolation(err))
}

func TestSQLite_RecentArticles_WindowAndLimit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	src := seedSource(t, st, false)
	for i := 0; i < 5; i++ {
		seedArticle(t, st, src, string(rune('a'+i)))
	}

	recent, err := st.RecentArticles(ctx, "t1", time.Now().UTC().Add(-time.Hour), 3)
	require.NoError(t, err)
	assert.Len(t, recent, 3)

	none, err := st.RecentArticles(ctx, "t1", time.Now().UTC().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

// --- Claim-lease queue ---

func TestSQLite_ClaimArticle_LeaseSemantics(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	src := seedSource(t, st, false)
	a := seedArticle(t, st, src, "claim-1")

	now := time.Now().UTC()
	id, ok, err := st.ClaimArticle(ctx, "w1", now, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, a.ID, id)

	// Second worker inside the lease sees nothing.
	_, ok, err = st.ClaimArticle(ctx, "w2", now.Add(time.Minute), 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// Past the lease the claim is stale and transfers.
	id, ok, err = st.ClaimArticle(ctx, "w2", now.Add(6*time.Minute), 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, a.ID, id)
}

func TestSQLite_ClaimArticle_EvaluatedNotClaimable(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	src := seedSource(t, st, false)
	a := seedArticle(t, st, src, "claim-2")

	require.NoError(t, st.MarkArticleStatus(ctx, a.ID, model.ArticleStatusEvaluated))

	_, ok, err := st.ClaimArticle(ctx, "w1", time.Now().UTC(), 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLite_ReapArticleClaims(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	src := seedSource(t, st, false)
	seedArticle(t, st, src, "reap-1")

	now := time.Now().UTC()
	_, ok, err := st.ClaimArticle(ctx, "w1", now.Add(-10*time.Minute), 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := st.ReapArticleClaims(ctx, now, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Reaped item is immediately claimable again.
	_, ok, err = st.ClaimArticle(ctx, "w2", now, 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLite_RetryArticle_KeepsClaimAndCountsAttempts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	src := seedSource(t, st, false)
	a := seedArticle(t, st, src, "retry-1")

	now := time.Now().UTC()
	_, ok, err := st.ClaimArticle(ctx, "w1", now, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	attempts, err := st.RetryArticle(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	// The claim stamp survives the retry, so the item is not claimable
	// again inside the lease window.
	_, ok, err = st.ClaimArticle(ctx, "w2", now.Add(time.Minute), 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// After the lease expires it comes back, with the attempt count intact.
	id, ok, err := st.ClaimArticle(ctx, "w2", now.Add(6*time.Minute), 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, a.ID, id)

	attempts, err = st.RetryArticle(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestSQLite_FailedArticleNotClaimable(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	src := seedSource(t, st, false)
	a := seedArticle(t, st, src, "failed-1")

	require.NoError(t, st.MarkArticleStatus(ctx, a.ID, model.ArticleStatusFailed))

	_, ok, err := st.ClaimArticle(ctx, "w1", time.Now().UTC(), 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

// --- Predictors ---

func TestSQLite_CreatePredictor_GuardsBoundary(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	src := seedSource(t, st, false)
	u := seedUniverse(t, st)
	target, mirror := seedTarget(t, st, u.ID)
	analyst := seedAnalyst(t, st)
	article := seedArticle(t, st, src, "pred-1")

	base := model.Predictor{
		TenantID: "t1", ArticleID: article.ID, AnalystID: analyst.ID,
		Direction: model.SentimentBullish, Strength: 7, Confidence: 0.8,
		ExpiresAt: time.Now().UTC().Add(72 * time.Hour),
	}

	// Production predictor on a mirror target is rejected.
	bad := base
	bad.TargetID = mirror.ID
	_, err := st.CreatePredictor(ctx, bad)
	require.Error(t, err)
	assert.True(t, isolation.IsViolation(err))

	good := base
	good.TargetID = target.ID
	created, err := st.CreatePredictor(ctx, good)
	require.NoError(t, err)
	assert.Equal(t, model.PredictorActive, created.Status)
}

func TestSQLite_Predictors_ConsumeAndExpire(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	src := seedSource(t, st, false)
	u := seedUniverse(t, st)
	target, _ := seedTarget(t, st, u.ID)
	analyst := seedAnalyst(t, st)
	article := seedArticle(t, st, src, "pred-2")

	mk := func(expiry time.Duration) *model.Predictor {
		p, err := st.CreatePredictor(ctx, model.Predictor{
			TenantID: "t1", ArticleID: article.ID, AnalystID: analyst.ID, TargetID: target.ID,
			Direction: model.SentimentBullish, Strength: 5, Confidence: 0.7,
			ExpiresAt: time.Now().UTC().Add(expiry),
		})
		require.NoError(t, err)
		return p
	}
	keep := mk(72 * time.Hour)
	stale := mk(-time.Hour)

	n, err := st.ExpirePredictors(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	active, err := st.ActivePredictors(ctx, target.ID, analyst.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, keep.ID, active[0].ID)

	require.NoError(t, st.ConsumePredictors(ctx, "pred-id", []string{keep.ID, stale.ID}))
	active, err = st.ActivePredictors(ctx, target.ID, analyst.ID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

// --- Predictions ---

func TestSQLite_CreatePredictionSuperseding_OneActive(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	u := seedUniverse(t, st)
	target, _ := seedTarget(t, st, u.ID)
	analyst := seedAnalyst(t, st)

	mk := func() *model.Prediction {
		p, err := st.CreatePredictionSuperseding(ctx, model.Prediction{
			TenantID: "t1", TargetID: target.ID, AnalystID: analyst.ID,
			Direction: model.OutcomeUp, CombinedStrength: 18, Consensus: 0.8, PredictorCount: 3,
		}, "superseded by fresh aggregation")
		require.NoError(t, err)
		return p
	}
	first := mk()
	second := mk()

	old, err := st.GetPrediction(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PredictionSuperseded, old.Status)
	assert.NotNil(t, old.EndedAt)

	active, err := st.ListPredictions(ctx, PredictionFilter{TargetID: target.ID, Status: model.PredictionActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)
}

func TestSQLite_CreatePrediction_MirrorFlagGuard(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	u := seedUniverse(t, st)
	_, mirror := seedTarget(t, st, u.ID)
	analyst := seedAnalyst(t, st)

	_, err := st.CreatePredictionSuperseding(ctx, model.Prediction{
		TenantID: "t1", TargetID: mirror.ID, AnalystID: analyst.ID,
		Direction: model.OutcomeUp, IsTest: false,
	}, "x")
	require.Error(t, err)
	assert.True(t, isolation.IsViolation(err))
}

func TestSQLite_ResolvePrediction_OnlyActive(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	u := seedUniverse(t, st)
	target, _ := seedTarget(t, st, u.ID)
	analyst := seedAnalyst(t, st)

	p, err := st.CreatePredictionSuperseding(ctx, model.Prediction{
		TenantID: "t1", TargetID: target.ID, AnalystID: analyst.ID, Direction: model.OutcomeUp,
	}, "x")
	require.NoError(t, err)

	require.NoError(t, st.ResolvePrediction(ctx, p.ID, model.PredictionResolved, "outcome realized"))
	err = st.ResolvePrediction(ctx, p.ID, model.PredictionResolved, "again")
	assert.Error(t, err)
}

// --- Review queue ---

func TestSQLite_DecideReview_SecondDecisionRejected(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	u := seedUniverse(t, st)
	target, _ := seedTarget(t, st, u.ID)
	analyst := seedAnalyst(t, st)

	p, err := st.CreatePredictionSuperseding(ctx, model.Prediction{
		TenantID: "t1", TargetID: target.ID, AnalystID: analyst.ID, Direction: model.OutcomeUp,
	}, "x")
	require.NoError(t, err)
	eval, err := st.CreateEvaluation(ctx, model.Evaluation{
		PredictionID: p.ID, ActualOutcome: model.OutcomeUp, DirectionCorrect: true, Score: 0.9, Confidence: 0.5,
	})
	require.NoError(t, err)
	entry, err := st.EnqueueReview(ctx, model.ReviewQueueEntry{
		EvaluationID: eval.ID, SystemDirection: model.OutcomeUp, SystemConfidence: 0.5,
	})
	require.NoError(t, err)

	decision := model.ReviewDecision{Status: model.ReviewApproved, DecidedBy: "ops"}
	require.NoError(t, st.DecideReview(ctx, entry.ID, decision))
	assert.Error(t, st.DecideReview(ctx, entry.ID, decision))

	got, err := st.GetReview(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReviewApproved, got.Status)
	assert.NotNil(t, got.DecidedAt)
}

// --- Subscriptions ---

func TestSQLite_Watermark_ForwardOnly(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	src := seedSource(t, st, false)
	u := seedUniverse(t, st)
	target, _ := seedTarget(t, st, u.ID)

	sub, err := st.UpsertSubscription(ctx, model.Subscription{SourceID: src.ID, TargetID: target.ID})
	require.NoError(t, err)

	forward := time.Now().UTC().Add(time.Hour)
	require.NoError(t, st.AdvanceWatermark(ctx, sub.ID, forward))

	// Rewinding is a no-op.
	require.NoError(t, st.AdvanceWatermark(ctx, sub.ID, forward.Add(-2*time.Hour)))

	got, err := st.GetSubscription(ctx, src.ID, target.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, forward, got.LastProcessedAt, time.Second)
}

// --- Learnings ---

func TestSQLite_Learning_RoundTripAndLineage(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	l, err := st.CreateLearning(ctx, model.Learning{
		TenantID: "t1", Kind: model.LearningPattern, Scope: model.ScopeGlobal,
		Content: "sector sympathy moves fade within a day", IsTest: true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StageCreated, l.Stage)

	score := 0.8
	l.Stage = model.StageValidated
	l.TimesApplied = 3
	l.BacktestScore = &score
	require.NoError(t, st.UpdateLearning(ctx, *l))

	got, err := st.GetLearning(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageValidated, got.Stage)
	assert.Equal(t, 3, got.TimesApplied)
	require.NotNil(t, got.BacktestScore)
	assert.InDelta(t, 0.8, *got.BacktestScore, 0.001)

	prod, err := st.CreateLearning(ctx, model.Learning{
		TenantID: "t1", Kind: model.LearningPattern, Scope: model.ScopeGlobal,
		Content: got.Content, Stage: model.StagePromoted,
	})
	require.NoError(t, err)
	require.NoError(t, st.RecordLineage(ctx, model.LearningLineage{
		TestLearningID: l.ID, ProdLearningID: prod.ID, BacktestScore: 0.8,
	}))

	isTest := true
	test, err := st.ListLearnings(ctx, LearningFilter{TenantID: "t1", IsTest: &isTest})
	require.NoError(t, err)
	assert.Len(t, test, 1)
}

// --- Stats ---

func TestSQLite_Stats_Snapshot(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	src := seedSource(t, st, false)
	seedArticle(t, st, src, "stat-1")
	seedArticle(t, st, src, "stat-2")

	stats, err := st.Stats(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SourcesActive)
	assert.Equal(t, 2, stats.ArticlesPending)
	assert.Zero(t, stats.PredictionsActive)
}
