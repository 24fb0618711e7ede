package store

import (
	"context"
	"time"

	"github.com/sells-group/foresight/internal/model"
)

// SourceFilter specifies criteria for listing sources.
type SourceFilter struct {
	TenantID       string `json:"tenant_id,omitempty"`
	Active         *bool  `json:"active,omitempty"`
	NeedsAttention *bool  `json:"needs_attention,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

// PredictionFilter specifies criteria for listing predictions.
type PredictionFilter struct {
	TenantID string                 `json:"tenant_id,omitempty"`
	TargetID string                 `json:"target_id,omitempty"`
	Status   model.PredictionStatus `json:"status,omitempty"`
	IsTest   *bool                  `json:"is_test,omitempty"`
	Limit    int                    `json:"limit,omitempty"`
}

// LearningFilter specifies criteria for listing learnings.
type LearningFilter struct {
	TenantID string              `json:"tenant_id,omitempty"`
	Stage    model.LearningStage `json:"stage,omitempty"`
	IsTest   *bool               `json:"is_test,omitempty"`
	Limit    int                 `json:"limit,omitempty"`
}

// Stats is a point-in-time operational snapshot used by the status
// command and the ops endpoint.
type Stats struct {
	SourcesActive     int            `json:"sources_active"`
	SourcesAttention  int            `json:"sources_attention"`
	ArticlesPending   int            `json:"articles_pending"`
	ReviewsPending    int            `json:"reviews_pending"`
	PredictorsActive  int            `json:"predictors_active"`
	PredictionsActive int            `json:"predictions_active"`
	LearningsByStage  map[string]int `json:"learnings_by_stage"`
	CollectedAt       time.Time      `json:"collected_at"`
}

// Store defines the persistence interface for the signal pipeline. Both
// backends run the test/production isolation checks inside the same unit
// of work as the write; callers never see a half-applied supersede or an
// unguarded cross-boundary row.
type Store interface {
	// Sources
	CreateSource(ctx context.Context, src model.Source) (*model.Source, error)
	GetSource(ctx context.Context, id string) (*model.Source, error)
	ListSources(ctx context.Context, filter SourceFilter) ([]model.Source, error)
	SetSourceActive(ctx context.Context, id string, active bool) error
	UpdateSourceHealth(ctx context.Context, src model.Source) error
	DueSources(ctx context.Context, now time.Time, limit int) ([]model.Source, error)

	// Crawl runs
	CreateCrawlRun(ctx context.Context, run model.CrawlRun) (*model.CrawlRun, error)
	CompleteCrawlRun(ctx context.Context, run model.CrawlRun) error
	// ListCrawlRuns returns runs for the tenant's sources started at or
	// after since, newest first.
	ListCrawlRuns(ctx context.Context, tenantID string, since time.Time, limit int) ([]model.CrawlRun, error)

	// Universes and targets
	CreateUniverse(ctx context.Context, u model.Universe) (*model.Universe, error)
	GetUniverse(ctx context.Context, id string) (*model.Universe, error)
	// CreateTarget inserts a real target and its test mirror atomically,
	// returning (target, mirror).
	CreateTarget(ctx context.Context, t model.Target) (*model.Target, *model.Target, error)
	GetTarget(ctx context.Context, id string) (*model.Target, error)
	GetTargetBySymbol(ctx context.Context, universeID, symbol string) (*model.Target, error)
	ListTargets(ctx context.Context, universeID string) ([]model.Target, error)
	// TargetsForSource returns the targets subscribed to a source.
	TargetsForSource(ctx context.Context, sourceID string) ([]model.Target, error)

	// Analysts and overrides
	CreateAnalyst(ctx context.Context, a model.Analyst) (*model.Analyst, error)
	ListAnalysts(ctx context.Context, tenantID string) ([]model.Analyst, error)
	UpsertOverride(ctx context.Context, o model.AnalystOverride) (*model.AnalystOverride, error)
	ListOverrides(ctx context.Context, level model.ScopeLevel, refID string) ([]model.AnalystOverride, error)

	// Articles and dedup candidates
	CreateArticle(ctx context.Context, a model.Article) (*model.Article, error)
	BulkCreateArticles(ctx context.Context, articles []model.Article) (int, error)
	GetArticle(ctx context.Context, id string) (*model.Article, error)
	MarkArticleStatus(ctx context.Context, id string, status model.ArticleStatus) error
	ContentHashExists(ctx context.Context, tenantID, sourceID, hash string) (bool, error)
	ContentHashExistsInTenant(ctx context.Context, tenantID, hash string) (bool, error)
	RecentArticles(ctx context.Context, tenantID string, since time.Time, limit int) ([]model.Article, error)

	// Evaluation queue (claim-lease)
	ClaimArticle(ctx context.Context, workerID string, now time.Time, lease time.Duration) (string, bool, error)
	// RetryArticle counts a failed attempt without releasing the claim;
	// the lease window serves as retry backoff.
	RetryArticle(ctx context.Context, id string) (int, error)
	ReapArticleClaims(ctx context.Context, now time.Time, lease time.Duration) (int, error)

	// Subscriptions (pull-model watermarks)
	UpsertSubscription(ctx context.Context, sub model.Subscription) (*model.Subscription, error)
	GetSubscription(ctx context.Context, sourceID, targetID string) (*model.Subscription, error)
	AdvanceWatermark(ctx context.Context, subscriptionID string, to time.Time) error
	ArticlesSince(ctx context.Context, sourceID string, after time.Time, limit int) ([]model.Article, error)

	// Predictors
	CreatePredictor(ctx context.Context, p model.Predictor) (*model.Predictor, error)
	ActivePredictors(ctx context.Context, targetID, analystID string) ([]model.Predictor, error)
	ConsumePredictors(ctx context.Context, predictionID string, predictorIDs []string) error
	ExpirePredictors(ctx context.Context, now time.Time) (int, error)

	// Predictions
	CreatePredictionSuperseding(ctx context.Context, p model.Prediction, reason string) (*model.Prediction, error)
	GetPrediction(ctx context.Context, id string) (*model.Prediction, error)
	ListPredictions(ctx context.Context, filter PredictionFilter) ([]model.Prediction, error)
	ResolvePrediction(ctx context.Context, predictionID string, status model.PredictionStatus, reason string) error
	ExpirePredictions(ctx context.Context, now time.Time) (int, error)

	// Evaluations and review queue
	CreateEvaluation(ctx context.Context, e model.Evaluation) (*model.Evaluation, error)
	EnqueueReview(ctx context.Context, entry model.ReviewQueueEntry) (*model.ReviewQueueEntry, error)
	GetReview(ctx context.Context, id string) (*model.ReviewQueueEntry, error)
	ListPendingReviews(ctx context.Context, limit int) ([]model.ReviewQueueEntry, error)
	DecideReview(ctx context.Context, id string, decision model.ReviewDecision) error
	ClaimReview(ctx context.Context, workerID string, now time.Time, lease time.Duration) (string, bool, error)
	ReleaseReview(ctx context.Context, id string) error
	ReapReviewClaims(ctx context.Context, now time.Time, lease time.Duration) (int, error)

	// Learnings
	CreateLearning(ctx context.Context, l model.Learning) (*model.Learning, error)
	GetLearning(ctx context.Context, id string) (*model.Learning, error)
	UpdateLearning(ctx context.Context, l model.Learning) error
	ListLearnings(ctx context.Context, filter LearningFilter) ([]model.Learning, error)
	RecordLineage(ctx context.Context, lin model.LearningLineage) error

	// Monitoring
	Stats(ctx context.Context, tenantID string) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
