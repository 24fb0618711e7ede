package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/foresight/internal/dedup"
	"github.com/sells-group/foresight/internal/ensemble"
	"github.com/sells-group/foresight/internal/fetcher"
	"github.com/sells-group/foresight/internal/lifecycle"
	"github.com/sells-group/foresight/internal/model"
	"github.com/sells-group/foresight/internal/pipeline"
	"github.com/sells-group/foresight/internal/scheduler"
	"github.com/sells-group/foresight/internal/store"
	"github.com/sells-group/foresight/internal/worker"
	"github.com/sells-group/foresight/pkg/anthropic"
)

func initStore(ctx context.Context) (store.Store, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "foresight.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// env bundles the assembled pipeline for command handlers.
type env struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Life     *lifecycle.Manager
}

func (e *env) Close() {
	e.Store.Close() //nolint:errcheck
}

func initPipeline(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	client := fetcher.NewHTTPClient(fetcher.HTTPOptions{
		UserAgent:   cfg.Crawl.UserAgent,
		Timeout:     time.Duration(cfg.Crawl.TimeoutSecs) * time.Second,
		MaxRetries:  3,
		RatePerHost: rate.Limit(cfg.Crawl.RatePerHost),
	})
	dispatch := fetcher.NewDispatcher(client, cfg.Crawl.MaxItemsPerFeed)

	sched := scheduler.New(scheduler.Config{BatchSize: cfg.Crawl.BatchSize}, st)
	eng := dedup.New(dedup.Config{
		Window:          cfg.Dedup.Window(),
		TitleThreshold:  cfg.Dedup.TitleThreshold,
		PhraseThreshold: cfg.Dedup.PhraseThreshold,
	}, st)

	analysts := []ensemble.Analyst{
		ensemble.KeywordAnalyst{},
		ensemble.MentionAnalyst{},
	}
	if cfg.Anthropic.Key != "" {
		llm := anthropic.NewClient(cfg.Anthropic.Key)
		analysts = append(analysts, ensemble.NewLLMAnalyst(llm, "llm-judgment", cfg.Anthropic.Model, ""))
	}
	eval := ensemble.New(ensemble.Config{
		AnalystTimeout: time.Duration(cfg.Ensemble.AnalystTimeoutSecs) * time.Second,
		MinResponders:  cfg.Ensemble.MinResponders,
	}, analysts)

	life := lifecycle.New(st, lifecycle.Thresholds{
		MinPredictors:       cfg.Lifecycle.MinPredictors,
		MinCombinedStrength: cfg.Lifecycle.MinCombinedStrength,
		MinConsensus:        cfg.Lifecycle.MinConsensus,
	}, nil)

	return &env{
		Store:    st,
		Pipeline: pipeline.New(st, sched, dispatch, eng, eval, life, cfg.Tenant),
		Life:     life,
	}, nil
}

func workerConfig() worker.Config {
	return worker.Config{
		Workers:      cfg.Worker.Workers,
		Lease:        time.Duration(cfg.Worker.LeaseMins) * time.Minute,
		PollInterval: time.Duration(cfg.Worker.PollIntervalSecs) * time.Second,
		ReapInterval: time.Duration(cfg.Worker.ReapIntervalMins) * time.Minute,
		MaxAttempts:  cfg.Worker.MaxAttempts,
	}
}

// articleQueue adapts the store's claim-lease article methods to the
// worker pool.
type articleQueue struct {
	store store.Store
}

func (q articleQueue) Name() string { return "articles" }

func (q articleQueue) Claim(ctx context.Context, workerID string, now time.Time, lease time.Duration) (string, bool, error) {
	return q.store.ClaimArticle(ctx, workerID, now, lease)
}

func (q articleQueue) Retry(ctx context.Context, id string) (int, error) {
	return q.store.RetryArticle(ctx, id)
}

func (q articleQueue) Fail(ctx context.Context, id string) error {
	return q.store.MarkArticleStatus(ctx, id, model.ArticleStatusFailed)
}

func (q articleQueue) ReapExpired(ctx context.Context, now time.Time, lease time.Duration) (int, error) {
	return q.store.ReapArticleClaims(ctx, now, lease)
}
