// Package monitoring collects pipeline health metrics and raises webhook
// alerts when operator attention is needed.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/foresight/internal/model"
	"github.com/sells-group/foresight/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Current store state.
	SourcesActive     int            `json:"sources_active"`
	SourcesAttention  int            `json:"sources_attention"`
	ArticlesPending   int            `json:"articles_pending"`
	ReviewsPending    int            `json:"reviews_pending"`
	PredictorsActive  int            `json:"predictors_active"`
	PredictionsActive int            `json:"predictions_active"`
	LearningsByStage  map[string]int `json:"learnings_by_stage"`

	// Crawl metrics (within lookback window).
	CrawlTotal    int     `json:"crawl_total"`
	CrawlFailed   int     `json:"crawl_failed"`
	CrawlPartial  int     `json:"crawl_partial"`
	CrawlFailRate float64 `json:"crawl_fail_rate"`
	ItemsSeen     int     `json:"items_seen"`
	NewArticles   int     `json:"new_articles"`
	Duplicates    int     `json:"duplicates"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store for one tenant.
type Collector struct {
	store  store.Store
	tenant string
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store, tenant string) *Collector {
	return &Collector{store: st, tenant: tenant}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	stats, err := c.store.Stats(ctx, c.tenant)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: store stats")
	}
	snap.SourcesActive = stats.SourcesActive
	snap.SourcesAttention = stats.SourcesAttention
	snap.ArticlesPending = stats.ArticlesPending
	snap.ReviewsPending = stats.ReviewsPending
	snap.PredictorsActive = stats.PredictorsActive
	snap.PredictionsActive = stats.PredictionsActive
	snap.LearningsByStage = stats.LearningsByStage

	cutoff := snap.CollectedAt.Add(-time.Duration(lookbackHours) * time.Hour)
	runs, err := c.store.ListCrawlRuns(ctx, c.tenant, cutoff, 10000)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list crawl runs")
	}

	snap.CrawlTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.CrawlStatusFailed, model.CrawlStatusError:
			snap.CrawlFailed++
		case model.CrawlStatusPartial:
			snap.CrawlPartial++
		}
		snap.ItemsSeen += r.ItemsSeen
		snap.NewArticles += r.Dedup.New
		snap.Duplicates += r.Dedup.Total()
	}
	if snap.CrawlTotal > 0 {
		snap.CrawlFailRate = float64(snap.CrawlFailed) / float64(snap.CrawlTotal)
	}

	return snap, nil
}
