package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/foresight/internal/dedup"
	"github.com/sells-group/foresight/internal/fetcher"
	"github.com/sells-group/foresight/internal/fingerprint"
	"github.com/sells-group/foresight/internal/model"
)

// CrawlSummary reports one scheduler pass.
type CrawlSummary struct {
	Sources     int
	Failed      int
	ItemsSeen   int
	NewArticles int
	Dedup       model.DedupCounts
}

// CrawlPass polls every due source once. Per-source failures are recorded
// on the source's health counters and do not abort the pass.
func (p *Pipeline) CrawlPass(ctx context.Context) (*CrawlSummary, error) {
	sources, err := p.sched.Due(ctx, p.now())
	if err != nil {
		return nil, err
	}

	summary := &CrawlSummary{Sources: len(sources)}
	for _, src := range sources {
		if ctx.Err() != nil {
			return summary, eris.Wrap(ctx.Err(), "pipeline: crawl pass interrupted")
		}
		if err := p.crawlSource(ctx, src, summary); err != nil {
			summary.Failed++
			zap.L().Warn("pipeline: source crawl failed",
				zap.String("source_id", src.ID),
				zap.String("url", src.URL),
				zap.Error(err),
			)
		}
	}

	zap.L().Info("pipeline: crawl pass complete",
		zap.Int("sources", summary.Sources),
		zap.Int("failed", summary.Failed),
		zap.Int("items", summary.ItemsSeen),
		zap.Int("new_articles", summary.NewArticles),
		zap.Int("duplicates", summary.Dedup.Total()),
	)
	return summary, nil
}

func (p *Pipeline) crawlSource(ctx context.Context, src model.Source, summary *CrawlSummary) error {
	run, err := p.sched.Begin(ctx, src)
	if err != nil {
		return err
	}

	items, err := p.fetch.Fetch(ctx, src)
	if err != nil {
		if finishErr := p.sched.Finish(ctx, src, *run, err); finishErr != nil {
			return finishErr
		}
		return err
	}

	items = fetcher.ApplyFilter(items, src.Filter)
	run.ItemsSeen = len(items)
	summary.ItemsSeen += len(items)

	var ingestErr error
	for _, item := range items {
		created, err := p.ingest(ctx, src, item, &run.Dedup)
		if err != nil {
			// Keep going; a partial run is still recorded.
			ingestErr = err
			run.Status = model.CrawlStatusPartial
			continue
		}
		if created {
			summary.NewArticles++
		}
	}
	summary.Dedup.ExactSameSource += run.Dedup.ExactSameSource
	summary.Dedup.CrossSource += run.Dedup.CrossSource
	summary.Dedup.FuzzyTitle += run.Dedup.FuzzyTitle
	summary.Dedup.PhraseOverlap += run.Dedup.PhraseOverlap
	summary.Dedup.New += run.Dedup.New

	if err := p.sched.Finish(ctx, src, *run, nil); err != nil {
		return err
	}
	return ingestErr
}

// ingest fingerprints one item, runs the dedup layers, and stores it when
// new. Returns whether a row was created.
func (p *Pipeline) ingest(ctx context.Context, src model.Source, item fetcher.Item, counts *model.DedupCounts) (bool, error) {
	fp := fingerprint.Compute(item.Title, item.Body)

	res, err := p.dedup.Check(ctx, dedup.Candidate{
		TenantID:    src.TenantID,
		SourceID:    src.ID,
		Fingerprint: fp,
	}, counts)
	if err != nil {
		return false, eris.Wrap(err, "pipeline: dedup check")
	}
	if res.Duplicate {
		return false, nil
	}

	article := model.Article{
		TenantID:        src.TenantID,
		SourceID:        src.ID,
		Title:           item.Title,
		NormalizedTitle: fp.NormalizedTitle,
		Body:            item.Body,
		URL:             item.URL,
		ContentHash:     fp.ContentHash,
		TitleSignature:  fp.TitleSignature,
		SalientPhrases:  fp.SalientPhrases,
		IsTest:          src.IsTest,
		Status:          model.ArticleStatusPending,
		PublishedAt:     item.PublishedAt,
		FirstSeenAt:     p.now(),
	}
	if _, err := p.store.CreateArticle(ctx, article); err != nil {
		return false, eris.Wrap(err, "pipeline: store article")
	}
	return true, nil
}
