// Package scheduler decides which sources are due for polling and keeps
// per-source crawl health. Sources with repeated failures are flagged for
// operator attention, never auto-disabled.
package scheduler

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/foresight/internal/model"
)

// AttentionThreshold is the consecutive-error count that flags a source.
const AttentionThreshold = 3

// Config bounds one scheduler pass.
type Config struct {
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
}

// Store is the persistence slice the scheduler needs. DueSources must
// return active, non-test sources that are overdue or never crawled,
// oldest first, capped at limit.
type Store interface {
	DueSources(ctx context.Context, now time.Time, limit int) ([]model.Source, error)
	CreateCrawlRun(ctx context.Context, run model.CrawlRun) (*model.CrawlRun, error)
	CompleteCrawlRun(ctx context.Context, run model.CrawlRun) error
	UpdateSourceHealth(ctx context.Context, src model.Source) error
}

// Scheduler hands out due sources and records crawl outcomes.
type Scheduler struct {
	cfg   Config
	store Store
}

// New creates a Scheduler.
func New(cfg Config, store Store) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	return &Scheduler{cfg: cfg, store: store}
}

// Due returns the batch of sources to poll now.
func (s *Scheduler) Due(ctx context.Context, now time.Time) ([]model.Source, error) {
	sources, err := s.store.DueSources(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return nil, eris.Wrap(err, "scheduler: due sources")
	}
	return sources, nil
}

// Begin opens a crawl run for a source.
func (s *Scheduler) Begin(ctx context.Context, src model.Source) (*model.CrawlRun, error) {
	run := model.CrawlRun{
		SourceID:  src.ID,
		Status:    model.CrawlStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	created, err := s.store.CreateCrawlRun(ctx, run)
	if err != nil {
		return nil, eris.Wrapf(err, "scheduler: begin crawl for %s", src.ID)
	}
	return created, nil
}

// Finish records a crawl outcome on both the run and the source's health
// counters. crawlErr nil means success; a non-nil error bumps the
// consecutive-error counter and, at AttentionThreshold, raises the
// operator flag.
func (s *Scheduler) Finish(ctx context.Context, src model.Source, run model.CrawlRun, crawlErr error) error {
	now := time.Now().UTC()
	run.CompletedAt = &now

	if crawlErr != nil {
		run.Status = model.CrawlStatusError
		run.Error = crawlErr.Error()
		src.ConsecutiveErrors++
	} else {
		if run.Status == model.CrawlStatusRunning {
			run.Status = model.CrawlStatusSuccess
		}
		src.ConsecutiveErrors = 0
		src.NeedsAttention = false
	}

	if src.ConsecutiveErrors >= AttentionThreshold && !src.NeedsAttention {
		src.NeedsAttention = true
		zap.L().Warn("scheduler: source needs attention",
			zap.String("source_id", src.ID),
			zap.String("url", src.URL),
			zap.Int("consecutive_errors", src.ConsecutiveErrors),
		)
	}

	src.LastCrawlAt = &now
	src.LastCrawlStatus = string(run.Status)

	if err := s.store.CompleteCrawlRun(ctx, run); err != nil {
		return eris.Wrapf(err, "scheduler: complete run %s", run.ID)
	}
	if err := s.store.UpdateSourceHealth(ctx, src); err != nil {
		return eris.Wrapf(err, "scheduler: update source %s", src.ID)
	}
	return nil
}
