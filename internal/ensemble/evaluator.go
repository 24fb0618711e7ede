// Package ensemble fans a new article out to the applicable analysts and
// collects their directional assessments. Fan-out is embarrassingly
// parallel; aggregation waits for all analysts or a bounded timeout,
// whichever comes first, and a timed-out analyst is simply excluded from
// the round.
package ensemble

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/foresight/internal/model"
	"github.com/sells-group/foresight/internal/scope"
)

// Assessment is one analyst's read of one article against one target.
// Direction stays in the sentiment vocabulary; the lifecycle manager maps
// it to outcome vocabulary when a prediction is emitted.
type Assessment struct {
	Direction  model.Sentiment
	Strength   int     // 1-10
	Confidence float64 // 0.00-1.00
	Reasoning  string
}

// Analyst produces assessments. Implementations must be side-effect-free
// apart from the returned assessment.
type Analyst interface {
	Name() string
	Assess(ctx context.Context, article model.Article, target model.Target, universe model.Universe) (Assessment, error)
}

// Config bounds one evaluation round.
type Config struct {
	AnalystTimeout time.Duration `yaml:"analyst_timeout" mapstructure:"analyst_timeout"`
	MinResponders  int           `yaml:"min_responders" mapstructure:"min_responders"`
}

// DefaultConfig returns standard round bounds.
func DefaultConfig() Config {
	return Config{AnalystTimeout: 30 * time.Second, MinResponders: 1}
}

// Result is one analyst's contribution to a round.
type Result struct {
	Resolved   scope.Resolved
	Assessment Assessment
}

// Evaluator runs rounds against a fixed registry of analyst
// implementations keyed by analyst name.
type Evaluator struct {
	cfg  Config
	impl map[string]Analyst
}

// New builds an Evaluator over the given implementations.
func New(cfg Config, impls []Analyst) *Evaluator {
	if cfg.AnalystTimeout <= 0 {
		cfg.AnalystTimeout = DefaultConfig().AnalystTimeout
	}
	if cfg.MinResponders <= 0 {
		cfg.MinResponders = 1
	}
	m := make(map[string]Analyst, len(impls))
	for _, a := range impls {
		m[a.Name()] = a
	}
	return &Evaluator{cfg: cfg, impl: m}
}

// Evaluate fans article+target out to every applicable analyst and
// returns the assessments that came back in time and validated. Analyst
// errors and timeouts exclude that analyst from the round; only a round
// with zero responders is an error for the caller to decide on.
func (e *Evaluator) Evaluate(ctx context.Context, article model.Article, target model.Target, universe model.Universe, applicable []scope.Resolved) ([]Result, error) {
	log := zap.L().With(
		zap.String("article_id", article.ID),
		zap.String("target", target.Symbol),
	)

	var mu sync.Mutex
	var results []Result

	g, gCtx := errgroup.WithContext(ctx)
	for _, r := range applicable {
		impl, ok := e.impl[r.Analyst.Name]
		if !ok {
			log.Warn("ensemble: no implementation for analyst", zap.String("analyst", r.Analyst.Name))
			continue
		}
		g.Go(func() error {
			aCtx, cancel := context.WithTimeout(gCtx, e.cfg.AnalystTimeout)
			defer cancel()

			assessment, err := impl.Assess(aCtx, article, target, universe)
			if err != nil {
				// Excluded from the round, never fails it.
				log.Warn("ensemble: analyst excluded",
					zap.String("analyst", r.Analyst.Name),
					zap.Error(err),
				)
				return nil
			}
			if err := validate(assessment, universe.Domain); err != nil {
				log.Warn("ensemble: assessment rejected",
					zap.String("analyst", r.Analyst.Name),
					zap.Error(err),
				)
				return nil
			}
			mu.Lock()
			results = append(results, Result{Resolved: r, Assessment: assessment})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "ensemble: fan-out")
	}

	if len(results) < e.cfg.MinResponders {
		return nil, eris.Errorf("ensemble: %d of %d analysts responded, need %d",
			len(results), len(applicable), e.cfg.MinResponders)
	}

	log.Info("ensemble: round complete",
		zap.Int("applicable", len(applicable)),
		zap.Int("responded", len(results)),
	)
	return results, nil
}

// validate enforces assessment bounds and the sentiment vocabulary lock.
func validate(a Assessment, domain model.Domain) error {
	if a.Strength < 1 || a.Strength > 10 {
		return eris.Errorf("strength %d out of [1,10]", a.Strength)
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return eris.Errorf("confidence %.2f out of [0,1]", a.Confidence)
	}
	if model.IsOutcomeWord(string(a.Direction)) {
		return eris.Errorf("outcome word %q in assessment", a.Direction)
	}
	if !model.ValidSentiment(domain, a.Direction) {
		return eris.Errorf("direction %q not valid for domain %q", a.Direction, domain)
	}
	return nil
}

// ToPredictor turns a round result into a predictor row for the target.
func ToPredictor(article model.Article, target model.Target, universe model.Universe, r Result, now time.Time) model.Predictor {
	return model.Predictor{
		TenantID:   article.TenantID,
		ArticleID:  article.ID,
		AnalystID:  r.Resolved.Analyst.ID,
		TargetID:   target.ID,
		Direction:  r.Assessment.Direction,
		Strength:   r.Assessment.Strength,
		Confidence: r.Assessment.Confidence,
		Reasoning:  r.Assessment.Reasoning,
		IsTest:     article.IsTest,
		Status:     model.PredictorActive,
		ExpiresAt:  now.Add(model.PredictorTTL(universe.Risk)),
		CreatedAt:  now,
	}
}
