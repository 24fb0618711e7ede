package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/foresight/internal/ensemble"
	"github.com/sells-group/foresight/internal/model"
	"github.com/sells-group/foresight/internal/scope"
)

// EvaluateArticle runs the analyst ensemble for one article against every
// subscribed target on its side of the test/production boundary, stores
// the resulting predictors, and triggers aggregation for each contributing
// analyst. Safe to re-run: predictor inserts feed aggregation, which
// supersedes rather than duplicates.
func (p *Pipeline) EvaluateArticle(ctx context.Context, articleID string) error {
	article, err := p.store.GetArticle(ctx, articleID)
	if err != nil {
		return eris.Wrapf(err, "pipeline: load article %s", articleID)
	}

	targets, err := p.store.TargetsForSource(ctx, article.SourceID)
	if err != nil {
		return eris.Wrap(err, "pipeline: subscribed targets")
	}

	analysts, err := p.store.ListAnalysts(ctx, p.tenant)
	if err != nil {
		return eris.Wrap(err, "pipeline: list analysts")
	}

	evaluated := false
	for _, target := range targets {
		// Test articles only flow to mirror targets and vice versa.
		if target.IsTest != article.IsTest {
			continue
		}
		ran, err := p.evaluateForTarget(ctx, *article, target, analysts)
		if err != nil {
			return err
		}
		evaluated = evaluated || ran
	}

	status := model.ArticleStatusEvaluated
	if !evaluated {
		status = model.ArticleStatusSkipped
	}
	if err := p.store.MarkArticleStatus(ctx, article.ID, status); err != nil {
		return eris.Wrap(err, "pipeline: mark article")
	}
	return nil
}

func (p *Pipeline) evaluateForTarget(ctx context.Context, article model.Article, target model.Target, analysts []model.Analyst) (bool, error) {
	universe, err := p.store.GetUniverse(ctx, target.UniverseID)
	if err != nil {
		return false, eris.Wrapf(err, "pipeline: universe for target %s", target.ID)
	}

	overrides, err := p.overridesFor(ctx, target, *universe)
	if err != nil {
		return false, err
	}

	applicable := scope.Applicable(analysts, target, *universe, overrides)
	if len(applicable) == 0 {
		zap.L().Debug("pipeline: no applicable analysts",
			zap.String("article_id", article.ID),
			zap.String("target", target.Symbol),
		)
		return false, nil
	}

	results, err := p.eval.Evaluate(ctx, article, target, *universe, applicable)
	if err != nil {
		return false, eris.Wrapf(err, "pipeline: ensemble round for %s", target.Symbol)
	}

	now := p.now()
	for _, r := range results {
		predictor := ensemble.ToPredictor(article, target, *universe, r, now)
		if _, err := p.store.CreatePredictor(ctx, predictor); err != nil {
			return false, eris.Wrap(err, "pipeline: store predictor")
		}
	}

	// One aggregation pass per contributing analyst.
	for _, r := range results {
		if _, err := p.life.Aggregate(ctx, target, *universe, r.Resolved.Analyst.ID, r.Resolved.Settings.Weight); err != nil {
			return false, eris.Wrap(err, "pipeline: aggregate")
		}
	}
	return len(results) > 0, nil
}

func (p *Pipeline) overridesFor(ctx context.Context, target model.Target, universe model.Universe) ([]model.AnalystOverride, error) {
	targetOv, err := p.store.ListOverrides(ctx, model.ScopeTarget, target.ID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: target overrides")
	}
	universeOv, err := p.store.ListOverrides(ctx, model.ScopeUniverse, universe.ID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: universe overrides")
	}
	return append(targetOv, universeOv...), nil
}
