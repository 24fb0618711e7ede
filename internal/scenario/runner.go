package scenario

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/foresight/internal/fingerprint"
	"github.com/sells-group/foresight/internal/model"
	"github.com/sells-group/foresight/internal/store"
)

// Evaluator runs one article through the ensemble; satisfied by
// *pipeline.Pipeline.
type Evaluator interface {
	EvaluateArticle(ctx context.Context, articleID string) error
}

// Check is one expectation outcome.
type Check struct {
	Target string `json:"target"`
	Pass   bool   `json:"pass"`
	Detail string `json:"detail"`
}

// Result reports one scenario run.
type Result struct {
	Scenario   string  `json:"scenario"`
	UniverseID string  `json:"universe_id"`
	SourceID   string  `json:"source_id"`
	Articles   int     `json:"articles"`
	Checks     []Check `json:"checks"`
}

// Passed reports whether every check passed.
func (r *Result) Passed() bool {
	for _, c := range r.Checks {
		if !c.Pass {
			return false
		}
	}
	return true
}

// Runner replays scenario documents against the store and pipeline.
type Runner struct {
	store  store.Store
	eval   Evaluator
	tenant string
}

// NewRunner creates a scenario runner.
func NewRunner(st store.Store, eval Evaluator, tenant string) *Runner {
	return &Runner{store: st, eval: eval, tenant: tenant}
}

// Run sets up the scenario world (test source, targets with mirrors,
// analysts), ingests each synthetic article through evaluation, and checks
// the expectations against active predictions on the mirror targets.
func (r *Runner) Run(ctx context.Context, doc *Document) (*Result, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	universe, err := r.store.CreateUniverse(ctx, model.Universe{
		TenantID: r.tenant,
		Name:     doc.Universe.Name,
		Domain:   doc.Universe.Domain,
		Risk:     doc.Universe.Risk,
	})
	if err != nil {
		return nil, eris.Wrap(err, "scenario: create universe")
	}

	src, err := r.store.CreateSource(ctx, model.Source{
		TenantID:           r.tenant,
		Name:               "scenario:" + doc.Name,
		URL:                "scenario://" + doc.Name,
		Type:               model.SourceTypeRSS,
		CrawlFrequencyMins: 60,
		Active:             true,
		IsTest:             true,
	})
	if err != nil {
		return nil, eris.Wrap(err, "scenario: create source")
	}

	mirrors := make(map[string]model.Target, len(doc.Targets))
	for _, td := range doc.Targets {
		name := td.Name
		if name == "" {
			name = td.Symbol
		}
		_, mirror, err := r.store.CreateTarget(ctx, model.Target{
			UniverseID: universe.ID,
			Symbol:     td.Symbol,
			Name:       name,
		})
		if err != nil {
			return nil, eris.Wrapf(err, "scenario: create target %s", td.Symbol)
		}
		mirrors[mirror.Symbol] = *mirror
		if _, err := r.store.UpsertSubscription(ctx, model.Subscription{
			SourceID: src.ID, TargetID: mirror.ID,
		}); err != nil {
			return nil, eris.Wrapf(err, "scenario: subscribe %s", mirror.Symbol)
		}
	}

	for _, ad := range doc.Analysts {
		tier := ad.Tier
		if tier == 0 {
			tier = 1
		}
		if _, err := r.store.CreateAnalyst(ctx, model.Analyst{
			TenantID: r.tenant,
			Name:     ad.Name,
			Scope:    model.ScopeGlobal,
			Weight:   ad.Weight,
			Tier:     tier,
			Enabled:  true,
		}); err != nil {
			return nil, eris.Wrapf(err, "scenario: create analyst %s", ad.Name)
		}
	}

	result := &Result{Scenario: doc.Name, UniverseID: universe.ID, SourceID: src.ID}
	for _, ad := range doc.Articles {
		fp := fingerprint.Compute(ad.Title, ad.Body)
		article, err := r.store.CreateArticle(ctx, model.Article{
			TenantID:        r.tenant,
			SourceID:        src.ID,
			Title:           ad.Title,
			NormalizedTitle: fp.NormalizedTitle,
			Body:            ad.Body,
			ContentHash:     fp.ContentHash,
			TitleSignature:  fp.TitleSignature,
			SalientPhrases:  fp.SalientPhrases,
			IsTest:          true,
			IsSynthetic:     true,
			SyntheticMarker: doc.Marker,
		})
		if err != nil {
			return nil, eris.Wrap(err, "scenario: create article")
		}
		if err := r.eval.EvaluateArticle(ctx, article.ID); err != nil {
			return nil, eris.Wrap(err, "scenario: evaluate article")
		}
		result.Articles++
	}

	for _, e := range doc.Expected {
		result.Checks = append(result.Checks, r.check(ctx, e, mirrors[e.Target]))
	}

	zap.L().Info("scenario complete",
		zap.String("scenario", doc.Name),
		zap.Int("articles", result.Articles),
		zap.Bool("passed", result.Passed()),
	)
	return result, nil
}

func (r *Runner) check(ctx context.Context, e Expectation, mirror model.Target) Check {
	active, err := r.store.ListPredictions(ctx, store.PredictionFilter{
		TargetID: mirror.ID,
		Status:   model.PredictionActive,
	})
	if err != nil {
		return Check{Target: e.Target, Detail: "list predictions: " + err.Error()}
	}
	if len(active) == 0 {
		return Check{Target: e.Target, Detail: "no active prediction"}
	}
	p := active[0]
	if e.Direction != "" && p.Direction != e.Direction {
		return Check{
			Target: e.Target,
			Detail: fmt.Sprintf("direction %s, want %s", p.Direction, e.Direction),
		}
	}
	if e.MinPredictors > 0 && p.PredictorCount < e.MinPredictors {
		return Check{
			Target: e.Target,
			Detail: fmt.Sprintf("predictor count %d, want >= %d", p.PredictorCount, e.MinPredictors),
		}
	}
	return Check{
		Target: e.Target,
		Pass:   true,
		Detail: fmt.Sprintf("active prediction %s with %d predictor(s)", p.Direction, p.PredictorCount),
	}
}
