// Package isolation enforces the test/production data boundary on every
// write path. Violations are fatal at the write boundary: the store runs
// these checks inside the same unit of work as the write and aborts on
// error, because downstream aggregation cannot detect commingled signal
// after the fact.
package isolation

import (
	"errors"
	"fmt"

	"github.com/sells-group/foresight/internal/model"
)

// InvariantViolation is returned when a write would commingle test and
// production data. Callers must treat it as a rejected write, never as a
// loggable warning.
type InvariantViolation struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation [%s]: %s", e.Invariant, e.Detail)
}

// IsViolation reports whether err is (or wraps) an InvariantViolation.
func IsViolation(err error) bool {
	var iv *InvariantViolation
	return errors.As(err, &iv)
}

func violation(invariant, format string, args ...any) error {
	return &InvariantViolation{Invariant: invariant, Detail: fmt.Sprintf(format, args...)}
}

// CheckArticleWrite enforces: a test-only source can only ever produce
// test-flagged articles.
func CheckArticleWrite(src model.Source, a model.Article) error {
	if src.IsTest && !a.IsTest {
		return violation("test-source-output",
			"source %s is test-only but article %q is not test-flagged", src.ID, a.Title)
	}
	if a.IsSynthetic && !a.IsTest {
		return violation("synthetic-article",
			"synthetic article %q must be test-flagged", a.Title)
	}
	return nil
}

// CheckPredictorWrite enforces two invariants: a predictor derived from a
// test article must be test-flagged, and a test-flagged predictor may only
// attach to mirror targets.
func CheckPredictorWrite(article model.Article, target model.Target, p model.Predictor) error {
	if article.IsTest && !p.IsTest {
		return violation("test-article-predictor",
			"article %s is test-flagged but predictor is not", article.ID)
	}
	if p.IsTest && !target.IsTest {
		return violation("test-predictor-target",
			"test predictor may not attach to real target %s", target.Symbol)
	}
	if !p.IsTest && target.IsTest {
		return violation("prod-predictor-mirror",
			"production predictor may not attach to mirror target %s", target.Symbol)
	}
	return nil
}

// CheckPredictionWrite keeps prediction rows on the same side of the
// boundary as their target.
func CheckPredictionWrite(target model.Target, p model.Prediction) error {
	if p.IsTest != target.IsTest {
		return violation("prediction-target-flag",
			"prediction is_test=%v does not match target %s is_test=%v",
			p.IsTest, target.Symbol, target.IsTest)
	}
	return nil
}

// CheckTargetCreate validates a new real target before mirror creation.
// Real targets must not carry the mirror prefix; mirrors must reference
// their real counterpart.
func CheckTargetCreate(t model.Target) error {
	if !t.IsTest && model.IsMirrorSymbol(t.Symbol) {
		return violation("mirror-prefix",
			"real target may not carry the mirror prefix: %s", t.Symbol)
	}
	if err := t.Validate(); err != nil {
		return violation("target-shape", "%v", err)
	}
	return nil
}

// CheckLearningPromotion enforces that only test learnings move through
// the funnel into production scope, and only from the backtested stage.
func CheckLearningPromotion(l model.Learning) error {
	if !l.IsTest {
		return violation("promotion-source",
			"learning %s is already production scope", l.ID)
	}
	if l.Stage != model.StageBacktested {
		return violation("promotion-stage",
			"learning %s is at stage %q, promotion requires %q", l.ID, l.Stage, model.StageBacktested)
	}
	if l.BacktestScore == nil {
		return violation("promotion-backtest",
			"learning %s has no recorded backtest result", l.ID)
	}
	return nil
}
