// Package learning closes the feedback loop: it scores resolved
// predictions against realized outcomes, routes moderate-confidence calls
// to human review, and moves validated insights through the audited
// promotion funnel (created → validated → backtested → promoted).
package learning

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/foresight/internal/isolation"
	"github.com/sells-group/foresight/internal/model"
)

// Review routing band: calls whose confidence fell in this range get a
// human look before their lesson is trusted.
const (
	ReviewBandLow  = 0.40
	ReviewBandHigh = 0.70
)

// Store is the persistence slice the loop needs. All learning mutations go
// through these transition methods; counters are never poked directly.
type Store interface {
	ResolvePrediction(ctx context.Context, predictionID string, status model.PredictionStatus, reason string) error
	CreateEvaluation(ctx context.Context, e model.Evaluation) (*model.Evaluation, error)
	EnqueueReview(ctx context.Context, entry model.ReviewQueueEntry) (*model.ReviewQueueEntry, error)
	GetReview(ctx context.Context, id string) (*model.ReviewQueueEntry, error)
	DecideReview(ctx context.Context, id string, decision model.ReviewDecision) error
	CreateLearning(ctx context.Context, l model.Learning) (*model.Learning, error)
	GetLearning(ctx context.Context, id string) (*model.Learning, error)
	UpdateLearning(ctx context.Context, l model.Learning) error
	RecordLineage(ctx context.Context, lin model.LearningLineage) error
}

// Loop wires evaluation scoring, review, and promotion.
type Loop struct {
	store Store
}

// New creates a Loop.
func New(store Store) *Loop {
	return &Loop{store: store}
}

// Score computes the evaluation for a resolved prediction. Pure.
func Score(p model.Prediction, actual model.Outcome) model.Evaluation {
	correct := p.Direction == actual
	score := 0.0
	if correct {
		// Reward decisive correct calls more than hedged ones.
		score = 0.5 + 0.5*p.Consensus
	} else {
		score = 0.5 - 0.5*p.Consensus
	}
	return model.Evaluation{
		PredictionID:     p.ID,
		ActualOutcome:    actual,
		DirectionCorrect: correct,
		Score:            score,
		Confidence:       p.Consensus,
		EvaluatedAt:      time.Now().UTC(),
	}
}

// NeedsReview reports whether an evaluation falls in the human-review band.
func NeedsReview(e model.Evaluation) bool {
	return e.Confidence >= ReviewBandLow && e.Confidence <= ReviewBandHigh
}

// Resolve scores a prediction against the realized outcome, marks it
// resolved, and enqueues a review entry when confidence was moderate.
func (l *Loop) Resolve(ctx context.Context, p model.Prediction, actual model.Outcome) (*model.Evaluation, error) {
	if p.Status != model.PredictionActive {
		return nil, eris.Errorf("learning: prediction %s is %s, not active", p.ID, p.Status)
	}

	eval := Score(p, actual)
	created, err := l.store.CreateEvaluation(ctx, eval)
	if err != nil {
		return nil, eris.Wrap(err, "learning: create evaluation")
	}
	if err := l.store.ResolvePrediction(ctx, p.ID, model.PredictionResolved, "outcome realized"); err != nil {
		return nil, eris.Wrap(err, "learning: resolve prediction")
	}

	if NeedsReview(*created) {
		entry := model.ReviewQueueEntry{
			EvaluationID:     created.ID,
			SystemDirection:  p.Direction,
			SystemConfidence: created.Confidence,
			Status:           model.ReviewPending,
		}
		if _, err := l.store.EnqueueReview(ctx, entry); err != nil {
			return nil, eris.Wrap(err, "learning: enqueue review")
		}
		zap.L().Info("learning: routed to review",
			zap.String("prediction_id", p.ID),
			zap.Float64("confidence", created.Confidence),
		)
	}
	return created, nil
}

// Decide applies a human decision to a pending review entry. A modified or
// approved decision with CreateLearning set spawns a sandbox learning at
// the created stage; learnings never enter production scope here.
func (l *Loop) Decide(ctx context.Context, entryID string, decision model.ReviewDecision, spawn model.Learning) (*model.Learning, error) {
	if err := decision.Validate(); err != nil {
		return nil, err
	}
	entry, err := l.store.GetReview(ctx, entryID)
	if err != nil {
		return nil, eris.Wrap(err, "learning: get review")
	}
	if entry.Status != model.ReviewPending {
		return nil, eris.Errorf("learning: review %s already decided (%s)", entryID, entry.Status)
	}
	if err := l.store.DecideReview(ctx, entryID, decision); err != nil {
		return nil, eris.Wrap(err, "learning: decide review")
	}

	if !decision.CreateLearning || decision.Status == model.ReviewRejected {
		return nil, nil
	}

	spawn.Stage = model.StageCreated
	spawn.IsTest = true
	if err := spawn.Validate(); err != nil {
		return nil, eris.Wrap(err, "learning: spawned learning shape")
	}
	created, err := l.store.CreateLearning(ctx, spawn)
	if err != nil {
		return nil, eris.Wrap(err, "learning: create learning")
	}
	zap.L().Info("learning: spawned from review",
		zap.String("review_id", entryID),
		zap.String("learning_id", created.ID),
	)
	return created, nil
}

// RecordApplication bumps effectiveness counters and advances a created
// learning to validated on its first application.
func (l *Loop) RecordApplication(ctx context.Context, learningID string, helpful bool) error {
	learning, err := l.store.GetLearning(ctx, learningID)
	if err != nil {
		return eris.Wrap(err, "learning: get")
	}
	learning.TimesApplied++
	if helpful {
		learning.TimesHelpful++
	}
	if learning.Stage == model.StageCreated {
		learning.Stage = model.StageValidated
	}
	learning.UpdatedAt = time.Now().UTC()
	return eris.Wrap(l.store.UpdateLearning(ctx, *learning), "learning: update")
}

// RecordBacktest attaches a backtest result and advances validated →
// backtested.
func (l *Loop) RecordBacktest(ctx context.Context, learningID string, score float64) error {
	learning, err := l.store.GetLearning(ctx, learningID)
	if err != nil {
		return eris.Wrap(err, "learning: get")
	}
	if !learning.Stage.CanAdvance(model.StageBacktested) {
		return eris.Errorf("learning: %s at stage %q cannot record backtest", learningID, learning.Stage)
	}
	learning.Stage = model.StageBacktested
	learning.BacktestScore = &score
	learning.UpdatedAt = time.Now().UTC()
	return eris.Wrap(l.store.UpdateLearning(ctx, *learning), "learning: update")
}

// Promote moves a backtested sandbox learning into production scope: a new
// production learning is created, the original advances to promoted, and
// the lineage row records the audit trail. Promotion is always deliberate;
// nothing calls this automatically.
func (l *Loop) Promote(ctx context.Context, learningID string) (*model.Learning, error) {
	learning, err := l.store.GetLearning(ctx, learningID)
	if err != nil {
		return nil, eris.Wrap(err, "learning: get")
	}
	if err := isolation.CheckLearningPromotion(*learning); err != nil {
		return nil, err
	}

	prod := *learning
	prod.ID = ""
	prod.IsTest = false
	prod.Stage = model.StagePromoted
	prod.TimesApplied = 0
	prod.TimesHelpful = 0
	created, err := l.store.CreateLearning(ctx, prod)
	if err != nil {
		return nil, eris.Wrap(err, "learning: create production learning")
	}

	now := time.Now().UTC()
	learning.Stage = model.StagePromoted
	learning.UpdatedAt = now
	if err := l.store.UpdateLearning(ctx, *learning); err != nil {
		return nil, eris.Wrap(err, "learning: advance source stage")
	}

	lin := model.LearningLineage{
		TestLearningID: learning.ID,
		ProdLearningID: created.ID,
		BacktestScore:  *learning.BacktestScore,
		PromotedAt:     now,
	}
	if err := l.store.RecordLineage(ctx, lin); err != nil {
		return nil, eris.Wrap(err, "learning: record lineage")
	}

	zap.L().Info("learning: promoted",
		zap.String("test_learning_id", learning.ID),
		zap.String("prod_learning_id", created.ID),
		zap.Float64("backtest_score", lin.BacktestScore),
	)
	return created, nil
}
