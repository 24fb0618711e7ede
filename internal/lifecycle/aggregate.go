// Package lifecycle turns active predictors into predictions and expires
// stale evidence. Aggregation is idempotent per (target, analyst): rerunning
// it on the same inputs supersedes rather than duplicates, so the
// at-most-one-active invariant holds continuously.
package lifecycle

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/foresight/internal/model"
)

// Thresholds gate prediction creation. Tunable per strategy.
type Thresholds struct {
	MinPredictors       int     `yaml:"min_predictors" mapstructure:"min_predictors"`
	MinCombinedStrength float64 `yaml:"min_combined_strength" mapstructure:"min_combined_strength"`
	MinConsensus        float64 `yaml:"min_consensus" mapstructure:"min_consensus"`
}

// DefaultThresholds returns the balanced-strategy gate.
func DefaultThresholds() Thresholds {
	return Thresholds{MinPredictors: 3, MinCombinedStrength: 15, MinConsensus: 0.70}
}

// Vote is one predictor plus the analyst's effective weight at the target.
type Vote struct {
	Predictor     model.Predictor
	AnalystWeight float64
}

// Tally is the outcome of a scoring pass over one (target, analyst) group.
type Tally struct {
	Winner           model.Sentiment
	CombinedStrength float64 // sum of raw strengths agreeing with the winner
	Consensus        float64 // winner weight / total weight
	Count            int     // predictors agreeing with the winner
	AgreeingIDs      []string
}

// ScoreFunc combines votes into a tally. The weighting formula is
// deliberately pluggable; DefaultScore is one choice over the documented
// inputs (direction, strength, confidence, analyst weight).
type ScoreFunc func(votes []Vote) Tally

// DefaultScore weights each vote by strength × confidence × analyst
// weight, picks the heaviest direction, and reports consensus as the
// winner's share of total vote weight.
func DefaultScore(votes []Vote) Tally {
	weight := make(map[model.Sentiment]float64)
	var total float64
	for _, v := range votes {
		w := float64(v.Predictor.Strength) * v.Predictor.Confidence * v.AnalystWeight
		weight[v.Predictor.Direction] += w
		total += w
	}

	var winner model.Sentiment
	var best float64
	for dir, w := range weight {
		if w > best || (w == best && dir < winner) {
			winner, best = dir, w
		}
	}
	if total == 0 {
		return Tally{}
	}

	t := Tally{Winner: winner, Consensus: best / total}
	for _, v := range votes {
		if v.Predictor.Direction == winner {
			t.CombinedStrength += float64(v.Predictor.Strength)
			t.Count++
			t.AgreeingIDs = append(t.AgreeingIDs, v.Predictor.ID)
		}
	}
	return t
}

// Store is the slice of persistence the manager needs. CreateSuperseding
// must end any active prediction for the pair and insert the new one in
// one unit of work, so callers never observe two active rows.
type Store interface {
	ActivePredictors(ctx context.Context, targetID, analystID string) ([]model.Predictor, error)
	CreatePredictionSuperseding(ctx context.Context, p model.Prediction, reason string) (*model.Prediction, error)
	ConsumePredictors(ctx context.Context, predictionID string, predictorIDs []string) error
	ExpirePredictors(ctx context.Context, now time.Time) (int, error)
	ExpirePredictions(ctx context.Context, now time.Time) (int, error)
}

// Manager aggregates predictors into predictions.
type Manager struct {
	store      Store
	thresholds Thresholds
	score      ScoreFunc
}

// New creates a Manager. A nil score falls back to DefaultScore.
func New(store Store, thresholds Thresholds, score ScoreFunc) *Manager {
	if score == nil {
		score = DefaultScore
	}
	if thresholds.MinPredictors <= 0 {
		thresholds = DefaultThresholds()
	}
	return &Manager{store: store, thresholds: thresholds, score: score}
}

// Aggregate runs one aggregation pass for a (target, analyst) pair.
// Returns the created prediction, or nil when thresholds are not met or
// consensus maps to no-call. Only status=active predictors participate, so
// an abandoned half-written round can never leak into a prediction.
func (m *Manager) Aggregate(ctx context.Context, target model.Target, universe model.Universe, analystID string, analystWeight float64) (*model.Prediction, error) {
	log := zap.L().With(
		zap.String("target", target.Symbol),
		zap.String("analyst_id", analystID),
	)

	predictors, err := m.store.ActivePredictors(ctx, target.ID, analystID)
	if err != nil {
		return nil, eris.Wrap(err, "lifecycle: fetch active predictors")
	}
	if len(predictors) < m.thresholds.MinPredictors {
		log.Debug("lifecycle: below predictor count threshold", zap.Int("count", len(predictors)))
		return nil, nil
	}

	votes := make([]Vote, len(predictors))
	for i, p := range predictors {
		votes[i] = Vote{Predictor: p, AnalystWeight: analystWeight}
	}
	tally := m.score(votes)

	if tally.Count < m.thresholds.MinPredictors ||
		tally.CombinedStrength < m.thresholds.MinCombinedStrength ||
		tally.Consensus < m.thresholds.MinConsensus {
		log.Debug("lifecycle: thresholds not met",
			zap.Int("agreeing", tally.Count),
			zap.Float64("combined_strength", tally.CombinedStrength),
			zap.Float64("consensus", tally.Consensus),
		)
		return nil, nil
	}

	outcome, err := model.MapSentiment(universe.Domain, tally.Winner)
	if err != nil {
		return nil, eris.Wrap(err, "lifecycle: map direction")
	}
	if outcome == model.OutcomeNoCall {
		log.Debug("lifecycle: uncertain consensus, no call")
		return nil, nil
	}

	p := model.Prediction{
		TenantID:         predictors[0].TenantID,
		TargetID:         target.ID,
		AnalystID:        analystID,
		Direction:        outcome,
		CombinedStrength: tally.CombinedStrength,
		Consensus:        tally.Consensus,
		PredictorCount:   tally.Count,
		IsTest:           target.IsTest,
		Status:           model.PredictionActive,
	}
	if err := p.Validate(universe.Domain); err != nil {
		return nil, eris.Wrap(err, "lifecycle: prediction shape")
	}

	created, err := m.store.CreatePredictionSuperseding(ctx, p, "superseded by fresh aggregation")
	if err != nil {
		return nil, eris.Wrap(err, "lifecycle: create prediction")
	}

	if err := m.store.ConsumePredictors(ctx, created.ID, tally.AgreeingIDs); err != nil {
		return nil, eris.Wrap(err, "lifecycle: consume predictors")
	}

	log.Info("lifecycle: prediction created",
		zap.String("prediction_id", created.ID),
		zap.String("direction", string(created.Direction)),
		zap.Float64("consensus", created.Consensus),
		zap.Int("predictors", created.PredictorCount),
	)
	return created, nil
}

// Sweep expires predictors past their TTL and predictions whose evidence
// has fully expired. History is kept; only status flips.
func (m *Manager) Sweep(ctx context.Context, now time.Time) (predictors, predictions int, err error) {
	predictors, err = m.store.ExpirePredictors(ctx, now)
	if err != nil {
		return 0, 0, eris.Wrap(err, "lifecycle: expire predictors")
	}
	predictions, err = m.store.ExpirePredictions(ctx, now)
	if err != nil {
		return predictors, 0, eris.Wrap(err, "lifecycle: expire predictions")
	}
	if predictors > 0 || predictions > 0 {
		zap.L().Info("lifecycle: sweep complete",
			zap.Int("predictors_expired", predictors),
			zap.Int("predictions_expired", predictions),
		)
	}
	return predictors, predictions, nil
}
