package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Evaluation scores a resolved prediction against the realized outcome.
type Evaluation struct {
	ID               string    `json:"id"`
	PredictionID     string    `json:"prediction_id"`
	ActualOutcome    Outcome   `json:"actual_outcome"`
	DirectionCorrect bool      `json:"direction_correct"`
	Score            float64   `json:"score"`
	Confidence       float64   `json:"confidence"` // confidence of the original call
	EvaluatedAt      time.Time `json:"evaluated_at"`
}

// LearningKind classifies what a learning adjusts.
type LearningKind string

const (
	LearningRule      LearningKind = "rule"
	LearningPattern   LearningKind = "pattern"
	LearningWeightAdj LearningKind = "weight_adjustment"
	LearningThreshold LearningKind = "threshold"
	LearningAvoid     LearningKind = "avoid"
)

// LearningStage is the promotion funnel position. Transitions only move
// forward: created → validated → backtested → promoted.
type LearningStage string

const (
	StageCreated    LearningStage = "created"
	StageValidated  LearningStage = "validated"
	StageBacktested LearningStage = "backtested"
	StagePromoted   LearningStage = "promoted"
)

// funnelOrder maps each stage to its position for transition checks.
var funnelOrder = map[LearningStage]int{
	StageCreated:    0,
	StageValidated:  1,
	StageBacktested: 2,
	StagePromoted:   3,
}

// CanAdvance reports whether moving from to next is a legal single forward
// step in the promotion funnel.
func (s LearningStage) CanAdvance(next LearningStage) bool {
	cur, ok1 := funnelOrder[s]
	nxt, ok2 := funnelOrder[next]
	return ok1 && ok2 && nxt == cur+1
}

// Learning is a durable insight scoped like analysts. Sandbox-derived
// learnings start IsTest=true and only reach production through the
// audited promotion funnel.
type Learning struct {
	ID            string        `json:"id"`
	TenantID      string        `json:"tenant_id"`
	Kind          LearningKind  `json:"kind"`
	Scope         ScopeLevel    `json:"scope"`
	Domain        Domain        `json:"domain,omitempty"`
	UniverseID    string        `json:"universe_id,omitempty"`
	TargetID      string        `json:"target_id,omitempty"`
	Content       string        `json:"content"`
	Stage         LearningStage `json:"stage"`
	IsTest        bool          `json:"is_test"`
	TimesApplied  int           `json:"times_applied"`
	TimesHelpful  int           `json:"times_helpful"`
	BacktestScore *float64      `json:"backtest_score,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Validate checks learning shape.
func (l Learning) Validate() error {
	switch l.Kind {
	case LearningRule, LearningPattern, LearningWeightAdj, LearningThreshold, LearningAvoid:
	default:
		return eris.Errorf("learning: unknown kind %q", l.Kind)
	}
	if l.Content == "" {
		return eris.New("learning: empty content")
	}
	return nil
}

// LearningLineage links a test-derived learning to its production
// promotion. Append-only audit trail for the promotion funnel.
type LearningLineage struct {
	ID             string    `json:"id"`
	TestLearningID string    `json:"test_learning_id"`
	ProdLearningID string    `json:"prod_learning_id"`
	BacktestScore  float64   `json:"backtest_score"`
	PromotedAt     time.Time `json:"promoted_at"`
}

// ReviewStatus is the human decision state for a queued evaluation.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
	ReviewModified ReviewStatus = "modified"
)

// ReviewQueueEntry holds a moderate-confidence evaluation awaiting a human
// decision. Entries stay pending indefinitely; there is no auto-resolution.
type ReviewQueueEntry struct {
	ID                string       `json:"id"`
	EvaluationID      string       `json:"evaluation_id"`
	SystemDirection   Outcome      `json:"system_direction"`
	SystemConfidence  float64      `json:"system_confidence"`
	Status            ReviewStatus `json:"status"`
	ResponseDirection *Outcome     `json:"response_direction,omitempty"`
	ResponseStrength  *int         `json:"response_strength,omitempty"`
	CreateLearning    bool         `json:"create_learning"`
	DecidedBy         string       `json:"decided_by,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	DecidedAt         *time.Time   `json:"decided_at,omitempty"`

	// Claim-lease bookkeeping for the review worker queue.
	ClaimedBy string     `json:"claimed_by,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
}

// ReviewDecision is the external review contract.
type ReviewDecision struct {
	Status            ReviewStatus `json:"status"`
	ResponseDirection *Outcome     `json:"response_direction,omitempty"`
	ResponseStrength  *int         `json:"response_strength,omitempty"`
	CreateLearning    bool         `json:"create_learning"`
	DecidedBy         string       `json:"decided_by,omitempty"`
}

// Validate checks the decision contract.
func (d ReviewDecision) Validate() error {
	switch d.Status {
	case ReviewApproved, ReviewRejected, ReviewModified:
	default:
		return eris.Errorf("review: status %q is not a decision", d.Status)
	}
	if d.Status == ReviewModified && d.ResponseDirection == nil {
		return eris.New("review: modified decision requires response_direction")
	}
	if d.ResponseStrength != nil && (*d.ResponseStrength < 1 || *d.ResponseStrength > 10) {
		return eris.Errorf("review: response_strength %d out of [1,10]", *d.ResponseStrength)
	}
	return nil
}
