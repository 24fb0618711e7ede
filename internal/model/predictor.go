package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// PredictorStatus is the lifecycle of a single unit of evidence.
type PredictorStatus string

const (
	PredictorActive      PredictorStatus = "active"
	PredictorConsumed    PredictorStatus = "consumed"
	PredictorExpired     PredictorStatus = "expired"
	PredictorInvalidated PredictorStatus = "invalidated"
)

// Predictor is a time-boxed unit of evidence: one analyst's assessment of
// one article against one target. Consumption (by the prediction that
// incorporates it) is idempotent and permanent.
type Predictor struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	ArticleID   string          `json:"article_id"`
	AnalystID   string          `json:"analyst_id"`
	TargetID    string          `json:"target_id"`
	Direction   Sentiment       `json:"direction"`
	Strength    int             `json:"strength"`   // 1-10
	Confidence  float64         `json:"confidence"` // 0.00-1.00
	Reasoning   string          `json:"reasoning,omitempty"`
	IsTest      bool            `json:"is_test"`
	Status      PredictorStatus `json:"status"`
	ExpiresAt   time.Time       `json:"expires_at"`
	ConsumedBy  string          `json:"consumed_by,omitempty"` // prediction ID
	CreatedAt   time.Time       `json:"created_at"`
}

// Validate checks bounds and that the direction stays in the sentiment
// vocabulary for the given domain.
func (p Predictor) Validate(domain Domain) error {
	if p.Strength < 1 || p.Strength > 10 {
		return eris.Errorf("predictor: strength %d out of [1,10]", p.Strength)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return eris.Errorf("predictor: confidence %.2f out of [0,1]", p.Confidence)
	}
	if IsOutcomeWord(string(p.Direction)) {
		return eris.Errorf("predictor: outcome word %q in assessment record", p.Direction)
	}
	if !ValidSentiment(domain, p.Direction) {
		return eris.Errorf("predictor: direction %q not valid for domain %q", p.Direction, domain)
	}
	return nil
}

// PredictionStatus is the lifecycle of an ensemble call.
type PredictionStatus string

const (
	PredictionActive    PredictionStatus = "active"
	PredictionResolved  PredictionStatus = "resolved"
	PredictionCancelled PredictionStatus = "cancelled"
	PredictionExpired   PredictionStatus = "expired"
	// PredictionSuperseded ends an old call when a fresh aggregation
	// replaces it; distinct from cancellation so the reason is auditable.
	PredictionSuperseded PredictionStatus = "superseded"
)

// Prediction is the ensemble's current directional call for one
// (target, analyst) pair. At most one row per pair is active at a time.
type Prediction struct {
	ID               string           `json:"id"`
	TenantID         string           `json:"tenant_id"`
	TargetID         string           `json:"target_id"`
	AnalystID        string           `json:"analyst_id"`
	Direction        Outcome          `json:"direction"`
	CombinedStrength float64          `json:"combined_strength"`
	Consensus        float64          `json:"consensus"` // winning-direction weight fraction
	PredictorCount   int              `json:"predictor_count"`
	IsTest           bool             `json:"is_test"`
	Status           PredictionStatus `json:"status"`
	EndedReason      string           `json:"ended_reason,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	EndedAt          *time.Time       `json:"ended_at,omitempty"`
}

// Validate rejects sentiment vocabulary in prediction records and checks
// the outcome against the domain.
func (p Prediction) Validate(domain Domain) error {
	switch Sentiment(p.Direction) {
	case SentimentBullish, SentimentBearish, SentimentNeutral, SentimentUncertain:
		return eris.Errorf("prediction: sentiment word %q in outcome record", p.Direction)
	}
	if !ValidOutcome(domain, p.Direction) {
		return eris.Errorf("prediction: direction %q not valid for domain %q", p.Direction, domain)
	}
	if p.Consensus < 0 || p.Consensus > 1 {
		return eris.Errorf("prediction: consensus %.2f out of [0,1]", p.Consensus)
	}
	return nil
}

// PredictorTTL returns the evidence lifetime for a strategy risk level.
func PredictorTTL(risk RiskLevel) time.Duration {
	switch risk {
	case RiskAggressive:
		return 48 * time.Hour
	case RiskConservative:
		return 96 * time.Hour
	default:
		return 72 * time.Hour
	}
}
