package model

import "github.com/rotisserie/eris"

// Direction vocabularies are domain-locked. Analyst assessments use the
// sentiment vocabulary; final predictions use the outcome vocabulary. The
// store rejects writes that mix the two.

// Sentiment is the analyst-assessment vocabulary.
type Sentiment string

const (
	SentimentBullish   Sentiment = "bullish"
	SentimentBearish   Sentiment = "bearish"
	SentimentNeutral   Sentiment = "neutral"
	SentimentYes       Sentiment = "yes"
	SentimentNo        Sentiment = "no"
	SentimentUncertain Sentiment = "uncertain"
)

// Outcome is the final-prediction vocabulary.
type Outcome string

const (
	OutcomeUp      Outcome = "up"
	OutcomeDown    Outcome = "down"
	OutcomeFlat    Outcome = "flat"
	OutcomeYes     Outcome = "yes"
	OutcomeNo      Outcome = "no"
	OutcomeNoCall  Outcome = "" // uncertain consensus: no prediction emitted
)

// sentimentByDomain lists the sentiment vocabulary allowed per domain.
var sentimentByDomain = map[Domain][]Sentiment{
	DomainStocks:    {SentimentBullish, SentimentBearish, SentimentNeutral},
	DomainCrypto:    {SentimentBullish, SentimentBearish, SentimentNeutral},
	DomainElections: {SentimentYes, SentimentNo, SentimentUncertain},
	DomainMarkets:   {SentimentYes, SentimentNo, SentimentUncertain},
}

// ValidSentiment reports whether s is legal for domain d.
func ValidSentiment(d Domain, s Sentiment) bool {
	for _, v := range sentimentByDomain[d] {
		if v == s {
			return true
		}
	}
	return false
}

// ValidOutcome reports whether o is legal for domain d. OutcomeNoCall is
// never storable; it only signals "emit nothing".
func ValidOutcome(d Domain, o Outcome) bool {
	switch d {
	case DomainStocks, DomainCrypto:
		return o == OutcomeUp || o == OutcomeDown || o == OutcomeFlat
	case DomainElections, DomainMarkets:
		return o == OutcomeYes || o == OutcomeNo
	}
	return false
}

// MapSentiment translates an assessment direction into the outcome
// vocabulary for the given domain. Uncertain maps to OutcomeNoCall.
func MapSentiment(d Domain, s Sentiment) (Outcome, error) {
	if !ValidSentiment(d, s) {
		return OutcomeNoCall, eris.Errorf("direction: sentiment %q not valid for domain %q", s, d)
	}
	switch s {
	case SentimentBullish:
		return OutcomeUp, nil
	case SentimentBearish:
		return OutcomeDown, nil
	case SentimentNeutral:
		return OutcomeFlat, nil
	case SentimentYes:
		return OutcomeYes, nil
	case SentimentNo:
		return OutcomeNo, nil
	case SentimentUncertain:
		return OutcomeNoCall, nil
	}
	return OutcomeNoCall, eris.Errorf("direction: unknown sentiment %q", s)
}

// IsOutcomeWord guards against outcome vocabulary leaking into assessment
// records. "yes"/"no" are shared between the vocabularies, so only the
// unambiguous outcome words are rejected here.
func IsOutcomeWord(s string) bool {
	switch Outcome(s) {
	case OutcomeUp, OutcomeDown, OutcomeFlat:
		return true
	}
	return false
}
