package ensemble

import (
	"context"
	"fmt"
	"strings"

	"github.com/sells-group/foresight/internal/fingerprint"
	"github.com/sells-group/foresight/internal/model"
)

// Heuristic analysts. Cheap, deterministic perspectives that run alongside
// the LLM analyst; each covers a different reading of the same item.

var bullishWords = []string{
	"beats", "beat", "surge", "soars", "record", "growth", "upgrade",
	"outperform", "rally", "profit", "wins", "approval", "breakthrough",
	"exceeds", "strong",
}

var bearishWords = []string{
	"misses", "miss", "plunge", "falls", "downgrade", "lawsuit", "recall",
	"layoffs", "bankruptcy", "probe", "fraud", "warning", "cuts", "weak",
	"decline",
}

// KeywordAnalyst scores sentiment from tone-word counts in title and body.
// Title hits count double.
type KeywordAnalyst struct{}

func (KeywordAnalyst) Name() string { return "keyword-tone" }

func (KeywordAnalyst) Assess(_ context.Context, article model.Article, _ model.Target, universe model.Universe) (Assessment, error) {
	title := fingerprint.Normalize(article.Title)
	body := fingerprint.Normalize(article.Body)

	score := 0
	for _, w := range bullishWords {
		score += 2*countToken(title, w) + countToken(body, w)
	}
	for _, w := range bearishWords {
		score -= 2*countToken(title, w) + countToken(body, w)
	}

	dir := toneToSentiment(universe.Domain, score)
	strength := score
	if strength < 0 {
		strength = -strength
	}
	if strength > 10 {
		strength = 10
	}
	if strength == 0 {
		strength = 1
	}
	conf := 0.3 + 0.05*float64(strength)
	if conf > 0.8 {
		conf = 0.8
	}

	return Assessment{
		Direction:  dir,
		Strength:   strength,
		Confidence: conf,
		Reasoning:  fmt.Sprintf("tone score %+d from keyword counts", score),
	}, nil
}

// MentionAnalyst weighs how centrally the target is mentioned: symbol or
// name in the title is a strong relevance signal, body-only mentions are
// weak. Direction follows tone but confidence follows prominence.
type MentionAnalyst struct{}

func (MentionAnalyst) Name() string { return "target-mention" }

func (MentionAnalyst) Assess(_ context.Context, article model.Article, target model.Target, universe model.Universe) (Assessment, error) {
	title := fingerprint.Normalize(article.Title)
	body := fingerprint.Normalize(article.Body)
	symbol := fingerprint.Normalize(strings.TrimPrefix(target.Symbol, model.MirrorPrefix))
	name := fingerprint.Normalize(target.Name)

	prominence := 0
	if symbol != "" && (containsToken(title, symbol) || (name != "" && strings.Contains(title, name))) {
		prominence = 2
	} else if symbol != "" && (containsToken(body, symbol) || (name != "" && strings.Contains(body, name))) {
		prominence = 1
	}

	tone := 0
	for _, w := range bullishWords {
		tone += countToken(title, w)
	}
	for _, w := range bearishWords {
		tone -= countToken(title, w)
	}

	dir := toneToSentiment(universe.Domain, tone)
	strength := 1 + 3*prominence
	conf := 0.25 * float64(1+prominence)

	return Assessment{
		Direction:  dir,
		Strength:   strength,
		Confidence: conf,
		Reasoning:  fmt.Sprintf("target prominence %d, title tone %+d", prominence, tone),
	}, nil
}

// toneToSentiment picks the domain-correct sentiment word for a signed
// tone score.
func toneToSentiment(d model.Domain, score int) model.Sentiment {
	switch d {
	case model.DomainElections, model.DomainMarkets:
		switch {
		case score > 0:
			return model.SentimentYes
		case score < 0:
			return model.SentimentNo
		default:
			return model.SentimentUncertain
		}
	default:
		switch {
		case score > 0:
			return model.SentimentBullish
		case score < 0:
			return model.SentimentBearish
		default:
			return model.SentimentNeutral
		}
	}
}

func countToken(normalized, token string) int {
	n := 0
	for _, t := range strings.Fields(normalized) {
		if t == token {
			n++
		}
	}
	return n
}

func containsToken(normalized, token string) bool {
	return countToken(normalized, token) > 0
}
