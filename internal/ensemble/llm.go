package ensemble

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/foresight/internal/model"
	"github.com/sells-group/foresight/pkg/anthropic"
)

// LLMAnalyst asks Claude for a directional assessment. The analyst row's
// tier-specific instructions become part of the system prompt.
type LLMAnalyst struct {
	client       anthropic.Client
	name         string
	modelID      string
	instructions string
}

// NewLLMAnalyst builds an LLM-backed analyst under the given registry name.
func NewLLMAnalyst(client anthropic.Client, name, modelID, instructions string) *LLMAnalyst {
	return &LLMAnalyst{client: client, name: name, modelID: modelID, instructions: instructions}
}

func (a *LLMAnalyst) Name() string { return a.name }

const llmSystemPrompt = `You assess one news item against one tracked entity and answer with JSON only:
{"direction": <word>, "strength": <1-10 integer>, "confidence": <0.0-1.0>, "reasoning": <one sentence>}
For stock/crypto entities direction is one of: bullish, bearish, neutral.
For election/market entities direction is one of: yes, no, uncertain.
Never use up/down/flat; those belong to a different record type.`

type llmAssessment struct {
	Direction  string  `json:"direction"`
	Strength   int     `json:"strength"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

func (a *LLMAnalyst) Assess(ctx context.Context, article model.Article, target model.Target, universe model.Universe) (Assessment, error) {
	system := llmSystemPrompt
	if a.instructions != "" {
		system += "\n\nAnalyst perspective: " + a.instructions
	}

	var prompt strings.Builder
	prompt.WriteString("Entity: " + target.Symbol)
	if target.Name != "" {
		prompt.WriteString(" (" + target.Name + ")")
	}
	prompt.WriteString("\nDomain: " + string(universe.Domain))
	prompt.WriteString("\n\nTitle: " + article.Title)
	prompt.WriteString("\n\nBody:\n" + article.Body)

	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     a.modelID,
		MaxTokens: 512,
		System:    system,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt.String()}},
	})
	if err != nil {
		return Assessment{}, eris.Wrapf(err, "llm analyst %s", a.name)
	}
	resp.Usage.LogCost(a.modelID, "analyst:"+a.name)

	parsed, err := parseLLMAssessment(resp.Text())
	if err != nil {
		return Assessment{}, eris.Wrapf(err, "llm analyst %s: parse", a.name)
	}
	return parsed, nil
}

// parseLLMAssessment tolerates prose around the JSON object.
func parseLLMAssessment(text string) (Assessment, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Assessment{}, eris.Errorf("no JSON object in response: %.80s", text)
	}

	var raw llmAssessment
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return Assessment{}, eris.Wrap(err, "unmarshal assessment")
	}

	return Assessment{
		Direction:  model.Sentiment(strings.ToLower(strings.TrimSpace(raw.Direction))),
		Strength:   raw.Strength,
		Confidence: raw.Confidence,
		Reasoning:  raw.Reasoning,
	}, nil
}
