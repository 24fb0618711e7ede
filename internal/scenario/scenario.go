// Package scenario loads yaml scenario documents and replays them through
// the pipeline against a test-flagged source and mirror targets, so the
// funnel can be exercised without touching production state.
package scenario

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/foresight/internal/model"
)

// Document is one scenario file.
type Document struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description,omitempty"`
	Marker      string        `yaml:"marker"`
	Universe    UniverseDoc   `yaml:"universe"`
	Targets     []TargetDoc   `yaml:"targets"`
	Analysts    []AnalystDoc  `yaml:"analysts,omitempty"`
	Articles    []ArticleDoc  `yaml:"articles"`
	Expected    []Expectation `yaml:"expected"`
}

// UniverseDoc describes the universe the scenario runs in.
type UniverseDoc struct {
	Name   string          `yaml:"name"`
	Domain model.Domain    `yaml:"domain"`
	Risk   model.RiskLevel `yaml:"risk,omitempty"`
}

// TargetDoc describes a real target; the runner routes all synthetic
// traffic to its auto-created mirror.
type TargetDoc struct {
	Symbol string `yaml:"symbol"`
	Name   string `yaml:"name,omitempty"`
}

// AnalystDoc registers an analyst for the scenario run.
type AnalystDoc struct {
	Name   string  `yaml:"name"`
	Weight float64 `yaml:"weight"`
	Tier   int     `yaml:"tier,omitempty"`
}

// ArticleDoc is one synthetic article to ingest.
type ArticleDoc struct {
	Title string `yaml:"title"`
	Body  string `yaml:"body"`
}

// Expectation asserts the pipeline outcome for one mirror target.
type Expectation struct {
	Target        string        `yaml:"target"` // mirror symbol, T_ prefixed
	Direction     model.Outcome `yaml:"direction"`
	MinPredictors int           `yaml:"min_predictors,omitempty"`
}

// Load reads and validates a scenario document from path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "scenario: read file")
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "scenario: unmarshal")
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks the document's internal consistency. Expectations must
// name mirror symbols; synthetic traffic never asserts against production
// targets.
func (d *Document) Validate() error {
	if d.Name == "" {
		return eris.New("scenario: name required")
	}
	if d.Marker == "" {
		return eris.New("scenario: marker required")
	}
	if !model.ValidDomain(d.Universe.Domain) {
		return eris.Errorf("scenario: unknown domain %q", d.Universe.Domain)
	}
	if len(d.Targets) == 0 {
		return eris.New("scenario: at least one target required")
	}
	if len(d.Articles) == 0 {
		return eris.New("scenario: at least one article required")
	}

	symbols := make(map[string]bool, len(d.Targets))
	for _, t := range d.Targets {
		if t.Symbol == "" {
			return eris.New("scenario: target symbol required")
		}
		if model.IsMirrorSymbol(t.Symbol) {
			return eris.Errorf("scenario: target %q must be the real symbol; the runner creates the mirror", t.Symbol)
		}
		symbols[model.MirrorSymbol(t.Symbol)] = true
	}

	for _, e := range d.Expected {
		if !model.IsMirrorSymbol(e.Target) {
			return eris.Errorf("scenario: expectation target %q must carry the %s mirror prefix", e.Target, model.MirrorPrefix)
		}
		if !symbols[e.Target] {
			return eris.Errorf("scenario: expectation target %q has no matching target entry", e.Target)
		}
		if e.Direction != "" && !model.ValidOutcome(d.Universe.Domain, e.Direction) {
			return eris.Errorf("scenario: direction %q not valid for domain %q", e.Direction, d.Universe.Domain)
		}
	}
	return nil
}
