// Package scope resolves effective analyst and learning configuration
// through the target → universe → domain → global override chain. The
// resolver is a pure query: same inputs, same resolved settings.
package scope

import (
	"sort"

	"github.com/sells-group/foresight/internal/model"
)

// Settings are the attributes resolvable through the hierarchy.
type Settings struct {
	Weight  float64
	Tier    int
	Enabled bool
}

// provider yields per-attribute values at one scope level; nil means no
// opinion, fall through to the next provider.
type provider struct {
	level   model.ScopeLevel
	weight  *float64
	tier    *int
	enabled *bool
}

// Resolve computes effective settings for one analyst at one target.
// Overrides not addressed to this (analyst, target/universe) are ignored.
// The provider chain is consulted most-specific-first per attribute.
func Resolve(a model.Analyst, target model.Target, overrides []model.AnalystOverride) Settings {
	chain := buildChain(a, target, overrides)

	s := Settings{Weight: a.Weight, Tier: a.Tier, Enabled: a.Enabled}
	for _, p := range chain {
		if p.weight != nil {
			s.Weight = *p.weight
			break
		}
	}
	for _, p := range chain {
		if p.tier != nil {
			s.Tier = *p.tier
			break
		}
	}
	for _, p := range chain {
		if p.enabled != nil {
			s.Enabled = *p.enabled
			break
		}
	}
	return s
}

func buildChain(a model.Analyst, target model.Target, overrides []model.AnalystOverride) []provider {
	var targetP, universeP provider
	targetP.level = model.ScopeTarget
	universeP.level = model.ScopeUniverse

	for _, o := range overrides {
		if o.AnalystID != a.ID {
			continue
		}
		switch o.Level {
		case model.ScopeTarget:
			if o.TargetID == target.ID {
				merge(&targetP, o)
			}
		case model.ScopeUniverse:
			if o.UniverseID == target.UniverseID {
				merge(&universeP, o)
			}
		}
	}

	// Domain and global levels carry no override rows today; the analyst's
	// own defaults stand in for them, so the chain ends after universe.
	return []provider{targetP, universeP}
}

// merge keeps the first non-nil value per attribute when multiple override
// rows land at the same level.
func merge(p *provider, o model.AnalystOverride) {
	if p.weight == nil {
		p.weight = o.Weight
	}
	if p.tier == nil {
		p.tier = o.Tier
	}
	if p.enabled == nil {
		p.enabled = o.Enabled
	}
}

// Resolved pairs an analyst with its effective settings at one target.
type Resolved struct {
	Analyst  model.Analyst
	Settings Settings
}

// Applicable returns the analysts that participate in evaluation at a
// target: enabled with positive effective weight, scoped to the target's
// domain (or global), ordered by effective weight descending with name as
// the deterministic tie-break.
func Applicable(analysts []model.Analyst, target model.Target, universe model.Universe, overrides []model.AnalystOverride) []Resolved {
	var out []Resolved
	for _, a := range analysts {
		if a.Scope != model.ScopeGlobal && a.Domain != "" && a.Domain != universe.Domain {
			continue
		}
		s := Resolve(a, target, overrides)
		if !s.Enabled || s.Weight <= 0 {
			continue
		}
		out = append(out, Resolved{Analyst: a, Settings: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Settings.Weight != out[j].Settings.Weight {
			return out[i].Settings.Weight > out[j].Settings.Weight
		}
		return out[i].Analyst.Name < out[j].Analyst.Name
	})
	return out
}

// ApplicableLearnings filters learnings to those in effect at a target:
// production learnings for real targets, matching the scope chain. Test
// learnings only apply to mirror targets.
func ApplicableLearnings(learnings []model.Learning, target model.Target, universe model.Universe) []model.Learning {
	var out []model.Learning
	for _, l := range learnings {
		if l.IsTest != target.IsTest {
			continue
		}
		switch l.Scope {
		case model.ScopeTarget:
			if l.TargetID != target.ID {
				continue
			}
		case model.ScopeUniverse:
			if l.UniverseID != target.UniverseID {
				continue
			}
		case model.ScopeDomain:
			if l.Domain != universe.Domain {
				continue
			}
		case model.ScopeGlobal:
		default:
			continue
		}
		out = append(out, l)
	}
	return out
}
