package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// ScopeLevel orders configuration specificity, most specific first.
type ScopeLevel string

const (
	ScopeTarget   ScopeLevel = "target"
	ScopeUniverse ScopeLevel = "universe"
	ScopeDomain   ScopeLevel = "domain"
	ScopeGlobal   ScopeLevel = "global"
)

// Analyst is a named evaluation perspective with default configuration.
// Effective settings at a given target come from the scope-hierarchy
// resolver, not from these fields directly.
type Analyst struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	Name         string     `json:"name"`
	Scope        ScopeLevel `json:"scope"`
	Domain       Domain     `json:"domain,omitempty"` // set when Scope is domain or narrower
	Weight       float64    `json:"weight"`
	Tier         int        `json:"tier"`
	Enabled      bool       `json:"enabled"`
	Instructions string     `json:"instructions,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Validate checks analyst defaults.
func (a Analyst) Validate() error {
	if a.Name == "" {
		return eris.New("analyst: name required")
	}
	if a.Weight < 0 {
		return eris.Errorf("analyst: negative weight %.2f", a.Weight)
	}
	switch a.Scope {
	case ScopeTarget, ScopeUniverse, ScopeDomain, ScopeGlobal:
	default:
		return eris.Errorf("analyst: unknown scope %q", a.Scope)
	}
	return nil
}

// AnalystOverride adjusts one analyst at universe or target scope. Nil
// fields mean "no opinion at this level"; the resolver falls through.
type AnalystOverride struct {
	ID         string     `json:"id"`
	AnalystID  string     `json:"analyst_id"`
	Level      ScopeLevel `json:"level"` // universe or target
	UniverseID string     `json:"universe_id,omitempty"`
	TargetID   string     `json:"target_id,omitempty"`
	Weight     *float64   `json:"weight,omitempty"`
	Tier       *int       `json:"tier,omitempty"`
	Enabled    *bool      `json:"enabled,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Validate checks override placement.
func (o AnalystOverride) Validate() error {
	switch o.Level {
	case ScopeUniverse:
		if o.UniverseID == "" {
			return eris.New("override: universe_id required at universe level")
		}
	case ScopeTarget:
		if o.TargetID == "" {
			return eris.New("override: target_id required at target level")
		}
	default:
		return eris.Errorf("override: level %q not overridable", o.Level)
	}
	if o.Weight == nil && o.Tier == nil && o.Enabled == nil {
		return eris.New("override: empty override")
	}
	if o.Weight != nil && *o.Weight < 0 {
		return eris.Errorf("override: negative weight %.2f", *o.Weight)
	}
	return nil
}
