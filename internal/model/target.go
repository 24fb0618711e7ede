package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Domain groups universes by what kind of outcome they predict.
type Domain string

const (
	DomainStocks    Domain = "stocks"
	DomainCrypto    Domain = "crypto"
	DomainElections Domain = "elections"
	DomainMarkets   Domain = "markets" // prediction-market questions
)

// ValidDomain reports whether d is a known domain.
func ValidDomain(d Domain) bool {
	switch d {
	case DomainStocks, DomainCrypto, DomainElections, DomainMarkets:
		return true
	}
	return false
}

// RiskLevel tunes aggregation thresholds and predictor TTLs per universe.
type RiskLevel string

const (
	RiskConservative RiskLevel = "conservative"
	RiskBalanced     RiskLevel = "balanced"
	RiskAggressive   RiskLevel = "aggressive"
)

// Universe is a named grouping of targets under one domain and strategy.
type Universe struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	AgentID   string    `json:"agent_id"`
	Name      string    `json:"name"`
	Domain    Domain    `json:"domain"`
	Risk      RiskLevel `json:"risk"`
	CreatedAt time.Time `json:"created_at"`
}

// MirrorPrefix marks test-mirror target symbols.
const MirrorPrefix = "T_"

// Target is an entity being predicted about, scoped to a universe.
// Every non-test target has exactly one auto-created test mirror whose
// symbol carries MirrorPrefix; the relation is append-only.
type Target struct {
	ID         string    `json:"id"`
	UniverseID string    `json:"universe_id"`
	Symbol     string    `json:"symbol"`
	Name       string    `json:"name"`
	IsTest     bool      `json:"is_test"`
	MirrorOfID string    `json:"mirror_of_id,omitempty"` // set on the mirror side only
	CreatedAt  time.Time `json:"created_at"`
}

// Validate checks symbol/flag consistency.
func (t Target) Validate() error {
	if t.Symbol == "" {
		return eris.New("target: symbol required")
	}
	if t.UniverseID == "" {
		return eris.New("target: universe_id required")
	}
	if t.IsTest != IsMirrorSymbol(t.Symbol) {
		return eris.Errorf("target: symbol %q inconsistent with is_test=%v", t.Symbol, t.IsTest)
	}
	if t.IsTest && t.MirrorOfID == "" {
		return eris.Errorf("target: mirror %q missing mirror_of_id", t.Symbol)
	}
	return nil
}

// IsMirrorSymbol reports whether a symbol carries the test-mirror prefix.
func IsMirrorSymbol(symbol string) bool {
	return strings.HasPrefix(symbol, MirrorPrefix)
}

// MirrorSymbol returns the test-mirror symbol for a real symbol.
func MirrorSymbol(symbol string) string {
	return MirrorPrefix + symbol
}

// Mirror derives the test-mirror target for a real target. The caller
// assigns the mirror's ID.
func (t Target) Mirror() Target {
	return Target{
		UniverseID: t.UniverseID,
		Symbol:     MirrorSymbol(t.Symbol),
		Name:       t.Name + " (test mirror)",
		IsTest:     true,
		MirrorOfID: t.ID,
	}
}
