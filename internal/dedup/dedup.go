// Package dedup decides whether a fingerprinted item is genuinely new.
// Four layers run in increasing cost order and short-circuit on the first
// match: exact hash per source, exact hash across the tenant, fuzzy title
// similarity, and salient-phrase overlap.
package dedup

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/foresight/internal/fingerprint"
	"github.com/sells-group/foresight/internal/model"
)

// Layer identifies which check matched.
type Layer string

const (
	LayerNone            Layer = ""
	LayerExactSameSource Layer = "exact_same_source"
	LayerCrossSource     Layer = "cross_source"
	LayerFuzzyTitle      Layer = "fuzzy_title"
	LayerPhraseOverlap   Layer = "phrase_overlap"
)

// Config bounds the fuzzy layers. Layers 3-4 only compare against a
// recency-capped candidate set so per-item cost tracks the window, not
// total history.
type Config struct {
	Window          time.Duration `yaml:"window" mapstructure:"window"`
	TitleThreshold  float64       `yaml:"title_threshold" mapstructure:"title_threshold"`
	PhraseThreshold float64       `yaml:"phrase_threshold" mapstructure:"phrase_threshold"`
	MaxCandidates   int           `yaml:"max_candidates" mapstructure:"max_candidates"`
}

// DefaultConfig returns the standard dedup bounds.
func DefaultConfig() Config {
	return Config{
		Window:          72 * time.Hour,
		TitleThreshold:  0.85,
		PhraseThreshold: 0.70,
		MaxCandidates:   100,
	}
}

// CandidateStore is the slice of the store the engine needs.
type CandidateStore interface {
	ContentHashExists(ctx context.Context, tenantID, sourceID, hash string) (bool, error)
	ContentHashExistsInTenant(ctx context.Context, tenantID, hash string) (bool, error)
	RecentArticles(ctx context.Context, tenantID string, since time.Time, limit int) ([]model.Article, error)
}

// Candidate is an incoming item plus its fingerprint.
type Candidate struct {
	TenantID    string
	SourceID    string
	Fingerprint fingerprint.Fingerprint
}

// Result reports the dedup verdict for one candidate.
type Result struct {
	Duplicate bool
	Layer     Layer
	MatchedID string // article that matched, when the layer exposes one
}

// Engine runs the four-layer check against a candidate store.
type Engine struct {
	cfg   Config
	store CandidateStore
}

// New creates an Engine. Zero config fields fall back to defaults.
func New(cfg Config, store CandidateStore) *Engine {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.TitleThreshold <= 0 {
		cfg.TitleThreshold = def.TitleThreshold
	}
	if cfg.PhraseThreshold <= 0 {
		cfg.PhraseThreshold = def.PhraseThreshold
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	return &Engine{cfg: cfg, store: store}
}

// Check classifies a candidate and bumps the matching layer counter on
// counts. Counts may be nil when the caller does not track a crawl run.
func (e *Engine) Check(ctx context.Context, c Candidate, counts *model.DedupCounts) (Result, error) {
	// Layer 1: exact hash, same source.
	hit, err := e.store.ContentHashExists(ctx, c.TenantID, c.SourceID, c.Fingerprint.ContentHash)
	if err != nil {
		return Result{}, eris.Wrap(err, "dedup: layer 1 lookup")
	}
	if hit {
		bump(counts, LayerExactSameSource)
		return Result{Duplicate: true, Layer: LayerExactSameSource}, nil
	}

	// Layer 2: same hash under any source in the tenant (syndication).
	hit, err = e.store.ContentHashExistsInTenant(ctx, c.TenantID, c.Fingerprint.ContentHash)
	if err != nil {
		return Result{}, eris.Wrap(err, "dedup: layer 2 lookup")
	}
	if hit {
		bump(counts, LayerCrossSource)
		return Result{Duplicate: true, Layer: LayerCrossSource}, nil
	}

	// Layers 3-4 share one bounded candidate fetch.
	since := time.Now().UTC().Add(-e.cfg.Window)
	recent, err := e.store.RecentArticles(ctx, c.TenantID, since, e.cfg.MaxCandidates)
	if err != nil {
		return Result{}, eris.Wrap(err, "dedup: fetch recent candidates")
	}

	for _, a := range recent {
		sim := fingerprint.Jaccard(c.Fingerprint.NormalizedTitle, a.NormalizedTitle)
		if sim > e.cfg.TitleThreshold {
			zap.L().Debug("dedup: fuzzy title match",
				zap.String("matched_id", a.ID),
				zap.Float64("similarity", sim),
			)
			bump(counts, LayerFuzzyTitle)
			return Result{Duplicate: true, Layer: LayerFuzzyTitle, MatchedID: a.ID}, nil
		}
	}

	for _, a := range recent {
		overlap := fingerprint.PhraseOverlap(c.Fingerprint.SalientPhrases, a.SalientPhrases)
		if overlap >= e.cfg.PhraseThreshold {
			zap.L().Debug("dedup: phrase overlap match",
				zap.String("matched_id", a.ID),
				zap.Float64("overlap", overlap),
			)
			bump(counts, LayerPhraseOverlap)
			return Result{Duplicate: true, Layer: LayerPhraseOverlap, MatchedID: a.ID}, nil
		}
	}

	if counts != nil {
		counts.New++
	}
	return Result{}, nil
}

func bump(counts *model.DedupCounts, layer Layer) {
	if counts == nil {
		return
	}
	switch layer {
	case LayerExactSameSource:
		counts.ExactSameSource++
	case LayerCrossSource:
		counts.CrossSource++
	case LayerFuzzyTitle:
		counts.FuzzyTitle++
	case LayerPhraseOverlap:
		counts.PhraseOverlap++
	}
}
