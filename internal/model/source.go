package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// SourceType identifies how a source is fetched.
type SourceType string

const (
	SourceTypeRSS  SourceType = "rss"
	SourceTypeWeb  SourceType = "web"
	SourceTypeFeed SourceType = "feed" // generic Atom/JSON feed, parsed like RSS
)

// ValidCrawlFrequencies are the supported polling cadences in minutes.
var ValidCrawlFrequencies = []int{5, 10, 15, 30, 60}

// FilterConfig narrows which fetched items a source keeps. Replaces the
// untyped per-source JSON config from earlier iterations; validated at the
// registration boundary.
type FilterConfig struct {
	KeywordsInclude   []string `json:"keywords_include,omitempty" yaml:"keywords_include"`
	KeywordsExclude   []string `json:"keywords_exclude,omitempty" yaml:"keywords_exclude"`
	MinRelevanceScore float64  `json:"min_relevance_score,omitempty" yaml:"min_relevance_score"`
}

// Validate checks filter bounds.
func (f FilterConfig) Validate() error {
	if f.MinRelevanceScore < 0 || f.MinRelevanceScore > 1 {
		return eris.Errorf("filter: min_relevance_score %.2f out of [0,1]", f.MinRelevanceScore)
	}
	return nil
}

// Source is a pollable origin of articles. Sources are never hard-deleted;
// operators soft-disable them instead so crawl history stays attributable.
type Source struct {
	ID                 string       `json:"id"`
	TenantID           string       `json:"tenant_id"`
	Name               string       `json:"name"`
	URL                string       `json:"url"`
	Type               SourceType   `json:"type"`
	CrawlFrequencyMins int          `json:"crawl_frequency_mins"`
	Filter             FilterConfig `json:"filter"`
	Active             bool         `json:"active"`
	IsTest             bool         `json:"is_test"`
	LastCrawlAt        *time.Time   `json:"last_crawl_at,omitempty"`
	LastCrawlStatus    string       `json:"last_crawl_status,omitempty"`
	ConsecutiveErrors  int          `json:"consecutive_errors"`
	NeedsAttention     bool         `json:"needs_attention"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// Validate checks the registration contract for a new source.
func (s Source) Validate() error {
	if s.URL == "" {
		return eris.New("source: url required")
	}
	if s.TenantID == "" {
		return eris.New("source: tenant_id required")
	}
	switch s.Type {
	case SourceTypeRSS, SourceTypeWeb, SourceTypeFeed:
	default:
		return eris.Errorf("source: unknown type %q", s.Type)
	}
	ok := false
	for _, f := range ValidCrawlFrequencies {
		if s.CrawlFrequencyMins == f {
			ok = true
			break
		}
	}
	if !ok {
		return eris.Errorf("source: crawl frequency %d not in {5,10,15,30,60}", s.CrawlFrequencyMins)
	}
	return s.Filter.Validate()
}

// Due reports whether the source should be polled at now. Never-crawled
// sources are always due.
func (s Source) Due(now time.Time) bool {
	if !s.Active {
		return false
	}
	if s.LastCrawlAt == nil {
		return true
	}
	return now.Sub(*s.LastCrawlAt) >= time.Duration(s.CrawlFrequencyMins)*time.Minute
}

// CrawlStatus is the outcome of a single crawl attempt.
type CrawlStatus string

const (
	CrawlStatusRunning CrawlStatus = "running"
	CrawlStatusSuccess CrawlStatus = "success"
	CrawlStatusPartial CrawlStatus = "partial"
	CrawlStatusFailed  CrawlStatus = "failed"
	CrawlStatusError   CrawlStatus = "error"
)

// DedupCounts records per-layer dedup outcomes for one crawl run.
type DedupCounts struct {
	ExactSameSource int `json:"exact_same_source"`
	CrossSource     int `json:"cross_source"`
	FuzzyTitle      int `json:"fuzzy_title"`
	PhraseOverlap   int `json:"phrase_overlap"`
	New             int `json:"new"`
}

// Total returns the number of items classified as duplicates.
func (d DedupCounts) Total() int {
	return d.ExactSameSource + d.CrossSource + d.FuzzyTitle + d.PhraseOverlap
}

// CrawlRun is one crawl attempt against one source.
type CrawlRun struct {
	ID          string      `json:"id"`
	SourceID    string      `json:"source_id"`
	Status      CrawlStatus `json:"status"`
	ItemsSeen   int         `json:"items_seen"`
	Dedup       DedupCounts `json:"dedup"`
	Error       string      `json:"error,omitempty"`
	RetryCount  int         `json:"retry_count"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}
