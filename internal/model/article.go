package model

import "time"

// ArticleStatus tracks an article through the evaluation queue.
type ArticleStatus string

const (
	ArticleStatusPending   ArticleStatus = "pending"
	ArticleStatusEvaluated ArticleStatus = "evaluated"
	ArticleStatusSkipped   ArticleStatus = "skipped" // no applicable analysts
	ArticleStatusFailed    ArticleStatus = "failed"  // evaluation gave up after max attempts
)

// Article is a fingerprinted, deduplicated content item. Immutable once
// created; only queue/claim bookkeeping changes afterwards. Uniqueness is
// enforced per tenant on ContentHash.
type Article struct {
	ID              string        `json:"id"`
	TenantID        string        `json:"tenant_id"`
	SourceID        string        `json:"source_id"`
	Title           string        `json:"title"`
	NormalizedTitle string        `json:"normalized_title"`
	Body            string        `json:"body"`
	URL             string        `json:"url,omitempty"`
	ContentHash     string        `json:"content_hash"`
	TitleSignature  string        `json:"title_signature"`
	SalientPhrases  []string      `json:"salient_phrases"`
	IsTest          bool          `json:"is_test"`
	IsSynthetic     bool          `json:"is_synthetic"`
	SyntheticMarker string        `json:"synthetic_marker,omitempty"`
	Status          ArticleStatus `json:"status"`
	PublishedAt     *time.Time    `json:"published_at,omitempty"`
	FirstSeenAt     time.Time     `json:"first_seen_at"`

	// Claim-lease bookkeeping for the evaluation queue.
	ClaimedBy string     `json:"claimed_by,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
}

// Subscription is a (source, target) pull-model watermark. Consumers read
// articles with FirstSeenAt > LastProcessedAt and advance the watermark
// explicitly after successful processing (at-least-once delivery).
type Subscription struct {
	ID              string    `json:"id"`
	SourceID        string    `json:"source_id"`
	TargetID        string    `json:"target_id"`
	LastProcessedAt time.Time `json:"last_processed_at"`
	CreatedAt       time.Time `json:"created_at"`
}
