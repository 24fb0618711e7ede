package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/foresight/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSourceAttention  AlertType = "source_attention"
	AlertArticleBacklog   AlertType = "article_backlog"
	AlertReviewBacklog    AlertType = "review_backlog"
	AlertCrawlFailureRate AlertType = "crawl_failure_rate"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Sources flagged for operator attention. These are never disabled
	// automatically, so a human must act on each one.
	if a.cfg.AlertOnSourceAttention && snap.SourcesAttention > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertSourceAttention,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d source(s) flagged for attention after repeated crawl failures",
				snap.SourcesAttention,
			),
			Details: map[string]any{
				"sources_attention": snap.SourcesAttention,
				"sources_active":    snap.SourcesActive,
			},
			Timestamp: now,
		})
	}

	// Evaluation backlog.
	if a.cfg.ArticleBacklogLimit > 0 && snap.ArticlesPending > a.cfg.ArticleBacklogLimit {
		alerts = append(alerts, Alert{
			Type:     AlertArticleBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d article(s) pending evaluation exceeds limit %d",
				snap.ArticlesPending, a.cfg.ArticleBacklogLimit,
			),
			Details: map[string]any{
				"articles_pending": snap.ArticlesPending,
				"limit":            a.cfg.ArticleBacklogLimit,
			},
			Timestamp: now,
		})
	}

	// Review queue backlog.
	if a.cfg.ReviewBacklogLimit > 0 && snap.ReviewsPending > a.cfg.ReviewBacklogLimit {
		alerts = append(alerts, Alert{
			Type:     AlertReviewBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d review(s) awaiting a decision exceeds limit %d",
				snap.ReviewsPending, a.cfg.ReviewBacklogLimit,
			),
			Details: map[string]any{
				"reviews_pending": snap.ReviewsPending,
				"limit":           a.cfg.ReviewBacklogLimit,
			},
			Timestamp: now,
		})
	}

	// Crawl failure rate over the lookback window.
	if snap.CrawlTotal >= 5 && snap.CrawlFailRate > a.cfg.CrawlFailureRate {
		alerts = append(alerts, Alert{
			Type:     AlertCrawlFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Crawl failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d runs in last %dh)",
				snap.CrawlFailRate*100, a.cfg.CrawlFailureRate*100,
				snap.CrawlFailed, snap.CrawlTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"fail_rate": snap.CrawlFailRate,
				"threshold": a.cfg.CrawlFailureRate,
				"failed":    snap.CrawlFailed,
				"total":     snap.CrawlTotal,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
