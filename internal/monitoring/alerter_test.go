package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/foresight/internal/config"
)

func monitorCfg() config.MonitoringConfig {
	return config.MonitoringConfig{
		ArticleBacklogLimit:    500,
		ReviewBacklogLimit:     50,
		CrawlFailureRate:       0.5,
		AlertOnSourceAttention: true,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(monitorCfg())

	snap := &MetricsSnapshot{
		SourcesActive:   10,
		ArticlesPending: 20,
		ReviewsPending:  5,
		CrawlTotal:      100,
		CrawlFailed:     2,
		CrawlFailRate:   0.02,
		LookbackHours:   24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_SourceAttention(t *testing.T) {
	a := NewAlerter(monitorCfg())

	snap := &MetricsSnapshot{SourcesActive: 10, SourcesAttention: 2, LookbackHours: 24}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertSourceAttention, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "2 source(s)")
}

func TestAlerter_Evaluate_AttentionDisabled(t *testing.T) {
	cfg := monitorCfg()
	cfg.AlertOnSourceAttention = false
	a := NewAlerter(cfg)

	alerts := a.Evaluate(&MetricsSnapshot{SourcesAttention: 2})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_Backlogs(t *testing.T) {
	a := NewAlerter(monitorCfg())

	snap := &MetricsSnapshot{
		ArticlesPending: 900,
		ReviewsPending:  80,
		LookbackHours:   24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertArticleBacklog, alerts[0].Type)
	assert.Equal(t, AlertReviewBacklog, alerts[1].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
}

func TestAlerter_Evaluate_CrawlFailureRate(t *testing.T) {
	a := NewAlerter(monitorCfg())

	snap := &MetricsSnapshot{
		CrawlTotal:    20,
		CrawlFailed:   12,
		CrawlFailRate: 0.6,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCrawlFailureRate, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "60.0%")
}

func TestAlerter_Evaluate_CrawlFailureRateNeedsVolume(t *testing.T) {
	a := NewAlerter(monitorCfg())

	// Too few runs to judge the rate.
	snap := &MetricsSnapshot{CrawlTotal: 2, CrawlFailed: 2, CrawlFailRate: 1.0}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	var lastType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		lastType = string(alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := monitorCfg()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertSourceAttention, Severity: "high", Message: "m"},
	})
	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(1), received.Load())
	assert.Equal(t, string(AlertSourceAttention), lastType)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := monitorCfg()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertReviewBacklog}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_NoWebhookConfigured(t *testing.T) {
	a := NewAlerter(monitorCfg())

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertReviewBacklog}})
	assert.Equal(t, 0, sent)
}
