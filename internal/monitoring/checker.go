package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/foresight/internal/config"
)

// Checker drives the alert cycle: collect a pipeline snapshot on a fixed
// cadence, evaluate it against the configured thresholds, and push
// whatever fired to the webhook.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
}

// NewChecker creates a background alert checker. Non-positive interval
// or lookback fall back to 5 minutes and 24 hours.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	lookback := cfg.LookbackWindowHours
	if lookback <= 0 {
		lookback = 24
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  lookback,
	}
}

// Run blocks until ctx is cancelled. The first cycle fires immediately
// so a fresh deployment surfaces an existing backlog without waiting a
// full interval.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("alert checker running",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	c.check(ctx, log)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		log.Error("alert check: snapshot failed", zap.Error(err))
		return
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		return
	}

	types := make([]string, len(alerts))
	for i, a := range alerts {
		types[i] = string(a.Type)
	}
	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("alert check: alerts fired",
		zap.Strings("types", types),
		zap.Int("sent", sent),
	)
}
