package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/foresight/internal/model"
)

func seedCatchUpWorld(t *testing.T, f *fixture, watermark time.Time) (*model.Source, *model.Target, *model.Subscription) {
	t.Helper()
	ctx := context.Background()

	src := f.addSource(t, model.FilterConfig{})
	u, err := f.store.CreateUniverse(ctx, model.Universe{
		TenantID: "t1", Name: "tech", Domain: model.DomainStocks, Risk: model.RiskBalanced,
	})
	require.NoError(t, err)
	target, _, err := f.store.CreateTarget(ctx, model.Target{
		UniverseID: u.ID, Symbol: "ACME", Name: "Acme Corp",
	})
	require.NoError(t, err)
	sub, err := f.store.UpsertSubscription(ctx, model.Subscription{
		SourceID: src.ID, TargetID: target.ID, LastProcessedAt: watermark,
	})
	require.NoError(t, err)
	_, err = f.store.CreateAnalyst(ctx, model.Analyst{
		TenantID: "t1", Name: "stub", Scope: model.ScopeGlobal, Weight: 1, Tier: 1, Enabled: true,
	})
	require.NoError(t, err)
	return src, target, sub
}

func TestCatchUp_ReplaysBacklogAndAdvancesWatermark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	src, target, _ := seedCatchUpWorld(t, f, base)

	titles := []string{
		"Acme beats earnings estimates",
		"Acme expands into new markets",
		"Acme raises full year guidance",
	}
	for i, title := range titles {
		_, err := f.store.CreateArticle(ctx, model.Article{
			TenantID: "t1", SourceID: src.ID, Title: title,
			ContentHash: fmt.Sprintf("cu%d", i),
			FirstSeenAt: base.Add(time.Duration(i+1) * time.Minute),
		})
		require.NoError(t, err)
	}

	// Batch smaller than the backlog forces a second read from the store.
	summary, err := f.p.CatchUp(ctx, src.ID, target.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Evaluated)
	assert.WithinDuration(t, base.Add(3*time.Minute), summary.Watermark, time.Second)

	got, err := f.store.GetSubscription(ctx, src.ID, target.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, base.Add(3*time.Minute), got.LastProcessedAt, time.Second)

	// A second pass finds nothing left behind the watermark.
	summary, err = f.p.CatchUp(ctx, src.ID, target.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Evaluated)
}

func TestCatchUp_FreshSubscriptionHasNoBacklog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src, target, sub := seedCatchUpWorld(t, f, time.Now().UTC())

	summary, err := f.p.CatchUp(ctx, src.ID, target.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Evaluated)
	assert.WithinDuration(t, sub.LastProcessedAt, summary.Watermark, time.Second)
}

func TestCatchUp_UnknownSubscriptionErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.p.CatchUp(context.Background(), "no-such-source", "no-such-target", 10)
	require.Error(t, err)
}
