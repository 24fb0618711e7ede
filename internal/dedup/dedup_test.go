package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/foresight/internal/fingerprint"
	"github.com/sells-group/foresight/internal/model"
)

type fakeStore struct {
	sourceHashes map[string]bool // sourceID+hash
	tenantHashes map[string]bool
	recent       []model.Article
	recentCalls  int
	lastLimit    int
}

func (f *fakeStore) ContentHashExists(_ context.Context, _, sourceID, hash string) (bool, error) {
	return f.sourceHashes[sourceID+"|"+hash], nil
}

func (f *fakeStore) ContentHashExistsInTenant(_ context.Context, _, hash string) (bool, error) {
	return f.tenantHashes[hash], nil
}

func (f *fakeStore) RecentArticles(_ context.Context, _ string, _ time.Time, limit int) ([]model.Article, error) {
	f.recentCalls++
	f.lastLimit = limit
	return f.recent, nil
}

func candidate(title, body string) Candidate {
	return Candidate{
		TenantID:    "t1",
		SourceID:    "s1",
		Fingerprint: fingerprint.Compute(title, body),
	}
}

func TestCheck_Layer1_ExactSameSource(t *testing.T) {
	c := candidate("Acme beats earnings", "body")
	fs := &fakeStore{
		sourceHashes: map[string]bool{"s1|" + c.Fingerprint.ContentHash: true},
	}
	eng := New(Config{}, fs)

	var counts model.DedupCounts
	res, err := eng.Check(context.Background(), c, &counts)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, LayerExactSameSource, res.Layer)
	assert.Equal(t, 1, counts.ExactSameSource)
	// Short-circuited before the bounded fetch.
	assert.Zero(t, fs.recentCalls)
}

func TestCheck_Layer2_CrossSource(t *testing.T) {
	c := candidate("Acme beats earnings", "body")
	fs := &fakeStore{
		tenantHashes: map[string]bool{c.Fingerprint.ContentHash: true},
	}
	eng := New(Config{}, fs)

	var counts model.DedupCounts
	res, err := eng.Check(context.Background(), c, &counts)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, LayerCrossSource, res.Layer)
	assert.Equal(t, 1, counts.CrossSource)
}

func TestCheck_Layer3_FuzzyTitle(t *testing.T) {
	existing := fingerprint.Compute("Acme Corp beats Q3 earnings estimates analysts surprised", "older body")
	fs := &fakeStore{
		recent: []model.Article{{
			ID:              "a1",
			NormalizedTitle: existing.NormalizedTitle,
			SalientPhrases:  existing.SalientPhrases,
		}},
	}
	eng := New(Config{}, fs)

	c := candidate("Acme Corp beats Q3 earnings estimates, analysts surprised again", "fresh body text")
	var counts model.DedupCounts
	res, err := eng.Check(context.Background(), c, &counts)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, LayerFuzzyTitle, res.Layer)
	assert.Equal(t, "a1", res.MatchedID)
}

func TestCheck_Layer4_PhraseOverlap(t *testing.T) {
	shared := "acme corporation announced record quarterly revenue growth across cloud segments"
	existing := fingerprint.Compute("Brief note", shared)
	fs := &fakeStore{
		recent: []model.Article{{
			ID:              "a2",
			NormalizedTitle: existing.NormalizedTitle,
			SalientPhrases:  existing.SalientPhrases,
		}},
	}
	eng := New(Config{}, fs)

	c := candidate("Another angle", shared)
	var counts model.DedupCounts
	res, err := eng.Check(context.Background(), c, &counts)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, LayerPhraseOverlap, res.Layer)
	assert.Equal(t, 1, counts.PhraseOverlap)
}

func TestCheck_New(t *testing.T) {
	fs := &fakeStore{
		recent: []model.Article{{
			ID:              "a3",
			NormalizedTitle: fingerprint.Normalize("completely unrelated weather report"),
		}},
	}
	eng := New(Config{}, fs)

	var counts model.DedupCounts
	res, err := eng.Check(context.Background(), candidate("Acme beats earnings", "body"), &counts)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, LayerNone, res.Layer)
	assert.Equal(t, 1, counts.New)
	assert.Zero(t, counts.Total())
}

func TestCheck_BoundedCandidateFetch(t *testing.T) {
	fs := &fakeStore{}
	eng := New(Config{MaxCandidates: 25}, fs)

	_, err := eng.Check(context.Background(), candidate("title", "body"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, fs.recentCalls)
	assert.Equal(t, 25, fs.lastLimit)
}

func TestCheck_NilCountsSafe(t *testing.T) {
	c := candidate("Acme beats earnings", "body")
	fs := &fakeStore{
		sourceHashes: map[string]bool{"s1|" + c.Fingerprint.ContentHash: true},
	}
	eng := New(Config{}, fs)

	res, err := eng.Check(context.Background(), c, nil)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
}
