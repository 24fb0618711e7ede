package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_CaseAndWhitespace(t *testing.T) {
	assert.Equal(t, "acme beats earnings", Normalize("  Acme   BEATS\t\nEarnings!! "))
}

func TestNormalize_PunctuationCollapses(t *testing.T) {
	assert.Equal(t, "q3 profit up 12", Normalize("Q3 profit: up 12%"))
}

func TestCompute_Deterministic(t *testing.T) {
	a := Compute("Acme beats earnings", "Acme Corp reported strong quarterly earnings today.")
	b := Compute("Acme beats earnings", "Acme Corp reported strong quarterly earnings today.")
	assert.Equal(t, a.ContentHash, b.ContentHash)
	assert.Equal(t, a.TitleSignature, b.TitleSignature)
	assert.Equal(t, a.SalientPhrases, b.SalientPhrases)
}

func TestCompute_BodyChangesHashNotTitleSignature(t *testing.T) {
	a := Compute("Acme beats earnings", "first body")
	b := Compute("Acme beats earnings", "second body entirely")
	assert.NotEqual(t, a.ContentHash, b.ContentHash)
	assert.Equal(t, a.TitleSignature, b.TitleSignature)
}

func TestTitleSignature_WordOrderIndependent(t *testing.T) {
	a := Compute("Acme beats earnings", "")
	b := Compute("Earnings beats Acme", "")
	assert.Equal(t, a.TitleSignature, b.TitleSignature)
}

func TestSalientPhrases_SkipsStopwords(t *testing.T) {
	phrases := SalientPhrases(Normalize("the quick brown fox and the lazy dog"), 10)
	for _, p := range phrases {
		assert.NotContains(t, p, "the ")
		assert.NotContains(t, p, " and")
	}
	assert.Contains(t, phrases, "quick brown")
}

func TestSalientPhrases_CapAndStability(t *testing.T) {
	text := Normalize("alpha bravo charlie delta echo foxtrot golf hotel india juliet kilo lima")
	phrases := SalientPhrases(text, 5)
	require.Len(t, phrases, 5)
	// Returned sorted for set semantics.
	for i := 1; i < len(phrases); i++ {
		assert.Less(t, phrases[i-1], phrases[i])
	}
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "acme beats earnings estimate", "acme beats earnings estimate", 1},
		{"disjoint", "acme beats earnings", "weather sunny tomorrow", 0},
		{"both empty", "", "", 1},
		{"one empty", "acme", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Jaccard(Normalize(tt.a), Normalize(tt.b)), 0.001)
		})
	}
}

func TestJaccard_NearDuplicateTitles(t *testing.T) {
	a := Normalize("Acme Corp beats Q3 earnings estimates analysts surprised")
	b := Normalize("Acme Corp beats Q3 earnings estimates, analysts surprised again")
	assert.Greater(t, Jaccard(a, b), 0.85)
}

func TestPhraseOverlap(t *testing.T) {
	cand := []string{"acme corp", "beats earnings", "quarterly results"}
	assert.InDelta(t, 2.0/3.0, PhraseOverlap(cand, []string{"acme corp", "beats earnings"}), 0.001)
	assert.Equal(t, 0.0, PhraseOverlap(nil, cand))
	assert.Equal(t, 1.0, PhraseOverlap(cand, cand))
}
