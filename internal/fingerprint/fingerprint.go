// Package fingerprint computes stable content identities for incoming
// items: a normalized-text hash, a title signature, and a set of salient
// phrases. Everything here is pure so reprocessing the same input always
// yields the same identity, which the dedup engine relies on.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// DefaultPhraseCount is how many salient phrases Compute extracts.
const DefaultPhraseCount = 10

// Fingerprint is the stable identity of one content item.
type Fingerprint struct {
	NormalizedTitle string
	ContentHash     string
	TitleSignature  string
	SalientPhrases  []string
}

var folder = cases.Fold()

// Normalize lowercases, NFKC-normalizes, and collapses whitespace and
// punctuation runs into single spaces.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = folder.String(s)

	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// Compute fingerprints a title/body pair.
func Compute(title, body string) Fingerprint {
	normTitle := Normalize(title)
	normBody := Normalize(body)

	sum := sha256.Sum256([]byte(normTitle + "\n" + normBody))
	titleSum := sha256.Sum256([]byte(titleTokenSet(normTitle)))

	return Fingerprint{
		NormalizedTitle: normTitle,
		ContentHash:     hex.EncodeToString(sum[:]),
		TitleSignature:  hex.EncodeToString(titleSum[:8]),
		SalientPhrases:  SalientPhrases(normTitle+" "+normBody, DefaultPhraseCount),
	}
}

// titleTokenSet renders the title's unique tokens in sorted order so the
// signature is insensitive to word order.
func titleTokenSet(normTitle string) string {
	tokens := Tokens(normTitle)
	uniq := make([]string, 0, len(tokens))
	seen := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			uniq = append(uniq, t)
		}
	}
	sort.Strings(uniq)
	return strings.Join(uniq, " ")
}

// Tokens splits normalized text into word tokens.
func Tokens(normalized string) []string {
	return strings.Fields(normalized)
}

// TokenSet returns the unique tokens of normalized text, stopwords removed.
func TokenSet(normalized string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range Tokens(normalized) {
		if !stopwords[t] {
			set[t] = true
		}
	}
	return set
}

// SalientPhrases extracts the top-n most distinctive bigrams from
// normalized text. Phrases are ranked by frequency, rarity of their words
// (stopword-free), and first occurrence for determinism; the returned
// slice is sorted lexically so the set is order-independent.
func SalientPhrases(normalized string, n int) []string {
	tokens := Tokens(normalized)
	type stat struct {
		count int
		first int
	}
	counts := make(map[string]*stat)
	for i := 0; i+1 < len(tokens); i++ {
		a, b := tokens[i], tokens[i+1]
		if stopwords[a] || stopwords[b] || len(a) < 3 || len(b) < 3 {
			continue
		}
		p := a + " " + b
		if s, ok := counts[p]; ok {
			s.count++
		} else {
			counts[p] = &stat{count: 1, first: i}
		}
	}

	phrases := make([]string, 0, len(counts))
	for p := range counts {
		phrases = append(phrases, p)
	}
	sort.Slice(phrases, func(i, j int) bool {
		si, sj := counts[phrases[i]], counts[phrases[j]]
		if si.count != sj.count {
			return si.count > sj.count
		}
		if si.first != sj.first {
			return si.first < sj.first
		}
		return phrases[i] < phrases[j]
	})
	if len(phrases) > n {
		phrases = phrases[:n]
	}
	sort.Strings(phrases)
	return phrases
}

// Jaccard computes token-set similarity between two normalized strings.
func Jaccard(a, b string) float64 {
	sa, sb := TokenSet(a), TokenSet(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 1
	}
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for t := range sa {
		if sb[t] {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

// PhraseOverlap returns the fraction of candidate phrases present in the
// existing set.
func PhraseOverlap(candidate, existing []string) float64 {
	if len(candidate) == 0 {
		return 0
	}
	set := make(map[string]bool, len(existing))
	for _, p := range existing {
		set[p] = true
	}
	hits := 0
	for _, p := range candidate {
		if set[p] {
			hits++
		}
	}
	return float64(hits) / float64(len(candidate))
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true,
	"has": true, "have": true, "he": true, "in": true, "is": true, "it": true,
	"its": true, "of": true, "on": true, "or": true, "said": true,
	"say": true, "says": true, "she": true, "that": true, "the": true,
	"their": true, "this": true, "to": true, "was": true, "were": true,
	"will": true, "with": true,
}
