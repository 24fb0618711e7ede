package fetcher

import (
	"strings"

	"github.com/sells-group/foresight/internal/model"
)

// ApplyFilter keeps the items that pass the source's keyword filter.
// Include keywords require at least one match in title or body; exclude
// keywords drop the item on any match. Matching is case-insensitive.
func ApplyFilter(items []Item, f model.FilterConfig) []Item {
	if len(f.KeywordsInclude) == 0 && len(f.KeywordsExclude) == 0 {
		return items
	}

	kept := make([]Item, 0, len(items))
	for _, item := range items {
		text := strings.ToLower(item.Title + " " + item.Body)
		if matchesAny(text, f.KeywordsExclude) {
			continue
		}
		if len(f.KeywordsInclude) > 0 && !matchesAny(text, f.KeywordsInclude) {
			continue
		}
		kept = append(kept, item)
	}
	return kept
}

func matchesAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
