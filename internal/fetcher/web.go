package fetcher

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/foresight/internal/model"
)

// WebFetcher scrapes a single web page into one item. Intended for
// sources that publish updates on a fixed page rather than a feed.
type WebFetcher struct {
	client *HTTPClient
}

// NewWebFetcher creates a WebFetcher.
func NewWebFetcher(client *HTTPClient) *WebFetcher {
	return &WebFetcher{client: client}
}

// Fetch downloads src.URL and extracts the page title and article text.
func (f *WebFetcher) Fetch(ctx context.Context, src model.Source) ([]Item, error) {
	body, err := f.client.Get(ctx, src.URL)
	if err != nil {
		return nil, eris.Wrapf(err, "web: fetch %s", src.URL)
	}
	defer body.Close() //nolint:errcheck

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, eris.Wrapf(err, "web: parse %s", src.URL)
	}

	title := extractTitle(doc)
	text := extractText(doc)
	if title == "" && text == "" {
		return nil, nil
	}

	return []Item{{Title: title, Body: text, URL: src.URL}}, nil
}

func extractTitle(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && og != "" {
		return strings.TrimSpace(og)
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// extractText prefers <article> content and falls back to all paragraphs.
func extractText(doc *goquery.Document) string {
	scope := doc.Find("article")
	if scope.Length() == 0 {
		scope = doc.Selection
	}

	var parts []string
	scope.Find("p").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "\n\n")
}
