// Package fetcher retrieves content items from registered sources. RSS
// and Atom sources go through gofeed; plain web sources are scraped with
// goquery. All network traffic runs through one rate-limited HTTP client.
package fetcher

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/foresight/internal/model"
)

// Item is one raw content item pulled from a source, before
// fingerprinting and dedup.
type Item struct {
	Title       string
	Body        string
	URL         string
	Author      string
	PublishedAt *time.Time
}

// Fetcher pulls the current items from one source.
type Fetcher interface {
	Fetch(ctx context.Context, src model.Source) ([]Item, error)
}

// Dispatcher routes a source to the fetcher for its type.
type Dispatcher struct {
	rss *RSSFetcher
	web *WebFetcher
}

// NewDispatcher builds a Dispatcher over a shared HTTP client.
func NewDispatcher(client *HTTPClient, maxItems int) *Dispatcher {
	return &Dispatcher{
		rss: NewRSSFetcher(client, maxItems),
		web: NewWebFetcher(client),
	}
}

// Fetch pulls items from src using the fetcher for its type.
func (d *Dispatcher) Fetch(ctx context.Context, src model.Source) ([]Item, error) {
	switch src.Type {
	case model.SourceTypeRSS, model.SourceTypeFeed:
		return d.rss.Fetch(ctx, src)
	case model.SourceTypeWeb:
		return d.web.Fetch(ctx, src)
	default:
		return nil, eris.Errorf("fetcher: unsupported source type %q", src.Type)
	}
}
