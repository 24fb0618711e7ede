package fetcher

import (
	"context"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rotisserie/eris"

	"github.com/sells-group/foresight/internal/model"
)

// RSSFetcher pulls items from RSS and Atom feeds.
type RSSFetcher struct {
	client   *HTTPClient
	maxItems int
}

// NewRSSFetcher creates an RSSFetcher. maxItems caps items per fetch;
// zero means 100.
func NewRSSFetcher(client *HTTPClient, maxItems int) *RSSFetcher {
	if maxItems <= 0 {
		maxItems = 100
	}
	return &RSSFetcher{client: client, maxItems: maxItems}
}

// Fetch downloads and parses the feed at src.URL.
func (f *RSSFetcher) Fetch(ctx context.Context, src model.Source) ([]Item, error) {
	body, err := f.client.Get(ctx, src.URL)
	if err != nil {
		return nil, eris.Wrapf(err, "rss: fetch %s", src.URL)
	}
	defer body.Close() //nolint:errcheck

	feed, err := gofeed.NewParser().Parse(body)
	if err != nil {
		return nil, eris.Wrapf(err, "rss: parse %s", src.URL)
	}

	items := make([]Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if len(items) >= f.maxItems {
			break
		}
		items = append(items, convertEntry(entry))
	}
	return items, nil
}

func convertEntry(entry *gofeed.Item) Item {
	body := entry.Content
	if body == "" {
		body = entry.Description
	}

	author := ""
	if entry.Author != nil {
		author = entry.Author.Name
	}

	var published *time.Time
	if entry.PublishedParsed != nil {
		published = entry.PublishedParsed
	} else if entry.UpdatedParsed != nil {
		published = entry.UpdatedParsed
	}

	return Item{
		Title:       entry.Title,
		Body:        body,
		URL:         entry.Link,
		Author:      author,
		PublishedAt: published,
	}
}
