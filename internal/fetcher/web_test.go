package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/foresight/internal/model"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
  <title>Fallback Title</title>
  <meta property="og:title" content="Acme announces restructuring plan">
</head>
<body>
  <nav><p>Home | About</p></nav>
  <article>
    <p>Acme Corp announced a restructuring plan on Monday.</p>
    <p>The company expects the changes to reduce costs.</p>
  </article>
</body>
</html>`

func TestWebFetcher_ExtractsArticle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(samplePage)) //nolint:errcheck
	}))
	defer srv.Close()

	f := NewWebFetcher(testClient())
	items, err := f.Fetch(context.Background(), model.Source{URL: srv.URL, Type: model.SourceTypeWeb})
	require.NoError(t, err)
	require.Len(t, items, 1)

	assert.Equal(t, "Acme announces restructuring plan", items[0].Title)
	assert.Contains(t, items[0].Body, "restructuring plan on Monday")
	assert.Contains(t, items[0].Body, "reduce costs")
	// Nav text outside <article> is not picked up.
	assert.NotContains(t, items[0].Body, "Home | About")
	assert.Equal(t, srv.URL, items[0].URL)
}

func TestWebFetcher_TitleTagFallback(t *testing.T) {
	page := `<html><head><title>Plain Title</title></head><body><p>Text here.</p></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(page)) //nolint:errcheck
	}))
	defer srv.Close()

	f := NewWebFetcher(testClient())
	items, err := f.Fetch(context.Background(), model.Source{URL: srv.URL, Type: model.SourceTypeWeb})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Plain Title", items[0].Title)
	assert.Equal(t, "Text here.", items[0].Body)
}

func TestWebFetcher_EmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html><body></body></html>")) //nolint:errcheck
	}))
	defer srv.Close()

	f := NewWebFetcher(testClient())
	items, err := f.Fetch(context.Background(), model.Source{URL: srv.URL, Type: model.SourceTypeWeb})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestApplyFilter(t *testing.T) {
	items := []Item{
		{Title: "Acme beats estimates", Body: "earnings season"},
		{Title: "Sports roundup", Body: "local league results"},
		{Title: "Acme sponsored content", Body: "advertisement"},
	}

	kept := ApplyFilter(items, model.FilterConfig{
		KeywordsInclude: []string{"acme"},
		KeywordsExclude: []string{"advertisement"},
	})
	require.Len(t, kept, 1)
	assert.Equal(t, "Acme beats estimates", kept[0].Title)
}

func TestApplyFilter_NoKeywordsKeepsAll(t *testing.T) {
	items := []Item{{Title: "a"}, {Title: "b"}}
	assert.Len(t, ApplyFilter(items, model.FilterConfig{}), 2)
}

func TestApplyFilter_ExcludeOnly(t *testing.T) {
	items := []Item{
		{Title: "Keep this"},
		{Title: "Paid promotion inside"},
	}
	kept := ApplyFilter(items, model.FilterConfig{KeywordsExclude: []string{"paid promotion"}})
	require.Len(t, kept, 1)
	assert.Equal(t, "Keep this", kept[0].Title)
}
